// ABOUTME: Websocket feed broadcasting resolved triggers to subscribers
// ABOUTME: Serves /feed plus the metrics handler on one HTTP listener
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/TriggerSync-Protocol/triggersync-go/internal/version"
	"github.com/TriggerSync-Protocol/triggersync-go/pkg/protocol"
	"github.com/TriggerSync-Protocol/triggersync-go/pkg/triggersync"
)

// Hello is the first message every subscriber receives.
type Hello struct {
	Type            string `json:"type"`
	SessionID       string `json:"session_id"`
	Product         string `json:"product"`
	Manufacturer    string `json:"manufacturer"`
	SoftwareVersion string `json:"software_version"`
	Protocol        string `json:"protocol"`
	ProtocolVersion int    `json:"protocol_version"`
}

// TriggerRecord is broadcast once per resolved trigger.
type TriggerRecord struct {
	Type          string `json:"type"`
	Sequence      uint64 `json:"sequence"`
	Tick          uint64 `json:"tick"`
	TimeUTC       string `json:"time_utc"`
	EpochNanosUTC int64  `json:"epoch_nanos_utc"`
}

// Status is broadcast periodically with a summary of the link and the
// clock model.
type Status struct {
	Type              string  `json:"type"`
	State             string  `json:"state"`
	ClockReady        bool    `json:"clock_ready"`
	WindowSamples     int     `json:"window_samples"`
	GainMicrosPerTick float64 `json:"gain_micros_per_tick"`
	PingsSent         uint64  `json:"pings_sent"`
	PongsReceived     uint64  `json:"pongs_received"`
	TriggersResolved  uint64  `json:"triggers_resolved"`
	TriggersLost      uint64  `json:"triggers_lost"`
}

// Config configures the feed server.
type Config struct {
	// Addr is the HTTP listen address (default :8475).
	Addr string

	// SessionID identifies this capture session in the hello message.
	SessionID string

	// Metrics, when set, is mounted at /metrics on the same listener.
	Metrics http.Handler
}

// Server broadcasts resolved triggers and status updates to websocket
// subscribers. It implements triggersync.TriggerSink.
type Server struct {
	config   Config
	upgrader websocket.Upgrader

	httpServer *http.Server
	mux        *http.ServeMux

	clients   map[string]*client
	clientsMu sync.RWMutex

	addr   string
	addrMu sync.RWMutex

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type client struct {
	id       string
	conn     *websocket.Conn
	sendChan chan []byte
}

// NewServer creates a feed server. Start must be called to serve.
func NewServer(config Config) *Server {
	if config.Addr == "" {
		config.Addr = ":8475"
	}
	if config.SessionID == "" {
		config.SessionID = uuid.New().String()
	}

	return &Server{
		config: config,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Local network tooling connects from arbitrary origins.
				return true
			},
		},
		mux:      http.NewServeMux(),
		clients:  make(map[string]*client),
		stopChan: make(chan struct{}),
	}
}

// Start listens and serves until Stop is called or the listener fails.
func (s *Server) Start() error {
	s.mux.HandleFunc("/feed", s.handleFeed)
	if s.config.Metrics != nil {
		s.mux.Handle("/metrics", s.config.Metrics)
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("feed listen: %w", err)
	}

	s.addrMu.Lock()
	s.addr = ln.Addr().String()
	s.addrMu.Unlock()
	log.Printf("Trigger feed listening on %s", ln.Addr())

	s.httpServer = &http.Server{Handler: s.mux}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-s.stopChan:
		log.Printf("Trigger feed shutting down")
	case err := <-errChan:
		log.Printf("Trigger feed server error: %v", err)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("Trigger feed shutdown error: %v", err)
	}

	// Shutdown does not touch upgraded connections; close them so the
	// per-client goroutines finish.
	s.clientsMu.Lock()
	for _, c := range s.clients {
		c.conn.Close()
	}
	s.clientsMu.Unlock()

	s.wg.Wait()
	return nil
}

// Stop makes Start return. Safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

// Addr returns the bound listen address, empty until Start has bound it.
func (s *Server) Addr() string {
	s.addrMu.RLock()
	defer s.addrMu.RUnlock()
	return s.addr
}

// ClientCount returns the number of connected subscribers.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// HandleTrigger broadcasts one resolved trigger to all subscribers.
func (s *Server) HandleTrigger(ev triggersync.Event) error {
	return s.broadcast(TriggerRecord{
		Type:          "trigger",
		Sequence:      ev.Sequence,
		Tick:          ev.Tick,
		TimeUTC:       ev.Time.UTC().Format(time.RFC3339Nano),
		EpochNanosUTC: ev.Time.UnixNano(),
	})
}

// PublishStatus broadcasts a link and clock summary to all subscribers.
func (s *Server) PublishStatus(st triggersync.HostStats) {
	s.broadcast(Status{
		Type:              "status",
		State:             st.State.String(),
		ClockReady:        st.Model.Ready,
		WindowSamples:     st.Model.Samples,
		GainMicrosPerTick: st.Model.Gain,
		PingsSent:         st.PingsSent,
		PongsReceived:     st.PongsReceived,
		TriggersResolved:  st.TriggersResolved,
		TriggersLost:      st.TriggersLost,
	})
}

func (s *Server) broadcast(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal feed message: %w", err)
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for _, c := range s.clients {
		select {
		case c.sendChan <- data:
		default:
			// A stalled subscriber must not hold up capture.
		}
	}
	return nil
}

// handleFeed upgrades a subscriber connection and serves it until it
// drops.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Feed upgrade error: %v", err)
		return
	}
	defer conn.Close()

	c := &client{
		id:       uuid.New().String(),
		conn:     conn,
		sendChan: make(chan []byte, 16),
	}

	hello, err := json.Marshal(Hello{
		Type:            "hello",
		SessionID:       s.config.SessionID,
		Product:         version.Product,
		Manufacturer:    version.Manufacturer,
		SoftwareVersion: version.Version,
		Protocol:        protocol.ProtocolName,
		ProtocolVersion: protocol.ProtocolVersion,
	})
	if err != nil {
		log.Printf("Feed hello marshal error: %v", err)
		return
	}
	// Queue the hello before the client can receive broadcasts so it is
	// always the first message on the wire.
	c.sendChan <- hello

	s.clientsMu.Lock()
	s.clients[c.id] = c
	s.clientsMu.Unlock()
	log.Printf("Feed subscriber connected from %s", r.RemoteAddr)

	defer func() {
		s.removeClient(c)
		log.Printf("Feed subscriber disconnected: %s", r.RemoteAddr)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.clientWriter(c)
	}()

	// The feed is one-way; reads only surface disconnects and control
	// frames.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) clientWriter(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	const writeDeadline = 10 * time.Second

	for {
		select {
		case data, ok := <-c.sendChan:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if _, ok := s.clients[c.id]; !ok {
		return
	}
	delete(s.clients, c.id)
	close(c.sendChan)
}
