// ABOUTME: Main bridge application orchestration
// ABOUTME: Coordinates transport, sync engine, outputs, and UI
package bridge

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/TriggerSync-Protocol/triggersync-go/internal/config"
	"github.com/TriggerSync-Protocol/triggersync-go/internal/csvsink"
	"github.com/TriggerSync-Protocol/triggersync-go/internal/discovery"
	"github.com/TriggerSync-Protocol/triggersync-go/internal/feed"
	"github.com/TriggerSync-Protocol/triggersync-go/internal/metrics"
	"github.com/TriggerSync-Protocol/triggersync-go/internal/transport"
	"github.com/TriggerSync-Protocol/triggersync-go/internal/ui"
	"github.com/TriggerSync-Protocol/triggersync-go/pkg/clockmodel"
	"github.com/TriggerSync-Protocol/triggersync-go/pkg/triggersync"
)

// Bridge represents the main bridge application
type Bridge struct {
	config    *config.Config
	sessionID string

	conn      io.ReadWriteCloser
	host      *triggersync.Host
	sink      *csvsink.Sink
	feed      *feed.Server
	discovery *discovery.Manager
	publisher *metrics.Publisher
	tuiProg   *tea.Program

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new bridge
func New(cfg *config.Config) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())

	return &Bridge{
		config:    cfg,
		sessionID: uuid.New().String(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SessionID returns the capture session identifier
func (b *Bridge) SessionID() string {
	return b.sessionID
}

// Start starts the bridge and blocks until it stops or the sync
// engine fails
func (b *Bridge) Start() error {
	if !b.config.UI.Disable {
		tuiProg, err := ui.Run()
		if err != nil {
			return fmt.Errorf("failed to start TUI: %w", err)
		}
		b.tuiProg = tuiProg

		go func() {
			if _, err := b.tuiProg.Run(); err != nil {
				log.Printf("TUI error: %v", err)
			}
			// Quitting the TUI quits the bridge.
			b.cancel()
		}()
	}

	conn, err := transport.Open(b.config.Serial.Port, b.config.Serial.Baud)
	if err != nil {
		return fmt.Errorf("failed to open device transport: %w", err)
	}
	b.conn = conn

	sinks := make([]triggersync.TriggerSink, 0, 2)

	if !b.config.Output.Disable {
		sink, err := csvsink.New(b.config.Output.Dir)
		if err != nil {
			return fmt.Errorf("failed to open trigger log: %w", err)
		}
		b.sink = sink
		sinks = append(sinks, sink)
	}

	// Start blocks until the feed stops, so it gets its own goroutine
	// and reports failures through feedErr.
	feedErr := make(chan error, 1)
	if !b.config.Feed.Disable {
		b.publisher = metrics.NewPublisher()

		b.feed = feed.NewServer(feed.Config{
			Addr:      b.config.Feed.Addr,
			SessionID: b.sessionID,
			Metrics:   metrics.Handler(),
		})
		go func() { feedErr <- b.feed.Start() }()
		sinks = append(sinks, b.feed)

		if !b.config.MDNS.Disable {
			b.startDiscovery()
		}
	}

	hostCfg := triggersync.HostConfig{
		Clock: clockmodel.Config{
			MaxRTT:     config.Duration(b.config.Sync.MaxRTT, 0),
			WindowSize: b.config.Sync.Window,
			MinSamples: b.config.Sync.MinSamples,
		},
		PingInterval:     config.Duration(b.config.Sync.PingInterval, 0),
		LivenessTimeout:  config.Duration(b.config.Sync.LivenessTimeout, 0),
		HandshakeTimeout: config.Duration(b.config.Sync.HandshakeTimeout, 0),
	}
	if len(sinks) > 0 {
		hostCfg.Sink = multiSink(sinks)
	}

	b.host = triggersync.NewHost(conn, hostCfg)

	go b.statusLoop()

	b.pushStatus()

	runErr := make(chan error, 1)
	go func() { runErr <- b.host.Run(b.ctx) }()

	select {
	case err := <-runErr:
		if err != nil && b.ctx.Err() == nil {
			return fmt.Errorf("sync engine: %w", err)
		}
		return nil

	case err := <-feedErr:
		if err != nil && b.ctx.Err() == nil {
			return fmt.Errorf("trigger feed: %w", err)
		}
		return nil

	case <-b.ctx.Done():
		return nil
	}
}

// startDiscovery advertises the feed over mDNS
func (b *Bridge) startDiscovery() {
	// The configured address carries the port; the listener may not
	// have bound yet when advertisement starts.
	port := feedPort(b.feed.Addr())
	if port == 0 {
		port = feedPort(b.config.Feed.Addr)
	}
	if port == 0 {
		log.Printf("Skipping mDNS advertisement: feed port unknown")
		return
	}

	b.discovery = discovery.NewManager(discovery.Config{
		InstanceName: b.config.MDNS.Instance,
		Port:         port,
		SessionID:    b.sessionID,
	})

	if err := b.discovery.Advertise(); err != nil {
		log.Printf("mDNS advertisement failed: %v", err)
	}
}

// statusLoop publishes engine statistics once a second
func (b *Bridge) statusLoop() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.pushStatus()

		case <-b.ctx.Done():
			return
		}
	}
}

// pushStatus fans one stats snapshot out to metrics, the feed, and the UI
func (b *Bridge) pushStatus() {
	st := b.host.Stats()

	if b.publisher != nil {
		b.publisher.Publish(st)
	}

	if b.feed != nil {
		b.feed.PublishStatus(st)
	}

	if b.tuiProg != nil {
		msg := ui.StatusMsg{
			Device:    b.config.Serial.Port,
			SessionID: b.sessionID,
			Stats:     &st,
		}
		if b.feed != nil {
			msg.FeedAddr = b.feed.Addr()
			msg.Subscribers = b.feed.ClientCount()
		}
		if b.sink != nil {
			msg.OutputPath = b.sink.Path()
		}
		b.tuiProg.Send(msg)
	}
}

// Stop stops the bridge
func (b *Bridge) Stop() {
	b.cancel()

	if b.conn != nil {
		b.conn.Close()
	}

	if b.discovery != nil {
		b.discovery.Stop()
	}

	if b.feed != nil {
		b.feed.Stop()
	}

	if b.sink != nil {
		if err := b.sink.Close(); err != nil {
			log.Printf("Failed to close trigger log: %v", err)
		}
	}

	if b.tuiProg != nil {
		b.tuiProg.Quit()
	}
}

// multiSink fans resolved triggers out to every configured destination.
// A sink failure is logged rather than propagated so one destination
// cannot stall capture for the others.
type multiSink []triggersync.TriggerSink

func (m multiSink) HandleTrigger(ev triggersync.Event) error {
	for _, s := range m {
		if err := s.HandleTrigger(ev); err != nil {
			log.Printf("Trigger sink error: %v", err)
		}
	}
	return nil
}

// feedPort extracts the numeric port from a listener address
func feedPort(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}

	return port
}
