// ABOUTME: Host-side sync engine driving the TriggerSync protocol
// ABOUTME: Handshake, ping cadence, clock model feeding, and trigger resolution
package triggersync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/TriggerSync-Protocol/triggersync-go/pkg/clockmodel"
	"github.com/TriggerSync-Protocol/triggersync-go/pkg/protocol"
)

var (
	// ErrVersionMismatch is returned by Host.Run when the device
	// identifies as a different protocol or revision.
	ErrVersionMismatch = errors.New("device protocol version mismatch")

	// ErrHandshakeTimeout is returned by Host.Run when the device never
	// answers the version request.
	ErrHandshakeTimeout = errors.New("device version handshake timed out")
)

// State is the host's position in the sync protocol.
type State int

const (
	// StateAwaitingVersion means the version request is out and the
	// device has not identified itself yet.
	StateAwaitingVersion State = iota

	// StateSynchronizing means the handshake succeeded and the ping
	// cadence is running.
	StateSynchronizing
)

// String returns a short operator-facing label.
func (s State) String() string {
	switch s {
	case StateAwaitingVersion:
		return "awaiting version"
	case StateSynchronizing:
		return "synchronizing"
	default:
		return "unknown"
	}
}

// Event is one trigger resolved to host UTC.
type Event struct {
	// Tick is the device counter value captured at the button edge.
	Tick uint64

	// Time is the resolved host UTC instant of the edge.
	Time time.Time

	// Sequence counts resolved triggers this session, starting at 1.
	Sequence uint64
}

// TriggerSink receives resolved triggers. Implementations run on the
// host's loop goroutine and should return quickly.
type TriggerSink interface {
	HandleTrigger(Event) error
}

// HostConfig holds host engine configuration. Zero durations fall back
// to the defaults noted on each field.
type HostConfig struct {
	// Clock tunes the clock model (see clockmodel.DefaultConfig).
	Clock clockmodel.Config

	// PingInterval is the cadence of clock sampling pings (default 1s).
	PingInterval time.Duration

	// LivenessTimeout is how long the host tolerates silence from the
	// device before warning (default 5s).
	LivenessTimeout time.Duration

	// HandshakeTimeout bounds the wait for the version response
	// (default 5s).
	HandshakeTimeout time.Duration

	// Sink receives resolved triggers. Optional; resolved triggers are
	// always logged.
	Sink TriggerSink
}

func (c HostConfig) withDefaults() HostConfig {
	if c.PingInterval <= 0 {
		c.PingInterval = time.Second
	}
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = 5 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	return c
}

// HostStats is a snapshot of the host engine for operator surfaces.
type HostStats struct {
	State            State
	Model            clockmodel.Stats
	PingsSent        uint64
	PongsReceived    uint64
	TriggersResolved uint64
	TriggersLost     uint64
	DecodeErrors     uint64
	FramesDropped    int
	LastPong         time.Time
	LastTrigger      Event
}

// inbound pairs a decoded message with its arrival time, stamped in the
// reader before any queueing so queue latency cannot skew RTT.
type inbound struct {
	msg protocol.Message
	at  time.Time
}

// Host runs the synchronization protocol against one device over a byte
// stream transport. Create with NewHost and drive with Run; the clock
// model is only ever touched by Run's goroutine.
type Host struct {
	cfg   HostConfig
	rw    io.ReadWriter
	enc   *protocol.Encoder
	model *clockmodel.Model

	// Run-loop state, owned by the Run goroutine.
	state       State
	pingPending bool
	lastPing    time.Time
	lastPong    time.Time

	mu    sync.Mutex
	stats HostStats
}

// NewHost creates a host engine speaking over rw. Closing the transport
// is the caller's job and is what unblocks Run's reader on shutdown.
func NewHost(rw io.ReadWriter, cfg HostConfig) *Host {
	cfg = cfg.withDefaults()
	return &Host{
		cfg:   cfg,
		rw:    rw,
		enc:   protocol.NewEncoder(rw),
		model: clockmodel.New(cfg.Clock),
	}
}

// Run drives the protocol until the context is cancelled or a fatal
// error occurs: transport failure, handshake timeout, or a version
// mismatch. Returns nil on cancellation.
func (h *Host) Run(ctx context.Context) error {
	frames := make(chan inbound, 32)
	readErr := make(chan error, 1)
	go h.readLoop(ctx, frames, readErr)

	if err := h.enc.Encode(protocol.VersionRequest{}); err != nil {
		return fmt.Errorf("send version request: %w", err)
	}

	handshake := time.NewTimer(h.cfg.HandshakeTimeout)
	defer handshake.Stop()

	pinger := time.NewTicker(h.cfg.PingInterval)
	defer pinger.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-readErr:
			return fmt.Errorf("transport read: %w", err)

		case <-handshake.C:
			if h.state == StateAwaitingVersion {
				return fmt.Errorf("%w after %s", ErrHandshakeTimeout, h.cfg.HandshakeTimeout)
			}

		case <-pinger.C:
			if h.state != StateSynchronizing {
				continue
			}
			if silence := time.Since(h.lastPong); silence > h.cfg.LivenessTimeout {
				log.Printf("No communication with device in %d seconds", int(silence.Seconds()))
			}
			h.lastPing = time.Now()
			if err := h.enc.Encode(protocol.Ping{}); err != nil {
				return fmt.Errorf("send ping: %w", err)
			}
			h.pingPending = true
			h.bumpStats(func(s *HostStats) { s.PingsSent++ })

		case in := <-frames:
			if err := h.handleMessage(in, handshake); err != nil {
				return err
			}
		}
	}
}

// handleMessage processes one inbound message. A non-nil return is
// fatal for the session.
func (h *Host) handleMessage(in inbound, handshake *time.Timer) error {
	switch m := in.msg.(type) {
	case protocol.Version:
		if h.state == StateSynchronizing {
			log.Printf("Ignoring duplicate version descriptor")
			return nil
		}
		if !m.Matches() {
			return fmt.Errorf("%w: device reports %s v%d, host speaks %s v%d",
				ErrVersionMismatch, m.Name, m.Version, protocol.ProtocolName, protocol.ProtocolVersion)
		}
		handshake.Stop()
		h.state = StateSynchronizing
		h.lastPong = in.at
		h.bumpStats(func(s *HostStats) { s.State = StateSynchronizing })
		log.Printf("Device verified: %s v%d", m.Name, m.Version)

	case protocol.Pong:
		if h.state != StateSynchronizing {
			log.Printf("Ignoring pong before handshake")
			return nil
		}
		if !h.pingPending {
			log.Printf("Ignoring pong with no ping outstanding")
			return nil
		}
		h.pingPending = false
		h.lastPong = in.at
		h.model.AddMeasurement(h.lastPing, in.at, m.Tick)
		h.bumpStats(func(s *HostStats) {
			s.PongsReceived++
			s.LastPong = in.at
			s.Model = h.model.Stats()
		})

	case protocol.Trigger:
		if h.state != StateSynchronizing {
			log.Printf("Ignoring trigger before handshake")
			return nil
		}
		h.resolveTrigger(m)

	default:
		log.Printf("Ignoring unexpected %q message from device", in.msg.Type())
	}
	return nil
}

// resolveTrigger maps a trigger tick to UTC and hands it to the sink.
// Unresolvable triggers are lost events: logged and counted, never
// retried.
func (h *Host) resolveTrigger(m protocol.Trigger) {
	when, err := h.model.Resolve(m.Tick)
	if err != nil {
		log.Printf("Could not compute trigger time for tick %d: %v", m.Tick, err)
		h.bumpStats(func(s *HostStats) {
			s.TriggersLost++
			s.Model = h.model.Stats()
		})
		return
	}

	var event Event
	h.bumpStats(func(s *HostStats) {
		s.TriggersResolved++
		event = Event{Tick: m.Tick, Time: when, Sequence: s.TriggersResolved}
		s.LastTrigger = event
		s.Model = h.model.Stats()
	})
	log.Printf("Trigger at %s (tick %d)", when.Format(time.RFC3339Nano), m.Tick)

	if h.cfg.Sink != nil {
		if err := h.cfg.Sink.HandleTrigger(event); err != nil {
			log.Printf("Trigger sink error: %v", err)
		}
	}
}

// readLoop frames and decodes transport bytes, stamping arrival times
// before handing messages to the run loop.
func (h *Host) readLoop(ctx context.Context, frames chan<- inbound, readErr chan<- error) {
	acc := protocol.NewAccumulator(protocol.MaxLineLen)
	buf := make([]byte, 256)

	for {
		n, err := h.rw.Read(buf)
		at := time.Now()
		if n > 0 {
			for _, frame := range acc.Add(buf[:n]) {
				if len(frame) == 0 {
					continue
				}
				msg, uerr := protocol.Unmarshal(frame)
				if uerr != nil {
					log.Printf("Dropping malformed frame: %v", uerr)
					h.bumpStats(func(s *HostStats) { s.DecodeErrors++ })
					continue
				}
				select {
				case frames <- inbound{msg: msg, at: at}:
				case <-ctx.Done():
					return
				}
			}
			h.bumpStats(func(s *HostStats) { s.FramesDropped = acc.Dropped() })
		}
		if err != nil {
			select {
			case readErr <- err:
			default:
			}
			return
		}
	}
}

// Stats returns a snapshot of the engine's counters and state.
func (h *Host) Stats() HostStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *Host) bumpStats(update func(*HostStats)) {
	h.mu.Lock()
	update(&h.stats)
	h.mu.Unlock()
}
