// ABOUTME: Device-side capture engine for the TriggerSync protocol
// ABOUTME: Polls the trigger pin, answers pings, and reports button edges
package triggersync

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/TriggerSync-Protocol/triggersync-go/pkg/protocol"
)

// Clock provides the device tick counter. Ticks must count up
// monotonically for the life of the process.
type Clock interface {
	Ticks() uint64
}

// Pin reports the trigger input level, true while the line is high. The
// button pulls the line low when pressed.
type Pin interface {
	Read() bool
}

// DeviceConfig holds capture engine configuration.
type DeviceConfig struct {
	// Clock is the tick source stamped into pongs and triggers.
	Clock Clock

	// Pin is the trigger input.
	Pin Pin

	// PollInterval is the pin sampling period (default 1ms).
	PollInterval time.Duration

	// QueueSize bounds the inbound frame queue; frames beyond it are
	// dropped (default 8).
	QueueSize int
}

func (c DeviceConfig) withDefaults() DeviceConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Millisecond
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 8
	}
	return c
}

// DeviceStats is a snapshot of the capture engine's counters.
type DeviceStats struct {
	TriggersSent  uint64
	PongsSent     uint64
	DecodeErrors  uint64
	FramesDropped uint64
}

// Device implements the device side of the protocol on top of any byte
// stream transport: it reports trigger edges, answers pings with the
// current tick, and identifies itself on request.
type Device struct {
	cfg DeviceConfig
	rw  io.ReadWriter
	enc *protocol.Encoder

	frames  chan []byte
	readErr chan error

	mu    sync.Mutex
	stats DeviceStats
}

// NewDevice creates a capture engine speaking over rw. Closing the
// transport is what unblocks Run's reader on shutdown.
func NewDevice(rw io.ReadWriter, cfg DeviceConfig) *Device {
	cfg = cfg.withDefaults()
	return &Device{
		cfg:     cfg,
		rw:      rw,
		enc:     protocol.NewEncoder(rw),
		frames:  make(chan []byte, cfg.QueueSize),
		readErr: make(chan error, 1),
	}
}

// Run captures until the context is cancelled or the transport fails.
// Any transport error, read or write, is fatal: the host owns
// reconnection policy, not the device.
func (d *Device) Run(ctx context.Context) error {
	go d.readLoop(ctx)

	// Prime the edge detector so a line already low at startup does not
	// count as a press.
	prev := d.cfg.Pin.Read()

	poll := time.NewTicker(d.cfg.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-d.readErr:
			return fmt.Errorf("transport read: %w", err)

		case frame := <-d.frames:
			if err := d.handleFrame(frame); err != nil {
				return err
			}

		case <-poll.C:
			level := d.cfg.Pin.Read()
			if prev && !level {
				tick := d.cfg.Clock.Ticks()
				if err := d.enc.Encode(protocol.Trigger{Tick: tick}); err != nil {
					return fmt.Errorf("send trigger: %w", err)
				}
				d.bump(func(s *DeviceStats) { s.TriggersSent++ })
			}
			prev = level
		}
	}
}

// handleFrame decodes and answers one inbound frame. Decode failures
// drop the frame; write failures are fatal.
func (d *Device) handleFrame(frame []byte) error {
	msg, err := protocol.Unmarshal(frame)
	if err != nil {
		log.Printf("Dropping malformed frame: %v", err)
		d.bump(func(s *DeviceStats) { s.DecodeErrors++ })
		return nil
	}

	switch msg.(type) {
	case protocol.Ping:
		pong := protocol.Pong{Tick: d.cfg.Clock.Ticks()}
		if err := d.enc.Encode(pong); err != nil {
			return fmt.Errorf("send pong: %w", err)
		}
		d.bump(func(s *DeviceStats) { s.PongsSent++ })

	case protocol.VersionRequest:
		descriptor := protocol.Version{
			Name:    protocol.ProtocolName,
			Version: protocol.ProtocolVersion,
		}
		if err := d.enc.Encode(descriptor); err != nil {
			return fmt.Errorf("send version: %w", err)
		}

	default:
		log.Printf("Ignoring unexpected %q message from host", msg.Type())
	}
	return nil
}

// readLoop frames transport bytes into the bounded queue, dropping
// frames when the queue is full rather than stalling the transport.
func (d *Device) readLoop(ctx context.Context) {
	acc := protocol.NewAccumulator(protocol.MaxLineLen)
	buf := make([]byte, 256)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := d.rw.Read(buf)
		if n > 0 {
			for _, frame := range acc.Add(buf[:n]) {
				if len(frame) == 0 {
					continue
				}
				select {
				case d.frames <- frame:
				default:
					d.bump(func(s *DeviceStats) { s.FramesDropped++ })
				}
			}
		}
		if err != nil {
			select {
			case d.readErr <- err:
			default:
			}
			return
		}
	}
}

// Stats returns a snapshot of the engine's counters.
func (d *Device) Stats() DeviceStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *Device) bump(update func(*DeviceStats)) {
	d.mu.Lock()
	update(&d.stats)
	d.mu.Unlock()
}
