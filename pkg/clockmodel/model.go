// ABOUTME: Affine clock model mapping device ticks to host UTC
// ABOUTME: Ingests RTT-filtered ping samples and resolves trigger ticks
package clockmodel

import (
	"errors"
	"log"
	"math"
	"time"
)

var (
	// ErrNoFit is returned by Resolve while the model is still warming
	// up and no regression has been computed.
	ErrNoFit = errors.New("clock model has no fit yet")

	// ErrOutOfRange is returned by Resolve when a tick cannot map to a
	// representable host time.
	ErrOutOfRange = errors.New("tick resolves outside representable time range")
)

// Config holds the model's tuning knobs. Zero values fall back to the
// defaults from DefaultConfig.
type Config struct {
	// MaxRTT rejects samples whose ping round trip exceeded it.
	MaxRTT time.Duration

	// WindowSize bounds the FIFO sample window.
	WindowSize int

	// MinSamples is the window population required before fitting.
	MinSamples int
}

// DefaultConfig returns the standard model tuning.
func DefaultConfig() Config {
	return Config{
		MaxRTT:     20 * time.Millisecond,
		WindowSize: 100,
		MinSamples: 10,
	}
}

// Stats is a snapshot of the model's state for operator surfaces.
type Stats struct {
	Samples      int
	Accepted     uint64
	Rejected     uint64
	Refits       uint64
	Resets       uint64
	Ready        bool
	Gain         float64 // host microseconds per device tick
	OffsetMicros float64 // host microseconds at the device epoch
}

// sample is one accepted measurement, stored relative to the two anchors
// so the regression works on small, well conditioned numbers.
type sample struct {
	ticks  float64 // tick minus the device epoch
	micros float64 // estimated host microseconds since the host epoch
}

// Model maps device ticks to host UTC through an affine fit over recent
// ping measurements. It is not safe for concurrent use; the owner feeds
// it from a single goroutine.
type Model struct {
	cfg Config

	epoch       time.Time // host anchor, fixed at creation or reset
	deviceEpoch uint64    // tick anchor, first accepted tick
	anchored    bool

	samples []sample
	fit     fit
	fitted  bool

	accepted uint64
	rejected uint64
	refits   uint64
	resets   uint64
}

// New creates a model anchored at the current host time.
func New(cfg Config) *Model {
	def := DefaultConfig()
	if cfg.MaxRTT <= 0 {
		cfg.MaxRTT = def.MaxRTT
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.MinSamples < 2 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.MinSamples > cfg.WindowSize {
		cfg.MinSamples = cfg.WindowSize
	}

	return &Model{
		cfg:     cfg,
		epoch:   time.Now().UTC(),
		samples: make([]sample, 0, cfg.WindowSize),
	}
}

// AddMeasurement ingests one ping exchange: the host time the ping was
// written, the host time the pong arrived, and the tick the device
// reported. The device is assumed to have sampled its counter halfway
// through the round trip. Returns whether the sample was accepted.
func (m *Model) AddMeasurement(sendTime, recvTime time.Time, tick uint64) bool {
	rtt := recvTime.Sub(sendTime)
	if rtt < 0 {
		m.rejected++
		log.Printf("Ignoring clock measurement with negative round trip time %s", rtt)
		return false
	}
	if rtt > m.cfg.MaxRTT {
		m.rejected++
		log.Printf("Ignoring clock measurement with round trip time of %d ms", rtt.Milliseconds())
		return false
	}

	est := sendTime.Add(rtt / 2)

	if m.anchored && tick < m.deviceEpoch {
		// The counter can only count up, so a tick below the anchor
		// means the device restarted. Start the model over.
		log.Printf("Device tick %d is below anchor %d, resetting clock model", tick, m.deviceEpoch)
		m.samples = m.samples[:0]
		m.fitted = false
		m.anchored = false
		m.epoch = est.UTC()
		m.resets++
	}
	if !m.anchored {
		m.deviceEpoch = tick
		m.anchored = true
	}

	if len(m.samples) == m.cfg.WindowSize {
		copy(m.samples, m.samples[1:])
		m.samples = m.samples[:len(m.samples)-1]
	}
	m.samples = append(m.samples, sample{
		ticks:  float64(tick - m.deviceEpoch),
		micros: float64(est.Sub(m.epoch).Microseconds()),
	})
	m.accepted++

	if len(m.samples) >= m.cfg.MinSamples {
		m.refit()
	}
	return true
}

// refit recomputes the regression over the full window. A degenerate
// window keeps the previous fit.
func (m *Model) refit() {
	f, err := fitSamples(m.samples)
	if err != nil {
		log.Printf("Keeping previous clock fit: %v", err)
		return
	}
	ready := m.fitted
	m.fit = f
	m.fitted = true
	m.refits++
	if !ready {
		log.Printf("Obtained %d clock samples, now capable of estimating device time", len(m.samples))
	}
}

// maxResolveMicros bounds the fitted estimate so the conversion to a
// time.Duration cannot overflow. The headroom absorbs float rounding at
// the boundary.
const maxResolveMicros = float64(math.MaxInt64/1000 - 1024)

// Resolve maps a device tick to host UTC. It fails with ErrNoFit during
// warm-up and ErrOutOfRange when the tick predates the device epoch or
// the estimate leaves the representable time range.
func (m *Model) Resolve(tick uint64) (time.Time, error) {
	if !m.fitted {
		return time.Time{}, ErrNoFit
	}
	if tick < m.deviceEpoch {
		return time.Time{}, ErrOutOfRange
	}

	micros := m.fit.gain*float64(tick-m.deviceEpoch) + m.fit.offset
	if !(micros >= -maxResolveMicros && micros <= maxResolveMicros) {
		return time.Time{}, ErrOutOfRange
	}

	return m.epoch.Add(time.Duration(micros) * time.Microsecond), nil
}

// Stats returns a snapshot of the model's counters and current fit.
func (m *Model) Stats() Stats {
	return Stats{
		Samples:      len(m.samples),
		Accepted:     m.accepted,
		Rejected:     m.rejected,
		Refits:       m.refits,
		Resets:       m.resets,
		Ready:        m.fitted,
		Gain:         m.fit.gain,
		OffsetMicros: m.fit.offset,
	}
}
