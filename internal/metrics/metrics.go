// ABOUTME: Prometheus collectors for the host bridge
// ABOUTME: Folds engine stat snapshots into counters and gauges at /metrics
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TriggerSync-Protocol/triggersync-go/pkg/triggersync"
)

var (
	// Link metrics
	PingsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "triggersync_pings_sent_total",
		Help: "Total number of clock sampling pings sent to the device",
	})
	PongsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "triggersync_pongs_received_total",
		Help: "Total number of pong responses received from the device",
	})
	FramesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "triggersync_frames_dropped_total",
		Help: "Total number of oversize frames discarded by the decoder",
	})
	DecodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "triggersync_decode_errors_total",
		Help: "Total number of frames that failed to decode",
	})
	LinkSynchronized = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "triggersync_link_synchronized",
		Help: "Whether the version handshake has completed (0 or 1)",
	})

	// Clock model metrics
	SamplesAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "triggersync_clock_samples_accepted_total",
		Help: "Total number of ping measurements accepted into the clock model",
	})
	SamplesRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "triggersync_clock_samples_rejected_total",
		Help: "Total number of ping measurements rejected by the round trip filter",
	})
	ClockRefits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "triggersync_clock_refits_total",
		Help: "Total number of clock model regression refits",
	})
	ClockResets = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "triggersync_clock_resets_total",
		Help: "Total number of clock model resets after a device restart",
	})
	ClockReady = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "triggersync_clock_ready",
		Help: "Whether the clock model can resolve ticks (0 or 1)",
	})
	ClockWindowSamples = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "triggersync_clock_window_samples",
		Help: "Number of measurements currently in the regression window",
	})
	ClockGain = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "triggersync_clock_gain_micros_per_tick",
		Help: "Fitted host microseconds per device tick",
	})
	ClockOffset = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "triggersync_clock_offset_micros",
		Help: "Fitted host microseconds at the device epoch",
	})

	// Trigger metrics
	TriggersResolved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "triggersync_triggers_resolved_total",
		Help: "Total number of triggers resolved to host UTC",
	})
	TriggersLost = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "triggersync_triggers_lost_total",
		Help: "Total number of triggers that could not be resolved",
	})

	registerOnce sync.Once
)

// Register registers all collectors with the default Prometheus registry.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			PingsSent,
			PongsReceived,
			FramesDropped,
			DecodeErrors,
			LinkSynchronized,
			SamplesAccepted,
			SamplesRejected,
			ClockRefits,
			ClockResets,
			ClockReady,
			ClockWindowSamples,
			ClockGain,
			ClockOffset,
			TriggersResolved,
			TriggersLost,
		)
	})
}

// Handler returns an HTTP handler exposing the registered collectors.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}

// Publisher folds host stat snapshots into the collectors. Counters
// advance by the delta between consecutive snapshots, so feeding it the
// same snapshot twice is harmless.
type Publisher struct {
	mu   sync.Mutex
	prev triggersync.HostStats
}

// NewPublisher returns a Publisher with registration done.
func NewPublisher() *Publisher {
	Register()
	return &Publisher{}
}

// Publish records one stats snapshot.
func (p *Publisher) Publish(st triggersync.HostStats) {
	p.mu.Lock()
	defer p.mu.Unlock()

	addDelta(PingsSent, st.PingsSent, p.prev.PingsSent)
	addDelta(PongsReceived, st.PongsReceived, p.prev.PongsReceived)
	addDelta(DecodeErrors, st.DecodeErrors, p.prev.DecodeErrors)
	addDelta(FramesDropped, uint64(st.FramesDropped), uint64(p.prev.FramesDropped))
	addDelta(SamplesAccepted, st.Model.Accepted, p.prev.Model.Accepted)
	addDelta(SamplesRejected, st.Model.Rejected, p.prev.Model.Rejected)
	addDelta(ClockRefits, st.Model.Refits, p.prev.Model.Refits)
	addDelta(ClockResets, st.Model.Resets, p.prev.Model.Resets)
	addDelta(TriggersResolved, st.TriggersResolved, p.prev.TriggersResolved)
	addDelta(TriggersLost, st.TriggersLost, p.prev.TriggersLost)

	LinkSynchronized.Set(boolGauge(st.State == triggersync.StateSynchronizing))
	ClockReady.Set(boolGauge(st.Model.Ready))
	ClockWindowSamples.Set(float64(st.Model.Samples))
	ClockGain.Set(st.Model.Gain)
	ClockOffset.Set(st.Model.OffsetMicros)

	p.prev = st
}

func addDelta(c prometheus.Counter, cur, prev uint64) {
	if cur > prev {
		c.Add(float64(cur - prev))
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
