// ABOUTME: Tests for the clock model's ingest, warm-up, and resolve behavior
// ABOUTME: Covers RTT filtering, window eviction, device resets, and range guards
package clockmodel

import (
	"errors"
	"math"
	"testing"
	"time"
)

// testEpoch pins the host anchor so sample math is deterministic.
var testEpoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestModel(cfg Config) *Model {
	m := New(cfg)
	m.epoch = testEpoch
	return m
}

// feedPerfect ingests n zero-RTT samples on a 1MHz counter, one per
// second, starting at startTick.
func feedPerfect(m *Model, n int, startTick uint64) {
	for i := 0; i < n; i++ {
		at := testEpoch.Add(time.Duration(i) * time.Second)
		m.AddMeasurement(at, at, startTick+uint64(i)*1000000)
	}
}

func TestWarmupRequiresMinimumSamples(t *testing.T) {
	m := newTestModel(DefaultConfig())

	feedPerfect(m, 9, 0)
	if _, err := m.Resolve(500000); !errors.Is(err, ErrNoFit) {
		t.Errorf("expected ErrNoFit with 9 samples, got %v", err)
	}
	if m.Stats().Ready {
		t.Error("model must not be ready with 9 samples")
	}

	at := testEpoch.Add(9 * time.Second)
	m.AddMeasurement(at, at, 9000000)
	if !m.Stats().Ready {
		t.Fatal("model must be ready at 10 samples")
	}
	if _, err := m.Resolve(500000); err != nil {
		t.Errorf("resolve failed after warm-up: %v", err)
	}
}

func TestHighRTTSampleIgnored(t *testing.T) {
	m := newTestModel(DefaultConfig())

	// 25ms round trip is above the 20ms ceiling.
	send := testEpoch
	m.AddMeasurement(send, send.Add(25*time.Millisecond), 1000)

	stats := m.Stats()
	if stats.Rejected != 1 {
		t.Errorf("expected 1 rejected sample, got %d", stats.Rejected)
	}
	if stats.Samples != 0 || stats.Accepted != 0 {
		t.Errorf("rejected sample must not enter the window: %+v", stats)
	}
	if m.anchored {
		t.Error("rejected sample must not set the device epoch")
	}

	// A sample exactly at the ceiling is still accepted.
	m.AddMeasurement(send, send.Add(20*time.Millisecond), 2000)
	if m.Stats().Samples != 1 {
		t.Error("sample at the RTT ceiling should be accepted")
	}
}

func TestRejectedSampleDoesNotPerturbFit(t *testing.T) {
	m := newTestModel(DefaultConfig())

	feedPerfect(m, 12, 0)
	before := m.Stats()
	if !before.Ready {
		t.Fatal("model should be ready after 12 samples")
	}

	// A slow round trip never reaches the window, so the fit from the
	// clean samples survives untouched.
	send := testEpoch.Add(12 * time.Second)
	m.AddMeasurement(send, send.Add(30*time.Millisecond), 12000000)

	after := m.Stats()
	if after.Gain != before.Gain || after.OffsetMicros != before.OffsetMicros {
		t.Errorf("rejected sample moved the fit: gain %v -> %v, offset %v -> %v",
			before.Gain, after.Gain, before.OffsetMicros, after.OffsetMicros)
	}
	if after.Samples != before.Samples || after.Refits != before.Refits {
		t.Errorf("rejected sample changed window state: %+v", after)
	}
	if after.Rejected != before.Rejected+1 {
		t.Errorf("Rejected = %d, want %d", after.Rejected, before.Rejected+1)
	}
}

func TestMidpointEstimate(t *testing.T) {
	m := newTestModel(DefaultConfig())

	// Every exchange takes 10ms, so the device tick is pinned to the
	// midpoint 5ms after the send.
	for i := 0; i < 10; i++ {
		send := testEpoch.Add(time.Duration(i) * time.Second)
		m.AddMeasurement(send, send.Add(10*time.Millisecond), uint64(i)*1000000)
	}

	got, err := m.Resolve(3000000)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	want := testEpoch.Add(3*time.Second + 5*time.Millisecond)
	if !got.Equal(want) {
		t.Errorf("resolved %v, want %v", got, want)
	}
}

func TestResolveMatchesSkewedClock(t *testing.T) {
	m := newTestModel(DefaultConfig())

	// Device counts 2 ticks per host microsecond with the first tick at
	// 500000: host = 0.5*tick - 250000 relative to the anchor.
	for i := 0; i < 20; i++ {
		at := testEpoch.Add(time.Duration(i) * time.Second)
		m.AddMeasurement(at, at, 500000+uint64(i)*2000000)
	}

	stats := m.Stats()
	if math.Abs(stats.Gain-0.5) > 1e-9 {
		t.Errorf("gain = %v, want 0.5", stats.Gain)
	}

	got, err := m.Resolve(500000 + 7*2000000)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	want := testEpoch.Add(7 * time.Second)
	if d := got.Sub(want); d < -time.Microsecond || d > time.Microsecond {
		t.Errorf("resolved %v, want %v (off by %v)", got, want, d)
	}
}

func TestWindowEvictsEarliestSample(t *testing.T) {
	m := newTestModel(DefaultConfig())

	feedPerfect(m, 101, 0)

	stats := m.Stats()
	if stats.Samples != 100 {
		t.Fatalf("window holds %d samples, want 100", stats.Samples)
	}
	if stats.Accepted != 101 {
		t.Errorf("accepted = %d, want 101", stats.Accepted)
	}
	// The first measurement (tick 0) is gone; the window now starts at
	// the second one. Eviction must not move the device epoch.
	if m.samples[0].ticks != 1000000 {
		t.Errorf("earliest sample has ticks %v, want 1000000", m.samples[0].ticks)
	}
	if m.deviceEpoch != 0 {
		t.Errorf("device epoch moved to %d on eviction", m.deviceEpoch)
	}
}

func TestDeviceResetStartsModelOver(t *testing.T) {
	m := newTestModel(DefaultConfig())

	feedPerfect(m, 12, 5000000)
	if !m.Stats().Ready {
		t.Fatal("model should be ready before the reset")
	}

	// A tick below the anchor means the device rebooted.
	at := testEpoch.Add(20 * time.Second)
	m.AddMeasurement(at, at, 700)

	stats := m.Stats()
	if stats.Resets != 1 {
		t.Errorf("resets = %d, want 1", stats.Resets)
	}
	if stats.Ready {
		t.Error("fit must be dropped on device reset")
	}
	if stats.Samples != 1 {
		t.Errorf("window holds %d samples after reset, want 1", stats.Samples)
	}
	if m.deviceEpoch != 700 {
		t.Errorf("device epoch = %d, want 700", m.deviceEpoch)
	}
	if _, err := m.Resolve(6000000); !errors.Is(err, ErrNoFit) {
		t.Errorf("expected ErrNoFit after reset, got %v", err)
	}
}

func TestResolveRejectsTickBeforeEpoch(t *testing.T) {
	m := newTestModel(DefaultConfig())

	feedPerfect(m, 10, 1000000)
	if _, err := m.Resolve(999999); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange for tick before epoch, got %v", err)
	}
}

func TestResolveRangeGuard(t *testing.T) {
	m := newTestModel(DefaultConfig())
	m.anchored = true
	m.fitted = true
	m.fit = fit{gain: 1e18, offset: 0}

	if _, err := m.Resolve(1000000); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange for absurd estimate, got %v", err)
	}
}

func TestDegenerateRefitKeepsPreviousFit(t *testing.T) {
	m := newTestModel(Config{WindowSize: 4, MinSamples: 4})

	ticks := []uint64{0, 1000, 2000, 3000}
	for i, tick := range ticks {
		at := testEpoch.Add(time.Duration(i) * time.Second)
		m.AddMeasurement(at, at, tick)
	}
	if !m.Stats().Ready {
		t.Fatal("model should be ready after 4 samples")
	}

	// Flood the window with one repeated tick value. The final refit
	// sees four identical ticks and must keep the last good fit.
	for i := 0; i < 4; i++ {
		at := testEpoch.Add(time.Duration(4+i) * time.Second)
		m.AddMeasurement(at, at, 3000)
	}

	before := m.Stats()
	at := testEpoch.Add(9 * time.Second)
	m.AddMeasurement(at, at, 3000)
	after := m.Stats()

	if !after.Ready {
		t.Error("degenerate refit must not drop the fit")
	}
	if after.Gain != before.Gain || after.OffsetMicros != before.OffsetMicros {
		t.Error("degenerate refit must not change the fit")
	}
	if after.Refits != before.Refits {
		t.Errorf("degenerate refit counted as a refit: %d -> %d", before.Refits, after.Refits)
	}
}

func TestOutlierBarelyMovesResolvedTime(t *testing.T) {
	m := newTestModel(DefaultConfig())

	// 99 perfect samples and one whose estimate is off by 8ms but whose
	// round trip still clears the filter.
	for i := 0; i < 100; i++ {
		send := testEpoch.Add(time.Duration(i) * time.Second)
		if i == 50 {
			send = send.Add(8 * time.Millisecond)
		}
		m.AddMeasurement(send, send, uint64(i)*1000000)
	}

	got, err := m.Resolve(80000000)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	want := testEpoch.Add(80 * time.Second)
	if d := got.Sub(want); d < -time.Millisecond || d > time.Millisecond {
		t.Errorf("outlier skewed resolve by %v", d)
	}
}
