// ABOUTME: Monotonic microsecond tick source for device agents
// ABOUTME: Counts from creation, immune to steps of the wall clock
package monoclock

import "time"

// rawReader is installed by platform files when a raw monotonic clock
// is available.
var rawReader func() (uint64, bool)

// Source is a monotonic microsecond counter. It implements the device
// engine's Clock interface.
type Source struct {
	start    time.Time
	rawBase  uint64
	rawTicks func() (uint64, bool)
}

// New returns a source counting microseconds from now. On Linux it reads
// CLOCK_MONOTONIC_RAW; elsewhere it falls back to the runtime's
// monotonic clock.
func New() *Source {
	s := &Source{start: time.Now()}
	if rawReader != nil {
		if base, ok := rawReader(); ok {
			s.rawBase = base
			s.rawTicks = rawReader
		}
	}
	return s
}

// Ticks returns microseconds elapsed since New.
func (s *Source) Ticks() uint64 {
	if s.rawTicks != nil {
		if now, ok := s.rawTicks(); ok {
			return now - s.rawBase
		}
	}
	return uint64(time.Since(s.start).Microseconds())
}
