// ABOUTME: Least-squares line fit over the clock sample window
// ABOUTME: Produces the gain/offset pair mapping device ticks to host time
package clockmodel

import "errors"

// errDegenerate is returned when the window cannot determine a slope,
// which happens when every sample shares the same tick value.
var errDegenerate = errors.New("sample window is degenerate, all ticks equal")

// fit is an affine mapping from anchored device ticks to anchored host
// microseconds: micros = gain*ticks + offset.
type fit struct {
	gain   float64 // host microseconds per device tick
	offset float64 // host microseconds at the device epoch
}

// fitSamples runs an ordinary least-squares regression over the window.
// Means are removed first so the arithmetic stays well conditioned even
// after the counters grow large.
func fitSamples(samples []sample) (fit, error) {
	n := float64(len(samples))

	var tickMean, microsMean float64
	for _, s := range samples {
		tickMean += s.ticks
		microsMean += s.micros
	}
	tickMean /= n
	microsMean /= n

	var num, den float64
	for _, s := range samples {
		dt := s.ticks - tickMean
		num += dt * (s.micros - microsMean)
		den += dt * dt
	}
	if den == 0 {
		return fit{}, errDegenerate
	}

	gain := num / den
	return fit{
		gain:   gain,
		offset: microsMean - gain*tickMean,
	}, nil
}
