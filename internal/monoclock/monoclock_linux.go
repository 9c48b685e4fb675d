//go:build linux

// ABOUTME: Linux reader for CLOCK_MONOTONIC_RAW
// ABOUTME: The raw clock is not slewed by NTP, matching a hardware counter
package monoclock

import "golang.org/x/sys/unix"

func init() {
	rawReader = readRawMicros
}

func readRawMicros() (uint64, bool) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC_RAW, &ts); err != nil {
		return 0, false
	}
	return uint64(ts.Sec)*1_000_000 + uint64(ts.Nsec)/1_000, true
}
