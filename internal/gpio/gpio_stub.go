//go:build !linux

// ABOUTME: GPIO stub for platforms without periph.io pin support
// ABOUTME: Compile-time placeholder so non-Linux builds of the tree work
package gpio

import "fmt"

// Pin is unavailable on this platform.
type Pin struct{}

// Open always fails; GPIO capture needs a Linux SBC.
func Open(name string) (*Pin, error) {
	return nil, fmt.Errorf("GPIO input is only supported on linux")
}

// Read reports the current pin level, true for high.
func (p *Pin) Read() bool {
	return true
}
