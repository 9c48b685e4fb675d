//go:build linux

// ABOUTME: GPIO button input via periph.io for SBC device agents
// ABOUTME: Opens a named pin as a pulled-up input for edge polling
package gpio

import (
	"fmt"
	"log"

	"periph.io/x/conn/v3/driver/driverreg"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// Pin adapts a periph.io GPIO input to the device engine's Pin
// interface. The button pulls the line low when pressed.
type Pin struct {
	pin gpio.PinIO
}

// Open initializes the periph drivers and configures the named pin as a
// pulled-up input. Names follow gpioreg, e.g. "GPIO17" or "17".
func Open(name string) (*Pin, error) {
	if _, err := driverreg.Init(); err != nil {
		log.Printf("GPIO driver init reported: %v", err)
	}

	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("no GPIO pin named %q", name)
	}
	if err := p.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("configure %s as input: %w", p, err)
	}

	log.Printf("Watching GPIO pin %s", p)
	return &Pin{pin: p}, nil
}

// Read reports the current pin level, true for high.
func (p *Pin) Read() bool {
	return bool(p.pin.Read())
}
