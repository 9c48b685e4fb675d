// ABOUTME: Device link transports, serial ports plus TCP for bench setups
// ABOUTME: Opens the byte stream the sync engines speak over
package transport

import (
	"fmt"
	"io"
	"net"
	"strings"

	"go.bug.st/serial"
)

// Open connects to a device. Targets of the form tcp://host:port dial a
// TCP bench device; anything else is opened as a serial port at the
// given baud rate.
func Open(target string, baud int) (io.ReadWriteCloser, error) {
	if addr, ok := strings.CutPrefix(target, "tcp://"); ok {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		return conn, nil
	}
	return OpenSerial(target, baud)
}

// OpenSerial opens a serial port in 8N1 mode at the given baud rate.
func OpenSerial(device string, baud int) (io.ReadWriteCloser, error) {
	mode := &serial.Mode{BaudRate: baud}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("serial open %s: %w", device, err)
	}
	return port, nil
}

// ListPorts returns candidate serial devices for the port listing shown
// when no device argument is given.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return filterPorts(ports), nil
}

// filterPorts normalizes enumerated names and drops the legacy ttyS0
// console, which is never the trigger device.
func filterPorts(ports []string) []string {
	names := make([]string, 0, len(ports))
	for _, p := range ports {
		name := normalizePortName(p)
		if name == "/dev/ttyS0" {
			continue
		}
		names = append(names, name)
	}
	return names
}

// normalizePortName maps sysfs tty paths to their /dev nodes.
func normalizePortName(name string) string {
	return strings.Replace(name, "/sys/class/tty/", "/dev/", 1)
}
