// ABOUTME: Tests for device link transports
// ABOUTME: Covers TCP targets and serial port name filtering
package transport

import (
	"net"
	"reflect"
	"testing"
	"time"
)

func TestOpenDialsTCPTarget(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()

	rw, err := Open("tcp://"+ln.Addr().String(), 115200)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rw.Close()

	var peer net.Conn
	select {
	case peer = <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("listener saw no connection")
	}
	defer peer.Close()

	if _, err := rw.Write([]byte("x")); err != nil {
		t.Fatalf("write through transport: %v", err)
	}
	buf := make([]byte, 1)
	peer.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := peer.Read(buf); err != nil || buf[0] != 'x' {
		t.Fatalf("peer read = %q, %v", buf, err)
	}
}

func TestOpenReportsUnreachableTCPTarget(t *testing.T) {
	// Grab a port and close it again so the dial is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	if _, err := Open("tcp://"+addr, 115200); err == nil {
		t.Fatal("expected error dialing a closed port")
	}
}

func TestFilterPortsDropsConsoleAndNormalizes(t *testing.T) {
	got := filterPorts([]string{
		"/sys/class/tty/ttyACM0",
		"/dev/ttyS0",
		"/dev/ttyUSB1",
	})
	want := []string{"/dev/ttyACM0", "/dev/ttyUSB1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("filterPorts = %v, want %v", got, want)
	}
}

func TestNormalizePortName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/sys/class/tty/ttyACM0", "/dev/ttyACM0"},
		{"/dev/ttyUSB0", "/dev/ttyUSB0"},
		{"COM3", "COM3"},
	}
	for _, tt := range tests {
		if got := normalizePortName(tt.in); got != tt.want {
			t.Errorf("normalizePortName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
