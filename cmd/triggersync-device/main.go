// ABOUTME: Entry point for the TriggerSync device agent
// ABOUTME: Captures GPIO trigger edges and serves the sync protocol
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/TriggerSync-Protocol/triggersync-go/internal/gpio"
	"github.com/TriggerSync-Protocol/triggersync-go/internal/monoclock"
	"github.com/TriggerSync-Protocol/triggersync-go/internal/transport"
	"github.com/TriggerSync-Protocol/triggersync-go/pkg/triggersync"
)

var (
	pinName = flag.String("pin", "GPIO15", "Trigger input pin name")
	port    = flag.String("port", "", "Serial device to serve the host on (e.g. /dev/ttyGS0)")
	listen  = flag.String("listen", "", "TCP listen address for bench setups (e.g. :9414)")
	baud    = flag.Int("baud", 115200, "Serial baud rate")
)

func main() {
	flag.Parse()

	if (*port == "") == (*listen == "") {
		log.Fatalf("exactly one of -port or -listen is required")
	}

	pin, err := gpio.Open(*pinName)
	if err != nil {
		log.Fatalf("Failed to open trigger pin: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Printf("Shutdown signal received")
		cancel()
	}()

	cfg := triggersync.DeviceConfig{
		Clock: monoclock.New(),
		Pin:   pin,
	}

	if *port != "" {
		serveSerial(ctx, *port, *baud, cfg)
		return
	}

	serveTCP(ctx, *listen, cfg)
}

// serveSerial speaks the protocol over one serial device
func serveSerial(ctx context.Context, device string, baud int, cfg triggersync.DeviceConfig) {
	conn, err := transport.OpenSerial(device, baud)
	if err != nil {
		log.Fatalf("Failed to open %s: %v", device, err)
	}
	defer conn.Close()

	// A blocked serial read only returns once the port is closed.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	log.Printf("Serving trigger captures on %s", device)

	dev := triggersync.NewDevice(conn, cfg)
	if err := dev.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("Capture engine failed: %v", err)
	}
}

// serveTCP accepts one host at a time on a bench listener
func serveTCP(ctx context.Context, addr string, cfg triggersync.DeviceConfig) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", addr, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log.Printf("Serving trigger captures on %s", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Fatalf("Accept failed: %v", err)
		}

		log.Printf("Host connected from %s", conn.RemoteAddr())
		runConn(ctx, conn, cfg)

		if ctx.Err() != nil {
			return
		}
	}
}

// runConn drives a fresh capture engine for one host connection
func runConn(ctx context.Context, conn net.Conn, cfg triggersync.DeviceConfig) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	dev := triggersync.NewDevice(conn, cfg)
	if err := dev.Run(connCtx); err != nil && ctx.Err() == nil {
		log.Printf("Host disconnected: %v", err)
	}
}
