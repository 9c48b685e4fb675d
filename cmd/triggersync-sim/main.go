// ABOUTME: Simulated trigger device for development and testing
// ABOUTME: Serves the sync protocol with a skewed virtual clock and synthetic presses
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/TriggerSync-Protocol/triggersync-go/pkg/triggersync"
)

var (
	listen     = flag.String("listen", "127.0.0.1:9414", "TCP listen address")
	stdio      = flag.Bool("stdio", false, "Serve on stdin/stdout instead of TCP")
	skewPPM    = flag.Float64("skew-ppm", 120, "Virtual clock skew in parts per million")
	pressEvery = flag.Duration("press-interval", 5*time.Second, "Synthetic button press interval (0 disables)")
	pressHold  = flag.Duration("press-hold", 50*time.Millisecond, "How long each press holds the line low")
)

func main() {
	flag.Parse()

	log.SetFlags(log.Ltime | log.Lmicroseconds)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	button := newSimButton()
	if *pressEvery > 0 {
		go button.pressLoop(ctx, *pressEvery, *pressHold)
	}

	cfg := triggersync.DeviceConfig{
		Clock: newSimClock(*skewPPM),
		Pin:   button,
	}

	log.Printf("Simulated device: skew %+.0f ppm, press every %s", *skewPPM, *pressEvery)

	if *stdio {
		serveStdio(ctx, cfg)
		return
	}

	serveTCP(ctx, *listen, cfg)
}

// serveStdio speaks the protocol on stdin/stdout; logs stay on stderr
func serveStdio(ctx context.Context, cfg triggersync.DeviceConfig) {
	rw := struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}

	dev := triggersync.NewDevice(rw, cfg)
	if err := dev.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("Capture engine failed: %v", err)
	}
}

// serveTCP accepts one host at a time
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

	log.Printf("Simulated device listening on %s", ln.Addr())

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

// simClock is a virtual microsecond counter running fast or slow by a
// fixed ppm relative to the host clock.
type simClock struct {
	start time.Time
	scale float64
}

func newSimClock(ppm float64) *simClock {
	return &simClock{
		start: time.Now(),
		scale: 1 + ppm/1e6,
	}
}

func (c *simClock) Ticks() uint64 {
	elapsed := float64(time.Since(c.start).Microseconds())
	return uint64(elapsed * c.scale)
}

// simButton presses itself on a timer. The line idles high and is
// pulled low for the hold period of each press.
type simButton struct {
	level atomic.Bool
}

func newSimButton() *simButton {
	b := &simButton{}
	b.level.Store(true)
	return b
}

func (b *simButton) Read() bool {
	return b.level.Load()
}

func (b *simButton) pressLoop(ctx context.Context, every, hold time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.level.Store(false)
			time.Sleep(hold)
			b.level.Store(true)

		case <-ctx.Done():
			return
		}
	}
}
