// ABOUTME: Entry point for the TriggerSync host bridge
// ABOUTME: Parses CLI flags and starts the bridge application
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/TriggerSync-Protocol/triggersync-go/internal/bridge"
	"github.com/TriggerSync-Protocol/triggersync-go/internal/config"
	"github.com/TriggerSync-Protocol/triggersync-go/internal/transport"
	"github.com/TriggerSync-Protocol/triggersync-go/internal/version"
)

var (
	configPath = flag.String("config", "", "Path to YAML config file")
	device     = flag.String("device", "", "Serial device path or tcp://host:port target")
	baud       = flag.Int("baud", 0, "Serial baud rate (default 115200)")
	outputDir  = flag.String("output-dir", "", "Trigger CSV output directory (default ~/TRIGGER_DATA)")
	feedAddr   = flag.String("feed-addr", "", "WebSocket feed listen address (default :8475)")
	noMDNS     = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	logFile    = flag.String("log-file", "", "Log file path (default triggersync-host.log)")
	noTUI      = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	streamLogs = flag.Bool("stream-logs", false, "Alias for -no-tui")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("%v", err)
	}

	if cfg.Serial.Port == "" {
		listPorts()
		return
	}

	useTUI := !cfg.UI.Disable

	// Set up logging
	logPath := *logFile
	if logPath == "" {
		logPath = cfg.UI.LogFile
	}
	if logPath == "" {
		logPath = "triggersync-host.log"
	}

	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()

	if useTUI {
		// TUI mode: log only to file
		log.SetOutput(f)
	} else {
		// Streaming logs mode: log to both stdout and file
		multiWriter := io.MultiWriter(os.Stdout, f)
		log.SetOutput(multiWriter)
	}

	log.Printf("Starting %s host bridge %s", version.Product, version.Version)

	b := bridge.New(cfg)
	log.Printf("Capture session %s on %s", b.SessionID(), cfg.Serial.Port)

	runErr := make(chan error, 1)
	go func() { runErr <- b.Start() }()

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-runErr:
		if err != nil {
			b.Stop()
			log.Fatalf("Bridge failed: %v", err)
		}

	case <-sigChan:
		log.Printf("Shutdown signal received")
	}

	b.Stop()
	log.Printf("Bridge stopped")
}

// loadConfig merges the config file with CLI overrides
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}

	if *device != "" {
		cfg.Serial.Port = *device
	}
	if *baud != 0 {
		cfg.Serial.Baud = *baud
	}
	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
	}
	if *feedAddr != "" {
		cfg.Feed.Addr = *feedAddr
	}
	if *noMDNS {
		cfg.MDNS.Disable = true
	}
	if *noTUI || *streamLogs {
		cfg.UI.Disable = true
	}

	return cfg, nil
}

// listPorts prints the serial ports a device could be attached to
func listPorts() {
	fmt.Println("No device path was given. Available options:")

	ports, err := transport.ListPorts()
	if err != nil {
		log.Fatalf("Failed to list serial ports: %v", err)
	}

	for _, port := range ports {
		fmt.Printf("  %s\n", port)
	}
}
