// ABOUTME: mDNS advertisement and browsing for the trigger feed
// ABOUTME: Publishes _triggersync._tcp so recording tools find the bridge
package discovery

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/hashicorp/mdns"

	"github.com/TriggerSync-Protocol/triggersync-go/internal/version"
)

// ServiceType is the mDNS service type for the trigger feed.
const ServiceType = "_triggersync._tcp"

// Config holds discovery configuration
type Config struct {
	// InstanceName is the advertised instance (defaults to the host name).
	InstanceName string

	// Port is the feed listener port.
	Port int

	// SessionID is the capture session advertised in TXT records.
	SessionID string
}

// Manager handles mDNS operations
type Manager struct {
	config  Config
	ctx     context.Context
	cancel  context.CancelFunc
	bridges chan *BridgeInfo
}

// BridgeInfo describes a discovered bridge feed
type BridgeInfo struct {
	Name string
	Host string
	Port int
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		bridges: make(chan *BridgeInfo, 10),
	}
}

// Advertise publishes this bridge's feed via mDNS
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	name := m.config.InstanceName
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			name = version.Product
		} else {
			name = hostname
		}
	}

	service, err := mdns.NewMDNSService(
		name,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		txtRecords(m.config.SessionID),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	log.Printf("Advertising mDNS service: %s on port %d (type: %s)", name, m.config.Port, ServiceType)

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse searches for bridges advertising a trigger feed
func (m *Manager) Browse() error {
	go m.browseLoop()
	return nil
}

// browseLoop continuously browses for bridges
func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)

		go func() {
			for entry := range entries {
				if entry.AddrV4 == nil {
					continue
				}
				bridge := &BridgeInfo{
					Name: entry.Name,
					Host: entry.AddrV4.String(),
					Port: entry.Port,
				}

				log.Printf("Discovered bridge: %s at %s:%d", bridge.Name, bridge.Host, bridge.Port)

				select {
				case m.bridges <- bridge:
				case <-m.ctx.Done():
					return
				}
			}
		}()

		params := &mdns.QueryParam{
			Service: ServiceType,
			Domain:  "local",
			Timeout: 3 * time.Second,
			Entries: entries,
		}

		mdns.Query(params)
		close(entries)
	}
}

// Bridges returns the channel of discovered bridges
func (m *Manager) Bridges() <-chan *BridgeInfo {
	return m.bridges
}

// Stop stops the discovery manager
func (m *Manager) Stop() {
	m.cancel()
}

// txtRecords builds the TXT payload advertised with the service.
func txtRecords(sessionID string) []string {
	records := []string{
		"path=/feed",
		"version=" + version.Version,
	}
	if sessionID != "" {
		records = append(records, "session="+sessionID)
	}
	return records
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
