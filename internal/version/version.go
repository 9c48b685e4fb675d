// ABOUTME: Build identity constants for the TriggerSync binaries
// ABOUTME: Surfaced in mDNS TXT records, feed hello payloads, and startup logs
package version

const (
	// Product is the human-readable product name.
	Product = "TriggerSync"

	// Manufacturer identifies who ships this software.
	Manufacturer = "TriggerSync Project"

	// Version is the software release version. This is independent of the
	// wire protocol version negotiated with the device.
	Version = "0.3.0"
)
