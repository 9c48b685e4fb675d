// ABOUTME: TriggerSync engine package
// ABOUTME: Host and device sides of the tick-to-UTC synchronization protocol
// Package triggersync implements both ends of the TriggerSync protocol.
//
// Host drives the session: it verifies the device's protocol version,
// pings once a second to feed the clock model, and resolves reported
// trigger ticks to host UTC, handing each resolved event to a
// TriggerSink.
//
// Device is the capture side: it watches a trigger input for falling
// edges, stamps them with its tick counter, and answers pings and
// version requests. The same engine runs on real hardware agents and in
// the simulator.
//
// Both engines speak over any io.ReadWriter, typically a serial port.
//
// Example:
//
//	host := triggersync.NewHost(port, triggersync.HostConfig{Sink: sink})
//	err := host.Run(ctx)
package triggersync
