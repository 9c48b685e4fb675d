// ABOUTME: TriggerSync wire protocol package
// ABOUTME: Defines protocol messages and the newline-delimited JSON codec
// Package protocol implements the TriggerSync wire protocol.
//
// Messages travel as newline-delimited JSON objects tagged with a "type"
// field. The same codec runs on both ends of the serial link.
//
// Example:
//
//	enc := protocol.NewEncoder(port)
//	err := enc.Encode(protocol.Ping{})
//
//	dec := protocol.NewDecoder(port)
//	msg, err := dec.Decode()
package protocol
