// ABOUTME: TriggerSync wire message type definitions
// ABOUTME: Defines the tagged JSON union exchanged between host and device
package protocol

import (
	"encoding/json"
	"fmt"
)

const (
	// ProtocolName identifies the protocol in version descriptors.
	ProtocolName = "TriggerSync"

	// ProtocolVersion is the protocol revision this package speaks.
	ProtocolVersion = 1
)

// Message is implemented by every protocol message. Each message is one
// JSON object on the wire with a "type" discriminator and its fields inline.
type Message interface {
	// Type returns the wire discriminator for this message.
	Type() string
}

// Ping asks the device to report its current tick counter.
type Ping struct{}

// Type implements Message.
func (Ping) Type() string { return "ping" }

// VersionRequest asks the device to identify itself.
type VersionRequest struct{}

// Type implements Message.
func (VersionRequest) Type() string { return "version_request" }

// Pong is the device's answer to a Ping, carrying the tick counter
// sampled when the ping was handled.
type Pong struct {
	Tick uint64 `json:"tick"`
}

// Type implements Message.
func (Pong) Type() string { return "pong" }

// Trigger reports a button press edge, stamped with the device tick
// captured in the interrupt handler.
type Trigger struct {
	Tick uint64 `json:"tick"`
}

// Type implements Message.
func (Trigger) Type() string { return "trigger" }

// Version is the device's answer to a VersionRequest.
type Version struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
}

// Type implements Message.
func (Version) Type() string { return "version" }

// Matches reports whether the descriptor identifies a peer speaking the
// same protocol revision as this package.
func (v Version) Matches() bool {
	return v.Name == ProtocolName && v.Version == ProtocolVersion
}

// wireMessage mirrors the on-wire object: the type tag plus the union of
// all payload fields. Pointers distinguish absent fields from zero values.
type wireMessage struct {
	Type    string  `json:"type"`
	Tick    *uint64 `json:"tick,omitempty"`
	Name    *string `json:"name,omitempty"`
	Version *int    `json:"version,omitempty"`
}

// Marshal encodes a message as a single JSON object without a trailing
// newline.
func Marshal(m Message) ([]byte, error) {
	w := wireMessage{Type: m.Type()}

	switch v := m.(type) {
	case Ping, VersionRequest:
	case Pong:
		w.Tick = &v.Tick
	case Trigger:
		w.Tick = &v.Tick
	case Version:
		w.Name = &v.Name
		w.Version = &v.Version
	default:
		return nil, fmt.Errorf("unsupported message type %T", m)
	}

	return json.Marshal(&w)
}

// Unmarshal decodes a single JSON object into the matching message type.
// Messages with an unknown discriminator or missing required fields are
// rejected.
func Unmarshal(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}

	switch w.Type {
	case "ping":
		return Ping{}, nil

	case "version_request":
		return VersionRequest{}, nil

	case "pong":
		if w.Tick == nil {
			return nil, fmt.Errorf("pong message missing tick")
		}
		return Pong{Tick: *w.Tick}, nil

	case "trigger":
		if w.Tick == nil {
			return nil, fmt.Errorf("trigger message missing tick")
		}
		return Trigger{Tick: *w.Tick}, nil

	case "version":
		if w.Name == nil {
			return nil, fmt.Errorf("version message missing name")
		}
		if w.Version == nil {
			return nil, fmt.Errorf("version message missing version")
		}
		return Version{Name: *w.Name, Version: *w.Version}, nil

	case "":
		return nil, fmt.Errorf("message missing type")

	default:
		return nil, fmt.Errorf("unknown message type %q", w.Type)
	}
}
