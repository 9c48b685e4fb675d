// ABOUTME: Tests for the host sync engine
// ABOUTME: Drives a scripted device peer over an in-memory pipe
package triggersync

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/TriggerSync-Protocol/triggersync-go/pkg/protocol"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// testPeer is the scripted device end of the pipe.
type testPeer struct {
	t    *testing.T
	conn net.Conn
	enc  *protocol.Encoder
	dec  *protocol.Decoder
}

func (p *testPeer) expect(msgType string) protocol.Message {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	msg, err := p.dec.Decode()
	if err != nil {
		p.t.Fatalf("reading %s: %v", msgType, err)
	}
	if msg.Type() != msgType {
		p.t.Fatalf("expected %s, got %s", msgType, msg.Type())
	}
	return msg
}

func (p *testPeer) send(m protocol.Message) {
	p.t.Helper()
	p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := p.enc.Encode(m); err != nil {
		p.t.Fatalf("sending %s: %v", m.Type(), err)
	}
}

// completeHandshake answers the host's version request.
func (p *testPeer) completeHandshake() {
	p.t.Helper()
	p.expect("version_request")
	p.send(protocol.Version{Name: protocol.ProtocolName, Version: protocol.ProtocolVersion})
}

// respondToPings answers every ping with a tick equal to the elapsed
// microseconds since base, emulating a 1MHz device counter that started
// at the host's base instant. Exits when the pipe closes.
func (p *testPeer) respondToPings(base time.Time) {
	p.conn.SetReadDeadline(time.Time{})
	for {
		msg, err := p.dec.Decode()
		if err != nil {
			return
		}
		if _, ok := msg.(protocol.Ping); ok {
			tick := uint64(time.Since(base).Microseconds())
			if err := p.enc.Encode(protocol.Pong{Tick: tick}); err != nil {
				return
			}
		}
	}
}

func startHost(t *testing.T, cfg HostConfig) (*Host, *testPeer, chan error, context.CancelFunc) {
	t.Helper()
	hostEnd, deviceEnd := net.Pipe()
	host := NewHost(hostEnd, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- host.Run(ctx) }()

	peer := &testPeer{
		t:    t,
		conn: deviceEnd,
		enc:  protocol.NewEncoder(deviceEnd),
		dec:  protocol.NewDecoder(deviceEnd),
	}

	t.Cleanup(func() {
		cancel()
		hostEnd.Close()
		deviceEnd.Close()
	})
	return host, peer, errCh, cancel
}

func TestHostHandshakeVerifiesDevice(t *testing.T) {
	host, peer, errCh, cancel := startHost(t, HostConfig{})

	if got := host.Stats().State; got != StateAwaitingVersion {
		t.Errorf("initial state = %v, want awaiting version", got)
	}

	peer.completeHandshake()
	waitFor(t, "handshake", func() bool {
		return host.Stats().State == StateSynchronizing
	})

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("host did not stop")
	}
}

func TestHostRejectsVersionMismatch(t *testing.T) {
	_, peer, errCh, _ := startHost(t, HostConfig{})

	peer.expect("version_request")
	peer.send(protocol.Version{Name: protocol.ProtocolName, Version: 2})

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrVersionMismatch) {
			t.Errorf("expected ErrVersionMismatch, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("host did not halt on version mismatch")
	}
}

func TestHostHandshakeTimeout(t *testing.T) {
	_, peer, errCh, _ := startHost(t, HostConfig{HandshakeTimeout: 50 * time.Millisecond})

	// Read the request but never answer it.
	peer.expect("version_request")

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrHandshakeTimeout) {
			t.Errorf("expected ErrHandshakeTimeout, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("host did not halt on handshake timeout")
	}
}

func TestHostPingsFeedClockModel(t *testing.T) {
	host, peer, _, _ := startHost(t, HostConfig{PingInterval: 5 * time.Millisecond})

	base := time.Now()
	peer.completeHandshake()
	go peer.respondToPings(base)

	waitFor(t, "clock model fit", func() bool {
		return host.Stats().Model.Ready
	})

	stats := host.Stats()
	if stats.PongsReceived < 10 {
		t.Errorf("model ready after only %d pongs", stats.PongsReceived)
	}
	if stats.Model.Accepted < 10 {
		t.Errorf("model accepted %d samples, want at least 10", stats.Model.Accepted)
	}
}

type recordingSink struct {
	events chan Event
}

func (r *recordingSink) HandleTrigger(e Event) error {
	r.events <- e
	return nil
}

func TestHostResolvesTriggerToSink(t *testing.T) {
	sink := &recordingSink{events: make(chan Event, 16)}
	host, peer, _, _ := startHost(t, HostConfig{
		PingInterval: 5 * time.Millisecond,
		Sink:         sink,
	})

	base := time.Now()
	peer.completeHandshake()
	go peer.respondToPings(base)

	waitFor(t, "clock model fit", func() bool {
		return host.Stats().Model.Ready
	})

	triggerTick := uint64(time.Since(base).Microseconds())
	peer.send(protocol.Trigger{Tick: triggerTick})

	select {
	case event := <-sink.events:
		if event.Tick != triggerTick {
			t.Errorf("event tick = %d, want %d", event.Tick, triggerTick)
		}
		if event.Sequence != 1 {
			t.Errorf("event sequence = %d, want 1", event.Sequence)
		}
		// The peer's counter tracks real time, so the resolved instant
		// must land near the moment the trigger was stamped.
		want := base.Add(time.Duration(triggerTick) * time.Microsecond)
		if d := event.Time.Sub(want); d < -100*time.Millisecond || d > 100*time.Millisecond {
			t.Errorf("resolved time off by %v", d)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("sink never received the trigger")
	}

	if got := host.Stats().TriggersResolved; got != 1 {
		t.Errorf("TriggersResolved = %d, want 1", got)
	}
}

func TestHostCountsLostEventDuringWarmup(t *testing.T) {
	sink := &recordingSink{events: make(chan Event, 16)}
	host, peer, _, _ := startHost(t, HostConfig{
		PingInterval: time.Hour, // no pings, model stays cold
		Sink:         sink,
	})

	peer.completeHandshake()
	peer.send(protocol.Trigger{Tick: 555})

	waitFor(t, "lost event", func() bool {
		return host.Stats().TriggersLost == 1
	})

	select {
	case event := <-sink.events:
		t.Errorf("unresolvable trigger reached the sink: %+v", event)
	default:
	}
	if got := host.Stats().TriggersResolved; got != 0 {
		t.Errorf("TriggersResolved = %d, want 0", got)
	}
}

func TestHostIgnoresPongWithoutPing(t *testing.T) {
	host, peer, _, _ := startHost(t, HostConfig{PingInterval: time.Hour})

	peer.completeHandshake()
	waitFor(t, "handshake", func() bool {
		return host.Stats().State == StateSynchronizing
	})

	peer.send(protocol.Pong{Tick: 42})
	time.Sleep(50 * time.Millisecond)

	stats := host.Stats()
	if stats.PongsReceived != 0 {
		t.Errorf("unsolicited pong counted: PongsReceived = %d", stats.PongsReceived)
	}
	if stats.Model.Accepted != 0 {
		t.Errorf("unsolicited pong reached the model: %+v", stats.Model)
	}
}
