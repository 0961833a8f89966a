package socket

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-eio/engine/config"
	"github.com/go-eio/engine/eioerr"
	"github.com/go-eio/engine/packet"
	"github.com/go-eio/engine/transport"
)

// fakeTransport is an in-memory stand-in for transport.Transport, letting
// tests drive packets into a Socket and observe what it sends back without
// any real network I/O.
type fakeTransport struct {
	kind     packet.ConnectionType
	handlers transport.Handlers
	sent     []*packet.Packet
	closed   bool
	closeErr error
}

func newFakeTransport(kind packet.ConnectionType) *fakeTransport {
	return &fakeTransport{kind: kind}
}

func (f *fakeTransport) Type() packet.ConnectionType      { return f.kind }
func (f *fakeTransport) SetHandlers(h transport.Handlers) { f.handlers = h }
func (f *fakeTransport) Closed() bool                     { return f.closed }

func (f *fakeTransport) Send(packets ...*packet.Packet) error {
	f.sent = append(f.sent, packets...)
	return nil
}

func (f *fakeTransport) Close(reason error) {
	if f.closed {
		return
	}
	f.closed = true
	f.closeErr = reason
	if f.handlers.OnClose != nil {
		f.handlers.OnClose()
	}
}

func (f *fakeTransport) deliver(p *packet.Packet) {
	f.handlers.OnPacket(p)
}

func newTestSocket(t *testing.T) (*Socket, *fakeTransport) {
	t.Helper()
	origin := newFakeTransport(packet.Polling)
	opts := config.ConnectionOptions{
		AvailableConnectionTypes: []packet.ConnectionType{packet.Polling, packet.WebSocket},
		HeartbeatInterval:        time.Hour,
		HeartbeatTimeout:         time.Hour,
		MaximumChunkBytes:        1_000_000,
	}
	s := New("sid-1", "10.0.0.1", origin, opts, 15*time.Second)
	return s, origin
}

func TestSocketEmitsOnMessage(t *testing.T) {
	s, origin := newTestSocket(t)
	messages := s.OnMessage()

	origin.deliver(packet.NewText("hello"))

	select {
	case p := <-messages:
		assert.Equal(t, "hello", p.Text)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for onMessage")
	}
}

func TestSocketHeartbeatRoundTrip(t *testing.T) {
	origin := newFakeTransport(packet.Polling)
	opts := config.ConnectionOptions{
		AvailableConnectionTypes: []packet.ConnectionType{packet.Polling, packet.WebSocket},
		HeartbeatInterval:        10 * time.Millisecond,
		HeartbeatTimeout:         time.Hour,
		MaximumChunkBytes:        1_000_000,
	}
	s := New("sid-1", "10.0.0.1", origin, opts, 15*time.Second)
	heartbeats := s.OnHeartbeat()

	// The short interval lets the heart's tick fire, which sets
	// isExpectingHeartbeat and sends the ping.
	require.Eventually(t, s.heart.IsExpectingHeartbeat, time.Second, 5*time.Millisecond)

	origin.deliver(packet.NewPong(false))

	select {
	case <-heartbeats:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for onHeartbeat")
	}
}

func TestSocketUnexpectedPongFails(t *testing.T) {
	s, origin := newTestSocket(t)
	exceptions := s.OnException()

	origin.deliver(packet.NewPong(false))

	select {
	case err := <-exceptions:
		assert.True(t, errors.Is(err, eioerr.ErrHeartbeatUnexpected))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for onException")
	}
}

func TestSocketPlainPingFromPeerIsIllegal(t *testing.T) {
	s, origin := newTestSocket(t)
	exceptions := s.OnException()

	origin.deliver(packet.NewPing(false))

	select {
	case err := <-exceptions:
		assert.True(t, errors.Is(err, eioerr.ErrPacketIllegal))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for onException")
	}
}

func TestSocketUpgradeLifecycle(t *testing.T) {
	s, origin := newTestSocket(t)
	upgrades := s.OnUpgrade()

	probe := newFakeTransport(packet.WebSocket)
	require.NoError(t, s.InitiateUpgrade(packet.WebSocket, probe))
	assert.Equal(t, UpgradeInitiated, s.State())

	probe.deliver(packet.NewPing(true))
	assert.Equal(t, UpgradeProbed, s.State())
	require.Len(t, probe.sent, 1)
	assert.Equal(t, packet.Pong, probe.sent[0].Type)
	assert.True(t, probe.sent[0].Probe)

	probe.deliver(packet.NewUpgrade())

	select {
	case got := <-upgrades:
		assert.Same(t, transport.Transport(probe), got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for onUpgrade")
	}
	assert.Equal(t, UpgradeNone, s.State())
	assert.Same(t, transport.Transport(probe), s.Transport())
	assert.True(t, origin.closed)

	exceptions := s.OnException()
	probe.deliver(packet.NewUpgrade())
	select {
	case err := <-exceptions:
		assert.True(t, errors.Is(err, eioerr.ErrTransportAlreadyUpgraded))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for onException on replayed upgrade packet")
	}
}

func TestSocketProbePingFromOriginIsRejected(t *testing.T) {
	s, origin := newTestSocket(t)
	probe := newFakeTransport(packet.WebSocket)
	require.NoError(t, s.InitiateUpgrade(packet.WebSocket, probe))

	exceptions := s.OnException()
	origin.deliver(packet.NewPing(true))

	select {
	case err := <-exceptions:
		assert.True(t, errors.Is(err, eioerr.ErrTransportIsOrigin))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for onException")
	}
}

func TestSocketUpgradeExceptionDoesNotCloseSession(t *testing.T) {
	s, origin := newTestSocket(t)
	probe := newFakeTransport(packet.WebSocket)
	require.NoError(t, s.InitiateUpgrade(packet.WebSocket, probe))

	closes := s.OnClose()
	probe.Close(errors.New("boom"))

	assert.Equal(t, UpgradeNone, s.State())
	assert.False(t, origin.closed)

	select {
	case <-closes:
		t.Fatal("socket should not close when only the probe fails")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSocketCloseIsIdempotentAndClosesSinks(t *testing.T) {
	s, origin := newTestSocket(t)
	closes := s.OnClose()

	s.Close(eioerr.ErrRequestedClosure)
	s.Close(eioerr.ErrRequestedClosure)

	assert.True(t, origin.closed)
	select {
	case err := <-closes:
		assert.True(t, errors.Is(err, eioerr.ErrRequestedClosure))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for onClose")
	}

	_, ok := <-s.OnMessage()
	assert.False(t, ok)
}
