package clientmanager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-eio/engine/config"
	"github.com/go-eio/engine/packet"
	"github.com/go-eio/engine/socket"
	"github.com/go-eio/engine/transport"
)

type fakeTransport struct {
	kind     packet.ConnectionType
	handlers transport.Handlers
	sent     []*packet.Packet
	closed   bool
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
	if f.handlers.OnClose != nil {
		f.handlers.OnClose()
	}
}

func newSocket(id, addr string) *socket.Socket {
	opts := config.ConnectionOptions{
		AvailableConnectionTypes: []packet.ConnectionType{packet.Polling, packet.WebSocket},
		HeartbeatInterval:        time.Hour,
		HeartbeatTimeout:         time.Hour,
		MaximumChunkBytes:        1_000_000,
	}
	return socket.New(id, addr, &fakeTransport{kind: packet.Polling}, opts, 15*time.Second)
}

func TestAddGetRemoveOnClose(t *testing.T) {
	m := New()
	s := newSocket("sid-1", "1.2.3.4")
	m.Add(s)

	got, ok := m.Get("sid-1")
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, 1, m.Count())
	assert.Len(t, m.SocketsByAddress("1.2.3.4"), 1)

	s.Close(nil)

	require.Eventually(t, func() bool {
		_, ok := m.Get("sid-1")
		return !ok
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, m.Count())
	assert.Empty(t, m.SocketsByAddress("1.2.3.4"))
}

func TestSocketsByAddressGroupsMultipleSessions(t *testing.T) {
	m := New()
	a := newSocket("sid-a", "9.9.9.9")
	b := newSocket("sid-b", "9.9.9.9")
	m.Add(a)
	m.Add(b)

	sockets := m.SocketsByAddress("9.9.9.9")
	assert.Len(t, sockets, 2)
}

func TestBroadcastSendsToEverySession(t *testing.T) {
	m := New()
	a := newSocket("sid-a", "1.1.1.1")
	b := newSocket("sid-b", "2.2.2.2")
	m.Add(a)
	m.Add(b)

	m.Broadcast(packet.NewNoop())

	at := a.Transport().(*fakeTransport)
	bt := b.Transport().(*fakeTransport)
	require.Len(t, at.sent, 1)
	require.Len(t, bt.sent, 1)
	assert.Equal(t, packet.Noop, at.sent[0].Type)
}

func TestCloseAllTearsDownEverySession(t *testing.T) {
	m := New()
	a := newSocket("sid-a", "1.1.1.1")
	m.Add(a)

	m.CloseAll(nil)

	require.Eventually(t, func() bool {
		return m.Count() == 0
	}, time.Second, 10*time.Millisecond)
}
