// Package transport implements the two Engine.IO transports: HTTP
// long-polling and WebSocket. Both satisfy the Transport interface; a
// Socket owns one active Transport plus, during an upgrade, one probe.
package transport

import (
	"sync"

	"github.com/go-eio/engine/packet"
)

// Handlers are the callbacks a Transport's owner (the Socket) installs to
// receive inbound packets, exceptions, and transport-initiated closure.
// The transport never holds a reference to its Socket, only to these
// closures, so transport and socket never import one another.
type Handlers struct {
	OnPacket    func(*packet.Packet)
	OnException func(error)
	OnClose     func()
}

// Transport is the abstract contract shared by the polling and WebSocket
// transports.
type Transport interface {
	// Type reports which ConnectionType this transport implements.
	Type() packet.ConnectionType

	// SetHandlers installs the owner's callbacks. Must be called before the
	// transport is put into service.
	SetHandlers(Handlers)

	// Send writes one or more packets to the peer. For polling this
	// enqueues onto the outbound buffer for the next offload; for
	// WebSocket it writes immediately.
	Send(packets ...*packet.Packet) error

	// Close tears the transport down. reason may be nil for a clean close.
	Close(reason error)

	// Closed reports whether Close has already run.
	Closed() bool
}

type base struct {
	mu       sync.Mutex
	handlers Handlers
	closed   bool
}

func (b *base) SetHandlers(h Handlers) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = h
}

func (b *base) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *base) markClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.closed = true
	return true
}

func (b *base) emitPacket(p *packet.Packet) {
	b.mu.Lock()
	h := b.handlers.OnPacket
	b.mu.Unlock()
	if h != nil {
		h(p)
	}
}

func (b *base) emitException(err error) {
	b.mu.Lock()
	h := b.handlers.OnException
	b.mu.Unlock()
	if h != nil {
		h(err)
	}
}

func (b *base) emitClose() {
	b.mu.Lock()
	h := b.handlers.OnClose
	b.mu.Unlock()
	if h != nil {
		h()
	}
}

// inferContentType implements the content-type inference rule shared by
// POST validation and the offload response: binary beats JSON beats the
// implicit text/plain default.
func inferContentType(packets []*packet.Packet) string {
	sawJSON := false
	for _, p := range packets {
		if p.IsBinary() {
			return "application/octet-stream"
		}
		if p.IsJSON() {
			sawJSON = true
		}
	}
	if sawJSON {
		return "application/json"
	}
	return "text/plain"
}

const recordSeparator = '\x1e'
