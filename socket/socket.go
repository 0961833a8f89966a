// Package socket implements the Engine.IO session: the state machine that
// owns a client's current transport, arbitrates an in-progress upgrade,
// and drives the heartbeat.
package socket

import (
	"sync"
	"time"

	"github.com/go-eio/engine/config"
	"github.com/go-eio/engine/eioerr"
	"github.com/go-eio/engine/heartbeat"
	"github.com/go-eio/engine/internal/broadcast"
	"github.com/go-eio/engine/internal/elog"
	"github.com/go-eio/engine/packet"
	"github.com/go-eio/engine/transport"
)

var socketLog = elog.New("engine:socket")

// Socket is one client session: an id, a peer address, a current
// transport, and (during an upgrade) a probe transport racing to replace
// it.
type Socket struct {
	ID                string
	PeerAddress       string
	ConnectionOptions config.ConnectionOptions
	UpgradeTimeout    time.Duration

	mu           sync.Mutex
	current      transport.Transport
	probe        transport.Transport
	origin       transport.Transport
	state        UpgradeState
	upgraded     bool
	upgradeTimer *time.Timer
	heart        *heartbeat.Heart
	closed       bool

	onMessage             *broadcast.Sink[*packet.Packet]
	onHeartbeat           *broadcast.Sink[struct{}]
	onSend                *broadcast.Sink[*packet.Packet]
	onReceive             *broadcast.Sink[*packet.Packet]
	onInitiateUpgrade     *broadcast.Sink[transport.Transport]
	onUpgrade             *broadcast.Sink[transport.Transport]
	onUpgradeException    *broadcast.Sink[error]
	onTransportException  *broadcast.Sink[error]
	onTransportClose      *broadcast.Sink[struct{}]
	onException           *broadcast.Sink[error]
	onClose               *broadcast.Sink[error]
}

// New constructs a Socket around its first (origin) transport and starts
// the heartbeat timer.
func New(id, peerAddress string, origin transport.Transport, opts config.ConnectionOptions, upgradeTimeout time.Duration) *Socket {
	s := &Socket{
		ID:                id,
		PeerAddress:       peerAddress,
		ConnectionOptions: opts,
		UpgradeTimeout:    upgradeTimeout,
		current:           origin,
		state:             UpgradeNone,

		onMessage:             broadcast.New[*packet.Packet](),
		onHeartbeat:           broadcast.New[struct{}](),
		onSend:                broadcast.New[*packet.Packet](),
		onReceive:             broadcast.New[*packet.Packet](),
		onInitiateUpgrade:     broadcast.New[transport.Transport](),
		onUpgrade:             broadcast.New[transport.Transport](),
		onUpgradeException:    broadcast.New[error](),
		onTransportException:  broadcast.New[error](),
		onTransportClose:      broadcast.New[struct{}](),
		onException:           broadcast.New[error](),
		onClose:               broadcast.New[error](),
	}

	s.heart = heartbeat.New(opts.HeartbeatInterval, opts.HeartbeatTimeout,
		func() { s.sendHeartbeatPing() },
		func() { s.fail(eioerr.ErrHeartbeatTimedOut) },
	)

	s.wireTransport(origin, false)
	return s
}

func (s *Socket) sendHeartbeatPing() {
	if err := s.Send(packet.NewPing(false)); err != nil {
		socketLog.Debug("heartbeat ping send failed: %v", err)
	}
}

// Transport returns the socket's current live transport.
func (s *Socket) Transport() transport.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// State reports the upgrade coordinator's current state.
func (s *Socket) State() UpgradeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Socket) wireTransport(t transport.Transport, isProbe bool) {
	t.SetHandlers(transport.Handlers{
		OnPacket: func(p *packet.Packet) { s.processPacket(t, isProbe, p) },
		OnException: func(err error) {
			if isProbe {
				s.onUpgradeException.Emit(err)
				s.cancelUpgrade()
				return
			}
			s.onTransportException.Emit(err)
		},
		OnClose: func() {
			if isProbe {
				s.cancelUpgrade()
				return
			}
			s.onTransportClose.Emit(struct{}{})
			s.teardown(nil)
		},
	})
}

// Send writes a packet through the current transport and emits onSend.
func (s *Socket) Send(p *packet.Packet) error {
	s.mu.Lock()
	t := s.current
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return eioerr.ErrServerClosing
	}
	if err := t.Send(p); err != nil {
		return err
	}
	s.onSend.Emit(p)
	return nil
}

// InitiateUpgrade begins an upgrade to a freshly handshaken transport
// (the handshake itself already happened in the caller).
func (s *Socket) InitiateUpgrade(target packet.ConnectionType, newProbe transport.Transport) error {
	s.mu.Lock()

	if !s.current.Type().CanUpgradeTo(target) {
		s.mu.Unlock()
		return eioerr.ErrUpgradeCourseNotAllowed
	}

	if s.state != UpgradeNone {
		existing := s.probe
		s.probe = nil
		s.origin = nil
		s.state = UpgradeNone
		s.mu.Unlock()
		if existing != nil {
			existing.Close(eioerr.ErrUpgradeAlreadyInitiated)
		}
		return eioerr.ErrUpgradeAlreadyInitiated
	}

	s.probe = newProbe
	s.origin = s.current
	s.state = UpgradeInitiated
	timeout := s.UpgradeTimeout
	s.upgradeTimer = time.AfterFunc(timeout, s.cancelUpgrade)
	s.mu.Unlock()

	s.wireTransport(newProbe, true)
	s.onInitiateUpgrade.Emit(newProbe)
	return nil
}

func (s *Socket) cancelUpgrade() {
	s.mu.Lock()
	if s.state == UpgradeNone {
		s.mu.Unlock()
		return
	}
	probe := s.probe
	timer := s.upgradeTimer
	s.probe = nil
	s.origin = nil
	s.state = UpgradeNone
	s.upgradeTimer = nil
	s.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if probe != nil {
		probe.Close(eioerr.ErrConnectionClosedDuringUpgrade)
	}
}

// processPacket runs the upgrade state-machine rules against a packet
// arriving on transport t, then the remaining session-level rules.
// isProbe tells processPacket whether t is the probe or the socket's
// current transport.
func (s *Socket) processPacket(t transport.Transport, isProbe bool, p *packet.Packet) {
	defer s.onReceive.Emit(p)

	switch p.Type {
	case packet.Ping:
		if p.Probe {
			s.handleProbePing(t, isProbe)
			return
		}
		s.fail(eioerr.ErrPacketIllegal)
		return

	case packet.Pong:
		if p.Probe {
			s.fail(eioerr.ErrPacketIllegal)
			return
		}
		s.handlePong()
		return

	case packet.Upgrade:
		s.handleUpgradeComplete(t, isProbe)
		return

	case packet.Open, packet.Noop:
		s.fail(eioerr.ErrPacketIllegal)
		return

	case packet.Close:
		s.handlePeerClose(t, isProbe)
		return

	case packet.TextMessage, packet.BinaryMessage:
		s.onMessage.Emit(p)
		return
	}
}

// handleProbePing implements the `ping{probe}` row of the upgrade
// transition table.
func (s *Socket) handleProbePing(t transport.Transport, isProbe bool) {
	s.mu.Lock()
	if t == s.origin {
		s.mu.Unlock()
		s.fail(eioerr.ErrTransportIsOrigin)
		return
	}
	if s.state == UpgradeNone {
		s.mu.Unlock()
		s.fail(eioerr.ErrUpgradeNotUnderway)
		return
	}
	if s.state != UpgradeInitiated || !isProbe {
		s.mu.Unlock()
		s.fail(eioerr.ErrTransportAlreadyProbed)
		return
	}
	s.state = UpgradeProbed
	s.mu.Unlock()

	if err := t.Send(packet.NewPong(true)); err != nil {
		socketLog.Debug("probe pong send failed: %v", err)
	}
}

// handleUpgradeComplete implements the `upgrade` row: promote the probe to
// the socket's transport, transfer any queued outbound packets, and
// dispose of the origin.
func (s *Socket) handleUpgradeComplete(t transport.Transport, isProbe bool) {
	s.mu.Lock()
	if t == s.origin {
		s.mu.Unlock()
		s.fail(eioerr.ErrTransportIsOrigin)
		return
	}
	if s.upgraded {
		s.mu.Unlock()
		s.fail(eioerr.ErrTransportAlreadyUpgraded)
		return
	}
	if s.state != UpgradeProbed || !isProbe {
		s.mu.Unlock()
		s.fail(eioerr.ErrTransportNotProbed)
		return
	}

	origin := s.origin
	probe := s.probe
	timer := s.upgradeTimer

	s.current = probe
	s.state = UpgradeNone
	s.upgraded = true
	s.origin = nil
	s.probe = nil
	s.upgradeTimer = nil
	s.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if p, ok := origin.(transport.Polling); ok {
		if pending := p.DrainQueue(); len(pending) > 0 {
			if err := probe.Send(pending...); err != nil {
				socketLog.Debug("transferring queued packets onto upgraded transport failed: %v", err)
			}
		}
	}
	// The promoted transport is now the live one, and the disposed origin
	// must not report its own closure as the session's.
	s.wireTransport(probe, false)
	if origin != nil {
		origin.SetHandlers(transport.Handlers{})
		origin.Close(nil)
	}
	s.onUpgrade.Emit(probe)
}

// handlePong implements the `pong{non-probe}` session rule: reset the
// heartbeat on a timely pong, or fail if none was expected.
func (s *Socket) handlePong() {
	if !s.heart.IsExpectingHeartbeat() {
		s.fail(eioerr.ErrHeartbeatUnexpected)
		return
	}
	s.heart.Reset()
	s.onHeartbeat.Emit(struct{}{})
}

// handlePeerClose implements the `close` row: a peer-initiated close is a
// non-error signal. A close on the probe only cancels the upgrade; a close
// on the live transport tears down the whole session.
func (s *Socket) handlePeerClose(t transport.Transport, isProbe bool) {
	t.Close(nil)
	if isProbe {
		s.cancelUpgrade()
		return
	}
	s.teardown(eioerr.ErrRequestedClosure)
}

// fail reports a session-level protocol violation and destroys the
// session: the transport closes, every observer stream closes, and the
// ClientManager deregisters the session once OnClose fires.
func (s *Socket) fail(exc *eioerr.EngineException) {
	s.onException.Emit(exc)
	s.teardown(exc)
}

// Close tears the socket down: the heartbeat is disposed, any in-progress
// upgrade is cancelled, the current transport is closed, and every
// observer stream is closed exactly once.
func (s *Socket) Close(reason error) {
	s.teardown(reason)
}

func (s *Socket) teardown(reason error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	current := s.current
	probe := s.probe
	timer := s.upgradeTimer
	s.mu.Unlock()

	s.heart.Dispose()
	if timer != nil {
		timer.Stop()
	}
	if probe != nil {
		probe.Close(reason)
	}
	if current != nil {
		current.Close(reason)
	}

	s.onClose.Emit(reason)
	s.onMessage.Close()
	s.onHeartbeat.Close()
	s.onSend.Close()
	s.onReceive.Close()
	s.onInitiateUpgrade.Close()
	s.onUpgrade.Close()
	s.onUpgradeException.Close()
	s.onTransportException.Close()
	s.onTransportClose.Close()
	s.onException.Close()
	s.onClose.Close()
}

// OnMessage streams decoded text/binary payloads received from the peer.
func (s *Socket) OnMessage() <-chan *packet.Packet { return s.onMessage.Subscribe() }

// OnHeartbeat fires each time a valid pong resets the heartbeat.
func (s *Socket) OnHeartbeat() <-chan struct{} { return s.onHeartbeat.Subscribe() }

// OnSend fires for every packet successfully handed to the transport.
func (s *Socket) OnSend() <-chan *packet.Packet { return s.onSend.Subscribe() }

// OnReceive fires for every packet accepted from any transport, regardless
// of how it was subsequently handled.
func (s *Socket) OnReceive() <-chan *packet.Packet { return s.onReceive.Subscribe() }

// OnInitiateUpgrade fires when a probe transport is installed.
func (s *Socket) OnInitiateUpgrade() <-chan transport.Transport { return s.onInitiateUpgrade.Subscribe() }

// OnUpgrade fires once the probe has been promoted to the live transport.
func (s *Socket) OnUpgrade() <-chan transport.Transport { return s.onUpgrade.Subscribe() }

// OnUpgradeException fires for failures confined to the probe transport;
// the session survives these.
func (s *Socket) OnUpgradeException() <-chan error { return s.onUpgradeException.Subscribe() }

// OnTransportException fires for failures on the socket's live transport.
func (s *Socket) OnTransportException() <-chan error { return s.onTransportException.Subscribe() }

// OnTransportClose fires when the live transport closes itself.
func (s *Socket) OnTransportClose() <-chan struct{} { return s.onTransportClose.Subscribe() }

// OnException fires for session-level protocol violations.
func (s *Socket) OnException() <-chan error { return s.onException.Subscribe() }

// OnClose fires exactly once, when the socket is torn down.
func (s *Socket) OnClose() <-chan error { return s.onClose.Subscribe() }
