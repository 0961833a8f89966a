// Package clientmanager indexes live sessions by id and by peer address so
// the server can look a socket up either way and broadcast across all of
// them.
package clientmanager

import (
	"sync"

	"github.com/go-eio/engine/internal/elog"
	"github.com/go-eio/engine/packet"
	"github.com/go-eio/engine/socket"
)

var clientLog = elog.New("engine:clients")

// ClientManager owns the two indices over live sessions: by session id
// (the lookup a request's sid query parameter resolves through) and by
// peer address (one address can in principle own more than one session,
// e.g. distinct browser tabs behind the same NAT).
type ClientManager struct {
	mu                  sync.RWMutex
	sessionByID         map[string]*socket.Socket
	sessionIDsByAddress map[string]map[string]struct{}
}

// New returns an empty ClientManager.
func New() *ClientManager {
	return &ClientManager{
		sessionByID:         make(map[string]*socket.Socket),
		sessionIDsByAddress: make(map[string]map[string]struct{}),
	}
}

// Add registers a newly connected socket and arranges for it to
// deregister itself automatically when it closes.
func (m *ClientManager) Add(s *socket.Socket) {
	m.mu.Lock()
	m.sessionByID[s.ID] = s
	addrs, ok := m.sessionIDsByAddress[s.PeerAddress]
	if !ok {
		addrs = make(map[string]struct{})
		m.sessionIDsByAddress[s.PeerAddress] = addrs
	}
	addrs[s.ID] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-s.OnClose()
		m.remove(s.ID, s.PeerAddress)
	}()
}

func (m *ClientManager) remove(id, addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessionByID, id)
	if addrs, ok := m.sessionIDsByAddress[addr]; ok {
		delete(addrs, id)
		if len(addrs) == 0 {
			delete(m.sessionIDsByAddress, addr)
		}
	}
}

// Get resolves a session id to its socket.
func (m *ClientManager) Get(id string) (*socket.Socket, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessionByID[id]
	return s, ok
}

// Count reports the number of currently tracked sessions.
func (m *ClientManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessionByID)
}

// SocketsByAddress returns every live session owned by the given peer
// address.
func (m *ClientManager) SocketsByAddress(addr string) []*socket.Socket {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids, ok := m.sessionIDsByAddress[addr]
	if !ok {
		return nil
	}
	sockets := make([]*socket.Socket, 0, len(ids))
	for id := range ids {
		if s, ok := m.sessionByID[id]; ok {
			sockets = append(sockets, s)
		}
	}
	return sockets
}

// Broadcast sends a packet to every tracked session's current transport.
func (m *ClientManager) Broadcast(p *packet.Packet) {
	m.mu.RLock()
	sockets := make([]*socket.Socket, 0, len(m.sessionByID))
	for _, s := range m.sessionByID {
		sockets = append(sockets, s)
	}
	m.mu.RUnlock()

	for _, s := range sockets {
		if err := s.Send(p); err != nil {
			clientLog.Debug("broadcast send to %s failed: %v", s.ID, err)
		}
	}
}

// CloseAll tears down every tracked session, used on server shutdown.
func (m *ClientManager) CloseAll(reason error) {
	m.mu.RLock()
	sockets := make([]*socket.Socket, 0, len(m.sessionByID))
	for _, s := range m.sessionByID {
		sockets = append(sockets, s)
	}
	m.mu.RUnlock()

	for _, s := range sockets {
		s.Close(reason)
	}
}
