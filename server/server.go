// Package server implements the HTTP entry point: request classification,
// handshake, and dispatch to the right transport or socket.
package server

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/go-eio/engine/clientmanager"
	"github.com/go-eio/engine/config"
	"github.com/go-eio/engine/eioerr"
	"github.com/go-eio/engine/internal/elog"
	"github.com/go-eio/engine/internal/sid"
	"github.com/go-eio/engine/packet"
	"github.com/go-eio/engine/socket"
	"github.com/go-eio/engine/transport"
)

var serverLog = elog.New("engine:server")

const protocolVersion = "4"

// ConnectEvent is delivered once per newly handshaken session.
type ConnectEvent struct {
	Request *http.Request
	Socket  *socket.Socket
}

// Server is the Engine.IO HTTP entry point: it classifies requests per the
// state machine, runs handshakes, and dispatches everything else to the
// owning socket's transport.
type Server struct {
	opts    *config.ServerOptions
	clients *clientmanager.ClientManager

	onConnect chan ConnectEvent

	closing bool
}

// New constructs a Server. Callers should read from OnConnect to learn
// about new sessions.
func New(opts *config.ServerOptions) *Server {
	if opts == nil {
		opts = config.New()
	}
	return &Server{
		opts:      opts,
		clients:   clientmanager.New(),
		onConnect: make(chan ConnectEvent, 64),
	}
}

// OnConnect streams newly handshaken sessions.
func (s *Server) OnConnect() <-chan ConnectEvent { return s.onConnect }

// Clients exposes the underlying client manager for lookups and broadcast.
func (s *Server) Clients() *clientmanager.ClientManager { return s.clients }

// Router returns an http.Handler wired with gorilla/mux the way the rest
// of a Go HTTP stack in this style would mount its routes, leaving path
// validation itself to ServeHTTP's own classification pipeline so a
// request for the wrong path still gets a protocol-shaped 403 rather than
// a router-level 404.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.PathPrefix("/").HandlerFunc(s.ServeHTTP)
	return r
}

// Close stops accepting new sessions and tears down every live one.
func (s *Server) Close(ctx context.Context) error {
	s.closing = true
	s.clients.CloseAll(eioerr.ErrServerClosing)
	return nil
}

// ServeHTTP implements the request classification pipeline.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	serverLog.Debug("handling %q request for %q", r.Method, r.URL.RequestURI())

	if r.URL.Path != s.opts.Path {
		s.abort(w, eioerr.ErrInvalidServerPath)
		return
	}

	if r.Method == http.MethodOptions {
		s.handlePreflight(w, r)
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		s.abort(w, eioerr.ErrMethodNotAllowed)
		return
	}

	if s.closing {
		s.abort(w, eioerr.ErrServerClosing)
		return
	}

	query := r.URL.Query()
	eio := query.Get("EIO")
	transportName := query.Get("transport")
	if eio == "" || transportName == "" {
		s.abort(w, eioerr.ErrMissingQueryParameter)
		return
	}

	version, err := strconv.Atoi(eio)
	if err != nil || version <= 0 {
		s.abort(w, eioerr.ErrUnsupportedProtocol)
		return
	}
	if strconv.Itoa(version) != protocolVersion {
		s.abort(w, eioerr.ErrUnsupportedProtocolVersion)
		return
	}

	connType, ok := packet.ParseConnectionType(transportName)
	if !ok {
		s.abort(w, eioerr.ErrUnknownTransport)
		return
	}
	if !s.opts.SupportsConnectionType(connType) {
		s.abort(w, eioerr.ErrTransportUnavailable)
		return
	}

	sessionID := strings.TrimSpace(query.Get("sid"))
	if sessionID == "" {
		s.handshake(w, r, connType)
		return
	}

	existing, ok := s.clients.Get(sessionID)
	if !ok {
		s.abort(w, eioerr.ErrInvalidSessionIdentifier)
		return
	}
	s.dispatch(w, r, existing, connType)
}

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Origin") == "" || r.Header.Get("Access-Control-Request-Method") == "" {
		s.abort(w, eioerr.ErrMethodNotAllowed)
		return
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", s.opts.CORSOrigin)
	h.Set("Access-Control-Allow-Methods", "GET, POST")
	h.Set("Access-Control-Max-Age", "86400")
	if s.opts.CORSOrigin != "*" {
		h.Set("Vary", "Origin")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handshake(w http.ResponseWriter, r *http.Request, connType packet.ConnectionType) {
	id, err := sid.New()
	if err != nil {
		s.abort(w, eioerr.Wrap(eioerr.ErrInvalidSessionIdentifier, err))
		return
	}

	var t transport.Transport
	if connType == packet.WebSocket {
		ws, exc := transport.UpgradeToWebSocket(w, r, s.opts.ConnectionOptions().MaximumChunkBytes)
		if exc != nil {
			return
		}
		t = ws
	} else {
		t = transport.NewPolling(s.opts.ConnectionOptions().MaximumChunkBytes)
	}

	sock := socket.New(id, r.RemoteAddr, t, s.opts.ConnectionOptions(), s.opts.UpgradeTimeout)
	s.clients.Add(sock)

	open := packet.NewOpen(packet.OpenPayload{
		SID:          id,
		Upgrades:     upgradeNames(s.opts.ConnectionOptions().AvailableConnectionTypes, connType),
		PingInterval: s.opts.HeartbeatInterval.Milliseconds(),
		PingTimeout:  s.opts.HeartbeatTimeout.Milliseconds(),
		MaxPayload:   s.opts.ConnectionOptions().MaximumChunkBytes,
	})

	select {
	case s.onConnect <- ConnectEvent{Request: r, Socket: sock}:
	default:
		serverLog.Debug("onConnect observer buffer full, dropping notification for %s", id)
	}

	initial := s.readInitialPacket()

	if connType == packet.WebSocket {
		packets := []*packet.Packet{open}
		if initial != nil {
			packets = append(packets, initial)
		}
		if err := sock.Send(packets[0]); err != nil {
			serverLog.Debug("sending open packet over websocket failed: %v", err)
		}
		for _, p := range packets[1:] {
			if err := sock.Send(p); err != nil {
				serverLog.Debug("sending initial packet over websocket failed: %v", err)
			}
		}
		return
	}

	if p, ok := t.(transport.Polling); ok {
		packets := []*packet.Packet{open}
		if initial != nil {
			packets = append(packets, initial)
		}
		if err := p.Send(packets...); err != nil {
			serverLog.Debug("enqueueing open packet failed: %v", err)
		}
		if exc := p.Offload(w, r); exc != nil {
			serverLog.Debug("offloading open packet failed: %v", exc)
		}
	}
}

// readInitialPacket drains the server's configured initial packet, if any,
// into a single text message sent right after the open packet. The
// configured reader is consumed at most once across the server's lifetime.
func (s *Server) readInitialPacket() *packet.Packet {
	if s.opts.InitialPacket == nil {
		return nil
	}
	body, err := io.ReadAll(s.opts.InitialPacket)
	s.opts.InitialPacket = nil
	if err != nil || len(body) == 0 {
		return nil
	}
	return packet.NewText(string(body))
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, sock *socket.Socket, connType packet.ConnectionType) {
	current := sock.Transport()

	if connType == packet.WebSocket && current.Type() == packet.Polling {
		p, ok := current.(transport.Polling)
		if !ok {
			s.abort(w, eioerr.ErrUpgradeRequestInvalid)
			return
		}
		probe, exc := p.HandleUpgradeRequest(w, r)
		if exc != nil {
			return
		}
		if err := sock.InitiateUpgrade(connType, probe); err != nil {
			probe.Close(err)
		}
		return
	}

	p, ok := current.(transport.Polling)
	if !ok {
		s.abort(w, eioerr.ErrMethodNotAllowed)
		return
	}

	if r.Method == http.MethodGet {
		if exc := p.Offload(w, r); exc != nil {
			serverLog.Debug("offload failed: %v", exc)
		}
		return
	}

	if exc := p.Receive(w, r); exc != nil {
		serverLog.Debug("receive failed: %v", exc)
	}
}

func (s *Server) abort(w http.ResponseWriter, exc *eioerr.EngineException) {
	serverLog.Debug("aborting request: %v", exc)
	http.Error(w, exc.Reason, exc.StatusCode)
}

func upgradeNames(available []packet.ConnectionType, current packet.ConnectionType) []string {
	names := make([]string, 0, len(available))
	for _, c := range available {
		if c != current && current.CanUpgradeTo(c) {
			names = append(names, string(c))
		}
	}
	return names
}
