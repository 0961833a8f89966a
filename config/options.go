// Package config defines the tunables attached to an Engine.IO server and,
// derived from it, to each session.
package config

import (
	"io"
	"time"

	"github.com/go-eio/engine/packet"
)

const (
	DefaultPath              = "/engine.io/"
	DefaultHeartbeatInterval = 25 * time.Second
	DefaultHeartbeatTimeout  = 20 * time.Second
	DefaultUpgradeTimeout    = 15 * time.Second
	DefaultMaxHTTPBufferSize = 1_000_000
	DefaultCORSOrigin        = "*"
)

// ConnectionOptions is the immutable configuration attached to a session at
// handshake time.
type ConnectionOptions struct {
	AvailableConnectionTypes []packet.ConnectionType
	HeartbeatInterval        time.Duration
	HeartbeatTimeout         time.Duration
	MaximumChunkBytes        int
}

// ServerOptions configures a Server. Build one with New and ServerOption
// functions; the zero value is not meant to be used directly.
type ServerOptions struct {
	Path                     string
	AvailableConnectionTypes []packet.ConnectionType
	HeartbeatInterval        time.Duration
	HeartbeatTimeout         time.Duration
	UpgradeTimeout           time.Duration
	MaximumChunkBytes        int
	CORSOrigin               string
	InitialPacket            io.Reader
}

// ServerOption mutates a ServerOptions being built by New.
type ServerOption func(*ServerOptions)

// New builds a ServerOptions from defaults overridden by opts, in order.
func New(opts ...ServerOption) *ServerOptions {
	o := &ServerOptions{
		Path:                     DefaultPath,
		AvailableConnectionTypes: []packet.ConnectionType{packet.Polling, packet.WebSocket},
		HeartbeatInterval:        DefaultHeartbeatInterval,
		HeartbeatTimeout:         DefaultHeartbeatTimeout,
		UpgradeTimeout:           DefaultUpgradeTimeout,
		MaximumChunkBytes:        DefaultMaxHTTPBufferSize,
		CORSOrigin:               DefaultCORSOrigin,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func WithPath(path string) ServerOption {
	return func(o *ServerOptions) { o.Path = path }
}

func WithAvailableConnectionTypes(types ...packet.ConnectionType) ServerOption {
	return func(o *ServerOptions) { o.AvailableConnectionTypes = types }
}

func WithHeartbeat(interval, timeout time.Duration) ServerOption {
	return func(o *ServerOptions) {
		o.HeartbeatInterval = interval
		o.HeartbeatTimeout = timeout
	}
}

func WithUpgradeTimeout(d time.Duration) ServerOption {
	return func(o *ServerOptions) { o.UpgradeTimeout = d }
}

func WithMaximumChunkBytes(n int) ServerOption {
	return func(o *ServerOptions) { o.MaximumChunkBytes = n }
}

// WithCORSOrigin overrides the default "*" Access-Control-Allow-Origin
// response sent on preflight requests.
func WithCORSOrigin(origin string) ServerOption {
	return func(o *ServerOptions) { o.CORSOrigin = origin }
}

// WithInitialPacket sends a custom message packet immediately after the
// handshake's open packet. The reader is consumed once, so only the first
// session handshaken afterwards receives it.
func WithInitialPacket(r io.Reader) ServerOption {
	return func(o *ServerOptions) { o.InitialPacket = r }
}

// SupportsConnectionType reports whether c is among the server's
// configured available connection types.
func (o *ServerOptions) SupportsConnectionType(c packet.ConnectionType) bool {
	for _, t := range o.AvailableConnectionTypes {
		if t == c {
			return true
		}
	}
	return false
}

// ConnectionOptions derives the per-session configuration from o.
func (o *ServerOptions) ConnectionOptions() ConnectionOptions {
	return ConnectionOptions{
		AvailableConnectionTypes: o.AvailableConnectionTypes,
		HeartbeatInterval:        o.HeartbeatInterval,
		HeartbeatTimeout:         o.HeartbeatTimeout,
		MaximumChunkBytes:        o.MaximumChunkBytes,
	}
}
