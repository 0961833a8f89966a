// Package packet implements the Engine.IO v4 wire packet grammar: the
// closed set of packet types, the typed packet variant, and its
// encode/decode pair.
package packet

// Type is a single-character Engine.IO packet type identifier.
type Type byte

// The eight Engine.IO v4 packet types, identified on the wire by a single
// ASCII character.
const (
	Open          Type = '0'
	Close         Type = '1'
	Ping          Type = '2'
	Pong          Type = '3'
	TextMessage   Type = '4'
	Upgrade       Type = '5'
	Noop          Type = '6'
	BinaryMessage Type = 'b'
)

// IsValid reports whether t is one of the eight known packet types.
func (t Type) IsValid() bool {
	switch t {
	case Open, Close, Ping, Pong, TextMessage, Upgrade, Noop, BinaryMessage:
		return true
	default:
		return false
	}
}

func (t Type) String() string {
	switch t {
	case Open:
		return "open"
	case Close:
		return "close"
	case Ping:
		return "ping"
	case Pong:
		return "pong"
	case TextMessage:
		return "message"
	case Upgrade:
		return "upgrade"
	case Noop:
		return "noop"
	case BinaryMessage:
		return "message"
	default:
		return "unknown"
	}
}

// ConnectionType is the closed set of transports a session can be bound to.
type ConnectionType string

const (
	Polling   ConnectionType = "polling"
	WebSocket ConnectionType = "websocket"
)

// IsValid reports whether c names a known connection type.
func (c ConnectionType) IsValid() bool {
	switch c {
	case Polling, WebSocket:
		return true
	default:
		return false
	}
}

// UpgradesTo lists the connection types c may upgrade to.
func (c ConnectionType) UpgradesTo() []ConnectionType {
	if c == Polling {
		return []ConnectionType{WebSocket}
	}
	return nil
}

// CanUpgradeTo reports whether c may upgrade to o.
func (c ConnectionType) CanUpgradeTo(o ConnectionType) bool {
	for _, t := range c.UpgradesTo() {
		if t == o {
			return true
		}
	}
	return false
}

// ParseConnectionType maps a lowercase connection type name to its
// ConnectionType, failing on anything not in the closed set.
func ParseConnectionType(name string) (ConnectionType, bool) {
	c := ConnectionType(name)
	return c, c.IsValid()
}
