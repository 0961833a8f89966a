package packet

// OpenPayload is the JSON body carried by the first packet of a session.
// Field order matches the wire contract exactly;
// encoding/json marshals struct fields in declaration order.
type OpenPayload struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int64    `json:"pingInterval"`
	PingTimeout  int64    `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload"`
}

// Packet is a tagged variant over Type. Only the fields relevant to Type
// are meaningful; callers should use the constructors below rather than
// populating Packet literals directly.
type Packet struct {
	Type Type

	// Open carries the handshake payload. Only set when Type == Open.
	Open *OpenPayload

	// Probe distinguishes a heartbeat ping/pong from an upgrade probe
	// ping/pong. Only meaningful when Type == Ping or Type == Pong.
	Probe bool

	// Text carries the message body. Only set when Type == TextMessage.
	Text string

	// Binary carries the message body. Only set when Type == BinaryMessage.
	Binary []byte
}

// IsBinary reports whether p carries a binary message payload.
func (p *Packet) IsBinary() bool { return p.Type == BinaryMessage }

// IsJSON reports whether p's payload is a JSON document (true only for Open).
func (p *Packet) IsJSON() bool { return p.Type == Open }

func NewOpen(payload OpenPayload) *Packet {
	return &Packet{Type: Open, Open: &payload}
}

func NewClose() *Packet { return &Packet{Type: Close} }

func NewPing(probe bool) *Packet { return &Packet{Type: Ping, Probe: probe} }

func NewPong(probe bool) *Packet { return &Packet{Type: Pong, Probe: probe} }

func NewText(s string) *Packet { return &Packet{Type: TextMessage, Text: s} }

func NewBinary(b []byte) *Packet {
	cp := make([]byte, len(b))
	copy(cp, b)
	return &Packet{Type: BinaryMessage, Binary: cp}
}

func NewUpgrade() *Packet { return &Packet{Type: Upgrade} }

func NewNoop() *Packet { return &Packet{Type: Noop} }

// Equal reports structural equality, used by the codec round-trip tests.
func (p *Packet) Equal(o *Packet) bool {
	if p == nil || o == nil {
		return p == o
	}
	if p.Type != o.Type {
		return false
	}
	switch p.Type {
	case Open:
		if p.Open == nil || o.Open == nil {
			return p.Open == o.Open
		}
		if p.Open.SID != o.Open.SID || p.Open.PingInterval != o.Open.PingInterval ||
			p.Open.PingTimeout != o.Open.PingTimeout || p.Open.MaxPayload != o.Open.MaxPayload {
			return false
		}
		if len(p.Open.Upgrades) != len(o.Open.Upgrades) {
			return false
		}
		for i := range p.Open.Upgrades {
			if p.Open.Upgrades[i] != o.Open.Upgrades[i] {
				return false
			}
		}
		return true
	case Ping, Pong:
		return p.Probe == o.Probe
	case TextMessage:
		return p.Text == o.Text
	case BinaryMessage:
		if len(p.Binary) != len(o.Binary) {
			return false
		}
		for i := range p.Binary {
			if p.Binary[i] != o.Binary[i] {
				return false
			}
		}
		return true
	default:
		return true
	}
}
