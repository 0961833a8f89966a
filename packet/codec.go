package packet

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrFormat is the sentinel wrapped by every decode failure. Callers that
// need to map it onto the transport-level error taxonomy should match on
// errors.Is(err, ErrFormat).
var ErrFormat = errors.New("packet: format error")

func formatErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrFormat}, args...)...)
}

// Encode renders p as its wire representation: a one-character type id
// followed by the type-specific payload.
func Encode(p *Packet) (string, error) {
	if p == nil {
		return "", formatErrorf("nil packet")
	}
	if !p.Type.IsValid() {
		return "", formatErrorf("unknown packet type %q", byte(p.Type))
	}

	var payload string
	switch p.Type {
	case Open:
		if p.Open == nil {
			return "", formatErrorf("open packet missing payload")
		}
		data, err := json.Marshal(p.Open)
		if err != nil {
			return "", fmt.Errorf("%w: encoding open payload: %w", ErrFormat, err)
		}
		payload = string(data)
	case Close, Upgrade, Noop:
		payload = ""
	case Ping, Pong:
		if p.Probe {
			payload = "probe"
		} else {
			payload = ""
		}
	case TextMessage:
		payload = p.Text
	case BinaryMessage:
		payload = base64.StdEncoding.EncodeToString(p.Binary)
	}

	return string(p.Type) + payload, nil
}

// Decode parses s against the wire grammar `^([0-6b])(.*)$` and dispatches
// the remainder to the type-specific payload parser.
func Decode(s string) (*Packet, error) {
	if len(s) == 0 {
		return nil, formatErrorf("empty packet")
	}

	t := Type(s[0])
	if !t.IsValid() {
		return nil, formatErrorf("unknown type id %q", s[0])
	}
	payload := s[1:]

	switch t {
	case Open:
		return decodeOpen(payload)
	case Close:
		if payload != "" {
			return nil, formatErrorf("close packet must have empty payload")
		}
		return NewClose(), nil
	case Upgrade:
		if payload != "" {
			return nil, formatErrorf("upgrade packet must have empty payload")
		}
		return NewUpgrade(), nil
	case Noop:
		if payload != "" {
			return nil, formatErrorf("noop packet must have empty payload")
		}
		return NewNoop(), nil
	case Ping:
		probe, err := decodeProbe(payload)
		if err != nil {
			return nil, err
		}
		return NewPing(probe), nil
	case Pong:
		probe, err := decodeProbe(payload)
		if err != nil {
			return nil, err
		}
		return NewPong(probe), nil
	case TextMessage:
		return NewText(payload), nil
	case BinaryMessage:
		if payload == "" {
			return NewBinary(nil), nil
		}
		b, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid base64 payload: %w", ErrFormat, err)
		}
		return NewBinary(b), nil
	default:
		return nil, formatErrorf("unknown type id %q", s[0])
	}
}

func decodeProbe(payload string) (bool, error) {
	switch payload {
	case "":
		return false, nil
	case "probe":
		return true, nil
	default:
		return false, formatErrorf("invalid ping/pong payload %q", payload)
	}
}

func decodeOpen(payload string) (*Packet, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("%w: invalid open payload: %w", ErrFormat, err)
	}

	sid, err := requireString(raw, "sid")
	if err != nil {
		return nil, err
	}
	upgradesRaw, ok := raw["upgrades"]
	if !ok {
		return nil, formatErrorf("open payload missing %q", "upgrades")
	}
	var upgradeNames []string
	if err := json.Unmarshal(upgradesRaw, &upgradeNames); err != nil {
		return nil, fmt.Errorf("%w: %q must be an array of strings: %w", ErrFormat, "upgrades", err)
	}
	for _, name := range upgradeNames {
		if _, ok := ParseConnectionType(name); !ok {
			return nil, formatErrorf("unknown connection type %q in upgrades", name)
		}
	}

	pingInterval, err := requireInt(raw, "pingInterval")
	if err != nil {
		return nil, err
	}
	pingTimeout, err := requireInt(raw, "pingTimeout")
	if err != nil {
		return nil, err
	}
	maxPayload, err := requireInt(raw, "maxPayload")
	if err != nil {
		return nil, err
	}

	return NewOpen(OpenPayload{
		SID:          sid,
		Upgrades:     upgradeNames,
		PingInterval: pingInterval,
		PingTimeout:  pingTimeout,
		MaxPayload:   int(maxPayload),
	}), nil
}

func requireString(raw map[string]json.RawMessage, key string) (string, error) {
	v, ok := raw[key]
	if !ok {
		return "", formatErrorf("open payload missing %q", key)
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", fmt.Errorf("%w: %q must be a string: %w", ErrFormat, key, err)
	}
	return s, nil
}

func requireInt(raw map[string]json.RawMessage, key string) (int64, error) {
	v, ok := raw[key]
	if !ok {
		return 0, formatErrorf("open payload missing %q", key)
	}
	var n int64
	if err := json.Unmarshal(v, &n); err != nil {
		return 0, fmt.Errorf("%w: %q must be an integer: %w", ErrFormat, key, err)
	}
	return n, nil
}
