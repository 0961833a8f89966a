package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-eio/engine/eioerr"
	"github.com/go-eio/engine/internal/elog"
	"github.com/go-eio/engine/packet"
	ws "github.com/gorilla/websocket"
)

var wsLog = elog.New("engine:ws")

type websocketTransport struct {
	base

	conn      *ws.Conn
	maxChunk  int
	writeMu   sync.Mutex
	closeCode int
	closeText string
}

// newWebSocketFromRequest performs the RFC 6455 server handshake by hand
// (header validation plus Sec-WebSocket-Accept derivation), then hands the
// hijacked connection to gorilla/websocket purely for framing. It never
// runs gorilla's own handshake/Upgrader path since the 101 response here
// is part of this transport's own wire contract.
func newWebSocketFromRequest(w http.ResponseWriter, r *http.Request, maxChunkBytes int) (*websocketTransport, error) {
	key, err := validateUpgradeRequest(r)
	if err != nil {
		return nil, err
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		return nil, errResponseNotHijackable
	}
	conn, rw, err := hj.Hijack()
	if err != nil {
		return nil, err
	}

	accept := acceptToken(key)
	response := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + accept + "\r\n\r\n"

	if _, err := rw.WriteString(response); err != nil {
		conn.Close()
		return nil, err
	}
	if err := rw.Flush(); err != nil {
		conn.Close()
		return nil, err
	}

	wsConn := ws.NewConn(conn, true, 4096, 4096)

	t := &websocketTransport{conn: wsConn, maxChunk: maxChunkBytes}
	go t.readLoop()
	return t, nil
}

func (t *websocketTransport) Type() packet.ConnectionType { return packet.WebSocket }

func (t *websocketTransport) readLoop() {
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			if !t.markClosed() {
				return
			}
			wsLog.Debug("read loop ended: %v", err)
			t.emitClose()
			return
		}

		switch mt {
		case ws.TextMessage:
			pk, err := packet.Decode(string(data))
			if err != nil {
				t.emitException(eioerr.Wrap(eioerr.ErrDecodingPacketFailed, err))
				continue
			}
			t.emitPacket(pk)
		case ws.BinaryMessage:
			t.emitPacket(packet.NewBinary(data))
		case ws.CloseMessage:
			t.Close(nil)
			return
		default:
			t.emitException(eioerr.ErrUnknownDataType)
		}
	}
}

func (t *websocketTransport) SetHandlers(h Handlers) { t.base.SetHandlers(h) }

// Send transmits BinaryMessage packets as raw binary frames and every other
// packet type as a text frame carrying Encode(packet).
func (t *websocketTransport) Send(packets ...*packet.Packet) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	for _, pk := range packets {
		if pk.Type == packet.BinaryMessage {
			if err := t.conn.WriteMessage(ws.BinaryMessage, pk.Binary); err != nil {
				return err
			}
			continue
		}
		s, err := packet.Encode(pk)
		if err != nil {
			return err
		}
		if err := t.conn.WriteMessage(ws.TextMessage, []byte(s)); err != nil {
			return err
		}
	}
	return nil
}

// Close is idempotent. If the caller attached a WebSocket status code via
// SetCloseCode, that code and reason are sent; otherwise a policy-violation
// (1008) close is sent.
func (t *websocketTransport) Close(reason error) {
	if !t.markClosed() {
		return
	}

	code := t.closeCode
	text := t.closeText
	if code == 0 {
		code = ws.ClosePolicyViolation
		if reason != nil {
			text = reason.Error()
		}
	}

	deadline := time.Now().Add(time.Second)
	t.writeMu.Lock()
	t.conn.WriteControl(ws.CloseMessage, ws.FormatCloseMessage(code, text), deadline)
	t.writeMu.Unlock()

	t.conn.Close()
	t.emitClose()
}

// SetCloseCode records the WebSocket status code/reason to send on the next
// Close call.
func (t *websocketTransport) SetCloseCode(code int, text string) {
	t.closeCode = code
	t.closeText = text
}
