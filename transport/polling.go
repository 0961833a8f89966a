package transport

import (
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-eio/engine/eioerr"
	"github.com/go-eio/engine/internal/elog"
	"github.com/go-eio/engine/packet"
)

var pollingLog = elog.New("engine:polling")

// Polling is the long-polling transport: one GET-in-flight gate serving the
// outbound queue, one POST-in-flight gate ingesting packets.
type Polling interface {
	Transport

	// Receive ingests a POST request body.
	Receive(w http.ResponseWriter, r *http.Request) *eioerr.EngineException

	// Offload drains the outbound queue onto a GET response.
	Offload(w http.ResponseWriter, r *http.Request) *eioerr.EngineException

	// HandleUpgradeRequest performs the RFC 6455 handshake and, on
	// success, returns a fresh WebSocket transport that the Socket should
	// install as its probe.
	HandleUpgradeRequest(w http.ResponseWriter, r *http.Request) (Transport, *eioerr.EngineException)

	// DrainQueue empties and returns the outbound queue, for transfer onto
	// a transport that is replacing this one after an upgrade.
	DrainQueue() []*packet.Packet
}

type polling struct {
	base

	maxChunkBytes int

	queueMu sync.Mutex
	queue   []*packet.Packet

	gateMu       sync.Mutex
	getInFlight  bool
	postInFlight bool
}

// NewPolling constructs an idle polling transport.
func NewPolling(maxChunkBytes int) Polling {
	return &polling{maxChunkBytes: maxChunkBytes}
}

func (p *polling) Type() packet.ConnectionType { return packet.Polling }

func (p *polling) Send(packets ...*packet.Packet) error {
	p.queueMu.Lock()
	p.queue = append(p.queue, packets...)
	p.queueMu.Unlock()
	return nil
}

func (p *polling) Close(reason error) {
	if !p.markClosed() {
		return
	}
	pollingLog.Debug("closing polling transport: %v", reason)
	p.emitClose()
}

func (p *polling) Receive(w http.ResponseWriter, r *http.Request) *eioerr.EngineException {
	p.gateMu.Lock()
	if p.postInFlight {
		p.gateMu.Unlock()
		return p.fail(w, eioerr.ErrDuplicatePostRequest)
	}
	p.postInFlight = true
	p.gateMu.Unlock()
	defer func() {
		p.gateMu.Lock()
		p.postInFlight = false
		p.gateMu.Unlock()
	}()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return p.fail(w, eioerr.Wrap(eioerr.ErrReadingBodyFailed, err))
	}

	if r.ContentLength >= 0 && int64(len(body)) != r.ContentLength {
		return p.fail(w, eioerr.ErrContentLengthDisparity)
	}
	if len(body) > p.maxChunkBytes {
		return p.fail(w, eioerr.ErrContentLengthLimitExceeded)
	}
	if len(body) == 0 {
		w.WriteHeader(http.StatusOK)
		return nil
	}

	if !utf8.Valid(body) {
		return p.fail(w, eioerr.ErrDecodingBodyFailed)
	}

	segments := strings.Split(string(body), string(recordSeparator))
	packets := make([]*packet.Packet, 0, len(segments))
	for _, seg := range segments {
		pk, err := packet.Decode(seg)
		if err != nil {
			return p.fail(w, eioerr.Wrap(eioerr.ErrDecodingPacketsFailed, err))
		}
		packets = append(packets, pk)
	}

	inferred := inferContentType(packets)
	specified := r.Header.Get("Content-Type")
	if specified == "" {
		if inferred != "text/plain" {
			return p.fail(w, eioerr.ErrContentTypeDifferentToImplicit)
		}
	} else {
		mediaType, _, err := mime.ParseMediaType(specified)
		if err != nil {
			mediaType = specified
		}
		if mediaType != inferred {
			return p.fail(w, eioerr.ErrContentTypeDifferentToSpecified)
		}
	}

	for _, pk := range packets {
		p.emitPacket(pk)
	}

	w.WriteHeader(http.StatusOK)
	return nil
}

func (p *polling) Offload(w http.ResponseWriter, r *http.Request) *eioerr.EngineException {
	p.gateMu.Lock()
	if p.getInFlight {
		p.gateMu.Unlock()
		return p.fail(w, eioerr.ErrDuplicateGetRequest)
	}
	p.getInFlight = true
	p.gateMu.Unlock()
	defer func() {
		p.gateMu.Lock()
		p.getInFlight = false
		p.gateMu.Unlock()
	}()

	p.queueMu.Lock()
	pending := p.queue
	p.queueMu.Unlock()

	if len(pending) == 0 {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		return nil
	}

	included, encoded, total := greedyBatch(pending, p.maxChunkBytes)

	p.queueMu.Lock()
	p.queue = p.queue[len(included):]
	p.queueMu.Unlock()

	body := strings.Join(encoded, string(recordSeparator))
	w.Header().Set("Content-Type", inferContentType(included))
	w.Header().Set("Content-Length", strconv.Itoa(total))
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, body)
	return nil
}

// greedyBatch includes packets FIFO while the running total (payload bytes
// plus one record-separator byte between consecutive packets) stays at or
// below max. The first packet is always included even if it alone exceeds
// max, since there is no way to split a single packet across responses.
func greedyBatch(pending []*packet.Packet, max int) (included []*packet.Packet, encoded []string, total int) {
	for i, pk := range pending {
		s, err := packet.Encode(pk)
		if err != nil {
			continue
		}
		addition := len(s)
		if i > 0 {
			addition++ // record separator
		}
		if total+addition > max {
			if len(included) == 0 {
				included = append(included, pk)
				encoded = append(encoded, s)
				total += len(s)
			}
			break
		}
		included = append(included, pk)
		encoded = append(encoded, s)
		total += addition
	}
	return included, encoded, total
}

func (p *polling) fail(w http.ResponseWriter, exc *eioerr.EngineException) *eioerr.EngineException {
	pollingLog.Debug("polling failure: %v", exc)
	p.emitException(exc)
	http.Error(w, exc.Reason, exc.StatusCode)
	return exc
}

func (p *polling) DrainQueue() []*packet.Packet {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()
	drained := p.queue
	p.queue = nil
	return drained
}

func (p *polling) HandleUpgradeRequest(w http.ResponseWriter, r *http.Request) (Transport, *eioerr.EngineException) {
	ws, exc := UpgradeToWebSocket(w, r, p.maxChunkBytes)
	if exc != nil {
		p.emitException(exc)
		return nil, exc
	}
	return ws, nil
}

// UpgradeToWebSocket performs the RFC 6455 handshake directly, without an
// existing polling transport. It is used both by Polling.HandleUpgradeRequest
// and by the server for a client whose very first request names the
// websocket transport.
func UpgradeToWebSocket(w http.ResponseWriter, r *http.Request, maxChunkBytes int) (Transport, *eioerr.EngineException) {
	ws, err := newWebSocketFromRequest(w, r, maxChunkBytes)
	if err != nil {
		exc := eioerr.Wrap(eioerr.ErrUpgradeRequestInvalid, err)
		http.Error(w, exc.Reason, exc.StatusCode)
		return nil, exc
	}
	return ws, nil
}
