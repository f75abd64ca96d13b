package dtls

import (
	"crypto"
	"fmt"
	"hash"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"
)

// ReliableHandshakeAdapter is the Reliable Handshake Adapter (spec.md §2):
// the collaborator that receives and sends handshake messages, keeps the
// transcript hash, and is told when the hellos are done and when the
// handshake finishes. The driver calls ReceiveMessage at every suspension
// point (spec.md §5) and treats retransmission as opaque;
// defaultReliableHandshake below is the concrete adapter the default
// Accept path uses.
type ReliableHandshakeAdapter interface {
	// ReceiveMessage blocks until one complete handshake message has been
	// reassembled from the underlying datagram transport, or receiving
	// fails. It may retransmit the last outgoing flight internally while
	// waiting.
	ReceiveMessage() (HandshakeType, []byte, error)
	// SendMessage appends one message to the current outgoing flight.
	// Messages are queued, not necessarily sent immediately, so the
	// caller can accumulate a whole flight before it's flushed.
	SendMessage(t HandshakeType, body HandshakeMessageBody) error
	// GetCurrentHash returns the running transcript hash over every
	// handshake message body seen so far, in send/receive order
	// (spec.md §3 invariant 3).
	GetCurrentHash() ([]byte, error)
	// NotifyHelloComplete signals that ClientHello/ServerHello have been
	// exchanged, letting the adapter flush the ServerHello flight and
	// start tracking retransmission timers for the next flight.
	NotifyHelloComplete() error
	// Finish flushes any final flight and releases transport resources
	// without closing the underlying connection (the record layer keeps
	// using it for application data).
	Finish() error
}

// hashAlgorithmSetter is an optional capability a ReliableHandshakeAdapter
// may implement so the driver can tell it which PRF hash to use for the
// transcript once the cipher suite is negotiated (spec.md §3:
// "prf_algorithm: derived from selected_cipher_suite after ServerHello").
// The interface above only lists the five spec-mandated methods; adapters
// that fix their hash another way (e.g. always SHA-256) need not
// implement this.
type hashAlgorithmSetter interface {
	SetHashAlgorithm(crypto.Hash) error
}

const (
	defaultRetransmitTimeout = time.Second
	maxRetransmitTimeout     = 60 * time.Second
)

// defaultReliableHandshake is the batteries-included adapter the default
// Accept path wires up. It is grounded on the teacher's frame-reader.go
// framing loop and conn.go's flight-buffering idea, generalized from a
// reliable stream to DTLS's timer-driven retransmission over
// fragmentReassembler (RFC 6347 §4.2.4's PREPARING/SENDING/WAITING state
// diagram, collapsed here into send-then-wait-with-backoff since the
// driver only ever has one flight in flight at a time).
type defaultReliableHandshake struct {
	mu   sync.Mutex
	conn net.PacketConn
	peer net.Addr
	log  logging.LeveledLogger

	reassembler *fragmentReassembler

	nextSendSeq uint16
	nextRecvSeq uint16

	// transcript buffers raw message bytes (type+length+body, no DTLS
	// fragment header) until a hash algorithm is known, then feeds them
	// into runningHash and is discarded.
	transcript  []byte
	hashAlg     crypto.Hash
	runningHash hash.Hash

	outgoing []outgoingMessage

	timeout time.Duration
}

type outgoingMessage struct {
	seq  uint16
	raw  []byte // type(1) + length(3) + body, re-fragmented per send
	body []byte
}

func newDefaultReliableHandshake(conn net.PacketConn, peer net.Addr, log logging.LeveledLogger) *defaultReliableHandshake {
	return &defaultReliableHandshake{
		conn:        conn,
		peer:        peer,
		log:         log,
		reassembler: newFragmentReassembler(),
		timeout:     defaultRetransmitTimeout,
	}
}

var _ ReliableHandshakeAdapter = (*defaultReliableHandshake)(nil)

func (h *defaultReliableHandshake) SetHashAlgorithm(alg crypto.Hash) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.runningHash != nil {
		return alertInternalError(fmt.Errorf("dtls.reliable: hash algorithm already set"))
	}
	h.hashAlg = alg
	h.runningHash = alg.New()
	h.runningHash.Write(h.transcript)
	h.transcript = nil
	return nil
}

func (h *defaultReliableHandshake) appendTranscript(raw []byte) {
	if h.runningHash != nil {
		h.runningHash.Write(raw)
		return
	}
	h.transcript = append(h.transcript, raw...)
}

func (h *defaultReliableHandshake) GetCurrentHash() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.runningHash == nil {
		return nil, alertInternalError(fmt.Errorf("dtls.reliable: transcript hash requested before hash algorithm was set"))
	}
	// Sum appends to, rather than consumes, the running state, so the
	// transcript keeps accumulating across repeated snapshots (spec.md
	// §4.1 SnapshotHash, WaitCertificateVerifyOrFinished both call this).
	return h.runningHash.Sum(nil), nil
}

// ReceiveMessage reads records off the datagram socket, reassembling
// fragments until one full handshake message is available, retransmitting
// the last outgoing flight on timeout (RFC 6347 §4.2.4).
func (h *defaultReliableHandshake) ReceiveMessage() (HandshakeType, []byte, error) {
	buf := make([]byte, 16384)
	for {
		if err := h.conn.SetReadDeadline(time.Now().Add(h.timeout)); err != nil {
			return 0, nil, alertInternalError(fmt.Errorf("dtls.reliable: set read deadline: %w", err))
		}
		n, addr, err := h.conn.ReadFrom(buf)
		if err != nil {
			if isTimeout(err) {
				if rerr := h.retransmit(); rerr != nil {
					return 0, nil, rerr
				}
				h.backoff()
				continue
			}
			return 0, nil, alertInternalError(fmt.Errorf("dtls.reliable: read: %w", err))
		}
		if h.peer != nil && addr.String() != h.peer.String() {
			continue // datagram from an unexpected peer; ignore
		}

		msgType, msg, ok, err := h.processRecord(buf[:n])
		if err != nil {
			return 0, nil, err
		}
		if !ok {
			continue
		}
		return msgType, msg, nil
	}
}

// processRecord feeds one raw datagram through fragment reassembly and
// the transcript, returning the complete message if this record finished
// one. Split out of ReceiveMessage so accept.go can seed the adapter with
// the very first datagram it had to read itself to discover the peer
// address, before the adapter existed to read subsequent ones.
func (h *defaultReliableHandshake) processRecord(rec []byte) (HandshakeType, []byte, bool, error) {
	if len(rec) < 13 || recordType(rec[0]) != recordTypeHandshake {
		return 0, nil, false, nil
	}
	body := rec[13:]
	if len(body) < dtlsHandshakeHeaderLen {
		return 0, nil, false, nil
	}
	hdr, err := parseDTLSHandshakeHeader(body)
	if err != nil {
		return 0, nil, false, alertDecodeError(err)
	}
	if hdr.messageSeq < h.nextRecvSeq {
		return 0, nil, false, nil // retransmitted copy of an already-delivered message
	}
	fragment := body[dtlsHandshakeHeaderLen:]
	msg, ok, err := h.reassembler.Add(hdr, fragment)
	if err != nil {
		return 0, nil, false, alertDecodeError(err)
	}
	if !ok {
		return 0, nil, false, nil
	}

	h.nextRecvSeq = hdr.messageSeq + 1
	raw := append([]byte{byte(hdr.msgType)}, write24(hdr.length)...)
	raw = append(raw, msg...)
	h.mu.Lock()
	h.appendTranscript(raw)
	h.mu.Unlock()
	return hdr.msgType, msg, true, nil
}

// SendMessage queues a message for the current flight and writes its
// fragments immediately (this driver never splits a single handshake
// message across datagrams smaller than typical MTU, so one fragment per
// message is the common case; larger bodies are fragmented at maxRecordPayload).
func (h *defaultReliableHandshake) SendMessage(t HandshakeType, body HandshakeMessageBody) error {
	data, err := body.Marshal()
	if err != nil {
		return alertInternalError(fmt.Errorf("dtls.reliable: marshal %s: %w", t, err))
	}

	h.mu.Lock()
	seq := h.nextSendSeq
	h.nextSendSeq++
	raw := append([]byte{byte(t)}, write24(len(data))...)
	raw = append(raw, data...)
	h.appendTranscript(raw)
	h.outgoing = append(h.outgoing, outgoingMessage{seq: seq, raw: raw, body: data})
	h.mu.Unlock()

	return h.sendFragments(t, seq, data)
}

const maxRecordPayload = 1200

func (h *defaultReliableHandshake) sendFragments(t HandshakeType, seq uint16, data []byte) error {
	total := len(data)
	for off := 0; off < total || (total == 0 && off == 0); {
		end := off + maxRecordPayload
		if end > total {
			end = total
		}
		hdr := dtlsHandshakeHeader{
			msgType:        t,
			length:         total,
			messageSeq:     seq,
			fragmentOffset: off,
			fragmentLength: end - off,
		}
		hdrWire := hdr.marshal()
		fragLen := len(hdrWire) + (end - off)

		rec := make([]byte, 0, 13+fragLen)
		rec = append(rec, byte(recordTypeHandshake), byte(VersionDTLS12>>8), byte(VersionDTLS12))
		rec = append(rec, 0, 0, 0, 0, 0, 0, 0, 0) // epoch(2) + sequence_number(6): filled by record layer in a real deployment
		rec = append(rec, byte(fragLen>>8), byte(fragLen))
		rec = append(rec, hdrWire...)
		rec = append(rec, data[off:end]...)

		if _, err := h.conn.WriteTo(rec, h.peer); err != nil {
			return alertInternalError(fmt.Errorf("dtls.reliable: write: %w", err))
		}
		if total == 0 {
			break
		}
		off = end
	}
	return nil
}

// retransmit resends every message in the current outgoing flight
// unchanged (RFC 6347 §4.2.4: retransmission always resends the same
// flight, never regenerates it).
func (h *defaultReliableHandshake) retransmit() error {
	h.mu.Lock()
	outgoing := append([]outgoingMessage(nil), h.outgoing...)
	h.mu.Unlock()

	for _, m := range outgoing {
		t := HandshakeType(m.raw[0])
		if h.log != nil {
			h.log.Tracef("dtls: retransmitting %s (seq %d)", t, m.seq)
		}
		if err := h.sendFragments(t, m.seq, m.body); err != nil {
			return err
		}
	}
	return nil
}

func (h *defaultReliableHandshake) backoff() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.timeout *= 2
	if h.timeout > maxRetransmitTimeout {
		h.timeout = maxRetransmitTimeout
	}
}

// NotifyHelloComplete resets the retransmission timeout for the flight
// ServerHello opens. Messages already queued for that flight stay in it,
// so a retransmission resends the whole flight, ServerHello included.
func (h *defaultReliableHandshake) NotifyHelloComplete() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.timeout = defaultRetransmitTimeout
	return nil
}

func (h *defaultReliableHandshake) Finish() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outgoing = nil
	h.transcript = nil
	return nil
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}
