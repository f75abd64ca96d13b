package dtls

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"net"
	"sync"
)

// RecordLayerAdapter is the Record Layer Adapter (spec.md §2): an
// external collaborator the driver consumes through two operations —
// preparing a pending epoch's cipher state and discovering the peer's
// negotiated record-layer version — plus activating the pending epoch
// once the handshake's key material is ready. The actual AEAD record
// protection is a Non-goal of this driver (spec.md §1); defaultRecordLayer
// below is the minimal concrete adapter the default Accept path uses.
type RecordLayerAdapter interface {
	// InitPendingEpoch derives key material for cipher from the current
	// SecurityParameters and prepares (but does not yet use) a new
	// record-protection epoch.
	InitPendingEpoch(cipher RecordCipher, params *SecurityParameters) error
	// ActivateEpoch makes the most recently prepared pending epoch the
	// current one (spec.md §3 invariant 2: pending-epoch key material is
	// fixed between ServerHello and Finished).
	ActivateEpoch() error
	// DiscoveredPeerVersion is the DTLS version the record layer observed
	// on the wire while receiving ClientHello (spec.md §4.1,
	// WaitClientHello: "capture record-layer's discovered peer version").
	DiscoveredPeerVersion() ProtocolVersion
	WriteAlert(a *Alert) error
	Close() error
}

// defaultRecordLayer is adapted from the teacher's RecordLayer
// (record-layer.go: Rekey, cachedRecord peek/consume over an io.ReadWriter)
// generalized from TLS's single in-flight epoch to DTLS's explicit
// pending/current epoch pair.
type defaultRecordLayer struct {
	mu   sync.Mutex
	conn net.PacketConn
	peer net.Addr

	peerVersion ProtocolVersion

	currentEpoch *epochKeys
	pendingEpoch *epochKeys
}

type epochKeys struct {
	writeKey, readKey []byte
	writeIV, readIV   []byte
	aead              cipher.AEAD
}

func newDefaultRecordLayer(conn net.PacketConn, peer net.Addr, discoveredVersion ProtocolVersion) *defaultRecordLayer {
	return &defaultRecordLayer{conn: conn, peer: peer, peerVersion: discoveredVersion}
}

func (r *defaultRecordLayer) DiscoveredPeerVersion() ProtocolVersion {
	return r.peerVersion
}

// InitPendingEpoch derives a key_block via the PRF (RFC 5246 §6.3) keyed
// off the negotiated master_secret, then wraps the server's write key in
// an AES-GCM AEAD as the default record-protection cipher. Real
// deployments needing a different cipher (spec.md §1 Non-goal) supply
// their own RecordLayerAdapter.
func (r *defaultRecordLayer) InitPendingEpoch(rc RecordCipher, params *SecurityParameters) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	keyLen := rc.KeyLen
	if keyLen == 0 {
		keyLen = 16
	}
	ivLen := rc.IVLen
	if ivLen == 0 {
		ivLen = 4
	}
	hash := rc.Hash
	if hash == 0 {
		hash = crypto.SHA256
	}

	blockLen := 2*keyLen + 2*ivLen
	seed := append(append([]byte(nil), params.ServerRandom[:]...), params.ClientRandom[:]...)
	keyBlock := prf(hash, params.MasterSecret[:], "key expansion", seed, blockLen)

	clientWriteKey := keyBlock[0:keyLen]
	serverWriteKey := keyBlock[keyLen : 2*keyLen]
	clientWriteIV := keyBlock[2*keyLen : 2*keyLen+ivLen]
	serverWriteIV := keyBlock[2*keyLen+ivLen : 2*keyLen+2*ivLen]

	block, err := aes.NewCipher(serverWriteKey)
	if err != nil {
		return alertInternalError(fmt.Errorf("dtls.recordlayer: %w", err))
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return alertInternalError(fmt.Errorf("dtls.recordlayer: %w", err))
	}

	r.pendingEpoch = &epochKeys{
		writeKey: serverWriteKey,
		readKey:  clientWriteKey,
		writeIV:  serverWriteIV,
		readIV:   clientWriteIV,
		aead:     aead,
	}
	return nil
}

func (r *defaultRecordLayer) ActivateEpoch() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pendingEpoch == nil {
		return alertInternalError(fmt.Errorf("dtls.recordlayer: no pending epoch to activate"))
	}
	r.currentEpoch = r.pendingEpoch
	r.pendingEpoch = nil
	return nil
}

func (r *defaultRecordLayer) WriteAlert(a *Alert) error {
	if r.conn == nil {
		return fmt.Errorf("dtls.recordlayer: no transport to alert on")
	}
	payload := a.toWire()
	rec := []byte{byte(recordTypeAlert), byte(VersionDTLS12 >> 8), byte(VersionDTLS12)}
	rec = append(rec, 0, 0, 0, 0, 0, 0, 0, 0) // epoch(2) + sequence_number(6), unprotected alerts use epoch 0
	rec = append(rec, byte(len(payload)>>8), byte(len(payload)))
	rec = append(rec, payload...)
	_, err := r.conn.WriteTo(rec, r.peer)
	return err
}

func (r *defaultRecordLayer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	zero(r.pendingEpoch)
	zero(r.currentEpoch)
	r.pendingEpoch, r.currentEpoch = nil, nil
	return nil
}

func zero(e *epochKeys) {
	if e == nil {
		return
	}
	for _, b := range [][]byte{e.writeKey, e.readKey, e.writeIV, e.readIV} {
		for i := range b {
			b[i] = 0
		}
	}
}

// newRandom32 fills out a fresh 32-byte Random field (spec.md §3:
// client_random/server_random), matching RFC 5246 §7.4.1.2's
// gmt_unix_time||random_bytes shape is not required by this spec — a
// plain CSPRNG fill is sufficient and is what the teacher's conn.go does
// for TLS 1.3's Random.
func newRandom32() ([32]byte, error) {
	var r [32]byte
	_, err := rand.Read(r[:])
	return r, err
}
