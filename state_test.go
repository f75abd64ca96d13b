package dtls

import (
	"net"
	"testing"

	"github.com/pion/logging"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"
)

// fakeReliable is an in-memory ReliableHandshakeAdapter: SendMessage
// records what was sent, GetCurrentHash returns a fixed transcript
// snapshot (the value doesn't need to be a real hash for these tests,
// only stable and shared between the driver and the test's own
// verify_data computation).
type fakeReliable struct {
	sent []sentMessage
	hash []byte
}

type sentMessage struct {
	t    HandshakeType
	body HandshakeMessageBody
}

func newFakeReliable() *fakeReliable {
	return &fakeReliable{hash: []byte("fixed-transcript-snapshot-32byte")}
}

func (f *fakeReliable) ReceiveMessage() (HandshakeType, []byte, error) {
	panic("fakeReliable.ReceiveMessage should not be called by these tests; drive states directly")
}

func (f *fakeReliable) SendMessage(t HandshakeType, body HandshakeMessageBody) error {
	f.sent = append(f.sent, sentMessage{t: t, body: body})
	return nil
}

func (f *fakeReliable) GetCurrentHash() ([]byte, error) { return f.hash, nil }

func (f *fakeReliable) NotifyHelloComplete() error { return nil }

func (f *fakeReliable) Finish() error { return nil }

// fakeRecordLayer is an in-memory RecordLayerAdapter.
type fakeRecordLayer struct {
	discovered    ProtocolVersion
	pendingCipher RecordCipher
	pendingParams *SecurityParameters
	activated     bool
	alertsWritten []*Alert
}

func (r *fakeRecordLayer) InitPendingEpoch(cipher RecordCipher, params *SecurityParameters) error {
	r.pendingCipher = cipher
	r.pendingParams = params
	return nil
}

func (r *fakeRecordLayer) ActivateEpoch() error { r.activated = true; return nil }

func (r *fakeRecordLayer) DiscoveredPeerVersion() ProtocolVersion { return r.discovered }

func (r *fakeRecordLayer) WriteAlert(a *Alert) error {
	r.alertsWritten = append(r.alertsWritten, a)
	return nil
}

func (r *fakeRecordLayer) Close() error { return nil }

func newTestDriverIO() (*fakeReliable, *fakeRecordLayer, *driverIO) {
	rel := newFakeReliable()
	rl := &fakeRecordLayer{discovered: VersionDTLS12}
	log := logging.NewDefaultLoggerFactory().NewLogger("dtls_test")
	return rel, rl, &driverIO{reliable: rel, recordLayer: rl, log: log}
}

func minimalClientHello(suites []CipherSuite, comp []CompressionMethod, exts ExtensionList) []byte {
	if exts.Len() == 0 {
		exts = NewExtensionList()
	}
	ch := ClientHelloBody{
		ClientVersion:      VersionDTLS12,
		Random:             [32]byte{1, 2, 3},
		CipherSuites:       suites,
		CompressionMethods: comp,
		Extensions:         exts,
	}
	data, err := ch.Marshal()
	if err != nil {
		panic(err)
	}
	return data
}

// S1 — minimal anon handshake. ClientHello offers SCSV + one real suite,
// compression [0], no extensions; server has no credentials, no
// CertificateRequest, no session ticket. Expected: ServerHello ... through
// ServerHelloDone, then the client's ClientKeyExchange/Finished complete
// the handshake with a server Finished sent back.
func TestS1MinimalAnonHandshake(t *testing.T) {
	policy := NewAnonymousECDHEPolicy()
	hs := newServerHandshakeState(policy)
	require.NoError(t, policy.Init(hs.context))

	rel, rl, io := newTestDriverIO()

	chBody := minimalClientHello(
		[]CipherSuite{TLS_EMPTY_RENEGOTIATION_INFO_SCSV, TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256},
		[]CompressionMethod{CompressionNull},
		NewExtensionList(),
	)

	cur, alert := stateWaitClientHello{}.next(hs, io, HandshakeTypeClientHello, chBody)
	require.Nil(t, alert)
	require.IsType(t, stateSendServerHelloFlight{}, cur)

	cur, alert = cur.next(hs, io, 0, nil)
	require.Nil(t, alert)
	require.IsType(t, stateWaitClientFlight1{}, cur)
	require.True(t, hs.secureRenegotiation)
	require.True(t, hs.cipherSuiteSet)
	require.True(t, hs.compressionSet)

	// Find the ServerKeyExchange the driver emitted, to build a matching
	// ClientKeyExchange.
	var serverPub [32]byte
	found := false
	for _, m := range rel.sent {
		if m.t == HandshakeTypeServerKeyExchange {
			ske := m.body.(*ServerKeyExchangeBody)
			raw := ske.Raw
			require.Equal(t, []byte{3, 0, 29}, raw[:3])
			point, _, err := readUint8Vector(raw[3:], 255)
			require.NoError(t, err)
			copy(serverPub[:], point)
			found = true
		}
	}
	require.True(t, found, "server_key_exchange was not sent")

	var clientPriv [32]byte
	clientPriv[0] = 42
	clientPub, err := curve25519.X25519(clientPriv[:], curve25519.Basepoint)
	require.NoError(t, err)
	ckeBody := ClientKeyExchangeBody{Raw: writeUint8Vector(clientPub)}
	ckeData, err := ckeBody.Marshal()
	require.NoError(t, err)

	cur, alert = cur.next(hs, io, HandshakeTypeClientKeyExchange, ckeData)
	require.Nil(t, alert)
	require.IsType(t, stateSnapshotHash{}, cur)
	require.NotZero(t, hs.context.MasterSecret)
	require.NotNil(t, rl.pendingParams)

	cur, alert = cur.next(hs, io, 0, nil)
	require.Nil(t, alert)
	require.IsType(t, stateWaitCertificateVerifyOrFinished{}, cur)
	require.Equal(t, rel.hash, hs.clientFinishedHash)

	expectedClientVerify := verifyData(hs.context.PRFAlgorithm, hs.context.MasterSecret, finishedLabelClient, hs.clientFinishedHash, hs.context.VerifyDataLength)
	finBody := FinishedBody{VerifyDataLen: hs.context.VerifyDataLength, VerifyData: expectedClientVerify}
	finData, err := finBody.Marshal()
	require.NoError(t, err)

	cur, alert = cur.next(hs, io, HandshakeTypeFinished, finData)
	require.Nil(t, alert)
	require.IsType(t, stateSendServerFinished{}, cur)

	cur, alert = cur.next(hs, io, 0, nil)
	require.Nil(t, alert)
	require.IsType(t, stateComplete{}, cur)
	require.True(t, rl.activated)

	var serverFinSent bool
	for _, m := range rel.sent {
		if m.t == HandshakeTypeFinished {
			serverFinSent = true
		}
	}
	require.True(t, serverFinSent, "server did not send its own Finished")
}

// S2 — unexpected message: peer's first message is Certificate.
func TestS2UnexpectedMessage(t *testing.T) {
	policy := NewAnonymousECDHEPolicy()
	hs := newServerHandshakeState(policy)
	require.NoError(t, policy.Init(hs.context))
	_, _, io := newTestDriverIO()

	_, alert := stateWaitClientHello{}.next(hs, io, HandshakeTypeCertificate, []byte{0, 0, 0})
	require.NotNil(t, alert)
	require.Equal(t, alertUnexpectedMessage(nil).Description, alert.Description)
}

// S3 — bad session_id length (33 bytes).
func TestS3BadSessionIDLength(t *testing.T) {
	policy := NewAnonymousECDHEPolicy()
	hs := newServerHandshakeState(policy)
	require.NoError(t, policy.Init(hs.context))
	_, _, io := newTestDriverIO()

	ch := ClientHelloBody{
		ClientVersion:      VersionDTLS12,
		Random:             [32]byte{},
		SessionID:          make([]byte, 33),
		CipherSuites:       []CipherSuite{TLS_RSA_WITH_AES_128_CBC_SHA},
		CompressionMethods: []CompressionMethod{CompressionNull},
		Extensions:         NewExtensionList(),
	}
	// Marshal itself rejects the oversized session id (codec_test.go
	// covers that); construct the wire bytes by hand to exercise the
	// driver's own illegal_parameter path on Unmarshal.
	data := []byte{0xfe, 0xfd}
	data = append(data, ch.Random[:]...)
	data = append(data, writeUint8Vector(ch.SessionID)...)
	data = append(data, writeUint8Vector(nil)...) // cookie
	suites := []byte{0x00, 0x2f}
	data = append(data, byte(len(suites)>>8), byte(len(suites)))
	data = append(data, suites...)
	data = append(data, writeUint8Vector([]byte{0})...)

	_, alert := stateWaitClientHello{}.next(hs, io, HandshakeTypeClientHello, data)
	require.NotNil(t, alert)
	require.Equal(t, alertIllegalParameter(nil).Description, alert.Description)
}

// S4 — odd cipher_suites_length (3).
func TestS4OddCipherSuitesLength(t *testing.T) {
	policy := NewAnonymousECDHEPolicy()
	hs := newServerHandshakeState(policy)
	require.NoError(t, policy.Init(hs.context))
	_, _, io := newTestDriverIO()

	data := []byte{0xfe, 0xfd}
	data = append(data, make([]byte, 32)...)
	data = append(data, writeUint8Vector(nil)...) // session_id
	data = append(data, writeUint8Vector(nil)...) // cookie
	data = append(data, 0x00, 0x03, 0x00, 0x2f, 0x00)
	data = append(data, writeUint8Vector([]byte{0})...)

	_, alert := stateWaitClientHello{}.next(hs, io, HandshakeTypeClientHello, data)
	require.NotNil(t, alert)
	require.Equal(t, alertIllegalParameter(nil).Description, alert.Description)
}

// S5 — server selects a suite the client never offered.
type badSuitePolicy struct {
	*AnonymousECDHEPolicy
}

func (p *badSuitePolicy) GetSelectedCipherSuite() (CipherSuite, error) {
	return 0xC013, nil
}

func TestS5ServerSelectsNonOfferedSuite(t *testing.T) {
	policy := &badSuitePolicy{AnonymousECDHEPolicy: NewAnonymousECDHEPolicy()}
	hs := newServerHandshakeState(policy)
	require.NoError(t, policy.Init(hs.context))
	_, _, io := newTestDriverIO()

	chBody := minimalClientHello([]CipherSuite{TLS_RSA_WITH_AES_128_CBC_SHA}, []CompressionMethod{CompressionNull}, NewExtensionList())
	cur, alert := stateWaitClientHello{}.next(hs, io, HandshakeTypeClientHello, chBody)
	require.Nil(t, alert)

	_, alert = cur.next(hs, io, 0, nil)
	require.NotNil(t, alert)
	require.Equal(t, alertInternalError(nil).Description, alert.Description)
}

// S6 — non-empty renegotiation_info on initial handshake.
func TestS6NonEmptyRenegotiationInfo(t *testing.T) {
	policy := NewAnonymousECDHEPolicy()
	hs := newServerHandshakeState(policy)
	require.NoError(t, policy.Init(hs.context))
	_, _, io := newTestDriverIO()

	exts := NewExtensionList()
	require.NoError(t, exts.Add(ExtensionTypeRenegotiationInfo, []byte{0x01, 0x00}))
	chBody := minimalClientHello([]CipherSuite{TLS_RSA_WITH_AES_128_CBC_SHA}, []CompressionMethod{CompressionNull}, exts)

	_, alert := stateWaitClientHello{}.next(hs, io, HandshakeTypeClientHello, chBody)
	require.NotNil(t, alert)
	require.Equal(t, alertHandshakeFailure(nil).Description, alert.Description)
}

// S7 — Finished mismatch: the client's verify_data differs in one byte.
func TestS7FinishedMismatch(t *testing.T) {
	policy := NewAnonymousECDHEPolicy()
	hs := newServerHandshakeState(policy)
	require.NoError(t, policy.Init(hs.context))
	rel, _, io := newTestDriverIO()

	chBody := minimalClientHello(
		[]CipherSuite{TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256},
		[]CompressionMethod{CompressionNull},
		NewExtensionList(),
	)
	cur, alert := stateWaitClientHello{}.next(hs, io, HandshakeTypeClientHello, chBody)
	require.Nil(t, alert)
	cur, alert = cur.next(hs, io, 0, nil)
	require.Nil(t, alert)

	var serverPub [32]byte
	for _, m := range rel.sent {
		if m.t == HandshakeTypeServerKeyExchange {
			ske := m.body.(*ServerKeyExchangeBody)
			point, _, _ := readUint8Vector(ske.Raw[3:], 255)
			copy(serverPub[:], point)
		}
	}
	var clientPriv [32]byte
	clientPriv[0] = 7
	clientPub, err := curve25519.X25519(clientPriv[:], curve25519.Basepoint)
	require.NoError(t, err)
	ckeData, err := ClientKeyExchangeBody{Raw: writeUint8Vector(clientPub)}.Marshal()
	require.NoError(t, err)

	cur, alert = cur.next(hs, io, HandshakeTypeClientKeyExchange, ckeData)
	require.Nil(t, alert)
	cur, alert = cur.next(hs, io, 0, nil)
	require.Nil(t, alert)

	badVerify := verifyData(hs.context.PRFAlgorithm, hs.context.MasterSecret, finishedLabelClient, hs.clientFinishedHash, hs.context.VerifyDataLength)
	badVerify[0] ^= 0xff
	finData, err := FinishedBody{VerifyDataLen: hs.context.VerifyDataLength, VerifyData: badVerify}.Marshal()
	require.NoError(t, err)

	_, alert = cur.next(hs, io, HandshakeTypeFinished, finData)
	require.NotNil(t, alert)
	require.Equal(t, alertDecryptError(nil).Description, alert.Description)

	var serverFinSent bool
	for _, m := range rel.sent {
		if m.t == HandshakeTypeFinished {
			serverFinSent = true
		}
	}
	require.False(t, serverFinSent, "server must not send its own Finished after a Finished mismatch")
}

// Ensures Accept rejects nil arguments with invalid_argument (spec.md §6).
func TestAcceptRejectsNilArguments(t *testing.T) {
	_, err := Accept(nil, &net.UDPConn{}, nil)
	require.ErrorIs(t, err, errInvalidArgument)

	_, err = Accept(NewAnonymousECDHEPolicy(), nil, nil)
	require.ErrorIs(t, err, errInvalidArgument)
}
