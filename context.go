package dtls

import "crypto"

// SecurityParameters holds the negotiated cryptographic parameters for
// one connection (spec.md §3). Entity is always "server" for this
// driver, so it's not a field — it's the package's whole reason to
// exist.
type SecurityParameters struct {
	ClientRandom [32]byte
	ServerRandom [32]byte

	ClientVersion ProtocolVersion
	ServerVersion ProtocolVersion

	PRFAlgorithm          crypto.Hash
	CompressionAlgorithm  CompressionMethod
	VerifyDataLength      int
	MasterSecret          [48]byte
}

// ServerHandshakeState is the mutable, driver-private scratchpad for one
// handshake (spec.md §3). It is created at Accept's entry, mutated only
// by the driver, and discarded on return — never shared or published
// (Design Note 9, "Mutable shared state").
type ServerHandshakeState struct {
	server  ServerPolicy
	context *SecurityParameters

	offeredCipherSuites       []CipherSuite
	offeredCompressionMethods []CompressionMethod
	clientExtensions          ExtensionList
	serverExtensions          ExtensionList

	selectedCipherSuite    CipherSuite
	cipherSuiteSet         bool
	selectedCompression    CompressionMethod
	compressionSet         bool

	secureRenegotiation  bool
	expectSessionTicket  bool

	keyExchange        KeyExchange
	certificateRequest *CertificateRequestBody

	// verifyRequests mirrors Config.VerifyRequests (spec.md §6):
	// whether a CertificateVerify is mandatory, once certificateRequest
	// is non-nil, before Finished is accepted.
	verifyRequests bool
	// certificateVerifySeen is set once WaitCertificateVerifyOrFinished
	// processes a CertificateVerify message.
	certificateVerifySeen bool

	// cookie is parsed and retained but never validated: HelloVerifyRequest
	// is an out-of-scope TODO (spec.md §4.2, §9(b)).
	cookie []byte

	// clientFinishedHash is the transcript snapshot taken per spec.md
	// §4.1's SnapshotHash state, before the client's Finished message is
	// appended to the transcript (and after CertificateVerify, if sent).
	clientFinishedHash []byte
}

func newServerHandshakeState(policy ServerPolicy) *ServerHandshakeState {
	return &ServerHandshakeState{
		server:           policy,
		context:          &SecurityParameters{},
		clientExtensions: NewExtensionList(),
		serverExtensions: NewExtensionList(),
	}
}

// setSelectedCipherSuite records the server's cipher-suite choice and
// marks it present, replacing the source's "-1 sentinel until set" with
// an explicit flag (Design Note 9(b), DESIGN.md Open Question b).
func (s *ServerHandshakeState) setSelectedCipherSuite(cs CipherSuite) {
	s.selectedCipherSuite = cs
	s.cipherSuiteSet = true
}

func (s *ServerHandshakeState) setSelectedCompression(cm CompressionMethod) {
	s.selectedCompression = cm
	s.compressionSet = true
}

// checkNegotiated asserts invariant 1 of spec.md §3: every field that
// starts unset must be set before the Finished exchange begins. Called
// from checkNegotiatedAndVerifyFinished, just before a Finished message
// is accepted.
func (s *ServerHandshakeState) checkNegotiated() error {
	if !s.cipherSuiteSet {
		return alertInternalError(errNotNegotiated("cipher suite"))
	}
	if !s.compressionSet {
		return alertInternalError(errNotNegotiated("compression method"))
	}
	if s.keyExchange == nil {
		return alertInternalError(errNotNegotiated("key exchange"))
	}
	return nil
}

type errNotNegotiated string

func (e errNotNegotiated) Error() string {
	return "dtls: " + string(e) + " not negotiated before Finished exchange"
}

// destroy zeroes every secret this handshake accumulated: the PRF
// master_secret here, and any key-exchange-specific secret material
// (ECDHE's private scalar and computed shared secret) via the optional
// secretZeroer capability. Accept calls this on every return path —
// success or failure — mirroring recordlayer.go's zero() for epoch key
// material (spec.md §5: "buffers holding secrets must be overwritten...
// before the error is surfaced").
func (s *ServerHandshakeState) destroy() {
	zeroBytes(s.context.MasterSecret[:])
	if z, ok := s.keyExchange.(secretZeroer); ok {
		z.zeroSecrets()
	}
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
