package dtls

import "crypto"

// Credentials bundles a certificate chain and its private key, returned
// by ServerPolicy.GetCredentials when the server authenticates with a
// certificate (spec.md §4.3/§4.4).
type Credentials struct {
	Chain      []*CertificateEntryCert
	PrivateKey crypto.Signer
}

// CertificateEntryCert is kept distinct from CertificateBody's
// []*x509.Certificate so Credentials can be constructed without pulling
// in the codec package's parse path; it's just a DER-encoded certificate.
type CertificateEntryCert struct {
	Raw []byte
}

// ServerPolicy is the capability set the driver invokes on a
// user-supplied policy object (spec.md §4.3). Each method corresponds to
// one callback in the fixed call order spec.md §4.3 lists; the driver
// never calls these concurrently (spec.md §5).
type ServerPolicy interface {
	// Init is called once, at the very start of the handshake.
	Init(ctx *SecurityParameters) error

	NotifyClientVersion(version ProtocolVersion) error
	NotifyOfferedCipherSuites(suites []CipherSuite) error
	NotifyOfferedCompressionMethods(methods []CompressionMethod) error
	NotifySecureRenegotiation(secure bool) error
	ProcessClientExtensions(exts ExtensionList) error

	GetServerVersion() (ProtocolVersion, error)
	GetSelectedCipherSuite() (CipherSuite, error)
	GetSelectedCompressionMethod() (CompressionMethod, error)
	GetServerExtensions() (ExtensionList, error)
	GetServerSupplementalData() ([]SupplementalDataEntry, error)

	GetKeyExchange() (KeyExchange, error)
	// GetCredentials returns nil if the server authenticates without a
	// certificate (e.g. a pure PSK/anonymous cipher suite).
	GetCredentials() (*Credentials, error)
	// GetCertificateRequest is only called when GetCredentials returned
	// non-nil (spec.md §4.1: "only when credentials present").
	GetCertificateRequest() (*CertificateRequestBody, error)

	// ProcessClientSupplementalData is always called, possibly with a
	// nil/empty slice when the client sent none (spec.md §4.1's
	// WaitClientFlight1 "any other: deliver null supplemental data").
	ProcessClientSupplementalData(entries []SupplementalDataEntry) error

	GetCipher() (RecordCipher, error)
	// GetNewSessionTicket is only called when ServerHandshakeState.expectSessionTicket.
	GetNewSessionTicket() (*NewSessionTicketBody, error)

	NotifyHandshakeComplete() error
}

// validateSelectedCipherSuite reports whether suite is admissible for
// the given DTLS version (spec.md §4.2, ServerHello generation). This
// driver's only hard exclusion is the NULL-NULL and SCSV pseudo-suites;
// a real deployment's policy is expected to apply its own stronger
// version/suite compatibility table before returning a suite at all.
func validateSelectedCipherSuite(suite CipherSuite, version ProtocolVersion) bool {
	return suite != TLS_NULL_WITH_NULL_NULL && suite != TLS_EMPTY_RENEGOTIATION_INFO_SCSV
}
