package dtls

import (
	"crypto"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// RecordCipher is the opaque, algorithm-specific cipher handle
// ServerPolicy.GetCipher returns and the Record Layer Adapter consumes
// to set up the pending epoch (spec.md §2, §4.1). The actual AEAD
// implementation is a Non-goal of this driver (spec.md §1); this struct
// only carries what the default Record Layer Adapter needs to derive
// key material via the PRF.
type RecordCipher struct {
	Suite         CipherSuite
	Hash          crypto.Hash
	KeyLen, IVLen int
}

// KeyExchange is the algorithm-specific collaborator the driver drives
// through one handshake (spec.md §4.4). The driver chooses the
// Process/Skip variant based on whether credentials/a client certificate
// are present; it owns the KeyExchange value for the handshake's
// duration and never shares it.
type KeyExchange interface {
	Init(ctx *SecurityParameters) error

	ProcessServerCredentials(creds *Credentials) error
	SkipServerCredentials() error

	// GenerateServerKeyExchange may return (nil, nil) when the
	// negotiated algorithm doesn't need a ServerKeyExchange message
	// (spec.md §4.1: "emit ServerKeyExchange if the algorithm produces one").
	GenerateServerKeyExchange() (*ServerKeyExchangeBody, error)

	ValidateCertificateRequest(req *CertificateRequestBody) error

	ProcessClientCertificate(cert *CertificateBody) error
	SkipClientCredentials() error

	ProcessClientKeyExchange(raw []byte) error

	// PreMasterSecret returns the algorithm-specific shared secret once
	// ProcessClientKeyExchange has run; the driver expands it into the
	// 48-byte master_secret via the PRF (spec.md §4.4: "then contribute
	// to establishMasterSecret").
	PreMasterSecret() ([]byte, error)
}

// secretZeroer is an optional capability a KeyExchange may implement so
// ServerHandshakeState.destroy (context.go) can wipe its
// algorithm-specific secret material once the handshake is done or has
// failed. Not part of the KeyExchange interface itself, since not every
// algorithm keeps long-lived secret state worth zeroing.
type secretZeroer interface {
	zeroSecrets()
}

// ECDHEKeyExchange is the batteries-included KeyExchange implementation
// for TLS_ECDHE_* suites, using X25519 (golang.org/x/crypto/curve25519).
// It is the supplemented default a complete repository in this space
// ships alongside the bare interface (SPEC_FULL.md §4.3/§4.4).
type ECDHEKeyExchange struct {
	ctx *SecurityParameters

	serverPriv [32]byte
	serverPub  [32]byte
	clientPub  [32]byte

	preMasterSecret []byte
}

var _ KeyExchange = (*ECDHEKeyExchange)(nil)
var _ secretZeroer = (*ECDHEKeyExchange)(nil)

func NewECDHEKeyExchange() *ECDHEKeyExchange {
	return &ECDHEKeyExchange{}
}

// zeroSecrets overwrites the private scalar and the derived shared
// secret; it does not touch serverPub/clientPub, which are public values
// already sent on the wire.
func (kx *ECDHEKeyExchange) zeroSecrets() {
	zeroBytes(kx.serverPriv[:])
	zeroBytes(kx.preMasterSecret)
}

func (kx *ECDHEKeyExchange) Init(ctx *SecurityParameters) error {
	kx.ctx = ctx
	if _, err := rand.Read(kx.serverPriv[:]); err != nil {
		return alertInternalError(fmt.Errorf("dtls.ecdhe: generating private key: %w", err))
	}
	pub, err := curve25519.X25519(kx.serverPriv[:], curve25519.Basepoint)
	if err != nil {
		return alertInternalError(fmt.Errorf("dtls.ecdhe: deriving public key: %w", err))
	}
	copy(kx.serverPub[:], pub)
	return nil
}

// ECDHE-anon/ECDHE-RSA/ECDHE-ECDSA all sign (or don't) the same
// ServerKeyExchange params; this driver's default policy only supports
// the anonymous case (no signature), matching the teacher's posture of
// generating a self-signed identity rather than a CA-issued one when
// none is configured (conn.go's Config.Init).
func (kx *ECDHEKeyExchange) ProcessServerCredentials(creds *Credentials) error {
	return nil
}

func (kx *ECDHEKeyExchange) SkipServerCredentials() error { return nil }

// struct {
//     ECCurveType curve_type = named_curve(3);
//     NamedCurve namedcurve = x25519(29);
//     opaque point<1..2^8-1>;
// } ServerECDHParams;  (RFC 4492 §5.4, curve id per RFC 8422 §5.1.1)
func (kx *ECDHEKeyExchange) GenerateServerKeyExchange() (*ServerKeyExchangeBody, error) {
	raw := []byte{3, 0, 29}
	raw = append(raw, writeUint8Vector(kx.serverPub[:])...)
	return &ServerKeyExchangeBody{Raw: raw}, nil
}

func (kx *ECDHEKeyExchange) ValidateCertificateRequest(req *CertificateRequestBody) error {
	return nil
}

func (kx *ECDHEKeyExchange) ProcessClientCertificate(cert *CertificateBody) error {
	return nil
}

func (kx *ECDHEKeyExchange) SkipClientCredentials() error { return nil }

// struct {
//     opaque point<1..2^8-1>;
// } ClientDiffieHellmanPublic; simplified for ECDHE (RFC 4492 §5.7).
func (kx *ECDHEKeyExchange) ProcessClientKeyExchange(raw []byte) error {
	point, n, err := readUint8Vector(raw, 255)
	if err != nil {
		return alertDecodeError(err)
	}
	if err := assertEmpty(raw[n:]); err != nil {
		return alertDecodeError(err)
	}
	if len(point) != 32 {
		return alertIllegalParameter(fmt.Errorf("dtls.ecdhe: client point has wrong length %d", len(point)))
	}
	copy(kx.clientPub[:], point)

	shared, err := curve25519.X25519(kx.serverPriv[:], kx.clientPub[:])
	if err != nil {
		return alertHandshakeFailure(fmt.Errorf("dtls.ecdhe: computing shared secret: %w", err))
	}
	kx.preMasterSecret = shared
	return nil
}

func (kx *ECDHEKeyExchange) PreMasterSecret() ([]byte, error) {
	if kx.preMasterSecret == nil {
		return nil, alertInternalError(fmt.Errorf("dtls.ecdhe: pre_master_secret requested before key exchange"))
	}
	return kx.preMasterSecret, nil
}
