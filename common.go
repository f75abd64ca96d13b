// Package dtls implements the server-side handshake driver for Datagram
// TLS (DTLS): given an established datagram transport, it negotiates a
// DTLS session with a connecting peer and returns the resulting datagram
// channel; application data on that channel is not record-protected.
//
// The hard engineering here is message sequencing, extension and
// cipher-suite selection policy, transcript-hash bookkeeping for the
// Finished exchange, and the pending-to-current epoch transition of the
// record layer. The reliable-datagram retransmission layer, record-layer
// encryption, cryptographic primitives, X.509 parsing and the PRF are
// treated as external collaborators with narrow interfaces; only a
// minimal default implementation of each is provided here.
package dtls

// enum {...} ContentType (RFC 6347 §4.1)
type recordType uint8

const (
	recordTypeChangeCipherSpec recordType = 20
	recordTypeAlert            recordType = 21
	recordTypeHandshake        recordType = 22
	recordTypeApplicationData  recordType = 23
)

// enum {...} HandshakeType (RFC 6347 §4.3.2, RFC 5246 §7.4, RFC 4680)
type HandshakeType uint8

const (
	HandshakeTypeHelloRequest       HandshakeType = 0
	HandshakeTypeClientHello        HandshakeType = 1
	HandshakeTypeServerHello        HandshakeType = 2
	HandshakeTypeHelloVerifyRequest HandshakeType = 3
	HandshakeTypeNewSessionTicket   HandshakeType = 4
	HandshakeTypeCertificate        HandshakeType = 11
	HandshakeTypeServerKeyExchange  HandshakeType = 12
	HandshakeTypeCertificateRequest HandshakeType = 13
	HandshakeTypeServerHelloDone    HandshakeType = 14
	HandshakeTypeCertificateVerify  HandshakeType = 15
	HandshakeTypeClientKeyExchange  HandshakeType = 16
	HandshakeTypeFinished           HandshakeType = 20
	HandshakeTypeSupplementalData   HandshakeType = 23
)

func (t HandshakeType) String() string {
	switch t {
	case HandshakeTypeHelloRequest:
		return "hello_request"
	case HandshakeTypeClientHello:
		return "client_hello"
	case HandshakeTypeServerHello:
		return "server_hello"
	case HandshakeTypeHelloVerifyRequest:
		return "hello_verify_request"
	case HandshakeTypeNewSessionTicket:
		return "new_session_ticket"
	case HandshakeTypeCertificate:
		return "certificate"
	case HandshakeTypeServerKeyExchange:
		return "server_key_exchange"
	case HandshakeTypeCertificateRequest:
		return "certificate_request"
	case HandshakeTypeServerHelloDone:
		return "server_hello_done"
	case HandshakeTypeCertificateVerify:
		return "certificate_verify"
	case HandshakeTypeClientKeyExchange:
		return "client_key_exchange"
	case HandshakeTypeFinished:
		return "finished"
	case HandshakeTypeSupplementalData:
		return "supplemental_data"
	default:
		return "unknown_handshake_type"
	}
}

// uint16 ProtocolVersion; DTLS encodes as (255-major, 255-minor).
type ProtocolVersion uint16

const (
	VersionDTLS10 ProtocolVersion = 0xfeff
	VersionDTLS12 ProtocolVersion = 0xfefd
)

func (v ProtocolVersion) isDTLS() bool {
	return v == VersionDTLS10 || v == VersionDTLS12
}

// newer reports whether v is a later DTLS version than other. DTLS version
// numbers count down (1.2 < 1.0 numerically), unlike TLS.
func (v ProtocolVersion) newer(other ProtocolVersion) bool {
	return v < other
}

// uint8 CipherSuite[2]
type CipherSuite uint16

const (
	TLS_NULL_WITH_NULL_NULL                 CipherSuite = 0x0000
	TLS_EMPTY_RENEGOTIATION_INFO_SCSV       CipherSuite = 0x00FF
	TLS_RSA_WITH_AES_128_CBC_SHA            CipherSuite = 0x002F
	TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256   CipherSuite = 0xC02F
	TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256 CipherSuite = 0xC02B
)

// uint8 CompressionMethod
type CompressionMethod uint8

const CompressionNull CompressionMethod = 0

// enum {...} ExtensionType (subset relevant to this driver; unrecognized
// extensions still round-trip as opaque payloads via ExtensionList).
type ExtensionType uint16

const (
	ExtensionTypeSignatureAlgorithms ExtensionType = 13
	ExtensionTypeRenegotiationInfo   ExtensionType = 0xff01
	ExtensionTypeSessionTicket       ExtensionType = 35
)

// marshaler/unmarshaler mirror the teacher's helper interfaces of the same
// name in common.go.
type marshaler interface {
	Marshal() ([]byte, error)
}

type unmarshaler interface {
	Unmarshal([]byte) (int, error)
}

// HandshakeMessageBody is the codec contract every handshake message type
// satisfies (spec.md §2, "Handshake Codec").
type HandshakeMessageBody interface {
	Type() HandshakeType
	Marshal() ([]byte, error)
	Unmarshal(data []byte) (int, error)
}
