package dtls

import (
	"crypto/x509"
	"fmt"
)

// This file is the Handshake Codec (spec.md §2/§4.2): pure encoders and
// decoders for the wire structures of every handshake message this
// driver sends or receives. It is adapted from the teacher's
// handshake-messages.go, which mixed a tag-based `syntax.Marshal`
// encoder (backed by a sibling package not present in the retrieved
// pack, see DESIGN.md) with hand-rolled byte packing for a few message
// types (FinishedBody, CertificateBody); every message here uses that
// hand-rolled style uniformly.

const (
	maxSessionIDLen      = 32
	maxCookieLen         = 255
	maxCertRequestCALen  = (1 << 16) - 1
	maxTicketLen         = (1 << 16) - 1
)

func assertEmpty(remaining []byte) error {
	if len(remaining) != 0 {
		return fmt.Errorf("dtls.codec: %d trailing bytes after message", len(remaining))
	}
	return nil
}

func readUint8Vector(data []byte, maxLen int) (vec []byte, read int, err error) {
	if len(data) < 1 {
		return nil, 0, fmt.Errorf("dtls.codec: too short for vector length")
	}
	n := int(data[0])
	if n > maxLen {
		return nil, 0, fmt.Errorf("dtls.codec: vector length %d exceeds max %d", n, maxLen)
	}
	if len(data) < 1+n {
		return nil, 0, fmt.Errorf("dtls.codec: too short for vector body")
	}
	vec = make([]byte, n)
	copy(vec, data[1:1+n])
	return vec, 1 + n, nil
}

func writeUint8Vector(v []byte) []byte {
	out := make([]byte, 0, 1+len(v))
	out = append(out, byte(len(v)))
	return append(out, v...)
}

func readUint16Vector(data []byte, maxLen int) (vec []byte, read int, err error) {
	if len(data) < 2 {
		return nil, 0, fmt.Errorf("dtls.codec: too short for vector length")
	}
	n := int(data[0])<<8 | int(data[1])
	if n > maxLen {
		return nil, 0, fmt.Errorf("dtls.codec: vector length %d exceeds max %d", n, maxLen)
	}
	if len(data) < 2+n {
		return nil, 0, fmt.Errorf("dtls.codec: too short for vector body")
	}
	vec = make([]byte, n)
	copy(vec, data[2:2+n])
	return vec, 2 + n, nil
}

func writeUint16Vector(v []byte) []byte {
	out := make([]byte, 0, 2+len(v))
	out = append(out, byte(len(v)>>8), byte(len(v)))
	return append(out, v...)
}

// struct {
//     ProtocolVersion client_version;
//     Random random;
//     SessionID session_id;
//     opaque cookie<0..2^8-1>;
//     CipherSuite cipher_suites<2..2^16-2>;
//     CompressionMethod compression_methods<1..2^8-1>;
//     Extension extensions<0..2^16-1>;
// } ClientHello;  (RFC 6347 §4.2.1)
type ClientHelloBody struct {
	ClientVersion    ProtocolVersion
	Random           [32]byte
	SessionID        []byte
	Cookie           []byte
	CipherSuites     []CipherSuite
	CompressionMethods []CompressionMethod
	Extensions       ExtensionList
}

func (ClientHelloBody) Type() HandshakeType { return HandshakeTypeClientHello }

func (ch ClientHelloBody) Marshal() ([]byte, error) {
	if len(ch.SessionID) > maxSessionIDLen {
		return nil, fmt.Errorf("dtls.clienthello: session id too long")
	}
	if len(ch.Cookie) > maxCookieLen {
		return nil, fmt.Errorf("dtls.clienthello: cookie too long")
	}
	if len(ch.CipherSuites) == 0 {
		return nil, fmt.Errorf("dtls.clienthello: no cipher suites")
	}
	if len(ch.CompressionMethods) == 0 {
		return nil, fmt.Errorf("dtls.clienthello: no compression methods")
	}

	out := make([]byte, 0, 128)
	out = append(out, byte(ch.ClientVersion>>8), byte(ch.ClientVersion))
	out = append(out, ch.Random[:]...)
	out = append(out, writeUint8Vector(ch.SessionID)...)
	out = append(out, writeUint8Vector(ch.Cookie)...)

	suites := make([]byte, 0, 2*len(ch.CipherSuites))
	for _, cs := range ch.CipherSuites {
		suites = append(suites, byte(cs>>8), byte(cs))
	}
	out = append(out, byte(len(suites)>>8), byte(len(suites)))
	out = append(out, suites...)

	comps := make([]byte, len(ch.CompressionMethods))
	for i, c := range ch.CompressionMethods {
		comps[i] = byte(c)
	}
	out = append(out, writeUint8Vector(comps)...)

	if ch.Extensions.Len() > 0 {
		extData, err := ch.Extensions.Marshal()
		if err != nil {
			return nil, err
		}
		out = append(out, writeUint16Vector(extData)...)
	}
	return out, nil
}

func (ch *ClientHelloBody) Unmarshal(data []byte) (int, error) {
	if len(data) < 2+32 {
		return 0, fmt.Errorf("dtls.clienthello: too short for fixed header")
	}
	ch.ClientVersion = ProtocolVersion(int(data[0])<<8 | int(data[1]))
	copy(ch.Random[:], data[2:34])
	pos := 34

	sid, n, err := readUint8Vector(data[pos:], maxSessionIDLen)
	if err != nil {
		return 0, err
	}
	ch.SessionID = sid
	pos += n

	cookie, n, err := readUint8Vector(data[pos:], maxCookieLen)
	if err != nil {
		return 0, err
	}
	ch.Cookie = cookie
	pos += n

	if len(data[pos:]) < 2 {
		return 0, fmt.Errorf("dtls.clienthello: too short for cipher suite length")
	}
	csLen := int(data[pos])<<8 | int(data[pos+1])
	if csLen < 2 || csLen%2 != 0 {
		return 0, fmt.Errorf("dtls.clienthello: invalid cipher_suites_length %d", csLen)
	}
	pos += 2
	if len(data[pos:]) < csLen {
		return 0, fmt.Errorf("dtls.clienthello: too short for cipher suites")
	}
	ch.CipherSuites = ch.CipherSuites[:0]
	for i := 0; i < csLen; i += 2 {
		ch.CipherSuites = append(ch.CipherSuites, CipherSuite(int(data[pos+i])<<8|int(data[pos+i+1])))
	}
	pos += csLen

	if len(data[pos:]) < 1 {
		return 0, fmt.Errorf("dtls.clienthello: too short for compression length")
	}
	compLen := int(data[pos])
	if compLen < 1 {
		return 0, fmt.Errorf("dtls.clienthello: empty compression_methods")
	}
	pos++
	if len(data[pos:]) < compLen {
		return 0, fmt.Errorf("dtls.clienthello: too short for compression methods")
	}
	ch.CompressionMethods = ch.CompressionMethods[:0]
	for i := 0; i < compLen; i++ {
		ch.CompressionMethods = append(ch.CompressionMethods, CompressionMethod(data[pos+i]))
	}
	pos += compLen

	ch.Extensions = NewExtensionList()
	if len(data[pos:]) > 0 {
		n, err := ch.Extensions.Unmarshal(data[pos:])
		if err != nil {
			return 0, err
		}
		pos += n
	}
	return pos, nil
}

// struct {
//     ProtocolVersion server_version;
//     Random random;
//     SessionID session_id;
//     CipherSuite cipher_suite;
//     CompressionMethod compression_method;
//     Extension extensions<0..2^16-1>;
// } ServerHello;  (RFC 5246 §7.4.1.3, RFC 6347 §4.2.1)
type ServerHelloBody struct {
	ServerVersion        ProtocolVersion
	Random               [32]byte
	SessionID            []byte
	CipherSuite          CipherSuite
	CompressionMethod    CompressionMethod
	Extensions           ExtensionList
}

func (ServerHelloBody) Type() HandshakeType { return HandshakeTypeServerHello }

func (sh ServerHelloBody) Marshal() ([]byte, error) {
	if len(sh.SessionID) > maxSessionIDLen {
		return nil, fmt.Errorf("dtls.serverhello: session id too long")
	}
	out := make([]byte, 0, 80)
	out = append(out, byte(sh.ServerVersion>>8), byte(sh.ServerVersion))
	out = append(out, sh.Random[:]...)
	out = append(out, writeUint8Vector(sh.SessionID)...)
	out = append(out, byte(sh.CipherSuite>>8), byte(sh.CipherSuite))
	out = append(out, byte(sh.CompressionMethod))
	if sh.Extensions.Len() > 0 {
		extData, err := sh.Extensions.Marshal()
		if err != nil {
			return nil, err
		}
		out = append(out, writeUint16Vector(extData)...)
	}
	return out, nil
}

func (sh *ServerHelloBody) Unmarshal(data []byte) (int, error) {
	if len(data) < 2+32 {
		return 0, fmt.Errorf("dtls.serverhello: too short for fixed header")
	}
	sh.ServerVersion = ProtocolVersion(int(data[0])<<8 | int(data[1]))
	copy(sh.Random[:], data[2:34])
	pos := 34

	sid, n, err := readUint8Vector(data[pos:], maxSessionIDLen)
	if err != nil {
		return 0, err
	}
	sh.SessionID = sid
	pos += n

	if len(data[pos:]) < 3 {
		return 0, fmt.Errorf("dtls.serverhello: too short for suite/compression")
	}
	sh.CipherSuite = CipherSuite(int(data[pos])<<8 | int(data[pos+1]))
	sh.CompressionMethod = CompressionMethod(data[pos+2])
	pos += 3

	sh.Extensions = NewExtensionList()
	if len(data[pos:]) > 0 {
		n, err := sh.Extensions.Unmarshal(data[pos:])
		if err != nil {
			return 0, err
		}
		pos += n
	}
	return pos, nil
}

// opaque ASN1Cert<1..2^24-1>;
// struct { ASN1Cert certificate_list<0..2^24-1>; } Certificate;  (RFC 5246 §7.4.2)
type CertificateBody struct {
	CertificateList []*x509.Certificate
}

func (CertificateBody) Type() HandshakeType { return HandshakeTypeCertificate }

// parseDERCertificate parses a single DER-encoded certificate, as found
// in a Credentials.Chain entry (policy.go), into the *x509.Certificate
// form CertificateBody.CertificateList carries on the wire.
func parseDERCertificate(der []byte) (*x509.Certificate, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("dtls.certificate: %w", err)
	}
	return cert, nil
}

func write24(n int) []byte {
	return []byte{byte(n >> 16), byte(n >> 8), byte(n)}
}

func read24(b []byte) int {
	return int(b[0])<<16 | int(b[1])<<8 | int(b[2])
}

func (c CertificateBody) Marshal() ([]byte, error) {
	var certsData []byte
	for _, cert := range c.CertificateList {
		if cert == nil || len(cert.Raw) == 0 {
			return nil, fmt.Errorf("dtls.certificate: unmarshaled certificate")
		}
		certsData = append(certsData, write24(len(cert.Raw))...)
		certsData = append(certsData, cert.Raw...)
	}
	out := write24(len(certsData))
	out = append(out, certsData...)
	return out, nil
}

func (c *CertificateBody) Unmarshal(data []byte) (int, error) {
	if len(data) < 3 {
		return 0, fmt.Errorf("dtls.certificate: too short for list length")
	}
	listLen := read24(data)
	if len(data) < 3+listLen {
		return 0, fmt.Errorf("dtls.certificate: too short for certificate list")
	}
	start, end := 3, 3+listLen
	c.CertificateList = nil
	for start < end {
		if end-start < 3 {
			return 0, fmt.Errorf("dtls.certificate: too short for certificate length")
		}
		certLen := read24(data[start:])
		start += 3
		if end-start < certLen {
			return 0, fmt.Errorf("dtls.certificate: too short for certificate body")
		}
		cert, err := x509.ParseCertificate(data[start : start+certLen])
		if err != nil {
			return 0, fmt.Errorf("dtls.certificate: %w", err)
		}
		c.CertificateList = append(c.CertificateList, cert)
		start += certLen
	}
	return end, nil
}

// The body of ServerKeyExchange is entirely determined by the negotiated
// key-exchange algorithm (RFC 5246 §7.4.3); this driver treats it as an
// opaque payload produced by KeyExchange.GenerateServerKeyExchange and
// consumed by KeyExchange.ProcessClientKeyExchange's counterpart on the
// peer, never interpreted by the driver itself.
type ServerKeyExchangeBody struct {
	Raw []byte
}

func (ServerKeyExchangeBody) Type() HandshakeType { return HandshakeTypeServerKeyExchange }

func (ske ServerKeyExchangeBody) Marshal() ([]byte, error) {
	return append([]byte(nil), ske.Raw...), nil
}

func (ske *ServerKeyExchangeBody) Unmarshal(data []byte) (int, error) {
	ske.Raw = append([]byte(nil), data...)
	return len(data), nil
}

// Likewise ClientKeyExchange's body is algorithm-specific (RFC 5246 §7.4.7).
type ClientKeyExchangeBody struct {
	Raw []byte
}

func (ClientKeyExchangeBody) Type() HandshakeType { return HandshakeTypeClientKeyExchange }

func (cke ClientKeyExchangeBody) Marshal() ([]byte, error) {
	return append([]byte(nil), cke.Raw...), nil
}

func (cke *ClientKeyExchangeBody) Unmarshal(data []byte) (int, error) {
	cke.Raw = append([]byte(nil), data...)
	return len(data), nil
}

// struct {
//     SignatureAndHashAlgorithm algorithm; // omitted here, algorithm is opaque
//     opaque signature<0..2^16-1>;
// } CertificateVerify;  (RFC 5246 §7.4.8)
//
// Parsing is intentionally unimplemented (spec.md §9, Open Question a):
// the source this spec is distilled from stubs CertificateVerify
// processing, and reintroducing a signature scheme is left to whichever
// deployment actually enables client certificate verification.
type CertificateVerifyBody struct {
	AlgorithmHash      uint8
	AlgorithmSignature uint8
	Signature          []byte
}

func (CertificateVerifyBody) Type() HandshakeType { return HandshakeTypeCertificateVerify }

func (cv CertificateVerifyBody) Marshal() ([]byte, error) {
	out := []byte{cv.AlgorithmHash, cv.AlgorithmSignature}
	return append(out, writeUint16Vector(cv.Signature)...), nil
}

func (cv *CertificateVerifyBody) Unmarshal(data []byte) (int, error) {
	return 0, fmt.Errorf("dtls.certificateverify: parsing unimplemented")
}

// struct {
//     ClientCertificateType certificate_types<1..2^8-1>;
//     opaque supported_signature_algorithms<2..2^16-2>;
//     DistinguishedName certificate_authorities<0..2^16-1>;
// } CertificateRequest;  (RFC 5246 §7.4.4)
type CertificateRequestBody struct {
	CertificateTypes           []uint8
	SupportedSignatureAlgorithms []byte
	CertificateAuthorities     [][]byte
}

func (CertificateRequestBody) Type() HandshakeType { return HandshakeTypeCertificateRequest }

func (cr CertificateRequestBody) Marshal() ([]byte, error) {
	if len(cr.CertificateTypes) == 0 {
		return nil, fmt.Errorf("dtls.certificaterequest: no certificate types")
	}
	out := writeUint8Vector(cr.CertificateTypes)
	out = append(out, writeUint16Vector(cr.SupportedSignatureAlgorithms)...)

	var cas []byte
	for _, dn := range cr.CertificateAuthorities {
		cas = append(cas, writeUint16Vector(dn)...)
	}
	out = append(out, writeUint16Vector(cas)...)
	return out, nil
}

func (cr *CertificateRequestBody) Unmarshal(data []byte) (int, error) {
	types, n, err := readUint8Vector(data, 255)
	if err != nil {
		return 0, err
	}
	if len(types) == 0 {
		return 0, fmt.Errorf("dtls.certificaterequest: empty certificate_types")
	}
	cr.CertificateTypes = types
	pos := n

	sigAlgs, n, err := readUint16Vector(data[pos:], maxCertRequestCALen)
	if err != nil {
		return 0, err
	}
	cr.SupportedSignatureAlgorithms = sigAlgs
	pos += n

	cas, n, err := readUint16Vector(data[pos:], maxCertRequestCALen)
	if err != nil {
		return 0, err
	}
	pos += n

	cr.CertificateAuthorities = nil
	for len(cas) > 0 {
		dn, n, err := readUint16Vector(cas, maxCertRequestCALen)
		if err != nil {
			return 0, err
		}
		cr.CertificateAuthorities = append(cr.CertificateAuthorities, dn)
		cas = cas[n:]
	}
	return pos, nil
}

// struct {
//     opaque verify_data[verify_data_length];
// } Finished;  (RFC 5246 §7.4.9)
//
// VerifyDataLen is not itself a wire field; the caller must set it (from
// SecurityParameters.VerifyDataLength) before Unmarshal, matching the
// teacher's FinishedBody in handshake-messages.go.
type FinishedBody struct {
	VerifyDataLen int
	VerifyData    []byte
}

func (FinishedBody) Type() HandshakeType { return HandshakeTypeFinished }

func (fin FinishedBody) Marshal() ([]byte, error) {
	if len(fin.VerifyData) != fin.VerifyDataLen {
		return nil, fmt.Errorf("dtls.finished: verify_data length mismatch")
	}
	return append([]byte(nil), fin.VerifyData...), nil
}

func (fin *FinishedBody) Unmarshal(data []byte) (int, error) {
	if len(data) < fin.VerifyDataLen {
		return 0, fmt.Errorf("dtls.finished: message too short")
	}
	fin.VerifyData = make([]byte, fin.VerifyDataLen)
	copy(fin.VerifyData, data[:fin.VerifyDataLen])
	return fin.VerifyDataLen, nil
}

// struct {
//     uint32 ticket_lifetime_hint;
//     opaque ticket<0..2^16-1>;
// } NewSessionTicket;  (RFC 5077 §3.3)
type NewSessionTicketBody struct {
	TicketLifetimeHint uint32
	Ticket             []byte
}

func (NewSessionTicketBody) Type() HandshakeType { return HandshakeTypeNewSessionTicket }

func (t NewSessionTicketBody) Marshal() ([]byte, error) {
	if len(t.Ticket) > maxTicketLen {
		return nil, fmt.Errorf("dtls.newsessionticket: ticket too long")
	}
	out := []byte{
		byte(t.TicketLifetimeHint >> 24), byte(t.TicketLifetimeHint >> 16),
		byte(t.TicketLifetimeHint >> 8), byte(t.TicketLifetimeHint),
	}
	return append(out, writeUint16Vector(t.Ticket)...), nil
}

func (t *NewSessionTicketBody) Unmarshal(data []byte) (int, error) {
	if len(data) < 4 {
		return 0, fmt.Errorf("dtls.newsessionticket: too short for lifetime hint")
	}
	t.TicketLifetimeHint = uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
	ticket, n, err := readUint16Vector(data[4:], maxTicketLen)
	if err != nil {
		return 0, err
	}
	t.Ticket = ticket
	return 4 + n, nil
}

// struct {
//     SupplementalDataType supplemental_data_type;
//     opaque supplemental_data<1..2^16-1>;
// } SupplementalDataEntry;
// struct {
//     SupplementalDataEntry supplemental_data<1..2^16-1>;
// } SupplementalData;  (RFC 4680 §3)
type SupplementalDataEntry struct {
	Type uint16
	Data []byte
}

type SupplementalDataBody struct {
	Entries []SupplementalDataEntry
}

func (SupplementalDataBody) Type() HandshakeType { return HandshakeTypeSupplementalData }

func (sd SupplementalDataBody) Marshal() ([]byte, error) {
	var body []byte
	for _, e := range sd.Entries {
		body = append(body, byte(e.Type>>8), byte(e.Type))
		body = append(body, writeUint16Vector(e.Data)...)
	}
	return writeUint16Vector(body), nil
}

func (sd *SupplementalDataBody) Unmarshal(data []byte) (int, error) {
	body, n, err := readUint16Vector(data, (1<<16)-1)
	if err != nil {
		return 0, err
	}
	sd.Entries = nil
	for len(body) > 0 {
		if len(body) < 2 {
			return 0, fmt.Errorf("dtls.supplementaldata: truncated entry type")
		}
		etype := uint16(body[0])<<8 | uint16(body[1])
		body = body[2:]
		edata, n2, err := readUint16Vector(body, (1<<16)-1)
		if err != nil {
			return 0, err
		}
		sd.Entries = append(sd.Entries, SupplementalDataEntry{Type: etype, Data: edata})
		body = body[n2:]
	}
	return n, nil
}
