package dtls

import "fmt"

// AnonymousECDHEPolicy is a batteries-included ServerPolicy for the
// anonymous ECDHE case — spec.md §8's S1 scenario ("minimal PSK-like anon
// handshake"): no credentials, no CertificateRequest, no session ticket.
// It is the policy cmd/dtls-server wires up by default; real deployments
// needing certificate-based authentication supply their own ServerPolicy.
type AnonymousECDHEPolicy struct {
	// PreferredSuite is offered first in preference order; the policy
	// selects it if the client offered it, else falls back to any
	// mutually offered suite from SupportedSuites.
	PreferredSuite  CipherSuite
	SupportedSuites []CipherSuite

	clientSuites []CipherSuite
	selected     CipherSuite
}

var _ ServerPolicy = (*AnonymousECDHEPolicy)(nil)

func NewAnonymousECDHEPolicy() *AnonymousECDHEPolicy {
	return &AnonymousECDHEPolicy{
		PreferredSuite:  TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		SupportedSuites: []CipherSuite{TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256, TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256},
	}
}

func (p *AnonymousECDHEPolicy) Init(ctx *SecurityParameters) error { return nil }

func (p *AnonymousECDHEPolicy) NotifyClientVersion(version ProtocolVersion) error { return nil }

func (p *AnonymousECDHEPolicy) NotifyOfferedCipherSuites(suites []CipherSuite) error {
	p.clientSuites = suites
	return nil
}

func (p *AnonymousECDHEPolicy) NotifyOfferedCompressionMethods(methods []CompressionMethod) error {
	return nil
}

func (p *AnonymousECDHEPolicy) NotifySecureRenegotiation(secure bool) error { return nil }

func (p *AnonymousECDHEPolicy) ProcessClientExtensions(exts ExtensionList) error { return nil }

func (p *AnonymousECDHEPolicy) GetServerVersion() (ProtocolVersion, error) {
	return VersionDTLS12, nil
}

func (p *AnonymousECDHEPolicy) GetSelectedCipherSuite() (CipherSuite, error) {
	if containsSuite(p.clientSuites, p.PreferredSuite) {
		p.selected = p.PreferredSuite
		return p.selected, nil
	}
	for _, s := range p.SupportedSuites {
		if containsSuite(p.clientSuites, s) {
			p.selected = s
			return p.selected, nil
		}
	}
	return 0, fmt.Errorf("dtls.policy: no mutually supported cipher suite")
}

func (p *AnonymousECDHEPolicy) GetSelectedCompressionMethod() (CompressionMethod, error) {
	return CompressionNull, nil
}

func (p *AnonymousECDHEPolicy) GetServerExtensions() (ExtensionList, error) {
	return NewExtensionList(), nil
}

func (p *AnonymousECDHEPolicy) GetServerSupplementalData() ([]SupplementalDataEntry, error) {
	return nil, nil
}

func (p *AnonymousECDHEPolicy) GetKeyExchange() (KeyExchange, error) {
	return NewECDHEKeyExchange(), nil
}

func (p *AnonymousECDHEPolicy) GetCredentials() (*Credentials, error) { return nil, nil }

func (p *AnonymousECDHEPolicy) GetCertificateRequest() (*CertificateRequestBody, error) {
	return nil, nil
}

func (p *AnonymousECDHEPolicy) ProcessClientSupplementalData(entries []SupplementalDataEntry) error {
	return nil
}

func (p *AnonymousECDHEPolicy) GetCipher() (RecordCipher, error) {
	hash, err := hashForCipherSuite(p.selected)
	if err != nil {
		return RecordCipher{}, err
	}
	return RecordCipher{Suite: p.selected, Hash: hash, KeyLen: 16, IVLen: 4}, nil
}

func (p *AnonymousECDHEPolicy) GetNewSessionTicket() (*NewSessionTicketBody, error) {
	return nil, nil
}

func (p *AnonymousECDHEPolicy) NotifyHandshakeComplete() error { return nil }
