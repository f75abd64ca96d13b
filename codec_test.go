package dtls

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Round-trip decoders (spec.md §8 property 6): encode then decode for
// ServerHello, CertificateRequest, NewSessionTicket yields an equal value.

func TestServerHelloRoundTrip(t *testing.T) {
	exts := NewExtensionList()
	require.NoError(t, exts.Add(ExtensionTypeRenegotiationInfo, []byte{}))

	want := ServerHelloBody{
		ServerVersion:     VersionDTLS12,
		Random:            [32]byte{1, 2, 3, 4},
		SessionID:         []byte{9, 9},
		CipherSuite:       TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		CompressionMethod: CompressionNull,
		Extensions:        exts,
	}

	data, err := want.Marshal()
	require.NoError(t, err)

	var got ServerHelloBody
	n, err := got.Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, want, got)
}

func TestCertificateRequestRoundTrip(t *testing.T) {
	want := CertificateRequestBody{
		CertificateTypes:             []uint8{1, 64},
		SupportedSignatureAlgorithms: []byte{4, 1, 4, 3},
		CertificateAuthorities:       [][]byte{{1, 2, 3}, {4, 5}},
	}

	data, err := want.Marshal()
	require.NoError(t, err)

	var got CertificateRequestBody
	n, err := got.Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, want, got)
}

func TestNewSessionTicketRoundTrip(t *testing.T) {
	want := NewSessionTicketBody{
		TicketLifetimeHint: 3600,
		Ticket:             []byte("opaque-ticket-bytes"),
	}

	data, err := want.Marshal()
	require.NoError(t, err)

	var got NewSessionTicketBody
	n, err := got.Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, want, got)
}

func TestClientHelloRoundTrip(t *testing.T) {
	want := ClientHelloBody{
		ClientVersion:      VersionDTLS12,
		Random:             [32]byte{5, 6, 7},
		SessionID:          nil,
		Cookie:             []byte{1, 2, 3, 4},
		CipherSuites:       []CipherSuite{TLS_EMPTY_RENEGOTIATION_INFO_SCSV, TLS_RSA_WITH_AES_128_CBC_SHA},
		CompressionMethods: []CompressionMethod{CompressionNull},
		Extensions:         NewExtensionList(),
	}

	data, err := want.Marshal()
	require.NoError(t, err)

	var got ClientHelloBody
	n, err := got.Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, want.ClientVersion, got.ClientVersion)
	require.Equal(t, want.Random, got.Random)
	require.Equal(t, want.Cookie, got.Cookie)
	require.Equal(t, want.CipherSuites, got.CipherSuites)
	require.Equal(t, want.CompressionMethods, got.CompressionMethods)
}

// S3 — bad session_id length.
func TestClientHelloRejectsOversizedSessionID(t *testing.T) {
	sessionID := make([]byte, 33)
	ch := ClientHelloBody{
		ClientVersion:      VersionDTLS12,
		SessionID:          sessionID,
		CipherSuites:       []CipherSuite{TLS_RSA_WITH_AES_128_CBC_SHA},
		CompressionMethods: []CompressionMethod{CompressionNull},
		Extensions:         NewExtensionList(),
	}
	_, err := ch.Marshal()
	require.Error(t, err)
}

func TestAssertEmptyRejectsTrailingBytes(t *testing.T) {
	require.NoError(t, assertEmpty(nil))
	require.Error(t, assertEmpty([]byte{0x01}))
}

func TestUint8VectorRoundTrip(t *testing.T) {
	v := writeUint8Vector([]byte("hello"))
	got, n, err := readUint8Vector(v, 255)
	require.NoError(t, err)
	require.Equal(t, len(v), n)
	require.Equal(t, []byte("hello"), got)
}

func TestUint8VectorRejectsOverMax(t *testing.T) {
	_, _, err := readUint8Vector([]byte{2, 'a', 'b'}, 1)
	require.Error(t, err)
}
