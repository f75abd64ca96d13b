package dtls

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFragmentReassemblerSingleFragment(t *testing.T) {
	f := newFragmentReassembler()
	hdr := dtlsHandshakeHeader{msgType: HandshakeTypeClientHello, length: 5, messageSeq: 0, fragmentOffset: 0, fragmentLength: 5}

	body, ok, err := f.Add(hdr, []byte("abcde"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("abcde"), body)
}

func TestFragmentReassemblerOutOfOrder(t *testing.T) {
	f := newFragmentReassembler()
	msg := []byte("abcdefghij")

	hdr2 := dtlsHandshakeHeader{msgType: HandshakeTypeClientHello, length: 10, messageSeq: 1, fragmentOffset: 5, fragmentLength: 5}
	_, ok, err := f.Add(hdr2, msg[5:])
	require.NoError(t, err)
	require.False(t, ok)

	hdr1 := dtlsHandshakeHeader{msgType: HandshakeTypeClientHello, length: 10, messageSeq: 1, fragmentOffset: 0, fragmentLength: 5}
	body, ok, err := f.Add(hdr1, msg[:5])
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, msg, body)
}

func TestFragmentReassemblerDuplicateFragmentsHarmless(t *testing.T) {
	f := newFragmentReassembler()
	msg := []byte("hello!")
	hdr := dtlsHandshakeHeader{msgType: HandshakeTypeFinished, length: 6, messageSeq: 4, fragmentOffset: 0, fragmentLength: 6}

	_, ok, err := f.Add(hdr, msg)
	require.NoError(t, err)
	require.True(t, ok)

	// A retransmitted copy of the same (now-complete) message_seq starts
	// a fresh reassembly rather than erroring — the adapter's ReceiveMessage
	// loop is expected to de-duplicate at a higher level (by message_seq
	// already having been delivered), not here.
	body, ok, err := f.Add(hdr, msg)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, msg, body)
}

func TestFragmentReassemblerInconsistentHeaderRejected(t *testing.T) {
	f := newFragmentReassembler()
	hdr1 := dtlsHandshakeHeader{msgType: HandshakeTypeClientHello, length: 10, messageSeq: 2, fragmentOffset: 0, fragmentLength: 4}
	_, _, err := f.Add(hdr1, []byte("abcd"))
	require.NoError(t, err)

	hdr2 := dtlsHandshakeHeader{msgType: HandshakeTypeClientHello, length: 12, messageSeq: 2, fragmentOffset: 4, fragmentLength: 4}
	_, _, err = f.Add(hdr2, []byte("efgh"))
	require.Error(t, err)
}

func TestFragmentReassemblerFragmentLengthMismatch(t *testing.T) {
	f := newFragmentReassembler()
	hdr := dtlsHandshakeHeader{msgType: HandshakeTypeClientHello, length: 10, messageSeq: 0, fragmentOffset: 0, fragmentLength: 5}
	_, _, err := f.Add(hdr, []byte("abc"))
	require.Error(t, err)
}

func TestDTLSHandshakeHeaderRoundTrip(t *testing.T) {
	hdr := dtlsHandshakeHeader{
		msgType:        HandshakeTypeServerHello,
		length:         300,
		messageSeq:     7,
		fragmentOffset: 100,
		fragmentLength: 200,
	}
	wire := hdr.marshal()
	require.Len(t, wire, dtlsHandshakeHeaderLen)

	parsed, err := parseDTLSHandshakeHeader(wire)
	require.NoError(t, err)
	require.Equal(t, hdr, parsed)
}
