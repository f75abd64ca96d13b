package dtls

import (
	"crypto"
	"testing"

	"github.com/stretchr/testify/require"
)

// RFC 5246 §5 test vector for P_hash(SHA-256): not independently
// verified against a published vector here (none of the retrieved
// example files carried one), so this instead exercises pHash/prf's
// self-consistency and determinism, which is what the Finished-message
// invariant (spec.md §8 property 1) actually depends on.

func TestPHashDeterministicAndLengthCorrect(t *testing.T) {
	secret := []byte("a secret")
	seed := []byte("a seed")

	out1 := pHash(crypto.SHA256, secret, seed, 100)
	out2 := pHash(crypto.SHA256, secret, seed, 100)

	require.Len(t, out1, 100)
	require.Equal(t, out1, out2)
}

func TestPHashDiffersOnDifferentSecrets(t *testing.T) {
	seed := []byte("a seed")
	a := pHash(crypto.SHA256, []byte("secret one"), seed, 32)
	b := pHash(crypto.SHA256, []byte("secret two"), seed, 32)
	require.NotEqual(t, a, b)
}

func TestMasterSecretIs48Bytes(t *testing.T) {
	var clientRandom, serverRandom [32]byte
	for i := range clientRandom {
		clientRandom[i] = byte(i)
	}
	for i := range serverRandom {
		serverRandom[i] = byte(255 - i)
	}
	ms := masterSecret(crypto.SHA256, []byte("pre-master-secret"), clientRandom, serverRandom)
	require.Len(t, ms, 48)
}

// Transcript invariant (spec.md §8 property 1): verify_data computed with
// the same master_secret/label/hash must match, and must NOT match if any
// input changes.
func TestVerifyDataMatchesAndDiverges(t *testing.T) {
	var ms [48]byte
	copy(ms[:], []byte("0123456789012345678901234567890123456789012345"))
	hash := []byte("transcript-hash-placeholder-bytes")

	a := verifyData(crypto.SHA256, ms, finishedLabelClient, hash, 12)
	b := verifyData(crypto.SHA256, ms, finishedLabelClient, hash, 12)
	require.Equal(t, a, b)
	require.Len(t, a, 12)

	c := verifyData(crypto.SHA256, ms, finishedLabelServer, hash, 12)
	require.NotEqual(t, a, c)

	changedHash := append([]byte(nil), hash...)
	changedHash[0] ^= 0xff
	d := verifyData(crypto.SHA256, ms, finishedLabelClient, changedHash, 12)
	require.NotEqual(t, a, d)
}

func TestConstantTimeEqual(t *testing.T) {
	require.True(t, constantTimeEqual([]byte{1, 2, 3}, []byte{1, 2, 3}))
	require.False(t, constantTimeEqual([]byte{1, 2, 3}, []byte{1, 2, 4}))
	require.False(t, constantTimeEqual([]byte{1, 2, 3}, []byte{1, 2}))
}

func TestHashForCipherSuite(t *testing.T) {
	h, err := hashForCipherSuite(TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256)
	require.NoError(t, err)
	require.Equal(t, crypto.SHA256, h)

	_, err = hashForCipherSuite(TLS_NULL_WITH_NULL_NULL)
	require.Error(t, err)
}
