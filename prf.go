package dtls

import (
	"crypto"
	"crypto/hmac"
	"crypto/subtle"
	"fmt"

	_ "crypto/sha256"
	_ "crypto/sha512"
)

// This file implements the Finished-message PRF (spec.md §4.5): RFC 5246
// §5's P_hash/PRF construction over HMAC. It is a stdlib-only primitive;
// see DESIGN.md's "Standard-library justifications" for why this isn't
// wired to a third-party package.

// pHash is RFC 5246 §5's P_hash(secret, seed) expansion, truncated to n
// bytes.
func pHash(hash crypto.Hash, secret, seed []byte, n int) []byte {
	h := hmac.New(hash.New, secret)
	h.Write(seed)
	a := h.Sum(nil)

	var out []byte
	for len(out) < n {
		h := hmac.New(hash.New, secret)
		h.Write(a)
		h.Write(seed)
		out = append(out, h.Sum(nil)...)

		h = hmac.New(hash.New, secret)
		h.Write(a)
		a = h.Sum(nil)
	}
	return out[:n]
}

// prf is RFC 5246 §5's PRF(secret, label, seed) = P_hash(secret, label + seed).
func prf(hash crypto.Hash, secret []byte, label string, seed []byte, n int) []byte {
	full := append([]byte(label), seed...)
	return pHash(hash, secret, full, n)
}

// masterSecret derives the 48-byte master_secret from the pre_master_secret
// and the hello randoms (RFC 5246 §8.1).
func masterSecret(hash crypto.Hash, preMasterSecret []byte, clientRandom, serverRandom [32]byte) [48]byte {
	seed := append(append([]byte(nil), clientRandom[:]...), serverRandom[:]...)
	out := prf(hash, preMasterSecret, "master secret", seed, 48)
	var ms [48]byte
	copy(ms[:], out)
	return ms
}

const (
	finishedLabelClient = "client finished"
	finishedLabelServer = "server finished"
)

// verifyData computes the Finished message's verify_data (spec.md §4.5):
// PRF(master_secret, label, transcript_hash) truncated to length.
func verifyData(hash crypto.Hash, masterSecret [48]byte, label string, transcriptHash []byte, length int) []byte {
	return prf(hash, masterSecret[:], label, transcriptHash, length)
}

// constantTimeEqual wraps crypto/subtle for the constant-time comparisons
// spec.md §4.5/§9 require over secret-influenced bytes (verify_data,
// renegotiation_info).
func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

func hashForCipherSuite(suite CipherSuite) (crypto.Hash, error) {
	switch suite {
	case TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256, TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256:
		return crypto.SHA256, nil
	case TLS_RSA_WITH_AES_128_CBC_SHA:
		return crypto.SHA256, nil
	default:
		return 0, fmt.Errorf("dtls.prf: no PRF hash registered for cipher suite %#04x", uint16(suite))
	}
}
