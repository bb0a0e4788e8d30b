package envelope

import (
	"crypto/ed25519"
	"crypto/rand"

	ferrors "github.com/vinayprograms/failsafe/errors"
)

// Ed25519Signer signs JSON envelopes with an ed25519 key.
type Ed25519Signer struct {
	key         ed25519.PrivateKey
	fingerprint string
}

// NewEd25519Signer wraps a private key.
func NewEd25519Signer(key ed25519.PrivateKey) (*Ed25519Signer, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, ferrors.New(ferrors.ErrCodeKeyring, "invalid ed25519 private key length")
	}
	pub := key.Public().(ed25519.PublicKey)
	return &Ed25519Signer{
		key:         key,
		fingerprint: Fingerprint(AlgEd25519, pub),
	}, nil
}

// GenerateEd25519 creates a fresh keypair.
func GenerateEd25519() (*Ed25519Signer, ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, ferrors.WrapWithCode(err, ferrors.ErrCodeKeyring, "generate ed25519 key")
	}
	s, err := NewEd25519Signer(priv)
	if err != nil {
		return nil, nil, err
	}
	return s, pub, nil
}

// Sign implements Signer.
func (s *Ed25519Signer) Sign(payload []byte) ([]byte, error) {
	sig := ed25519.Sign(s.key, payload)
	return seal(AlgEd25519, s.fingerprint, payload, sig)
}

// Fingerprint implements Signer.
func (s *Ed25519Signer) Fingerprint() string {
	return s.fingerprint
}

// Algorithm implements Signer.
func (s *Ed25519Signer) Algorithm() Algorithm {
	return AlgEd25519
}

// PublicKey returns the verification half of the key.
func (s *Ed25519Signer) PublicKey() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}
