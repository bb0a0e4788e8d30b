package envelope

import (
	"crypto/rand"

	"github.com/cloudflare/circl/sign/dilithium/mode3"

	ferrors "github.com/vinayprograms/failsafe/errors"
)

// Dilithium3Signer signs JSON envelopes with a post-quantum dilithium3 key.
type Dilithium3Signer struct {
	key         *mode3.PrivateKey
	public      *mode3.PublicKey
	fingerprint string
}

// NewDilithium3Signer wraps a keypair.
func NewDilithium3Signer(priv *mode3.PrivateKey, pub *mode3.PublicKey) (*Dilithium3Signer, error) {
	if priv == nil || pub == nil {
		return nil, ferrors.New(ferrors.ErrCodeKeyring, "missing dilithium3 key")
	}
	raw, err := pub.MarshalBinary()
	if err != nil {
		return nil, ferrors.WrapWithCode(err, ferrors.ErrCodeKeyring, "encode dilithium3 public key")
	}
	return &Dilithium3Signer{
		key:         priv,
		public:      pub,
		fingerprint: Fingerprint(AlgDilithium3, raw),
	}, nil
}

// GenerateDilithium3 creates a fresh keypair.
func GenerateDilithium3() (*Dilithium3Signer, error) {
	pub, priv, err := mode3.GenerateKey(rand.Reader)
	if err != nil {
		return nil, ferrors.WrapWithCode(err, ferrors.ErrCodeKeyring, "generate dilithium3 key")
	}
	return NewDilithium3Signer(priv, pub)
}

// Sign implements Signer.
func (s *Dilithium3Signer) Sign(payload []byte) ([]byte, error) {
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(s.key, payload, sig)
	return seal(AlgDilithium3, s.fingerprint, payload, sig)
}

// Fingerprint implements Signer.
func (s *Dilithium3Signer) Fingerprint() string {
	return s.fingerprint
}

// Algorithm implements Signer.
func (s *Dilithium3Signer) Algorithm() Algorithm {
	return AlgDilithium3
}

// PublicKey returns the verification half of the key.
func (s *Dilithium3Signer) PublicKey() *mode3.PublicKey {
	return s.public
}
