package envelope

import (
	"crypto/ed25519"
	"sort"

	"github.com/cloudflare/circl/sign/dilithium/mode3"

	ferrors "github.com/vinayprograms/failsafe/errors"
)

type trustedKey struct {
	alg    Algorithm
	verify func(msg, sig []byte) bool
}

// Keyring holds the trusted public keys for JSON envelopes. It is filled
// once at startup and read-only afterwards; changing trust needs a restart.
type Keyring struct {
	keys map[string]trustedKey
}

// NewKeyring creates an empty keyring.
func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[string]trustedKey)}
}

// AddEd25519 trusts an ed25519 public key and returns its fingerprint.
func (k *Keyring) AddEd25519(pub ed25519.PublicKey) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", ferrors.New(ferrors.ErrCodeKeyring, "invalid ed25519 public key length")
	}
	key := append(ed25519.PublicKey(nil), pub...)
	fp := Fingerprint(AlgEd25519, key)
	k.keys[fp] = trustedKey{
		alg: AlgEd25519,
		verify: func(msg, sig []byte) bool {
			return len(sig) == ed25519.SignatureSize && ed25519.Verify(key, msg, sig)
		},
	}
	return fp, nil
}

// AddDilithium3 trusts a dilithium3 public key and returns its fingerprint.
func (k *Keyring) AddDilithium3(pub *mode3.PublicKey) (string, error) {
	if pub == nil {
		return "", ferrors.New(ferrors.ErrCodeKeyring, "missing dilithium3 public key")
	}
	raw, err := pub.MarshalBinary()
	if err != nil {
		return "", ferrors.WrapWithCode(err, ferrors.ErrCodeKeyring, "encode dilithium3 public key")
	}
	fp := Fingerprint(AlgDilithium3, raw)
	k.keys[fp] = trustedKey{
		alg: AlgDilithium3,
		verify: func(msg, sig []byte) bool {
			return len(sig) == mode3.SignatureSize && mode3.Verify(pub, msg, sig)
		},
	}
	return fp, nil
}

// Len returns the number of trusted keys.
func (k *Keyring) Len() int {
	return len(k.keys)
}

// Fingerprints lists trusted key fingerprints in sorted order.
func (k *Keyring) Fingerprints() []string {
	fps := make([]string, 0, len(k.keys))
	for fp := range k.keys {
		fps = append(fps, fp)
	}
	sort.Strings(fps)
	return fps
}

// Verify implements Verifier for JSON envelopes.
func (k *Keyring) Verify(raw []byte) (*Verified, error) {
	env, payload, sig, err := openEnvelope(raw)
	if err != nil {
		return nil, err
	}

	key, ok := k.keys[env.Signer]
	if !ok {
		return nil, ferrors.Verification("signer not trusted", ferrors.WithMetadata("signer", env.Signer))
	}
	if key.alg != env.Alg {
		return nil, ferrors.Verification("algorithm does not match trusted key",
			ferrors.WithMetadata("signer", env.Signer),
			ferrors.WithMetadata("alg", string(env.Alg)),
		)
	}
	if !key.verify(payload, sig) {
		return nil, ferrors.Verification("bad signature", ferrors.WithMetadata("signer", env.Signer))
	}

	return &Verified{Payload: payload, Signer: env.Signer}, nil
}
