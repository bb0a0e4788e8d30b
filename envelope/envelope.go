package envelope

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"

	"golang.org/x/crypto/sha3"

	ferrors "github.com/vinayprograms/failsafe/errors"
)

// Algorithm names a signature backend.
type Algorithm string

const (
	AlgEd25519    Algorithm = "ed25519"
	AlgDilithium3 Algorithm = "dilithium3"
	AlgOpenPGP    Algorithm = "openpgp"
)

// Signer produces wire bytes for a payload.
type Signer interface {
	// Sign wraps payload in a signed envelope.
	// Failures are SIGNING_FAILED errors; callers must not send anything.
	Sign(payload []byte) ([]byte, error)

	// Fingerprint identifies the signing key.
	Fingerprint() string

	// Algorithm names the backend.
	Algorithm() Algorithm
}

// Verifier recovers signed payloads from wire bytes.
type Verifier interface {
	// Verify checks the envelope against trusted keys and returns the exact
	// signed bytes. Failures are VERIFICATION_FAILED errors.
	Verify(raw []byte) (*Verified, error)
}

// Verified is the result of a successful verification.
type Verified struct {
	// Payload holds the exact bytes that were signed.
	Payload []byte

	// Signer is the fingerprint of the key that produced the signature.
	Signer string
}

// Envelope is the JSON wire form used by the ed25519 and dilithium3
// backends.
type Envelope struct {
	Alg       Algorithm `json:"alg"`
	Signer    string    `json:"signer"`
	Payload   string    `json:"payload"`
	Signature string    `json:"signature"`
}

var b64 = base64.StdEncoding.Strict()

// Fingerprint derives a key fingerprint from an algorithm and raw public
// key bytes: hex(SHA3-256(alg ":" key))[:32].
func Fingerprint(alg Algorithm, publicKey []byte) string {
	h := sha3.New256()
	h.Write([]byte(alg))
	h.Write([]byte{':'})
	h.Write(publicKey)
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// seal builds the JSON wire bytes for a detached signature.
func seal(alg Algorithm, signer string, payload, signature []byte) ([]byte, error) {
	data, err := json.Marshal(Envelope{
		Alg:       alg,
		Signer:    signer,
		Payload:   b64.EncodeToString(payload),
		Signature: b64.EncodeToString(signature),
	})
	if err != nil {
		return nil, ferrors.Signing("encode envelope", ferrors.WithCause(err))
	}
	return data, nil
}

// openEnvelope decodes JSON wire bytes. The envelope must be in the exact
// form seal produces; anything else is rejected before any key is touched.
func openEnvelope(raw []byte) (*Envelope, []byte, []byte, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, nil, ferrors.Verification("envelope is not JSON", ferrors.WithCause(err))
	}

	canonical, err := json.Marshal(env)
	if err != nil || !bytes.Equal(canonical, raw) {
		return nil, nil, nil, ferrors.Verification("envelope not in canonical form")
	}

	if env.Signature == "" {
		return nil, nil, nil, ferrors.Verification("envelope has no signature")
	}
	payload, err := b64.DecodeString(env.Payload)
	if err != nil {
		return nil, nil, nil, ferrors.Verification("payload is not base64", ferrors.WithCause(err))
	}
	sig, err := b64.DecodeString(env.Signature)
	if err != nil {
		return nil, nil, nil, ferrors.Verification("signature is not base64", ferrors.WithCause(err))
	}
	return &env, payload, sig, nil
}

// IsClearsigned reports whether raw looks like an OpenPGP clearsigned
// message rather than a JSON envelope.
func IsClearsigned(raw []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(raw, " \t\r\n"), []byte("-----BEGIN PGP SIGNED MESSAGE-----"))
}

// MultiVerifier tries JSON envelopes against a Keyring and clearsigned
// messages against an OpenPGP verifier. Either may be nil.
type MultiVerifier struct {
	Keyring *Keyring
	PGP     *PGPVerifier
}

// Verify implements Verifier.
func (m *MultiVerifier) Verify(raw []byte) (*Verified, error) {
	if IsClearsigned(raw) {
		if m.PGP == nil {
			return nil, ferrors.Verification("no OpenPGP keys trusted")
		}
		return m.PGP.Verify(raw)
	}
	if m.Keyring == nil {
		return nil, ferrors.Verification("no envelope keys trusted")
	}
	return m.Keyring.Verify(raw)
}
