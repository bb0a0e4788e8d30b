package envelope

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
	"github.com/ProtonMail/go-crypto/openpgp/packet"

	ferrors "github.com/vinayprograms/failsafe/errors"
)

// PGPSigner produces OpenPGP clearsigned messages.
//
// Clearsigning normalises line endings and strips trailing whitespace, so
// payloads containing CR, LF or trailing blanks are refused rather than
// silently altered.
type PGPSigner struct {
	entity      *openpgp.Entity
	fingerprint string
}

// LoadPGPSigner selects a private key from an armored keyring. fingerprint
// may be a full fingerprint or a suffix of one (such as a long key ID); when
// empty the first private key is used. An encrypted key is unlocked with
// passphrase.
func LoadPGPSigner(armored []byte, fingerprint string, passphrase []byte) (*PGPSigner, error) {
	ring, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(armored))
	if err != nil {
		return nil, ferrors.WrapWithCode(err, ferrors.ErrCodeKeyring, "read OpenPGP keyring")
	}

	want := normalizeFingerprint(fingerprint)
	for _, e := range ring {
		if e.PrivateKey == nil {
			continue
		}
		fp := pgpFingerprint(e)
		if want != "" && !strings.HasSuffix(fp, want) {
			continue
		}
		if e.PrivateKey.Encrypted {
			if err := e.PrivateKey.Decrypt(passphrase); err != nil {
				return nil, ferrors.WrapWithCode(err, ferrors.ErrCodeKeyring, "unlock OpenPGP key",
					ferrors.WithMetadata("fingerprint", fp))
			}
		}
		return &PGPSigner{entity: e, fingerprint: fp}, nil
	}

	if want != "" {
		return nil, ferrors.New(ferrors.ErrCodeKeyring, "no private key matches fingerprint",
			ferrors.WithMetadata("fingerprint", want))
	}
	return nil, ferrors.New(ferrors.ErrCodeKeyring, "keyring has no private key")
}

// NewPGPSigner wraps an already unlocked entity.
func NewPGPSigner(e *openpgp.Entity) (*PGPSigner, error) {
	if e == nil || e.PrivateKey == nil {
		return nil, ferrors.New(ferrors.ErrCodeKeyring, "entity has no private key")
	}
	if e.PrivateKey.Encrypted {
		return nil, ferrors.New(ferrors.ErrCodeKeyring, "private key is locked")
	}
	return &PGPSigner{entity: e, fingerprint: pgpFingerprint(e)}, nil
}

// Sign implements Signer.
func (s *PGPSigner) Sign(payload []byte) ([]byte, error) {
	if err := checkClearsignable(payload); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w, err := clearsign.Encode(&buf, s.entity.PrivateKey, nil)
	if err != nil {
		return nil, ferrors.Signing("start clearsign", ferrors.WithCause(err))
	}
	if _, err := w.Write(payload); err != nil {
		return nil, ferrors.Signing("write clearsign body", ferrors.WithCause(err))
	}
	if err := w.Close(); err != nil {
		return nil, ferrors.Signing("finish clearsign", ferrors.WithCause(err))
	}
	return buf.Bytes(), nil
}

// Fingerprint implements Signer.
func (s *PGPSigner) Fingerprint() string {
	return s.fingerprint
}

// Algorithm implements Signer.
func (s *PGPSigner) Algorithm() Algorithm {
	return AlgOpenPGP
}

// Entity exposes the signing key, for exporting its public half.
func (s *PGPSigner) Entity() *openpgp.Entity {
	return s.entity
}

func checkClearsignable(payload []byte) error {
	if bytes.ContainsAny(payload, "\r\n") {
		return ferrors.Signing("payload contains line breaks")
	}
	if len(payload) > 0 {
		last := payload[len(payload)-1]
		if last == ' ' || last == '\t' {
			return ferrors.Signing("payload has trailing whitespace")
		}
	}
	return nil
}

// PGPVerifier checks clearsigned messages against a public keyring.
type PGPVerifier struct {
	keyring openpgp.EntityList
}

// NewPGPVerifier parses an armored public keyring.
func NewPGPVerifier(armored []byte) (*PGPVerifier, error) {
	ring, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(armored))
	if err != nil {
		return nil, ferrors.WrapWithCode(err, ferrors.ErrCodeKeyring, "read OpenPGP keyring")
	}
	if len(ring) == 0 {
		return nil, ferrors.New(ferrors.ErrCodeKeyring, "OpenPGP keyring is empty")
	}
	return &PGPVerifier{keyring: ring}, nil
}

// NewPGPVerifierFromEntities trusts the given entities.
func NewPGPVerifierFromEntities(entities ...*openpgp.Entity) *PGPVerifier {
	return &PGPVerifier{keyring: openpgp.EntityList(entities)}
}

// Len returns the number of trusted keys.
func (v *PGPVerifier) Len() int {
	return len(v.keyring)
}

// Verify implements Verifier for clearsigned messages.
func (v *PGPVerifier) Verify(raw []byte) (*Verified, error) {
	block, rest := clearsign.Decode(raw)
	if block == nil {
		return nil, ferrors.Verification("not a clearsigned message")
	}
	if len(rest) > 1 || (len(rest) == 1 && rest[0] != '\n') {
		return nil, ferrors.Verification("trailing data after signature")
	}

	signer, err := openpgp.CheckDetachedSignature(v.keyring, bytes.NewReader(block.Bytes), block.ArmoredSignature.Body, nil)
	if err != nil {
		return nil, ferrors.Verification("bad OpenPGP signature", ferrors.WithCause(err))
	}

	payload := append([]byte(nil), block.Bytes...)
	return &Verified{Payload: payload, Signer: pgpFingerprint(signer)}, nil
}

// pgpKeyConfig matches GnuPG's default primary key: a v4 EdDSA key on
// Curve25519.
var pgpKeyConfig = &packet.Config{
	Algorithm: packet.PubKeyAlgoEdDSA,
	Curve:     packet.Curve25519,
}

// GeneratePGP creates a new OpenPGP entity and returns it with its armored
// private and public keyrings.
func GeneratePGP(name, email string) (*openpgp.Entity, []byte, []byte, error) {
	e, err := openpgp.NewEntity(name, "", email, pgpKeyConfig)
	if err != nil {
		return nil, nil, nil, ferrors.WrapWithCode(err, ferrors.ErrCodeKeyring, "generate OpenPGP key")
	}

	var priv bytes.Buffer
	w, err := armor.Encode(&priv, openpgp.PrivateKeyType, nil)
	if err != nil {
		return nil, nil, nil, ferrors.WrapWithCode(err, ferrors.ErrCodeKeyring, "armor private key")
	}
	if err := e.SerializePrivate(w, nil); err != nil {
		return nil, nil, nil, ferrors.WrapWithCode(err, ferrors.ErrCodeKeyring, "serialize private key")
	}
	if err := w.Close(); err != nil {
		return nil, nil, nil, ferrors.WrapWithCode(err, ferrors.ErrCodeKeyring, "armor private key")
	}

	pub, err := ArmorPGPPublic(e)
	if err != nil {
		return nil, nil, nil, err
	}
	return e, priv.Bytes(), pub, nil
}

// ArmorPGPPublic exports the public half of an entity.
func ArmorPGPPublic(e *openpgp.Entity) ([]byte, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return nil, ferrors.WrapWithCode(err, ferrors.ErrCodeKeyring, "armor public key")
	}
	if err := e.Serialize(w); err != nil {
		return nil, ferrors.WrapWithCode(err, ferrors.ErrCodeKeyring, "serialize public key")
	}
	if err := w.Close(); err != nil {
		return nil, ferrors.WrapWithCode(err, ferrors.ErrCodeKeyring, "armor public key")
	}
	return buf.Bytes(), nil
}

func pgpFingerprint(e *openpgp.Entity) string {
	return fmt.Sprintf("%X", e.PrimaryKey.Fingerprint[:])
}

func normalizeFingerprint(fp string) string {
	fp = strings.ReplaceAll(fp, " ", "")
	fp = strings.TrimPrefix(strings.TrimPrefix(fp, "0x"), "0X")
	return strings.ToUpper(fp)
}
