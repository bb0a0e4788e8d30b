package envelope

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"

	ferrors "github.com/vinayprograms/failsafe/errors"
)

var (
	pgpOnce   sync.Once
	pgpEntity *openpgp.Entity
	pgpErr    error
)

func testPGPEntity(t *testing.T) *openpgp.Entity {
	t.Helper()
	pgpOnce.Do(func() {
		pgpEntity, pgpErr = openpgp.NewEntity("failsafe test", "", "test@example.com", nil)
	})
	if pgpErr != nil {
		t.Fatalf("NewEntity error: %v", pgpErr)
	}
	return pgpEntity
}

func samplePayload(t *testing.T) []byte {
	t.Helper()
	data, err := NewCommand(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), "lock", map[string]any{"delay": 5}).Marshal()
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	return data
}

type backend struct {
	name     string
	signer   Signer
	verifier Verifier
}

func testBackends(t *testing.T) []backend {
	t.Helper()

	ed, pub, err := GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519 error: %v", err)
	}
	edRing := NewKeyring()
	if _, err := edRing.AddEd25519(pub); err != nil {
		t.Fatalf("AddEd25519 error: %v", err)
	}

	dil, err := GenerateDilithium3()
	if err != nil {
		t.Fatalf("GenerateDilithium3 error: %v", err)
	}
	dilRing := NewKeyring()
	if _, err := dilRing.AddDilithium3(dil.PublicKey()); err != nil {
		t.Fatalf("AddDilithium3 error: %v", err)
	}

	entity := testPGPEntity(t)
	pgp, err := NewPGPSigner(entity)
	if err != nil {
		t.Fatalf("NewPGPSigner error: %v", err)
	}

	return []backend{
		{"ed25519", ed, edRing},
		{"dilithium3", dil, dilRing},
		{"openpgp", pgp, NewPGPVerifierFromEntities(entity)},
	}
}

func TestSignVerify_RoundTrip(t *testing.T) {
	payload := samplePayload(t)
	for _, b := range testBackends(t) {
		t.Run(b.name, func(t *testing.T) {
			wire, err := b.signer.Sign(payload)
			if err != nil {
				t.Fatalf("Sign error: %v", err)
			}
			got, err := b.verifier.Verify(wire)
			if err != nil {
				t.Fatalf("Verify error: %v", err)
			}
			if !bytes.Equal(got.Payload, payload) {
				t.Errorf("Payload = %q, want %q", got.Payload, payload)
			}
			if got.Signer != b.signer.Fingerprint() {
				t.Errorf("Signer = %q, want %q", got.Signer, b.signer.Fingerprint())
			}
		})
	}
}

func TestVerify_PayloadBitFlips(t *testing.T) {
	payload := samplePayload(t)
	for _, b := range testBackends(t) {
		t.Run(b.name, func(t *testing.T) {
			wire, err := b.signer.Sign(payload)
			if err != nil {
				t.Fatalf("Sign error: %v", err)
			}

			// JSON envelopes carry the payload base64 encoded.
			region := []byte(b64.EncodeToString(payload))
			if b.signer.Algorithm() == AlgOpenPGP {
				region = payload
			}
			start := bytes.Index(wire, region)
			if start < 0 {
				t.Fatal("payload not found in wire bytes")
			}

			for i := start; i < start+len(region); i++ {
				for bit := 0; bit < 8; bit++ {
					mutated := append([]byte(nil), wire...)
					mutated[i] ^= 1 << bit
					if _, err := b.verifier.Verify(mutated); err == nil {
						t.Fatalf("mutation at byte %d bit %d verified", i, bit)
					}
				}
			}
		})
	}
}

func TestVerify_Ed25519EveryBit(t *testing.T) {
	signer, pub, err := GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519 error: %v", err)
	}
	ring := NewKeyring()
	ring.AddEd25519(pub)

	wire, err := signer.Sign(samplePayload(t))
	if err != nil {
		t.Fatalf("Sign error: %v", err)
	}

	for i := range wire {
		for bit := 0; bit < 8; bit++ {
			mutated := append([]byte(nil), wire...)
			mutated[i] ^= 1 << bit
			_, err := ring.Verify(mutated)
			if err == nil {
				t.Fatalf("mutation at byte %d bit %d verified", i, bit)
			}
			if !ferrors.Is(err, ferrors.ErrCodeVerification) {
				t.Fatalf("mutation at byte %d bit %d: err = %v, want VERIFICATION_FAILED", i, bit, err)
			}
		}
	}
}

func TestKeyring_Rejects(t *testing.T) {
	signer, pub, _ := GenerateEd25519()
	other, _, _ := GenerateEd25519()
	ring := NewKeyring()
	ring.AddEd25519(pub)

	payload := samplePayload(t)
	good, _ := signer.Sign(payload)
	untrusted, _ := other.Sign(payload)

	var env Envelope
	json.Unmarshal(good, &env)
	env.Alg = AlgDilithium3
	wrongAlg, _ := json.Marshal(env)

	json.Unmarshal(good, &env)
	env.Signature = ""
	noSig, _ := json.Marshal(env)

	tests := []struct {
		name string
		wire []byte
	}{
		{"untrusted signer", untrusted},
		{"algorithm mismatch", wrongAlg},
		{"missing signature", noSig},
		{"not json", []byte("hello")},
		{"empty", nil},
		{"pretty printed", prettyJSON(t, good)},
		{"trailing newline", append(append([]byte(nil), good...), '\n')},
		{"clearsigned", []byte("-----BEGIN PGP SIGNED MESSAGE-----\n")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ring.Verify(tt.wire)
			if !ferrors.Is(err, ferrors.ErrCodeVerification) {
				t.Errorf("err = %v, want VERIFICATION_FAILED", err)
			}
		})
	}
}

func prettyJSON(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		t.Fatalf("Indent error: %v", err)
	}
	return buf.Bytes()
}

func TestPGPSigner_RejectsLineBreaks(t *testing.T) {
	signer, err := NewPGPSigner(testPGPEntity(t))
	if err != nil {
		t.Fatalf("NewPGPSigner error: %v", err)
	}
	for _, p := range []string{"a\nb", "a\r", "trailing "} {
		if _, err := signer.Sign([]byte(p)); !ferrors.Is(err, ferrors.ErrCodeSigning) {
			t.Errorf("Sign(%q) err = %v, want SIGNING_FAILED", p, err)
		}
	}
}

func TestPGPVerifier_UntrustedKey(t *testing.T) {
	signer, err := NewPGPSigner(testPGPEntity(t))
	if err != nil {
		t.Fatalf("NewPGPSigner error: %v", err)
	}
	other, err := openpgp.NewEntity("other", "", "other@example.com", nil)
	if err != nil {
		t.Fatalf("NewEntity error: %v", err)
	}

	wire, _ := signer.Sign(samplePayload(t))
	_, err = NewPGPVerifierFromEntities(other).Verify(wire)
	if !ferrors.Is(err, ferrors.ErrCodeVerification) {
		t.Errorf("err = %v, want VERIFICATION_FAILED", err)
	}
}

func TestMultiVerifier_Dispatch(t *testing.T) {
	ed, pub, _ := GenerateEd25519()
	ring := NewKeyring()
	ring.AddEd25519(pub)

	entity := testPGPEntity(t)
	pgp, _ := NewPGPSigner(entity)

	payload := samplePayload(t)
	edWire, _ := ed.Sign(payload)
	pgpWire, _ := pgp.Sign(payload)

	mv := &MultiVerifier{Keyring: ring, PGP: NewPGPVerifierFromEntities(entity)}
	for _, wire := range [][]byte{edWire, pgpWire} {
		got, err := mv.Verify(wire)
		if err != nil {
			t.Fatalf("Verify error: %v", err)
		}
		if !bytes.Equal(got.Payload, payload) {
			t.Errorf("Payload = %q", got.Payload)
		}
	}

	envOnly := &MultiVerifier{Keyring: ring}
	if _, err := envOnly.Verify(pgpWire); !ferrors.Is(err, ferrors.ErrCodeVerification) {
		t.Errorf("clearsigned without PGP keys: err = %v", err)
	}
	pgpOnly := &MultiVerifier{PGP: NewPGPVerifierFromEntities(entity)}
	if _, err := pgpOnly.Verify(edWire); !ferrors.Is(err, ferrors.ErrCodeVerification) {
		t.Errorf("envelope without keyring: err = %v", err)
	}
}

func TestFingerprint_Stable(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	a := Fingerprint(AlgEd25519, key)
	if a != Fingerprint(AlgEd25519, key) {
		t.Error("fingerprint not deterministic")
	}
	if len(a) != 32 {
		t.Errorf("len = %d, want 32", len(a))
	}
	if a == Fingerprint(AlgDilithium3, key) {
		t.Error("fingerprint ignores algorithm")
	}
}

func readTestdata(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return data
}

func TestPGP_GeneratedKeysAreEdDSA(t *testing.T) {
	e, priv, pub, err := GeneratePGP("failsafe", "failsafe@example.com")
	if err != nil {
		t.Fatalf("GeneratePGP error: %v", err)
	}
	if e.PrimaryKey.PubKeyAlgo != packet.PubKeyAlgoEdDSA {
		t.Errorf("PubKeyAlgo = %v, want EdDSA", e.PrimaryKey.PubKeyAlgo)
	}

	signer, err := LoadPGPSigner(priv, "", nil)
	if err != nil {
		t.Fatalf("LoadPGPSigner error: %v", err)
	}
	verifier, err := NewPGPVerifier(pub)
	if err != nil {
		t.Fatalf("NewPGPVerifier error: %v", err)
	}

	payload := samplePayload(t)
	wire, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("Sign error: %v", err)
	}
	got, err := verifier.Verify(wire)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !bytes.Equal(got.Payload, payload) || got.Signer != signer.Fingerprint() {
		t.Errorf("Verify() = %q from %s", got.Payload, got.Signer)
	}
}

// The fixtures were exported from GnuPG 2.2 (`gpg --quick-gen-key ... ed25519`)
// and the heartbeat was produced with `gpg --clearsign`.
func TestPGP_GnuPGEd25519Interop(t *testing.T) {
	const fingerprint = "DC19B185331D1DBBFBE24FCD62DFD3B6976AE8EA"

	verifier, err := NewPGPVerifier(readTestdata(t, "gnupg-ed25519.pub"))
	if err != nil {
		t.Fatalf("NewPGPVerifier error: %v", err)
	}

	got, err := verifier.Verify(readTestdata(t, "gnupg-ed25519-heartbeat.asc"))
	if err != nil {
		t.Fatalf("Verify(gpg clearsign) error: %v", err)
	}
	if string(got.Payload) != `{"timestamp":"2024-05-01T12:00:00Z"}` {
		t.Errorf("Payload = %q", got.Payload)
	}
	if got.Signer != fingerprint {
		t.Errorf("Signer = %s, want %s", got.Signer, fingerprint)
	}
	if _, err := ParsePayload(got.Payload); err != nil {
		t.Errorf("ParsePayload error: %v", err)
	}

	signer, err := LoadPGPSigner(readTestdata(t, "gnupg-ed25519.key"), "0x976AE8EA", nil)
	if err != nil {
		t.Fatalf("LoadPGPSigner error: %v", err)
	}
	if signer.Fingerprint() != fingerprint {
		t.Errorf("Fingerprint() = %s", signer.Fingerprint())
	}
	wire, err := signer.Sign(samplePayload(t))
	if err != nil {
		t.Fatalf("Sign error: %v", err)
	}
	if _, err := verifier.Verify(wire); err != nil {
		t.Errorf("Verify(own signature) error: %v", err)
	}
}
