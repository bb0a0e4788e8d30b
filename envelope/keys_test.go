package envelope

import (
	"bytes"
	"testing"

	ferrors "github.com/vinayprograms/failsafe/errors"
)

func TestGenerateKey_ParseRoundTrip(t *testing.T) {
	for _, alg := range []Algorithm{AlgEd25519, AlgDilithium3, AlgOpenPGP} {
		t.Run(string(alg), func(t *testing.T) {
			kp, err := GenerateKey(alg, "failsafe", "failsafe@example.com")
			if err != nil {
				t.Fatalf("GenerateKey error: %v", err)
			}

			signer, err := ParseSigner(kp.Private, kp.Fingerprint, nil)
			if err != nil {
				t.Fatalf("ParseSigner error: %v", err)
			}
			if signer.Fingerprint() != kp.Fingerprint {
				t.Errorf("Fingerprint = %q, want %q", signer.Fingerprint(), kp.Fingerprint)
			}
			if signer.Algorithm() != alg {
				t.Errorf("Algorithm = %q, want %q", signer.Algorithm(), alg)
			}

			verifier, err := ParseVerifier(kp.Public)
			if err != nil {
				t.Fatalf("ParseVerifier error: %v", err)
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
			if !bytes.Equal(got.Payload, payload) {
				t.Errorf("Payload = %q", got.Payload)
			}
		})
	}
}

func TestParseVerifier_MultipleFiles(t *testing.T) {
	a, _ := GenerateKey(AlgEd25519, "", "")
	b, _ := GenerateKey(AlgDilithium3, "", "")

	mv, err := ParseVerifier(append(append([]byte(nil), a.Public...), b.Public...))
	if err != nil {
		t.Fatalf("ParseVerifier error: %v", err)
	}
	if mv.Keyring.Len() != 2 {
		t.Errorf("Len = %d, want 2", mv.Keyring.Len())
	}
	fps := mv.Keyring.Fingerprints()
	if len(fps) != 2 || fps[0] > fps[1] {
		t.Errorf("Fingerprints = %v", fps)
	}
}

func TestParseSigner_Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte("not a key")},
		{"public key", mustPublic(t)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSigner(tt.data, "", nil)
			if !ferrors.Is(err, ferrors.ErrCodeKeyring) {
				t.Errorf("err = %v, want KEYRING", err)
			}
		})
	}
}

func TestParseVerifier_NoKeys(t *testing.T) {
	if _, err := ParseVerifier([]byte("nothing here")); !ferrors.Is(err, ferrors.ErrCodeKeyring) {
		t.Errorf("err = %v, want KEYRING", err)
	}
}

func TestLoadPGPSigner_FingerprintMismatch(t *testing.T) {
	kp, err := GenerateKey(AlgOpenPGP, "failsafe", "failsafe@example.com")
	if err != nil {
		t.Fatalf("GenerateKey error: %v", err)
	}
	if _, err := LoadPGPSigner(kp.Private, "DEADBEEF", nil); !ferrors.Is(err, ferrors.ErrCodeKeyring) {
		t.Errorf("err = %v, want KEYRING", err)
	}
	short := kp.Fingerprint[len(kp.Fingerprint)-16:]
	if _, err := LoadPGPSigner(kp.Private, "0x"+short, nil); err != nil {
		t.Errorf("long key id: %v", err)
	}
}

func mustPublic(t *testing.T) []byte {
	t.Helper()
	kp, err := GenerateKey(AlgEd25519, "", "")
	if err != nil {
		t.Fatalf("GenerateKey error: %v", err)
	}
	return kp.Public
}
