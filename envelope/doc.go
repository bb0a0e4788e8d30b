// Package envelope signs and verifies the messages a failsafe server sends
// to its clients.
//
// # Overview
//
// A Signer turns payload bytes into wire bytes; a Verifier turns wire bytes
// back into the exact payload bytes that were signed, plus the fingerprint
// of the signer. Both are constructed explicitly from loaded key material
// and passed to the server and client; there is no process-wide keyring.
//
// # Backends
//
//   - ed25519: JSON envelope, payload carried base64-encoded
//   - dilithium3: same JSON envelope with a post-quantum signature
//   - openpgp: clearsigned text, compatible with gpg --clearsign
//
// JSON envelopes look like:
//
//	{"alg":"ed25519","signer":"9f1c...","payload":"eyJ0aW1l...","signature":"..."}
//
// Verification rejects any envelope that is not in canonical form, so a
// changed byte anywhere on the wire fails.
//
// # Payloads
//
// Payload is the JSON document inside an envelope:
//
//	{"timestamp":"2025-01-01T00:00:00Z"}
//	{"timestamp":"2025-01-01T00:00:00Z","command":"lock","args":{"reason":"breach"}}
//
// A payload is actionable only if its envelope verified and CheckFresh
// accepts its timestamp (|now - timestamp| < FreshnessWindow).
package envelope
