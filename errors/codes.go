package errors

// ErrorCategory classifies errors by how the protocol reacts to them.
type ErrorCategory string

const (
	// CategoryTransient covers failures local to one message or one send.
	// The session or connection continues.
	// Examples: a rejected envelope, a failed send to one target.
	CategoryTransient ErrorCategory = "transient"

	// CategoryTerminal covers failures that end a session or connection.
	// Examples: receive timeout, peer closed, failsafe expiry.
	CategoryTerminal ErrorCategory = "terminal"

	// CategoryPermanent covers caller mistakes where repeating the call
	// cannot help.
	// Examples: invalid input, unknown client.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryInternal covers unexpected failures, bugs, or broken trust
	// material.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsTerminal returns true if errors in this category end the session.
func (c ErrorCategory) IsTerminal() bool {
	return c == CategoryTerminal
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

// Error codes.
const (
	// Per-message and per-send failures
	ErrCodeVerification ErrorCode = "VERIFICATION_FAILED" // Signature missing, malformed or untrusted
	ErrCodeStale        ErrorCode = "STALE_MESSAGE"       // Verified but outside the freshness window
	ErrCodeMalformed    ErrorCode = "MALFORMED_PAYLOAD"   // Verified bytes are not a valid payload
	ErrCodeSendFailed   ErrorCode = "SEND_FAILED"         // Delivery to one connection failed
	ErrCodeCommand      ErrorCode = "COMMAND_FAILED"      // Application command handler failed

	// Session/connection ending failures
	ErrCodeConnection     ErrorCode = "CONNECTION_FAILED" // Transport could not be established or broke
	ErrCodePeerClosed     ErrorCode = "PEER_CLOSED"       // Peer closed the transport
	ErrCodeTimeoutExpired ErrorCode = "TIMEOUT_EXPIRED"   // No valid message inside the failsafe window
	ErrCodeSigning        ErrorCode = "SIGNING_FAILED"    // Server identity could not sign

	// Caller errors
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"     // Unknown client or key
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT" // Malformed request or config
	ErrCodeCanceled     ErrorCode = "CANCELED"      // Operation was canceled
	ErrCodeTimeout      ErrorCode = "TIMEOUT"       // Caller deadline exceeded

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL" // Unexpected internal error
	ErrCodeKeyring  ErrorCode = "KEYRING"  // Trust or identity material unusable
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeVerification, ErrCodeStale, ErrCodeMalformed, ErrCodeSendFailed, ErrCodeCommand:
		return CategoryTransient

	case ErrCodeConnection, ErrCodePeerClosed, ErrCodeTimeoutExpired, ErrCodeSigning:
		return CategoryTerminal

	case ErrCodeNotFound, ErrCodeInvalidInput, ErrCodeCanceled, ErrCodeTimeout:
		return CategoryPermanent

	case ErrCodeInternal, ErrCodeKeyring:
		return CategoryInternal

	default:
		return CategoryInternal
	}
}

// IsRejection reports whether the code describes a dropped inbound message.
// Rejections never reset the freshness clock and never end a session.
func (c ErrorCode) IsRejection() bool {
	switch c {
	case ErrCodeVerification, ErrCodeStale, ErrCodeMalformed:
		return true
	}
	return false
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeVerification:   "signature verification failed",
	ErrCodeStale:          "message outside freshness window",
	ErrCodeMalformed:      "malformed payload",
	ErrCodeSendFailed:     "send failed",
	ErrCodeCommand:        "command execution failed",
	ErrCodeConnection:     "connection failed",
	ErrCodePeerClosed:     "connection closed by peer",
	ErrCodeTimeoutExpired: "no valid message within failsafe timeout",
	ErrCodeSigning:        "signing failed",
	ErrCodeNotFound:       "not found",
	ErrCodeInvalidInput:   "invalid input provided",
	ErrCodeCanceled:       "operation canceled",
	ErrCodeTimeout:        "operation timed out",
	ErrCodeInternal:       "internal error",
	ErrCodeKeyring:        "keyring unusable",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
