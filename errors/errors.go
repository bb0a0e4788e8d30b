package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CodedError is the interface for all structured errors in failsafe.
type CodedError interface {
	error

	// Code returns the specific error code identifying the failure type.
	Code() ErrorCode

	// Category returns the error category.
	Category() ErrorCategory

	// Metadata returns additional context as key-value pairs.
	Metadata() map[string]string

	// Unwrap returns the underlying error, if any.
	Unwrap() error
}

// Error is the concrete implementation of CodedError.
type Error struct {
	code      ErrorCode
	category  ErrorCategory
	message   string
	cause     error
	metadata  map[string]string
	timestamp time.Time
	clientID  string // affected client, if applicable
	command   string // related command, if applicable
}

var (
	_ CodedError       = (*Error)(nil)
	_ json.Marshaler   = (*Error)(nil)
	_ json.Unmarshaler = (*Error)(nil)
)

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Category returns the error category.
func (e *Error) Category() ErrorCategory {
	return e.category
}

// Message returns the message without the cause.
func (e *Error) Message() string {
	return e.message
}

// Metadata returns a copy of the error metadata.
func (e *Error) Metadata() map[string]string {
	result := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		result[k] = v
	}
	return result
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Timestamp returns when the error occurred.
func (e *Error) Timestamp() time.Time {
	return e.timestamp
}

// ClientID returns the affected client ID, if set.
func (e *Error) ClientID() string {
	return e.clientID
}

// Command returns the related command, if set.
func (e *Error) Command() string {
	return e.command
}

type errorJSON struct {
	Code      ErrorCode         `json:"code"`
	Category  ErrorCategory     `json:"category"`
	Message   string            `json:"message"`
	Cause     string            `json:"cause,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp string            `json:"timestamp,omitempty"`
	ClientID  string            `json:"client_id,omitempty"`
	Command   string            `json:"command,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	j := errorJSON{
		Code:     e.code,
		Category: e.category,
		Message:  e.message,
		Metadata: e.metadata,
		ClientID: e.clientID,
		Command:  e.command,
	}
	if e.cause != nil {
		j.Cause = e.cause.Error()
	}
	if !e.timestamp.IsZero() {
		j.Timestamp = e.timestamp.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(j)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Error) UnmarshalJSON(data []byte) error {
	var j errorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	e.code = j.Code
	e.category = j.Category
	e.message = j.Message
	e.metadata = j.Metadata
	e.clientID = j.ClientID
	e.command = j.Command
	if j.Cause != "" {
		e.cause = errors.New(j.Cause)
	}
	if j.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, j.Timestamp); err == nil {
			e.timestamp = t
		}
	}
	return nil
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithCategory overrides the default category.
func WithCategory(cat ErrorCategory) Option {
	return func(e *Error) {
		e.category = cat
	}
}

// WithMetadata adds a metadata key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithClientID sets the affected client ID.
func WithClientID(id string) Option {
	return func(e *Error) {
		e.clientID = id
	}
}

// WithCommand sets the related command name.
func WithCommand(command string) Option {
	return func(e *Error) {
		e.command = command
	}
}

// WithTimestamp sets a custom timestamp.
func WithTimestamp(t time.Time) Option {
	return func(e *Error) {
		e.timestamp = t
	}
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// FromCode creates an error with the default description for the code.
func FromCode(code ErrorCode, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// Verification creates a verification error.
func Verification(message string, opts ...Option) *Error {
	return New(ErrCodeVerification, message, opts...)
}

// Stale creates a staleness error.
func Stale(message string, opts ...Option) *Error {
	return New(ErrCodeStale, message, opts...)
}

// Malformed creates a malformed payload error.
func Malformed(message string, opts ...Option) *Error {
	return New(ErrCodeMalformed, message, opts...)
}

// Signing creates a signing error.
func Signing(message string, opts ...Option) *Error {
	return New(ErrCodeSigning, message, opts...)
}

// Connection creates a connection error.
func Connection(message string, opts ...Option) *Error {
	return New(ErrCodeConnection, message, opts...)
}

// TimeoutExpired creates a failsafe timeout error.
func TimeoutExpired(message string, opts ...Option) *Error {
	return New(ErrCodeTimeoutExpired, message, opts...)
}

// NotFound creates a not found error.
func NotFound(message string, opts ...Option) *Error {
	return New(ErrCodeNotFound, message, opts...)
}

// InvalidInput creates an invalid input error.
func InvalidInput(message string, opts ...Option) *Error {
	return New(ErrCodeInvalidInput, message, opts...)
}

// Internal creates an internal error.
func Internal(message string, opts ...Option) *Error {
	return New(ErrCodeInternal, message, opts...)
}

// CommandFailed creates a command execution error.
func CommandFailed(command string, cause error, opts ...Option) *Error {
	opts = append([]Option{WithCommand(command), WithCause(cause)}, opts...)
	return New(ErrCodeCommand, fmt.Sprintf("command %q failed", command), opts...)
}

// Code extracts the error code from an error, if available.
// Returns empty string if err carries no *Error.
func Code(err error) ErrorCode {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.code
	}
	return ""
}

// Category extracts the error category from an error, if available.
func Category(err error) ErrorCategory {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.category
	}
	return ""
}

// GetMetadata extracts metadata from an error.
// Returns nil if err carries no *Error.
func GetMetadata(err error) map[string]string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Metadata()
	}
	return nil
}

// Join combines multiple errors into a single error.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
