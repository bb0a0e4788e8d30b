package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context while preserving the chain.
// If err is nil, Wrap returns nil.
// A wrapped *Error keeps its code, category and context; context errors map
// to CANCELED/TIMEOUT; anything else becomes INTERNAL.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var coded *Error
	if errors.As(err, &coded) {
		wrapped := &Error{
			code:      coded.code,
			category:  coded.category,
			message:   message,
			cause:     err,
			metadata:  coded.Metadata(),
			timestamp: coded.timestamp,
			clientID:  coded.clientID,
			command:   coded.command,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	}

	return New(ErrCodeInternal, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps an error with a specific error code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	opts = append(opts, WithCause(err))
	return New(code, message, opts...)
}

// AsCoded attempts to extract a CodedError from an error chain.
// Returns nil if none is found.
func AsCoded(err error) CodedError {
	var coded *Error
	if errors.As(err, &coded) {
		return coded
	}
	return nil
}

// Is checks if any error in the chain has the given error code.
func Is(err error, code ErrorCode) bool {
	var coded *Error
	for err != nil {
		if errors.As(err, &coded) {
			if coded.code == code {
				return true
			}
			err = coded.cause
			continue
		}
		return false
	}
	return false
}

// IsCategory checks if the outermost *Error in the chain has the category.
func IsCategory(err error, category ErrorCategory) bool {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.category == category
	}
	return false
}

// IsTerminal checks if the error ends a session or connection.
func IsTerminal(err error) bool {
	return IsCategory(err, CategoryTerminal)
}

// IsTransient checks if the error only affects one message or send.
func IsTransient(err error) bool {
	return IsCategory(err, CategoryTransient)
}

// IsRejection checks if the error describes a dropped inbound message.
func IsRejection(err error) bool {
	return Code(err).IsRejection()
}
