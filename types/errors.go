package types

import (
	"errors"
	"fmt"
)

// Authentication failure reasons. Every rejection names the specific
// invariant violated so callers can distinguish a stale nonce from a bad
// signature.
const (
	ReasonNonceMismatch        = "NONCE_MISSING_OR_MISMATCH"
	ReasonSignatureInvalid     = "SIGNATURE_INVALID"
	ReasonUnsupportedPublicKey = "UNSUPPORTED_PUBLIC_KEY"
)

// ConfigurationError reports an unsupported chain type, chain id or missing
// address table entry. Fatal, never retried.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string { return e.Message }

// NewConfigurationError formats a configuration error.
func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// AuthenticationError reports a failed signature verification. The nonce is
// not cleared when one of these is returned.
type AuthenticationError struct {
	Reason  string
	Message string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// NewAuthenticationError builds an AuthenticationError with one of the
// Reason constants.
func NewAuthenticationError(reason, format string, args ...any) *AuthenticationError {
	return &AuthenticationError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// PaymentErrorKind splits payment failures into those worth polling again
// and those that are final.
type PaymentErrorKind string

const (
	// PaymentNotFound means the transaction is not yet indexed or
	// confirmed. Retryable within the bounded polling loop.
	PaymentNotFound PaymentErrorKind = "NOT_FOUND"
	// PaymentReverted means the transaction executed and failed. Final.
	PaymentReverted PaymentErrorKind = "REVERTED"
	// PaymentMismatch means the transaction exists but its sender,
	// recipient, amount or token does not match. Final.
	PaymentMismatch PaymentErrorKind = "MISMATCH"
)

// PaymentVerificationError reports why a payment could not be confirmed.
type PaymentVerificationError struct {
	Kind    PaymentErrorKind
	Message string
}

func (e *PaymentVerificationError) Error() string {
	return fmt.Sprintf("payment verification failed (%s): %s", e.Kind, e.Message)
}

// Retryable reports whether polling again could change the outcome.
func (e *PaymentVerificationError) Retryable() bool {
	return e.Kind == PaymentNotFound
}

// NewPaymentError builds a PaymentVerificationError of the given kind.
func NewPaymentError(kind PaymentErrorKind, format string, args ...any) *PaymentVerificationError {
	return &PaymentVerificationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// StateConflictError reports a rejected state transition such as a duplicate
// receipt or an out-of-order chunk. No partial mutation happens.
type StateConflictError struct {
	Message string
}

func (e *StateConflictError) Error() string { return e.Message }

// NewStateConflictError formats a state conflict error.
func NewStateConflictError(format string, args ...any) *StateConflictError {
	return &StateConflictError{Message: fmt.Sprintf(format, args...)}
}

// UnimplementedOperationError reports a chain/operation combination that is
// not built. It fails loudly instead of silently skipping.
type UnimplementedOperationError struct {
	ChainType ChainType
	Operation string
}

func (e *UnimplementedOperationError) Error() string {
	return fmt.Sprintf("%s is not implemented for chain type %s", e.Operation, e.ChainType)
}

// ErrNotFound is returned by stores when no record matches the key.
var ErrNotFound = errors.New("record not found")

// IsRetryablePayment reports whether err is a payment verification error
// that polling may resolve. Infrastructure errors (nil match) are treated as
// retryable by the polling loop itself.
func IsRetryablePayment(err error) bool {
	var pe *PaymentVerificationError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	var ae *AuthenticationError
	if errors.As(err, &ae) {
		return false
	}
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		return false
	}
	var ue *UnimplementedOperationError
	return !errors.As(err, &ue)
}
