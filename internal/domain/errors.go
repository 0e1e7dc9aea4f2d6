package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the store, engine and API layers.
var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotPurchasable    = errors.New("content is not purchasable")
	ErrSelfPurchase      = errors.New("cannot purchase your own content")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrSettlementFailed  = errors.New("settlement failed")
	ErrUploadNotEntitled = errors.New("no active subscription period for uploads")
)

// ValidationError reports a malformed amount, identifier or request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NewValidationError is a shorthand for returning a ValidationError as error.
func NewValidationError(field, message string) error {
	return ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var v ValidationError
	return errors.As(err, &v)
}

// IsBusinessRejection reports whether err is an expected business outcome
// rather than a system fault.
func IsBusinessRejection(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrNotPurchasable) ||
		errors.Is(err, ErrSelfPurchase)
}

// IsRetryable reports whether the caller may retry with the same reference.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSettlementFailed)
}
