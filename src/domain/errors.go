package domain

import (
	"errors"
	"fmt"
)

var (
	ErrIntentNotFound          = errors.New("payment intent not found")
	ErrUnauthorized            = errors.New("missing or invalid credentials")
	ErrCreationInProgress      = errors.New("creation with this idempotency key is still in progress")
	ErrTooManyAttempts         = errors.New("max attempts reached for payment chain")
	ErrNoProviderAvailable     = errors.New("no provider available")
	ErrVersionConflict         = errors.New("payment intent was modified concurrently")
	ErrNotDemoIntent           = errors.New("demo operations require provider=DEMO")
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already bound to another payment intent")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

type IdempotencyConflictError struct {
	Key   string
	Field string
}

func (e *IdempotencyConflictError) Error() string {
	return fmt.Sprintf("idempotency key %q reused with a different %s", e.Key, e.Field)
}

type ProviderNotSelectableError struct {
	Provider Provider
	Reason   string
}

func (e *ProviderNotSelectableError) Error() string {
	return fmt.Sprintf("provider %s not selectable (%s)", e.Provider, e.Reason)
}

type IllegalTransitionError struct {
	From  Status
	Event Event
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("event %s not allowed from status %s", e.Event, e.From)
}

type ProviderErrorType string

const (
	ProviderErrorTimeout    ProviderErrorType = "TIMEOUT"
	ProviderErrorHTTP5xx    ProviderErrorType = "HTTP_5XX"
	ProviderErrorValidation ProviderErrorType = "VALIDATION"
	ProviderErrorDecline    ProviderErrorType = "DECLINE"
	ProviderErrorUnknown    ProviderErrorType = "UNKNOWN"
)

type DownstreamProviderError struct {
	Provider Provider
	Type     ProviderErrorType
	Err      error
}

func (e *DownstreamProviderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("provider %s failed: %s", e.Provider, e.Type)
	}
	return fmt.Sprintf("provider %s failed: %s: %v", e.Provider, e.Type, e.Err)
}

func (e *DownstreamProviderError) Unwrap() error { return e.Err }

// Reason is the value recorded on a FAILED intent.
func (e *DownstreamProviderError) Reason() string {
	return "DOWNSTREAM_" + string(e.Type)
}
