// Package domain errors.go contains sentinel errors
package domain

import (
	"errors"
	"fmt"
)

// Sentinel error kinds reused by higher layers. Callers classify with errors.Is;
// lower layers wrap these with context via fmt.Errorf("...: %w", ErrX).
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotFound           = errors.New("not found")
	ErrExpired            = errors.New("expired")
	ErrForbidden          = errors.New("forbidden")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrIngestionFailed    = errors.New("ingestion failed")
	ErrInternal           = errors.New("internal error")

	// ErrConflict is reported by stores when a unique column (token, storage
	// name) already holds the value. Services treat it as retryable.
	ErrConflict = errors.New("unique constraint conflict")
)

// ErrTooLarge refines ErrInvalidArgument for uploads over the size limit.
var ErrTooLarge = fmt.Errorf("%w: payload too large", ErrInvalidArgument)
