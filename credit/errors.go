/*
errors.go - Error taxonomy for the credit ledger

PURPOSE:
  All error types in one place. The HTTP layer maps these onto status
  codes; nothing else in the module inspects error strings.

CATEGORIES:
  ErrValidation          malformed/missing input, checked before any
                         transaction is opened (400)
  InsufficientCreditsError  guarded debit failed; carries the current
                         balance (402)
  ErrStorage             any database failure; the transaction has been
                         rolled back (500)

  A bad or missing admin token (401) never reaches a workflow: the api
  middleware rejects it before dispatch.

  A detected duplicate reference is NOT an error: the workflows report it
  through Result.Idempotent.

USAGE:
  if errors.Is(err, credit.ErrValidation) { ... }
  var ice *credit.InsufficientCreditsError
  if errors.As(err, &ice) { ... ice.Balance ... }
*/
package credit

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed or missing input.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientCredits is returned when the guarded debit finds the
	// balance cannot cover the charge.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrStorage is returned for any database failure. The enclosing
	// transaction has been rolled back before this surfaces.
	ErrStorage = errors.New("storage error")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientCreditsError reports a rejected charge together with the
// balance the account was left with, so a client can reconcile without a
// follow-up call.
type InsufficientCreditsError struct {
	UserID   string
	Required int64
	Balance  int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits for %s: need %d, have %d",
		e.UserID, e.Required, e.Balance)
}

func (e *InsufficientCreditsError) Unwrap() error {
	return ErrInsufficientCredits
}

// ValidationError reports which field of a request was rejected.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// StorageError wraps a database failure with the operation that hit it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return ErrStorage
}
