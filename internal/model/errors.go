package model

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrOrchestratorBusy is returned when an orchestrator already tracks an outstanding
	// primary transaction.
	ErrOrchestratorBusy = errors.New("a transaction is already outstanding")

	// ErrNoSigner is returned when no signing key is available for the acting identity.
	ErrNoSigner = errors.New("no signing key for actor")

	// ErrActionNotAllowed is returned when the role/status gate refuses an action.
	ErrActionNotAllowed = errors.New("action not available for this actor")
)

// ValidationError is detected locally before anything is sent to the ledger.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s (value: %v)", e.Field, e.Message, e.Value)
}

func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// LedgerCallError is a failed read query (network, timeout, or revert of a view call).
type LedgerCallError struct {
	Op  string
	Err error
}

func (e *LedgerCallError) Error() string {
	return fmt.Sprintf("ledger: %s failed: %v", e.Op, e.Err)
}

func (e *LedgerCallError) Unwrap() error { return e.Err }

// TransactionRejectedError means the actor did not authorize a submission.
type TransactionRejectedError struct {
	Kind IntentKind
	Err  error
}

func (e *TransactionRejectedError) Error() string {
	return fmt.Sprintf("transaction %s rejected: %v", e.Kind, e.Err)
}

func (e *TransactionRejectedError) Unwrap() error { return e.Err }

// TransactionRevertedError means the ledger rejected a transaction during execution.
// Hash is zero when the revert was detected while estimating, before broadcast.
type TransactionRevertedError struct {
	Hash   common.Hash
	Reason string
}

func (e *TransactionRevertedError) Error() string {
	if e.Hash == (common.Hash{}) {
		return fmt.Sprintf("transaction reverted: %s", e.Reason)
	}
	return fmt.Sprintf("transaction %s reverted: %s", e.Hash.Hex(), e.Reason)
}

// HydrationError aborts a whole list fetch because one referenced record could not be read.
type HydrationError struct {
	Role    Role
	TokenID *big.Int
	Err     error
}

func (e *HydrationError) Error() string {
	return fmt.Sprintf("hydrating %s invoices: token %s: %v", e.Role, e.TokenID, e.Err)
}

func (e *HydrationError) Unwrap() error { return e.Err }
