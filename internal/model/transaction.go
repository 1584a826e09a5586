package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// IntentKind enum constants
type IntentKind string

const (
	IntentApprove       IntentKind = "APPROVE"
	IntentAccept        IntentKind = "ACCEPT"
	IntentInvest        IntentKind = "INVEST"
	IntentAddCollateral IntentKind = "ADD_COLLATERAL"
	IntentPay           IntentKind = "PAY"
	IntentGenerate      IntentKind = "GENERATE"
)

// NeedsAllowance reports whether the action spends PGT on the actor's behalf and therefore
// has to be preceded by an allowance grant to the Prima contract.
func (k IntentKind) NeedsAllowance() bool {
	return k == IntentInvest || k == IntentAddCollateral
}

// TransactionIntent is one ledger write the orchestrator should perform. Only the fields
// relevant to Kind are read.
type TransactionIntent struct {
	ID        uuid.UUID
	Kind      IntentKind
	Actor     Identity
	TokenID   *big.Int
	Amount    *big.Int // allowance, collateral, or deposit amount
	Spender   Identity // Approve only
	Investor  Company  // Invest only
	Invoice   *InvoiceParams
	DependsOn *TransactionIntent
}

func NewIntent(kind IntentKind, actor Identity) TransactionIntent {
	return TransactionIntent{ID: uuid.New(), Kind: kind, Actor: actor}
}

// WithAllowance returns a copy of the intent that first grants spender an allowance of amount.
func (t TransactionIntent) WithAllowance(spender Identity, amount *big.Int) TransactionIntent {
	approve := NewIntent(IntentApprove, t.Actor)
	approve.Spender = spender
	approve.Amount = new(big.Int).Set(amount)
	t.DependsOn = &approve
	return t
}

// TxPhase enum constants
type TxPhase string

const (
	PhaseIdle      TxPhase = "IDLE"
	PhaseSubmitted TxPhase = "SUBMITTED"
	PhaseConfirmed TxPhase = "CONFIRMED"
	PhaseFailed    TxPhase = "FAILED"
)

// Terminal reports whether the phase is Confirmed or Failed.
func (p TxPhase) Terminal() bool {
	return p == PhaseConfirmed || p == PhaseFailed
}

// TransactionState is Idle | Submitted(hash) | Confirmed | Failed(reason).
type TransactionState struct {
	Phase  TxPhase
	Hash   common.Hash
	Reason string
}

func IdleState() TransactionState { return TransactionState{Phase: PhaseIdle} }

func SubmittedState(hash common.Hash) TransactionState {
	return TransactionState{Phase: PhaseSubmitted, Hash: hash}
}

// Next returns the state after moving to phase, and false when the move would skip Submitted
// or leave a terminal state other than for a fresh submission.
func (s TransactionState) Next(phase TxPhase, hash common.Hash, reason string) (TransactionState, bool) {
	switch phase {
	case PhaseSubmitted:
		if s.Phase != PhaseIdle && !s.Phase.Terminal() {
			return s, false
		}
		return TransactionState{Phase: PhaseSubmitted, Hash: hash}, true
	case PhaseConfirmed, PhaseFailed:
		if s.Phase != PhaseSubmitted {
			return s, false
		}
		return TransactionState{Phase: phase, Hash: s.Hash, Reason: reason}, true
	}
	return s, false
}

// TransactionRecord is the journal row behind the pending-transaction overlay. Rows in
// SUBMITTED phase are pending; they leave the overlay once confirmed or failed.
type TransactionRecord struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Kind          string    `gorm:"type:varchar(20);not null;index" json:"kind"`
	Actor         string    `gorm:"type:varchar(42);not null;index" json:"actor"`
	TokenID       string    `gorm:"type:varchar(78)" json:"token_id,omitempty"`
	AllowanceHash string    `gorm:"type:varchar(66)" json:"allowance_hash,omitempty"`
	TxHash        string    `gorm:"type:varchar(66);index" json:"tx_hash,omitempty"`
	Phase         string    `gorm:"type:varchar(20);not null;default:'IDLE';index" json:"phase"`
	Reason        string    `gorm:"type:text" json:"reason,omitempty"`
	ResultTokenID string    `gorm:"type:varchar(78)" json:"result_token_id,omitempty"` // set for GENERATE once confirmed
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Session carries who is acting and against which chain; every operation receives it
// explicitly.
type Session struct {
	Actor   Identity
	ChainID int64
}
