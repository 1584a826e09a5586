package model

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// CreditTier is the ordinal risk class of a company, 0 (A) is the best.
type CreditTier uint8

// CreditTier enum constants
const (
	TierA CreditTier = iota
	TierB
	TierC
	TierD
	TierE
	TierF
)

const maxCreditTier = TierF

func (t CreditTier) Valid() bool { return t <= maxCreditTier }

func (t CreditTier) String() string {
	if !t.Valid() {
		return fmt.Sprintf("CreditTier(%d)", uint8(t))
	}
	return string(rune('A' + t))
}

// ParseCreditTier accepts either the ordinal ("2") or the letter ("C").
func ParseCreditTier(raw string) (CreditTier, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if len(s) == 1 {
		switch {
		case s[0] >= 'A' && s[0] <= 'F':
			return CreditTier(s[0] - 'A'), nil
		case s[0] >= '0' && s[0] <= '5':
			return CreditTier(s[0] - '0'), nil
		}
	}
	return 0, NewValidationError("credit_tier", raw, "must be 0..5 or A..F")
}

// Company is a party to an invoice as the ledger records it.
type Company struct {
	Identity   Identity
	CreditTier CreditTier
}

// InvoiceStatus mirrors the ledger's InvoiceStatus enum ordinals.
type InvoiceStatus uint8

// InvoiceStatus enum constants
const (
	StatusNew InvoiceStatus = iota
	StatusAccepted
	StatusInProgress
	StatusPaid
	StatusOverdue
)

var statusNames = [...]string{"NEW", "ACCEPTED", "IN_PROGRESS", "PAID", "OVERDUE"}

func (s InvoiceStatus) Valid() bool { return int(s) < len(statusNames) }

func (s InvoiceStatus) String() string {
	if !s.Valid() {
		return fmt.Sprintf("InvoiceStatus(%d)", uint8(s))
	}
	return statusNames[s]
}

// Closed reports whether no further action may be taken on an invoice in this status.
func (s InvoiceStatus) Closed() bool {
	return s == StatusPaid || s == StatusOverdue
}

// Role selects which registry path lists invoices for an actor.
type Role string

// Role enum constants
const (
	RoleCreditor    Role = "creditor"
	RoleDebtor      Role = "debtor"
	RoleInvestor    Role = "investor"
	RoleMarketplace Role = "marketplace"
)

func ParseRole(raw string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(raw))); r {
	case RoleCreditor, RoleDebtor, RoleInvestor, RoleMarketplace:
		return r, nil
	}
	return "", NewValidationError("role", raw, "must be one of creditor, debtor, investor, marketplace")
}

// Indexed reports whether the role is served by a per-actor ledger index rather than the
// status-change log.
func (r Role) Indexed() bool {
	return r == RoleCreditor || r == RoleDebtor || r == RoleInvestor
}

// Invoice is a read-only projection of an InvoiceNFT record. Amounts are ledger-scaled.
type Invoice struct {
	TokenID     *big.Int
	ExternalID  string
	Activity    string
	Country     string
	DueDate     time.Time
	Amount      *big.Int
	AmountToPay *big.Int
	Collateral  *big.Int
	Debtor      Company
	Creditor    Company
	Investor    Company
	Status      InvoiceStatus
}

// HasCollateral is the "+" flag shown next to the debtor tier.
func (inv Invoice) HasCollateral() bool {
	return inv.Collateral != nil && inv.Collateral.Sign() > 0
}

// InvoiceParams is what a creditor submits to generate an invoice.
type InvoiceParams struct {
	ExternalID  string
	Activity    string
	Country     string
	DueDate     time.Time
	Amount      *big.Int
	AmountToPay *big.Int
	Debtor      Company
	Creditor    Company
}
