// Package ledger is the boundary to the Prima contracts: typed reads, signed writes and
// confirmation tracking. Everything crossing it is validated into internal/model types.
package ledger

import (
	"context"
	"math/big"

	"prima/internal/model"

	"github.com/ethereum/go-ethereum/common"
)

// Bounds is the answer of computeAmounts: the permissible amountToPay range.
type Bounds struct {
	Minimum *big.Int
	Maximum *big.Int
}

// StatusChange is one decoded InvoiceNFT_StatusChanged log.
type StatusChange struct {
	TokenID     *big.Int
	NewStatus   model.InvoiceStatus
	BlockNumber uint64
}

// Receipt is a confirmed, successfully executed transaction.
type Receipt struct {
	Hash        common.Hash
	BlockNumber uint64
	// TokenID is the invoice minted by the transaction, when it minted one.
	TokenID *big.Int
}

type Reader interface {
	GetInvoice(ctx context.Context, tokenID *big.Int) (model.Invoice, error)
	GetInvoiceIDs(ctx context.Context, role model.Role, actor model.Identity) ([]*big.Int, error)
	ComputeAmountBounds(ctx context.Context, amount *big.Int, tier model.CreditTier) (Bounds, error)
	GetAllowance(ctx context.Context, owner, spender model.Identity) (*big.Int, error)
	GetBalance(ctx context.Context, owner model.Identity) (*big.Int, error)
	// GetStatusChangeEvents scans [fromBlock, toBlock]; a nil toBlock means latest and a nil
	// status keeps every transition.
	GetStatusChangeEvents(ctx context.Context, fromBlock uint64, toBlock *uint64, status *model.InvoiceStatus) ([]StatusChange, error)
}

// Writer submits signed transactions. A returned hash is not effective until WaitConfirmed
// succeeds for it.
type Writer interface {
	ApproveAllowance(ctx context.Context, from, spender model.Identity, amount *big.Int) (common.Hash, error)
	GenerateInvoice(ctx context.Context, from model.Identity, params model.InvoiceParams) (common.Hash, error)
	AcceptInvoice(ctx context.Context, from model.Identity, tokenID, collateral *big.Int) (common.Hash, error)
	InvestInvoice(ctx context.Context, from model.Identity, tokenID *big.Int, investor model.Company) (common.Hash, error)
	AddCollateral(ctx context.Context, from model.Identity, amount *big.Int) (common.Hash, error)
	PayInvoice(ctx context.Context, from model.Identity, tokenID *big.Int) (common.Hash, error)
	WaitConfirmed(ctx context.Context, hash common.Hash) (Receipt, error)
}

type Ledger interface {
	Reader
	Writer
}

// HeadSource delivers new block numbers until ctx is done or the subscription fails.
type HeadSource interface {
	WatchHeads(ctx context.Context, heads chan<- uint64) error
}
