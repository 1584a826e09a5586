package ledger

import (
	"context"
	"math/big"

	"prima/internal/metrics"
	"prima/internal/model"

	"golang.org/x/time/rate"
)

// Throttled rate-limits reads against the node and counts them. Writes pass through; the
// per-sender lock in Client already serializes them.
type Throttled struct {
	Ledger
	limiter *rate.Limiter
	metrics *metrics.Metrics
}

// NewThrottled wraps inner so reads are paced at rps with the given burst. rps <= 0 disables
// pacing but keeps the counters.
func NewThrottled(inner Ledger, rps float64, burst int, m *metrics.Metrics) *Throttled {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Throttled{Ledger: inner, limiter: rate.NewLimiter(limit, burst), metrics: m}
}

func (t *Throttled) wait(ctx context.Context, method string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		t.metrics.LedgerRead(method, err)
		return &model.LedgerCallError{Op: method, Err: err}
	}
	return nil
}

func (t *Throttled) GetInvoice(ctx context.Context, tokenID *big.Int) (model.Invoice, error) {
	if err := t.wait(ctx, "getInvoice"); err != nil {
		return model.Invoice{}, err
	}
	inv, err := t.Ledger.GetInvoice(ctx, tokenID)
	t.metrics.LedgerRead("getInvoice", err)
	return inv, err
}

func (t *Throttled) GetInvoiceIDs(ctx context.Context, role model.Role, actor model.Identity) ([]*big.Int, error) {
	if err := t.wait(ctx, "getInvoiceIds"); err != nil {
		return nil, err
	}
	ids, err := t.Ledger.GetInvoiceIDs(ctx, role, actor)
	t.metrics.LedgerRead("getInvoiceIds", err)
	return ids, err
}

func (t *Throttled) ComputeAmountBounds(ctx context.Context, amount *big.Int, tier model.CreditTier) (Bounds, error) {
	if err := t.wait(ctx, "computeAmounts"); err != nil {
		return Bounds{}, err
	}
	b, err := t.Ledger.ComputeAmountBounds(ctx, amount, tier)
	t.metrics.LedgerRead("computeAmounts", err)
	return b, err
}

func (t *Throttled) GetAllowance(ctx context.Context, owner, spender model.Identity) (*big.Int, error) {
	if err := t.wait(ctx, "allowance"); err != nil {
		return nil, err
	}
	v, err := t.Ledger.GetAllowance(ctx, owner, spender)
	t.metrics.LedgerRead("allowance", err)
	return v, err
}

func (t *Throttled) GetBalance(ctx context.Context, owner model.Identity) (*big.Int, error) {
	if err := t.wait(ctx, "balanceOf"); err != nil {
		return nil, err
	}
	v, err := t.Ledger.GetBalance(ctx, owner)
	t.metrics.LedgerRead("balanceOf", err)
	return v, err
}

func (t *Throttled) GetStatusChangeEvents(ctx context.Context, fromBlock uint64, toBlock *uint64, status *model.InvoiceStatus) ([]StatusChange, error) {
	if err := t.wait(ctx, "getLogs"); err != nil {
		return nil, err
	}
	changes, err := t.Ledger.GetStatusChangeEvents(ctx, fromBlock, toBlock, status)
	t.metrics.LedgerRead("getLogs", err)
	return changes, err
}
