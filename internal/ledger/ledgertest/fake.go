// Package ledgertest provides an in-memory ledger for service and handler tests.
//
// Submitted writes take effect when a WaitConfirmed call reaches them, in submission order,
// the way a node mines one sender's transactions by nonce. Individual calls can be held open
// with Gate or failed with FailNext.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"prima/internal/ledger"
	"prima/internal/model"

	"github.com/ethereum/go-ethereum/common"
)

// Method names used by Gate, FailNext and Calls.
const (
	MethodGetInvoice    = "getInvoice"
	MethodGetInvoiceIDs = "getInvoiceIds"
	MethodBounds        = "computeAmounts"
	MethodAllowance     = "allowance"
	MethodBalance       = "balanceOf"
	MethodEvents        = "getLogs"
	MethodApprove       = "approve"
	MethodGenerate      = "generateInvoice"
	MethodAccept        = "acceptInvoice"
	MethodInvest        = "investInvoice"
	MethodAddCollateral = "addCollateral"
	MethodPay           = "payInvoice"
	MethodWaitConfirmed = "waitConfirmed"
)

// Write is one submitted transaction.
type Write struct {
	Method  string
	From    model.Identity
	Hash    common.Hash
	TokenID *big.Int
	Amount  *big.Int
	Spender model.Identity
	Company model.Company
	Params  *model.InvoiceParams
}

type Gate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

// Entered is closed once the held call has started.
func (g *Gate) Entered() <-chan struct{} { return g.entered }

func (g *Gate) Release() { g.once.Do(func() { close(g.release) }) }

type Fake struct {
	// Spender is the contract whose allowance invest and addCollateral consume.
	Spender model.Identity
	// EnforceAllowance makes invest and addCollateral revert when the allowance does not cover them.
	EnforceAllowance bool
	// BoundsFunc replaces the default bound computation.
	BoundsFunc func(amount *big.Int, tier model.CreditTier) (ledger.Bounds, error)
	// Signers, when non-nil, restricts which actors may submit writes.
	Signers map[common.Address]bool

	mu         sync.Mutex
	invoices   map[string]model.Invoice
	events     []ledger.StatusChange
	balances   map[common.Address]*big.Int
	allowances map[[2]common.Address]*big.Int
	failures   map[string][]error
	invoiceErr map[string]error
	gates      map[string][]*Gate
	calls      map[string]int
	writes     []Write
	applied    int
	receipts   map[common.Hash]ledger.Receipt
	reverts    map[common.Hash]error
	nextToken  int64
	block      uint64
	heads      chan uint64
}

var (
	_ ledger.Ledger     = (*Fake)(nil)
	_ ledger.HeadSource = (*Fake)(nil)
)

func New(spender model.Identity) *Fake {
	return &Fake{
		Spender:    spender,
		invoices:   make(map[string]model.Invoice),
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[[2]common.Address]*big.Int),
		failures:   make(map[string][]error),
		invoiceErr: make(map[string]error),
		gates:      make(map[string][]*Gate),
		calls:      make(map[string]int),
		receipts:   make(map[common.Hash]ledger.Receipt),
		reverts:    make(map[common.Hash]error),
		nextToken:  1,
		heads:      make(chan uint64, 16),
	}
}

// DefaultBounds is a stand-in for the contract's computeAmounts: riskier tiers get a lower
// and narrower range, always inside (0, amount].
func DefaultBounds(amount *big.Int, tier model.CreditTier) (ledger.Bounds, error) {
	if amount == nil || amount.Sign() <= 0 {
		return ledger.Bounds{}, errors.New("amount must be positive")
	}
	t := big.NewInt(int64(tier))
	maximum := new(big.Int).Mul(amount, new(big.Int).Sub(big.NewInt(20), t))
	maximum.Quo(maximum, big.NewInt(20))
	minimum := new(big.Int).Mul(amount, new(big.Int).Sub(big.NewInt(10), t))
	minimum.Quo(minimum, big.NewInt(20))
	if minimum.Sign() <= 0 {
		minimum = big.NewInt(1)
	}
	if maximum.Cmp(minimum) < 0 {
		maximum = new(big.Int).Set(minimum)
	}
	return ledger.Bounds{Minimum: minimum, Maximum: maximum}, nil
}

// AddInvoice stores inv as already minted and records its status change. A nil TokenID gets
// the next free id, which is returned.
func (f *Fake) AddInvoice(inv model.Invoice) *big.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inv.TokenID == nil {
		inv.TokenID = big.NewInt(f.nextToken)
	}
	if inv.TokenID.Int64() >= f.nextToken {
		f.nextToken = inv.TokenID.Int64() + 1
	}
	for _, v := range []**big.Int{&inv.Amount, &inv.AmountToPay, &inv.Collateral} {
		if *v == nil {
			*v = new(big.Int)
		}
	}
	f.invoices[inv.TokenID.String()] = inv
	for _, s := range history(inv.Status) {
		f.recordStatus(inv.TokenID, s)
	}
	return new(big.Int).Set(inv.TokenID)
}

// history is the status path an invoice took to reach status.
func history(status model.InvoiceStatus) []model.InvoiceStatus {
	switch status {
	case model.StatusAccepted:
		return []model.InvoiceStatus{model.StatusNew, model.StatusAccepted}
	case model.StatusInProgress:
		return []model.InvoiceStatus{model.StatusNew, model.StatusAccepted, model.StatusInProgress}
	case model.StatusPaid:
		return []model.InvoiceStatus{model.StatusNew, model.StatusAccepted, model.StatusInProgress, model.StatusPaid}
	case model.StatusOverdue:
		return []model.InvoiceStatus{model.StatusNew, model.StatusAccepted, model.StatusOverdue}
	default:
		return []model.InvoiceStatus{model.StatusNew}
	}
}

// SetStatus changes an invoice the way an outside process would (e.g. becoming overdue).
func (f *Fake) SetStatus(tokenID *big.Int, status model.InvoiceStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invoices[tokenID.String()]
	if !ok {
		return
	}
	inv.Status = status
	f.invoices[tokenID.String()] = inv
	f.recordStatus(tokenID, status)
}

func (f *Fake) Invoice(tokenID *big.Int) (model.Invoice, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invoices[tokenID.String()]
	return inv, ok
}

func (f *Fake) SetBalance(owner model.Identity, amount *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[owner.Address()] = new(big.Int).Set(amount)
}

func (f *Fake) SetAllowance(owner, spender model.Identity, amount *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allowances[[2]common.Address{owner.Address(), spender.Address()}] = new(big.Int).Set(amount)
}

// FailNext makes the next call of method return err.
func (f *Fake) FailNext(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method] = append(f.failures[method], err)
}

// FailInvoice makes every getInvoice for tokenID fail with err.
func (f *Fake) FailInvoice(tokenID *big.Int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoiceErr[tokenID.String()] = err
}

// Gate holds the next call of method open until the returned gate is released.
func (f *Fake) Gate(method string) *Gate {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := &Gate{entered: make(chan struct{}), release: make(chan struct{})}
	f.gates[method] = append(f.gates[method], g)
	return g
}

func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Writes returns every submitted transaction in submission order.
func (f *Fake) Writes() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Write(nil), f.writes...)
}

// NewHead publishes a block number to WatchHeads.
func (f *Fake) NewHead(n uint64) {
	f.heads <- n
}

// enter counts the call, waits on a queued gate and pops a queued failure.
func (f *Fake) enter(ctx context.Context, method string) error {
	f.mu.Lock()
	f.calls[method]++
	var gate *Gate
	if q := f.gates[method]; len(q) > 0 {
		gate, f.gates[method] = q[0], q[1:]
	}
	f.mu.Unlock()

	if gate != nil {
		close(gate.entered)
		select {
		case <-gate.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if q := f.failures[method]; len(q) > 0 {
		err := q[0]
		f.failures[method] = q[1:]
		return err
	}
	return nil
}

func (f *Fake) recordStatus(tokenID *big.Int, status model.InvoiceStatus) {
	f.block++
	f.events = append(f.events, ledger.StatusChange{TokenID: new(big.Int).Set(tokenID), NewStatus: status, BlockNumber: f.block})
}

func (f *Fake) GetInvoice(ctx context.Context, tokenID *big.Int) (model.Invoice, error) {
	if err := f.enter(ctx, MethodGetInvoice); err != nil {
		return model.Invoice{}, &model.LedgerCallError{Op: MethodGetInvoice, Err: err}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.invoiceErr[tokenID.String()]; err != nil {
		return model.Invoice{}, &model.LedgerCallError{Op: MethodGetInvoice, Err: err}
	}
	inv, ok := f.invoices[tokenID.String()]
	if !ok {
		return model.Invoice{}, &model.LedgerCallError{Op: MethodGetInvoice, Err: fmt.Errorf("reverted: Prima_InvalidInvoiceId")}
	}
	return inv, nil
}

func (f *Fake) GetInvoiceIDs(ctx context.Context, role model.Role, actor model.Identity) ([]*big.Int, error) {
	if err := f.enter(ctx, MethodGetInvoiceIDs); err != nil {
		return nil, &model.LedgerCallError{Op: MethodGetInvoiceIDs, Err: err}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []*big.Int
	for i := int64(1); i < f.nextToken; i++ {
		inv, ok := f.invoices[big.NewInt(i).String()]
		if !ok {
			continue
		}
		var party model.Identity
		switch role {
		case model.RoleCreditor:
			party = inv.Creditor.Identity
		case model.RoleDebtor:
			party = inv.Debtor.Identity
		case model.RoleInvestor:
			party = inv.Investor.Identity
		default:
			return nil, &model.LedgerCallError{Op: MethodGetInvoiceIDs, Err: fmt.Errorf("role %q has no ledger index", role)}
		}
		if party.Equal(actor) {
			ids = append(ids, new(big.Int).Set(inv.TokenID))
		}
	}
	return ids, nil
}

func (f *Fake) ComputeAmountBounds(ctx context.Context, amount *big.Int, tier model.CreditTier) (ledger.Bounds, error) {
	if err := f.enter(ctx, MethodBounds); err != nil {
		return ledger.Bounds{}, &model.LedgerCallError{Op: MethodBounds, Err: err}
	}
	compute := f.BoundsFunc
	if compute == nil {
		compute = DefaultBounds
	}
	b, err := compute(amount, tier)
	if err != nil {
		return ledger.Bounds{}, &model.LedgerCallError{Op: MethodBounds, Err: err}
	}
	return b, nil
}

func (f *Fake) GetAllowance(ctx context.Context, owner, spender model.Identity) (*big.Int, error) {
	if err := f.enter(ctx, MethodAllowance); err != nil {
		return nil, &model.LedgerCallError{Op: MethodAllowance, Err: err}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.allowanceOf(owner.Address(), spender.Address())), nil
}

func (f *Fake) GetBalance(ctx context.Context, owner model.Identity) (*big.Int, error) {
	if err := f.enter(ctx, MethodBalance); err != nil {
		return nil, &model.LedgerCallError{Op: MethodBalance, Err: err}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.balanceOf(owner.Address())), nil
}

func (f *Fake) GetStatusChangeEvents(ctx context.Context, fromBlock uint64, toBlock *uint64, status *model.InvoiceStatus) ([]ledger.StatusChange, error) {
	if err := f.enter(ctx, MethodEvents); err != nil {
		return nil, &model.LedgerCallError{Op: MethodEvents, Err: err}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ledger.StatusChange
	for _, ev := range f.events {
		if ev.BlockNumber < fromBlock || (toBlock != nil && ev.BlockNumber > *toBlock) {
			continue
		}
		if status != nil && ev.NewStatus != *status {
			continue
		}
		out = append(out, ledger.StatusChange{TokenID: new(big.Int).Set(ev.TokenID), NewStatus: ev.NewStatus, BlockNumber: ev.BlockNumber})
	}
	return out, nil
}

func (f *Fake) submit(ctx context.Context, w Write) (common.Hash, error) {
	if err := f.enter(ctx, w.Method); err != nil {
		var reverted *model.TransactionRevertedError
		if errors.As(err, &reverted) {
			return common.Hash{}, err
		}
		return common.Hash{}, &model.LedgerCallError{Op: w.Method, Err: err}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Signers != nil && !f.Signers[w.From.Address()] {
		return common.Hash{}, &model.TransactionRejectedError{Kind: kindOf(w.Method), Err: model.ErrNoSigner}
	}
	w.Hash = common.BigToHash(big.NewInt(int64(len(f.writes) + 1)))
	f.writes = append(f.writes, w)
	return w.Hash, nil
}

func kindOf(method string) model.IntentKind {
	switch method {
	case MethodApprove:
		return model.IntentApprove
	case MethodGenerate:
		return model.IntentGenerate
	case MethodAccept:
		return model.IntentAccept
	case MethodInvest:
		return model.IntentInvest
	case MethodAddCollateral:
		return model.IntentAddCollateral
	default:
		return model.IntentPay
	}
}

func (f *Fake) ApproveAllowance(ctx context.Context, from, spender model.Identity, amount *big.Int) (common.Hash, error) {
	return f.submit(ctx, Write{Method: MethodApprove, From: from, Spender: spender, Amount: amount})
}

func (f *Fake) GenerateInvoice(ctx context.Context, from model.Identity, params model.InvoiceParams) (common.Hash, error) {
	p := params
	return f.submit(ctx, Write{Method: MethodGenerate, From: from, Params: &p})
}

func (f *Fake) AcceptInvoice(ctx context.Context, from model.Identity, tokenID, collateral *big.Int) (common.Hash, error) {
	return f.submit(ctx, Write{Method: MethodAccept, From: from, TokenID: tokenID, Amount: collateral})
}

func (f *Fake) InvestInvoice(ctx context.Context, from model.Identity, tokenID *big.Int, investor model.Company) (common.Hash, error) {
	return f.submit(ctx, Write{Method: MethodInvest, From: from, TokenID: tokenID, Company: investor})
}

func (f *Fake) AddCollateral(ctx context.Context, from model.Identity, amount *big.Int) (common.Hash, error) {
	return f.submit(ctx, Write{Method: MethodAddCollateral, From: from, Amount: amount})
}

func (f *Fake) PayInvoice(ctx context.Context, from model.Identity, tokenID *big.Int) (common.Hash, error) {
	return f.submit(ctx, Write{Method: MethodPay, From: from, TokenID: tokenID})
}

// WaitConfirmed mines every write up to and including hash.
func (f *Fake) WaitConfirmed(ctx context.Context, hash common.Hash) (ledger.Receipt, error) {
	if err := f.enter(ctx, MethodWaitConfirmed); err != nil {
		var reverted *model.TransactionRevertedError
		if errors.As(err, &reverted) {
			return ledger.Receipt{}, err
		}
		return ledger.Receipt{}, &model.LedgerCallError{Op: MethodWaitConfirmed, Err: err}
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := -1
	for i, w := range f.writes {
		if w.Hash == hash {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ledger.Receipt{}, &model.LedgerCallError{Op: MethodWaitConfirmed, Err: fmt.Errorf("unknown transaction %s", hash.Hex())}
	}
	for f.applied <= idx {
		w := f.writes[f.applied]
		f.applied++
		f.block++
		receipt, err := f.apply(w)
		if err != nil {
			f.reverts[w.Hash] = err
			continue
		}
		receipt.Hash, receipt.BlockNumber = w.Hash, f.block
		f.receipts[w.Hash] = receipt
	}
	if err := f.reverts[hash]; err != nil {
		return ledger.Receipt{}, &model.TransactionRevertedError{Hash: hash, Reason: err.Error()}
	}
	return f.receipts[hash], nil
}

func (f *Fake) apply(w Write) (ledger.Receipt, error) {
	from := w.From.Address()
	switch w.Method {
	case MethodApprove:
		f.allowances[[2]common.Address{from, w.Spender.Address()}] = new(big.Int).Set(w.Amount)
	case MethodGenerate:
		id := big.NewInt(f.nextToken)
		f.nextToken++
		p := w.Params
		f.invoices[id.String()] = model.Invoice{
			TokenID:     id,
			ExternalID:  p.ExternalID,
			Activity:    p.Activity,
			Country:     p.Country,
			DueDate:     p.DueDate,
			Amount:      new(big.Int).Set(p.Amount),
			AmountToPay: new(big.Int).Set(p.AmountToPay),
			Collateral:  new(big.Int),
			Debtor:      p.Debtor,
			Creditor:    p.Creditor,
			Status:      model.StatusNew,
		}
		f.recordStatus(id, model.StatusNew)
		return ledger.Receipt{TokenID: new(big.Int).Set(id)}, nil
	case MethodAccept:
		inv, err := f.expect(w.TokenID, model.StatusNew)
		if err != nil {
			return ledger.Receipt{}, err
		}
		if !inv.Debtor.Identity.Equal(w.From) {
			return ledger.Receipt{}, fmt.Errorf("Prima_InvalidSender(%s)", w.From)
		}
		inv.Collateral = new(big.Int).Set(w.Amount)
		inv.Status = model.StatusAccepted
		f.invoices[w.TokenID.String()] = inv
		f.recordStatus(w.TokenID, model.StatusAccepted)
	case MethodInvest:
		inv, err := f.expect(w.TokenID, model.StatusAccepted)
		if err != nil {
			return ledger.Receipt{}, err
		}
		if err := f.spend(from, inv.AmountToPay); err != nil {
			return ledger.Receipt{}, err
		}
		inv.Investor = w.Company
		inv.Status = model.StatusInProgress
		f.invoices[w.TokenID.String()] = inv
		f.recordStatus(w.TokenID, model.StatusInProgress)
	case MethodAddCollateral:
		if err := f.spend(from, w.Amount); err != nil {
			return ledger.Receipt{}, err
		}
	case MethodPay:
		inv, err := f.expect(w.TokenID, model.StatusInProgress)
		if err != nil {
			return ledger.Receipt{}, err
		}
		inv.Status = model.StatusPaid
		f.invoices[w.TokenID.String()] = inv
		f.recordStatus(w.TokenID, model.StatusPaid)
	}
	return ledger.Receipt{}, nil
}

func (f *Fake) expect(tokenID *big.Int, status model.InvoiceStatus) (model.Invoice, error) {
	inv, ok := f.invoices[tokenID.String()]
	if !ok {
		return model.Invoice{}, errors.New("Prima_InvalidInvoiceId")
	}
	if inv.Status != status {
		return model.Invoice{}, fmt.Errorf("invoice %s is %s", tokenID, inv.Status)
	}
	return inv, nil
}

func (f *Fake) spend(owner common.Address, amount *big.Int) error {
	key := [2]common.Address{owner, f.Spender.Address()}
	allowance := f.allowanceOf(owner, f.Spender.Address())
	if f.EnforceAllowance && allowance.Cmp(amount) < 0 {
		return fmt.Errorf("ERC20InsufficientAllowance(%s, %s, %s)", f.Spender, allowance, amount)
	}
	if allowance.Cmp(amount) >= 0 {
		f.allowances[key] = new(big.Int).Sub(allowance, amount)
	}
	f.balances[owner] = new(big.Int).Sub(f.balanceOf(owner), amount)
	return nil
}

func (f *Fake) allowanceOf(owner, spender common.Address) *big.Int {
	if v, ok := f.allowances[[2]common.Address{owner, spender}]; ok {
		return v
	}
	return new(big.Int)
}

func (f *Fake) balanceOf(owner common.Address) *big.Int {
	if v, ok := f.balances[owner]; ok {
		return v
	}
	return new(big.Int)
}

func (f *Fake) WatchHeads(ctx context.Context, heads chan<- uint64) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-f.heads:
			select {
			case heads <- n:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
