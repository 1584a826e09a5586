package service

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"prima/internal/config"
	"prima/internal/ledger/ledgertest"
	"prima/internal/model"
	"prima/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var (
	primaAddr = model.MustIdentity("0x00000000000000000000000000000000000000aa")
	creditor  = model.MustIdentity("0x1111111111111111111111111111111111111111")
	debtor    = model.MustIdentity("0x2222222222222222222222222222222222222222")
	investor  = model.MustIdentity("0x3333333333333333333333333333333333333333")
	outsider  = model.MustIdentity("0x4444444444444444444444444444444444444444")
)

func sessionFor(actor model.Identity) model.Session {
	return model.Session{Actor: actor, ChainID: 31337}
}

// invoiceFixture is an invoice of 1000 PGT owed by debtor to creditor.
func invoiceFixture(status model.InvoiceStatus) model.Invoice {
	return model.Invoice{
		ExternalID:  "INV-0001",
		Activity:    "Freight forwarding",
		Country:     "FR",
		DueDate:     time.Now().Add(30 * 24 * time.Hour).UTC(),
		Amount:      model.WholeAmount(1000),
		AmountToPay: model.WholeAmount(900),
		Debtor:      model.Company{Identity: debtor, CreditTier: model.TierC},
		Creditor:    model.Company{Identity: creditor, CreditTier: model.TierA},
		Status:      status,
	}
}

type inlineTx struct{}

func (inlineTx) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return fn(ctx)
}

type memTxRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]model.TransactionRecord
}

func newMemTxRepo() *memTxRepo {
	return &memTxRepo{rows: make(map[uuid.UUID]model.TransactionRecord)}
}

func (r *memTxRepo) Create(_ context.Context, rec *model.TransactionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	r.rows[rec.ID] = *rec
	return nil
}

func (r *memTxRepo) Update(_ context.Context, rec *model.TransactionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[rec.ID] = *rec
	return nil
}

func (r *memTxRepo) FindByID(_ context.Context, id uuid.UUID) (*model.TransactionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok {
		return nil, repository.ErrRecordNotFound
	}
	return &rec, nil
}

func (r *memTxRepo) byActor(actor string, phase string) []model.TransactionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.TransactionRecord
	for _, rec := range r.rows {
		if rec.Actor == actor && (phase == "" || rec.Phase == phase) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *memTxRepo) ListByActor(_ context.Context, actor string, page, limit int) ([]model.TransactionRecord, int64, error) {
	all := r.byActor(actor, "")
	start := (page - 1) * limit
	if start > len(all) {
		start = len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], int64(len(all)), nil
}

func (r *memTxRepo) Pending(_ context.Context, actor string) ([]model.TransactionRecord, error) {
	return r.byActor(actor, string(model.PhaseSubmitted)), nil
}

func (r *memTxRepo) FailStale(_ context.Context, reason string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, rec := range r.rows {
		if rec.Phase == string(model.PhaseSubmitted) {
			rec.Phase, rec.Reason = string(model.PhaseFailed), reason
			r.rows[id] = rec
			n++
		}
	}
	return n, nil
}

func (r *memTxRepo) CountByKindPhase(_ context.Context, actor string, start, end time.Time) ([]model.KindCount, error) {
	totals := make(map[[2]string]int64)
	for _, rec := range r.byActor(actor, "") {
		if rec.CreatedAt.Before(start) || rec.CreatedAt.After(end) {
			continue
		}
		totals[[2]string{rec.Kind, rec.Phase}]++
	}
	out := make([]model.KindCount, 0, len(totals))
	for k, n := range totals {
		out = append(out, model.KindCount{Kind: k[0], Phase: k[1], Total: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Phase < out[j].Phase
	})
	return out, nil
}

func (r *memTxRepo) get(t *testing.T, id string) model.TransactionRecord {
	t.Helper()
	rec, err := r.FindByID(context.Background(), uuid.MustParse(id))
	require.NoError(t, err)
	return *rec
}

type memAuditRepo struct {
	mu   sync.Mutex
	logs []model.AuditLog
}

func (r *memAuditRepo) Log(_ context.Context, entry *model.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, *entry)
	return nil
}

func (r *memAuditRepo) List(_ context.Context, filter repository.AuditFilter, page, limit int) ([]model.AuditLog, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.AuditLog
	for i := len(r.logs) - 1; i >= 0; i-- {
		l := r.logs[i]
		if l.Actor != filter.Actor ||
			(filter.Action != "" && l.Action != filter.Action) ||
			(filter.EntityID != "" && l.EntityID != filter.EntityID) {
			continue
		}
		out = append(out, l)
	}
	total := int64(len(out))
	start := (page - 1) * limit
	if start > len(out) {
		start = len(out)
	}
	end := start + limit
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], total, nil
}

func (r *memAuditRepo) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.logs))
	for _, l := range r.logs {
		out = append(out, l.Action)
	}
	return out
}

type published struct {
	actor   string
	kind    string
	payload interface{}
}

type memPublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *memPublisher) Publish(actor, kind string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{actor: actor, kind: kind, payload: payload})
}

func (p *memPublisher) count(kind string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.msgs {
		if m.kind == kind {
			n++
		}
	}
	return n
}

// stack is the service graph over one fake ledger.
type stack struct {
	fake      *ledgertest.Fake
	txRepo    *memTxRepo
	auditRepo *memAuditRepo
	publisher *memPublisher
	registry  RegistryService
	views     *ViewRegistry
	txs       *transactionService
	invoices  *invoiceService
	accounts  AccountService
}

func newStack(t *testing.T, mode config.ApprovalMode) *stack {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s := &stack{
		fake:      ledgertest.New(primaAddr),
		txRepo:    newMemTxRepo(),
		auditRepo: &memAuditRepo{},
		publisher: &memPublisher{},
	}
	s.registry = NewRegistryService(s.fake, 4)
	s.views = NewViewRegistry(ctx, s.registry, nil, nil)
	s.txs = NewTransactionService(s.fake, mode, s.txRepo, s.auditRepo, inlineTx{}, s.views, s.publisher, nil).(*transactionService)
	s.invoices = NewInvoiceService(s.registry, NewBoundsService(s.fake), s.fake, s.txs, s.views, primaAddr).(*invoiceService)
	s.accounts = NewAccountService(s.fake, s.txs, primaAddr)
	return s
}

// settle waits for the actor's outstanding transaction to finish, callbacks included.
func (s *stack) settle(t *testing.T, actor model.Identity) {
	t.Helper()
	select {
	case <-s.txs.orchestrator(actor).Done():
	case <-time.After(5 * time.Second):
		t.Fatal("transaction did not settle")
	}
}

func ids(invoices []model.Invoice) []int64 {
	out := make([]int64, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, inv.TokenID.Int64())
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func bigs(vals ...int64) []*big.Int {
	out := make([]*big.Int, 0, len(vals))
	for _, v := range vals {
		out = append(out, big.NewInt(v))
	}
	return out
}
