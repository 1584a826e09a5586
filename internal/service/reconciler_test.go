package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"prima/internal/ledger/ledgertest"
	"prima/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func await(t *testing.T, rec *Reconciler, gen uint64) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rec.Await(ctx, gen))
}

func TestReconcilerDiscardsStaleGeneration(t *testing.T) {
	fake := ledgertest.New(primaAddr)
	fake.AddInvoice(invoiceFixture(model.StatusNew))
	rec := NewReconciler(context.Background(), ViewKey{Role: model.RoleCreditor, Actor: creditor}, NewRegistryService(fake, 2), nil, nil)

	gate := fake.Gate(ledgertest.MethodGetInvoiceIDs)
	first := rec.Refresh()
	<-gate.Entered()

	fake.AddInvoice(invoiceFixture(model.StatusNew))
	second := rec.Refresh()
	await(t, rec, second)

	snap := rec.Snapshot()
	assert.Equal(t, second, snap.Generation)
	assert.Equal(t, []int64{1, 2}, ids(snap.Invoices))

	// the held fetch now sees three invoices, but it was started before the applied one
	fake.AddInvoice(invoiceFixture(model.StatusNew))
	gate.Release()
	await(t, rec, first)

	snap = rec.Snapshot()
	assert.Equal(t, second, snap.Generation)
	assert.Equal(t, []int64{1, 2}, ids(snap.Invoices))
	assert.NoError(t, snap.Err)
}

func TestReconcilerAppliesGenerationsInOrder(t *testing.T) {
	fake := ledgertest.New(primaAddr)
	fake.AddInvoice(invoiceFixture(model.StatusNew))

	var mu sync.Mutex
	var applied []uint64
	rec := NewReconciler(context.Background(), ViewKey{Role: model.RoleDebtor, Actor: debtor}, NewRegistryService(fake, 2), nil, func(s ViewSnapshot) {
		mu.Lock()
		applied = append(applied, s.Generation)
		mu.Unlock()
	})

	for i := 0; i < 3; i++ {
		await(t, rec, rec.Refresh())
	}
	assert.Equal(t, uint64(3), rec.Generation())
	assert.Equal(t, uint64(3), rec.Snapshot().Generation)

	// onApplied runs after the generation settles
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(applied) == 3
	}, 5*time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{1, 2, 3}, applied)
}

func TestReconcilerFailureKeepsDisplayedList(t *testing.T) {
	fake := ledgertest.New(primaAddr)
	fake.AddInvoice(invoiceFixture(model.StatusNew))
	rec := NewReconciler(context.Background(), ViewKey{Role: model.RoleCreditor, Actor: creditor}, NewRegistryService(fake, 2), nil, nil)

	await(t, rec, rec.Refresh())
	require.Len(t, rec.Snapshot().Invoices, 1)

	fake.AddInvoice(invoiceFixture(model.StatusNew))
	fake.FailNext(ledgertest.MethodGetInvoiceIDs, errors.New("connection refused"))
	await(t, rec, rec.Refresh())

	snap := rec.Snapshot()
	assert.Equal(t, uint64(1), snap.Generation)
	assert.Len(t, snap.Invoices, 1)
	var lerr *model.LedgerCallError
	require.ErrorAs(t, snap.Err, &lerr)

	await(t, rec, rec.Refresh())
	snap = rec.Snapshot()
	assert.Equal(t, uint64(3), snap.Generation)
	assert.Len(t, snap.Invoices, 2)
	assert.NoError(t, snap.Err)
}

func TestReconcilerAwaitHonoursContext(t *testing.T) {
	fake := ledgertest.New(primaAddr)
	gate := fake.Gate(ledgertest.MethodGetInvoiceIDs)
	defer gate.Release()
	rec := NewReconciler(context.Background(), ViewKey{Role: model.RoleCreditor, Actor: creditor}, NewRegistryService(fake, 2), nil, nil)

	gen := rec.Refresh()
	<-gate.Entered()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rec.Await(ctx, gen), context.DeadlineExceeded)
}

func TestViewRegistryMountsOnce(t *testing.T) {
	fake := ledgertest.New(primaAddr)
	fake.AddInvoice(invoiceFixture(model.StatusNew))
	views := NewViewRegistry(context.Background(), NewRegistryService(fake, 2), nil, nil)

	rec, gen := views.View(model.RoleCreditor, creditor)
	assert.Equal(t, uint64(1), gen)
	again, gen := views.View(model.RoleCreditor, creditor)
	assert.Same(t, rec, again)
	assert.Zero(t, gen)
	await(t, rec, 1)
	assert.Len(t, rec.Snapshot().Invoices, 1)
}

func TestViewRegistryRefreshActor(t *testing.T) {
	fake := ledgertest.New(primaAddr)
	views := NewViewRegistry(context.Background(), NewRegistryService(fake, 2), nil, nil)

	credView, _ := views.View(model.RoleCreditor, creditor)
	debtView, _ := views.View(model.RoleDebtor, creditor)
	other, _ := views.View(model.RoleDebtor, debtor)

	started := views.RefreshActor(creditor)
	assert.Len(t, started, 2)
	assert.Equal(t, uint64(2), started[ViewKey{Role: model.RoleCreditor, Actor: creditor}])
	assert.Equal(t, uint64(2), credView.Generation())
	assert.Equal(t, uint64(2), debtView.Generation())
	assert.Equal(t, uint64(1), other.Generation())

	await(t, other, 1)
	assert.Equal(t, 3, views.RefreshAll())
	assert.Equal(t, uint64(2), other.Generation())
}

func TestViewRegistryCoalescesBlockRefreshes(t *testing.T) {
	fake := ledgertest.New(primaAddr)
	fake.AddInvoice(invoiceFixture(model.StatusNew))
	views := NewViewRegistry(context.Background(), NewRegistryService(fake, 2), nil, nil)

	gate := fake.Gate(ledgertest.MethodGetInvoiceIDs)
	rec, _ := views.View(model.RoleCreditor, creditor)
	<-gate.Entered()

	for i := 0; i < 5; i++ {
		views.RefreshAll()
	}
	assert.Equal(t, 1, rec.InFlight())
	assert.Equal(t, uint64(1), rec.Generation())

	gate.Release()
	// one follow-up for all five triggers
	require.Eventually(t, func() bool { return rec.Generation() == 2 }, 5*time.Second, 5*time.Millisecond)
	await(t, rec, 2)
	assert.Equal(t, uint64(2), rec.Generation())
	assert.Equal(t, uint64(2), rec.Snapshot().Generation)
	assert.Equal(t, 0, rec.InFlight())
}

func TestViewRegistryEvictsIdleViews(t *testing.T) {
	fake := ledgertest.New(primaAddr)
	views := NewViewRegistry(context.Background(), NewRegistryService(fake, 2), nil, nil)
	views.SetIdleTTL(time.Minute)
	now := time.Now()
	views.now = func() time.Time { return now }

	stale, _ := views.View(model.RoleCreditor, creditor)
	fresh, _ := views.View(model.RoleDebtor, debtor)
	await(t, stale, 1)
	await(t, fresh, 1)

	now = now.Add(50 * time.Second)
	views.View(model.RoleDebtor, debtor)
	now = now.Add(20 * time.Second)

	assert.Equal(t, 1, views.RefreshAll())
	again, gen := views.View(model.RoleCreditor, creditor)
	assert.NotSame(t, stale, again)
	assert.Equal(t, uint64(1), gen)
}

func TestBlockWatcherRefreshesViewsPerHead(t *testing.T) {
	fake := ledgertest.New(primaAddr)
	views := NewViewRegistry(context.Background(), NewRegistryService(fake, 2), nil, nil)
	rec, _ := views.View(model.RoleCreditor, creditor)
	await(t, rec, 1)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- NewBlockWatcher(fake, views).Run(ctx) }()

	fake.NewHead(10)
	fake.NewHead(11)
	require.Eventually(t, func() bool { return rec.Generation() == 3 }, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
