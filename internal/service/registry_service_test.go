package service

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"prima/internal/ledger/ledgertest"
	"prima/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRegistry(fake *ledgertest.Fake) {
	// 1: creditor -> debtor, new
	fake.AddInvoice(invoiceFixture(model.StatusNew))
	// 2: creditor -> debtor, accepted (open to outsiders)
	fake.AddInvoice(invoiceFixture(model.StatusAccepted))
	// 3: financed by investor
	financed := invoiceFixture(model.StatusInProgress)
	financed.Investor = model.Company{Identity: investor, CreditTier: model.TierB}
	fake.AddInvoice(financed)
	// 4: outsider is creditor, accepted
	own := invoiceFixture(model.StatusAccepted)
	own.Creditor = model.Company{Identity: outsider}
	fake.AddInvoice(own)
	// 5: accepted then overdue
	fake.AddInvoice(invoiceFixture(model.StatusOverdue))
}

func TestFetchForIndexedRoles(t *testing.T) {
	fake := ledgertest.New(primaAddr)
	seedRegistry(fake)
	svc := NewRegistryService(fake, 2)
	ctx := context.Background()

	got, err := svc.FetchForRole(ctx, model.RoleCreditor, creditor)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 5}, ids(got))

	got, err = svc.FetchForRole(ctx, model.RoleDebtor, debtor)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, ids(got))

	got, err = svc.FetchForRole(ctx, model.RoleInvestor, investor)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, ids(got))

	got, err = svc.FetchForRole(ctx, model.RoleInvestor, outsider)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFetchForRoleReturnsEveryIndexedID(t *testing.T) {
	fake := ledgertest.New(primaAddr)
	for i := 0; i < 25; i++ {
		fake.AddInvoice(invoiceFixture(model.StatusNew))
	}
	svc := NewRegistryService(fake, 3)

	indexed, err := fake.GetInvoiceIDs(context.Background(), model.RoleDebtor, debtor)
	require.NoError(t, err)
	got, err := svc.FetchForRole(context.Background(), model.RoleDebtor, debtor)
	require.NoError(t, err)
	assert.Len(t, got, len(indexed))
	for i, inv := range got {
		assert.Equal(t, 0, inv.TokenID.Cmp(indexed[i]), "results keep index order")
	}
}

func TestMarketplaceKeepsOpenInvoicesOfOthers(t *testing.T) {
	fake := ledgertest.New(primaAddr)
	seedRegistry(fake)
	svc := NewRegistryService(fake, 4)

	got, err := svc.FetchForRole(context.Background(), model.RoleMarketplace, investor)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 4}, ids(got))

	// outsider is creditor of 4
	got, err = svc.FetchForRole(context.Background(), model.RoleMarketplace, outsider)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids(got))

	// debtor owes all of them
	got, err = svc.FetchForRole(context.Background(), model.RoleMarketplace, debtor)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMarketplaceHydratesEachTokenOnce(t *testing.T) {
	fake := ledgertest.New(primaAddr)
	id := fake.AddInvoice(invoiceFixture(model.StatusAccepted))
	// an outside process moves it back and forth; the log now holds Accepted twice
	fake.SetStatus(id, model.StatusNew)
	fake.SetStatus(id, model.StatusAccepted)
	svc := NewRegistryService(fake, 4)

	got, err := svc.FetchForRole(context.Background(), model.RoleMarketplace, investor)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids(got))
	assert.Equal(t, 1, fake.Calls(ledgertest.MethodGetInvoice))
}

func TestHydrationFailureAbortsWholeFetch(t *testing.T) {
	fake := ledgertest.New(primaAddr)
	seedRegistry(fake)
	fake.FailInvoice(big.NewInt(3), errors.New("header not found"))
	svc := NewRegistryService(fake, 2)

	got, err := svc.FetchForRole(context.Background(), model.RoleCreditor, creditor)
	assert.Nil(t, got)
	var herr *model.HydrationError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, model.RoleCreditor, herr.Role)
	assert.Equal(t, int64(3), herr.TokenID.Int64())

	// 3 went through Accepted, so the marketplace scan hydrates it too
	got, err = svc.FetchForRole(context.Background(), model.RoleMarketplace, investor)
	assert.Nil(t, got)
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, model.RoleMarketplace, herr.Role)
}

func TestIndexFailureIsLedgerCallError(t *testing.T) {
	fake := ledgertest.New(primaAddr)
	fake.FailNext(ledgertest.MethodGetInvoiceIDs, errors.New("timeout"))
	svc := NewRegistryService(fake, 2)

	_, err := svc.FetchForRole(context.Background(), model.RoleDebtor, debtor)
	var lerr *model.LedgerCallError
	require.ErrorAs(t, err, &lerr)
}

func TestFetchForUnknownRole(t *testing.T) {
	svc := NewRegistryService(ledgertest.New(primaAddr), 2)
	_, err := svc.FetchForRole(context.Background(), model.Role("auditor"), debtor)
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
}
