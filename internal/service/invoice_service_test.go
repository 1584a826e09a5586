package service

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"prima/internal/config"
	"prima/internal/ledger/ledgertest"
	"prima/internal/model"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateRequest(amountToPay string) GenerateInvoiceRequest {
	return GenerateInvoiceRequest{
		ExternalID:          "INV-2024-001",
		Activity:            "Container freight to Lyon",
		Country:             "FR",
		DueDate:             time.Now().AddDate(0, 2, 0).Format(time.DateOnly),
		Amount:              "1000",
		AmountToPay:         amountToPay,
		DebtorAddress:       debtor.String(),
		DebtorCreditScore:   "2",
		CreditorCreditScore: "A",
	}
}

func TestGenerateRejectsAmountAboveMaximumWithoutWriting(t *testing.T) {
	s := newStack(t, config.ApprovalAwait)
	ctx := context.Background()

	// tier C on 1000 allows [400, 900]
	_, err := s.invoices.Generate(ctx, sessionFor(creditor), generateRequest("900.000000000000000001"))

	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "amount_to_pay", verr.Field)
	assert.Empty(t, s.fake.Writes())
	assert.Empty(t, s.auditRepo.actions())
}

func TestGenerateAtBoundsSubmitsAndJournalsMintedToken(t *testing.T) {
	s := newStack(t, config.ApprovalAwait)
	ctx := context.Background()

	res, err := s.invoices.Generate(ctx, sessionFor(creditor), generateRequest("400"))
	require.NoError(t, err)
	assert.Equal(t, string(model.PhaseSubmitted), res.Phase)
	assert.Equal(t, string(model.IntentGenerate), res.Kind)
	s.settle(t, creditor)

	writes := s.fake.Writes()
	require.Len(t, writes, 1)
	require.NotNil(t, writes[0].Params)
	assert.Equal(t, model.WholeAmount(400), writes[0].Params.AmountToPay)
	assert.Equal(t, model.TierC, writes[0].Params.Debtor.CreditTier)
	assert.True(t, writes[0].Params.Creditor.Identity.Equal(creditor))

	rec := s.txRepo.get(t, res.ID)
	assert.Equal(t, string(model.PhaseConfirmed), rec.Phase)
	assert.Equal(t, "1", rec.ResultTokenID)
	assert.Equal(t, []string{model.ActionSubmitIntent, model.ActionConfirmIntent}, s.auditRepo.actions())

	inv, ok := s.fake.Invoice(big.NewInt(1))
	require.True(t, ok)
	assert.Equal(t, model.StatusNew, inv.Status)
}

func TestGenerateFormRules(t *testing.T) {
	s := newStack(t, config.ApprovalAwait)
	tests := []struct {
		name   string
		mutate func(*GenerateInvoiceRequest)
		field  string
	}{
		{"short id", func(r *GenerateInvoiceRequest) { r.ExternalID = "IN1" }, "id"},
		{"short activity", func(r *GenerateInvoiceRequest) { r.Activity = "Freight" }, "activity"},
		{"short country", func(r *GenerateInvoiceRequest) { r.Country = "F" }, "country"},
		{"past due date", func(r *GenerateInvoiceRequest) { r.DueDate = "2001-01-01" }, "due_date"},
		{"bad due date", func(r *GenerateInvoiceRequest) { r.DueDate = "next week" }, "due_date"},
		{"amount below one", func(r *GenerateInvoiceRequest) { r.Amount = "0.5" }, "amount"},
		{"amount to pay below one", func(r *GenerateInvoiceRequest) { r.AmountToPay = "0" }, "amount_to_pay"},
		{"self as debtor", func(r *GenerateInvoiceRequest) { r.DebtorAddress = creditor.String() }, "debtor"},
		{"bad debtor", func(r *GenerateInvoiceRequest) { r.DebtorAddress = "0x1234" }, "address"},
		{"bad score", func(r *GenerateInvoiceRequest) { r.DebtorCreditScore = "Z" }, "credit_tier"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := generateRequest("500")
			tt.mutate(&req)
			_, err := s.invoices.Generate(context.Background(), sessionFor(creditor), req)
			var verr *model.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
	assert.Zero(t, s.fake.Calls(ledgertest.MethodBounds))
	assert.Empty(t, s.fake.Writes())
}

func TestActionGateRefusesBeforeAnyWrite(t *testing.T) {
	s := newStack(t, config.ApprovalAwait)
	ctx := context.Background()
	newID := s.fake.AddInvoice(invoiceFixture(model.StatusNew))
	financedID := s.fake.AddInvoice(invoiceFixture(model.StatusInProgress))

	_, err := s.invoices.Accept(ctx, sessionFor(creditor), newID, AcceptInvoiceRequest{Collateral: "10"})
	assert.ErrorIs(t, err, model.ErrActionNotAllowed)

	_, err = s.invoices.Pay(ctx, sessionFor(outsider), financedID)
	assert.ErrorIs(t, err, model.ErrActionNotAllowed)

	_, err = s.invoices.Invest(ctx, sessionFor(investor), newID, InvestInvoiceRequest{CreditScore: "B"})
	assert.ErrorIs(t, err, model.ErrActionNotAllowed)

	assert.Empty(t, s.fake.Writes())
	assert.Empty(t, s.auditRepo.actions())
}

func TestAcceptPledgesCollateralWithoutAllowance(t *testing.T) {
	s := newStack(t, config.ApprovalAwait)
	ctx := context.Background()
	tokenID := s.fake.AddInvoice(invoiceFixture(model.StatusNew))

	actions, err := s.invoices.Actions(ctx, sessionFor(debtor), tokenID)
	require.NoError(t, err)
	assert.Equal(t, []Action{ActionAccept}, actions)

	res, err := s.invoices.Accept(ctx, sessionFor(debtor), tokenID, AcceptInvoiceRequest{Collateral: "50"})
	require.NoError(t, err)
	assert.Empty(t, res.AllowanceHash)
	s.settle(t, debtor)

	writes := s.fake.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, ledgertest.MethodAccept, writes[0].Method)

	got, err := s.invoices.Get(ctx, sessionFor(debtor), tokenID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAccepted.String(), got.Status)
	assert.Equal(t, "50", got.Collateral)
	assert.Equal(t, "+", got.CollateralFlag)
	assert.Empty(t, got.Actions)
}

func TestInvestAttachesAllowanceWhenShort(t *testing.T) {
	s := newStack(t, config.ApprovalAwait)
	s.fake.EnforceAllowance = true
	ctx := context.Background()
	tokenID := s.fake.AddInvoice(invoiceFixture(model.StatusAccepted))
	s.fake.SetBalance(investor, model.WholeAmount(5000))

	investorView, _ := s.views.View(model.RoleInvestor, investor)
	marketView, _ := s.views.View(model.RoleMarketplace, investor)
	await(t, investorView, 1)
	await(t, marketView, 1)
	require.Len(t, marketView.Snapshot().Invoices, 1)

	res, err := s.invoices.Invest(ctx, sessionFor(investor), tokenID, InvestInvoiceRequest{CreditScore: "B"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AllowanceHash)
	s.settle(t, investor)

	writes := s.fake.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, ledgertest.MethodApprove, writes[0].Method)
	assert.Equal(t, model.WholeAmount(900), writes[0].Amount)
	assert.True(t, writes[0].Spender.Equal(primaAddr))
	assert.Equal(t, ledgertest.MethodInvest, writes[1].Method)
	assert.Equal(t, model.TierB, writes[1].Company.CreditTier)

	// the confirmation started exactly one new generation on each of the investor's views
	assert.Equal(t, uint64(2), investorView.Generation())
	assert.Equal(t, uint64(2), marketView.Generation())
	await(t, investorView, 2)
	await(t, marketView, 2)
	assert.Equal(t, []int64{tokenID.Int64()}, ids(investorView.Snapshot().Invoices))
	assert.Empty(t, marketView.Snapshot().Invoices)

	assert.Equal(t, string(model.PhaseConfirmed), s.txRepo.get(t, res.ID).Phase)
	assert.Equal(t, 2, s.publisher.count(PushTransaction))
}

func TestInvestSkipsAllowanceWhenCovered(t *testing.T) {
	s := newStack(t, config.ApprovalAwait)
	s.fake.EnforceAllowance = true
	tokenID := s.fake.AddInvoice(invoiceFixture(model.StatusAccepted))
	s.fake.SetBalance(investor, model.WholeAmount(900))
	s.fake.SetAllowance(investor, primaAddr, model.WholeAmount(1000))

	res, err := s.invoices.Invest(context.Background(), sessionFor(investor), tokenID, InvestInvoiceRequest{CreditScore: "A"})
	require.NoError(t, err)
	assert.Empty(t, res.AllowanceHash)
	s.settle(t, investor)

	writes := s.fake.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, ledgertest.MethodInvest, writes[0].Method)
	inv, _ := s.fake.Invoice(tokenID)
	assert.Equal(t, model.StatusInProgress, inv.Status)
}

func TestInvestRejectsInsufficientBalance(t *testing.T) {
	s := newStack(t, config.ApprovalAwait)
	tokenID := s.fake.AddInvoice(invoiceFixture(model.StatusAccepted))
	s.fake.SetBalance(investor, model.WholeAmount(100))

	_, err := s.invoices.Invest(context.Background(), sessionFor(investor), tokenID, InvestInvoiceRequest{CreditScore: "A"})
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "balance", verr.Field)
	assert.Empty(t, s.fake.Writes())
}

func TestViewOverlaysPendingTransactions(t *testing.T) {
	s := newStack(t, config.ApprovalAwait)
	ctx := context.Background()
	tokenID := s.fake.AddInvoice(invoiceFixture(model.StatusInProgress))
	sess := sessionFor(debtor)

	view, err := s.invoices.View(ctx, sess, model.RoleDebtor, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), view.Generation)
	require.Len(t, view.Invoices, 1)
	assert.Equal(t, []Action{ActionPay}, view.Invoices[0].Actions)
	assert.Empty(t, view.Pending)

	gate := s.fake.Gate(ledgertest.MethodWaitConfirmed)
	res, err := s.invoices.Pay(ctx, sess, tokenID)
	require.NoError(t, err)
	<-gate.Entered()

	view, err = s.invoices.View(ctx, sess, model.RoleDebtor, false)
	require.NoError(t, err)
	require.Len(t, view.Pending, 1)
	assert.Equal(t, res.ID, view.Pending[0].ID)

	gate.Release()
	s.settle(t, debtor)

	view, err = s.invoices.View(ctx, sess, model.RoleDebtor, true)
	require.NoError(t, err)
	assert.Empty(t, view.Pending)
	require.Len(t, view.Invoices, 1)
	assert.Equal(t, model.StatusPaid.String(), view.Invoices[0].Status)
	assert.Empty(t, view.Invoices[0].Actions)
}

func TestViewFailsWhenNothingWasDisplayed(t *testing.T) {
	s := newStack(t, config.ApprovalAwait)
	s.fake.FailNext(ledgertest.MethodGetInvoiceIDs, errors.New("connection refused"))

	_, err := s.invoices.View(context.Background(), sessionFor(creditor), model.RoleCreditor, false)
	var lerr *model.LedgerCallError
	require.ErrorAs(t, err, &lerr)

	view, err := s.invoices.View(context.Background(), sessionFor(creditor), model.RoleCreditor, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), view.Generation)
}

func TestViewWaitsForFirstFetchOfMountedView(t *testing.T) {
	s := newStack(t, config.ApprovalAwait)
	s.fake.AddInvoice(invoiceFixture(model.StatusNew))
	sess := sessionFor(creditor)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	gate := s.fake.Gate(ledgertest.MethodGetInvoiceIDs)
	type result struct {
		view ViewResponse
		err  error
	}
	first := make(chan result, 1)
	go func() {
		view, err := s.invoices.View(ctx, sess, model.RoleCreditor, false)
		first <- result{view, err}
	}()
	<-gate.Entered()

	second := make(chan result, 1)
	go func() {
		view, err := s.invoices.View(ctx, sess, model.RoleCreditor, false)
		second <- result{view, err}
	}()
	select {
	case <-second:
		t.Fatal("view answered before its first fetch settled")
	case <-time.After(50 * time.Millisecond):
	}

	gate.Release()
	for _, ch := range []chan result{first, second} {
		res := <-ch
		require.NoError(t, res.err)
		assert.Equal(t, uint64(1), res.view.Generation)
		assert.Len(t, res.view.Invoices, 1)
	}
}

func TestSecondWriteWhileBusyIsNotJournaled(t *testing.T) {
	s := newStack(t, config.ApprovalAwait)
	ctx := context.Background()
	first := s.fake.AddInvoice(invoiceFixture(model.StatusInProgress))
	second := s.fake.AddInvoice(invoiceFixture(model.StatusInProgress))
	gate := s.fake.Gate(ledgertest.MethodWaitConfirmed)

	_, err := s.invoices.Pay(ctx, sessionFor(debtor), first)
	require.NoError(t, err)
	_, err = s.invoices.Pay(ctx, sessionFor(debtor), second)
	assert.ErrorIs(t, err, model.ErrOrchestratorBusy)

	gate.Release()
	s.settle(t, debtor)
	all, total, err := s.txs.List(ctx, debtor, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, all, 1)
}

func TestRejectedSubmissionIsJournaledAsFailed(t *testing.T) {
	s := newStack(t, config.ApprovalAwait)
	s.fake.Signers = map[common.Address]bool{}
	tokenID := s.fake.AddInvoice(invoiceFixture(model.StatusInProgress))

	_, err := s.invoices.Pay(context.Background(), sessionFor(debtor), tokenID)
	var rejected *model.TransactionRejectedError
	require.ErrorAs(t, err, &rejected)

	all, _, err := s.txs.List(context.Background(), debtor, 1, 10)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, string(model.PhaseFailed), all[0].Phase)
	assert.NotEmpty(t, all[0].Reason)
	assert.Equal(t, []string{model.ActionFailIntent}, s.auditRepo.actions())
}
