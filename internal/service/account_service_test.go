package service

import (
	"context"
	"testing"

	"prima/internal/config"
	"prima/internal/ledger/ledgertest"
	"prima/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountOverview(t *testing.T) {
	s := newStack(t, config.ApprovalAwait)
	s.fake.SetBalance(debtor, model.WholeAmount(1500))
	s.fake.SetAllowance(debtor, primaAddr, model.WholeAmount(20))

	res, err := s.accounts.Overview(context.Background(), sessionFor(debtor))
	require.NoError(t, err)
	assert.Equal(t, debtor.String(), res.Address)
	assert.Equal(t, int64(31337), res.ChainID)
	assert.Equal(t, "1500", res.Balance)
	assert.Equal(t, "20", res.Allowance)
	assert.Equal(t, primaAddr.String(), res.Spender)
}

func TestAddCollateralGrantsAllowanceInPipelineMode(t *testing.T) {
	s := newStack(t, config.ApprovalPipeline)
	s.fake.EnforceAllowance = true
	s.fake.SetBalance(debtor, model.WholeAmount(100))

	res, err := s.accounts.AddCollateral(context.Background(), sessionFor(debtor), CollateralRequest{Amount: "25.5"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AllowanceHash)
	s.settle(t, debtor)

	writes := s.fake.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, ledgertest.MethodApprove, writes[0].Method)
	assert.Equal(t, ledgertest.MethodAddCollateral, writes[1].Method)
	assert.Equal(t, 1, s.fake.Calls(ledgertest.MethodWaitConfirmed))

	overview, err := s.accounts.Overview(context.Background(), sessionFor(debtor))
	require.NoError(t, err)
	assert.Equal(t, "74.5", overview.Balance)
	assert.Equal(t, "0", overview.Allowance)
}

func TestAddCollateralValidation(t *testing.T) {
	s := newStack(t, config.ApprovalAwait)
	s.fake.SetBalance(debtor, model.WholeAmount(10))

	for _, amount := range []string{"", "-1", "0", "abc"} {
		_, err := s.accounts.AddCollateral(context.Background(), sessionFor(debtor), CollateralRequest{Amount: amount})
		var verr *model.ValidationError
		require.ErrorAs(t, err, &verr, amount)
		assert.Equal(t, "amount", verr.Field)
	}

	_, err := s.accounts.AddCollateral(context.Background(), sessionFor(debtor), CollateralRequest{Amount: "11"})
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "balance", verr.Field)
	assert.Empty(t, s.fake.Writes())
}
