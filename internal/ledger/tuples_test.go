package ledger

import (
	"math/big"
	"testing"
	"time"

	"prima/internal/model"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	debtorAddr   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	creditorAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func rawInvoice() invoiceTuple {
	return invoiceTuple{
		Id:            "INV-0001",
		Activity:      "Freight forwarding",
		Country:       "FR",
		DueDate:       big.NewInt(1767225600000), // 2026-01-01T00:00:00Z
		Amount:        model.WholeAmount(1000),
		AmountToPay:   model.WholeAmount(900),
		Collateral:    nil,
		Debtor:        companyTuple{Name: debtorAddr, CreditScore: 2},
		Creditor:      companyTuple{Name: creditorAddr, CreditScore: 0},
		InvoiceStatus: uint8(model.StatusAccepted),
	}
}

func TestToInvoice(t *testing.T) {
	inv, err := toInvoice(big.NewInt(7), rawInvoice())
	require.NoError(t, err)

	assert.Equal(t, int64(7), inv.TokenID.Int64())
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), inv.DueDate)
	assert.Equal(t, model.TierC, inv.Debtor.CreditTier)
	assert.Equal(t, debtorAddr, inv.Debtor.Identity.Address())
	assert.True(t, inv.Investor.Identity.IsZero())
	assert.Equal(t, 0, inv.Collateral.Sign())
	assert.False(t, inv.HasCollateral())
	assert.Equal(t, model.StatusAccepted, inv.Status)
}

func TestToInvoiceRejectsOutOfRangeEnums(t *testing.T) {
	raw := rawInvoice()
	raw.InvoiceStatus = 9
	_, err := toInvoice(big.NewInt(1), raw)
	assert.ErrorContains(t, err, "unknown status 9")

	raw = rawInvoice()
	raw.Investor.CreditScore = 6
	_, err = toInvoice(big.NewInt(1), raw)
	assert.ErrorContains(t, err, "credit score 6")
}

func TestFromInvoiceParamsUsesMilliseconds(t *testing.T) {
	due := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := fromInvoiceParams(model.InvoiceParams{
		ExternalID:  "INV-9",
		DueDate:     due,
		Amount:      model.WholeAmount(10),
		AmountToPay: model.WholeAmount(9),
		Debtor:      model.Company{Identity: model.IdentityFromAddress(debtorAddr), CreditTier: model.TierF},
		Creditor:    model.Company{Identity: model.IdentityFromAddress(creditorAddr), CreditTier: model.TierA},
	})
	assert.Equal(t, due.UnixMilli(), p.DueDate.Int64())
	assert.Equal(t, uint8(5), p.Debtor.CreditScore)
	assert.Equal(t, creditorAddr, p.Creditor.Name)
}

func TestConvertTupleRecoversFromShapeMismatch(t *testing.T) {
	var dst invoiceTuple
	err := convertTuple(struct{ Id int }{Id: 3}, &dst)
	assert.Error(t, err)
}
