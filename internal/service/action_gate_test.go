package service

import (
	"math/big"
	"testing"

	"prima/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestActionsAvailable(t *testing.T) {
	lowerDebtor := model.MustIdentity("0x2222222222222222222222222222222222222222")

	tests := []struct {
		name   string
		status model.InvoiceStatus
		actor  model.Identity
		want   []Action
	}{
		{"debtor accepts new", model.StatusNew, debtor, []Action{ActionAccept}},
		{"creditor has nothing on new", model.StatusNew, creditor, []Action{}},
		{"outsider has nothing on new", model.StatusNew, outsider, []Action{}},
		{"outsider invests in accepted", model.StatusAccepted, outsider, []Action{ActionInvest}},
		{"debtor cannot self-invest", model.StatusAccepted, debtor, []Action{}},
		{"creditor cannot self-invest", model.StatusAccepted, creditor, []Action{}},
		{"debtor pays in progress", model.StatusInProgress, debtor, []Action{ActionPay}},
		{"investor waits in progress", model.StatusInProgress, investor, []Action{}},
		{"paid is closed for debtor", model.StatusPaid, debtor, []Action{}},
		{"paid is closed for outsider", model.StatusPaid, outsider, []Action{}},
		{"overdue is closed for debtor", model.StatusOverdue, debtor, []Action{}},
		{"overdue is closed for outsider", model.StatusOverdue, outsider, []Action{}},
		{"identity comparison ignores case", model.StatusNew, lowerDebtor, []Action{ActionAccept}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := invoiceFixture(tt.status)
			inv.TokenID = big.NewInt(1)
			got := ActionsAvailable(inv, tt.actor)
			assert.Equal(t, tt.want, got.List())
			assert.Equal(t, got, ActionsAvailable(inv, tt.actor), "deterministic")
		})
	}
}

func TestActionsAvailableClosedStatusesAreEmptyForEveryone(t *testing.T) {
	for _, status := range []model.InvoiceStatus{model.StatusPaid, model.StatusOverdue} {
		for _, actor := range []model.Identity{creditor, debtor, investor, outsider, {}} {
			inv := invoiceFixture(status)
			inv.Investor = model.Company{Identity: investor}
			assert.True(t, ActionsAvailable(inv, actor).Empty(), "%s for %s", status, actor)
		}
	}
}

func TestActionsAvailableUnknownStatusIsEmpty(t *testing.T) {
	inv := invoiceFixture(model.InvoiceStatus(9))
	assert.True(t, ActionsAvailable(inv, debtor).Empty())
}

func TestRequireActionWrapsSentinel(t *testing.T) {
	inv := invoiceFixture(model.StatusNew)
	assert.NoError(t, requireAction(inv, debtor, ActionAccept))

	err := requireAction(inv, creditor, ActionAccept)
	assert.ErrorIs(t, err, model.ErrActionNotAllowed)
	assert.Contains(t, err.Error(), "NEW")
}
