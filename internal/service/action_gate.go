package service

import (
	"prima/internal/model"
)

// Action is something an actor can do to an existing invoice.
type Action string

// Action enum constants
const (
	ActionAccept Action = "ACCEPT"
	ActionInvest Action = "INVEST"
	ActionPay    Action = "PAY"
)

// ActionSet is a small set of actions; the zero value is empty.
type ActionSet uint8

const (
	actionAcceptBit ActionSet = 1 << iota
	actionInvestBit
	actionPayBit
)

func actionBit(a Action) ActionSet {
	switch a {
	case ActionAccept:
		return actionAcceptBit
	case ActionInvest:
		return actionInvestBit
	case ActionPay:
		return actionPayBit
	}
	return 0
}

func (s ActionSet) Has(a Action) bool {
	bit := actionBit(a)
	return bit != 0 && s&bit != 0
}

func (s ActionSet) Empty() bool { return s == 0 }

// List returns the actions in a fixed order.
func (s ActionSet) List() []Action {
	out := make([]Action, 0, 3)
	for _, a := range []Action{ActionAccept, ActionInvest, ActionPay} {
		if s.Has(a) {
			out = append(out, a)
		}
	}
	return out
}

// ActionsAvailable is the role/status gate. It is total: every invoice and actor yield a set,
// possibly empty, and nothing on closed invoices.
func ActionsAvailable(inv model.Invoice, actor model.Identity) ActionSet {
	if inv.Status.Closed() {
		return 0
	}
	isDebtor := actor.Equal(inv.Debtor.Identity)
	isCreditor := actor.Equal(inv.Creditor.Identity)

	var set ActionSet
	switch inv.Status {
	case model.StatusNew:
		if isDebtor {
			set |= actionAcceptBit
		}
	case model.StatusAccepted:
		if !isDebtor && !isCreditor {
			set |= actionInvestBit
		}
	case model.StatusInProgress:
		if isDebtor {
			set |= actionPayBit
		}
	}
	return set
}

// requireAction returns an error unwrapping to ErrActionNotAllowed when the gate refuses.
func requireAction(inv model.Invoice, actor model.Identity, a Action) error {
	if ActionsAvailable(inv, actor).Has(a) {
		return nil
	}
	return &gateError{action: a, status: inv.Status}
}

type gateError struct {
	action Action
	status model.InvoiceStatus
}

func (e *gateError) Error() string {
	return string(e.action) + " is not available on a " + e.status.String() + " invoice for this actor"
}

func (e *gateError) Unwrap() error { return model.ErrActionNotAllowed }
