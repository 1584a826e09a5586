package ledger

import (
	"fmt"
	"math/big"
	"time"

	"prima/internal/model"

	"github.com/ethereum/go-ethereum/common"
)

// Field order matches the ABI tuple components; go-ethereum copies tuples positionally.

type companyTuple struct {
	Name        common.Address
	CreditScore uint8
}

type invoiceTuple struct {
	Id            string
	Activity      string
	Country       string
	DueDate       *big.Int
	Amount        *big.Int
	AmountToPay   *big.Int
	Collateral    *big.Int
	Debtor        companyTuple
	Creditor      companyTuple
	Investor      companyTuple
	InvoiceStatus uint8
}

type invoiceParamsTuple struct {
	Id          string
	Activity    string
	Country     string
	DueDate     *big.Int
	Amount      *big.Int
	AmountToPay *big.Int
	Debtor      companyTuple
	Creditor    companyTuple
}

type statusChangedData struct {
	TokenId   *big.Int
	NewStatus uint8
}

func toCompany(t companyTuple) (model.Company, error) {
	tier := model.CreditTier(t.CreditScore)
	if !tier.Valid() {
		return model.Company{}, fmt.Errorf("company %s has credit score %d outside 0..5", t.Name.Hex(), t.CreditScore)
	}
	return model.Company{Identity: model.IdentityFromAddress(t.Name), CreditTier: tier}, nil
}

func fromCompany(c model.Company) companyTuple {
	return companyTuple{Name: c.Identity.Address(), CreditScore: uint8(c.CreditTier)}
}

// toInvoice validates a raw getInvoice tuple. Due dates are stored on chain as Unix
// milliseconds.
func toInvoice(tokenID *big.Int, t invoiceTuple) (model.Invoice, error) {
	status := model.InvoiceStatus(t.InvoiceStatus)
	if !status.Valid() {
		return model.Invoice{}, fmt.Errorf("invoice %s has unknown status %d", tokenID, t.InvoiceStatus)
	}
	debtor, err := toCompany(t.Debtor)
	if err != nil {
		return model.Invoice{}, err
	}
	creditor, err := toCompany(t.Creditor)
	if err != nil {
		return model.Invoice{}, err
	}
	investor, err := toCompany(t.Investor)
	if err != nil {
		return model.Invoice{}, err
	}
	var due time.Time
	if t.DueDate != nil && t.DueDate.IsInt64() {
		due = time.UnixMilli(t.DueDate.Int64()).UTC()
	}
	return model.Invoice{
		TokenID:     new(big.Int).Set(tokenID),
		ExternalID:  t.Id,
		Activity:    t.Activity,
		Country:     t.Country,
		DueDate:     due,
		Amount:      orZero(t.Amount),
		AmountToPay: orZero(t.AmountToPay),
		Collateral:  orZero(t.Collateral),
		Debtor:      debtor,
		Creditor:    creditor,
		Investor:    investor,
		Status:      status,
	}, nil
}

func fromInvoiceParams(p model.InvoiceParams) invoiceParamsTuple {
	return invoiceParamsTuple{
		Id:          p.ExternalID,
		Activity:    p.Activity,
		Country:     p.Country,
		DueDate:     big.NewInt(p.DueDate.UnixMilli()),
		Amount:      p.Amount,
		AmountToPay: p.AmountToPay,
		Debtor:      fromCompany(p.Debtor),
		Creditor:    fromCompany(p.Creditor),
	}
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
