package service

import (
	"context"
	"fmt"
	"math/big"

	"prima/internal/ledger"
	"prima/internal/model"
)

type VerifyBoundsRequest struct {
	Amount      string `json:"amount" binding:"required"`
	CreditScore string `json:"credit_score" binding:"required"` // 0..5 or A..F
	AmountToPay string `json:"amount_to_pay"`                    // optional; checked against the bounds when set
}

type BoundsResponse struct {
	Amount        string `json:"amount"`
	CreditScore   string `json:"credit_score"`
	MinimumAmount string `json:"minimum_amount"`
	MaximumAmount string `json:"maximum_amount"`
	AmountToPay   string `json:"amount_to_pay,omitempty"`
	Within        *bool  `json:"within,omitempty"`
}

// BoundsService derives the permissible amountToPay range for a principal and debtor tier.
// It is only ever called on an explicit verify request.
type BoundsService interface {
	ComputeBounds(ctx context.Context, principal *big.Int, tier model.CreditTier) (ledger.Bounds, error)
	// CheckAmountToPay returns a ValidationError when amountToPay lies outside bounds.
	CheckAmountToPay(bounds ledger.Bounds, amountToPay *big.Int) error
	Verify(ctx context.Context, req VerifyBoundsRequest) (BoundsResponse, error)
}

type boundsService struct {
	reader ledger.Reader
}

func NewBoundsService(reader ledger.Reader) BoundsService {
	return &boundsService{reader: reader}
}

func (s *boundsService) ComputeBounds(ctx context.Context, principal *big.Int, tier model.CreditTier) (ledger.Bounds, error) {
	if principal == nil || principal.Sign() <= 0 {
		return ledger.Bounds{}, model.NewValidationError("amount", model.FormatAmount(principal), "must be greater than 0")
	}
	if !tier.Valid() {
		return ledger.Bounds{}, model.NewValidationError("credit_tier", int(tier), "must be between 0 and 5")
	}

	b, err := s.reader.ComputeAmountBounds(ctx, principal, tier)
	if err != nil {
		return ledger.Bounds{}, err
	}
	if b.Minimum == nil || b.Maximum == nil || b.Minimum.Sign() <= 0 || b.Minimum.Cmp(b.Maximum) > 0 || b.Maximum.Cmp(principal) > 0 {
		return ledger.Bounds{}, &model.LedgerCallError{
			Op:  "computeAmounts",
			Err: fmt.Errorf("bounds (%s, %s) are not inside (0, %s]", b.Minimum, b.Maximum, principal),
		}
	}
	return b, nil
}

func (s *boundsService) CheckAmountToPay(bounds ledger.Bounds, amountToPay *big.Int) error {
	if amountToPay == nil || amountToPay.Cmp(bounds.Minimum) < 0 || amountToPay.Cmp(bounds.Maximum) > 0 {
		return model.NewValidationError("amount_to_pay", model.FormatAmount(amountToPay),
			fmt.Sprintf("must be between %s and %s", model.FormatAmount(bounds.Minimum), model.FormatAmount(bounds.Maximum)))
	}
	return nil
}

func (s *boundsService) Verify(ctx context.Context, req VerifyBoundsRequest) (BoundsResponse, error) {
	principal, err := model.ParseAmount("amount", req.Amount)
	if err != nil {
		return BoundsResponse{}, err
	}
	tier, err := model.ParseCreditTier(req.CreditScore)
	if err != nil {
		return BoundsResponse{}, err
	}
	bounds, err := s.ComputeBounds(ctx, principal, tier)
	if err != nil {
		return BoundsResponse{}, err
	}

	res := BoundsResponse{
		Amount:        model.FormatAmount(principal),
		CreditScore:   tier.String(),
		MinimumAmount: model.FormatAmount(bounds.Minimum),
		MaximumAmount: model.FormatAmount(bounds.Maximum),
	}
	if req.AmountToPay != "" {
		amountToPay, err := model.ParseAmount("amount_to_pay", req.AmountToPay)
		if err != nil {
			return BoundsResponse{}, err
		}
		within := s.CheckAmountToPay(bounds, amountToPay) == nil
		res.AmountToPay = model.FormatAmount(amountToPay)
		res.Within = &within
	}
	return res, nil
}
