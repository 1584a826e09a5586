package service

import (
	"context"

	"prima/internal/ledger"
	"prima/internal/model"
)

type AccountResponse struct {
	Address   string `json:"address"`
	ChainID   int64  `json:"chain_id"`
	Balance   string `json:"balance"`
	Allowance string `json:"allowance"` // granted to the Prima contract
	Spender   string `json:"spender"`
}

type CollateralRequest struct {
	Amount string `json:"amount" binding:"required"`
}

type AccountService interface {
	Overview(ctx context.Context, sess model.Session) (AccountResponse, error)
	// AddCollateral deposits PGT as collateral, granting Prima the allowance first when needed.
	AddCollateral(ctx context.Context, sess model.Session, req CollateralRequest) (TransactionResponse, error)
}

type accountService struct {
	reader  ledger.Reader
	txs     TransactionService
	funds   *fundsChecker
	spender model.Identity
}

func NewAccountService(reader ledger.Reader, txs TransactionService, spender model.Identity) AccountService {
	return &accountService{
		reader:  reader,
		txs:     txs,
		funds:   &fundsChecker{reader: reader, spender: spender},
		spender: spender,
	}
}

func (s *accountService) Overview(ctx context.Context, sess model.Session) (AccountResponse, error) {
	balance, err := s.reader.GetBalance(ctx, sess.Actor)
	if err != nil {
		return AccountResponse{}, err
	}
	allowance, err := s.reader.GetAllowance(ctx, sess.Actor, s.spender)
	if err != nil {
		return AccountResponse{}, err
	}
	return AccountResponse{
		Address:   sess.Actor.String(),
		ChainID:   sess.ChainID,
		Balance:   model.FormatAmount(balance),
		Allowance: model.FormatAmount(allowance),
		Spender:   s.spender.String(),
	}, nil
}

func (s *accountService) AddCollateral(ctx context.Context, sess model.Session, req CollateralRequest) (TransactionResponse, error) {
	amount, err := model.ParseAmount("amount", req.Amount)
	if err != nil {
		return TransactionResponse{}, err
	}
	if amount.Sign() <= 0 {
		return TransactionResponse{}, model.NewValidationError("amount", req.Amount, "must be greater than 0")
	}

	intent := model.NewIntent(model.IntentAddCollateral, sess.Actor)
	intent.Amount = amount
	intent, err = s.funds.prepare(ctx, intent, amount)
	if err != nil {
		return TransactionResponse{}, err
	}
	return s.txs.Submit(ctx, intent)
}
