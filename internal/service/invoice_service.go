package service

import (
	"context"
	"math/big"
	"strings"
	"time"
	"unicode/utf8"

	"prima/internal/ledger"
	"prima/internal/model"
)

// --- DTOs ---

type CompanyResponse struct {
	Address     string `json:"address"`
	CreditScore string `json:"credit_score"` // A..F
	CreditTier  int    `json:"credit_tier"`  // 0..5
}

type InvoiceResponse struct {
	TokenID        string           `json:"token_id"`
	ExternalID     string           `json:"id"`
	Activity       string           `json:"activity"`
	Country        string           `json:"country"`
	DueDate        string           `json:"due_date"`
	Amount         string           `json:"amount"`
	AmountToPay    string           `json:"amount_to_pay"`
	Collateral     string           `json:"collateral"`
	CollateralFlag string           `json:"collateral_flag"` // "+" when collateral was pledged
	Debtor         CompanyResponse  `json:"debtor"`
	Creditor       CompanyResponse  `json:"creditor"`
	Investor       *CompanyResponse `json:"investor,omitempty"`
	Status         string           `json:"status"`
	Actions        []Action         `json:"actions"`
}

type ViewResponse struct {
	Role       string                `json:"role"`
	Actor      string                `json:"actor"`
	Generation uint64                `json:"generation"`
	Invoices   []InvoiceResponse     `json:"invoices"`
	Total      int                   `json:"total"`
	Pending    []TransactionResponse `json:"pending"`
	Error      string                `json:"error,omitempty"`
	UpdatedAt  string                `json:"updated_at,omitempty"`
}

type GenerateInvoiceRequest struct {
	ExternalID          string `json:"id" binding:"required"`
	Activity            string `json:"activity" binding:"required"`
	Country             string `json:"country" binding:"required"`
	DueDate             string `json:"due_date" binding:"required"` // RFC 3339 or YYYY-MM-DD
	Amount              string `json:"amount" binding:"required"`
	AmountToPay         string `json:"amount_to_pay" binding:"required"`
	DebtorAddress       string `json:"debtor" binding:"required"`
	DebtorCreditScore   string `json:"debtor_credit_score" binding:"required"`
	CreditorCreditScore string `json:"creditor_credit_score" binding:"required"`
}

type AcceptInvoiceRequest struct {
	Collateral string `json:"collateral" binding:"required"`
}

type InvestInvoiceRequest struct {
	CreditScore string `json:"credit_score" binding:"required"`
}

// Minimum lengths of the generate form.
const (
	minExternalIDLen = 4
	minActivityLen   = 10
	minCountryLen    = 2
)

// --- Interface ---

type InvoiceService interface {
	// View returns the displayed list of role for the session's actor. A view seen for the
	// first time, or refresh=true, waits for a new fetch generation.
	View(ctx context.Context, sess model.Session, role model.Role, refresh bool) (ViewResponse, error)
	Get(ctx context.Context, sess model.Session, tokenID *big.Int) (InvoiceResponse, error)
	Actions(ctx context.Context, sess model.Session, tokenID *big.Int) ([]Action, error)
	VerifyBounds(ctx context.Context, sess model.Session, req VerifyBoundsRequest) (BoundsResponse, error)
	Generate(ctx context.Context, sess model.Session, req GenerateInvoiceRequest) (TransactionResponse, error)
	Accept(ctx context.Context, sess model.Session, tokenID *big.Int, req AcceptInvoiceRequest) (TransactionResponse, error)
	Invest(ctx context.Context, sess model.Session, tokenID *big.Int, req InvestInvoiceRequest) (TransactionResponse, error)
	Pay(ctx context.Context, sess model.Session, tokenID *big.Int) (TransactionResponse, error)
}

type invoiceService struct {
	registry RegistryService
	bounds   BoundsService
	txs      TransactionService
	views    *ViewRegistry
	funds    *fundsChecker
	now      func() time.Time
}

// NewInvoiceService wires the invoice flows. spender is the Prima contract, which Invest has to
// be allowed to pull amountToPay from the investor.
func NewInvoiceService(
	registry RegistryService,
	bounds BoundsService,
	reader ledger.Reader,
	txs TransactionService,
	views *ViewRegistry,
	spender model.Identity,
) InvoiceService {
	return &invoiceService{
		registry: registry,
		bounds:   bounds,
		txs:      txs,
		views:    views,
		funds:    &fundsChecker{reader: reader, spender: spender},
		now:      time.Now,
	}
}

func (s *invoiceService) View(ctx context.Context, sess model.Session, role model.Role, refresh bool) (ViewResponse, error) {
	rec, gen := s.views.View(role, sess.Actor)
	if gen == 0 && refresh {
		gen = rec.Refresh()
	}
	// mounted by another request whose first fetch has not settled yet
	if gen == 0 {
		if snap := rec.Snapshot(); snap.Generation == 0 && snap.Err == nil {
			gen = 1
		}
	}
	if gen != 0 {
		if err := rec.Await(ctx, gen); err != nil {
			return ViewResponse{}, err
		}
	}
	snap := rec.Snapshot()
	// nothing displayed yet: the failure is all there is to show
	if snap.Err != nil && snap.Generation == 0 {
		return ViewResponse{}, snap.Err
	}

	res := NewViewResponse(snap)
	pending, err := s.txs.Pending(ctx, sess.Actor)
	if err != nil {
		return ViewResponse{}, err
	}
	res.Pending = pending
	return res, nil
}

func (s *invoiceService) Get(ctx context.Context, sess model.Session, tokenID *big.Int) (InvoiceResponse, error) {
	inv, err := s.registry.GetInvoice(ctx, tokenID)
	if err != nil {
		return InvoiceResponse{}, err
	}
	return toInvoiceResponse(inv, sess.Actor), nil
}

func (s *invoiceService) Actions(ctx context.Context, sess model.Session, tokenID *big.Int) ([]Action, error) {
	inv, err := s.registry.GetInvoice(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	return ActionsAvailable(inv, sess.Actor).List(), nil
}

func (s *invoiceService) VerifyBounds(ctx context.Context, _ model.Session, req VerifyBoundsRequest) (BoundsResponse, error) {
	return s.bounds.Verify(ctx, req)
}

// Generate mints a new invoice with the session's actor as creditor. amountToPay is checked
// against freshly computed bounds before anything is written.
func (s *invoiceService) Generate(ctx context.Context, sess model.Session, req GenerateInvoiceRequest) (TransactionResponse, error) {
	params, err := s.parseInvoiceParams(sess.Actor, req)
	if err != nil {
		return TransactionResponse{}, err
	}

	bounds, err := s.bounds.ComputeBounds(ctx, params.Amount, params.Debtor.CreditTier)
	if err != nil {
		return TransactionResponse{}, err
	}
	if err := s.bounds.CheckAmountToPay(bounds, params.AmountToPay); err != nil {
		return TransactionResponse{}, err
	}

	intent := model.NewIntent(model.IntentGenerate, sess.Actor)
	intent.Invoice = &params
	return s.txs.Submit(ctx, intent)
}

func (s *invoiceService) parseInvoiceParams(creditor model.Identity, req GenerateInvoiceRequest) (model.InvoiceParams, error) {
	externalID := strings.TrimSpace(req.ExternalID)
	if utf8.RuneCountInString(externalID) < minExternalIDLen {
		return model.InvoiceParams{}, model.NewValidationError("id", req.ExternalID, "must be at least 4 characters")
	}
	activity := strings.TrimSpace(req.Activity)
	if utf8.RuneCountInString(activity) < minActivityLen {
		return model.InvoiceParams{}, model.NewValidationError("activity", req.Activity, "must be at least 10 characters")
	}
	country := strings.TrimSpace(req.Country)
	if utf8.RuneCountInString(country) < minCountryLen {
		return model.InvoiceParams{}, model.NewValidationError("country", req.Country, "must be at least 2 characters")
	}

	due, err := parseDueDate(req.DueDate)
	if err != nil {
		return model.InvoiceParams{}, err
	}
	if !due.After(s.now()) {
		return model.InvoiceParams{}, model.NewValidationError("due_date", req.DueDate, "must be in the future")
	}

	amount, err := model.ParseAmount("amount", req.Amount)
	if err != nil {
		return model.InvoiceParams{}, err
	}
	if amount.Cmp(model.WholeAmount(1)) < 0 {
		return model.InvoiceParams{}, model.NewValidationError("amount", req.Amount, "must be at least 1")
	}
	amountToPay, err := model.ParseAmount("amount_to_pay", req.AmountToPay)
	if err != nil {
		return model.InvoiceParams{}, err
	}
	if amountToPay.Cmp(model.WholeAmount(1)) < 0 {
		return model.InvoiceParams{}, model.NewValidationError("amount_to_pay", req.AmountToPay, "must be at least 1")
	}

	debtor, err := model.ParseIdentity(req.DebtorAddress)
	if err != nil {
		return model.InvoiceParams{}, err
	}
	if debtor.Equal(creditor) {
		return model.InvoiceParams{}, model.NewValidationError("debtor", req.DebtorAddress, "must differ from the creditor")
	}
	debtorTier, err := model.ParseCreditTier(req.DebtorCreditScore)
	if err != nil {
		return model.InvoiceParams{}, err
	}
	creditorTier, err := model.ParseCreditTier(req.CreditorCreditScore)
	if err != nil {
		return model.InvoiceParams{}, err
	}

	return model.InvoiceParams{
		ExternalID:  externalID,
		Activity:    activity,
		Country:     country,
		DueDate:     due,
		Amount:      amount,
		AmountToPay: amountToPay,
		Debtor:      model.Company{Identity: debtor, CreditTier: debtorTier},
		Creditor:    model.Company{Identity: creditor, CreditTier: creditorTier},
	}, nil
}

func parseDueDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, model.NewValidationError("due_date", raw, "must be RFC 3339 or YYYY-MM-DD")
}

func (s *invoiceService) gated(ctx context.Context, actor model.Identity, tokenID *big.Int, a Action) (model.Invoice, error) {
	inv, err := s.registry.GetInvoice(ctx, tokenID)
	if err != nil {
		return model.Invoice{}, err
	}
	if err := requireAction(inv, actor, a); err != nil {
		return model.Invoice{}, err
	}
	return inv, nil
}

func (s *invoiceService) Accept(ctx context.Context, sess model.Session, tokenID *big.Int, req AcceptInvoiceRequest) (TransactionResponse, error) {
	collateral, err := model.ParseAmount("collateral", req.Collateral)
	if err != nil {
		return TransactionResponse{}, err
	}
	if _, err := s.gated(ctx, sess.Actor, tokenID, ActionAccept); err != nil {
		return TransactionResponse{}, err
	}

	intent := model.NewIntent(model.IntentAccept, sess.Actor)
	intent.TokenID = tokenID
	intent.Amount = collateral
	return s.txs.Submit(ctx, intent)
}

// Invest finances an Accepted invoice: the investor pays amountToPay, so Prima needs an
// allowance for it first.
func (s *invoiceService) Invest(ctx context.Context, sess model.Session, tokenID *big.Int, req InvestInvoiceRequest) (TransactionResponse, error) {
	tier, err := model.ParseCreditTier(req.CreditScore)
	if err != nil {
		return TransactionResponse{}, err
	}
	inv, err := s.gated(ctx, sess.Actor, tokenID, ActionInvest)
	if err != nil {
		return TransactionResponse{}, err
	}

	intent := model.NewIntent(model.IntentInvest, sess.Actor)
	intent.TokenID = tokenID
	intent.Investor = model.Company{Identity: sess.Actor, CreditTier: tier}
	intent, err = s.funds.prepare(ctx, intent, inv.AmountToPay)
	if err != nil {
		return TransactionResponse{}, err
	}
	return s.txs.Submit(ctx, intent)
}

func (s *invoiceService) Pay(ctx context.Context, sess model.Session, tokenID *big.Int) (TransactionResponse, error) {
	if _, err := s.gated(ctx, sess.Actor, tokenID, ActionPay); err != nil {
		return TransactionResponse{}, err
	}
	intent := model.NewIntent(model.IntentPay, sess.Actor)
	intent.TokenID = tokenID
	return s.txs.Submit(ctx, intent)
}

// fundsChecker rejects unfunded spends and attaches an allowance grant when the current
// allowance does not already cover the amount.
type fundsChecker struct {
	reader  ledger.Reader
	spender model.Identity
}

func (f *fundsChecker) prepare(ctx context.Context, intent model.TransactionIntent, amount *big.Int) (model.TransactionIntent, error) {
	balance, err := f.reader.GetBalance(ctx, intent.Actor)
	if err != nil {
		return intent, err
	}
	if balance.Cmp(amount) < 0 {
		return intent, model.NewValidationError("balance", model.FormatAmount(balance),
			"insufficient PGT balance, "+model.FormatAmount(amount)+" needed")
	}
	allowance, err := f.reader.GetAllowance(ctx, intent.Actor, f.spender)
	if err != nil {
		return intent, err
	}
	if allowance.Cmp(amount) >= 0 {
		return intent, nil
	}
	return intent.WithAllowance(f.spender, amount), nil
}

// --- Mapping ---

func toCompanyResponse(c model.Company) CompanyResponse {
	return CompanyResponse{Address: c.Identity.String(), CreditScore: c.CreditTier.String(), CreditTier: int(c.CreditTier)}
}

func toInvoiceResponse(inv model.Invoice, actor model.Identity) InvoiceResponse {
	res := InvoiceResponse{
		TokenID:        inv.TokenID.String(),
		ExternalID:     inv.ExternalID,
		Activity:       inv.Activity,
		Country:        inv.Country,
		DueDate:        inv.DueDate.Format(time.RFC3339),
		Amount:         model.FormatAmount(inv.Amount),
		AmountToPay:    model.FormatAmount(inv.AmountToPay),
		Collateral:     model.FormatAmount(inv.Collateral),
		CollateralFlag: "-",
		Debtor:         toCompanyResponse(inv.Debtor),
		Creditor:       toCompanyResponse(inv.Creditor),
		Status:         inv.Status.String(),
		Actions:        ActionsAvailable(inv, actor).List(),
	}
	if inv.HasCollateral() {
		res.CollateralFlag = "+"
	}
	if !inv.Investor.Identity.IsZero() {
		investor := toCompanyResponse(inv.Investor)
		res.Investor = &investor
	}
	return res
}

// NewViewResponse renders a snapshot for its own actor.
func NewViewResponse(snap ViewSnapshot) ViewResponse {
	res := ViewResponse{
		Role:       string(snap.Key.Role),
		Actor:      snap.Key.Actor.String(),
		Generation: snap.Generation,
		Invoices:   make([]InvoiceResponse, 0, len(snap.Invoices)),
		Total:      len(snap.Invoices),
		Pending:    []TransactionResponse{},
	}
	for _, inv := range snap.Invoices {
		res.Invoices = append(res.Invoices, toInvoiceResponse(inv, snap.Key.Actor))
	}
	if snap.Err != nil {
		res.Error = snap.Err.Error()
	}
	if !snap.UpdatedAt.IsZero() {
		res.UpdatedAt = snap.UpdatedAt.Format(time.RFC3339)
	}
	return res
}
