package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"prima/internal/config"
	"prima/internal/ledger"
	"prima/internal/logger"
	"prima/internal/metrics"
	"prima/internal/model"
	"prima/internal/repository"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// --- DTOs ---

type TransactionResponse struct {
	ID            string `json:"id"`
	Kind          string `json:"kind"`
	Actor         string `json:"actor"`
	TokenID       string `json:"token_id,omitempty"`
	AllowanceHash string `json:"allowance_hash,omitempty"`
	TxHash        string `json:"tx_hash,omitempty"`
	Phase         string `json:"phase"`
	Reason        string `json:"reason,omitempty"`
	ResultTokenID string `json:"result_token_id,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

func toTransactionResponse(r model.TransactionRecord) TransactionResponse {
	return TransactionResponse{
		ID:            r.ID.String(),
		Kind:          r.Kind,
		Actor:         r.Actor,
		TokenID:       r.TokenID,
		AllowanceHash: r.AllowanceHash,
		TxHash:        r.TxHash,
		Phase:         r.Phase,
		Reason:        r.Reason,
		ResultTokenID: r.ResultTokenID,
		CreatedAt:     r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     r.UpdatedAt.Format(time.RFC3339),
	}
}

// Publisher pushes a message to the live connections of one actor.
type Publisher interface {
	Publish(actor string, kind string, payload interface{})
}

// Push message kinds.
const (
	PushTransaction = "transaction"
	PushView        = "view"
)

// --- Interface ---

// TransactionService submits intents through one Orchestrator per actor and journals them.
type TransactionService interface {
	Submit(ctx context.Context, intent model.TransactionIntent) (TransactionResponse, error)
	List(ctx context.Context, actor model.Identity, page, limit int) ([]TransactionResponse, int64, error)
	Get(ctx context.Context, actor model.Identity, id uuid.UUID) (TransactionResponse, error)
	Pending(ctx context.Context, actor model.Identity) ([]TransactionResponse, error)
}

type transactionService struct {
	writer    ledger.Writer
	mode      config.ApprovalMode
	txRepo    repository.TransactionRepository
	auditRepo repository.AuditRepository
	txManager repository.TransactionManager
	views     *ViewRegistry
	publisher Publisher
	metrics   *metrics.Metrics
	log       zerolog.Logger

	mu            sync.Mutex
	orchestrators map[common.Address]*Orchestrator
}

func NewTransactionService(
	writer ledger.Writer,
	mode config.ApprovalMode,
	txRepo repository.TransactionRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	views *ViewRegistry,
	publisher Publisher,
	m *metrics.Metrics,
) TransactionService {
	return &transactionService{
		writer:        writer,
		mode:          mode,
		txRepo:        txRepo,
		auditRepo:     auditRepo,
		txManager:     txManager,
		views:         views,
		publisher:     publisher,
		metrics:       m,
		log:           logger.WithComponent("transactions"),
		orchestrators: make(map[common.Address]*Orchestrator),
	}
}

func (s *transactionService) orchestrator(actor model.Identity) *Orchestrator {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orchestrators[actor.Address()]
	if !ok {
		o = NewOrchestrator(s.writer, s.mode, s.metrics)
		s.orchestrators[actor.Address()] = o
	}
	return o
}

func (s *transactionService) Submit(ctx context.Context, intent model.TransactionIntent) (TransactionResponse, error) {
	rec := &model.TransactionRecord{
		ID:    intent.ID,
		Kind:  string(intent.Kind),
		Actor: intent.Actor.String(),
		Phase: string(model.PhaseIdle),
	}
	if intent.TokenID != nil {
		rec.TokenID = intent.TokenID.String()
	}

	// The journal row is written after Submit returns; callbacks wait for it.
	journaled := make(chan struct{})
	orch := s.orchestrator(intent.Actor)
	hash, err := orch.Submit(ctx, intent, Callbacks{
		OnConfirmed: func(r ledger.Receipt) {
			<-journaled
			s.settle(rec, model.PhaseConfirmed, r, nil)
		},
		OnFailed: func(err error) {
			<-journaled
			s.settle(rec, model.PhaseFailed, ledger.Receipt{}, err)
		},
	})
	if err != nil {
		if errors.Is(err, model.ErrOrchestratorBusy) {
			return TransactionResponse{}, err
		}
		rec.Phase = string(model.PhaseFailed)
		rec.Reason = reasonOf(err)
		// the grant may already be on the ledger even though the action never went out
		if allowance := orch.AllowanceHash(); allowance != (common.Hash{}) {
			rec.AllowanceHash = allowance.Hex()
		}
		if jerr := s.journal(ctx, rec, model.ActionFailIntent, intent); jerr != nil {
			s.log.Error().Err(jerr).Str("intent", rec.ID.String()).Msg("failed to journal rejected intent")
		}
		return TransactionResponse{}, err
	}

	rec.Phase = string(model.PhaseSubmitted)
	rec.TxHash = hash.Hex()
	if allowance := orch.AllowanceHash(); allowance != (common.Hash{}) {
		rec.AllowanceHash = allowance.Hex()
	}
	if jerr := s.journal(ctx, rec, model.ActionSubmitIntent, intent); jerr != nil {
		// the transaction is on its way regardless; only the overlay misses it
		s.log.Error().Err(jerr).Str("intent", rec.ID.String()).Msg("failed to journal submitted intent")
	}
	res := toTransactionResponse(*rec)
	close(journaled)

	s.push(intent.Actor, res)
	return res, nil
}

func (s *transactionService) journal(ctx context.Context, rec *model.TransactionRecord, action string, intent model.TransactionIntent) error {
	details := map[string]interface{}{
		"kind":    rec.Kind,
		"tx_hash": rec.TxHash,
	}
	if rec.TokenID != "" {
		details["token_id"] = rec.TokenID
	}
	if intent.Amount != nil {
		details["amount"] = model.FormatAmount(intent.Amount)
	}
	if intent.DependsOn != nil {
		details["allowance"] = model.FormatAmount(intent.DependsOn.Amount)
		details["allowance_hash"] = rec.AllowanceHash
	}
	if rec.Reason != "" {
		details["reason"] = rec.Reason
	}

	now := time.Now()
	rec.CreatedAt, rec.UpdatedAt = now, now
	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.txRepo.Create(txCtx, rec); err != nil {
			return err
		}
		return s.audit(txCtx, rec, action, details)
	})
}

func (s *transactionService) audit(ctx context.Context, rec *model.TransactionRecord, action string, details map[string]interface{}) error {
	raw, err := json.Marshal(details)
	if err != nil {
		return err
	}
	return s.auditRepo.Log(ctx, &model.AuditLog{
		ID:         uuid.New(),
		Actor:      rec.Actor,
		Action:     action,
		EntityID:   rec.ID.String(),
		EntityName: rec.Kind,
		Details:    string(raw),
		CreatedAt:  time.Now(),
	})
}

// settle records the outcome of a submitted intent and refreshes the actor's views.
func (s *transactionService) settle(rec *model.TransactionRecord, phase model.TxPhase, receipt ledger.Receipt, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	updated := *rec
	updated.Phase = string(phase)
	updated.UpdatedAt = time.Now()
	action := model.ActionConfirmIntent
	details := map[string]interface{}{"kind": updated.Kind, "tx_hash": updated.TxHash}
	if cause != nil {
		updated.Reason = reasonOf(cause)
		action = model.ActionFailIntent
		details["reason"] = updated.Reason
	} else {
		details["block"] = receipt.BlockNumber
		if receipt.TokenID != nil {
			updated.ResultTokenID = receipt.TokenID.String()
			details["result_token_id"] = updated.ResultTokenID
		}
	}

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.txRepo.Update(txCtx, &updated); err != nil {
			return err
		}
		return s.audit(txCtx, &updated, action, details)
	})
	if err != nil {
		s.log.Error().Err(err).Str("intent", updated.ID.String()).Str("phase", string(phase)).Msg("failed to journal outcome")
	}

	actor := model.MustIdentity(updated.Actor)
	if phase == model.PhaseConfirmed && s.views != nil {
		s.views.RefreshActor(actor)
	}
	s.push(actor, toTransactionResponse(updated))
}

func (s *transactionService) push(actor model.Identity, res TransactionResponse) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(actor.String(), PushTransaction, res)
}

func (s *transactionService) List(ctx context.Context, actor model.Identity, page, limit int) ([]TransactionResponse, int64, error) {
	recs, total, err := s.txRepo.ListByActor(ctx, actor.String(), page, limit)
	if err != nil {
		return nil, 0, err
	}
	res := make([]TransactionResponse, 0, len(recs))
	for _, r := range recs {
		res = append(res, toTransactionResponse(r))
	}
	return res, total, nil
}

func (s *transactionService) Get(ctx context.Context, actor model.Identity, id uuid.UUID) (TransactionResponse, error) {
	rec, err := s.txRepo.FindByID(ctx, id)
	if err != nil {
		return TransactionResponse{}, err
	}
	if !model.MustIdentity(rec.Actor).Equal(actor) {
		return TransactionResponse{}, repository.ErrRecordNotFound
	}
	return toTransactionResponse(*rec), nil
}

func (s *transactionService) Pending(ctx context.Context, actor model.Identity) ([]TransactionResponse, error) {
	recs, err := s.txRepo.Pending(ctx, actor.String())
	if err != nil {
		return nil, err
	}
	res := make([]TransactionResponse, 0, len(recs))
	for _, r := range recs {
		res = append(res, toTransactionResponse(r))
	}
	return res, nil
}
