package service

import (
	"context"
	"errors"
	"sync"

	"prima/internal/config"
	"prima/internal/ledger"
	"prima/internal/logger"
	"prima/internal/metrics"
	"prima/internal/model"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// Callbacks are invoked from the confirmation goroutine, at most one of them per submission.
type Callbacks struct {
	OnConfirmed func(ledger.Receipt)
	OnFailed    func(error)
}

// Orchestrator sequences one intent, including its allowance grant, and tracks the primary
// transaction to confirmation. It holds at most one outstanding primary transaction.
type Orchestrator struct {
	writer  ledger.Writer
	mode    config.ApprovalMode
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu            sync.Mutex
	busy          bool
	state         model.TransactionState
	intent        *model.TransactionIntent
	allowanceHash common.Hash
	receipt       ledger.Receipt
	lastErr       error
	done          chan struct{}
}

func NewOrchestrator(writer ledger.Writer, mode config.ApprovalMode, m *metrics.Metrics) *Orchestrator {
	if mode == "" {
		mode = config.ApprovalAwait
	}
	done := make(chan struct{})
	close(done)
	return &Orchestrator{
		writer:  writer,
		mode:    mode,
		metrics: m,
		log:     logger.WithComponent("orchestrator"),
		state:   model.IdleState(),
		done:    done,
	}
}

// Submit sends intent.DependsOn (the allowance grant) and then the intent itself, and returns
// the primary hash once it is submitted. In await mode the allowance must confirm first. The
// primary transaction is then tracked on a goroutine detached from ctx's cancellation.
//
// Failures before the primary submission leave the state Idle with Err set.
func (o *Orchestrator) Submit(ctx context.Context, intent model.TransactionIntent, cb Callbacks) (common.Hash, error) {
	o.mu.Lock()
	if o.busy {
		o.mu.Unlock()
		return common.Hash{}, model.ErrOrchestratorBusy
	}
	done := make(chan struct{})
	o.busy = true
	o.state = model.IdleState()
	o.intent = &intent
	o.allowanceHash = common.Hash{}
	o.receipt = ledger.Receipt{}
	o.lastErr = nil
	o.done = done
	o.mu.Unlock()

	log := o.log.With().Str("intent", intent.ID.String()).Str("kind", string(intent.Kind)).Str("actor", intent.Actor.String()).Logger()

	if dep := intent.DependsOn; dep != nil {
		hash, err := o.send(ctx, *dep)
		if err != nil {
			return common.Hash{}, o.abort(done, intent.Kind, err)
		}
		o.mu.Lock()
		o.allowanceHash = hash
		o.mu.Unlock()
		log.Info().Str("allowance_hash", hash.Hex()).Str("mode", string(o.mode)).Msg("allowance submitted")

		if o.mode == config.ApprovalAwait {
			if _, err := o.writer.WaitConfirmed(ctx, hash); err != nil {
				return common.Hash{}, o.abort(done, intent.Kind, err)
			}
		}
	}

	hash, err := o.send(ctx, intent)
	if err != nil {
		return common.Hash{}, o.abort(done, intent.Kind, err)
	}

	o.mu.Lock()
	o.state, _ = o.state.Next(model.PhaseSubmitted, hash, "")
	o.mu.Unlock()
	o.metrics.Transaction(string(intent.Kind), string(model.PhaseSubmitted))
	log.Info().Str("tx_hash", hash.Hex()).Msg("transaction submitted")

	go o.track(context.WithoutCancel(ctx), done, intent.Kind, hash, cb, log)
	return hash, nil
}

func (o *Orchestrator) track(ctx context.Context, done chan struct{}, kind model.IntentKind, hash common.Hash, cb Callbacks, log zerolog.Logger) {
	defer close(done)

	receipt, err := o.writer.WaitConfirmed(ctx, hash)

	o.mu.Lock()
	if err != nil {
		o.state, _ = o.state.Next(model.PhaseFailed, hash, reasonOf(err))
		o.lastErr = err
	} else {
		o.state, _ = o.state.Next(model.PhaseConfirmed, hash, "")
		o.receipt = receipt
	}
	phase := o.state.Phase
	o.busy = false
	o.mu.Unlock()

	o.metrics.Transaction(string(kind), string(phase))
	if err != nil {
		log.Warn().Err(err).Str("tx_hash", hash.Hex()).Msg("transaction failed")
		if cb.OnFailed != nil {
			cb.OnFailed(err)
		}
		return
	}
	log.Info().Str("tx_hash", hash.Hex()).Uint64("block", receipt.BlockNumber).Msg("transaction confirmed")
	if cb.OnConfirmed != nil {
		cb.OnConfirmed(receipt)
	}
}

func (o *Orchestrator) abort(done chan struct{}, kind model.IntentKind, err error) error {
	o.mu.Lock()
	o.lastErr = err
	o.busy = false
	o.mu.Unlock()
	close(done)
	o.log.Warn().Err(err).Str("kind", string(kind)).Msg("intent not submitted")
	return err
}

func (o *Orchestrator) send(ctx context.Context, intent model.TransactionIntent) (common.Hash, error) {
	actor := intent.Actor
	switch intent.Kind {
	case model.IntentApprove:
		return o.writer.ApproveAllowance(ctx, actor, intent.Spender, intent.Amount)
	case model.IntentGenerate:
		if intent.Invoice == nil {
			return common.Hash{}, model.NewValidationError("invoice", nil, "invoice parameters are required")
		}
		return o.writer.GenerateInvoice(ctx, actor, *intent.Invoice)
	case model.IntentAccept:
		return o.writer.AcceptInvoice(ctx, actor, intent.TokenID, intent.Amount)
	case model.IntentInvest:
		return o.writer.InvestInvoice(ctx, actor, intent.TokenID, intent.Investor)
	case model.IntentAddCollateral:
		return o.writer.AddCollateral(ctx, actor, intent.Amount)
	case model.IntentPay:
		return o.writer.PayInvoice(ctx, actor, intent.TokenID)
	}
	return common.Hash{}, model.NewValidationError("kind", string(intent.Kind), "unknown intent kind")
}

func reasonOf(err error) string {
	var reverted *model.TransactionRevertedError
	if errors.As(err, &reverted) {
		return reverted.Reason
	}
	return err.Error()
}

func (o *Orchestrator) State() model.TransactionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Err is the last error of the current or previous submission.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.busy
}

func (o *Orchestrator) AllowanceHash() common.Hash {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.allowanceHash
}

func (o *Orchestrator) Receipt() ledger.Receipt {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.receipt
}

// Done is closed when the latest submission settles, including its callback.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}
