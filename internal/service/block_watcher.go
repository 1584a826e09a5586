package service

import (
	"context"
	"errors"
	"time"

	"prima/internal/ledger"
	"prima/internal/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// BlockWatcher refreshes every mounted view when the ledger produces a block.
type BlockWatcher struct {
	heads ledger.HeadSource
	views *ViewRegistry
	log   zerolog.Logger
}

func NewBlockWatcher(heads ledger.HeadSource, views *ViewRegistry) *BlockWatcher {
	return &BlockWatcher{heads: heads, views: views, log: logger.WithComponent("block_watcher")}
}

// Run blocks until ctx is done, resubscribing with backoff when the head subscription drops.
func (w *BlockWatcher) Run(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0

	return backoff.RetryNotify(func() error {
		err := w.watch(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(policy, ctx), func(err error, next time.Duration) {
		w.log.Warn().Err(err).Dur("retry_in", next).Msg("head subscription lost")
	})
}

func (w *BlockWatcher) watch(ctx context.Context) error {
	heads := make(chan uint64, 16)
	errc := make(chan error, 1)
	go func() { errc <- w.heads.WatchHeads(ctx, heads) }()

	for {
		select {
		case err := <-errc:
			return err
		case n := <-heads:
			count := w.views.RefreshAll()
			w.log.Debug().Uint64("block", n).Int("views", count).Msg("new block")
		}
	}
}
