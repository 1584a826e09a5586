package service

import (
	"context"
	"sync"
	"time"

	"prima/internal/logger"
	"prima/internal/metrics"
	"prima/internal/model"

	"github.com/rs/zerolog"
)

// ViewKey identifies one displayed list: a role as seen by an actor.
type ViewKey struct {
	Role  model.Role
	Actor model.Identity
}

// ViewSnapshot is a copy of a reconciler's displayed state.
type ViewSnapshot struct {
	Key        ViewKey
	Generation uint64 // generation of the displayed list, 0 before the first successful fetch
	Invoices   []model.Invoice
	// Err is the error of the latest settled fetch when it failed; Invoices is then the list
	// displayed before it.
	Err       error
	UpdatedAt time.Time
}

// Reconciler owns the displayed invoice list of one view. Every refresh starts a fetch tagged
// with the next generation; a result is applied only if no newer generation has settled yet.
type Reconciler struct {
	key       ViewKey
	registry  RegistryService
	ctx       context.Context
	metrics   *metrics.Metrics
	onApplied func(ViewSnapshot)
	log       zerolog.Logger

	mu        sync.Mutex
	next      uint64 // last generation started
	high      uint64 // highest generation settled, applied or failed
	applied   uint64
	inflight  map[uint64]struct{}
	invoices  []model.Invoice
	lastErr   error
	updatedAt time.Time
	notify    chan struct{}
	dirty     bool // a trigger arrived while a fetch was in flight
	lastRead  time.Time
}

// NewReconciler creates a view; ctx bounds every fetch it will start. onApplied, when set, is
// called after each applied generation.
func NewReconciler(ctx context.Context, key ViewKey, registry RegistryService, m *metrics.Metrics, onApplied func(ViewSnapshot)) *Reconciler {
	return &Reconciler{
		key:       key,
		registry:  registry,
		ctx:       ctx,
		metrics:   m,
		onApplied: onApplied,
		log:       logger.WithComponent("reconciler").With().Str("role", string(key.Role)).Str("actor", key.Actor.String()).Logger(),
		inflight:  make(map[uint64]struct{}),
		notify:    make(chan struct{}),
		lastRead:  time.Now(),
	}
}

func (r *Reconciler) Key() ViewKey { return r.key }

// Refresh starts a new fetch generation and returns its number without waiting for it.
func (r *Reconciler) Refresh() uint64 {
	r.mu.Lock()
	gen := r.startLocked()
	// this generation starts after any pending trigger
	r.dirty = false
	r.mu.Unlock()

	go r.fetch(gen)
	return gen
}

// RefreshIfIdle starts a generation unless one is in flight. A skipped trigger is remembered and
// runs once the in-flight fetches settle, so a view never has more than one triggered fetch queued.
func (r *Reconciler) RefreshIfIdle() (gen uint64, started bool) {
	r.mu.Lock()
	if len(r.inflight) > 0 {
		r.dirty = true
		r.mu.Unlock()
		return 0, false
	}
	gen = r.startLocked()
	r.mu.Unlock()

	go r.fetch(gen)
	return gen, true
}

func (r *Reconciler) startLocked() uint64 {
	r.next++
	r.inflight[r.next] = struct{}{}
	return r.next
}

func (r *Reconciler) fetch(gen uint64) {
	invoices, err := r.registry.FetchForRole(r.ctx, r.key.Role, r.key.Actor)
	r.resolve(gen, invoices, err)
}

func (r *Reconciler) resolve(gen uint64, invoices []model.Invoice, err error) {
	r.mu.Lock()
	delete(r.inflight, gen)
	var outcome string
	switch {
	case gen < r.high:
		outcome = "stale"
	case err != nil:
		outcome = "failed"
		r.high = gen
		r.lastErr = err
	default:
		outcome = "applied"
		r.high = gen
		r.applied = gen
		r.invoices = invoices
		r.lastErr = nil
		r.updatedAt = time.Now()
	}
	close(r.notify)
	r.notify = make(chan struct{})
	snap := r.snapshotLocked()
	var followUp uint64
	if r.dirty && len(r.inflight) == 0 && r.ctx.Err() == nil {
		r.dirty = false
		followUp = r.startLocked()
	}
	r.mu.Unlock()

	if followUp != 0 {
		go r.fetch(followUp)
	}

	r.metrics.Fetch(string(r.key.Role), outcome)
	switch outcome {
	case "stale":
		r.log.Debug().Uint64("generation", gen).Uint64("settled", snap.Generation).Msg("discarded stale fetch")
	case "failed":
		r.log.Warn().Err(err).Uint64("generation", gen).Msg("fetch failed, keeping displayed list")
	default:
		r.metrics.Generation(string(r.key.Role), gen)
		r.log.Debug().Uint64("generation", gen).Int("invoices", len(invoices)).Msg("applied fetch")
		if r.onApplied != nil {
			r.onApplied(snap)
		}
	}
}

// Await blocks until generation gen has settled or ctx is done.
func (r *Reconciler) Await(ctx context.Context, gen uint64) error {
	for {
		r.mu.Lock()
		_, pending := r.inflight[gen]
		settled := gen <= r.next && !pending
		ch := r.notify
		r.mu.Unlock()
		if settled {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Reconciler) touch(now time.Time) {
	r.mu.Lock()
	r.lastRead = now
	r.mu.Unlock()
}

// idleSince reports whether the view was last read before cutoff and has nothing in flight.
func (r *Reconciler) idleSince(cutoff time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight) == 0 && r.lastRead.Before(cutoff)
}

// InFlight is the number of fetches currently running.
func (r *Reconciler) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}

func (r *Reconciler) Snapshot() ViewSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Reconciler) snapshotLocked() ViewSnapshot {
	return ViewSnapshot{
		Key:        r.key,
		Generation: r.applied,
		Invoices:   append([]model.Invoice(nil), r.invoices...),
		Err:        r.lastErr,
		UpdatedAt:  r.updatedAt,
	}
}

// Generation is the last generation started.
func (r *Reconciler) Generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next
}
