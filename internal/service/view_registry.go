package service

import (
	"context"
	"sync"
	"time"

	"prima/internal/metrics"
	"prima/internal/model"
)

// DefaultViewIdleTTL is how long a view keeps refreshing on new blocks without being read.
const DefaultViewIdleTTL = 15 * time.Minute

// ViewRegistry keeps one Reconciler per (role, actor) and fans refresh triggers out to them.
type ViewRegistry struct {
	ctx      context.Context
	registry RegistryService
	metrics  *metrics.Metrics
	publish  func(ViewSnapshot)
	idleTTL  time.Duration
	now      func() time.Time

	mu    sync.Mutex
	views map[ViewKey]*Reconciler
}

// NewViewRegistry creates an empty registry. ctx is the lifetime of every fetch; publish, when
// set, receives each applied view.
func NewViewRegistry(ctx context.Context, registry RegistryService, m *metrics.Metrics, publish func(ViewSnapshot)) *ViewRegistry {
	return &ViewRegistry{
		ctx:      ctx,
		registry: registry,
		metrics:  m,
		publish:  publish,
		idleTTL:  DefaultViewIdleTTL,
		now:      time.Now,
		views:    make(map[ViewKey]*Reconciler),
	}
}

// SetIdleTTL changes how long an unread view survives. Zero or less keeps the default.
func (v *ViewRegistry) SetIdleTTL(ttl time.Duration) {
	if ttl > 0 {
		v.idleTTL = ttl
	}
}

// View returns the reconciler for role as seen by actor. A new view is mounted with its first
// fetch started; mountGen is that generation, or 0 for an existing view.
func (v *ViewRegistry) View(role model.Role, actor model.Identity) (rec *Reconciler, mountGen uint64) {
	key := ViewKey{Role: role, Actor: actor}
	v.mu.Lock()
	rec, ok := v.views[key]
	if !ok {
		rec = NewReconciler(v.ctx, key, v.registry, v.metrics, v.publish)
		v.views[key] = rec
	}
	v.mu.Unlock()
	rec.touch(v.now())

	if ok {
		return rec, 0
	}
	return rec, rec.Refresh()
}

// RefreshActor starts a new generation on every view of actor.
func (v *ViewRegistry) RefreshActor(actor model.Identity) map[ViewKey]uint64 {
	started := make(map[ViewKey]uint64)
	for _, rec := range v.list() {
		if rec.key.Actor.Equal(actor) {
			started[rec.key] = rec.Refresh()
		}
	}
	return started
}

// RefreshAll drops views nobody read within the idle TTL, then triggers a refresh on every other
// one. A view with a fetch still in flight refreshes once that fetch settles.
func (v *ViewRegistry) RefreshAll() int {
	v.evictIdle()
	views := v.list()
	for _, rec := range views {
		rec.RefreshIfIdle()
	}
	return len(views)
}

func (v *ViewRegistry) evictIdle() {
	cutoff := v.now().Add(-v.idleTTL)
	v.mu.Lock()
	defer v.mu.Unlock()
	for key, rec := range v.views {
		if rec.idleSince(cutoff) {
			delete(v.views, key)
		}
	}
}

func (v *ViewRegistry) list() []*Reconciler {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]*Reconciler, 0, len(v.views))
	for _, rec := range v.views {
		out = append(out, rec)
	}
	return out
}
