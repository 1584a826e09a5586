package service

import (
	"context"
	"math/big"

	"prima/internal/ledger"
	"prima/internal/logger"
	"prima/internal/model"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultHydrationLimit bounds concurrent getInvoice calls of one fetch.
const DefaultHydrationLimit = 8

// RegistryService aggregates the invoices an actor sees under a role. Fetches are read-only and
// may run concurrently.
type RegistryService interface {
	FetchForRole(ctx context.Context, role model.Role, actor model.Identity) ([]model.Invoice, error)
	GetInvoice(ctx context.Context, tokenID *big.Int) (model.Invoice, error)
}

type registryService struct {
	reader ledger.Reader
	limit  int
	log    zerolog.Logger
}

func NewRegistryService(reader ledger.Reader, hydrationLimit int) RegistryService {
	if hydrationLimit <= 0 {
		hydrationLimit = DefaultHydrationLimit
	}
	return &registryService{
		reader: reader,
		limit:  hydrationLimit,
		log:    logger.WithComponent("registry"),
	}
}

func (s *registryService) GetInvoice(ctx context.Context, tokenID *big.Int) (model.Invoice, error) {
	if tokenID == nil || tokenID.Sign() <= 0 {
		return model.Invoice{}, model.NewValidationError("token_id", tokenID, "must be a positive integer")
	}
	return s.reader.GetInvoice(ctx, tokenID)
}

func (s *registryService) FetchForRole(ctx context.Context, role model.Role, actor model.Identity) ([]model.Invoice, error) {
	switch {
	case role.Indexed():
		ids, err := s.reader.GetInvoiceIDs(ctx, role, actor)
		if err != nil {
			return nil, err
		}
		return s.hydrate(ctx, role, ids)
	case role == model.RoleMarketplace:
		return s.fetchMarketplace(ctx, actor)
	default:
		return nil, model.NewValidationError("role", string(role), "must be creditor, debtor, investor or marketplace")
	}
}

// fetchMarketplace lists invoices open to investment: every invoice that was ever accepted,
// still Accepted now, and not owed by or to actor.
func (s *registryService) fetchMarketplace(ctx context.Context, actor model.Identity) ([]model.Invoice, error) {
	accepted := model.StatusAccepted
	changes, err := s.reader.GetStatusChangeEvents(ctx, 0, nil, &accepted)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(changes))
	ids := make([]*big.Int, 0, len(changes))
	for _, c := range changes {
		key := c.TokenID.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		ids = append(ids, c.TokenID)
	}

	invoices, err := s.hydrate(ctx, model.RoleMarketplace, ids)
	if err != nil {
		return nil, err
	}

	open := invoices[:0]
	for _, inv := range invoices {
		if inv.Status != model.StatusAccepted {
			continue
		}
		if inv.Debtor.Identity.Equal(actor) || inv.Creditor.Identity.Equal(actor) {
			continue
		}
		open = append(open, inv)
	}
	return open, nil
}

// hydrate resolves every id or fails as a whole. Results keep the order of ids.
func (s *registryService) hydrate(ctx context.Context, role model.Role, ids []*big.Int) ([]model.Invoice, error) {
	out := make([]model.Invoice, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit)
	for i, id := range ids {
		g.Go(func() error {
			inv, err := s.reader.GetInvoice(gctx, id)
			if err != nil {
				return &model.HydrationError{Role: role, TokenID: id, Err: err}
			}
			out[i] = inv
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.log.Warn().Err(err).Str("role", string(role)).Int("ids", len(ids)).Msg("hydration failed")
		return nil, err
	}
	return out, nil
}
