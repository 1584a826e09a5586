package service

import (
	"context"
	"time"

	"prima/internal/model"
	"prima/internal/repository"
)

type StatisticsService interface {
	GetStatistics(ctx context.Context, actor model.Identity, startDate, endDate time.Time) (model.ActivityStatistics, error)
}

type statisticsService struct {
	txRepo repository.TransactionRepository
}

func NewStatisticsService(txRepo repository.TransactionRepository) StatisticsService {
	return &statisticsService{txRepo: txRepo}
}

// GetStatistics totals the actor's journaled transactions created inside the time bracket
func (s *statisticsService) GetStatistics(ctx context.Context, actor model.Identity, startDate, endDate time.Time) (model.ActivityStatistics, error) {
	if endDate.Before(startDate) {
		return model.ActivityStatistics{}, model.NewValidationError("end_date", endDate.Format(time.RFC3339), "must not be before start_date")
	}

	counts, err := s.txRepo.CountByKindPhase(ctx, actor.String(), startDate, endDate)
	if err != nil {
		return model.ActivityStatistics{}, err
	}

	stats := model.ActivityStatistics{
		ByKind:             counts,
		TimeRangeStartDate: startDate,
		TimeRangeEndDate:   endDate,
	}
	for _, c := range counts {
		stats.TotalTransactions += c.Total
		switch model.TxPhase(c.Phase) {
		case model.PhaseConfirmed:
			stats.Confirmed += c.Total
			if c.Kind == string(model.IntentGenerate) {
				stats.MintedInvoices += c.Total
			}
		case model.PhaseFailed:
			stats.Failed += c.Total
		case model.PhaseSubmitted:
			stats.Pending += c.Total
		}
	}
	return stats, nil
}
