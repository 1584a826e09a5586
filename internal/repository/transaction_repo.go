package repository

import (
	"context"
	"errors"
	"time"

	"prima/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrRecordNotFound is returned when a journal row does not exist.
var ErrRecordNotFound = errors.New("transaction record not found")

// TransactionRepository is the journal of submitted intents. Rows still in SUBMITTED phase form
// the pending overlay shown next to the ledger's own state.
type TransactionRepository interface {
	Create(ctx context.Context, rec *model.TransactionRecord) error
	Update(ctx context.Context, rec *model.TransactionRecord) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.TransactionRecord, error)
	ListByActor(ctx context.Context, actor string, page, limit int) ([]model.TransactionRecord, int64, error)
	Pending(ctx context.Context, actor string) ([]model.TransactionRecord, error)
	// FailStale marks every SUBMITTED row as FAILED; used on startup since nothing tracks them anymore.
	FailStale(ctx context.Context, reason string) (int64, error)
	// CountByKindPhase groups the actor's rows created in [start, end] by kind and phase.
	CountByKindPhase(ctx context.Context, actor string, start, end time.Time) ([]model.KindCount, error)
}

type transactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) Create(ctx context.Context, rec *model.TransactionRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	return GetDB(ctx, r.db).Create(rec).Error
}

func (r *transactionRepository) Update(ctx context.Context, rec *model.TransactionRecord) error {
	return GetDB(ctx, r.db).Save(rec).Error
}

func (r *transactionRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.TransactionRecord, error) {
	var rec model.TransactionRecord
	if err := GetDB(ctx, r.db).Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *transactionRepository) ListByActor(ctx context.Context, actor string, page, limit int) ([]model.TransactionRecord, int64, error) {
	var recs []model.TransactionRecord
	var total int64

	db := GetDB(ctx, r.db).Model(&model.TransactionRecord{}).Where("actor = ?", actor)
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := db.Order("created_at desc").Offset(offset).Limit(limit).Find(&recs).Error; err != nil {
		return nil, 0, err
	}
	return recs, total, nil
}

func (r *transactionRepository) Pending(ctx context.Context, actor string) ([]model.TransactionRecord, error) {
	var recs []model.TransactionRecord
	err := GetDB(ctx, r.db).
		Where("actor = ? AND phase = ?", actor, string(model.PhaseSubmitted)).
		Order("created_at asc").
		Find(&recs).Error
	return recs, err
}

func (r *transactionRepository) FailStale(ctx context.Context, reason string) (int64, error) {
	res := GetDB(ctx, r.db).Model(&model.TransactionRecord{}).
		Where("phase IN ?", []string{string(model.PhaseSubmitted), string(model.PhaseIdle)}).
		Updates(map[string]interface{}{"phase": string(model.PhaseFailed), "reason": reason})
	return res.RowsAffected, res.Error
}

func (r *transactionRepository) CountByKindPhase(ctx context.Context, actor string, start, end time.Time) ([]model.KindCount, error) {
	var counts []model.KindCount
	err := GetDB(ctx, r.db).Model(&model.TransactionRecord{}).
		Select("kind, phase, COUNT(*) as total").
		Where("actor = ? AND created_at >= ? AND created_at <= ?", actor, start, end).
		Group("kind, phase").
		Order("kind, phase").
		Scan(&counts).Error
	return counts, err
}
