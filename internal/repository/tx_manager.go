package repository

import (
	"context"

	"prima/internal/logger"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type txKey struct{}

// TransactionManager makes a journal row and its audit entries commit together. A call made
// while ctx already carries a transaction joins it.
type TransactionManager interface {
	RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

type transactionManager struct {
	db  *gorm.DB
	log zerolog.Logger
}

func NewTransactionManager(db *gorm.DB) TransactionManager {
	return &transactionManager{db: db, log: logger.WithComponent("repository")}
}

func (t *transactionManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
	if err != nil {
		t.log.Debug().Err(err).Msg("journal transaction rolled back")
	}
	return err
}

// GetDB returns the transaction RunInTx bound to ctx, or rootDB outside of one.
func GetDB(ctx context.Context, rootDB *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return rootDB.WithContext(ctx)
}
