package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type contextKey string

const txKey contextKey = "gorm_tx"

// TransactionManager manages database transactions via context injection.
type TransactionManager interface {
	RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error
	// LockUser takes a transaction-scoped advisory lock keyed on the user's
	// auth identity. Serializes concurrent reconciliations for the same user;
	// reconciliations for different users proceed in parallel. Must be called
	// inside RunInTx.
	LockUser(ctx context.Context, authID uuid.UUID) error
}

type transactionManager struct {
	db *gorm.DB
}

func NewTransactionManager(db *gorm.DB) TransactionManager {
	return &transactionManager{db: db}
}

func (t *transactionManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txCtx := context.WithValue(ctx, txKey, tx)
		return fn(txCtx)
	})
}

func (t *transactionManager) LockUser(ctx context.Context, authID uuid.UUID) error {
	// Released automatically at transaction end
	return GetDB(ctx, t.db).Exec(
		"SELECT pg_advisory_xact_lock(hashtext(?))",
		"reconcile:"+authID.String(),
	).Error
}

// GetDB extracts the transaction DB from context if present, otherwise returns root DB.
func GetDB(ctx context.Context, rootDB *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return rootDB.WithContext(ctx)
}
