package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// RunInTx executes fn as one atomic unit: every statement fn issues through tx
// commits together or not at all. A positive timeout bounds the whole unit,
// including time spent waiting on row locks; on expiry the database rolls back and
// the returned error matches context.DeadlineExceeded. fn must use the ctx it is
// given.
func RunInTx(ctx context.Context, db *gorm.DB, timeout time.Duration, fn func(ctx context.Context, tx *gorm.DB) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, tx)
	})
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return errors.Join(err, ctxErr)
	}
	return err
}

// lockingSupported reports whether the dialect understands SELECT ... FOR UPDATE.
// SQLite has no row locks; its writers are serialized by the single connection.
func lockingSupported(db *gorm.DB) bool {
	return db.Dialector.Name() != "sqlite"
}
