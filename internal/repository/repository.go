package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/unclebandit/newsletter-backend/internal/db"
)

// inTx runs fn in a transaction when q is a *sql.DB, or directly on q when
// the caller already holds a transaction.
func inTx(ctx context.Context, q db.Querier, fn func(q db.Querier) error) error {
	conn, ok := q.(*sql.DB)
	if !ok {
		return fn(q)
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
