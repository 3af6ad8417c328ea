package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// getOne выполняет запрос одной строки; отсутствие строки превращается в repository.ErrNotFound.
func getOne[T any](ctx context.Context, q sqlx.QueryerContext, what, query string, args ...any) (*T, error) {
	var row T
	if err := sqlx.GetContext(ctx, q, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", what, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	return &row, nil
}

// withTransaction выполняет fn в транзакции: ошибка или паника откатывают её.
func withTransaction(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// versionedUpdate выполняет UPDATE ... WHERE id = $1 AND version = $2. Ноль затронутых
// строк означает конфликт версий либо отсутствие записи.
func versionedUpdate(ctx context.Context, db *sqlx.DB, table, query string, args ...any) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	if rows > 0 {
		return nil
	}

	var exists bool
	if err := db.GetContext(ctx, &exists, fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)", table), args[0]); err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	if !exists {
		return fmt.Errorf("update %s: %w", table, repository.ErrNotFound)
	}
	return fmt.Errorf("update %s: %w", table, repository.ErrVersionConflict)
}
