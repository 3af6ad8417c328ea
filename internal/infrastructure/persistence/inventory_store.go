package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
	"github.com/jmoiron/sqlx"
)

// InventoryStore держит счётчик занятых мест в trip_inventory. Проверка и увеличение
// выполняются одним условным UPDATE, строка блокируется только на время этого запроса.
type InventoryStore struct {
	db *sqlx.DB
}

func NewInventoryStore(db *sqlx.DB) *InventoryStore {
	return &InventoryStore{db: db}
}

type inventoryRow struct {
	Committed int `db:"committed"`
	Capacity  int `db:"capacity"`
}

func (s *InventoryStore) Reserve(ctx context.Context, res entity.Reservation, capacity int) (entity.InventoryChange, bool, error) {
	change := entity.InventoryChange{TripID: res.TripID, Capacity: capacity}
	created := false

	err := withTransaction(ctx, s.db, func(tx *sqlx.Tx) error {
		inserted, err := tx.ExecContext(ctx, `
			INSERT INTO seat_reservations (id, trip_id, seats, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO NOTHING
		`, res.ID, res.TripID, res.Seats, res.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}
		if n, err := inserted.RowsAffected(); err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		} else if n == 0 {
			row, err := counter(ctx, tx, res.TripID)
			if err != nil {
				return err
			}
			change.Committed, change.Capacity = row.Committed, row.Capacity
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO trip_inventory (trip_id, capacity, committed)
			VALUES ($1, $2, 0)
			ON CONFLICT (trip_id) DO NOTHING
		`, res.TripID, capacity); err != nil {
			return fmt.Errorf("init inventory: %w", err)
		}

		var row inventoryRow
		err = tx.GetContext(ctx, &row, `
			UPDATE trip_inventory
			SET committed = committed + $2
			WHERE trip_id = $1 AND committed + $2 <= capacity
			RETURNING committed, capacity
		`, res.TripID, res.Seats)
		if errors.Is(err, sql.ErrNoRows) {
			return repository.ErrCapacityExceeded
		}
		if err != nil {
			return fmt.Errorf("increment committed: %w", err)
		}
		change.Committed, change.Capacity = row.Committed, row.Capacity
		created = true
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrCapacityExceeded) {
			return change, false, err
		}
		return change, false, fmt.Errorf("inventory store: reserve: %w", err)
	}
	return change, created, nil
}

func (s *InventoryStore) Release(ctx context.Context, tripID, reservationID uuid.UUID) (entity.InventoryChange, bool, error) {
	change := entity.InventoryChange{TripID: tripID}
	released := false

	err := withTransaction(ctx, s.db, func(tx *sqlx.Tx) error {
		var seats int
		err := tx.GetContext(ctx, &seats, `
			UPDATE seat_reservations
			SET released_at = NOW()
			WHERE id = $1 AND trip_id = $2 AND released_at IS NULL
			RETURNING seats
		`, reservationID, tripID)
		if errors.Is(err, sql.ErrNoRows) {
			row, err := counter(ctx, tx, tripID)
			if err != nil {
				return err
			}
			change.Committed, change.Capacity = row.Committed, row.Capacity
			return nil
		}
		if err != nil {
			return fmt.Errorf("release reservation: %w", err)
		}

		var row inventoryRow
		if err := tx.GetContext(ctx, &row, `
			UPDATE trip_inventory
			SET committed = committed - $2
			WHERE trip_id = $1
			RETURNING committed, capacity
		`, tripID, seats); err != nil {
			return fmt.Errorf("decrement committed: %w", err)
		}
		change.Committed, change.Capacity = row.Committed, row.Capacity
		released = true
		return nil
	})
	if err != nil {
		return change, false, fmt.Errorf("inventory store: release: %w", err)
	}
	return change, released, nil
}

func (s *InventoryStore) Committed(ctx context.Context, tripID uuid.UUID) (int, error) {
	row, err := counter(ctx, s.db, tripID)
	if err != nil {
		return 0, fmt.Errorf("inventory store: %w", err)
	}
	return row.Committed, nil
}

// counter читает счётчик поездки; поездка без резерваций считается пустой.
func counter(ctx context.Context, q sqlx.QueryerContext, tripID uuid.UUID) (inventoryRow, error) {
	var row inventoryRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT committed, capacity FROM trip_inventory WHERE trip_id = $1`, tripID)
	if errors.Is(err, sql.ErrNoRows) {
		return inventoryRow{}, nil
	}
	if err != nil {
		return inventoryRow{}, fmt.Errorf("read counter: %w", err)
	}
	return row, nil
}
