package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/ignatzorin/carpool-escrow/internal/domain/valueobject"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type tripRow struct {
	ID          uuid.UUID `db:"id"`
	DriverID    uuid.UUID `db:"driver_id"`
	Capacity    int       `db:"capacity"`
	SeatPrice   int64     `db:"seat_price"`
	Currency    string    `db:"currency"`
	DepartureAt time.Time `db:"departure_at"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// TripCatalogue читает проекцию поездок, которую ведёт сервис поездок в общей базе.
type TripCatalogue struct {
	db *sqlx.DB
}

func NewTripCatalogue(db *sqlx.DB) *TripCatalogue {
	return &TripCatalogue{db: db}
}

func (c *TripCatalogue) GetTrip(ctx context.Context, id uuid.UUID) (*entity.Trip, error) {
	row, err := getOne[tripRow](ctx, c.db, "trip catalogue: get trip", `
		SELECT id, driver_id, capacity, seat_price, currency, departure_at, status, created_at, updated_at
		FROM trips WHERE id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	return &entity.Trip{
		ID:          row.ID,
		DriverID:    row.DriverID,
		Capacity:    row.Capacity,
		SeatPrice:   valueobject.Money{Amount: row.SeatPrice, Currency: row.Currency},
		DepartureAt: row.DepartureAt,
		Status:      valueobject.TripStatus(row.Status),
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}, nil
}

// SaveTrip добавляет или обновляет поездку, опубликованную водителем.
func (c *TripCatalogue) SaveTrip(ctx context.Context, t *entity.Trip) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO trips (id, driver_id, capacity, seat_price, currency, departure_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET capacity = EXCLUDED.capacity, seat_price = EXCLUDED.seat_price, currency = EXCLUDED.currency,
		    departure_at = EXCLUDED.departure_at, updated_at = EXCLUDED.updated_at
	`, t.ID, t.DriverID, t.Capacity, t.SeatPrice.Amount, t.SeatPrice.Currency, t.DepartureAt,
		string(t.Status), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("trip catalogue: save trip: %w", err)
	}
	return nil
}

func (c *TripCatalogue) SetTripStatus(ctx context.Context, id uuid.UUID, status valueobject.TripStatus, from ...valueobject.TripStatus) (bool, error) {
	query := `UPDATE trips SET status = $2, updated_at = NOW() WHERE id = $1`
	args := []any{id, string(status)}
	if len(from) > 0 {
		names := make([]string, len(from))
		for i, s := range from {
			names[i] = string(s)
		}
		query += ` AND status = ANY($3)`
		args = append(args, pq.Array(names))
	}

	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("trip catalogue: set status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("trip catalogue: set status: %w", err)
	}
	return rows > 0, nil
}
