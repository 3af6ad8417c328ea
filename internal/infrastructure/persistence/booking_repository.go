package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
	"github.com/ignatzorin/carpool-escrow/internal/domain/valueobject"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const bookingColumns = `id, trip_id, passenger_id, driver_id, seats, unit_price, total_price, currency, status,
	reservation_id, idempotency_key, cancellation_reason, cancelled_by, version, created_at, updated_at`

type bookingRow struct {
	ID                 uuid.UUID `db:"id"`
	TripID             uuid.UUID `db:"trip_id"`
	PassengerID        uuid.UUID `db:"passenger_id"`
	DriverID           uuid.UUID `db:"driver_id"`
	Seats              int       `db:"seats"`
	UnitPrice          int64     `db:"unit_price"`
	TotalPrice         int64     `db:"total_price"`
	Currency           string    `db:"currency"`
	Status             string    `db:"status"`
	ReservationID      uuid.UUID `db:"reservation_id"`
	IdempotencyKey     *string   `db:"idempotency_key"`
	CancellationReason *string   `db:"cancellation_reason"`
	CancelledBy        *string   `db:"cancelled_by"`
	Version            int64     `db:"version"`
	CreatedAt          time.Time `db:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"`
}

func (r bookingRow) toEntity() *entity.Booking {
	return &entity.Booking{
		ID:                 r.ID,
		TripID:             r.TripID,
		PassengerID:        r.PassengerID,
		DriverID:           r.DriverID,
		Seats:              r.Seats,
		UnitPrice:          valueobject.Money{Amount: r.UnitPrice, Currency: r.Currency},
		TotalPrice:         valueobject.Money{Amount: r.TotalPrice, Currency: r.Currency},
		Status:             valueobject.BookingStatus(r.Status),
		ReservationID:      r.ReservationID,
		IdempotencyKey:     r.IdempotencyKey,
		CancellationReason: r.CancellationReason,
		CancelledBy:        r.CancelledBy,
		Version:            r.Version,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

type BookingRepository struct {
	db *sqlx.DB
}

func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

func (r *BookingRepository) Create(ctx context.Context, b *entity.Booking) error {
	query := `
		INSERT INTO bookings (` + bookingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1, $14, $15)
	`
	_, err := r.db.ExecContext(ctx, query,
		b.ID,
		b.TripID,
		b.PassengerID,
		b.DriverID,
		b.Seats,
		b.UnitPrice.Amount,
		b.TotalPrice.Amount,
		b.TotalPrice.Currency,
		string(b.Status),
		b.ReservationID,
		b.IdempotencyKey,
		b.CancellationReason,
		b.CancelledBy,
		b.CreatedAt,
		b.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("booking repository: create: %w", repository.ErrDuplicate)
		}
		return fmt.Errorf("booking repository: create: %w", err)
	}
	b.Version = 1
	return nil
}

func (r *BookingRepository) Update(ctx context.Context, b *entity.Booking) error {
	query := `
		UPDATE bookings
		SET status = $3, cancellation_reason = $4, cancelled_by = $5, updated_at = $6, version = version + 1
		WHERE id = $1 AND version = $2
	`
	if err := versionedUpdate(ctx, r.db, "bookings", query,
		b.ID, b.Version, string(b.Status), b.CancellationReason, b.CancelledBy, b.UpdatedAt,
	); err != nil {
		return fmt.Errorf("booking repository: %w", err)
	}
	b.Version++
	return nil
}

func (r *BookingRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Booking, error) {
	row, err := getOne[bookingRow](ctx, r.db, "booking repository: find by id",
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return row.toEntity(), nil
}

func (r *BookingRepository) FindByIdempotencyKey(ctx context.Context, passengerID uuid.UUID, key string) (*entity.Booking, error) {
	row, err := getOne[bookingRow](ctx, r.db, "booking repository: find by idempotency key",
		`SELECT `+bookingColumns+` FROM bookings WHERE passenger_id = $1 AND idempotency_key = $2`, passengerID, key)
	if err != nil {
		return nil, err
	}
	return row.toEntity(), nil
}

func (r *BookingRepository) ListByTrip(ctx context.Context, tripID uuid.UUID, statuses ...valueobject.BookingStatus) ([]*entity.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE trip_id = $1`
	args := []any{tripID}
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, s := range statuses {
			names[i] = string(s)
		}
		query += ` AND status = ANY($2)`
		args = append(args, pq.Array(names))
	}
	query += ` ORDER BY created_at`

	var rows []bookingRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("booking repository: list by trip: %w", err)
	}
	out := make([]*entity.Booking, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntity())
	}
	return out, nil
}
