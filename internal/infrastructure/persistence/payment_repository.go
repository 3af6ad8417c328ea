package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
	"github.com/ignatzorin/carpool-escrow/internal/domain/valueobject"
	"github.com/jmoiron/sqlx"
)

const paymentColumns = `id, booking_id, intent_id, amount, currency, amount_refunded, status, pending_op,
	failure_reason, metadata, version, created_at, updated_at`

type paymentRow struct {
	ID             uuid.UUID `db:"id"`
	BookingID      uuid.UUID `db:"booking_id"`
	IntentID       *string   `db:"intent_id"`
	Amount         int64     `db:"amount"`
	Currency       string    `db:"currency"`
	AmountRefunded int64     `db:"amount_refunded"`
	Status         string    `db:"status"`
	PendingOp      string    `db:"pending_op"`
	FailureReason  *string   `db:"failure_reason"`
	Metadata       []byte    `db:"metadata"`
	Version        int64     `db:"version"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r paymentRow) toEntity() (*entity.Payment, error) {
	p := &entity.Payment{
		ID:             r.ID,
		BookingID:      r.BookingID,
		IntentID:       r.IntentID,
		Amount:         valueobject.Money{Amount: r.Amount, Currency: r.Currency},
		AmountRefunded: r.AmountRefunded,
		Status:         valueobject.PaymentStatus(r.Status),
		PendingOp:      valueobject.PendingOperation(r.PendingOp),
		FailureReason:  r.FailureReason,
		Version:        r.Version,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &p.Metadata); err != nil {
			return nil, fmt.Errorf("payment repository: decode metadata: %w", err)
		}
	}
	return p, nil
}

type PaymentRepository struct {
	db *sqlx.DB
}

func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create опирается на частичный уникальный индекс payments_one_active:
// второй нетерминальный платёж по брони даёт ErrDuplicate.
func (r *PaymentRepository) Create(ctx context.Context, p *entity.Payment) error {
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("payment repository: encode metadata: %w", err)
	}
	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11, $12)
	`
	_, err = r.db.ExecContext(ctx, query,
		p.ID,
		p.BookingID,
		p.IntentID,
		p.Amount.Amount,
		p.Amount.Currency,
		p.AmountRefunded,
		string(p.Status),
		string(p.PendingOp),
		p.FailureReason,
		metadata,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("payment repository: create: %w", repository.ErrDuplicate)
		}
		return fmt.Errorf("payment repository: create: %w", err)
	}
	p.Version = 1
	return nil
}

func (r *PaymentRepository) Update(ctx context.Context, p *entity.Payment) error {
	query := `
		UPDATE payments
		SET intent_id = $3, amount_refunded = $4, status = $5, pending_op = $6, failure_reason = $7,
		    updated_at = $8, version = version + 1
		WHERE id = $1 AND version = $2
	`
	if err := versionedUpdate(ctx, r.db, "payments", query,
		p.ID, p.Version, p.IntentID, p.AmountRefunded, string(p.Status), string(p.PendingOp), p.FailureReason, p.UpdatedAt,
	); err != nil {
		return fmt.Errorf("payment repository: %w", err)
	}
	p.Version++
	return nil
}

func (r *PaymentRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Payment, error) {
	return r.findOne(ctx, "find by id", `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
}

func (r *PaymentRepository) FindByIntentID(ctx context.Context, intentID string) (*entity.Payment, error) {
	return r.findOne(ctx, "find by intent", `SELECT `+paymentColumns+` FROM payments WHERE intent_id = $1`, intentID)
}

func (r *PaymentRepository) FindLatestByBooking(ctx context.Context, bookingID uuid.UUID) (*entity.Payment, error) {
	return r.findOne(ctx, "find latest by booking",
		`SELECT `+paymentColumns+` FROM payments WHERE booking_id = $1 ORDER BY created_at DESC LIMIT 1`, bookingID)
}

func (r *PaymentRepository) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*entity.Payment, error) {
	var rows []paymentRow
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT `+paymentColumns+` FROM payments WHERE booking_id = $1 ORDER BY created_at`, bookingID); err != nil {
		return nil, fmt.Errorf("payment repository: list by booking: %w", err)
	}
	out := make([]*entity.Payment, 0, len(rows))
	for _, row := range rows {
		p, err := row.toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *PaymentRepository) findOne(ctx context.Context, what, query string, arg any) (*entity.Payment, error) {
	row, err := getOne[paymentRow](ctx, r.db, "payment repository: "+what, query, arg)
	if err != nil {
		return nil, err
	}
	return row.toEntity()
}
