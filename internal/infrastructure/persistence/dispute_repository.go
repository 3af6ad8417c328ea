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
)

const disputeColumns = `id, booking_id, payment_id, external_id, reason, status, evidence_due_by,
	resolved_by, resolved_at, version, created_at, updated_at`

type disputeRow struct {
	ID            uuid.UUID  `db:"id"`
	BookingID     uuid.UUID  `db:"booking_id"`
	PaymentID     uuid.UUID  `db:"payment_id"`
	ExternalID    string     `db:"external_id"`
	Reason        string     `db:"reason"`
	Status        string     `db:"status"`
	EvidenceDueBy *time.Time `db:"evidence_due_by"`
	ResolvedBy    *uuid.UUID `db:"resolved_by"`
	ResolvedAt    *time.Time `db:"resolved_at"`
	Version       int64      `db:"version"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

func (r disputeRow) toEntity() *entity.Dispute {
	return &entity.Dispute{
		ID:            r.ID,
		BookingID:     r.BookingID,
		PaymentID:     r.PaymentID,
		ExternalID:    r.ExternalID,
		Reason:        r.Reason,
		Status:        valueobject.DisputeStatus(r.Status),
		EvidenceDueBy: r.EvidenceDueBy,
		ResolvedBy:    r.ResolvedBy,
		ResolvedAt:    r.ResolvedAt,
		Version:       r.Version,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

type DisputeRepository struct {
	db *sqlx.DB
}

func NewDisputeRepository(db *sqlx.DB) *DisputeRepository {
	return &DisputeRepository{db: db}
}

func (r *DisputeRepository) Create(ctx context.Context, d *entity.Dispute) error {
	query := `
		INSERT INTO disputes (` + disputeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		d.ID, d.BookingID, d.PaymentID, d.ExternalID, d.Reason, string(d.Status),
		d.EvidenceDueBy, d.ResolvedBy, d.ResolvedAt, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("dispute repository: create: %w", repository.ErrDuplicate)
		}
		return fmt.Errorf("dispute repository: create: %w", err)
	}
	d.Version = 1
	return nil
}

func (r *DisputeRepository) Update(ctx context.Context, d *entity.Dispute) error {
	query := `
		UPDATE disputes
		SET status = $3, resolved_by = $4, resolved_at = $5, updated_at = $6, version = version + 1
		WHERE id = $1 AND version = $2
	`
	if err := versionedUpdate(ctx, r.db, "disputes", query,
		d.ID, d.Version, string(d.Status), d.ResolvedBy, d.ResolvedAt, d.UpdatedAt,
	); err != nil {
		return fmt.Errorf("dispute repository: %w", err)
	}
	d.Version++
	return nil
}

func (r *DisputeRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Dispute, error) {
	return r.findOne(ctx, "find by id", `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)
}

func (r *DisputeRepository) FindByExternalID(ctx context.Context, externalID string) (*entity.Dispute, error) {
	return r.findOne(ctx, "find by external id", `SELECT `+disputeColumns+` FROM disputes WHERE external_id = $1`, externalID)
}

func (r *DisputeRepository) FindOpenByPayment(ctx context.Context, paymentID uuid.UUID) (*entity.Dispute, error) {
	return r.findOne(ctx, "find open by payment",
		`SELECT `+disputeColumns+` FROM disputes WHERE payment_id = $1 AND status = 'OPEN' LIMIT 1`, paymentID)
}

func (r *DisputeRepository) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*entity.Dispute, error) {
	return r.list(ctx, "list by booking",
		`SELECT `+disputeColumns+` FROM disputes WHERE booking_id = $1 ORDER BY created_at`, bookingID)
}

func (r *DisputeRepository) ListOpen(ctx context.Context, limit, offset int) ([]*entity.Dispute, error) {
	return r.list(ctx, "list open",
		`SELECT `+disputeColumns+` FROM disputes WHERE status = 'OPEN' ORDER BY created_at LIMIT $1 OFFSET $2`, limit, offset)
}

func (r *DisputeRepository) findOne(ctx context.Context, what, query string, arg any) (*entity.Dispute, error) {
	row, err := getOne[disputeRow](ctx, r.db, "dispute repository: "+what, query, arg)
	if err != nil {
		return nil, err
	}
	return row.toEntity(), nil
}

func (r *DisputeRepository) list(ctx context.Context, what, query string, args ...any) ([]*entity.Dispute, error) {
	var rows []disputeRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("dispute repository: %s: %w", what, err)
	}
	out := make([]*entity.Dispute, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntity())
	}
	return out, nil
}
