package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
	"github.com/jmoiron/sqlx"
)

const processedEventColumns = `event_id, type, status, attempts, last_error, created_at, updated_at`

type processedEventRow struct {
	EventID   string    `db:"event_id"`
	Type      string    `db:"type"`
	Status    string    `db:"status"`
	Attempts  int       `db:"attempts"`
	LastError *string   `db:"last_error"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r processedEventRow) toEntity() *entity.ProcessedEvent {
	return &entity.ProcessedEvent{
		EventID:   r.EventID,
		Type:      entity.ProcessorEventType(r.Type),
		Status:    entity.ProcessedEventStatus(r.Status),
		Attempts:  r.Attempts,
		LastError: r.LastError,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type ProcessedEventRepository struct {
	db *sqlx.DB
}

func NewProcessedEventRepository(db *sqlx.DB) *ProcessedEventRepository {
	return &ProcessedEventRepository{db: db}
}

// Claim вставляет запись в статусе processing. Существующая запись перехватывается
// только если она застряла в processing дольше lease.
func (r *ProcessedEventRepository) Claim(ctx context.Context, eventID string, eventType entity.ProcessorEventType, lease time.Duration) (*entity.ProcessedEvent, bool, error) {
	var row processedEventRow
	err := r.db.GetContext(ctx, &row, `
		INSERT INTO processed_events (event_id, type, status, attempts, created_at, updated_at)
		VALUES ($1, $2, 'processing', 1, NOW(), NOW())
		ON CONFLICT (event_id) DO UPDATE
		SET attempts = processed_events.attempts + 1, updated_at = NOW()
		WHERE processed_events.status = 'processing'
		  AND processed_events.updated_at < NOW() - $3 * INTERVAL '1 second'
		RETURNING `+processedEventColumns, eventID, string(eventType), lease.Seconds())
	if err == nil {
		return row.toEntity(), true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("processed events: claim: %w", err)
	}

	existing, err := r.get(ctx, eventID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *ProcessedEventRepository) Reclaim(ctx context.Context, eventID string) (*entity.ProcessedEvent, bool, error) {
	var row processedEventRow
	err := r.db.GetContext(ctx, &row, `
		UPDATE processed_events
		SET status = 'processing', attempts = attempts + 1, updated_at = NOW()
		WHERE event_id = $1 AND status = 'retrying'
		RETURNING `+processedEventColumns, eventID)
	if err == nil {
		return row.toEntity(), true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("processed events: reclaim: %w", err)
	}

	existing, err := r.get(ctx, eventID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *ProcessedEventRepository) Complete(ctx context.Context, eventID string, status entity.ProcessedEventStatus, lastErr string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE processed_events
		SET status = $2, last_error = COALESCE(NULLIF($3, ''), last_error), updated_at = NOW()
		WHERE event_id = $1
	`, eventID, string(status), lastErr)
	if err != nil {
		return fmt.Errorf("processed events: complete: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("processed events: complete: %w", err)
	} else if n == 0 {
		return fmt.Errorf("processed events: complete: %w", repository.ErrNotFound)
	}
	return nil
}

func (r *ProcessedEventRepository) Release(ctx context.Context, eventID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM processed_events WHERE event_id = $1`, eventID); err != nil {
		return fmt.Errorf("processed events: release: %w", err)
	}
	return nil
}

func (r *ProcessedEventRepository) get(ctx context.Context, eventID string) (*entity.ProcessedEvent, error) {
	row, err := getOne[processedEventRow](ctx, r.db, "processed events: get",
		`SELECT `+processedEventColumns+` FROM processed_events WHERE event_id = $1`, eventID)
	if err != nil {
		return nil, err
	}
	return row.toEntity(), nil
}
