package repository

import (
	"context"
	"time"

	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
)

// ProcessedEventRepository - журнал дедупликации событий процессора.
type ProcessedEventRepository interface {
	// Claim захватывает событие для обработки. claimed=false означает, что событие уже
	// обработано, запланировано к повтору или обрабатывается другим экземпляром.
	// Захват в статусе processing старше lease считается брошенным и перехватывается.
	Claim(ctx context.Context, eventID string, eventType entity.ProcessorEventType, lease time.Duration) (rec *entity.ProcessedEvent, claimed bool, err error)
	// Reclaim захватывает событие, ожидающее повтора (retrying).
	Reclaim(ctx context.Context, eventID string) (rec *entity.ProcessedEvent, claimed bool, err error)
	Complete(ctx context.Context, eventID string, status entity.ProcessedEventStatus, lastErr string) error
	// Release удаляет захват, чтобы повторная доставка обработала событие заново.
	Release(ctx context.Context, eventID string) error
}
