package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
)

type ProcessedEventRepository struct {
	mu     sync.Mutex
	events map[string]entity.ProcessedEvent
}

func NewProcessedEventRepository() *ProcessedEventRepository {
	return &ProcessedEventRepository{events: make(map[string]entity.ProcessedEvent)}
}

func (r *ProcessedEventRepository) Claim(ctx context.Context, eventID string, eventType entity.ProcessorEventType, lease time.Duration) (*entity.ProcessedEvent, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	rec, ok := r.events[eventID]
	if !ok {
		rec = entity.ProcessedEvent{
			EventID:   eventID,
			Type:      eventType,
			Status:    entity.ProcessedEventProcessing,
			Attempts:  1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		r.events[eventID] = rec
		return &rec, true, nil
	}
	if rec.Status == entity.ProcessedEventProcessing && now.Sub(rec.UpdatedAt) > lease {
		rec.Attempts++
		rec.UpdatedAt = now
		r.events[eventID] = rec
		return &rec, true, nil
	}
	return &rec, false, nil
}

func (r *ProcessedEventRepository) Reclaim(ctx context.Context, eventID string) (*entity.ProcessedEvent, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.events[eventID]
	if !ok {
		return nil, false, repository.ErrNotFound
	}
	if rec.Status != entity.ProcessedEventRetrying {
		return &rec, false, nil
	}
	rec.Status = entity.ProcessedEventProcessing
	rec.Attempts++
	rec.UpdatedAt = time.Now()
	r.events[eventID] = rec
	return &rec, true, nil
}

func (r *ProcessedEventRepository) Complete(ctx context.Context, eventID string, status entity.ProcessedEventStatus, lastErr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.events[eventID]
	if !ok {
		return repository.ErrNotFound
	}
	rec.Status = status
	if lastErr != "" {
		rec.LastError = &lastErr
	}
	rec.UpdatedAt = time.Now()
	r.events[eventID] = rec
	return nil
}

func (r *ProcessedEventRepository) Release(ctx context.Context, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.events, eventID)
	return nil
}

// Get возвращает запись журнала, используется в тестах и диагностике.
func (r *ProcessedEventRepository) Get(eventID string) (entity.ProcessedEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.events[eventID]
	return rec, ok
}
