package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
)

// InventoryStore - счётчики мест в памяти процесса, по одному на поездку.
// Общий замок защищает только поиск счётчика; проверка и инкремент идут под замком поездки.
type InventoryStore struct {
	mu    sync.Mutex
	trips map[uuid.UUID]*tripCounter
}

type tripCounter struct {
	mu           sync.Mutex
	committed    int
	reservations map[uuid.UUID]*entity.Reservation
}

func NewInventoryStore() *InventoryStore {
	return &InventoryStore{trips: make(map[uuid.UUID]*tripCounter)}
}

func (s *InventoryStore) counter(tripID uuid.UUID) *tripCounter {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.trips[tripID]
	if !ok {
		c = &tripCounter{reservations: make(map[uuid.UUID]*entity.Reservation)}
		s.trips[tripID] = c
	}
	return c
}

func (s *InventoryStore) Reserve(ctx context.Context, res entity.Reservation, capacity int) (entity.InventoryChange, bool, error) {
	c := s.counter(res.TripID)
	c.mu.Lock()
	defer c.mu.Unlock()

	change := entity.InventoryChange{TripID: res.TripID, Capacity: capacity}
	if _, ok := c.reservations[res.ID]; ok {
		change.Committed = c.committed
		return change, false, nil
	}
	if c.committed+res.Seats > capacity {
		change.Committed = c.committed
		return change, false, repository.ErrCapacityExceeded
	}

	c.committed += res.Seats
	stored := res
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	c.reservations[res.ID] = &stored
	change.Committed = c.committed
	return change, true, nil
}

func (s *InventoryStore) Release(ctx context.Context, tripID, reservationID uuid.UUID) (entity.InventoryChange, bool, error) {
	c := s.counter(tripID)
	c.mu.Lock()
	defer c.mu.Unlock()

	change := entity.InventoryChange{TripID: tripID, Committed: c.committed}
	res, ok := c.reservations[reservationID]
	if !ok || res.IsReleased() {
		return change, false, nil
	}
	now := time.Now()
	res.ReleasedAt = &now
	c.committed -= res.Seats
	change.Committed = c.committed
	return change, true, nil
}

func (s *InventoryStore) Committed(ctx context.Context, tripID uuid.UUID) (int, error) {
	c := s.counter(tripID)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.committed, nil
}
