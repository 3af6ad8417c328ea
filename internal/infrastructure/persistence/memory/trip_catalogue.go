package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
	"github.com/ignatzorin/carpool-escrow/internal/domain/valueobject"
)

type TripCatalogue struct {
	mu    sync.RWMutex
	trips map[uuid.UUID]entity.Trip
}

func NewTripCatalogue() *TripCatalogue {
	return &TripCatalogue{trips: make(map[uuid.UUID]entity.Trip)}
}

// Save добавляет или заменяет поездку.
func (c *TripCatalogue) Save(trip *entity.Trip) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trips[trip.ID] = *trip
}

func (c *TripCatalogue) SaveTrip(_ context.Context, trip *entity.Trip) error {
	c.Save(trip)
	return nil
}

func (c *TripCatalogue) GetTrip(ctx context.Context, id uuid.UUID) (*entity.Trip, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.trips[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (c *TripCatalogue) SetTripStatus(ctx context.Context, id uuid.UUID, status valueobject.TripStatus, from ...valueobject.TripStatus) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.trips[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if !statusIn(t.Status, from) {
		return false, nil
	}
	t.Status = status
	t.UpdatedAt = time.Now()
	c.trips[id] = t
	return true, nil
}

func statusIn[S comparable](s S, set []S) bool {
	if len(set) == 0 {
		return true
	}
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
