package entity

import (
	"time"

	"github.com/google/uuid"
)

// Reservation - токен резервации мест в поездке. Освобождение по токену идемпотентно.
type Reservation struct {
	ID         uuid.UUID
	TripID     uuid.UUID
	Seats      int
	CreatedAt  time.Time
	ReleasedAt *time.Time
}

func (r *Reservation) IsReleased() bool {
	return r.ReleasedAt != nil
}

// InventoryChange описывает изменение занятых мест поездки после reserve/release.
type InventoryChange struct {
	TripID    uuid.UUID
	Committed int
	Capacity  int
}

func (c InventoryChange) IsFull() bool {
	return c.Committed >= c.Capacity
}
