package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
)

// InventoryStore - атомарный счётчик занятых мест по поездкам.
type InventoryStore interface {
	// Reserve одной неделимой операцией проверяет committed+seats <= capacity и увеличивает счётчик.
	// Повтор с тем же ID резервации ничего не меняет и возвращает created=false.
	// При нехватке мест возвращает ErrCapacityExceeded.
	Reserve(ctx context.Context, res entity.Reservation, capacity int) (change entity.InventoryChange, created bool, err error)
	// Release освобождает резервацию; повторное освобождение возвращает released=false.
	Release(ctx context.Context, tripID, reservationID uuid.UUID) (change entity.InventoryChange, released bool, err error)
	Committed(ctx context.Context, tripID uuid.UUID) (int, error)
}
