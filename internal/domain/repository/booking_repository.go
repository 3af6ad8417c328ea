package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/ignatzorin/carpool-escrow/internal/domain/valueobject"
)

// BookingRepository хранит брони. Update пишет только если версия не изменилась
// (ErrVersionConflict иначе) и увеличивает booking.Version.
type BookingRepository interface {
	Create(ctx context.Context, booking *entity.Booking) error
	Update(ctx context.Context, booking *entity.Booking) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Booking, error)
	FindByIdempotencyKey(ctx context.Context, passengerID uuid.UUID, key string) (*entity.Booking, error)
	ListByTrip(ctx context.Context, tripID uuid.UUID, statuses ...valueobject.BookingStatus) ([]*entity.Booking, error)
}
