package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
)

// PaymentRepository хранит платежи. У брони не больше одного нетерминального платежа:
// Create возвращает ErrDuplicate, если такой уже есть.
type PaymentRepository interface {
	Create(ctx context.Context, payment *entity.Payment) error
	Update(ctx context.Context, payment *entity.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Payment, error)
	FindByIntentID(ctx context.Context, intentID string) (*entity.Payment, error)
	FindLatestByBooking(ctx context.Context, bookingID uuid.UUID) (*entity.Payment, error)
	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*entity.Payment, error)
}
