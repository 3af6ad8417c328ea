package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
)

type DisputeRepository interface {
	Create(ctx context.Context, dispute *entity.Dispute) error
	Update(ctx context.Context, dispute *entity.Dispute) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Dispute, error)
	FindByExternalID(ctx context.Context, externalID string) (*entity.Dispute, error)
	FindOpenByPayment(ctx context.Context, paymentID uuid.UUID) (*entity.Dispute, error)
	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*entity.Dispute, error)
	ListOpen(ctx context.Context, limit, offset int) ([]*entity.Dispute, error)
}
