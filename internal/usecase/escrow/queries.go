package escrow

import (
	"context"

	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/ignatzorin/carpool-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/carpool-escrow/internal/pkg/apperror"
)

type BookingDetails struct {
	Booking  *entity.Booking
	Payments []*entity.Payment
	Disputes []*entity.Dispute
}

// GetBooking возвращает бронь с историей платежей и споров участнику брони или администратору.
func (o *Orchestrator) GetBooking(ctx context.Context, id uuid.UUID, actor valueobject.Actor) (*BookingDetails, error) {
	b, err := o.bookings.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.CanBeViewedBy(actor) {
		return nil, apperror.ErrForbidden
	}
	payments, err := o.payments.ListByBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	disputes, err := o.disputes.ListByBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	return &BookingDetails{Booking: b, Payments: payments, Disputes: disputes}, nil
}
