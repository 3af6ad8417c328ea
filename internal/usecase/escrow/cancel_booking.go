package escrow

import (
	"context"

	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
	"github.com/ignatzorin/carpool-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/carpool-escrow/internal/pkg/apperror"
	"github.com/sirupsen/logrus"
)

// CancelBooking: бронь -> CANCELLED с освобождением мест, затем расчёт по платежу.
// Ошибка расчёта не откатывает отмену: места уже свободны, платёж доведёт сверка.
// Пока по платежу открыт спор, бронь не отменяется: её судьбу решает администратор.
func (o *Orchestrator) CancelBooking(ctx context.Context, bookingID uuid.UUID, actor valueobject.Actor, reason string) (*BookingResult, error) {
	if err := o.ensureCancellable(ctx, bookingID, actor); err != nil {
		o.metrics.Saga("cancel_booking", string(apperror.CodeOf(err)))
		return nil, err
	}

	b, changed, err := o.bookings.Cancel(ctx, bookingID, actor, reason)
	if err != nil {
		o.metrics.Saga("cancel_booking", string(apperror.CodeOf(err)))
		return nil, err
	}
	if changed {
		o.notify(ctx, b, repository.NotifyBookingCancelled, nil, map[string]any{"reason": reason})
	}

	result := &BookingResult{Booking: b}
	p, err := o.payments.Latest(ctx, b.ID)
	if err != nil {
		if apperror.IsNotFound(err) {
			o.metrics.Saga("cancel_booking", "ok")
			return result, nil
		}
		return result, err
	}

	p, err = o.settleCancelled(ctx, b, p)
	result.Payment = p
	if err != nil {
		o.logSettleFailure(b, p, err)
		o.metrics.Saga("cancel_booking", "payment_pending")
		return result, nil
	}
	o.metrics.Saga("cancel_booking", "ok")
	return result, nil
}

// ensureCancellable отклоняет отмену активной брони, платёж которой заморожен спором.
func (o *Orchestrator) ensureCancellable(ctx context.Context, bookingID uuid.UUID, actor valueobject.Actor) error {
	b, err := o.bookings.Get(ctx, bookingID)
	if err != nil {
		return err
	}
	if !b.CanBeCancelledBy(actor) {
		return apperror.ErrForbidden
	}
	if b.Status.IsTerminal() {
		return nil
	}

	p, err := o.payments.Latest(ctx, bookingID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil
		}
		return err
	}
	frozen, err := o.disputes.IsFrozen(ctx, p.ID)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось проверить споры по платежу")
	}
	if frozen {
		return apperror.ErrPaymentFrozen
	}
	return nil
}

func (o *Orchestrator) logSettleFailure(b *entity.Booking, p *entity.Payment, err error) {
	fields := logrus.Fields{"booking_id": b.ID}
	if p != nil {
		fields["payment_id"] = p.ID
	}
	log := o.log.WithFields(fields).WithError(err)
	if apperror.HasCode(err, apperror.ErrCodePaymentFrozen) {
		log.Warn("booking cancelled, payment frozen by dispute")
		return
	}
	log.Error("booking cancelled, payment settlement deferred")
}
