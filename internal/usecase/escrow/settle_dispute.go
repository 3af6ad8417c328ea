package escrow

import (
	"context"

	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
	"github.com/ignatzorin/carpool-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/carpool-escrow/internal/pkg/apperror"
	"github.com/sirupsen/logrus"
)

// Settle применяет решение по спору. REFUND возвращает остаток и отменяет
// незавершённую бронь, CAPTURE списывает удержание и завершает бронь, если
// поездка уже завершена. Удержание отменённой брони списать нельзя.
// Повторный вызов доводит незаконченное решение.
func (o *Orchestrator) Settle(ctx context.Context, d *entity.Dispute, outcome valueobject.DisputeOutcome) error {
	p, err := o.payments.Get(ctx, d.PaymentID)
	if err != nil {
		return err
	}
	b, err := o.bookings.Get(ctx, d.BookingID)
	if err != nil {
		return err
	}
	log := o.log.WithFields(logrus.Fields{"dispute_id": d.ID, "payment_id": p.ID, "booking_id": b.ID, "outcome": outcome})

	switch outcome {
	case valueobject.DisputeOutcomeRefund:
		if refundable := p.Refundable(); refundable > 0 && !p.Status.IsTerminal() {
			refunded, err := o.refund(ctx, p, refundable, valueobject.OriginResolution)
			if err != nil {
				return err
			}
			o.notify(ctx, b, repository.NotifyPaymentRefunded, refunded, map[string]any{"amount": refunded.AmountRefunded})
		}
		if !b.Status.IsTerminal() {
			cancelled, changed, err := o.bookings.Cancel(ctx, b.ID, valueobject.SystemActor(), "спор решён в пользу пассажира")
			if err != nil {
				return err
			}
			if changed {
				o.notify(ctx, cancelled, repository.NotifyBookingCancelled, p, nil)
			}
		}

	case valueobject.DisputeOutcomeCapture:
		if b.Status == valueobject.BookingStatusCancelled && p.Status == valueobject.PaymentStatusHold {
			return apperror.New(apperror.ErrCodeInvalidState, "бронь отменена, удержание можно только вернуть")
		}
		if p.Status == valueobject.PaymentStatusHold {
			captured, err := o.capture(ctx, p, valueobject.OriginResolution)
			if err != nil {
				return err
			}
			o.notify(ctx, b, repository.NotifyPaymentCaptured, captured, nil)
		} else if p.Status != valueobject.PaymentStatusCaptured {
			return apperror.Newf(apperror.ErrCodeInvalidState, "нельзя списать платёж в статусе %s", p.Status)
		}
		if err := o.finishIfCompleted(ctx, b); err != nil {
			return err
		}
	}

	o.notify(ctx, b, repository.NotifyDisputeResolved, p, map[string]any{"dispute_id": d.ID, "outcome": outcome})
	o.metrics.Saga("dispute", "resolved_"+string(outcome))
	log.Info("dispute settlement applied")
	return nil
}
