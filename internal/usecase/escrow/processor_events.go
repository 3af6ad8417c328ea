package escrow

import (
	"context"

	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
	"github.com/ignatzorin/carpool-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/carpool-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/carpool-escrow/internal/usecase/dispute"
	"github.com/sirupsen/logrus"
)

// HandleEvent применяет проверенное событие процессора. Ошибки RECONCILIATION_REQUIRED
// и NOT_FOUND означают, что событие пришло раньше, чем к нему готово локальное состояние.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev *entity.ProcessorEvent) error {
	p, err := o.payments.FindByIntentID(ctx, ev.IntentID)
	if err != nil {
		return err
	}
	log := o.log.WithFields(logrus.Fields{
		"event_id":   ev.ID,
		"event_type": ev.Type,
		"payment_id": p.ID,
		"booking_id": p.BookingID,
	})

	switch ev.Type {
	case entity.EventHoldSucceeded:
		return o.onHoldSucceeded(ctx, p, valueobject.OriginWebhook, log)
	case entity.EventHoldFailed:
		return o.onHoldFailed(ctx, p, ev.FailureReason, valueobject.OriginWebhook)
	case entity.EventCaptureSucceeded:
		return o.onCaptureSucceeded(ctx, p, valueobject.OriginWebhook)
	case entity.EventChargeRefunded:
		return o.onRefunded(ctx, p, ev.Amount, valueobject.OriginWebhook)
	case entity.EventHoldReleased:
		return o.onHoldReleased(ctx, p, valueobject.OriginWebhook)
	case entity.EventDisputeCreated:
		return o.onDisputeCreated(ctx, p, ev)
	default:
		log.Warn("unsupported processor event ignored")
		return nil
	}
}

// onHoldSucceeded: INTENT -> HOLD, затем бронь PENDING -> CONFIRMED. Если бронь уже
// отменена, удержание сразу возвращается; места были освобождены при отмене.
func (o *Orchestrator) onHoldSucceeded(ctx context.Context, p *entity.Payment, origin valueobject.Origin, log logrus.FieldLogger) error {
	held, _, err := o.payments.ConfirmHold(ctx, p.ID, origin)
	if err != nil {
		if apperror.IsInvalidState(err) {
			current, getErr := o.payments.Get(ctx, p.ID)
			if getErr == nil && current.Status == valueobject.PaymentStatusFailed {
				o.releaseOrphanHold(ctx, current, log)
			}
		}
		return err
	}
	return o.settleHeld(ctx, held)
}

// settleHeld приводит бронь в соответствие с удержанным платежом.
func (o *Orchestrator) settleHeld(ctx context.Context, p *entity.Payment) error {
	b, err := o.bookings.Get(ctx, p.BookingID)
	if err != nil {
		return err
	}
	if b.Status == valueobject.BookingStatusPending {
		confirmed, changed, err := o.bookings.Confirm(ctx, b.ID)
		switch {
		case err == nil:
			if changed {
				o.notify(ctx, confirmed, repository.NotifyBookingConfirmed, p, nil)
				o.metrics.Saga("hold_confirmed", "confirmed")
			}
			return nil
		case !apperror.IsInvalidState(err):
			return err
		}
		// Бронь отменили между чтением и подтверждением.
		if b, err = o.bookings.Get(ctx, p.BookingID); err != nil {
			return err
		}
	}

	if b.Status != valueobject.BookingStatusCancelled {
		return nil
	}
	if p.Refundable() == 0 {
		return nil
	}
	refunded, err := o.refund(ctx, p, p.Refundable(), valueobject.OriginOrchestrator)
	if err != nil {
		if apperror.IsInvalidState(err) {
			return nil
		}
		return err
	}
	o.log.WithFields(logrus.Fields{"booking_id": b.ID, "payment_id": p.ID}).
		Info("hold confirmed for cancelled booking, refunded immediately")
	o.notify(ctx, b, repository.NotifyPaymentRefunded, refunded, map[string]any{"amount": refunded.AmountRefunded})
	o.metrics.Saga("hold_confirmed", "refunded_cancelled")
	return nil
}

// releaseOrphanHold снимает удержание, пришедшее после того, как платёж уже признан
// неуспешным. Локально платёж остаётся FAILED.
func (o *Orchestrator) releaseOrphanHold(ctx context.Context, p *entity.Payment, log logrus.FieldLogger) {
	err := o.call(ctx, "cancel", func(ctx context.Context) error {
		_, err := o.processor.Cancel(ctx, p.ExternalID(), "cancel-"+p.ID.String())
		return err
	})
	if err != nil && !isRejected(err) {
		log.WithError(err).Error("failed to release hold of failed payment")
		return
	}
	log.Warn("hold arrived after payment failed, released at processor")
}

// onHoldFailed: платёж -> FAILED, бронь отменяется системой с причиной.
func (o *Orchestrator) onHoldFailed(ctx context.Context, p *entity.Payment, reason string, origin valueobject.Origin) error {
	if reason == "" {
		reason = "удержание средств не удалось"
	}
	if _, _, err := o.payments.MarkFailed(ctx, p.ID, reason, origin); err != nil {
		return err
	}
	b, changed, err := o.bookings.Cancel(ctx, p.BookingID, valueobject.SystemActor(), "оплата не прошла: "+reason)
	if err != nil {
		return err
	}
	if changed {
		o.notify(ctx, b, repository.NotifyBookingCancelled, p, map[string]any{"reason": reason})
		o.metrics.Saga("hold_failed", "cancelled")
	}
	return nil
}

// onCaptureSucceeded подтверждает запрошенное списание и завершает бронь, если поездка завершена.
func (o *Orchestrator) onCaptureSucceeded(ctx context.Context, p *entity.Payment, origin valueobject.Origin) error {
	captured, changed, err := o.payments.Capture(ctx, p.ID, origin)
	if err != nil {
		return err
	}
	b, err := o.bookings.Get(ctx, captured.BookingID)
	if err != nil {
		return err
	}
	if changed {
		o.notify(ctx, b, repository.NotifyPaymentCaptured, captured, nil)
	}
	return o.finishIfCompleted(ctx, b)
}

// onRefunded фиксирует накопленную сумму возврата, подтверждённую процессором.
func (o *Orchestrator) onRefunded(ctx context.Context, p *entity.Payment, total int64, origin valueobject.Origin) error {
	refunded, changed, err := o.payments.RefundTo(ctx, p.ID, total, origin)
	if err != nil || !changed {
		return err
	}
	b, err := o.bookings.Get(ctx, refunded.BookingID)
	if err != nil {
		return err
	}
	o.notify(ctx, b, repository.NotifyPaymentRefunded, refunded, map[string]any{"amount": refunded.AmountRefunded})
	return nil
}

// onHoldReleased: intent отменён у процессора. Неудержанный платёж проваливается
// с отменой брони, удержанный считается полностью возвращённым.
func (o *Orchestrator) onHoldReleased(ctx context.Context, p *entity.Payment, origin valueobject.Origin) error {
	if p.Status == valueobject.PaymentStatusIntent {
		return o.onHoldFailed(ctx, p, "платёж отменён процессором", origin)
	}
	return o.onRefunded(ctx, p, p.Amount.Amount, origin)
}

func (o *Orchestrator) onDisputeCreated(ctx context.Context, p *entity.Payment, ev *entity.ProcessorEvent) error {
	if ev.Dispute == nil {
		return apperror.New(apperror.ErrCodeValidation, "событие спора без данных спора")
	}
	d, created, err := o.disputes.Open(ctx, dispute.OpenInput{
		PaymentID:     p.ID,
		Reason:        ev.Dispute.Reason,
		ExternalID:    ev.Dispute.ExternalID,
		EvidenceDueBy: ev.Dispute.EvidenceDueBy,
	})
	if err != nil || !created {
		return err
	}
	b, err := o.bookings.Get(ctx, d.BookingID)
	if err != nil {
		return err
	}
	o.notify(ctx, b, repository.NotifyDisputeOpened, p, map[string]any{"dispute_id": d.ID, "reason": d.Reason})
	o.metrics.Saga("dispute", "opened")
	return nil
}

// finishIfCompleted завершает подтверждённую бронь, если поездка завершена и платёж списан.
func (o *Orchestrator) finishIfCompleted(ctx context.Context, b *entity.Booking) error {
	if b.Status != valueobject.BookingStatusConfirmed {
		return nil
	}
	trip, err := o.trips.GetTrip(ctx, b.TripID)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить поездку")
	}
	if trip.Status != valueobject.TripStatusCompleted {
		return nil
	}
	finished, changed, err := o.bookings.Finish(ctx, b.ID)
	if err != nil {
		return err
	}
	if changed {
		o.notify(ctx, finished, repository.NotifyBookingFinished, nil, nil)
	}
	return nil
}
