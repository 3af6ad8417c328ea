package escrow

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
	"github.com/ignatzorin/carpool-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/carpool-escrow/internal/pkg/apperror"
	"github.com/sirupsen/logrus"
)

// HandleReconcileTask - обработчик отложенной задачи сверки.
func (o *Orchestrator) HandleReconcileTask(ctx context.Context, payload []byte) error {
	var task reconcileTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeValidation, "некорректная задача сверки")
	}
	return o.ReconcilePayment(ctx, task.PaymentID, task.Attempt)
}

// ReconcilePayment опрашивает процессор о фактическом состоянии платежа с неизвестным
// исходом и применяет соответствующий локальный переход с источником reconciliation.
// Пока исход не ясен, сверка перепланируется с ограниченным числом попыток.
func (o *Orchestrator) ReconcilePayment(ctx context.Context, paymentID uuid.UUID, attempt int) error {
	p, err := o.payments.Get(ctx, paymentID)
	if err != nil {
		return err
	}
	if p.Status.IsTerminal() && p.PendingOp == valueobject.PendingNone {
		return nil
	}
	b, err := o.bookings.Get(ctx, p.BookingID)
	if err != nil {
		return err
	}
	log := o.log.WithFields(logrus.Fields{"payment_id": p.ID, "booking_id": b.ID, "attempt": attempt})

	if p.IntentID == nil {
		return o.replayCreateIntent(ctx, b, p, attempt, log)
	}

	intent, err := o.pollIntent(ctx, p)
	if err != nil {
		if isAmbiguous(err) {
			o.scheduleReconcile(ctx, p.ID, attempt+1)
			return nil
		}
		return err
	}

	switch intent.Status {
	case repository.IntentHeld:
		err = o.reconcileHeld(ctx, b, p, log)
	case repository.IntentCaptured:
		err = o.reconcileCaptured(ctx, p, intent)
	case repository.IntentCanceled:
		if p.Status == valueobject.PaymentStatusIntent {
			err = o.onHoldFailed(ctx, p, "платёж отменён процессором", valueobject.OriginReconciliation)
		} else if p.PendingOp == valueobject.PendingRefund {
			err = o.onRefunded(ctx, p, p.Amount.Amount, valueobject.OriginReconciliation)
		}
	default:
		if b.Status == valueobject.BookingStatusCancelled && p.Status == valueobject.PaymentStatusIntent {
			_, err = o.settleCancelled(ctx, b, p)
		} else {
			log.Debug("intent still pending at processor")
			o.scheduleReconcile(ctx, p.ID, attempt+1)
		}
	}

	if err != nil {
		if isAmbiguous(err) {
			return nil
		}
		log.WithError(err).Error("reconciliation failed")
		return err
	}
	o.metrics.Saga("reconcile", string(intent.Status))
	return nil
}

func (o *Orchestrator) reconcileHeld(ctx context.Context, b *entity.Booking, p *entity.Payment, log logrus.FieldLogger) error {
	switch {
	case p.Status == valueobject.PaymentStatusIntent:
		return o.onHoldSucceeded(ctx, p, valueobject.OriginReconciliation, log)
	case p.PendingOp == valueobject.PendingCapture:
		// Списание не состоялось: повторяем с тем же ключом идемпотентности.
		captured, err := o.capture(ctx, p, valueobject.OriginOrchestrator)
		if err != nil {
			return err
		}
		o.notify(ctx, b, repository.NotifyPaymentCaptured, captured, nil)
		return o.finishIfCompleted(ctx, b)
	case p.PendingOp == valueobject.PendingRefund, p.Status == valueobject.PaymentStatusHold:
		return o.settleHeld(ctx, p)
	}
	return nil
}

func (o *Orchestrator) reconcileCaptured(ctx context.Context, p *entity.Payment, intent *repository.Intent) error {
	if p.Status == valueobject.PaymentStatusHold {
		if err := o.onCaptureSucceeded(ctx, p, valueobject.OriginReconciliation); err != nil {
			return err
		}
	}
	if intent.AmountRefunded > p.AmountRefunded {
		return o.onRefunded(ctx, p, intent.AmountRefunded, valueobject.OriginReconciliation)
	}
	return nil
}

// replayCreateIntent повторяет создание intent с тем же ключом идемпотентности:
// если первый вызов дошёл до процессора, вернётся тот же intent.
func (o *Orchestrator) replayCreateIntent(ctx context.Context, b *entity.Booking, p *entity.Payment, attempt int, log logrus.FieldLogger) error {
	if b.Status.IsTerminal() {
		_, _, err := o.payments.MarkFailed(ctx, p.ID, "бронирование закрыто до создания intent", valueobject.OriginOrchestrator)
		return err
	}
	result := &BookingResult{Booking: b, Payment: p}
	err := o.createProcessorIntent(ctx, b, p, result)
	switch {
	case err == nil:
		log.Info("reconciliation: intent created on replay")
		o.notify(ctx, b, repository.NotifyPaymentIntentReady, result.Payment, nil)
		return nil
	case isAmbiguous(err):
		o.scheduleReconcile(ctx, p.ID, attempt+1)
		return nil
	default:
		o.compensateCreate(ctx, b, p, "платёж отклонён")
		return nil
	}
}
