package escrow

import (
	"context"
	"fmt"

	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
	"github.com/ignatzorin/carpool-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/carpool-escrow/internal/pkg/apperror"
	"github.com/sirupsen/logrus"
)

// capture списывает удержание: отметка намерения, вызов процессора, фиксация результата.
// При неизвестном исходе отметка остаётся, и сверка доведёт платёж до конца.
func (o *Orchestrator) capture(ctx context.Context, p *entity.Payment, origin valueobject.Origin) (*entity.Payment, error) {
	if p.Status == valueobject.PaymentStatusCaptured {
		return p, nil
	}
	p, err := o.payments.BeginCapture(ctx, p.ID, origin)
	if err != nil {
		return nil, err
	}

	err = o.call(ctx, "capture", func(ctx context.Context) error {
		_, err := o.processor.Capture(ctx, p.ExternalID(), p.Amount.Amount, "capture-"+p.ID.String())
		return err
	})
	if err != nil {
		return nil, o.processorFailed(ctx, p, "capture", err)
	}

	p, _, err = o.payments.Capture(ctx, p.ID, origin)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// refund возвращает amount. Удержание снимается целиком отменой intent,
// списанный платёж возвращается частично или полностью.
func (o *Orchestrator) refund(ctx context.Context, p *entity.Payment, amount int64, origin valueobject.Origin) (*entity.Payment, error) {
	held := p.Status == valueobject.PaymentStatusHold
	p, err := o.payments.BeginRefund(ctx, p.ID, amount, origin)
	if err != nil {
		return nil, err
	}
	target := p.AmountRefunded + amount

	err = o.call(ctx, "refund", func(ctx context.Context) error {
		if held {
			_, err := o.processor.Cancel(ctx, p.ExternalID(), "cancel-"+p.ID.String())
			return err
		}
		return o.processor.Refund(ctx, p.ExternalID(), amount, fmt.Sprintf("refund-%s-%d", p.ID, target))
	})
	if err != nil {
		return nil, o.processorFailed(ctx, p, "refund", err)
	}

	p, _, err = o.payments.RefundTo(ctx, p.ID, target, origin)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// processorFailed снимает отметку операции при отказе процессора и планирует
// сверку при неизвестном исходе.
func (o *Orchestrator) processorFailed(ctx context.Context, p *entity.Payment, op string, err error) error {
	log := o.log.WithFields(logrus.Fields{"payment_id": p.ID, "booking_id": p.BookingID, "op": op})
	switch {
	case isRejected(err):
		log.WithError(err).Warn("processor rejected operation")
		if _, clearErr := o.payments.ClearPending(ctx, p.ID); clearErr != nil {
			log.WithError(clearErr).Error("failed to clear pending operation")
		}
	case isAmbiguous(err):
		log.WithError(err).Warn("processor outcome unknown, reconciliation scheduled")
		o.scheduleReconcile(ctx, p.ID, 1)
	default:
		log.WithError(err).Error("processor call failed")
	}
	return err
}

// releaseUnheld отменяет intent, по которому средства ещё не удержаны, и помечает платёж FAILED.
func (o *Orchestrator) releaseUnheld(ctx context.Context, p *entity.Payment, reason string) (*entity.Payment, error) {
	if p.IntentID != nil {
		err := o.call(ctx, "cancel", func(ctx context.Context) error {
			_, err := o.processor.Cancel(ctx, p.ExternalID(), "cancel-"+p.ID.String())
			return err
		})
		if err != nil && !isRejected(err) {
			return nil, o.processorFailed(ctx, p, "cancel", err)
		}
	}
	p, _, err := o.payments.MarkFailed(ctx, p.ID, reason, valueobject.OriginOrchestrator)
	return p, err
}

// pollIntent запрашивает фактический статус intent у процессора с ограничением частоты.
func (o *Orchestrator) pollIntent(ctx context.Context, p *entity.Payment) (*repository.Intent, error) {
	if err := o.poll.Wait(ctx); err != nil {
		return nil, err
	}
	var intent *repository.Intent
	err := o.call(ctx, "get_intent", func(ctx context.Context) error {
		var err error
		intent, err = o.processor.GetIntent(ctx, p.ExternalID())
		return err
	})
	return intent, err
}

// settleCancelled доводит платёж отменённой брони до терминального статуса:
// удержание возвращается, неудержанный intent отменяется.
func (o *Orchestrator) settleCancelled(ctx context.Context, b *entity.Booking, p *entity.Payment) (*entity.Payment, error) {
	for attempt := 0; attempt < 3; attempt++ {
		switch p.Status {
		case valueobject.PaymentStatusRefunded, valueobject.PaymentStatusFailed:
			return p, nil

		case valueobject.PaymentStatusHold, valueobject.PaymentStatusCaptured:
			if p.Refundable() == 0 {
				return p, nil
			}
			refunded, err := o.refund(ctx, p, p.Refundable(), valueobject.OriginOrchestrator)
			if err != nil {
				return p, err
			}
			o.notify(ctx, b, repository.NotifyPaymentRefunded, refunded, map[string]any{"amount": refunded.AmountRefunded})
			return refunded, nil

		case valueobject.PaymentStatusIntent:
			if p.IntentID != nil {
				intent, err := o.pollIntent(ctx, p)
				if err != nil {
					return p, o.processorFailed(ctx, p, "get_intent", err)
				}
				if intent.Status == repository.IntentHeld {
					// Процессор уже удержал средства, уведомление ещё не пришло.
					if _, _, err := o.payments.ConfirmHold(ctx, p.ID, valueobject.OriginReconciliation); err != nil && !apperror.IsInvalidState(err) {
						return p, err
					}
					if p, err = o.payments.Get(ctx, p.ID); err != nil {
						return nil, err
					}
					continue
				}
			}
			failed, err := o.releaseUnheld(ctx, p, "бронирование отменено")
			if err == nil {
				return failed, nil
			}
			if !apperror.IsInvalidState(err) {
				return p, err
			}
			// Платёж успел перейти в HOLD: перечитываем и возвращаем удержание.
			if p, err = o.payments.Get(ctx, p.ID); err != nil {
				return nil, err
			}
		}
	}
	return p, apperror.New(apperror.ErrCodeVersionConflict, "платёж изменялся во время отмены, повторите позже")
}
