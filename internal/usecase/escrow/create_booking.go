package escrow

import (
	"context"

	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
	"github.com/ignatzorin/carpool-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/carpool-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/carpool-escrow/internal/usecase/booking"
	"github.com/sirupsen/logrus"
)

type CreateBookingInput struct {
	TripID          uuid.UUID
	PassengerID     uuid.UUID
	Seats           int
	IdempotencyKey  string
	PaymentMethodID string
}

type BookingResult struct {
	Booking *entity.Booking
	Payment *entity.Payment
	// Replayed: запрос с этим ключом идемпотентности уже выполнялся.
	Replayed bool
}

// CreateBooking: резерв мест -> бронь PENDING -> платёж INTENT -> intent у процессора.
// Отказ процессора или локальная ошибка отменяют бронь и освобождают места.
// Неизвестный исход оставляет бронь в PENDING и планирует сверку; результат
// возвращается вместе с ошибкой PROCESSOR_UNKNOWN_OUTCOME.
func (o *Orchestrator) CreateBooking(ctx context.Context, in CreateBookingInput) (*BookingResult, error) {
	b, created, err := o.bookings.Create(ctx, booking.CreateInput{
		TripID:         in.TripID,
		PassengerID:    in.PassengerID,
		Seats:          in.Seats,
		IdempotencyKey: in.IdempotencyKey,
	})
	if err != nil {
		o.metrics.Saga("create_booking", string(apperror.CodeOf(err)))
		return nil, err
	}

	result := &BookingResult{Booking: b, Replayed: !created}
	if !created && b.Status != valueobject.BookingStatusPending {
		result.Payment, _ = o.payments.Latest(ctx, b.ID)
		return result, nil
	}

	log := o.log.WithFields(logrus.Fields{"booking_id": b.ID, "trip_id": b.TripID})

	p, _, err := o.payments.CreateIntent(ctx, b)
	if err != nil {
		log.WithError(err).Error("payment record creation failed, compensating")
		o.compensateCreate(ctx, b, nil, "не удалось создать платёж")
		o.metrics.Saga("create_booking", "compensated")
		return nil, err
	}
	result.Payment = p

	if p.IntentID == nil {
		if err := o.createProcessorIntent(ctx, b, p, result); err != nil {
			return o.createFailed(ctx, b, p, result, err)
		}
	} else if !created {
		o.refreshClientSecret(ctx, result)
	}

	if in.PaymentMethodID != "" && result.Payment.Status == valueobject.PaymentStatusIntent {
		pay := result.Payment
		err := o.call(ctx, "confirm_hold", func(ctx context.Context) error {
			_, err := o.processor.ConfirmHold(ctx, pay.ExternalID(), in.PaymentMethodID)
			return err
		})
		if err != nil {
			return o.createFailed(ctx, b, pay, result, err)
		}
	}

	o.notify(ctx, b, repository.NotifyPaymentIntentReady, result.Payment, nil)
	o.metrics.Saga("create_booking", "ok")
	log.WithField("payment_id", result.Payment.ID).Info("booking saga: intent created, awaiting hold")
	return result, nil
}

func (o *Orchestrator) createProcessorIntent(ctx context.Context, b *entity.Booking, p *entity.Payment, result *BookingResult) error {
	var intent *repository.Intent
	err := o.call(ctx, "create_intent", func(ctx context.Context) error {
		var err error
		intent, err = o.processor.CreateIntent(ctx, repository.IntentRequest{
			IdempotencyKey: p.ID.String(),
			Amount:         p.Amount.Amount,
			Currency:       p.Amount.Currency,
			Description:    "carpool booking " + b.ID.String(),
			Metadata:       p.Metadata,
		})
		return err
	})
	if err != nil {
		return err
	}
	attached, err := o.payments.AttachIntent(ctx, p.ID, intent.ID, intent.ClientSecret)
	if err != nil {
		return err
	}
	result.Payment = attached
	return nil
}

// createFailed разводит ошибку шага с процессором: неизвестный исход ждёт сверки,
// всё остальное компенсируется отменой брони.
func (o *Orchestrator) createFailed(ctx context.Context, b *entity.Booking, p *entity.Payment, result *BookingResult, err error) (*BookingResult, error) {
	log := o.log.WithFields(logrus.Fields{"booking_id": b.ID, "payment_id": p.ID})
	if isAmbiguous(err) {
		log.WithError(err).Warn("processor outcome unknown, booking left pending for reconciliation")
		o.scheduleReconcile(ctx, p.ID, 1)
		o.metrics.Saga("create_booking", "pending_reconciliation")
		return result, apperror.Wrap(err, apperror.ErrCodeProcessorUnknownOutcome,
			"платёж обрабатывается, статус брони обновится после сверки")
	}

	log.WithError(err).Warn("payment step failed, compensating")
	o.compensateCreate(ctx, b, p, "платёж отклонён")
	o.metrics.Saga("create_booking", "compensated")
	return nil, err
}

// compensateCreate помечает платёж FAILED и отменяет бронь от имени системы,
// что освобождает места. Оба шага идемпотентны.
func (o *Orchestrator) compensateCreate(ctx context.Context, b *entity.Booking, p *entity.Payment, reason string) {
	log := o.log.WithField("booking_id", b.ID)
	if p != nil {
		if _, err := o.releaseUnheld(ctx, p, reason); err != nil && !apperror.IsInvalidState(err) {
			log.WithError(err).Error("compensation: failed to fail payment")
		}
	}
	cancelled, changed, err := o.bookings.Cancel(ctx, b.ID, valueobject.SystemActor(), reason)
	if err != nil {
		log.WithError(err).Error("compensation: failed to cancel booking")
		return
	}
	if changed {
		o.notify(ctx, cancelled, repository.NotifyBookingCancelled, p, map[string]any{"reason": reason})
	}
}

func (o *Orchestrator) refreshClientSecret(ctx context.Context, result *BookingResult) {
	if result.Payment.ClientSecret != "" {
		return
	}
	intent, err := o.pollIntent(ctx, result.Payment)
	if err != nil {
		o.log.WithError(err).WithField("payment_id", result.Payment.ID).Debug("client secret refresh failed")
		return
	}
	result.Payment.ClientSecret = intent.ClientSecret
}
