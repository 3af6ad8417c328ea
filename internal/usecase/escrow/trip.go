package escrow

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
	"github.com/ignatzorin/carpool-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/carpool-escrow/internal/goroutine"
	"github.com/ignatzorin/carpool-escrow/internal/pkg/apperror"
	"github.com/sirupsen/logrus"
)

type BookingFailure struct {
	BookingID uuid.UUID `json:"booking_id"`
	Code      string    `json:"code"`
	Error     string    `json:"error"`
}

// TripReport - итог массовой операции по броням поездки. Каждая бронь
// обрабатывается независимо, ошибка одной не мешает остальным.
type TripReport struct {
	TripID    uuid.UUID        `json:"trip_id"`
	Captured  []uuid.UUID      `json:"captured"`
	Cancelled []uuid.UUID      `json:"cancelled"`
	Skipped   []uuid.UUID      `json:"skipped"`
	Pending   []uuid.UUID      `json:"pending"`
	Failed    []BookingFailure `json:"failed"`

	mu sync.Mutex
}

func (r *TripReport) add(list *[]uuid.UUID, id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*list = append(*list, id)
}

func (r *TripReport) fail(id uuid.UUID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failed = append(r.Failed, BookingFailure{BookingID: id, Code: string(apperror.CodeOf(err)), Error: err.Error()})
}

// CompleteTrip отмечает поездку завершённой и списывает оплату по каждой подтверждённой
// брони. Неподтверждённые брони отменяются. Повторный вызов добирает то, что не удалось.
func (o *Orchestrator) CompleteTrip(ctx context.Context, tripID uuid.UUID, actor valueobject.Actor) (*TripReport, error) {
	if _, err := o.authorizeTrip(ctx, tripID, actor); err != nil {
		return nil, err
	}
	ok, err := o.trips.SetTripStatus(ctx, tripID, valueobject.TripStatusCompleted,
		valueobject.TripStatusOpen, valueobject.TripStatusClosed, valueobject.TripStatusCompleted)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось завершить поездку")
	}
	if !ok {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "отменённую поездку нельзя завершить")
	}

	bookings, err := o.bookings.ListByTrip(ctx, tripID, valueobject.BookingStatusPending, valueobject.BookingStatusConfirmed)
	if err != nil {
		return nil, err
	}

	report := &TripReport{TripID: tripID}
	goroutine.ForEach(ctx, o.cfg.WorkerPoolSize, bookings, func(ctx context.Context, b *entity.Booking) {
		o.completeBooking(ctx, b, report)
	})

	o.log.WithFields(logrus.Fields{
		"trip_id":   tripID,
		"captured":  len(report.Captured),
		"cancelled": len(report.Cancelled),
		"skipped":   len(report.Skipped),
		"pending":   len(report.Pending),
		"failed":    len(report.Failed),
	}).Info("trip completed")
	o.metrics.Saga("complete_trip", "ok")
	return report, nil
}

func (o *Orchestrator) completeBooking(ctx context.Context, b *entity.Booking, report *TripReport) {
	log := o.log.WithFields(logrus.Fields{"booking_id": b.ID, "trip_id": b.TripID})

	if b.Status == valueobject.BookingStatusPending {
		if _, err := o.CancelBooking(ctx, b.ID, valueobject.SystemActor(), "поездка завершена, оплата не подтверждена"); err != nil {
			report.fail(b.ID, err)
			return
		}
		report.add(&report.Cancelled, b.ID)
		return
	}

	p, err := o.payments.Latest(ctx, b.ID)
	if err != nil {
		report.fail(b.ID, err)
		return
	}

	if p.Status != valueobject.PaymentStatusCaptured {
		captured, err := o.capture(ctx, p, valueobject.OriginOrchestrator)
		switch {
		case err == nil:
			o.notify(ctx, b, repository.NotifyPaymentCaptured, captured, nil)
		case apperror.HasCode(err, apperror.ErrCodePaymentFrozen):
			log.Warn("capture skipped: payment frozen by dispute")
			report.add(&report.Skipped, b.ID)
			return
		case isAmbiguous(err):
			report.add(&report.Pending, b.ID)
			return
		default:
			log.WithError(err).Error("capture failed")
			o.metrics.Saga("capture", "failed")
			report.fail(b.ID, err)
			return
		}
	}

	if err := o.finishIfCompleted(ctx, b); err != nil {
		report.fail(b.ID, err)
		return
	}
	report.add(&report.Captured, b.ID)
}

// CancelTrip отменяет поездку и каскадом все её активные брони с возвратом удержаний.
func (o *Orchestrator) CancelTrip(ctx context.Context, tripID uuid.UUID, actor valueobject.Actor, reason string) (*TripReport, error) {
	if _, err := o.authorizeTrip(ctx, tripID, actor); err != nil {
		return nil, err
	}
	ok, err := o.trips.SetTripStatus(ctx, tripID, valueobject.TripStatusCancelled,
		valueobject.TripStatusOpen, valueobject.TripStatusClosed, valueobject.TripStatusCancelled)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось отменить поездку")
	}
	if !ok {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "завершённую поездку нельзя отменить")
	}

	bookings, err := o.bookings.ListByTrip(ctx, tripID, valueobject.BookingStatusPending, valueobject.BookingStatusConfirmed)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "поездка отменена"
	}

	report := &TripReport{TripID: tripID}
	goroutine.ForEach(ctx, o.cfg.WorkerPoolSize, bookings, func(ctx context.Context, b *entity.Booking) {
		res, err := o.CancelBooking(ctx, b.ID, valueobject.SystemActor(), reason)
		if err != nil {
			if apperror.HasCode(err, apperror.ErrCodePaymentFrozen) {
				report.add(&report.Skipped, b.ID)
				return
			}
			report.fail(b.ID, err)
			return
		}
		if res.Payment != nil && !res.Payment.Status.IsTerminal() {
			report.add(&report.Pending, b.ID)
			return
		}
		report.add(&report.Cancelled, b.ID)
	})

	o.log.WithFields(logrus.Fields{
		"trip_id":   tripID,
		"cancelled": len(report.Cancelled),
		"pending":   len(report.Pending),
		"skipped":   len(report.Skipped),
		"failed":    len(report.Failed),
	}).Info("trip cancelled")
	o.metrics.Saga("cancel_trip", "ok")
	return report, nil
}

// ListTripBookings возвращает брони поездки водителю или администратору.
// Пустой statuses означает все брони.
func (o *Orchestrator) ListTripBookings(ctx context.Context, tripID uuid.UUID, actor valueobject.Actor, statuses ...valueobject.BookingStatus) ([]*entity.Booking, error) {
	if _, err := o.authorizeTrip(ctx, tripID, actor); err != nil {
		return nil, err
	}
	bookings, err := o.bookings.ListByTrip(ctx, tripID, statuses...)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить бронирования")
	}
	return bookings, nil
}

func (o *Orchestrator) authorizeTrip(ctx context.Context, tripID uuid.UUID, actor valueobject.Actor) (*entity.Trip, error) {
	trip, err := o.trips.GetTrip(ctx, tripID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.ErrTripNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить поездку")
	}
	if actor.IsPrivileged() || (actor.Role == valueobject.RoleDriver && trip.IsDrivenBy(actor.ID)) {
		return trip, nil
	}
	return nil, apperror.ErrForbidden
}
