package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
	"github.com/ignatzorin/carpool-escrow/internal/metrics"
	"github.com/ignatzorin/carpool-escrow/internal/pkg/apperror"
	"github.com/sirupsen/logrus"
)

// Observer получает изменения занятых мест после каждой успешной резервации или освобождения.
type Observer interface {
	InventoryChanged(ctx context.Context, change entity.InventoryChange)
}

// Ledger - учёт занятых мест по поездкам. Замок поездки держит только хранилище
// на время проверки и инкремента; наблюдатели вызываются после него.
type Ledger struct {
	store     repository.InventoryStore
	trips     repository.TripCatalogue
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
	observers []Observer
}

func NewLedger(store repository.InventoryStore, trips repository.TripCatalogue, m *metrics.Metrics, log logrus.FieldLogger) *Ledger {
	return &Ledger{store: store, trips: trips, metrics: m, log: log}
}

func (l *Ledger) Subscribe(o Observer) {
	l.observers = append(l.observers, o)
}

// Reserve резервирует seats мест под токеном reservationID. Повтор с тем же токеном
// возвращает ту же резервацию без повторного списания мест и created=false.
func (l *Ledger) Reserve(ctx context.Context, tripID uuid.UUID, seats int, reservationID uuid.UUID) (*entity.Reservation, bool, error) {
	if seats < 1 {
		return nil, false, apperror.New(apperror.ErrCodeValidation, "нужно зарезервировать хотя бы одно место")
	}
	trip, err := l.trips.GetTrip(ctx, tripID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, apperror.ErrTripNotFound
		}
		return nil, false, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить поездку")
	}

	res := entity.Reservation{ID: reservationID, TripID: tripID, Seats: seats, CreatedAt: time.Now()}
	change, created, err := l.store.Reserve(ctx, res, trip.Capacity)
	if err != nil {
		if errors.Is(err, repository.ErrCapacityExceeded) {
			l.metrics.Reservation("capacity_exceeded")
			return nil, false, apperror.ErrCapacity
		}
		l.metrics.Reservation("error")
		return nil, false, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось зарезервировать места")
	}

	if created {
		l.metrics.Reservation("reserved")
		l.log.WithFields(logrus.Fields{
			"trip_id":        tripID,
			"reservation_id": reservationID,
			"seats":          seats,
			"committed":      change.Committed,
		}).Debug("seats reserved")
		l.notify(ctx, change)
	} else {
		l.metrics.Reservation("replayed")
	}
	return &res, created, nil
}

// Release освобождает резервацию. Освобождение уже освобождённой резервации ничего не делает.
func (l *Ledger) Release(ctx context.Context, tripID, reservationID uuid.UUID) error {
	change, released, err := l.store.Release(ctx, tripID, reservationID)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось освободить места")
	}
	if !released {
		return nil
	}

	trip, err := l.trips.GetTrip(ctx, tripID)
	if err == nil {
		change.Capacity = trip.Capacity
		l.notify(ctx, change)
	} else {
		l.log.WithError(err).WithField("trip_id", tripID).Warn("inventory observers skipped: trip lookup failed")
	}
	l.log.WithFields(logrus.Fields{
		"trip_id":        tripID,
		"reservation_id": reservationID,
		"committed":      change.Committed,
	}).Debug("seats released")
	return nil
}

func (l *Ledger) Committed(ctx context.Context, tripID uuid.UUID) (int, error) {
	return l.store.Committed(ctx, tripID)
}

func (l *Ledger) notify(ctx context.Context, change entity.InventoryChange) {
	for _, o := range l.observers {
		o.InventoryChanged(ctx, change)
	}
}
