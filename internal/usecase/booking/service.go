package booking

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
	"github.com/ignatzorin/carpool-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/carpool-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/carpool-escrow/internal/pkg/retry"
	"github.com/sirupsen/logrus"
)

// SeatLedger - учёт мест, через который бронь резервирует и освобождает места.
type SeatLedger interface {
	Reserve(ctx context.Context, tripID uuid.UUID, seats int, reservationID uuid.UUID) (*entity.Reservation, bool, error)
	Release(ctx context.Context, tripID, reservationID uuid.UUID) error
}

type CreateInput struct {
	TripID         uuid.UUID
	PassengerID    uuid.UUID
	Seats          int
	IdempotencyKey string
}

// Service - конечный автомат брони. Переходы пишутся с проверкой версии
// и при конфликте применяются заново к актуальному состоянию.
type Service struct {
	bookings repository.BookingRepository
	trips    repository.TripCatalogue
	ledger   SeatLedger
	log      logrus.FieldLogger
}

func NewService(bookings repository.BookingRepository, trips repository.TripCatalogue, ledger SeatLedger, log logrus.FieldLogger) *Service {
	return &Service{bookings: bookings, trips: trips, ledger: ledger, log: log}
}

// Create резервирует места и создаёт бронь в PENDING. Повтор с тем же ключом
// идемпотентности возвращает существующую бронь и created=false.
func (s *Service) Create(ctx context.Context, in CreateInput) (*entity.Booking, bool, error) {
	if in.IdempotencyKey != "" {
		existing, err := s.bookings.FindByIdempotencyKey(ctx, in.PassengerID, in.IdempotencyKey)
		switch {
		case err == nil:
			if !existing.Matches(in.TripID, in.Seats) {
				return nil, false, apperror.New(apperror.ErrCodeIdempotencyMismatch,
					"ключ идемпотентности уже использован для другого запроса")
			}
			return existing, false, nil
		case !errors.Is(err, repository.ErrNotFound):
			return nil, false, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось проверить ключ идемпотентности")
		}
	}

	trip, err := s.trips.GetTrip(ctx, in.TripID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, apperror.ErrTripNotFound
		}
		return nil, false, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить поездку")
	}
	if err := trip.EnsureBookable(); err != nil {
		return nil, false, err
	}

	booking, err := entity.NewBooking(trip, in.PassengerID, in.Seats, in.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}

	_, reserved, err := s.ledger.Reserve(ctx, trip.ID, booking.Seats, booking.ReservationID)
	if err != nil {
		return nil, false, err
	}

	if err := s.bookings.Create(ctx, booking); err != nil {
		if errors.Is(err, repository.ErrDuplicate) && in.IdempotencyKey != "" {
			return s.resolveDuplicate(ctx, in, booking, reserved)
		}
		// С ключом идемпотентности резервация общая для всех запросов с этим ключом:
		// её оставляем, повтор клиента подхватит те же места.
		if reserved && in.IdempotencyKey == "" {
			s.release(ctx, booking, "failed to release seats after booking insert failure")
		}
		return nil, false, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось создать бронирование")
	}

	s.log.WithFields(logrus.Fields{
		"booking_id":   booking.ID,
		"trip_id":      booking.TripID,
		"passenger_id": booking.PassengerID,
		"seats":        booking.Seats,
	}).Info("booking created")
	return booking, true, nil
}

// resolveDuplicate разбирает проигрыш гонки двух запросов с одним ключом идемпотентности.
// Резервация на той же поездке принадлежит победителю и не освобождается.
func (s *Service) resolveDuplicate(ctx context.Context, in CreateInput, booking *entity.Booking, reserved bool) (*entity.Booking, bool, error) {
	existing, err := s.bookings.FindByIdempotencyKey(ctx, in.PassengerID, in.IdempotencyKey)
	if err != nil {
		return nil, false, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось прочитать бронь по ключу идемпотентности")
	}
	if existing.Matches(in.TripID, in.Seats) {
		return existing, false, nil
	}
	if reserved && existing.TripID != booking.TripID {
		s.release(ctx, booking, "failed to release seats of mismatched idempotent request")
	}
	return nil, false, apperror.New(apperror.ErrCodeIdempotencyMismatch,
		"ключ идемпотентности уже использован для другого запроса")
}

func (s *Service) release(ctx context.Context, booking *entity.Booking, msg string) {
	if err := s.ledger.Release(ctx, booking.TripID, booking.ReservationID); err != nil {
		s.log.WithError(err).WithField("booking_id", booking.ID).Error(msg)
	}
}

// Confirm: PENDING -> CONFIRMED после подтверждения удержания.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*entity.Booking, bool, error) {
	return s.mutate(ctx, id, func(b *entity.Booking) (bool, error) {
		return b.Confirm()
	})
}

// Cancel переводит бронь в CANCELLED и освобождает её места. Повторная отмена
// ничего не меняет, но повторяет освобождение на случай сбоя после записи.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor valueobject.Actor, reason string) (*entity.Booking, bool, error) {
	b, changed, err := s.mutate(ctx, id, func(b *entity.Booking) (bool, error) {
		if !b.CanBeCancelledBy(actor) {
			return false, apperror.ErrForbidden
		}
		return b.Cancel(actor, reason)
	})
	if err != nil {
		return nil, false, err
	}
	if b.Status != valueobject.BookingStatusCancelled {
		return b, false, nil
	}

	if err := s.ledger.Release(ctx, b.TripID, b.ReservationID); err != nil {
		return b, changed, err
	}
	if changed {
		s.log.WithFields(logrus.Fields{
			"booking_id": b.ID,
			"trip_id":    b.TripID,
			"actor":      actor.String(),
			"reason":     reason,
		}).Info("booking cancelled, seats released")
	}
	return b, changed, nil
}

// Finish: CONFIRMED -> FINISHED после списания оплаты.
func (s *Service) Finish(ctx context.Context, id uuid.UUID) (*entity.Booking, bool, error) {
	return s.mutate(ctx, id, func(b *entity.Booking) (bool, error) {
		return b.Finish()
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*entity.Booking, error) {
	b, err := s.bookings.FindByID(ctx, id)
	if err != nil {
		return nil, translateNotFound(err)
	}
	return b, nil
}

func (s *Service) ListByTrip(ctx context.Context, tripID uuid.UUID, statuses ...valueobject.BookingStatus) ([]*entity.Booking, error) {
	list, err := s.bookings.ListByTrip(ctx, tripID, statuses...)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить бронирования поездки")
	}
	return list, nil
}

func (s *Service) mutate(ctx context.Context, id uuid.UUID, apply func(*entity.Booking) (bool, error)) (*entity.Booking, bool, error) {
	return retry.OnConflict(ctx,
		func(ctx context.Context) (*entity.Booking, error) {
			return s.Get(ctx, id)
		},
		apply,
		s.bookings.Update,
	)
}

func translateNotFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperror.ErrBookingNotFound
	}
	return apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить бронирование")
}
