package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/carpool-escrow/internal/pkg/apperror"
)

type Booking struct {
	ID                 uuid.UUID
	TripID             uuid.UUID
	PassengerID        uuid.UUID
	DriverID           uuid.UUID
	Seats              int
	UnitPrice          valueobject.Money
	TotalPrice         valueobject.Money
	Status             valueobject.BookingStatus
	ReservationID      uuid.UUID
	IdempotencyKey     *string
	CancellationReason *string
	CancelledBy        *string
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

var bookingNamespace = uuid.MustParse("0b6f5c2e-5f0a-4c35-9a53-2f9d1f6c2a41")

// BookingID выводит идентификатор брони из ключа идемпотентности, чтобы повтор запроса
// после сбоя попал в ту же резервацию мест. Без ключа идентификатор случайный.
func BookingID(passengerID uuid.UUID, idempotencyKey string) uuid.UUID {
	if idempotencyKey == "" {
		return uuid.New()
	}
	return uuid.NewSHA1(bookingNamespace, []byte(passengerID.String()+":"+idempotencyKey))
}

// NewBooking создаёт бронь в PENDING. Идентификатор брони служит и токеном резервации мест.
func NewBooking(trip *Trip, passengerID uuid.UUID, seats int, idempotencyKey string) (*Booking, error) {
	if seats < 1 {
		return nil, apperror.New(apperror.ErrCodeValidation, "нужно забронировать хотя бы одно место")
	}
	if passengerID == uuid.Nil {
		return nil, apperror.New(apperror.ErrCodeValidation, "не указан пассажир")
	}
	if trip.IsDrivenBy(passengerID) {
		return nil, apperror.New(apperror.ErrCodeValidation, "водитель не может бронировать места в своей поездке")
	}

	now := time.Now()
	id := BookingID(passengerID, idempotencyKey)
	b := &Booking{
		ID:            id,
		TripID:        trip.ID,
		PassengerID:   passengerID,
		DriverID:      trip.DriverID,
		Seats:         seats,
		UnitPrice:     trip.SeatPrice,
		TotalPrice:    trip.SeatPrice.Times(seats),
		Status:        valueobject.BookingStatusPending,
		ReservationID: id,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if idempotencyKey != "" {
		b.IdempotencyKey = &idempotencyKey
	}
	return b, nil
}

// Matches сообщает, совпадает ли повторный запрос с тем, которым бронь была создана.
func (b *Booking) Matches(tripID uuid.UUID, seats int) bool {
	return b.TripID == tripID && b.Seats == seats
}

func (b *Booking) IsOwnedBy(userID uuid.UUID) bool {
	return b.PassengerID == userID
}

// CanBeCancelledBy: пассажир отменяет свою бронь, водитель брони на своей поездке, система и админ любые.
func (b *Booking) CanBeCancelledBy(actor valueobject.Actor) bool {
	switch actor.Role {
	case valueobject.RoleSystem, valueobject.RoleAdmin:
		return true
	case valueobject.RolePassenger:
		return b.PassengerID == actor.ID
	case valueobject.RoleDriver:
		return b.DriverID == actor.ID
	}
	return false
}

func (b *Booking) CanBeViewedBy(actor valueobject.Actor) bool {
	return b.CanBeCancelledBy(actor)
}

func (b *Booking) Confirm() (bool, error) {
	return b.transition(valueobject.BookingStatusConfirmed, "подтвердить")
}

func (b *Booking) Finish() (bool, error) {
	return b.transition(valueobject.BookingStatusFinished, "завершить")
}

func (b *Booking) Cancel(actor valueobject.Actor, reason string) (bool, error) {
	changed, err := b.transition(valueobject.BookingStatusCancelled, "отменить")
	if !changed || err != nil {
		return changed, err
	}
	if reason != "" {
		b.CancellationReason = &reason
	}
	by := actor.String()
	b.CancelledBy = &by
	return true, nil
}

func (b *Booking) transition(to valueobject.BookingStatus, verb string) (bool, error) {
	if b.Status == to {
		return false, nil
	}
	if !b.Status.CanTransitionTo(to) {
		return false, apperror.Newf(apperror.ErrCodeInvalidState,
			"невозможно %s бронирование в статусе %s", verb, b.Status)
	}
	b.Status = to
	b.UpdatedAt = time.Now()
	return true, nil
}
