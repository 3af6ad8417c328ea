package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/carpool-escrow/internal/pkg/apperror"
)

// Trip - проекция поездки из каталога: ёмкость, цена места и статус.
type Trip struct {
	ID          uuid.UUID
	DriverID    uuid.UUID
	Capacity    int
	SeatPrice   valueobject.Money
	DepartureAt time.Time
	Status      valueobject.TripStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func NewTrip(driverID uuid.UUID, capacity int, seatPrice valueobject.Money, departureAt time.Time) (*Trip, error) {
	if capacity < 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "ёмкость поездки не может быть отрицательной")
	}
	now := time.Now()
	return &Trip{
		ID:          uuid.New(),
		DriverID:    driverID,
		Capacity:    capacity,
		SeatPrice:   seatPrice,
		DepartureAt: departureAt,
		Status:      valueobject.TripStatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// EnsureBookable проверяет, что на поездку можно бронировать места. Поездка
// закрывается только когда места закончились, поэтому CLOSED означает нехватку мест.
func (t *Trip) EnsureBookable() error {
	switch t.Status {
	case valueobject.TripStatusOpen:
		return nil
	case valueobject.TripStatusClosed:
		return apperror.ErrCapacity
	default:
		return apperror.ErrTripNotOpen
	}
}

func (t *Trip) IsDrivenBy(userID uuid.UUID) bool {
	return t.DriverID == userID
}

// TransitionTo меняет статус поездки; повторный переход в текущий статус ничего не делает.
func (t *Trip) TransitionTo(status valueobject.TripStatus) (bool, error) {
	if t.Status == status {
		return false, nil
	}
	if !t.Status.CanTransitionTo(status) {
		return false, apperror.Newf(apperror.ErrCodeInvalidState,
			"поездку в статусе %s нельзя перевести в %s", t.Status, status)
	}
	t.Status = status
	t.UpdatedAt = time.Now()
	return true, nil
}
