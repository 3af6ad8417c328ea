package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/ignatzorin/carpool-escrow/internal/domain/valueobject"
)

// TripCatalogue - каталог поездок. Сервис поездок внешний, здесь только чтение
// и сигналы смены статуса.
type TripCatalogue interface {
	GetTrip(ctx context.Context, id uuid.UUID) (*entity.Trip, error)
	// SetTripStatus переводит поездку в status, если её текущий статус входит в from.
	// Возвращает false, если статус уже другой.
	SetTripStatus(ctx context.Context, id uuid.UUID, status valueobject.TripStatus, from ...valueobject.TripStatus) (bool, error)
}
