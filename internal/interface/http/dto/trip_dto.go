package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
)

type PublishTripRequest struct {
	Capacity    int       `json:"capacity" binding:"required,min=1,max=8"`
	SeatPrice   int64     `json:"seat_price" binding:"required,min=1"`
	DepartureAt time.Time `json:"departure_at" binding:"required"`
}

type TripResponse struct {
	ID          uuid.UUID     `json:"id"`
	DriverID    uuid.UUID     `json:"driver_id"`
	Capacity    int           `json:"capacity"`
	SeatPrice   MoneyResponse `json:"seat_price"`
	DepartureAt time.Time     `json:"departure_at"`
	Status      string        `json:"status"`
}

type ResolveDisputeRequest struct {
	Outcome string `json:"outcome" binding:"required,oneof=REFUND CAPTURE"`
}

func ToTripResponse(t *entity.Trip) TripResponse {
	return TripResponse{
		ID:          t.ID,
		DriverID:    t.DriverID,
		Capacity:    t.Capacity,
		SeatPrice:   MoneyResponse{Amount: t.SeatPrice.Amount, Currency: t.SeatPrice.Currency},
		DepartureAt: t.DepartureAt,
		Status:      string(t.Status),
	}
}
