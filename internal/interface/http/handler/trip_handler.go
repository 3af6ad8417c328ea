package handler

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/ignatzorin/carpool-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/carpool-escrow/internal/interface/http/dto"
	"github.com/ignatzorin/carpool-escrow/internal/interface/http/response"
	"github.com/ignatzorin/carpool-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/carpool-escrow/internal/usecase/escrow"
)

type TripOrchestrator interface {
	CompleteTrip(ctx context.Context, tripID uuid.UUID, actor valueobject.Actor) (*escrow.TripReport, error)
	CancelTrip(ctx context.Context, tripID uuid.UUID, actor valueobject.Actor, reason string) (*escrow.TripReport, error)
	ListTripBookings(ctx context.Context, tripID uuid.UUID, actor valueobject.Actor, statuses ...valueobject.BookingStatus) ([]*entity.Booking, error)
}

// TripPublisher записывает поездку в каталог.
type TripPublisher interface {
	SaveTrip(ctx context.Context, t *entity.Trip) error
}

type TripHandler struct {
	orchestrator TripOrchestrator
	trips        TripPublisher
	currency     string
}

func NewTripHandler(orchestrator TripOrchestrator, trips TripPublisher, currency string) *TripHandler {
	return &TripHandler{orchestrator: orchestrator, trips: trips, currency: currency}
}

// Publish обслуживает POST /api/trips (водитель).
func (h *TripHandler) Publish(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req dto.PublishTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "некорректные данные запроса")
		return
	}
	if !req.DepartureAt.After(time.Now()) {
		response.BadRequest(c, "время отправления должно быть в будущем")
		return
	}

	price, err := valueobject.NewMoney(req.SeatPrice, h.currency)
	if err != nil {
		response.Error(c, err)
		return
	}
	trip, err := entity.NewTrip(actor.ID, req.Capacity, price, req.DepartureAt)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.trips.SaveTrip(c.Request.Context(), trip); err != nil {
		response.Error(c, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось сохранить поездку"))
		return
	}
	response.Created(c, dto.ToTripResponse(trip))
}

// ListBookings обслуживает GET /api/trips/:id/bookings (водитель поездки).
// Параметр status (можно повторять) сужает выборку.
func (h *TripHandler) ListBookings(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	tripID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var statuses []valueobject.BookingStatus
	for _, raw := range c.QueryArray("status") {
		status, err := valueobject.NewBookingStatus(strings.ToUpper(raw))
		if err != nil {
			response.Error(c, err)
			return
		}
		statuses = append(statuses, status)
	}

	bookings, err := h.orchestrator.ListTripBookings(c.Request.Context(), tripID, actor, statuses...)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto.ToBookingResponses(bookings))
}

// Complete обслуживает POST /api/trips/:id/complete: списание по всем подтверждённым броням.
func (h *TripHandler) Complete(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	tripID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	report, err := h.orchestrator.CompleteTrip(c.Request.Context(), tripID, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, report)
}

// Cancel обслуживает POST /api/trips/:id/cancel: отмена поездки с возвратом по всем броням.
func (h *TripHandler) Cancel(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	tripID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req dto.CancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "некорректные данные запроса")
			return
		}
	}

	report, err := h.orchestrator.CancelTrip(c.Request.Context(), tripID, actor, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, report)
}
