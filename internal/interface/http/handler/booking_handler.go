package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/carpool-escrow/internal/interface/http/dto"
	"github.com/ignatzorin/carpool-escrow/internal/interface/http/response"
	"github.com/ignatzorin/carpool-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/carpool-escrow/internal/usecase/escrow"
)

const idempotencyHeader = "Idempotency-Key"

type BookingOrchestrator interface {
	CreateBooking(ctx context.Context, in escrow.CreateBookingInput) (*escrow.BookingResult, error)
	CancelBooking(ctx context.Context, bookingID uuid.UUID, actor valueobject.Actor, reason string) (*escrow.BookingResult, error)
	GetBooking(ctx context.Context, id uuid.UUID, actor valueobject.Actor) (*escrow.BookingDetails, error)
}

type BookingHandler struct {
	orchestrator BookingOrchestrator
}

func NewBookingHandler(orchestrator BookingOrchestrator) *BookingHandler {
	return &BookingHandler{orchestrator: orchestrator}
}

// Create обслуживает POST /api/bookings. Повтор с тем же Idempotency-Key
// возвращает уже созданную бронь.
func (h *BookingHandler) Create(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req dto.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "некорректные данные запроса")
		return
	}
	key := c.GetHeader(idempotencyHeader)
	if len(key) > 255 {
		response.BadRequest(c, "слишком длинный "+idempotencyHeader)
		return
	}

	result, err := h.orchestrator.CreateBooking(c.Request.Context(), escrow.CreateBookingInput{
		TripID:          uuid.MustParse(req.TripID),
		PassengerID:     actor.ID,
		Seats:           req.Seats,
		IdempotencyKey:  key,
		PaymentMethodID: req.PaymentMethodID,
	})
	if err != nil {
		if result != nil && apperror.HasCode(err, apperror.ErrCodeProcessorUnknownOutcome) {
			response.Accepted(c, toCreateResponse(result), err)
			return
		}
		response.Error(c, err)
		return
	}

	if result.Replayed {
		response.Success(c, toCreateResponse(result))
		return
	}
	response.Created(c, toCreateResponse(result))
}

// Get обслуживает GET /api/bookings/:id.
func (h *BookingHandler) Get(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	details, err := h.orchestrator.GetBooking(c.Request.Context(), id, actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := dto.BookingDetailsResponse{
		Booking:  dto.ToBookingResponse(details.Booking),
		Payments: make([]dto.PaymentResponse, 0, len(details.Payments)),
		Disputes: dto.ToDisputeResponses(details.Disputes),
	}
	for _, p := range details.Payments {
		resp.Payments = append(resp.Payments, *dto.ToPaymentResponse(p))
	}
	response.Success(c, resp)
}

// Cancel обслуживает POST /api/bookings/:id/cancel.
func (h *BookingHandler) Cancel(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
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

	result, err := h.orchestrator.CancelBooking(c.Request.Context(), id, actor, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toCreateResponse(result))
}

func toCreateResponse(r *escrow.BookingResult) dto.CreateBookingResponse {
	return dto.CreateBookingResponse{
		Booking:  dto.ToBookingResponse(r.Booking),
		Payment:  dto.ToPaymentResponse(r.Payment),
		Replayed: r.Replayed,
	}
}
