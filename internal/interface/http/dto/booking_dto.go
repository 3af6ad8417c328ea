package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
)

type CreateBookingRequest struct {
	TripID          string `json:"trip_id" binding:"required,uuid"`
	Seats           int    `json:"seats" binding:"required,min=1"`
	PaymentMethodID string `json:"payment_method_id" binding:"omitempty,max=255"`
}

type CancelRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

type MoneyResponse struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type BookingResponse struct {
	ID                 uuid.UUID     `json:"id"`
	TripID             uuid.UUID     `json:"trip_id"`
	PassengerID        uuid.UUID     `json:"passenger_id"`
	Seats              int           `json:"seats"`
	TotalPrice         MoneyResponse `json:"total_price"`
	Status             string        `json:"status"`
	CancellationReason *string       `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

type PaymentResponse struct {
	ID             uuid.UUID     `json:"id"`
	IntentID       *string       `json:"intent_id,omitempty"`
	ClientSecret   string        `json:"client_secret,omitempty"`
	Amount         MoneyResponse `json:"amount"`
	AmountRefunded int64         `json:"amount_refunded"`
	Status         string        `json:"status"`
	PendingOp      string        `json:"pending_op,omitempty"`
	FailureReason  *string       `json:"failure_reason,omitempty"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

type DisputeResponse struct {
	ID            uuid.UUID  `json:"id"`
	BookingID     uuid.UUID  `json:"booking_id"`
	PaymentID     uuid.UUID  `json:"payment_id"`
	Reason        string     `json:"reason"`
	Status        string     `json:"status"`
	EvidenceDueBy *time.Time `json:"evidence_due_by,omitempty"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// CreateBookingResponse - бронь и платёж; client_secret нужен клиенту для подтверждения удержания.
type CreateBookingResponse struct {
	Booking  BookingResponse  `json:"booking"`
	Payment  *PaymentResponse `json:"payment,omitempty"`
	Replayed bool             `json:"replayed"`
}

type BookingDetailsResponse struct {
	Booking  BookingResponse   `json:"booking"`
	Payments []PaymentResponse `json:"payments"`
	Disputes []DisputeResponse `json:"disputes"`
}

func ToBookingResponse(b *entity.Booking) BookingResponse {
	return BookingResponse{
		ID:                 b.ID,
		TripID:             b.TripID,
		PassengerID:        b.PassengerID,
		Seats:              b.Seats,
		TotalPrice:         MoneyResponse{Amount: b.TotalPrice.Amount, Currency: b.TotalPrice.Currency},
		Status:             string(b.Status),
		CancellationReason: b.CancellationReason,
		CreatedAt:          b.CreatedAt,
		UpdatedAt:          b.UpdatedAt,
	}
}

func ToBookingResponses(bookings []*entity.Booking) []BookingResponse {
	out := make([]BookingResponse, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, ToBookingResponse(b))
	}
	return out
}

func ToPaymentResponse(p *entity.Payment) *PaymentResponse {
	if p == nil {
		return nil
	}
	return &PaymentResponse{
		ID:             p.ID,
		IntentID:       p.IntentID,
		ClientSecret:   p.ClientSecret,
		Amount:         MoneyResponse{Amount: p.Amount.Amount, Currency: p.Amount.Currency},
		AmountRefunded: p.AmountRefunded,
		Status:         string(p.Status),
		PendingOp:      string(p.PendingOp),
		FailureReason:  p.FailureReason,
		UpdatedAt:      p.UpdatedAt,
	}
}

func ToDisputeResponse(d *entity.Dispute) DisputeResponse {
	return DisputeResponse{
		ID:            d.ID,
		BookingID:     d.BookingID,
		PaymentID:     d.PaymentID,
		Reason:        d.Reason,
		Status:        string(d.Status),
		EvidenceDueBy: d.EvidenceDueBy,
		ResolvedAt:    d.ResolvedAt,
		CreatedAt:     d.CreatedAt,
	}
}

func ToDisputeResponses(disputes []*entity.Dispute) []DisputeResponse {
	out := make([]DisputeResponse, 0, len(disputes))
	for _, d := range disputes {
		out = append(out, ToDisputeResponse(d))
	}
	return out
}
