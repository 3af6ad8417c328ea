package repository

import (
	"context"

	"github.com/google/uuid"
)

const (
	NotifyBookingConfirmed   = "booking.confirmed"
	NotifyBookingCancelled   = "booking.cancelled"
	NotifyBookingFinished    = "booking.finished"
	NotifyPaymentCaptured    = "payment.captured"
	NotifyPaymentRefunded    = "payment.refunded"
	NotifyPaymentIntentReady = "payment.intent_ready"
	NotifyDisputeOpened      = "dispute.opened"
	NotifyDisputeResolved    = "dispute.resolved"
)

type Notification struct {
	Type      string         `json:"type"`
	BookingID uuid.UUID      `json:"booking_id"`
	PaymentID *uuid.UUID     `json:"payment_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Notifier доставляет уведомления без ожидания и без гарантий доставки.
type Notifier interface {
	Notify(ctx context.Context, recipients []uuid.UUID, n Notification)
}
