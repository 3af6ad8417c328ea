package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/carpool-escrow/internal/pkg/apperror"
)

// Dispute - спор (chargeback), открытый процессором. Пока спор открыт, платёж заморожен.
type Dispute struct {
	ID            uuid.UUID
	BookingID     uuid.UUID
	PaymentID     uuid.UUID
	ExternalID    string
	Reason        string
	Status        valueobject.DisputeStatus
	EvidenceDueBy *time.Time
	ResolvedBy    *uuid.UUID
	ResolvedAt    *time.Time
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func NewDispute(payment *Payment, reason, externalID string, evidenceDueBy *time.Time) (*Dispute, error) {
	if externalID == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "не указан внешний идентификатор спора")
	}
	switch payment.Status {
	case valueobject.PaymentStatusHold, valueobject.PaymentStatusCaptured:
	default:
		return nil, apperror.Newf(apperror.ErrCodeInvalidState,
			"спор возможен только по удержанному или списанному платежу, статус %s", payment.Status)
	}
	now := time.Now()
	return &Dispute{
		ID:            uuid.New(),
		BookingID:     payment.BookingID,
		PaymentID:     payment.ID,
		ExternalID:    externalID,
		Reason:        reason,
		Status:        valueobject.DisputeStatusOpen,
		EvidenceDueBy: evidenceDueBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (d *Dispute) IsOpen() bool {
	return d.Status == valueobject.DisputeStatusOpen
}

// Resolve закрывает спор решением администратора.
func (d *Dispute) Resolve(outcome valueobject.DisputeOutcome, adminID uuid.UUID) (bool, error) {
	target := outcome.ResolvedStatus()
	if d.Status == target {
		return false, nil
	}
	if !d.IsOpen() {
		return false, apperror.Newf(apperror.ErrCodeInvalidState, "спор уже разрешён: %s", d.Status)
	}
	now := time.Now()
	d.Status = target
	d.ResolvedBy = &adminID
	d.ResolvedAt = &now
	d.UpdatedAt = now
	return true, nil
}
