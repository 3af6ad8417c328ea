package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/carpool-escrow/internal/pkg/apperror"
)

// Payment - эскроу-платёж по брони. Переходы статуса выполняются только методами ниже,
// каждый принимает источник перехода (Origin).
type Payment struct {
	ID             uuid.UUID
	BookingID      uuid.UUID
	IntentID       *string
	Amount         valueobject.Money
	AmountRefunded int64
	Status         valueobject.PaymentStatus
	PendingOp      valueobject.PendingOperation
	FailureReason  *string
	Metadata       map[string]string
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// ClientSecret возвращается клиенту при создании и не хранится.
	ClientSecret string
}

func NewPayment(booking *Booking) *Payment {
	now := time.Now()
	return &Payment{
		ID:        uuid.New(),
		BookingID: booking.ID,
		Amount:    booking.TotalPrice,
		Status:    valueobject.PaymentStatusIntent,
		Metadata: map[string]string{
			"booking_id":   booking.ID.String(),
			"trip_id":      booking.TripID.String(),
			"passenger_id": booking.PassengerID.String(),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (p *Payment) ExternalID() string {
	if p.IntentID == nil {
		return ""
	}
	return *p.IntentID
}

// Refundable - сумма, которую ещё можно вернуть.
func (p *Payment) Refundable() int64 {
	return p.Amount.Amount - p.AmountRefunded
}

// AttachIntent привязывает идентификатор intent процессора.
func (p *Payment) AttachIntent(intentID, clientSecret string) (bool, error) {
	if p.IntentID != nil {
		if *p.IntentID == intentID {
			p.ClientSecret = clientSecret
			return false, nil
		}
		return false, apperror.New(apperror.ErrCodeInvalidState, "к платежу уже привязан другой intent")
	}
	if p.Status != valueobject.PaymentStatusIntent {
		return false, apperror.Newf(apperror.ErrCodeInvalidState,
			"нельзя привязать intent к платежу в статусе %s", p.Status)
	}
	p.IntentID = &intentID
	p.ClientSecret = clientSecret
	p.UpdatedAt = time.Now()
	return true, nil
}

// MarkHeld: INTENT -> HOLD. Удержание подтверждает только процессор.
func (p *Payment) MarkHeld(origin valueobject.Origin) (bool, error) {
	noop, err := p.guard(valueobject.PaymentStatusHold, origin)
	if noop || err != nil {
		return false, err
	}
	if !origin.IsProcessorReported() {
		return false, originMismatch(valueobject.PaymentStatusHold, origin)
	}
	p.set(valueobject.PaymentStatusHold)
	return true, nil
}

// MarkFailed: INTENT -> FAILED. Удержанный платёж провалить нельзя.
func (p *Payment) MarkFailed(reason string, origin valueobject.Origin) (bool, error) {
	noop, err := p.guard(valueobject.PaymentStatusFailed, origin)
	if noop || err != nil {
		return false, err
	}
	if origin == valueobject.OriginResolution {
		return false, originMismatch(valueobject.PaymentStatusFailed, origin)
	}
	if reason != "" {
		p.FailureReason = &reason
	}
	p.set(valueobject.PaymentStatusFailed)
	return true, nil
}

// BeginCapture фиксирует намерение списать удержание до вызова процессора,
// чтобы подтверждение от процессора было признано ожидаемым.
func (p *Payment) BeginCapture() error {
	if p.Status != valueobject.PaymentStatusHold {
		return apperror.Newf(apperror.ErrCodeInvalidState, "нельзя списать платёж в статусе %s", p.Status)
	}
	p.PendingOp = valueobject.PendingCapture
	p.UpdatedAt = time.Now()
	return nil
}

// BeginRefund проверяет сумму возврата и фиксирует намерение вернуть средства.
func (p *Payment) BeginRefund(amount int64) error {
	switch p.Status {
	case valueobject.PaymentStatusHold:
		if amount != p.Amount.Amount {
			return apperror.New(apperror.ErrCodeValidation, "удержание освобождается только целиком")
		}
	case valueobject.PaymentStatusCaptured:
	default:
		return apperror.Newf(apperror.ErrCodeInvalidState, "нельзя вернуть платёж в статусе %s", p.Status)
	}
	if amount <= 0 {
		return apperror.New(apperror.ErrCodeValidation, "сумма возврата должна быть положительной")
	}
	if amount > p.Refundable() {
		return apperror.Newf(apperror.ErrCodeRefundExceedsAmount,
			"возврат %d превышает доступную сумму %d", amount, p.Refundable())
	}
	p.PendingOp = valueobject.PendingRefund
	p.UpdatedAt = time.Now()
	return nil
}

// Capture: HOLD -> CAPTURED. От процессора принимается только как подтверждение запрошенного списания.
func (p *Payment) Capture(origin valueobject.Origin) (bool, error) {
	noop, err := p.guard(valueobject.PaymentStatusCaptured, origin)
	if noop || err != nil {
		return false, err
	}
	if origin.IsProcessorReported() && p.PendingOp != valueobject.PendingCapture {
		return false, originMismatch(valueobject.PaymentStatusCaptured, origin)
	}
	p.PendingOp = valueobject.PendingNone
	p.set(valueobject.PaymentStatusCaptured)
	return true, nil
}

// RefundTo доводит накопленную сумму возврата до total. Из HOLD возможен только полный возврат,
// из CAPTURED частичный; REFUNDED выставляется, когда вернули всю сумму.
func (p *Payment) RefundTo(total int64, origin valueobject.Origin) (bool, error) {
	if total <= p.AmountRefunded && p.Status != valueobject.PaymentStatusIntent {
		return false, nil
	}
	switch p.Status {
	case valueobject.PaymentStatusHold, valueobject.PaymentStatusCaptured:
	default:
		if _, err := p.guard(valueobject.PaymentStatusRefunded, origin); err != nil {
			return false, err
		}
	}
	if total > p.Amount.Amount {
		return false, apperror.Newf(apperror.ErrCodeRefundExceedsAmount,
			"возврат %d превышает сумму платежа %d", total, p.Amount.Amount)
	}
	if p.Status == valueobject.PaymentStatusHold && total != p.Amount.Amount {
		return false, apperror.New(apperror.ErrCodeValidation, "удержание освобождается только целиком")
	}
	if origin.IsProcessorReported() && p.PendingOp != valueobject.PendingRefund {
		return false, originMismatch(valueobject.PaymentStatusRefunded, origin)
	}

	p.AmountRefunded = total
	p.PendingOp = valueobject.PendingNone
	if total == p.Amount.Amount {
		p.set(valueobject.PaymentStatusRefunded)
	} else {
		p.UpdatedAt = time.Now()
	}
	return true, nil
}

// ClearPending снимает незавершённую операцию после отказа процессора.
func (p *Payment) ClearPending() {
	p.PendingOp = valueobject.PendingNone
	p.UpdatedAt = time.Now()
}

// guard проверяет допустимость перехода. Сообщение процессора, опередившее
// предыдущий шаг жизненного цикла, требует повторной обработки, а не отклоняется.
func (p *Payment) guard(to valueobject.PaymentStatus, origin valueobject.Origin) (bool, error) {
	if p.Status == to {
		return true, nil
	}
	if p.Status.CanTransitionTo(to) {
		return false, nil
	}
	if origin.IsProcessorReported() && p.Status.Stage() < sourceStage(to) {
		return false, apperror.Newf(apperror.ErrCodeReconciliationRequired,
			"событие %s пришло раньше предыдущего шага, платёж в статусе %s", to, p.Status)
	}
	return false, apperror.Newf(apperror.ErrCodeInvalidState,
		"недопустимый переход платежа %s -> %s", p.Status, to)
}

func (p *Payment) set(status valueobject.PaymentStatus) {
	p.Status = status
	p.UpdatedAt = time.Now()
}

func sourceStage(to valueobject.PaymentStatus) int {
	switch to {
	case valueobject.PaymentStatusHold, valueobject.PaymentStatusFailed:
		return valueobject.PaymentStatusIntent.Stage()
	default:
		return valueobject.PaymentStatusHold.Stage()
	}
}

func originMismatch(to valueobject.PaymentStatus, origin valueobject.Origin) error {
	return apperror.Newf(apperror.ErrCodeOriginMismatch,
		"переход в %s не может инициировать источник %s", to, origin)
}
