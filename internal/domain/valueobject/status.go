package valueobject

import "github.com/ignatzorin/carpool-escrow/internal/pkg/apperror"

type TripStatus string

const (
	TripStatusOpen      TripStatus = "OPEN"
	TripStatusClosed    TripStatus = "CLOSED"
	TripStatusCancelled TripStatus = "CANCELLED"
	TripStatusCompleted TripStatus = "COMPLETED"
)

func (s TripStatus) IsValid() bool {
	switch s {
	case TripStatusOpen, TripStatusClosed, TripStatusCancelled, TripStatusCompleted:
		return true
	}
	return false
}

func (s TripStatus) CanTransitionTo(newStatus TripStatus) bool {
	return allowed(tripTransitions, s, newStatus)
}

var tripTransitions = map[TripStatus][]TripStatus{
	TripStatusOpen:      {TripStatusClosed, TripStatusCancelled, TripStatusCompleted},
	TripStatusClosed:    {TripStatusOpen, TripStatusCancelled, TripStatusCompleted},
	TripStatusCancelled: {},
	TripStatusCompleted: {},
}

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "PENDING"
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
	BookingStatusFinished  BookingStatus = "FINISHED"
)

func (s BookingStatus) IsValid() bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusCancelled, BookingStatusFinished:
		return true
	}
	return false
}

// HoldsSeats сообщает, учитываются ли места брони в занятой ёмкости поездки.
func (s BookingStatus) HoldsSeats() bool {
	return s == BookingStatusPending || s == BookingStatusConfirmed
}

func (s BookingStatus) IsTerminal() bool {
	return s == BookingStatusCancelled || s == BookingStatusFinished
}

func (s BookingStatus) CanTransitionTo(newStatus BookingStatus) bool {
	return allowed(bookingTransitions, s, newStatus)
}

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:   {BookingStatusConfirmed, BookingStatusCancelled},
	BookingStatusConfirmed: {BookingStatusFinished, BookingStatusCancelled},
	BookingStatusCancelled: {},
	BookingStatusFinished:  {},
}

func NewBookingStatus(status string) (BookingStatus, error) {
	s := BookingStatus(status)
	if !s.IsValid() {
		return "", apperror.New(apperror.ErrCodeValidation, "некорректный статус бронирования")
	}
	return s, nil
}

type PaymentStatus string

const (
	PaymentStatusIntent   PaymentStatus = "INTENT"
	PaymentStatusHold     PaymentStatus = "HOLD"
	PaymentStatusCaptured PaymentStatus = "CAPTURED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
	PaymentStatusFailed   PaymentStatus = "FAILED"
)

func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusIntent, PaymentStatusHold, PaymentStatusCaptured, PaymentStatusRefunded, PaymentStatusFailed:
		return true
	}
	return false
}

// IsTerminal: CAPTURED остаётся нетерминальным для частичных возвратов,
// но новый платёж по брони создать уже нельзя, поэтому он считается активным.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusRefunded || s == PaymentStatusFailed
}

// Stage задаёт порядок статусов вдоль жизненного цикла: INTENT < HOLD < итоговые.
func (s PaymentStatus) Stage() int {
	switch s {
	case PaymentStatusIntent:
		return 0
	case PaymentStatusHold:
		return 1
	default:
		return 2
	}
}

func (s PaymentStatus) CanTransitionTo(newStatus PaymentStatus) bool {
	return allowed(paymentTransitions, s, newStatus)
}

// HOLD -> FAILED запрещён: удержанные средства можно только списать или вернуть.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusIntent:   {PaymentStatusHold, PaymentStatusFailed},
	PaymentStatusHold:     {PaymentStatusCaptured, PaymentStatusRefunded},
	PaymentStatusCaptured: {PaymentStatusRefunded},
	PaymentStatusRefunded: {},
	PaymentStatusFailed:   {},
}

type DisputeStatus string

const (
	DisputeStatusOpen            DisputeStatus = "OPEN"
	DisputeStatusResolvedRefund  DisputeStatus = "RESOLVED_REFUND"
	DisputeStatusResolvedCapture DisputeStatus = "RESOLVED_CAPTURE"
)

func (s DisputeStatus) IsValid() bool {
	switch s {
	case DisputeStatusOpen, DisputeStatusResolvedRefund, DisputeStatusResolvedCapture:
		return true
	}
	return false
}

// DisputeOutcome - административное решение по спору.
type DisputeOutcome string

const (
	DisputeOutcomeRefund  DisputeOutcome = "REFUND"
	DisputeOutcomeCapture DisputeOutcome = "CAPTURE"
)

func NewDisputeOutcome(outcome string) (DisputeOutcome, error) {
	switch o := DisputeOutcome(outcome); o {
	case DisputeOutcomeRefund, DisputeOutcomeCapture:
		return o, nil
	}
	return "", apperror.New(apperror.ErrCodeValidation, "исход спора должен быть REFUND или CAPTURE")
}

// ResolvedStatus возвращает статус спора для исхода.
func (o DisputeOutcome) ResolvedStatus() DisputeStatus {
	if o == DisputeOutcomeCapture {
		return DisputeStatusResolvedCapture
	}
	return DisputeStatusResolvedRefund
}

func allowed[S comparable](table map[S][]S, from, to S) bool {
	next, ok := table[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}
