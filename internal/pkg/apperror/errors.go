package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden       ErrorCode = "FORBIDDEN"
	ErrCodeBadRequest      ErrorCode = "BAD_REQUEST"
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeDatabaseError   ErrorCode = "DATABASE_ERROR"
	ErrCodeVersionConflict ErrorCode = "VERSION_CONFLICT"

	// Бизнес-правила бронирования.
	ErrCodeCapacityExceeded    ErrorCode = "CAPACITY_EXCEEDED"
	ErrCodeTripNotOpen         ErrorCode = "TRIP_NOT_OPEN"
	ErrCodeInvalidState        ErrorCode = "INVALID_STATE"
	ErrCodeIdempotencyMismatch ErrorCode = "IDEMPOTENCY_MISMATCH"

	// Платёжный процессор и webhooks.
	ErrCodeProcessorTransient      ErrorCode = "PROCESSOR_TRANSIENT"
	ErrCodeProcessorRejected       ErrorCode = "PROCESSOR_REJECTED"
	ErrCodeProcessorUnknownOutcome ErrorCode = "PROCESSOR_UNKNOWN_OUTCOME"
	ErrCodeSignatureInvalid        ErrorCode = "SIGNATURE_INVALID"
	ErrCodeReconciliationRequired  ErrorCode = "RECONCILIATION_REQUIRED"
	ErrCodeOriginMismatch          ErrorCode = "ORIGIN_MISMATCH"
	ErrCodeRefundExceedsAmount     ErrorCode = "REFUND_EXCEEDS_AMOUNT"
	ErrCodePaymentFrozen           ErrorCode = "PAYMENT_FROZEN"
)

type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is позволяет сравнивать ошибки по коду через errors.Is.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Newf(code ErrorCode, format string, args ...any) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeBadRequest, ErrCodeValidation, ErrCodeSignatureInvalid:
		return http.StatusBadRequest
	case ErrCodeCapacityExceeded, ErrCodeTripNotOpen, ErrCodeInvalidState,
		ErrCodeVersionConflict, ErrCodeReconciliationRequired, ErrCodeOriginMismatch:
		return http.StatusConflict
	case ErrCodeIdempotencyMismatch, ErrCodeRefundExceedsAmount:
		return http.StatusUnprocessableEntity
	case ErrCodePaymentFrozen:
		return http.StatusLocked
	case ErrCodeProcessorRejected:
		return http.StatusPaymentRequired
	case ErrCodeProcessorTransient:
		return http.StatusBadGateway
	case ErrCodeProcessorUnknownOutcome:
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf возвращает код ошибки или пустую строку, если это не AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// HasCode проверяет, что в цепочке ошибок есть AppError с указанным кодом.
func HasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeNotFound)
}

func IsForbidden(err error) bool {
	return HasCode(err, ErrCodeForbidden)
}

func IsValidation(err error) bool {
	return HasCode(err, ErrCodeValidation)
}

func IsInvalidState(err error) bool {
	return HasCode(err, ErrCodeInvalidState)
}

var (
	ErrBookingNotFound = New(ErrCodeNotFound, "бронирование не найдено")
	ErrPaymentNotFound = New(ErrCodeNotFound, "платёж не найден")
	ErrDisputeNotFound = New(ErrCodeNotFound, "спор не найден")
	ErrTripNotFound    = New(ErrCodeNotFound, "поездка не найдена")
	ErrUnauthorized    = New(ErrCodeUnauthorized, "требуется авторизация")
	ErrForbidden       = New(ErrCodeForbidden, "недостаточно прав")
	ErrCapacity        = New(ErrCodeCapacityExceeded, "недостаточно свободных мест")
	ErrTripNotOpen     = New(ErrCodeTripNotOpen, "поездка закрыта для бронирования")
	ErrPaymentFrozen   = New(ErrCodePaymentFrozen, "платёж заморожен открытым спором")
)
