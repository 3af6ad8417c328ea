package repository

import "context"

type IntentStatus string

const (
	// IntentPending - intent ждёт действий плательщика или обрабатывается.
	IntentPending  IntentStatus = "pending"
	IntentHeld     IntentStatus = "held"
	IntentCaptured IntentStatus = "captured"
	IntentCanceled IntentStatus = "canceled"
)

type IntentRequest struct {
	IdempotencyKey string
	Amount         int64
	Currency       string
	Description    string
	Metadata       map[string]string
}

// Intent - снимок платёжного intent на стороне процессора.
type Intent struct {
	ID               string
	ClientSecret     string
	Status           IntentStatus
	AmountCapturable int64
	AmountReceived   int64
	AmountRefunded   int64
	FailureReason    string
}

// PaymentProcessor - внешний платёжный процессор с удержанием средств (manual capture).
// Ошибки возвращаются как AppError с кодами PROCESSOR_TRANSIENT, PROCESSOR_REJECTED
// или PROCESSOR_UNKNOWN_OUTCOME.
type PaymentProcessor interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	ConfirmHold(ctx context.Context, intentID, paymentMethodID string) (*Intent, error)
	Capture(ctx context.Context, intentID string, amount int64, idempotencyKey string) (*Intent, error)
	// Cancel снимает удержание или отменяет ещё не удержанный intent.
	Cancel(ctx context.Context, intentID, idempotencyKey string) (*Intent, error)
	Refund(ctx context.Context, intentID string, amount int64, idempotencyKey string) error
	GetIntent(ctx context.Context, intentID string) (*Intent, error)
}
