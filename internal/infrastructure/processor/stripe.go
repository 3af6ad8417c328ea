package processor

import (
	"context"
	"errors"
	"net/http"

	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
	"github.com/ignatzorin/carpool-escrow/internal/pkg/apperror"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// StripeProcessor - PaymentProcessor поверх Stripe PaymentIntents с ручным списанием.
type StripeProcessor struct {
	api *client.API
	log logrus.FieldLogger
}

// Options позволяют подменить HTTP-клиент или адрес API (тесты, прокси).
type Options struct {
	HTTPClient *http.Client
	BaseURL    string
}

func NewStripeProcessor(secretKey string, opts Options, log logrus.FieldLogger) *StripeProcessor {
	cfg := &stripe.BackendConfig{
		HTTPClient: opts.HTTPClient,
		// Повторы делает вызывающая сторона с тем же ключом идемпотентности.
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if opts.BaseURL != "" {
		cfg.URL = stripe.String(opts.BaseURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, cfg)
	api := client.New(secretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
	return &StripeProcessor{api: api, log: log}
}

func (s *StripeProcessor) CreateIntent(ctx context.Context, req repository.IntentRequest) (*repository.Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(req.Currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		Description:   stripe.String(req.Description),
		Metadata:      req.Metadata,
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, classify("create intent", err)
	}
	return toIntent(pi), nil
}

func (s *StripeProcessor) ConfirmHold(ctx context.Context, intentID, paymentMethodID string) (*repository.Intent, error) {
	params := &stripe.PaymentIntentConfirmParams{PaymentMethod: stripe.String(paymentMethodID)}
	params.Context = ctx
	params.SetIdempotencyKey("confirm-" + intentID)

	pi, err := s.api.PaymentIntents.Confirm(intentID, params)
	if err != nil {
		return nil, classify("confirm hold", err)
	}
	return toIntent(pi), nil
}

func (s *StripeProcessor) Capture(ctx context.Context, intentID string, amount int64, idempotencyKey string) (*repository.Intent, error) {
	params := &stripe.PaymentIntentCaptureParams{AmountToCapture: stripe.Int64(amount)}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	pi, err := s.api.PaymentIntents.Capture(intentID, params)
	if err != nil {
		if isUnexpectedState(err) {
			return s.settledAs(ctx, intentID, repository.IntentCaptured, err)
		}
		return nil, classify("capture", err)
	}
	return toIntent(pi), nil
}

func (s *StripeProcessor) Cancel(ctx context.Context, intentID, idempotencyKey string) (*repository.Intent, error) {
	params := &stripe.PaymentIntentCancelParams{CancellationReason: stripe.String("requested_by_customer")}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	pi, err := s.api.PaymentIntents.Cancel(intentID, params)
	if err != nil {
		if isUnexpectedState(err) {
			return s.settledAs(ctx, intentID, repository.IntentCanceled, err)
		}
		return nil, classify("cancel", err)
	}
	return toIntent(pi), nil
}

func (s *StripeProcessor) Refund(ctx context.Context, intentID string, amount int64, idempotencyKey string) error {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
		Amount:        stripe.Int64(amount),
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	if _, err := s.api.Refunds.New(params); err != nil {
		return classify("refund", err)
	}
	return nil
}

func (s *StripeProcessor) GetIntent(ctx context.Context, intentID string) (*repository.Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")

	pi, err := s.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return nil, classify("get intent", err)
	}
	return toIntent(pi), nil
}

// settledAs: Stripe отвечает unexpected_state на повтор уже выполненной операции.
// Если intent уже в целевом состоянии, повтор считается успешным.
func (s *StripeProcessor) settledAs(ctx context.Context, intentID string, want repository.IntentStatus, cause error) (*repository.Intent, error) {
	intent, err := s.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status == want {
		s.log.WithFields(logrus.Fields{"intent_id": intentID, "status": want}).Debug("processor operation already applied")
		return intent, nil
	}
	return nil, classify("state check", cause)
}

func toIntent(pi *stripe.PaymentIntent) *repository.Intent {
	intent := &repository.Intent{
		ID:               pi.ID,
		ClientSecret:     pi.ClientSecret,
		AmountCapturable: pi.AmountCapturable,
		AmountReceived:   pi.AmountReceived,
	}
	switch pi.Status {
	case stripe.PaymentIntentStatusRequiresCapture:
		intent.Status = repository.IntentHeld
	case stripe.PaymentIntentStatusSucceeded:
		intent.Status = repository.IntentCaptured
	case stripe.PaymentIntentStatusCanceled:
		intent.Status = repository.IntentCanceled
	default:
		intent.Status = repository.IntentPending
	}
	if pi.LatestCharge != nil {
		intent.AmountRefunded = pi.LatestCharge.AmountRefunded
	}
	if pi.LastPaymentError != nil {
		intent.FailureReason = pi.LastPaymentError.Msg
	}
	return intent
}

// classify переводит ошибку Stripe в коды процессора: сетевые сбои, 5xx, 429 и
// блокировки - временные, остальные ответы API - отказ.
func classify(op string, err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return apperror.Wrap(err, apperror.ErrCodeProcessorTransient, "stripe "+op+": сбой соединения")
	}
	switch {
	case se.HTTPStatusCode >= http.StatusInternalServerError,
		se.HTTPStatusCode == http.StatusTooManyRequests,
		se.Type == stripe.ErrorTypeAPI,
		se.Code == stripe.ErrorCodeLockTimeout,
		se.Code == stripe.ErrorCodeRateLimit:
		return apperror.Wrap(err, apperror.ErrCodeProcessorTransient, "stripe "+op+": временная ошибка")
	}
	msg := se.Msg
	if msg == "" {
		msg = string(se.Code)
	}
	return apperror.Wrap(err, apperror.ErrCodeProcessorRejected, "stripe "+op+": "+msg)
}

func isUnexpectedState(err error) bool {
	var se *stripe.Error
	return errors.As(err, &se) && se.Code == stripe.ErrorCodePaymentIntentUnexpectedState
}
