package escrow

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
	"github.com/ignatzorin/carpool-escrow/internal/metrics"
	"github.com/ignatzorin/carpool-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/carpool-escrow/internal/pkg/retry"
	"github.com/ignatzorin/carpool-escrow/internal/usecase/booking"
	"github.com/ignatzorin/carpool-escrow/internal/usecase/dispute"
	"github.com/ignatzorin/carpool-escrow/internal/usecase/payment"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type Config struct {
	Currency             string
	ProcessorTimeout     time.Duration
	Retry                retry.Policy
	ReconcileDelay       time.Duration
	ReconcileMaxAttempts int
	ReconcilePollRPS     float64
	WorkerPoolSize       int
}

// Orchestrator координирует бронь и платёж: каждая операция - короткая сага
// с явной компенсацией. Вызовы процессора - единственные точки ожидания,
// во время них не удерживается ни один замок.
type Orchestrator struct {
	bookings  *booking.Service
	payments  *payment.Service
	disputes  *dispute.Service
	trips     repository.TripCatalogue
	processor repository.PaymentProcessor
	scheduler repository.Scheduler
	notifier  repository.Notifier
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
	cfg       Config
	poll      *rate.Limiter
}

func NewOrchestrator(
	bookings *booking.Service,
	payments *payment.Service,
	disputes *dispute.Service,
	trips repository.TripCatalogue,
	processor repository.PaymentProcessor,
	scheduler repository.Scheduler,
	notifier repository.Notifier,
	m *metrics.Metrics,
	log logrus.FieldLogger,
	cfg Config,
) *Orchestrator {
	if cfg.ProcessorTimeout <= 0 {
		cfg.ProcessorTimeout = 10 * time.Second
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 1
	}
	limit := rate.Inf
	if cfg.ReconcilePollRPS > 0 {
		limit = rate.Limit(cfg.ReconcilePollRPS)
	}
	return &Orchestrator{
		bookings:  bookings,
		payments:  payments,
		disputes:  disputes,
		trips:     trips,
		processor: processor,
		scheduler: scheduler,
		notifier:  notifier,
		metrics:   m,
		log:       log,
		cfg:       cfg,
		poll:      rate.NewLimiter(limit, 1),
	}
}

// call выполняет вызов процессора с ограничением времени и повторами на временных ошибках.
// Истечение таймаута означает неизвестный исход, такой вызов не повторяется.
func (o *Orchestrator) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	started := time.Now()
	defer o.metrics.ProcessorCall(op, started)

	return retry.Do(ctx, o.cfg.Retry, isTransient, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.ProcessorTimeout)
		defer cancel()
		err := fn(callCtx)
		if err != nil && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return apperror.Wrap(err, apperror.ErrCodeProcessorUnknownOutcome, "процессор не ответил вовремя, исход неизвестен")
		}
		return err
	})
}

func isTransient(err error) bool {
	return apperror.HasCode(err, apperror.ErrCodeProcessorTransient)
}

// isAmbiguous: исход вызова процессора неизвестен, решение за сверкой.
func isAmbiguous(err error) bool {
	code := apperror.CodeOf(err)
	return code == apperror.ErrCodeProcessorTransient || code == apperror.ErrCodeProcessorUnknownOutcome
}

func isRejected(err error) bool {
	return apperror.HasCode(err, apperror.ErrCodeProcessorRejected)
}

type reconcileTask struct {
	PaymentID uuid.UUID `json:"payment_id"`
	Attempt   int       `json:"attempt"`
}

// scheduleReconcile откладывает сверку платежа с процессором.
func (o *Orchestrator) scheduleReconcile(ctx context.Context, paymentID uuid.UUID, attempt int) {
	log := o.log.WithFields(logrus.Fields{"payment_id": paymentID, "attempt": attempt})
	if o.cfg.ReconcileMaxAttempts > 0 && attempt > o.cfg.ReconcileMaxAttempts {
		log.Error("reconciliation attempts exhausted, payment needs manual review")
		o.metrics.Saga("reconcile", "exhausted")
		return
	}
	if o.scheduler == nil {
		log.Warn("reconciliation scheduler not configured")
		return
	}
	payload, _ := json.Marshal(reconcileTask{PaymentID: paymentID, Attempt: attempt})
	task := repository.Task{
		Kind:    repository.TaskReconcilePayment,
		Payload: payload,
		Key:     paymentID.String() + ":" + strconv.Itoa(attempt),
	}
	if err := o.scheduler.Schedule(ctx, task, o.cfg.ReconcileDelay); err != nil {
		log.WithError(err).Error("failed to schedule reconciliation")
		return
	}
	log.Info("payment reconciliation scheduled")
}

func (o *Orchestrator) notify(ctx context.Context, b *entity.Booking, kind string, p *entity.Payment, data map[string]any) {
	if o.notifier == nil || b == nil {
		return
	}
	n := repository.Notification{Type: kind, BookingID: b.ID, Data: data}
	if p != nil {
		id := p.ID
		n.PaymentID = &id
	}
	o.notifier.Notify(ctx, []uuid.UUID{b.PassengerID, b.DriverID}, n)
}
