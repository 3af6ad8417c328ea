package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
	"github.com/ignatzorin/carpool-escrow/internal/metrics"
	"github.com/ignatzorin/carpool-escrow/internal/pkg/apperror"
	"github.com/sirupsen/logrus"
)

// EventVerifier проверяет подпись сырого события и переводит его в доменное.
// Событие, не относящееся к эскроу, возвращается как (nil, nil).
type EventVerifier interface {
	Verify(payload []byte, signature string) (*entity.ProcessorEvent, error)
}

// EventHandler применяет проверенное событие к платежу и брони.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev *entity.ProcessorEvent) error
}

type Config struct {
	MaxRetries int
	RetryDelay time.Duration
	ClaimLease time.Duration
}

// Reconciler принимает события процессора: проверяет подпись, отбрасывает повторные
// доставки и откладывает события, пришедшие раньше предыдущего шага.
type Reconciler struct {
	verifier  EventVerifier
	events    repository.ProcessedEventRepository
	handler   EventHandler
	scheduler repository.Scheduler
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
	cfg       Config
}

func NewReconciler(
	verifier EventVerifier,
	events repository.ProcessedEventRepository,
	handler EventHandler,
	scheduler repository.Scheduler,
	m *metrics.Metrics,
	log logrus.FieldLogger,
	cfg Config,
) *Reconciler {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = 2 * time.Minute
	}
	return &Reconciler{
		verifier:  verifier,
		events:    events,
		handler:   handler,
		scheduler: scheduler,
		metrics:   m,
		log:       log,
		cfg:       cfg,
	}
}

// Handle обрабатывает доставку webhook. nil означает, что событие можно подтвердить
// процессору: оно применено, уже было применено или отложено для повтора.
func (r *Reconciler) Handle(ctx context.Context, payload []byte, signature string) error {
	ev, err := r.verifier.Verify(payload, signature)
	if err != nil {
		r.metrics.WebhookEvent("unknown", "invalid_signature")
		r.log.WithError(err).Warn("webhook rejected: signature verification failed")
		if apperror.HasCode(err, apperror.ErrCodeSignatureInvalid) {
			return err
		}
		return apperror.Wrap(err, apperror.ErrCodeSignatureInvalid, "недействительная подпись события")
	}
	if ev == nil {
		r.metrics.WebhookEvent("unknown", "ignored")
		return nil
	}

	log := r.log.WithFields(logrus.Fields{"event_id": ev.ID, "event_type": ev.Type, "intent_id": ev.IntentID})
	rec, claimed, err := r.events.Claim(ctx, ev.ID, ev.Type, r.cfg.ClaimLease)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось зарегистрировать событие")
	}
	if !claimed {
		log.WithField("status", rec.Status).Debug("duplicate webhook delivery acknowledged")
		r.metrics.WebhookEvent(string(ev.Type), "duplicate")
		return nil
	}

	if err := r.process(ctx, ev, rec.Attempts, log); err != nil {
		if releaseErr := r.events.Release(ctx, ev.ID); releaseErr != nil {
			log.WithError(releaseErr).Error("failed to release event claim")
		}
		return err
	}
	return nil
}

// HandleRetryTask - обработчик отложенного повтора события.
func (r *Reconciler) HandleRetryTask(ctx context.Context, payload []byte) error {
	var ev entity.ProcessorEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeValidation, "некорректная задача повтора события")
	}
	log := r.log.WithFields(logrus.Fields{"event_id": ev.ID, "event_type": ev.Type, "intent_id": ev.IntentID})

	rec, claimed, err := r.events.Reclaim(ctx, ev.ID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Warn("retry task for unknown event dropped")
		return nil
	}
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось захватить событие для повтора")
	}
	if !claimed {
		return nil
	}

	if err := r.process(ctx, &ev, rec.Attempts, log); err != nil {
		// Запись возвращается в очередь повторов, задачу повторит планировщик.
		if completeErr := r.events.Complete(ctx, ev.ID, entity.ProcessedEventRetrying, err.Error()); completeErr != nil {
			log.WithError(completeErr).Error("failed to return event to retrying")
		}
		return err
	}
	return nil
}

// process применяет событие и фиксирует итог в журнале. Возвращает ошибку только
// для сбоев, после которых событие нужно обработать заново.
func (r *Reconciler) process(ctx context.Context, ev *entity.ProcessorEvent, attempt int, log logrus.FieldLogger) error {
	err := r.handler.HandleEvent(ctx, ev)
	eventType := string(ev.Type)

	switch code := apperror.CodeOf(err); {
	case err == nil:
		r.complete(ctx, ev.ID, entity.ProcessedEventDone, "", log)
		r.metrics.WebhookEvent(eventType, "applied")
		log.Info("processor event applied")
		return nil

	case code == apperror.ErrCodeReconciliationRequired, code == apperror.ErrCodeNotFound:
		if attempt >= r.cfg.MaxRetries {
			r.complete(ctx, ev.ID, entity.ProcessedEventFailed, err.Error(), log)
			r.metrics.WebhookEvent(eventType, "exhausted")
			log.WithError(err).WithField("attempts", attempt).Error("processor event could not be applied, reconciliation required")
			return nil
		}
		if schedErr := r.scheduleRetry(ctx, ev, attempt); schedErr != nil {
			return schedErr
		}
		r.complete(ctx, ev.ID, entity.ProcessedEventRetrying, err.Error(), log)
		r.metrics.WebhookEvent(eventType, "deferred")
		log.WithError(err).WithField("attempt", attempt).Warn("processor event out of order, retry scheduled")
		return nil

	case code == apperror.ErrCodeInvalidState, code == apperror.ErrCodePaymentFrozen:
		r.complete(ctx, ev.ID, entity.ProcessedEventSkipped, err.Error(), log)
		r.metrics.WebhookEvent(eventType, "stale")
		log.WithError(err).Warn("stale processor event skipped")
		return nil

	case code == apperror.ErrCodeOriginMismatch:
		r.complete(ctx, ev.ID, entity.ProcessedEventFailed, err.Error(), log)
		r.metrics.WebhookEvent(eventType, "rejected")
		log.WithError(err).Error("unsolicited processor event rejected")
		return nil

	default:
		r.metrics.WebhookEvent(eventType, "error")
		log.WithError(err).Error("processor event handling failed")
		return err
	}
}

func (r *Reconciler) scheduleRetry(ctx context.Context, ev *entity.ProcessorEvent, attempt int) error {
	if r.scheduler == nil {
		return apperror.New(apperror.ErrCodeInternal, "планировщик повторов не настроен")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось сериализовать событие")
	}
	task := repository.Task{
		Kind:    repository.TaskWebhookRetry,
		Payload: payload,
		Key:     ev.ID + ":" + strconv.Itoa(attempt),
	}
	if err := r.scheduler.Schedule(ctx, task, r.cfg.RetryDelay*time.Duration(attempt)); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось запланировать повтор события")
	}
	return nil
}

func (r *Reconciler) complete(ctx context.Context, eventID string, status entity.ProcessedEventStatus, lastErr string, log logrus.FieldLogger) {
	if err := r.events.Complete(ctx, eventID, status, lastErr); err != nil {
		log.WithError(err).WithField("status", status).Error("failed to record event outcome")
	}
}
