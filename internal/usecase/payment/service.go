package payment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
	"github.com/ignatzorin/carpool-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/carpool-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/carpool-escrow/internal/pkg/retry"
	"github.com/sirupsen/logrus"
)

// FreezeChecker сообщает, заморожен ли платёж открытым спором.
type FreezeChecker interface {
	IsFrozen(ctx context.Context, paymentID uuid.UUID) (bool, error)
}

// Service - конечный автомат платежа. Заморозка спором запрещает начинать
// списание или возврат всем, кроме решения по спору; фиксация результата уже
// начатой операции разрешена, она отражает факт на стороне процессора.
type Service struct {
	payments repository.PaymentRepository
	freeze   FreezeChecker
	log      logrus.FieldLogger
}

func NewService(payments repository.PaymentRepository, freeze FreezeChecker, log logrus.FieldLogger) *Service {
	return &Service{payments: payments, freeze: freeze, log: log}
}

// CreateIntent создаёт платёж в INTENT. Если у брони уже есть активный платёж, возвращает его.
func (s *Service) CreateIntent(ctx context.Context, booking *entity.Booking) (*entity.Payment, bool, error) {
	p := entity.NewPayment(booking)
	if err := s.payments.Create(ctx, p); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			existing, findErr := s.payments.FindLatestByBooking(ctx, booking.ID)
			if findErr == nil && !existing.Status.IsTerminal() {
				return existing, false, nil
			}
		}
		return nil, false, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось создать платёж")
	}
	s.log.WithFields(logrus.Fields{
		"payment_id": p.ID,
		"booking_id": p.BookingID,
		"amount":     p.Amount.String(),
	}).Info("payment intent created")
	return p, true, nil
}

func (s *Service) AttachIntent(ctx context.Context, id uuid.UUID, intentID, clientSecret string) (*entity.Payment, error) {
	p, _, err := s.mutate(ctx, id, func(p *entity.Payment) (bool, error) {
		return p.AttachIntent(intentID, clientSecret)
	})
	if p != nil {
		p.ClientSecret = clientSecret
	}
	return p, err
}

// ConfirmHold: INTENT -> HOLD по сообщению процессора.
func (s *Service) ConfirmHold(ctx context.Context, id uuid.UUID, origin valueobject.Origin) (*entity.Payment, bool, error) {
	return s.transition(ctx, id, "hold", origin, func(p *entity.Payment) (bool, error) {
		return p.MarkHeld(origin)
	})
}

func (s *Service) MarkFailed(ctx context.Context, id uuid.UUID, reason string, origin valueobject.Origin) (*entity.Payment, bool, error) {
	return s.transition(ctx, id, "failed", origin, func(p *entity.Payment) (bool, error) {
		return p.MarkFailed(reason, origin)
	})
}

// BeginCapture отмечает платёж как ожидающий списания перед вызовом процессора.
func (s *Service) BeginCapture(ctx context.Context, id uuid.UUID, origin valueobject.Origin) (*entity.Payment, error) {
	p, _, err := s.mutate(ctx, id, func(p *entity.Payment) (bool, error) {
		if err := s.ensureNotFrozen(ctx, p, origin); err != nil {
			return false, err
		}
		return true, p.BeginCapture()
	})
	return p, err
}

// Capture: HOLD -> CAPTURED.
func (s *Service) Capture(ctx context.Context, id uuid.UUID, origin valueobject.Origin) (*entity.Payment, bool, error) {
	return s.transition(ctx, id, "captured", origin, func(p *entity.Payment) (bool, error) {
		if p.PendingOp != valueobject.PendingCapture {
			if err := s.ensureNotFrozen(ctx, p, origin); err != nil {
				return false, err
			}
		}
		return p.Capture(origin)
	})
}

// BeginRefund проверяет границу возврата и отмечает платёж как ожидающий возврата.
func (s *Service) BeginRefund(ctx context.Context, id uuid.UUID, amount int64, origin valueobject.Origin) (*entity.Payment, error) {
	p, _, err := s.mutate(ctx, id, func(p *entity.Payment) (bool, error) {
		if err := s.ensureNotFrozen(ctx, p, origin); err != nil {
			return false, err
		}
		return true, p.BeginRefund(amount)
	})
	return p, err
}

// RefundTo доводит сумму возврата до total (накопительно).
func (s *Service) RefundTo(ctx context.Context, id uuid.UUID, total int64, origin valueobject.Origin) (*entity.Payment, bool, error) {
	return s.transition(ctx, id, "refunded", origin, func(p *entity.Payment) (bool, error) {
		if p.PendingOp != valueobject.PendingRefund {
			if err := s.ensureNotFrozen(ctx, p, origin); err != nil {
				return false, err
			}
		}
		return p.RefundTo(total, origin)
	})
}

// ClearPending снимает отметку о незавершённой операции после отказа процессора.
func (s *Service) ClearPending(ctx context.Context, id uuid.UUID) (*entity.Payment, error) {
	p, _, err := s.mutate(ctx, id, func(p *entity.Payment) (bool, error) {
		if p.PendingOp == valueobject.PendingNone {
			return false, nil
		}
		p.ClearPending()
		return true, nil
	})
	return p, err
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*entity.Payment, error) {
	p, err := s.payments.FindByID(ctx, id)
	if err != nil {
		return nil, translateNotFound(err)
	}
	return p, nil
}

func (s *Service) FindByIntentID(ctx context.Context, intentID string) (*entity.Payment, error) {
	p, err := s.payments.FindByIntentID(ctx, intentID)
	if err != nil {
		return nil, translateNotFound(err)
	}
	return p, nil
}

func (s *Service) Latest(ctx context.Context, bookingID uuid.UUID) (*entity.Payment, error) {
	p, err := s.payments.FindLatestByBooking(ctx, bookingID)
	if err != nil {
		return nil, translateNotFound(err)
	}
	return p, nil
}

func (s *Service) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*entity.Payment, error) {
	list, err := s.payments.ListByBooking(ctx, bookingID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить платежи")
	}
	return list, nil
}

func (s *Service) ensureNotFrozen(ctx context.Context, p *entity.Payment, origin valueobject.Origin) error {
	if origin == valueobject.OriginResolution || s.freeze == nil {
		return nil
	}
	frozen, err := s.freeze.IsFrozen(ctx, p.ID)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось проверить споры по платежу")
	}
	if frozen {
		return apperror.ErrPaymentFrozen
	}
	return nil
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to string, origin valueobject.Origin, apply func(*entity.Payment) (bool, error)) (*entity.Payment, bool, error) {
	p, changed, err := s.mutate(ctx, id, apply)
	if err != nil {
		return nil, false, err
	}
	if changed {
		s.log.WithFields(logrus.Fields{
			"payment_id": p.ID,
			"booking_id": p.BookingID,
			"status":     p.Status,
			"origin":     origin,
		}).Infof("payment transition: %s", to)
	}
	return p, changed, nil
}

func (s *Service) mutate(ctx context.Context, id uuid.UUID, apply func(*entity.Payment) (bool, error)) (*entity.Payment, bool, error) {
	return retry.OnConflict(ctx,
		func(ctx context.Context) (*entity.Payment, error) {
			return s.Get(ctx, id)
		},
		apply,
		s.payments.Update,
	)
}

func translateNotFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperror.ErrPaymentNotFound
	}
	return apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить платёж")
}
