package dispute

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
	"github.com/ignatzorin/carpool-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/carpool-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/carpool-escrow/internal/pkg/retry"
	"github.com/sirupsen/logrus"
)

// Settler применяет решение по спору к платежу и брони.
type Settler interface {
	Settle(ctx context.Context, d *entity.Dispute, outcome valueobject.DisputeOutcome) error
}

// PaymentReader - чтение платежей напрямую из хранилища; сервис платежей сам
// зависит от споров через FreezeChecker.
type PaymentReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Payment, error)
}

type OpenInput struct {
	PaymentID     uuid.UUID
	Reason        string
	ExternalID    string
	EvidenceDueBy *time.Time
}

type Service struct {
	disputes repository.DisputeRepository
	payments PaymentReader
	settler  Settler
	log      logrus.FieldLogger
}

func NewService(disputes repository.DisputeRepository, payments PaymentReader, log logrus.FieldLogger) *Service {
	return &Service{disputes: disputes, payments: payments, log: log}
}

// SetSettler устанавливает исполнителя решений (оркестратор создаётся после сервиса споров).
func (s *Service) SetSettler(settler Settler) {
	s.settler = settler
}

// Open регистрирует спор и замораживает платёж. Повтор с тем же внешним
// идентификатором возвращает уже открытый спор.
func (s *Service) Open(ctx context.Context, in OpenInput) (*entity.Dispute, bool, error) {
	if existing, err := s.disputes.FindByExternalID(ctx, in.ExternalID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось проверить спор")
	}

	p, err := s.payments.FindByID(ctx, in.PaymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, apperror.ErrPaymentNotFound
		}
		return nil, false, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить платёж")
	}
	d, err := entity.NewDispute(p, in.Reason, in.ExternalID, in.EvidenceDueBy)
	if err != nil {
		return nil, false, err
	}

	if err := s.disputes.Create(ctx, d); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			if existing, findErr := s.disputes.FindByExternalID(ctx, in.ExternalID); findErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось сохранить спор")
	}

	s.log.WithFields(logrus.Fields{
		"dispute_id":  d.ID,
		"payment_id":  d.PaymentID,
		"booking_id":  d.BookingID,
		"external_id": d.ExternalID,
	}).Warn("dispute opened, payment frozen")
	return d, true, nil
}

// Resolve применяет решение администратора и закрывает спор. Решение применяется
// до закрытия, поэтому повтор после сбоя доводит его до конца.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID, outcome valueobject.DisputeOutcome, actor valueobject.Actor) (*entity.Dispute, error) {
	if !actor.IsPrivileged() {
		return nil, apperror.ErrForbidden
	}
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status == outcome.ResolvedStatus() {
		return d, nil
	}
	if !d.IsOpen() {
		return nil, apperror.Newf(apperror.ErrCodeInvalidState, "спор уже разрешён: %s", d.Status)
	}
	if s.settler == nil {
		return nil, apperror.New(apperror.ErrCodeInternal, "исполнитель решений по спорам не настроен")
	}

	if err := s.settler.Settle(ctx, d, outcome); err != nil {
		return nil, err
	}

	d, _, err = retry.OnConflict(ctx,
		func(ctx context.Context) (*entity.Dispute, error) { return s.Get(ctx, id) },
		func(d *entity.Dispute) (bool, error) { return d.Resolve(outcome, actor.ID) },
		s.disputes.Update,
	)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"dispute_id": d.ID,
		"payment_id": d.PaymentID,
		"outcome":    outcome,
		"admin":      actor.String(),
	}).Info("dispute resolved")
	return d, nil
}

// IsFrozen: платёж заморожен, пока по нему есть открытый спор.
func (s *Service) IsFrozen(ctx context.Context, paymentID uuid.UUID) (bool, error) {
	_, err := s.disputes.FindOpenByPayment(ctx, paymentID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, repository.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*entity.Dispute, error) {
	d, err := s.disputes.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.ErrDisputeNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить спор")
	}
	return d, nil
}

func (s *Service) ListOpen(ctx context.Context, limit, offset int) ([]*entity.Dispute, error) {
	list, err := s.disputes.ListOpen(ctx, limit, offset)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить споры")
	}
	return list, nil
}

func (s *Service) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*entity.Dispute, error) {
	list, err := s.disputes.ListByBooking(ctx, bookingID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить споры")
	}
	return list, nil
}
