package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
)

type PaymentRepository struct {
	mu       sync.RWMutex
	payments map[uuid.UUID]entity.Payment
}

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{payments: make(map[uuid.UUID]entity.Payment)}
}

func (r *PaymentRepository) Create(ctx context.Context, p *entity.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.payments {
		if existing.BookingID == p.BookingID && !existing.Status.IsTerminal() {
			return repository.ErrDuplicate
		}
	}
	p.Version = 1
	r.payments[p.ID] = *p
	return nil
}

func (r *PaymentRepository) Update(ctx context.Context, p *entity.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.payments[p.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.Version != p.Version {
		return repository.ErrVersionConflict
	}
	p.Version++
	stored := *p
	stored.ClientSecret = ""
	r.payments[p.ID] = stored
	return nil
}

func (r *PaymentRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (r *PaymentRepository) FindByIntentID(ctx context.Context, intentID string) (*entity.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.payments {
		if p.ExternalID() == intentID {
			return &p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *PaymentRepository) FindLatestByBooking(ctx context.Context, bookingID uuid.UUID) (*entity.Payment, error) {
	list, _ := r.ListByBooking(ctx, bookingID)
	if len(list) == 0 {
		return nil, repository.ErrNotFound
	}
	return list[len(list)-1], nil
}

func (r *PaymentRepository) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*entity.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*entity.Payment
	for _, p := range r.payments {
		if p.BookingID == bookingID {
			p := p
			result = append(result, &p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}
