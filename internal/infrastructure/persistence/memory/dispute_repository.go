package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
)

type DisputeRepository struct {
	mu       sync.RWMutex
	disputes map[uuid.UUID]entity.Dispute
}

func NewDisputeRepository() *DisputeRepository {
	return &DisputeRepository{disputes: make(map[uuid.UUID]entity.Dispute)}
}

func (r *DisputeRepository) Create(ctx context.Context, d *entity.Dispute) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.disputes {
		if existing.ExternalID == d.ExternalID {
			return repository.ErrDuplicate
		}
	}
	d.Version = 1
	r.disputes[d.ID] = *d
	return nil
}

func (r *DisputeRepository) Update(ctx context.Context, d *entity.Dispute) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.disputes[d.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.Version != d.Version {
		return repository.ErrVersionConflict
	}
	d.Version++
	r.disputes[d.ID] = *d
	return nil
}

func (r *DisputeRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Dispute, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.disputes[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &d, nil
}

func (r *DisputeRepository) FindByExternalID(ctx context.Context, externalID string) (*entity.Dispute, error) {
	return r.findOne(func(d *entity.Dispute) bool { return d.ExternalID == externalID })
}

func (r *DisputeRepository) FindOpenByPayment(ctx context.Context, paymentID uuid.UUID) (*entity.Dispute, error) {
	return r.findOne(func(d *entity.Dispute) bool { return d.PaymentID == paymentID && d.IsOpen() })
}

func (r *DisputeRepository) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*entity.Dispute, error) {
	return r.list(func(d *entity.Dispute) bool { return d.BookingID == bookingID }, 0, 0), nil
}

func (r *DisputeRepository) ListOpen(ctx context.Context, limit, offset int) ([]*entity.Dispute, error) {
	return r.list(func(d *entity.Dispute) bool { return d.IsOpen() }, limit, offset), nil
}

func (r *DisputeRepository) findOne(match func(*entity.Dispute) bool) (*entity.Dispute, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.disputes {
		if match(&d) {
			return &d, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *DisputeRepository) list(match func(*entity.Dispute) bool, limit, offset int) []*entity.Dispute {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*entity.Dispute
	for _, d := range r.disputes {
		if match(&d) {
			d := d
			result = append(result, &d)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if offset > len(result) {
		return nil
	}
	result = result[offset:]
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result
}
