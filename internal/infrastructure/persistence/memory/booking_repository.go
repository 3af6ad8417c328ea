package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
	"github.com/ignatzorin/carpool-escrow/internal/domain/valueobject"
)

type BookingRepository struct {
	mu       sync.RWMutex
	bookings map[uuid.UUID]entity.Booking
	byKey    map[string]uuid.UUID
}

func NewBookingRepository() *BookingRepository {
	return &BookingRepository{
		bookings: make(map[uuid.UUID]entity.Booking),
		byKey:    make(map[string]uuid.UUID),
	}
}

func idempotencyIndex(passengerID uuid.UUID, key string) string {
	return passengerID.String() + "/" + key
}

func (r *BookingRepository) Create(ctx context.Context, b *entity.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bookings[b.ID]; ok {
		return repository.ErrDuplicate
	}
	if b.IdempotencyKey != nil {
		k := idempotencyIndex(b.PassengerID, *b.IdempotencyKey)
		if _, ok := r.byKey[k]; ok {
			return repository.ErrDuplicate
		}
		r.byKey[k] = b.ID
	}
	b.Version = 1
	r.bookings[b.ID] = *b
	return nil
}

func (r *BookingRepository) Update(ctx context.Context, b *entity.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.bookings[b.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.Version != b.Version {
		return repository.ErrVersionConflict
	}
	b.Version++
	r.bookings[b.ID] = *b
	return nil
}

func (r *BookingRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &b, nil
}

func (r *BookingRepository) FindByIdempotencyKey(ctx context.Context, passengerID uuid.UUID, key string) (*entity.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKey[idempotencyIndex(passengerID, key)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	b := r.bookings[id]
	return &b, nil
}

func (r *BookingRepository) ListByTrip(ctx context.Context, tripID uuid.UUID, statuses ...valueobject.BookingStatus) ([]*entity.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*entity.Booking
	for _, b := range r.bookings {
		if b.TripID == tripID && statusIn(b.Status, statuses) {
			b := b
			result = append(result, &b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}
