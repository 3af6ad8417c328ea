package inventory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
	"github.com/ignatzorin/carpool-escrow/internal/domain/valueobject"
	"github.com/sirupsen/logrus"
)

const autoCloseStripes = 64

// AutoCloser закрывает поездку, когда места закончились, и открывает закрытую
// поездку снова, если места освободились до отправления.
type AutoCloser struct {
	store repository.InventoryStore
	trips repository.TripCatalogue
	log   logrus.FieldLogger
	now   func() time.Time

	stripes [autoCloseStripes]sync.Mutex
}

func NewAutoCloser(store repository.InventoryStore, trips repository.TripCatalogue, log logrus.FieldLogger) *AutoCloser {
	return &AutoCloser{store: store, trips: trips, log: log, now: time.Now}
}

// InventoryChanged перечитывает счётчик под замком поездки, поэтому последний
// вызов всегда видит итоговое значение, в каком бы порядке ни пришли события.
func (a *AutoCloser) InventoryChanged(ctx context.Context, change entity.InventoryChange) {
	mu := a.stripe(change.TripID)
	mu.Lock()
	defer mu.Unlock()

	log := a.log.WithField("trip_id", change.TripID)
	committed, err := a.store.Committed(ctx, change.TripID)
	if err != nil {
		log.WithError(err).Warn("auto-close: failed to read committed seats")
		return
	}
	trip, err := a.trips.GetTrip(ctx, change.TripID)
	if err != nil {
		log.WithError(err).Warn("auto-close: failed to load trip")
		return
	}

	current := entity.InventoryChange{TripID: trip.ID, Committed: committed, Capacity: trip.Capacity}
	switch {
	case current.IsFull() && trip.Status == valueobject.TripStatusOpen:
		if _, err := a.trips.SetTripStatus(ctx, trip.ID, valueobject.TripStatusClosed, valueobject.TripStatusOpen); err != nil {
			log.WithError(err).Warn("auto-close: failed to close trip")
			return
		}
		log.WithField("committed", committed).Info("trip closed: capacity exhausted")
	case !current.IsFull() && trip.Status == valueobject.TripStatusClosed && a.now().Before(trip.DepartureAt):
		if _, err := a.trips.SetTripStatus(ctx, trip.ID, valueobject.TripStatusOpen, valueobject.TripStatusClosed); err != nil {
			log.WithError(err).Warn("auto-close: failed to reopen trip")
			return
		}
		log.WithField("committed", committed).Info("trip reopened: seats released")
	}
}

func (a *AutoCloser) stripe(id uuid.UUID) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write(id[:])
	return &a.stripes[h.Sum32()%autoCloseStripes]
}
