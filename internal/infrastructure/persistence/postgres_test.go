package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
	"github.com/ignatzorin/carpool-escrow/internal/domain/valueobject"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		conn.Close()
	})
	return sqlx.NewDb(conn, "postgres"), mock
}

func testBooking() *entity.Booking {
	now := time.Now()
	return &entity.Booking{
		ID:            uuid.New(),
		TripID:        uuid.New(),
		PassengerID:   uuid.New(),
		DriverID:      uuid.New(),
		Seats:         2,
		UnitPrice:     valueobject.Money{Amount: 1500, Currency: "usd"},
		TotalPrice:    valueobject.Money{Amount: 3000, Currency: "usd"},
		Status:        valueobject.BookingStatusCancelled,
		ReservationID: uuid.New(),
		Version:       3,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestBookingRepository_UpdateBumpsVersion(t *testing.T) {
	db, mock := newMock(t)
	b := testBooking()

	mock.ExpectExec(`UPDATE bookings`).
		WithArgs(b.ID, int64(3), "CANCELLED", nil, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewBookingRepository(db).Update(context.Background(), b))
	assert.Equal(t, int64(4), b.Version)
}

func TestBookingRepository_UpdateStaleVersion(t *testing.T) {
	db, mock := newMock(t)
	b := testBooking()

	mock.ExpectExec(`UPDATE bookings`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs(b.ID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := NewBookingRepository(db).Update(context.Background(), b)

	assert.True(t, errors.Is(err, repository.ErrVersionConflict))
	assert.Equal(t, int64(3), b.Version)
}

func TestBookingRepository_UpdateMissing(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectExec(`UPDATE bookings`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err := NewBookingRepository(db).Update(context.Background(), testBooking())

	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestBookingRepository_CreateDuplicateKey(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectExec(`INSERT INTO bookings`).WillReturnError(&pq.Error{Code: "23505"})

	err := NewBookingRepository(db).Create(context.Background(), testBooking())

	assert.True(t, errors.Is(err, repository.ErrDuplicate))
}

func TestBookingRepository_ListByTripFiltersStatuses(t *testing.T) {
	db, mock := newMock(t)
	b := testBooking()
	cols := []string{"id", "trip_id", "passenger_id", "driver_id", "seats", "unit_price", "total_price", "currency",
		"status", "reservation_id", "idempotency_key", "cancellation_reason", "cancelled_by", "version", "created_at", "updated_at"}

	mock.ExpectQuery(`FROM bookings WHERE trip_id = \$1 AND status = ANY\(\$2\)`).
		WithArgs(b.TripID, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			b.ID.String(), b.TripID.String(), b.PassengerID.String(), b.DriverID.String(), 2, 1500, 3000, "usd",
			"CONFIRMED", b.ReservationID.String(), nil, nil, nil, 2, b.CreatedAt, b.UpdatedAt,
		))

	list, err := NewBookingRepository(db).ListByTrip(context.Background(), b.TripID,
		valueobject.BookingStatusPending, valueobject.BookingStatusConfirmed)

	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, valueobject.BookingStatusConfirmed, list[0].Status)
	assert.Equal(t, int64(3000), list[0].TotalPrice.Amount)
}

func TestPaymentRepository_FindByIntentNotFound(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery(`FROM payments WHERE intent_id = \$1`).WithArgs("pi_1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := NewPaymentRepository(db).FindByIntentID(context.Background(), "pi_1")

	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestPaymentRepository_SecondActivePaymentIsDuplicate(t *testing.T) {
	db, mock := newMock(t)
	p := entity.NewPayment(testBooking())

	mock.ExpectExec(`INSERT INTO payments`).WillReturnError(&pq.Error{Code: "23505", Constraint: "payments_one_active"})

	err := NewPaymentRepository(db).Create(context.Background(), p)

	assert.True(t, errors.Is(err, repository.ErrDuplicate))
}

func TestInventoryStore_ReserveIncrementsAtomically(t *testing.T) {
	db, mock := newMock(t)
	res := entity.Reservation{ID: uuid.New(), TripID: uuid.New(), Seats: 2, CreatedAt: time.Now()}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO seat_reservations`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO trip_inventory`).WithArgs(res.TripID, 3).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`UPDATE trip_inventory\s+SET committed = committed \+ \$2\s+WHERE trip_id = \$1 AND committed \+ \$2 <= capacity`).
		WithArgs(res.TripID, 2).
		WillReturnRows(sqlmock.NewRows([]string{"committed", "capacity"}).AddRow(2, 3))
	mock.ExpectCommit()

	change, created, err := NewInventoryStore(db).Reserve(context.Background(), res, 3)

	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, entity.InventoryChange{TripID: res.TripID, Committed: 2, Capacity: 3}, change)
}

func TestInventoryStore_ReserveOverCapacityRollsBack(t *testing.T) {
	db, mock := newMock(t)
	res := entity.Reservation{ID: uuid.New(), TripID: uuid.New(), Seats: 2, CreatedAt: time.Now()}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO seat_reservations`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO trip_inventory`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`UPDATE trip_inventory`).WillReturnRows(sqlmock.NewRows([]string{"committed", "capacity"}))
	mock.ExpectRollback()

	_, created, err := NewInventoryStore(db).Reserve(context.Background(), res, 3)

	assert.True(t, errors.Is(err, repository.ErrCapacityExceeded))
	assert.False(t, created)
}

func TestInventoryStore_ReserveReplayDoesNotIncrement(t *testing.T) {
	db, mock := newMock(t)
	res := entity.Reservation{ID: uuid.New(), TripID: uuid.New(), Seats: 2, CreatedAt: time.Now()}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO seat_reservations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT committed, capacity FROM trip_inventory`).WithArgs(res.TripID).
		WillReturnRows(sqlmock.NewRows([]string{"committed", "capacity"}).AddRow(2, 3))
	mock.ExpectCommit()

	change, created, err := NewInventoryStore(db).Reserve(context.Background(), res, 3)

	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 2, change.Committed)
}

func TestInventoryStore_ReleaseTwiceDecrementsOnce(t *testing.T) {
	db, mock := newMock(t)
	tripID, resID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE seat_reservations`).WithArgs(resID, tripID).
		WillReturnRows(sqlmock.NewRows([]string{"seats"}).AddRow(2))
	mock.ExpectQuery(`UPDATE trip_inventory\s+SET committed = committed - \$2`).WithArgs(tripID, 2).
		WillReturnRows(sqlmock.NewRows([]string{"committed", "capacity"}).AddRow(0, 3))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE seat_reservations`).WithArgs(resID, tripID).
		WillReturnRows(sqlmock.NewRows([]string{"seats"}))
	mock.ExpectQuery(`SELECT committed, capacity FROM trip_inventory`).
		WillReturnRows(sqlmock.NewRows([]string{"committed", "capacity"}).AddRow(0, 3))
	mock.ExpectCommit()

	store := NewInventoryStore(db)
	_, released, err := store.Release(context.Background(), tripID, resID)
	require.NoError(t, err)
	assert.True(t, released)

	change, released, err := store.Release(context.Background(), tripID, resID)
	require.NoError(t, err)
	assert.False(t, released)
	assert.Equal(t, 0, change.Committed)
}

func TestProcessedEventRepository_ClaimDuplicate(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now()
	cols := []string{"event_id", "type", "status", "attempts", "last_error", "created_at", "updated_at"}

	mock.ExpectQuery(`INSERT INTO processed_events`).
		WithArgs("evt_1", "hold.succeeded", float64(120)).
		WillReturnRows(sqlmock.NewRows(cols))
	mock.ExpectQuery(`SELECT .* FROM processed_events WHERE event_id = \$1`).WithArgs("evt_1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("evt_1", "hold.succeeded", "done", 1, nil, now, now))

	rec, claimed, err := NewProcessedEventRepository(db).Claim(context.Background(), "evt_1", entity.EventHoldSucceeded, 2*time.Minute)

	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, entity.ProcessedEventDone, rec.Status)
}

func TestProcessedEventRepository_ReclaimUnknown(t *testing.T) {
	db, mock := newMock(t)
	cols := []string{"event_id", "type", "status", "attempts", "last_error", "created_at", "updated_at"}

	mock.ExpectQuery(`UPDATE processed_events`).WithArgs("evt_x").WillReturnRows(sqlmock.NewRows(cols))
	mock.ExpectQuery(`SELECT .* FROM processed_events`).WithArgs("evt_x").WillReturnRows(sqlmock.NewRows(cols))

	_, _, err := NewProcessedEventRepository(db).Reclaim(context.Background(), "evt_x")

	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestTripCatalogue_SetTripStatusGuardsSource(t *testing.T) {
	db, mock := newMock(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE trips SET status = \$2, updated_at = NOW\(\) WHERE id = \$1 AND status = ANY\(\$3\)`).
		WithArgs(id, "COMPLETED", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := NewTripCatalogue(db).SetTripStatus(context.Background(), id, valueobject.TripStatusCompleted,
		valueobject.TripStatusOpen, valueobject.TripStatusClosed)

	require.NoError(t, err)
	assert.False(t, ok)
}
