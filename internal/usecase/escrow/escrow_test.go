package escrow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
	"github.com/ignatzorin/carpool-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/carpool-escrow/internal/infrastructure/persistence/memory"
	"github.com/ignatzorin/carpool-escrow/internal/logger"
	"github.com/ignatzorin/carpool-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/carpool-escrow/internal/pkg/retry"
	"github.com/ignatzorin/carpool-escrow/internal/usecase/booking"
	"github.com/ignatzorin/carpool-escrow/internal/usecase/dispute"
	"github.com/ignatzorin/carpool-escrow/internal/usecase/escrow"
	"github.com/ignatzorin/carpool-escrow/internal/usecase/inventory"
	"github.com/ignatzorin/carpool-escrow/internal/usecase/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	orch      *escrow.Orchestrator
	bookings  *booking.Service
	payments  *payment.Service
	disputes  *dispute.Service
	ledger    *inventory.Ledger
	catalogue *memory.TripCatalogue
	processor *fakeProcessor
	scheduler *fakeScheduler
	notifier  *fakeNotifier
	trip      *entity.Trip
	driver    valueobject.Actor
}

func newFixture(t *testing.T, capacity int) *fixture {
	t.Helper()
	log := logger.Discard()
	catalogue := memory.NewTripCatalogue()
	store := memory.NewInventoryStore()
	ledger := inventory.NewLedger(store, catalogue, nil, log)
	ledger.Subscribe(inventory.NewAutoCloser(store, catalogue, log))

	driverID := uuid.New()
	trip, err := entity.NewTrip(driverID, capacity, valueobject.Money{Amount: 1500, Currency: "usd"}, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	catalogue.Save(trip)

	paymentRepo := memory.NewPaymentRepository()
	bookings := booking.NewService(memory.NewBookingRepository(), catalogue, ledger, log)
	disputes := dispute.NewService(memory.NewDisputeRepository(), paymentRepo, log)
	payments := payment.NewService(paymentRepo, disputes, log)

	f := &fixture{
		bookings:  bookings,
		payments:  payments,
		disputes:  disputes,
		ledger:    ledger,
		catalogue: catalogue,
		processor: newFakeProcessor(),
		scheduler: &fakeScheduler{},
		notifier:  &fakeNotifier{},
		trip:      trip,
		driver:    valueobject.Actor{ID: driverID, Role: valueobject.RoleDriver},
	}
	f.orch = escrow.NewOrchestrator(bookings, payments, disputes, catalogue, f.processor, f.scheduler, f.notifier, nil, log, escrow.Config{
		Currency:             "usd",
		ProcessorTimeout:     time.Second,
		Retry:                retry.Policy{MaxAttempts: 3},
		ReconcileDelay:       time.Minute,
		ReconcileMaxAttempts: 5,
		WorkerPoolSize:       4,
	})
	disputes.SetSettler(f.orch)
	return f
}

func passenger() valueobject.Actor {
	return valueobject.Actor{ID: uuid.New(), Role: valueobject.RolePassenger}
}

func (f *fixture) book(t *testing.T, who valueobject.Actor, seats int) *escrow.BookingResult {
	t.Helper()
	res, err := f.orch.CreateBooking(context.Background(), escrow.CreateBookingInput{
		TripID:      f.trip.ID,
		PassengerID: who.ID,
		Seats:       seats,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) event(t *testing.T, p *entity.Payment, typ entity.ProcessorEventType) error {
	t.Helper()
	return f.orch.HandleEvent(context.Background(), &entity.ProcessorEvent{
		ID:         "evt_" + uuid.NewString(),
		Type:       typ,
		IntentID:   *p.IntentID,
		Amount:     p.Amount.Amount,
		Currency:   p.Amount.Currency,
		OccurredAt: time.Now(),
	})
}

// holdAndNotify: процессор удержал средства и прислал уведомление.
func (f *fixture) holdAndNotify(t *testing.T, p *entity.Payment) {
	t.Helper()
	f.processor.hold(*p.IntentID)
	require.NoError(t, f.event(t, p, entity.EventHoldSucceeded))
}

func (f *fixture) committed(t *testing.T) int {
	n, err := f.ledger.Committed(context.Background(), f.trip.ID)
	require.NoError(t, err)
	return n
}

func (f *fixture) bookingStatus(t *testing.T, id uuid.UUID) valueobject.BookingStatus {
	b, err := f.bookings.Get(context.Background(), id)
	require.NoError(t, err)
	return b.Status
}

func (f *fixture) payment(t *testing.T, id uuid.UUID) *entity.Payment {
	p, err := f.payments.Get(context.Background(), id)
	require.NoError(t, err)
	return p
}

func TestCreateBooking_HappyPathToFinished(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	res := f.book(t, passenger(), 2)
	require.NotNil(t, res.Payment.IntentID)
	assert.Equal(t, valueobject.BookingStatusPending, res.Booking.Status)
	assert.Equal(t, valueobject.PaymentStatusIntent, res.Payment.Status)
	assert.Equal(t, int64(3000), res.Payment.Amount.Amount)
	assert.NotEmpty(t, res.Payment.ClientSecret)
	assert.Equal(t, 2, f.committed(t))

	trip, err := f.catalogue.GetTrip(ctx, f.trip.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.TripStatusClosed, trip.Status)

	f.holdAndNotify(t, res.Payment)
	assert.Equal(t, valueobject.BookingStatusConfirmed, f.bookingStatus(t, res.Booking.ID))
	assert.Equal(t, valueobject.PaymentStatusHold, f.payment(t, res.Payment.ID).Status)

	report, err := f.orch.CompleteTrip(ctx, f.trip.ID, f.driver)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{res.Booking.ID}, report.Captured)
	assert.Empty(t, report.Failed)

	assert.Equal(t, valueobject.BookingStatusFinished, f.bookingStatus(t, res.Booking.ID))
	p := f.payment(t, res.Payment.ID)
	assert.Equal(t, valueobject.PaymentStatusCaptured, p.Status)
	assert.Equal(t, valueobject.PendingNone, p.PendingOp)
	assert.Equal(t, repository.IntentCaptured, f.processor.status(*p.IntentID))
	assert.Equal(t, 1, f.notifier.count(repository.NotifyBookingFinished, res.Booking.ID))
}

func TestHandleEvent_HoldReplayIsIdempotent(t *testing.T) {
	f := newFixture(t, 3)
	res := f.book(t, passenger(), 1)

	f.holdAndNotify(t, res.Payment)
	version := f.payment(t, res.Payment.ID).Version
	require.NoError(t, f.event(t, res.Payment, entity.EventHoldSucceeded))

	assert.Equal(t, version, f.payment(t, res.Payment.ID).Version)
	assert.Equal(t, 1, f.notifier.count(repository.NotifyBookingConfirmed, res.Booking.ID))
}

func TestHandleEvent_CaptureBeforeHoldNeedsReconciliation(t *testing.T) {
	f := newFixture(t, 3)
	res := f.book(t, passenger(), 1)

	err := f.event(t, res.Payment, entity.EventCaptureSucceeded)

	assert.True(t, apperror.HasCode(err, apperror.ErrCodeReconciliationRequired))
	assert.Equal(t, valueobject.PaymentStatusIntent, f.payment(t, res.Payment.ID).Status)
}

func TestHandleEvent_UnknownIntent(t *testing.T) {
	f := newFixture(t, 3)

	err := f.orch.HandleEvent(context.Background(), &entity.ProcessorEvent{ID: "evt_1", Type: entity.EventHoldSucceeded, IntentID: "pi_missing"})

	assert.True(t, apperror.IsNotFound(err))
}

func TestHandleEvent_HoldFailedCancelsBooking(t *testing.T) {
	f := newFixture(t, 3)
	res := f.book(t, passenger(), 2)

	err := f.orch.HandleEvent(context.Background(), &entity.ProcessorEvent{
		ID: "evt_fail", Type: entity.EventHoldFailed, IntentID: *res.Payment.IntentID, FailureReason: "card_declined",
	})

	require.NoError(t, err)
	p := f.payment(t, res.Payment.ID)
	assert.Equal(t, valueobject.PaymentStatusFailed, p.Status)
	require.NotNil(t, p.FailureReason)
	assert.Equal(t, "card_declined", *p.FailureReason)
	assert.Equal(t, valueobject.BookingStatusCancelled, f.bookingStatus(t, res.Booking.ID))
	assert.Equal(t, 0, f.committed(t))
}

func TestCreateBooking_NoOverbooking(t *testing.T) {
	f := newFixture(t, 1)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		rejected int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orch.CreateBooking(context.Background(), escrow.CreateBookingInput{
				TripID: f.trip.ID, PassengerID: uuid.New(), Seats: 1,
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if apperror.HasCode(err, apperror.ErrCodeCapacityExceeded) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, 1, f.committed(t))
	assert.Equal(t, 1, f.processor.callCount("create"))
}

func TestCreateBooking_IdempotentReplay(t *testing.T) {
	f := newFixture(t, 4)
	who := passenger()
	in := escrow.CreateBookingInput{TripID: f.trip.ID, PassengerID: who.ID, Seats: 2, IdempotencyKey: "key-1"}

	first, err := f.orch.CreateBooking(context.Background(), in)
	require.NoError(t, err)
	second, err := f.orch.CreateBooking(context.Background(), in)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Booking.ID, second.Booking.ID)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)
	assert.Equal(t, 2, f.committed(t))
	assert.Equal(t, 1, f.processor.callCount("create"))

	in.Seats = 3
	_, err = f.orch.CreateBooking(context.Background(), in)
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeIdempotencyMismatch))
}

func TestCreateBooking_RejectedIntentCompensates(t *testing.T) {
	f := newFixture(t, 2)
	f.processor.createErr = apperror.New(apperror.ErrCodeProcessorRejected, "card_declined")
	who := passenger()

	_, err := f.orch.CreateBooking(context.Background(), escrow.CreateBookingInput{
		TripID: f.trip.ID, PassengerID: who.ID, Seats: 2, IdempotencyKey: "k",
	})

	assert.True(t, apperror.HasCode(err, apperror.ErrCodeProcessorRejected))
	assert.Equal(t, 0, f.committed(t))
	assert.Equal(t, 1, f.processor.callCount("create"))

	id := entity.BookingID(who.ID, "k")
	assert.Equal(t, valueobject.BookingStatusCancelled, f.bookingStatus(t, id))
	p, err := f.payments.Latest(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, valueobject.PaymentStatusFailed, p.Status)

	trip, err := f.catalogue.GetTrip(context.Background(), f.trip.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.TripStatusOpen, trip.Status)
}

func TestCreateBooking_TransientFailureLeavesPendingForReconciliation(t *testing.T) {
	f := newFixture(t, 2)
	f.processor.createErr = apperror.New(apperror.ErrCodeProcessorTransient, "503")

	res, err := f.orch.CreateBooking(context.Background(), escrow.CreateBookingInput{
		TripID: f.trip.ID, PassengerID: uuid.New(), Seats: 1,
	})

	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeProcessorUnknownOutcome))
	require.NotNil(t, res)
	assert.Equal(t, 3, f.processor.callCount("create"))
	assert.Equal(t, valueobject.BookingStatusPending, f.bookingStatus(t, res.Booking.ID))
	assert.Equal(t, 1, f.committed(t))

	tasks := f.scheduler.byKind(repository.TaskReconcilePayment)
	require.Len(t, tasks, 1)

	f.processor.mu.Lock()
	f.processor.createErr = nil
	f.processor.mu.Unlock()
	require.NoError(t, f.orch.HandleReconcileTask(context.Background(), tasks[0].Payload))

	p := f.payment(t, res.Payment.ID)
	require.NotNil(t, p.IntentID)
	assert.Equal(t, valueobject.PaymentStatusIntent, p.Status)
}

func TestReconcile_HeldIntentConfirmsBooking(t *testing.T) {
	f := newFixture(t, 2)
	res := f.book(t, passenger(), 1)
	f.processor.hold(*res.Payment.IntentID)

	require.NoError(t, f.orch.ReconcilePayment(context.Background(), res.Payment.ID, 1))

	assert.Equal(t, valueobject.PaymentStatusHold, f.payment(t, res.Payment.ID).Status)
	assert.Equal(t, valueobject.BookingStatusConfirmed, f.bookingStatus(t, res.Booking.ID))
}

func TestCancelBooking_BeforeHoldNotification(t *testing.T) {
	f := newFixture(t, 2)
	who := passenger()
	res := f.book(t, who, 2)
	f.processor.hold(*res.Payment.IntentID)

	out, err := f.orch.CancelBooking(context.Background(), res.Booking.ID, who, "передумал")
	require.NoError(t, err)
	assert.Equal(t, valueobject.PaymentStatusRefunded, out.Payment.Status)

	// Уведомление об удержании приходит после отмены и уже ничего не меняет.
	err = f.event(t, res.Payment, entity.EventHoldSucceeded)
	assert.True(t, apperror.IsInvalidState(err))

	assert.Equal(t, valueobject.BookingStatusCancelled, f.bookingStatus(t, res.Booking.ID))
	assert.Equal(t, valueobject.PaymentStatusRefunded, f.payment(t, res.Payment.ID).Status)
	assert.Equal(t, repository.IntentCanceled, f.processor.status(*res.Payment.IntentID))
	assert.Equal(t, 0, f.committed(t))
}

func TestCancelBooking_HoldNotificationBetweenCancelAndSettlement(t *testing.T) {
	f := newFixture(t, 2)
	who := passenger()
	res := f.book(t, who, 2)

	_, _, err := f.bookings.Cancel(context.Background(), res.Booking.ID, who, "передумал")
	require.NoError(t, err)
	f.holdAndNotify(t, res.Payment)

	out, err := f.orch.CancelBooking(context.Background(), res.Booking.ID, who, "передумал")
	require.NoError(t, err)

	assert.Equal(t, valueobject.PaymentStatusRefunded, out.Payment.Status)
	assert.Equal(t, valueobject.BookingStatusCancelled, out.Booking.Status)
	assert.Equal(t, 0, f.committed(t))
	assert.Equal(t, 0, f.notifier.count(repository.NotifyBookingConfirmed, res.Booking.ID))
}

func TestCancelBooking_ConcurrentWithHold(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t, 2)
		who := passenger()
		res := f.book(t, who, 2)
		f.processor.hold(*res.Payment.IntentID)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.orch.CancelBooking(context.Background(), res.Booking.ID, who, "")
		}()
		go func() {
			defer wg.Done()
			_ = f.event(t, res.Payment, entity.EventHoldSucceeded)
		}()
		wg.Wait()

		assert.Equal(t, valueobject.BookingStatusCancelled, f.bookingStatus(t, res.Booking.ID))
		assert.Equal(t, valueobject.PaymentStatusRefunded, f.payment(t, res.Payment.ID).Status)
		assert.Equal(t, 0, f.committed(t))
	}
}

func TestCancelBooking_ForbiddenForStranger(t *testing.T) {
	f := newFixture(t, 2)
	res := f.book(t, passenger(), 1)

	_, err := f.orch.CancelBooking(context.Background(), res.Booking.ID, passenger(), "")

	assert.True(t, apperror.IsForbidden(err))
	assert.Equal(t, valueobject.BookingStatusPending, f.bookingStatus(t, res.Booking.ID))
}

func TestCancelBooking_UnheldIntentFails(t *testing.T) {
	f := newFixture(t, 2)
	who := passenger()
	res := f.book(t, who, 1)

	out, err := f.orch.CancelBooking(context.Background(), res.Booking.ID, who, "")

	require.NoError(t, err)
	assert.Equal(t, valueobject.PaymentStatusFailed, out.Payment.Status)
	assert.Equal(t, repository.IntentCanceled, f.processor.status(*res.Payment.IntentID))
}

func TestCompleteTrip_CancelsUnconfirmedAndRejectsStranger(t *testing.T) {
	f := newFixture(t, 3)
	confirmed := f.book(t, passenger(), 1)
	pending := f.book(t, passenger(), 1)
	f.holdAndNotify(t, confirmed.Payment)

	_, err := f.orch.CompleteTrip(context.Background(), f.trip.ID, passenger())
	assert.True(t, apperror.IsForbidden(err))

	report, err := f.orch.CompleteTrip(context.Background(), f.trip.ID, f.driver)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{confirmed.Booking.ID}, report.Captured)
	assert.Equal(t, []uuid.UUID{pending.Booking.ID}, report.Cancelled)
	assert.Equal(t, valueobject.PaymentStatusFailed, f.payment(t, pending.Payment.ID).Status)

	_, err = f.orch.CancelTrip(context.Background(), f.trip.ID, f.driver, "")
	assert.True(t, apperror.IsInvalidState(err))
}

func TestDispute_FreezeSkipsCaptureAndRefundResolution(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	res := f.book(t, passenger(), 1)
	f.holdAndNotify(t, res.Payment)

	err := f.orch.HandleEvent(ctx, &entity.ProcessorEvent{
		ID:       "evt_dispute",
		Type:     entity.EventDisputeCreated,
		IntentID: *res.Payment.IntentID,
		Dispute:  &entity.DisputeInfo{ExternalID: "dp_1", Reason: "fraudulent"},
	})
	require.NoError(t, err)

	report, err := f.orch.CompleteTrip(ctx, f.trip.ID, f.driver)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{res.Booking.ID}, report.Skipped)
	assert.Equal(t, valueobject.PaymentStatusHold, f.payment(t, res.Payment.ID).Status)
	assert.Equal(t, 0, f.processor.callCount("capture"))

	open, err := f.disputes.ListOpen(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, open, 1)

	admin := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleAdmin}
	d, err := f.disputes.Resolve(ctx, open[0].ID, valueobject.DisputeOutcomeRefund, admin)
	require.NoError(t, err)

	assert.Equal(t, valueobject.DisputeStatusResolvedRefund, d.Status)
	assert.Equal(t, valueobject.PaymentStatusRefunded, f.payment(t, res.Payment.ID).Status)
	assert.Equal(t, valueobject.BookingStatusCancelled, f.bookingStatus(t, res.Booking.ID))
	assert.Equal(t, 1, f.notifier.count(repository.NotifyDisputeResolved, res.Booking.ID))
}

func TestDispute_CaptureResolutionFinishesBooking(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	res := f.book(t, passenger(), 1)
	f.holdAndNotify(t, res.Payment)

	d, _, err := f.disputes.Open(ctx, dispute.OpenInput{PaymentID: res.Payment.ID, Reason: "quality", ExternalID: "dp_2"})
	require.NoError(t, err)
	_, err = f.orch.CompleteTrip(ctx, f.trip.ID, f.driver)
	require.NoError(t, err)

	admin := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleAdmin}
	_, err = f.disputes.Resolve(ctx, d.ID, valueobject.DisputeOutcomeCapture, admin)
	require.NoError(t, err)

	assert.Equal(t, valueobject.PaymentStatusCaptured, f.payment(t, res.Payment.ID).Status)
	assert.Equal(t, valueobject.BookingStatusFinished, f.bookingStatus(t, res.Booking.ID))
}

func (f *fixture) openDispute(t *testing.T, p *entity.Payment, externalID string) {
	t.Helper()
	require.NoError(t, f.orch.HandleEvent(context.Background(), &entity.ProcessorEvent{
		ID:       "evt_" + externalID,
		Type:     entity.EventDisputeCreated,
		IntentID: *p.IntentID,
		Dispute:  &entity.DisputeInfo{ExternalID: externalID, Reason: "fraudulent"},
	}))
}

func TestCancelBooking_BlockedWhileDisputeOpen(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	who := passenger()
	res := f.book(t, who, 1)
	f.holdAndNotify(t, res.Payment)
	f.openDispute(t, res.Payment, "dp_cancel")

	_, err := f.orch.CancelBooking(ctx, res.Booking.ID, who, "передумал")

	assert.True(t, apperror.HasCode(err, apperror.ErrCodePaymentFrozen))
	assert.Equal(t, valueobject.BookingStatusConfirmed, f.bookingStatus(t, res.Booking.ID))
	assert.Equal(t, valueobject.PaymentStatusHold, f.payment(t, res.Payment.ID).Status)
	assert.Equal(t, 1, f.committed(t))

	open, err := f.disputes.ListOpen(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, open, 1)
	admin := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleAdmin}
	_, err = f.disputes.Resolve(ctx, open[0].ID, valueobject.DisputeOutcomeCapture, admin)
	require.NoError(t, err)

	assert.Equal(t, valueobject.PaymentStatusCaptured, f.payment(t, res.Payment.ID).Status)
	assert.Equal(t, valueobject.BookingStatusConfirmed, f.bookingStatus(t, res.Booking.ID))
	assert.Equal(t, 1, f.committed(t))
}

func TestCancelBooking_StrangerGetsForbiddenEvenWhenDisputed(t *testing.T) {
	f := newFixture(t, 2)
	res := f.book(t, passenger(), 1)
	f.holdAndNotify(t, res.Payment)
	f.openDispute(t, res.Payment, "dp_stranger")

	_, err := f.orch.CancelBooking(context.Background(), res.Booking.ID, passenger(), "")

	assert.True(t, apperror.IsForbidden(err))
}

func TestCancelTrip_SkipsDisputedBooking(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	disputed := f.book(t, passenger(), 1)
	plain := f.book(t, passenger(), 1)
	f.holdAndNotify(t, disputed.Payment)
	f.holdAndNotify(t, plain.Payment)
	f.openDispute(t, disputed.Payment, "dp_trip")

	report, err := f.orch.CancelTrip(ctx, f.trip.ID, f.driver, "")
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{disputed.Booking.ID}, report.Skipped)
	assert.Equal(t, []uuid.UUID{plain.Booking.ID}, report.Cancelled)
	assert.Empty(t, report.Failed)
	assert.Equal(t, valueobject.BookingStatusConfirmed, f.bookingStatus(t, disputed.Booking.ID))
	assert.Equal(t, valueobject.PaymentStatusHold, f.payment(t, disputed.Payment.ID).Status)
	assert.Equal(t, 1, f.committed(t))

	open, err := f.disputes.ListOpen(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, open, 1)
	admin := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleAdmin}
	_, err = f.disputes.Resolve(ctx, open[0].ID, valueobject.DisputeOutcomeRefund, admin)
	require.NoError(t, err)

	assert.Equal(t, valueobject.BookingStatusCancelled, f.bookingStatus(t, disputed.Booking.ID))
	assert.Equal(t, valueobject.PaymentStatusRefunded, f.payment(t, disputed.Payment.ID).Status)
	assert.Equal(t, 0, f.committed(t))
}

func TestDispute_CaptureRefusedForCancelledBooking(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	who := passenger()
	res := f.book(t, who, 1)
	f.holdAndNotify(t, res.Payment)

	// Процессор не дал снять удержание: бронь отменена, платёж остался в HOLD.
	f.processor.cancelErr = apperror.New(apperror.ErrCodeProcessorRejected, "authorization locked")
	cancelled, err := f.orch.CancelBooking(ctx, res.Booking.ID, who, "передумал")
	require.NoError(t, err)
	require.Equal(t, valueobject.BookingStatusCancelled, cancelled.Booking.Status)
	require.Equal(t, valueobject.PaymentStatusHold, f.payment(t, res.Payment.ID).Status)

	d, _, err := f.disputes.Open(ctx, dispute.OpenInput{PaymentID: res.Payment.ID, Reason: "not received", ExternalID: "dp_late"})
	require.NoError(t, err)
	admin := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleAdmin}

	_, err = f.disputes.Resolve(ctx, d.ID, valueobject.DisputeOutcomeCapture, admin)

	assert.True(t, apperror.IsInvalidState(err))
	assert.Equal(t, valueobject.PaymentStatusHold, f.payment(t, res.Payment.ID).Status)
	assert.Equal(t, 0, f.processor.callCount("capture"))

	f.processor.cancelErr = nil
	resolved, err := f.disputes.Resolve(ctx, d.ID, valueobject.DisputeOutcomeRefund, admin)
	require.NoError(t, err)
	assert.Equal(t, valueobject.DisputeStatusResolvedRefund, resolved.Status)
	assert.Equal(t, valueobject.PaymentStatusRefunded, f.payment(t, res.Payment.ID).Status)
}

func TestCancelTrip_CascadesToBookings(t *testing.T) {
	f := newFixture(t, 3)
	held := f.book(t, passenger(), 2)
	unheld := f.book(t, passenger(), 1)
	f.holdAndNotify(t, held.Payment)

	report, err := f.orch.CancelTrip(context.Background(), f.trip.ID, f.driver, "поломка")
	require.NoError(t, err)

	assert.Len(t, report.Cancelled, 2)
	assert.Empty(t, report.Failed)
	assert.Equal(t, valueobject.PaymentStatusRefunded, f.payment(t, held.Payment.ID).Status)
	assert.Equal(t, valueobject.PaymentStatusFailed, f.payment(t, unheld.Payment.ID).Status)
	assert.Equal(t, 0, f.committed(t))

	trip, err := f.catalogue.GetTrip(context.Background(), f.trip.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.TripStatusCancelled, trip.Status)

	_, err = f.orch.CreateBooking(context.Background(), escrow.CreateBookingInput{TripID: f.trip.ID, PassengerID: uuid.New(), Seats: 1})
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeTripNotOpen))
}

func TestGetBooking_VisibleToParticipantsOnly(t *testing.T) {
	f := newFixture(t, 2)
	who := passenger()
	res := f.book(t, who, 1)

	details, err := f.orch.GetBooking(context.Background(), res.Booking.ID, who)
	require.NoError(t, err)
	assert.Len(t, details.Payments, 1)

	_, err = f.orch.GetBooking(context.Background(), res.Booking.ID, f.driver)
	assert.NoError(t, err)

	_, err = f.orch.GetBooking(context.Background(), res.Booking.ID, passenger())
	assert.True(t, apperror.IsForbidden(err))
}
