package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/ignatzorin/carpool-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/carpool-escrow/internal/http/middleware"
	"github.com/ignatzorin/carpool-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/carpool-escrow/internal/usecase/escrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockOrchestrator struct {
	mock.Mock
}

func (m *MockOrchestrator) CreateBooking(ctx context.Context, in escrow.CreateBookingInput) (*escrow.BookingResult, error) {
	args := m.Called(ctx, in)
	res, _ := args.Get(0).(*escrow.BookingResult)
	return res, args.Error(1)
}

func (m *MockOrchestrator) CancelBooking(ctx context.Context, id uuid.UUID, actor valueobject.Actor, reason string) (*escrow.BookingResult, error) {
	args := m.Called(ctx, id, actor, reason)
	res, _ := args.Get(0).(*escrow.BookingResult)
	return res, args.Error(1)
}

func (m *MockOrchestrator) GetBooking(ctx context.Context, id uuid.UUID, actor valueobject.Actor) (*escrow.BookingDetails, error) {
	args := m.Called(ctx, id, actor)
	res, _ := args.Get(0).(*escrow.BookingDetails)
	return res, args.Error(1)
}

type MockTrips struct {
	mock.Mock
}

func (m *MockTrips) CompleteTrip(ctx context.Context, tripID uuid.UUID, actor valueobject.Actor) (*escrow.TripReport, error) {
	args := m.Called(ctx, tripID, actor)
	res, _ := args.Get(0).(*escrow.TripReport)
	return res, args.Error(1)
}

func (m *MockTrips) CancelTrip(ctx context.Context, tripID uuid.UUID, actor valueobject.Actor, reason string) (*escrow.TripReport, error) {
	args := m.Called(ctx, tripID, actor, reason)
	res, _ := args.Get(0).(*escrow.TripReport)
	return res, args.Error(1)
}

func (m *MockTrips) ListTripBookings(ctx context.Context, tripID uuid.UUID, actor valueobject.Actor, statuses ...valueobject.BookingStatus) ([]*entity.Booking, error) {
	args := m.Called(ctx, tripID, actor, statuses)
	res, _ := args.Get(0).([]*entity.Booking)
	return res, args.Error(1)
}

type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) Handle(ctx context.Context, payload []byte, signature string) error {
	return m.Called(ctx, string(payload), signature).Error(0)
}

type MockDisputes struct {
	mock.Mock
}

func (m *MockDisputes) ListOpen(ctx context.Context, limit, offset int) ([]*entity.Dispute, error) {
	args := m.Called(ctx, limit, offset)
	res, _ := args.Get(0).([]*entity.Dispute)
	return res, args.Error(1)
}

func (m *MockDisputes) Resolve(ctx context.Context, id uuid.UUID, outcome valueobject.DisputeOutcome, actor valueobject.Actor) (*entity.Dispute, error) {
	args := m.Called(ctx, id, outcome, actor)
	res, _ := args.Get(0).(*entity.Dispute)
	return res, args.Error(1)
}

func newEngine(actor *valueobject.Actor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if actor != nil {
		r.Use(func(c *gin.Context) {
			c.Set(middleware.ContextActorKey, *actor)
		})
	}
	return r
}

func do(r http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func sampleResult(passengerID uuid.UUID) *escrow.BookingResult {
	b := &entity.Booking{
		ID:          uuid.New(),
		TripID:      uuid.New(),
		PassengerID: passengerID,
		Seats:       2,
		TotalPrice:  valueobject.Money{Amount: 3000, Currency: "usd"},
		Status:      valueobject.BookingStatusPending,
		CreatedAt:   time.Now(),
	}
	intent := "pi_1"
	p := &entity.Payment{
		ID:           uuid.New(),
		BookingID:    b.ID,
		IntentID:     &intent,
		Amount:       b.TotalPrice,
		Status:       valueobject.PaymentStatusIntent,
		ClientSecret: "pi_1_secret",
	}
	return &escrow.BookingResult{Booking: b, Payment: p}
}

func TestBookingHandler_Create_Unauthorized(t *testing.T) {
	r := newEngine(nil)
	r.POST("/bookings", NewBookingHandler(&MockOrchestrator{}).Create)

	w := do(r, http.MethodPost, "/bookings", map[string]any{"trip_id": uuid.NewString(), "seats": 1}, nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBookingHandler_Create_InvalidBody(t *testing.T) {
	actor := valueobject.Actor{ID: uuid.New(), Role: valueobject.RolePassenger}
	r := newEngine(&actor)
	orch := &MockOrchestrator{}
	r.POST("/bookings", NewBookingHandler(orch).Create)

	for _, body := range []map[string]any{
		{"trip_id": "not-a-uuid", "seats": 1},
		{"trip_id": uuid.NewString(), "seats": 0},
		{"seats": 1},
		{"trip_id": uuid.NewString(), "seats": -2},
	} {
		w := do(r, http.MethodPost, "/bookings", body, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}
	orch.AssertNotCalled(t, "CreateBooking", mock.Anything, mock.Anything)
}

func TestBookingHandler_Create_Success(t *testing.T) {
	actor := valueobject.Actor{ID: uuid.New(), Role: valueobject.RolePassenger}
	r := newEngine(&actor)
	orch := &MockOrchestrator{}
	r.POST("/bookings", NewBookingHandler(orch).Create)

	tripID := uuid.New()
	result := sampleResult(actor.ID)
	orch.On("CreateBooking", mock.Anything, escrow.CreateBookingInput{
		TripID:         tripID,
		PassengerID:    actor.ID,
		Seats:          2,
		IdempotencyKey: "key-1",
	}).Return(result, nil).Once()

	w := do(r, http.MethodPost, "/bookings", map[string]any{"trip_id": tripID.String(), "seats": 2},
		map[string]string{"Idempotency-Key": "key-1"})

	require.Equal(t, http.StatusCreated, w.Code)
	env := decode(t, w)
	assert.True(t, env.Success)
	assert.Contains(t, string(env.Data), `"client_secret":"pi_1_secret"`)
	assert.Contains(t, string(env.Data), `"status":"PENDING"`)
	orch.AssertExpectations(t)
}

func TestBookingHandler_Create_ReplayReturnsOK(t *testing.T) {
	actor := valueobject.Actor{ID: uuid.New(), Role: valueobject.RolePassenger}
	r := newEngine(&actor)
	orch := &MockOrchestrator{}
	r.POST("/bookings", NewBookingHandler(orch).Create)

	result := sampleResult(actor.ID)
	result.Replayed = true
	orch.On("CreateBooking", mock.Anything, mock.Anything).Return(result, nil)

	w := do(r, http.MethodPost, "/bookings", map[string]any{"trip_id": uuid.NewString(), "seats": 2}, nil)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBookingHandler_Create_UnknownOutcomeAccepted(t *testing.T) {
	actor := valueobject.Actor{ID: uuid.New(), Role: valueobject.RolePassenger}
	r := newEngine(&actor)
	orch := &MockOrchestrator{}
	r.POST("/bookings", NewBookingHandler(orch).Create)

	result := sampleResult(actor.ID)
	orch.On("CreateBooking", mock.Anything, mock.Anything).
		Return(result, apperror.New(apperror.ErrCodeProcessorUnknownOutcome, "pending"))

	w := do(r, http.MethodPost, "/bookings", map[string]any{"trip_id": uuid.NewString(), "seats": 2}, nil)

	require.Equal(t, http.StatusAccepted, w.Code)
	env := decode(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, "PROCESSOR_UNKNOWN_OUTCOME", env.Error.Code)
	assert.Contains(t, string(env.Data), result.Booking.ID.String())
}

func TestBookingHandler_Create_BusinessErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{apperror.ErrCapacity, http.StatusConflict, "CAPACITY_EXCEEDED"},
		{apperror.ErrTripNotOpen, http.StatusConflict, "TRIP_NOT_OPEN"},
		{apperror.New(apperror.ErrCodeProcessorRejected, "declined"), http.StatusPaymentRequired, "PROCESSOR_REJECTED"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			actor := valueobject.Actor{ID: uuid.New(), Role: valueobject.RolePassenger}
			r := newEngine(&actor)
			orch := &MockOrchestrator{}
			r.POST("/bookings", NewBookingHandler(orch).Create)
			orch.On("CreateBooking", mock.Anything, mock.Anything).Return(nil, tt.err)

			w := do(r, http.MethodPost, "/bookings", map[string]any{"trip_id": uuid.NewString(), "seats": 1}, nil)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decode(t, w).Error.Code)
		})
	}
}

func TestBookingHandler_Get(t *testing.T) {
	actor := valueobject.Actor{ID: uuid.New(), Role: valueobject.RolePassenger}
	r := newEngine(&actor)
	orch := &MockOrchestrator{}
	r.GET("/bookings/:id", NewBookingHandler(orch).Get)

	w := do(r, http.MethodGet, "/bookings/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	result := sampleResult(actor.ID)
	orch.On("GetBooking", mock.Anything, result.Booking.ID, actor).
		Return(&escrow.BookingDetails{Booking: result.Booking, Payments: []*entity.Payment{result.Payment}}, nil)
	w = do(r, http.MethodGet, "/bookings/"+result.Booking.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"payments":[{`)

	other := uuid.New()
	orch.On("GetBooking", mock.Anything, other, actor).Return(nil, apperror.ErrForbidden)
	w = do(r, http.MethodGet, "/bookings/"+other.String(), nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestBookingHandler_CancelPassesReason(t *testing.T) {
	actor := valueobject.Actor{ID: uuid.New(), Role: valueobject.RolePassenger}
	r := newEngine(&actor)
	orch := &MockOrchestrator{}
	r.POST("/bookings/:id/cancel", NewBookingHandler(orch).Cancel)

	result := sampleResult(actor.ID)
	result.Booking.Status = valueobject.BookingStatusCancelled
	orch.On("CancelBooking", mock.Anything, result.Booking.ID, actor, "plans changed").Return(result, nil).Once()

	w := do(r, http.MethodPost, "/bookings/"+result.Booking.ID.String()+"/cancel", map[string]any{"reason": "plans changed"}, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	orch.AssertExpectations(t)
}

func TestWebhookHandler(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"ack", nil, http.StatusOK},
		{"bad signature", apperror.New(apperror.ErrCodeSignatureInvalid, "bad"), http.StatusBadRequest},
		{"storage down", apperror.New(apperror.ErrCodeDatabaseError, "db"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &MockReconciler{}
			rec.On("Handle", mock.Anything, `{"id":"evt_1"}`, "t=1,v1=x").Return(tt.err).Once()
			r := newEngine(nil)
			r.POST("/webhooks/processor", NewWebhookHandler(rec).Receive)

			req := httptest.NewRequest(http.MethodPost, "/webhooks/processor", bytes.NewBufferString(`{"id":"evt_1"}`))
			req.Header.Set("Stripe-Signature", "t=1,v1=x")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			rec.AssertExpectations(t)
		})
	}
}

func TestWebhookHandler_RejectsOversizedBody(t *testing.T) {
	rec := &MockReconciler{}
	r := newEngine(nil)
	r.POST("/webhooks/processor", NewWebhookHandler(rec).Receive)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/processor", bytes.NewReader(make([]byte, maxWebhookBody+10)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	rec.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything, mock.Anything)
}

func TestDisputeHandler_Resolve(t *testing.T) {
	admin := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleAdmin}
	r := newEngine(&admin)
	svc := &MockDisputes{}
	r.POST("/disputes/:id/resolve", NewDisputeHandler(svc).Resolve)
	id := uuid.New()

	w := do(r, http.MethodPost, "/disputes/"+id.String()+"/resolve", map[string]any{"outcome": "MAYBE"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	svc.On("Resolve", mock.Anything, id, valueobject.DisputeOutcomeRefund, admin).
		Return(&entity.Dispute{ID: id, Status: valueobject.DisputeStatusResolvedRefund}, nil).Once()
	w = do(r, http.MethodPost, "/disputes/"+id.String()+"/resolve", map[string]any{"outcome": "REFUND"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(valueobject.DisputeStatusResolvedRefund))
	svc.AssertExpectations(t)
}

func TestDisputeHandler_ListOpenClampsLimit(t *testing.T) {
	admin := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleAdmin}
	r := newEngine(&admin)
	svc := &MockDisputes{}
	r.GET("/disputes", NewDisputeHandler(svc).ListOpen)
	svc.On("ListOpen", mock.Anything, 200, 10).Return([]*entity.Dispute{}, nil).Once()

	w := do(r, http.MethodGet, "/disputes?limit=5000&offset=10", nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestTripHandler_ListBookingsFiltersByStatus(t *testing.T) {
	driver := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleDriver}
	r := newEngine(&driver)
	trips := &MockTrips{}
	r.GET("/trips/:id/bookings", NewTripHandler(trips, nil, "usd").ListBookings)

	tripID := uuid.New()
	b := sampleResult(uuid.New()).Booking
	b.TripID = tripID
	b.Status = valueobject.BookingStatusConfirmed
	trips.On("ListTripBookings", mock.Anything, tripID, driver,
		[]valueobject.BookingStatus{valueobject.BookingStatusConfirmed, valueobject.BookingStatusPending}).
		Return([]*entity.Booking{b}, nil).Once()

	w := do(r, http.MethodGet, "/trips/"+tripID.String()+"/bookings?status=confirmed&status=PENDING", nil, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"CONFIRMED"`)
	trips.AssertExpectations(t)
}

func TestTripHandler_ListBookingsWithoutFilter(t *testing.T) {
	driver := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleDriver}
	r := newEngine(&driver)
	trips := &MockTrips{}
	r.GET("/trips/:id/bookings", NewTripHandler(trips, nil, "usd").ListBookings)

	tripID := uuid.New()
	trips.On("ListTripBookings", mock.Anything, tripID, driver, []valueobject.BookingStatus(nil)).
		Return([]*entity.Booking{}, nil).Once()

	w := do(r, http.MethodGet, "/trips/"+tripID.String()+"/bookings", nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	trips.AssertExpectations(t)
}

func TestTripHandler_ListBookingsRejectsUnknownStatus(t *testing.T) {
	driver := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleDriver}
	r := newEngine(&driver)
	trips := &MockTrips{}
	r.GET("/trips/:id/bookings", NewTripHandler(trips, nil, "usd").ListBookings)

	w := do(r, http.MethodGet, "/trips/"+uuid.NewString()+"/bookings?status=LOST", nil, nil)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(apperror.ErrCodeValidation), decode(t, w).Error.Code)
	trips.AssertNotCalled(t, "ListTripBookings", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHealthHandler(t *testing.T) {
	r := newEngine(nil)
	r.GET("/health", NewHealthHandler(map[string]Checker{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("down") },
	}).Health)

	w := do(r, http.MethodGet, "/health", nil, nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"unhealthy: down"`)
}
