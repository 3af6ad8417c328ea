package escrow_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
	"github.com/ignatzorin/carpool-escrow/internal/pkg/apperror"
)

type fakeProcessor struct {
	mu      sync.Mutex
	seq     int
	intents map[string]*repository.Intent
	byKey   map[string]string
	calls   map[string]int

	createErr  error
	confirmErr error
	captureErr error
	cancelErr  error
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		intents: make(map[string]*repository.Intent),
		byKey:   make(map[string]string),
		calls:   make(map[string]int),
	}
}

func (f *fakeProcessor) CreateIntent(ctx context.Context, req repository.IntentRequest) (*repository.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["create"]++
	if f.createErr != nil {
		return nil, f.createErr
	}
	if id, ok := f.byKey[req.IdempotencyKey]; ok {
		cp := *f.intents[id]
		return &cp, nil
	}
	f.seq++
	in := &repository.Intent{
		ID:           fmt.Sprintf("pi_%d", f.seq),
		ClientSecret: fmt.Sprintf("pi_%d_secret", f.seq),
		Status:       repository.IntentPending,
	}
	in.AmountCapturable = req.Amount
	f.intents[in.ID] = in
	f.byKey[req.IdempotencyKey] = in.ID
	cp := *in
	return &cp, nil
}

func (f *fakeProcessor) ConfirmHold(ctx context.Context, intentID, paymentMethodID string) (*repository.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["confirm"]++
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	in := f.intents[intentID]
	cp := *in
	return &cp, nil
}

func (f *fakeProcessor) Capture(ctx context.Context, intentID string, amount int64, key string) (*repository.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["capture"]++
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	in := f.intents[intentID]
	if in.Status != repository.IntentHeld && in.Status != repository.IntentCaptured {
		return nil, apperror.New(apperror.ErrCodeProcessorRejected, "intent is not capturable")
	}
	in.Status = repository.IntentCaptured
	in.AmountReceived = amount
	cp := *in
	return &cp, nil
}

func (f *fakeProcessor) Cancel(ctx context.Context, intentID, key string) (*repository.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["cancel"]++
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	in := f.intents[intentID]
	if in.Status == repository.IntentCaptured {
		return nil, apperror.New(apperror.ErrCodeProcessorRejected, "captured intent cannot be canceled")
	}
	in.Status = repository.IntentCanceled
	cp := *in
	return &cp, nil
}

func (f *fakeProcessor) Refund(ctx context.Context, intentID string, amount int64, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["refund"]++
	f.intents[intentID].AmountRefunded += amount
	return nil
}

func (f *fakeProcessor) GetIntent(ctx context.Context, intentID string) (*repository.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["get"]++
	in, ok := f.intents[intentID]
	if !ok {
		return nil, apperror.New(apperror.ErrCodeProcessorRejected, "no such intent")
	}
	cp := *in
	return &cp, nil
}

// hold имитирует подтверждение плательщиком: процессор удерживает средства.
func (f *fakeProcessor) hold(intentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents[intentID].Status = repository.IntentHeld
}

func (f *fakeProcessor) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeProcessor) status(intentID string) repository.IntentStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.intents[intentID].Status
}

type scheduledTask struct {
	task  repository.Task
	delay time.Duration
}

type fakeScheduler struct {
	mu    sync.Mutex
	tasks []scheduledTask
}

func (s *fakeScheduler) Schedule(ctx context.Context, task repository.Task, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, scheduledTask{task: task, delay: delay})
	return nil
}

func (s *fakeScheduler) byKind(kind string) []repository.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []repository.Task
	for _, t := range s.tasks {
		if t.task.Kind == kind {
			out = append(out, t.task)
		}
	}
	return out
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []repository.Notification
}

func (n *fakeNotifier) Notify(ctx context.Context, recipients []uuid.UUID, msg repository.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

func (n *fakeNotifier) count(kind string, bookingID uuid.UUID) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, m := range n.sent {
		if m.Type == kind && m.BookingID == bookingID {
			c++
		}
	}
	return c
}
