package repository

import (
	"context"
	"time"
)

const (
	TaskWebhookRetry     = "webhook:retry"
	TaskReconcilePayment = "reconcile:payment"
)

type Task struct {
	Kind    string
	Payload []byte
	// Key дедуплицирует задачи: вторая задача с тем же ключом не ставится, пока первая не выполнена.
	Key string
}

// Scheduler откладывает выполнение задачи на delay.
type Scheduler interface {
	Schedule(ctx context.Context, task Task, delay time.Duration) error
}
