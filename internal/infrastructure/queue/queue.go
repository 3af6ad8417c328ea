package queue

import (
	"context"
	"time"

	"github.com/ignatzorin/carpool-escrow/internal/pkg/retry"
)

// Handler обрабатывает отложенную задачу. Ошибка означает повтор по политике очереди.
type Handler func(ctx context.Context, payload []byte) error

// Config общий для обеих реализаций очереди.
type Config struct {
	// MaxRetry - сколько раз повторять задачу, обработчик которой вернул ошибку.
	MaxRetry int
	// Backoff задаёт паузы между повторами в локальной очереди.
	Backoff retry.Policy
	// HandlerTimeout ограничивает выполнение одного обработчика.
	HandlerTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetry < 0 {
		c.MaxRetry = 0
	}
	if c.Backoff.BaseDelay == 0 {
		c.Backoff = retry.Policy{BaseDelay: time.Second, MaxDelay: time.Minute}
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = time.Minute
	}
	return c
}
