package goroutine

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/ignatzorin/carpool-escrow/internal/logger"
)

// Logger интерфейс для логирования ошибок
type Logger interface {
	Errorf(format string, args ...interface{})
}

// RecoveryHandler обрабатывает panic в горутинах
type RecoveryHandler struct {
	logger Logger
}

func NewRecoveryHandler(logger Logger) *RecoveryHandler {
	return &RecoveryHandler{logger: logger}
}

// SafeGo запускает горутину с обработкой panic
func (rh *RecoveryHandler) SafeGo(fn func()) {
	go rh.run(fn)
}

// SafeGoWithContext запускает горутину с контекстом и обработкой panic
func (rh *RecoveryHandler) SafeGoWithContext(ctx context.Context, fn func(context.Context)) {
	go rh.run(func() { fn(ctx) })
}

// Run выполняет fn в текущей горутине и перехватывает panic. Возвращает false, если была panic.
func (rh *RecoveryHandler) Run(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			rh.logger.Errorf("Panic in goroutine: %v\nStack trace:\n%s", r, debug.Stack())
			ok = false
		}
	}()
	fn()
	return true
}

func (rh *RecoveryHandler) run(fn func()) {
	rh.Run(fn)
}

type componentLogger struct{}

func (componentLogger) Errorf(format string, args ...interface{}) {
	logger.Component("goroutine").Errorf(format, args...)
}

// DefaultRecoveryHandler пишет panic в общий логгер приложения.
var DefaultRecoveryHandler = NewRecoveryHandler(componentLogger{})

// SafeGo - упрощенная функция для запуска безопасной горутины
func SafeGo(fn func()) {
	DefaultRecoveryHandler.SafeGo(fn)
}

// SafeGoWithContext - упрощенная функция для запуска безопасной горутины с контекстом
func SafeGoWithContext(ctx context.Context, fn func(context.Context)) {
	DefaultRecoveryHandler.SafeGoWithContext(ctx, fn)
}

// ForEach выполняет fn для каждого элемента не более чем в size горутинах
// и ждёт завершения всех. Panic в одном элементе не прерывает остальные.
func ForEach[T any](ctx context.Context, size int, items []T, fn func(context.Context, T)) {
	if size <= 0 {
		size = 1
	}
	sem := make(chan struct{}, size)
	var wg sync.WaitGroup
	for _, item := range items {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(item T) {
			defer func() {
				<-sem
				wg.Done()
			}()
			DefaultRecoveryHandler.Run(func() { fn(ctx, item) })
		}(item)
	}
	wg.Wait()
}
