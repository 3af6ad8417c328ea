package queue

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
	"github.com/ignatzorin/carpool-escrow/internal/goroutine"
	"github.com/sirupsen/logrus"
)

// LocalScheduler - очередь в памяти процесса на таймерах. Задачи теряются при
// рестарте; подходит для одного инстанса и тестов.
type LocalScheduler struct {
	cfg Config
	log logrus.FieldLogger

	mu       sync.Mutex
	handlers map[string]Handler
	pending  map[string]*time.Timer
	seq      uint64
	closed   bool
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewLocalScheduler(cfg Config, log logrus.FieldLogger) *LocalScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalScheduler{
		cfg:      cfg.withDefaults(),
		log:      log,
		handlers: make(map[string]Handler),
		pending:  make(map[string]*time.Timer),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *LocalScheduler) Register(kind string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = h
}

func (s *LocalScheduler) Schedule(_ context.Context, task repository.Task, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	var key string
	if task.Key != "" {
		key = task.Kind + ":" + task.Key
		if _, ok := s.pending[key]; ok {
			return nil
		}
	} else {
		s.seq++
		key = task.Kind + "#" + strconv.FormatUint(s.seq, 10)
	}
	s.startLocked(task, key, delay, 0)
	return nil
}

func (s *LocalScheduler) startLocked(task repository.Task, key string, delay time.Duration, retried int) {
	s.wg.Add(1)
	s.pending[key] = time.AfterFunc(delay, func() {
		defer s.wg.Done()
		s.run(task, key, retried)
	})
}

func (s *LocalScheduler) run(task repository.Task, key string, retried int) {
	s.mu.Lock()
	h, ok := s.handlers[task.Kind]
	closed := s.closed
	s.mu.Unlock()

	log := s.log.WithFields(logrus.Fields{"task": task.Kind, "key": task.Key, "retried": retried})
	if closed {
		return
	}
	if !ok {
		log.Warn("no handler registered for task")
		s.done(key)
		return
	}

	var err error
	goroutine.DefaultRecoveryHandler.Run(func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.HandlerTimeout)
		defer cancel()
		err = h(ctx, task.Payload)
	})
	if err == nil {
		s.done(key)
		return
	}
	if retried >= s.cfg.MaxRetry {
		log.WithError(err).Error("deferred task failed, retries exhausted")
		s.done(key)
		return
	}
	log.WithError(err).Warn("deferred task failed, retrying")
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.startLocked(task, key, s.cfg.Backoff.Delay(retried+1), retried+1)
	}
}

func (s *LocalScheduler) done(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, key)
}

// Close отменяет ещё не сработавшие задачи и ждёт выполняющиеся.
func (s *LocalScheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for key, timer := range s.pending {
		if timer.Stop() {
			s.wg.Done()
		}
		delete(s.pending, key)
	}
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}
