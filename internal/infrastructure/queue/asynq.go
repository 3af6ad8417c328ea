package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
	"github.com/sirupsen/logrus"
)

const defaultQueue = "escrow"

// AsynqScheduler - распределённая отложенная очередь на Redis. Задачи переживают
// рестарт процесса; дедупликация по Task.Key через asynq.TaskID.
type AsynqScheduler struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	queue  string
	cfg    Config
	log    logrus.FieldLogger
}

func NewAsynqScheduler(redis asynq.RedisClientOpt, concurrency int, cfg Config, log logrus.FieldLogger) *AsynqScheduler {
	cfg = cfg.withDefaults()
	if concurrency <= 0 {
		concurrency = 10
	}
	server := asynq.NewServer(redis, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{defaultQueue: 1},
		Logger:      log,
		LogLevel:    asynq.WarnLevel,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.WithError(err).WithField("task", task.Type()).Warn("deferred task failed")
		}),
	})
	return &AsynqScheduler{
		client: asynq.NewClient(redis),
		server: server,
		mux:    asynq.NewServeMux(),
		queue:  defaultQueue,
		cfg:    cfg,
		log:    log,
	}
}

func (s *AsynqScheduler) Schedule(ctx context.Context, task repository.Task, delay time.Duration) error {
	opts := []asynq.Option{
		asynq.Queue(s.queue),
		asynq.ProcessIn(delay),
		asynq.MaxRetry(s.cfg.MaxRetry),
		asynq.Timeout(s.cfg.HandlerTimeout),
	}
	if task.Key != "" {
		opts = append(opts, asynq.TaskID(task.Kind+":"+task.Key))
	}
	_, err := s.client.EnqueueContext(ctx, asynq.NewTask(task.Kind, task.Payload), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		s.log.WithFields(logrus.Fields{"task": task.Kind, "key": task.Key}).Debug("task already scheduled")
		return nil
	}
	if err != nil {
		return fmt.Errorf("queue: enqueue %s: %w", task.Kind, err)
	}
	return nil
}

// Register должен вызываться до Start.
func (s *AsynqScheduler) Register(kind string, h Handler) {
	s.mux.HandleFunc(kind, func(ctx context.Context, t *asynq.Task) error {
		return h(ctx, t.Payload())
	})
}

// Start запускает обработчики в фоне.
func (s *AsynqScheduler) Start() error {
	if err := s.server.Start(s.mux); err != nil {
		return fmt.Errorf("queue: start worker: %w", err)
	}
	return nil
}

func (s *AsynqScheduler) Shutdown() {
	s.server.Shutdown()
	if err := s.client.Close(); err != nil {
		s.log.WithError(err).Warn("queue: client close failed")
	}
}
