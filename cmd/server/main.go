package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/carpool-escrow/internal/auth"
	"github.com/ignatzorin/carpool-escrow/internal/config"
	"github.com/ignatzorin/carpool-escrow/internal/db"
	"github.com/ignatzorin/carpool-escrow/internal/domain/repository"
	httpRouter "github.com/ignatzorin/carpool-escrow/internal/http/router"
	"github.com/ignatzorin/carpool-escrow/internal/infrastructure/persistence"
	"github.com/ignatzorin/carpool-escrow/internal/infrastructure/persistence/memory"
	"github.com/ignatzorin/carpool-escrow/internal/infrastructure/processor"
	"github.com/ignatzorin/carpool-escrow/internal/infrastructure/queue"
	"github.com/ignatzorin/carpool-escrow/internal/infrastructure/redisledger"
	"github.com/ignatzorin/carpool-escrow/internal/interface/http/handler"
	"github.com/ignatzorin/carpool-escrow/internal/logger"
	"github.com/ignatzorin/carpool-escrow/internal/metrics"
	"github.com/ignatzorin/carpool-escrow/internal/pkg/retry"
	"github.com/ignatzorin/carpool-escrow/internal/usecase/booking"
	"github.com/ignatzorin/carpool-escrow/internal/usecase/dispute"
	"github.com/ignatzorin/carpool-escrow/internal/usecase/escrow"
	"github.com/ignatzorin/carpool-escrow/internal/usecase/inventory"
	"github.com/ignatzorin/carpool-escrow/internal/usecase/payment"
	"github.com/ignatzorin/carpool-escrow/internal/usecase/webhook"
	"github.com/ignatzorin/carpool-escrow/internal/ws"
)

// taskQueue - отложенная очередь с регистрацией обработчиков.
type taskQueue interface {
	repository.Scheduler
	Register(kind string, h queue.Handler)
}

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	if cfg.Env == "development" {
		logger.Init("debug")
		logger.SetTextFormatter()
	} else {
		logger.Init("info")
	}
	log := logger.Log

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath, logger.Component("migrations")); err != nil {
		log.Fatalf("main: ошибка миграций: %v", err)
	}

	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	var redisClient *redis.Client
	if cfg.InventoryBackend == config.InventoryRedis {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalf("main: redis недоступен: %v", err)
		}
	}

	m := metrics.New()

	// Репозитории.
	trips := persistence.NewTripCatalogue(dbConn)
	bookingRepo := persistence.NewBookingRepository(dbConn)
	paymentRepo := persistence.NewPaymentRepository(dbConn)
	disputeRepo := persistence.NewDisputeRepository(dbConn)
	eventRepo := persistence.NewProcessedEventRepository(dbConn)
	store := newInventoryStore(cfg, dbConn, redisClient)

	// Учёт мест и автозакрытие поездок.
	ledger := inventory.NewLedger(store, trips, m, logger.Component("inventory"))
	ledger.Subscribe(inventory.NewAutoCloser(store, trips, logger.Component("auto_close")))

	// Машины состояний.
	bookings := booking.NewService(bookingRepo, trips, ledger, logger.Component("booking"))
	disputes := dispute.NewService(disputeRepo, paymentRepo, logger.Component("dispute"))
	payments := payment.NewService(paymentRepo, disputes, logger.Component("payment"))

	// Внешние системы.
	stripeProcessor := processor.NewStripeProcessor(cfg.StripeSecretKey, processor.Options{}, logger.Component("stripe"))
	tasks, startQueue, stopQueue := newQueue(cfg, redisOpt)

	hub := ws.NewHub(logger.Component("ws"))
	go hub.Run(ctx)

	orchestrator := escrow.NewOrchestrator(bookings, payments, disputes, trips, stripeProcessor, tasks, ws.NewNotifier(hub), m,
		logger.Component("escrow"), escrow.Config{
			Currency:         cfg.PaymentCurrency,
			ProcessorTimeout: cfg.ProcessorTimeout,
			Retry: retry.Policy{
				MaxAttempts: cfg.ProcessorMaxAttempts,
				BaseDelay:   cfg.ProcessorBackoffBase,
				MaxDelay:    cfg.ProcessorBackoffMax,
			},
			ReconcileDelay:       cfg.ReconcileDelay,
			ReconcileMaxAttempts: cfg.ReconcileMaxAttempts,
			ReconcilePollRPS:     cfg.ReconcilePollRPS,
			WorkerPoolSize:       cfg.WorkerPoolSize,
		})
	disputes.SetSettler(orchestrator)

	reconciler := webhook.NewReconciler(processor.NewWebhookVerifier(cfg.StripeWebhookSecret), eventRepo, orchestrator, tasks, m,
		logger.Component("webhook"), webhook.Config{
			MaxRetries: cfg.WebhookMaxRetries,
			RetryDelay: cfg.WebhookRetryDelay,
			ClaimLease: cfg.WebhookClaimLease,
		})

	// Отложенные задачи.
	tasks.Register(repository.TaskWebhookRetry, reconciler.HandleRetryTask)
	tasks.Register(repository.TaskReconcilePayment, orchestrator.HandleReconcileTask)
	if err := startQueue(); err != nil {
		log.Fatalf("main: ошибка запуска очереди: %v", err)
	}
	defer stopQueue()

	// HTTP.
	tokens := auth.NewTokenManager(cfg.JWTSecret)
	checks := map[string]handler.Checker{"database": dbConn.PingContext}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	engine := httpRouter.SetupRouter(cfg, tokens, httpRouter.Handlers{
		Bookings: handler.NewBookingHandler(orchestrator),
		Trips:    handler.NewTripHandler(orchestrator, trips, cfg.PaymentCurrency),
		Disputes: handler.NewDisputeHandler(disputes),
		Webhooks: handler.NewWebhookHandler(reconciler),
		Health:   handler.NewHealthHandler(checks),
		WS:       handler.NewWSHandler(hub, tokens, cfg.AllowedOrigins),
		Metrics:  m.Handler(),
	}, logger.Component("http"))

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Errorf("main: ошибка остановки http сервера: %v", err)
		}
	}()

	log.WithFields(logrus.Fields{
		"port":      cfg.HTTPPort,
		"inventory": cfg.InventoryBackend,
		"queue":     cfg.QueueBackend,
	}).Info("main: HTTP сервер запущен")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

func newInventoryStore(cfg *config.Config, dbConn *sqlx.DB, redisClient *redis.Client) repository.InventoryStore {
	switch cfg.InventoryBackend {
	case config.InventoryRedis:
		return redisledger.NewStore(redisClient, "inventory")
	case config.InventoryMemory:
		logger.Log.Warn("main: счётчик мест в памяти, запускайте один инстанс")
		return memory.NewInventoryStore()
	default:
		return persistence.NewInventoryStore(dbConn)
	}
}

func newQueue(cfg *config.Config, redisOpt asynq.RedisClientOpt) (taskQueue, func() error, func()) {
	qcfg := queue.Config{
		MaxRetry: 3,
		Backoff:  retry.Policy{BaseDelay: cfg.WebhookRetryDelay, MaxDelay: 10 * cfg.WebhookRetryDelay},
	}
	if cfg.QueueBackend == config.QueueLocal {
		logger.Log.Warn("main: очередь задач в памяти, отложенные задачи не переживут рестарт")
		local := queue.NewLocalScheduler(qcfg, logger.Component("queue"))
		return local, func() error { return nil }, local.Close
	}
	q := queue.NewAsynqScheduler(redisOpt, cfg.WorkerPoolSize, qcfg, logger.Component("queue"))
	return q, q.Start, q.Shutdown
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		logger.Log.Errorf("main: ошибка закрытия базы: %v", err)
	}
}
