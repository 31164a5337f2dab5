package main

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/clinicdesk/clinic-scheduler/internal/calendar"
	"github.com/clinicdesk/clinic-scheduler/internal/clinic"
	"github.com/clinicdesk/clinic-scheduler/internal/handlers"
	"github.com/clinicdesk/clinic-scheduler/internal/notify"
	"github.com/clinicdesk/clinic-scheduler/internal/outbox"
	"github.com/clinicdesk/clinic-scheduler/internal/reconcile"
	"github.com/clinicdesk/clinic-scheduler/internal/scheduling"
	"github.com/clinicdesk/clinic-scheduler/internal/storage"
	"github.com/clinicdesk/clinic-scheduler/libs/config"
	"github.com/clinicdesk/clinic-scheduler/libs/db"
	"github.com/clinicdesk/clinic-scheduler/libs/httpx"
	"github.com/clinicdesk/clinic-scheduler/libs/kafkax"
	otelx "github.com/clinicdesk/clinic-scheduler/libs/otel"
	"github.com/clinicdesk/clinic-scheduler/libs/runtime"
)

func main() {
	service := config.String("SERVICE_NAME", "clinic-scheduler")
	port, err := config.Port("PORT", "8080")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	hours, err := clinic.LoadHours(clinic.HoursConfig{
		Open:     config.String("CLINIC_OPEN", "09:00"),
		Close:    config.String("CLINIC_CLOSE", "17:00"),
		Timezone: config.String("CLINIC_TIMEZONE", "Asia/Kolkata"),
		Holidays: config.String("CLINIC_HOLIDAYS", ""),
	})
	if err != nil {
		logger.Error("invalid clinic hours config", "err", err)
		panic(err)
	}

	catalog := clinic.DefaultCatalog()
	if raw := config.String("SERVICE_CATALOG", ""); raw != "" {
		catalog, err = clinic.ParseCatalog(raw)
		if err != nil {
			logger.Error("invalid service catalog config", "err", err)
			panic(err)
		}
	}

	var gateway calendar.Gateway = calendar.Unavailable{}
	if credsFile := config.String("GOOGLE_CREDENTIALS_FILE", ""); credsFile != "" {
		gw, err := calendar.NewGoogleGateway(ctx, credsFile,
			config.String("GOOGLE_CALENDAR_ID", "primary"),
			config.String("CLINIC_TIMEZONE", "Asia/Kolkata"))
		if err != nil {
			logger.Error("google calendar init failed; running degraded", "err", err)
		} else {
			gateway = gw
		}
	} else {
		logger.Warn("no calendar credentials configured; running on fallback store only")
	}

	var notifier scheduling.Notifier = notify.NewNoopSender()
	if smsURL := config.String("SMS_WEBHOOK_URL", ""); smsURL != "" {
		notifier = notify.NewWebhookSender(smsURL,
			config.String("SMS_WEBHOOK_TOKEN", ""),
			config.String("SMS_COUNTRY_PREFIX", "+91"))
	}

	outboxRepo := outbox.NewRepository(pool)
	apptRepo := storage.NewAppointmentRepository(pool, outboxRepo)
	reconRepo := storage.NewReconciliationRepository(pool)
	store := storage.NewStore(apptRepo, reconRepo)

	engine := scheduling.NewEngine(store, gateway, catalog, hours, notifier, logger, scheduling.Config{
		SlotStep:             config.Duration("SLOT_STEP", 15*time.Minute),
		GatewayTimeout:       config.Duration("CALENDAR_TIMEOUT", 5*time.Second),
		NotifyTimeout:        config.Duration("NOTIFY_TIMEOUT", 10*time.Second),
		ReconcileMaxAttempts: config.Int("RECONCILE_MAX_ATTEMPTS", 10),
	})

	worker := reconcile.NewWorker(apptRepo, reconRepo, gateway, logger, reconcile.Config{
		Interval:  config.Duration("RECONCILE_INTERVAL", 30*time.Second),
		BatchSize: config.Int("RECONCILE_BATCH_SIZE", 50),
		Backoff:   config.Duration("RECONCILE_BACKOFF", time.Minute),
	})
	go worker.Run(ctx)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	handler := handlers.NewSchedulerHandler(engine, reconRepo, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("/api/v1/slots", handler.Slots)
	mux.HandleFunc("/api/v1/appointments/book", handler.Book)
	mux.HandleFunc("/api/v1/appointments/cancel", handler.Cancel)
	mux.HandleFunc("/api/v1/appointments/reschedule", handler.Reschedule)
	mux.HandleFunc("/api/v1/appointments", handler.List)
	mux.HandleFunc("/api/v1/appointments/get", handler.Get)
	mux.HandleFunc("/api/v1/reconciliation/stuck", handler.StuckRecords)

	middlewares := []httpx.Middleware{
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1 << 20),
		httpx.WithTimeout(30 * time.Second),
	}
	if redisURL := config.String("REDIS_URL", ""); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Error("invalid redis url", "err", err)
			panic(err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		limiter := httpx.NewRedisRateLimiter(rdb,
			config.Int("RATE_LIMIT", 60),
			config.Duration("RATE_LIMIT_WINDOW", time.Minute),
			service)
		middlewares = append(middlewares, limiter.Middleware(logger, true))
	}

	httpHandler := httpx.Chain(mux, middlewares...)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduler")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
