package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/finova/collection-engine/internal/audit"
	"github.com/finova/collection-engine/internal/cache"
	"github.com/finova/collection-engine/internal/calendar"
	"github.com/finova/collection-engine/internal/config"
	"github.com/finova/collection-engine/internal/database"
	"github.com/finova/collection-engine/internal/dedup"
	"github.com/finova/collection-engine/internal/debitdate"
	"github.com/finova/collection-engine/internal/events"
	applog "github.com/finova/collection-engine/internal/logger"
	"github.com/finova/collection-engine/internal/reminder"
	"github.com/finova/collection-engine/internal/retry"
	"github.com/finova/collection-engine/internal/websocket"
)

func main() {
	appLog := applog.New("collection-engine")
	logger := appLog.Std()

	cfg := config.Load()
	appLog.Info("Configuration loaded",
		"port", cfg.Port,
		"tick_interval", cfg.TickInterval,
		"batch_size", cfg.BatchSize,
		"scheduler_enabled", cfg.SchedulerEnabled,
	)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Println("Database connection established")

	ctx := context.Background()
	if err := db.EnsureSchema(ctx,
		calendar.Schema(),
		debitdate.Schema(),
		retry.Schema(),
		reminder.Schema(),
		audit.Schema(),
		dedup.Schema(),
	); err != nil {
		logger.Fatalf("Failed to ensure schema: %v", err)
	}

	// Redis is optional; without it the dedup fast path and per-schedule
	// locks degrade to database-only behavior.
	var redisClient *cache.Client
	if c, err := cache.NewRedisClient(cfg.RedisURL); err != nil {
		logger.Printf("Warning: Redis unavailable, continuing without cache: %v", err)
	} else {
		redisClient = c
		defer redisClient.Close()
	}

	// Stores
	zones := calendar.NewPostgresZoneStore(db.Conn)
	configs := debitdate.NewPostgresConfigStore(db.Conn)
	retryStore := retry.NewPostgresStore(db.Conn)
	reminderStore := reminder.NewPostgresStore(db.Conn)
	auditStore := audit.NewPostgresStore(db.Conn)

	var deduplicator dedup.Deduplicator
	pgDedup := dedup.NewPostgresDeduplicator(db.Conn)
	deduplicator = pgDedup
	if redisClient != nil {
		deduplicator = dedup.NewCachedDeduplicator(pgDedup, redisClient, cfg.DedupCacheTTL, logger)
	}

	// Event feed
	hub := websocket.NewHub(logger)
	go hub.Run()

	// Outbound events
	var broker events.Broker
	if amqpPublisher, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.OutboundExchange); err != nil {
		logger.Printf("Warning: AMQP publisher unavailable, outbound events disabled: %v", err)
	} else {
		broker = amqpPublisher
		defer amqpPublisher.Close()
	}
	publisher := events.NewPublisher(broker, hub, logger)

	// Domain services
	calculator := debitdate.NewCalculator(debitdate.NewResolver(configs), zones, auditStore, logger)
	retryScheduler := retry.NewScheduler(retry.NewResolver(retryStore), retryStore, retryStore, auditStore, publisher, logger)

	var optOut reminder.OptOutChecker
	if cfg.CRMServiceURL != "" {
		optOut = NewCRMOptOutClient(cfg.CRMServiceURL)
	}
	reminderScheduler := reminder.NewScheduler(reminder.NewResolver(reminderStore), reminderStore, optOut, auditStore, publisher, logger)

	// Seed
	scopes, err := applySeed(ctx, cfg.SeedPath, zones, configs, retryStore, reminderStore, logger)
	if err != nil {
		logger.Fatalf("Failed to apply seed: %v", err)
	}

	// Execution
	processor := NewPaymentProcessorClient(cfg.PaymentProcessorURL)
	notification := NewNotificationClient(cfg.NotificationSenderURL)
	executor := NewExecutor(retryScheduler, retryStore, reminderStore, processor, notification, hub, logger)
	scheduler := NewScheduler(cfg, retryStore, reminderStore, reminderScheduler, executor, redisClient, hub, logger)

	// Inbound events
	dispatcherCtx, stopDispatcher := context.WithCancel(ctx)
	defer stopDispatcher()
	handler := NewEventHandler(retryScheduler, reminderStore, logger)
	if source, err := events.NewAMQPSource(cfg.AMQPURL, cfg.InboundExchange, cfg.InboundQueue, logger); err != nil {
		logger.Printf("Warning: AMQP source unavailable, inbound events disabled: %v", err)
	} else {
		defer source.Close()
		dispatcher := events.NewDispatcher(source, deduplicator, handler, logger)
		go func() {
			if err := dispatcher.Run(dispatcherCtx); err != nil && err != context.Canceled {
				logger.Printf("Event dispatcher exited: %v", err)
			}
		}()
	}

	// HTTP API
	apiHandler := NewHandler(calculator, configs, retryStore, reminderStore, retryStore, reminderStore, auditStore, scheduler, executor, db, logger)

	r := mux.NewRouter()
	r.HandleFunc("/health", apiHandler.HealthCheck).Methods("GET")

	r.HandleFunc("/v1/debit-dates/calculate", apiHandler.CalculateDebitDate).Methods("POST")
	r.HandleFunc("/v1/debit-configs", apiHandler.UpsertDebitConfig).Methods("PUT")

	r.HandleFunc("/v1/retry-policies", apiHandler.CreateRetryPolicy).Methods("POST")
	r.HandleFunc("/v1/retry-policies", apiHandler.ListRetryPolicies).Methods("GET")
	r.HandleFunc("/v1/retry-policies/{id}", apiHandler.GetRetryPolicy).Methods("GET")
	r.HandleFunc("/v1/retry-policies/{id}", apiHandler.UpdateRetryPolicy).Methods("PUT")

	r.HandleFunc("/v1/reminder-policies", apiHandler.CreateReminderPolicy).Methods("POST")
	r.HandleFunc("/v1/reminder-policies", apiHandler.ListReminderPolicies).Methods("GET")
	r.HandleFunc("/v1/reminder-policies/{id}", apiHandler.GetReminderPolicy).Methods("GET")
	r.HandleFunc("/v1/reminder-policies/{id}", apiHandler.UpdateReminderPolicy).Methods("PUT")

	r.HandleFunc("/v1/schedules/{id}", apiHandler.GetSchedule).Methods("GET")
	r.HandleFunc("/v1/reminders/{id}", apiHandler.GetReminder).Methods("GET")
	r.HandleFunc("/v1/reminders/{id}/send", apiHandler.SendReminder).Methods("POST")
	r.HandleFunc("/v1/reminders/{id}/delivery-status", apiHandler.UpdateDeliveryStatus).Methods("POST")

	r.HandleFunc("/v1/audit", apiHandler.ListAudit).Methods("GET")

	r.HandleFunc("/scheduler/status", apiHandler.GetSchedulerStatus).Methods("GET")
	r.HandleFunc("/scheduler/trigger", apiHandler.TriggerScheduler).Methods("POST")

	r.HandleFunc("/ws", hub.ServeWs)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	scheduler.Start()
	jobs := startJobs(scheduler, pgDedup, calculator, scopes, logger)

	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Println("Server is shutting down...")

		stopDispatcher()
		jobs.Stop()
		scheduler.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Fatalf("Could not gracefully shutdown the server: %v\n", err)
		}
		close(done)
	}()

	logger.Printf("Collection Engine starting on port %s", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Could not listen on :%s: %v\n", cfg.Port, err)
	}

	<-done
	logger.Println("Server stopped")
}
