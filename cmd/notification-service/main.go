// cmd/notification-service/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"notification-service/internal/common/config"
	"notification-service/internal/common/database"
	"notification-service/internal/common/logger"
	"notification-service/internal/common/observability"
	"notification-service/internal/ingest"
	"notification-service/internal/ingest/transform"
	"notification-service/internal/notification"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")

	zapLog.Info("Starting notification service...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	// Rebuild with the configured level and format
	zapLog = logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Init PostgreSQL with retry (store connectivity is fatal at start) ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		defer pingCancel()
		return pg.Ping(pingCtx)
	}, 10, 2*time.Second, zapLog, "PostgreSQL initialization")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis (unread-count cache; degraded mode without it) ---
	var cache *notification.UnreadCache
	rd, err := database.NewRedis(cfg.Database.Redis)
	if err == nil {
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err = rd.Ping(pingCtx)
		pingCancel()
	}
	if err != nil {
		zapLog.Warn("redis unavailable, unread counts served from postgres", zap.Error(err))
	} else {
		defer rd.Close()
		cache = notification.NewUnreadCache(rd.GetClient(), cfg.Service.UnreadCacheTTL(), log)
		zapLog.Info("Redis connected successfully")
	}

	// --- Wire the core ---
	store := notification.NewPostgresStore(pg.GetDB(), log)
	service := notification.NewService(store, cache, log, cfg.Service.StoreTimeout())

	router := ingest.NewRouter(transform.Registry(), log)
	reader := ingest.NewReader(cfg.Kafka)
	consumer := ingest.NewConsumer(reader, router, service, log, obs, ingest.Config{
		StoreTimeout:   cfg.Consumer.StoreTimeout(),
		MaxRetries:     cfg.Consumer.MaxRetries,
		BaseBackoff:    cfg.Consumer.BaseBackoff(),
		MaxBackoff:     cfg.Consumer.MaxBackoff(),
		ToleratePoison: cfg.Consumer.ToleratePoison,
		StartRetries:   cfg.Kafka.StartRetries,
		StartBackoff:   cfg.Kafka.StartBackoff(),
	}).WithPing(ingest.NewBrokerPing(cfg.Kafka.Brokers))

	// --- Operational HTTP endpoint ---
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		zapLog.Info("metrics endpoint listening", zap.String("addr", cfg.Metrics.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("metrics server failed", zap.Error(err))
		}
	}()

	consumerDone := make(chan error, 1)
	go func() {
		zapLog.Info("starting ingestion consumer",
			zap.Strings("topics", cfg.Kafka.Topics),
			zap.String("groupId", cfg.Kafka.GroupID),
		)
		consumerDone <- consumer.Run(ctx)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		zapLog.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
		if err := <-consumerDone; err != nil {
			zapLog.Error("consumer stopped with error", zap.Error(err))
		}
	case err := <-consumerDone:
		if err != nil {
			// Surface-and-halt: a poison message or unreachable store must
			// not be silently dropped.
			zapLog.Fatal("consumer halted", zap.Error(err))
		}
		zapLog.Info("consumer finished")
	}

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	_ = srv.Shutdown(shCtx)

	zapLog.Info("notification service stopped")
}
