package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"budgetledger/internal/config"
	"budgetledger/internal/handler"
	"budgetledger/internal/infrastructure/cache"
	"budgetledger/internal/infrastructure/database"
	"budgetledger/internal/infrastructure/lock"
	"budgetledger/internal/infrastructure/logging"
	"budgetledger/internal/infrastructure/mq"
	"budgetledger/internal/job"
	"budgetledger/internal/metrics"
	"budgetledger/internal/service"
	"budgetledger/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
)

func main() {
	defaultPath := os.Getenv("LEDGER_CONFIG")
	if defaultPath == "" {
		defaultPath = "config/config.yaml"
	}
	configPath := flag.String("config", defaultPath, "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logging.Setup(cfg.Log)

	sf, err := idgen.NewSnowflake(cfg.Ledger.WorkerID)
	if err != nil {
		log.Fatal().Err(err).Msg("init id generator")
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.InitRedis(ctx, &cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("init redis")
		}
		defer redisClient.Close()
	}

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Ledger.LockBackend == config.LockBackendRedis {
		locker = lock.NewRedisLocker(redisClient, cfg.Redis.LockTTL, cfg.Ledger.LockRetryInterval, func(key string, err error) {
			log.Warn().Err(err).Str("key", key).Msg("release allocation lock failed")
		})
	}
	log.Info().Str("backend", cfg.Ledger.LockBackend).Msg("allocation lock ready")

	var publisher mq.Publisher = mq.NewLogPublisher(log.Logger)
	if cfg.Kafka.Enabled {
		kafka, err := mq.InitKafka(&cfg.Kafka)
		if err != nil {
			log.Fatal().Err(err).Msg("init kafka")
		}
		publisher = kafka
	}
	defer publisher.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(registry); err != nil {
		log.Fatal().Err(err).Msg("register metrics")
	}

	outboxSender := job.NewOutboxSender(db, publisher, cfg)
	go outboxSender.Start(ctx)

	reconcileJob, err := job.NewReconcileJob(service.NewReconcileService(db, cfg), cfg.Jobs.ReconcileCron, 0)
	if err != nil {
		log.Fatal().Err(err).Msg("init reconcile job")
	}
	reconcileJob.Start(ctx)

	router := handler.SetupRouter(db, locker, idgen.NewTransactionNumbers(sf), cfg, registry)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	// stop accepting requests before the jobs go away
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}

	cancel()
	outboxSender.Stop()
	reconcileJob.Stop()

	log.Info().Msg("server stopped")
}
