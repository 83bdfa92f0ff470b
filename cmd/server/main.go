package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"points_engine/internal/catalog"
	"points_engine/internal/config"
	"points_engine/internal/database"
	"points_engine/internal/directory"
	"points_engine/internal/lock"
	"points_engine/internal/metrics"
	"points_engine/internal/pending"
	"points_engine/internal/queue"
	"points_engine/internal/reconcile"
	"points_engine/internal/router"
	"points_engine/internal/settlement"
	"points_engine/pkg/logging"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load", "err", err)
		os.Exit(1)
	}
	log := logging.Setup(logging.Options{
		Service: "points-engine",
		Env:     cfg.AppEnv,
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
	})

	// 1. database and schema
	db, err := database.Open(cfg, log)
	if err != nil {
		fatal(log, "db open", err)
	}
	defer database.Close(db)
	if err := database.Migrate(db); err != nil {
		fatal(log, "db migrate", err)
	}
	if cfg.DBDriver == "sqlite" && cfg.AppEnv == "development" {
		if err := database.SeedDevelopment(db, log); err != nil {
			fatal(log, "db seed", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	var wg sync.WaitGroup

	// 2. redis is optional: it backs the distributed pending store, the rate
	// limiter and the event outbox
	var rdb *rd.Client
	if cfg.RedisAddr != "" {
		rdb = rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			fatal(log, "redis ping", err)
		}
		defer rdb.Close()
	}

	var (
		store  pending.Store
		locker settlement.Locker
	)
	switch cfg.PendingBackend {
	case config.PendingBackendRedis:
		store = pending.NewRedis(rdb, time.Now)
		locker = lock.NewRedis(rdb, cfg.LockTTL, cfg.LockWait)
	default:
		mem := pending.NewMemory(time.Now)
		store = mem
		locker = lock.NewMemory(cfg.LockWait)
		wg.Add(1)
		go func() {
			defer wg.Done()
			mem.RunJanitor(ctx, time.Minute, log)
		}()
	}
	log.Info("pending store ready", "backend", cfg.PendingBackend)

	// 3. services
	m := metrics.Default()
	cat := catalog.New(db, cfg.CatalogLocation, log)
	processor := settlement.New(db, directory.New(db), cat, store, locker, settlement.Options{
		PendingTTL:       cfg.PendingTTL,
		SettledMarkerTTL: cfg.SettledMarkerTTL,
		BalanceRetries:   cfg.BalanceUpdateRetries,
		QRSecret:         []byte(cfg.QRSigningSecret),
		QRIssuer:         cfg.QRIssuer,
	}, log).WithMetrics(m)
	reconciler := reconcile.New(db, locker, log).WithMetrics(m)

	// 4. settlement events: outbox stream -> relay -> kafka -> notifications
	if cfg.EventsEnabled {
		producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		consumer := queue.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, db, log)
		defer consumer.Close()
		relay := queue.NewRelay(rdb, producer, cfg.SettlementEventStream, cfg.SettlementEventGroup, cfg.SettlementConsumer, log)

		processor.WithEvents(queue.NewOutbox(rdb, cfg.SettlementEventStream))
		wg.Add(2)
		go func() {
			defer wg.Done()
			relay.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			consumer.Run(ctx)
		}()
		log.Info("settlement events enabled", "topic", cfg.KafkaTopic, "stream", cfg.SettlementEventStream)
	} else {
		processor.WithEvents(queue.Nop{})
	}

	// 5. http
	if cfg.AppEnv != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	deps := router.Deps{
		Processor:  processor,
		Reconciler: reconciler,
		Catalog:    cat,
		Config:     cfg,
		Log:        log,
	}
	if rdb != nil {
		deps.Redis = rdb
	}
	router.Setup(engine, deps)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http serve", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "err", err)
	}
	wg.Wait()
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "err", err)
	os.Exit(1)
}
