// listing-service
//
// Ingests job listings from SerpApi's Google Jobs engine twice a day
// (00:00 and 12:00 UTC), deduplicates them on (title, company, location),
// records every cycle in the run ledger and serves the stored listings over
// a paginated, searchable REST API. A gRPC health service reports whether
// the last ingestion cycle succeeded.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"jobchommie/listing-service/internal/api"
	"jobchommie/listing-service/internal/config"
	"jobchommie/listing-service/internal/db"
	"jobchommie/listing-service/internal/events"
	"jobchommie/listing-service/internal/grpcserver"
	"jobchommie/listing-service/internal/ingest"
	"jobchommie/listing-service/internal/logging"
	"jobchommie/listing-service/internal/provider"
	"jobchommie/listing-service/internal/scheduler"
	"jobchommie/listing-service/internal/store"
)

const (
	version         = "1.0.0"
	shutdownTimeout = 30 * time.Second
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (optional)")
	flag.Parse()

	// ── Config ──────────────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.New("error").Error("config error", "err", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel).Named("listing-service")
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("fatal", "err", err)
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("stopped")
}

func run(cfg *config.Config, log *logging.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Store ────────────────────────────────────────────────────────────────
	backend, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// ── Redis (optional) ─────────────────────────────────────────────────────
	pipelineOpts := []ingest.Option{
		ingest.WithLogger(log.Named("ingest")),
		ingest.WithExcludeTerms(cfg.ExcludeTerms()),
	}
	if cfg.RedisURL != "" {
		rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer func(rdb *redis.Client) { _ = rdb.Close() }(rdb)
		pipelineOpts = append(pipelineOpts, ingest.WithPublisher(events.NewRedisPublisher(rdb)))
		log.Info("redis connected, publishing ingestion events", "channel", events.ChannelJobsIngested)
	}

	// ── Ingestion ────────────────────────────────────────────────────────────
	serp := provider.New(provider.Config{
		APIKey:  cfg.SerpAPIKey,
		Query:   cfg.SearchQuery,
		Num:     cfg.ResultCount,
		BaseURL: cfg.SerpAPIBaseURL,
	})
	if !serp.Configured() {
		log.Warn("SERPAPI_KEY not set: ingestion cycles will be skipped")
	}
	pipeline := ingest.New(backend, serp, pipelineOpts...)

	health := grpcserver.New(log.Named("grpc"))

	sched, err := scheduler.New(pipeline,
		scheduler.WithSpec(cfg.IngestCron),
		scheduler.WithLogger(log.Named("scheduler")),
		scheduler.WithCycleTimeout(cfg.IngestCycleTimeout),
		scheduler.WithRunOnStart(cfg.IngestOnStart),
		scheduler.WithCycleHook(health.ObserveCycle),
	)
	if err != nil {
		return err
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	routerOpts := api.Options{
		Reader:         backend,
		Logger:         log.Named("http"),
		AllowedOrigins: cfg.AllowedOrigins(),
		Version:        version,
		Mode:           cfg.GinMode,
	}
	if cfg.AdminTriggerEnabled {
		routerOpts.Trigger = sched
		log.Warn("manual ingestion trigger enabled at POST /api/admin/ingest")
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           api.SetupRouter(routerOpts),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      shutdownTimeout,
	}

	serveErr := make(chan error, 2)
	go func() {
		log.Info("http listening", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- errors.Wrap(err, "http server")
		}
	}()

	// ── gRPC health ──────────────────────────────────────────────────────────
	if cfg.GRPCPort != "" && cfg.GRPCPort != "0" {
		lis, err := net.Listen("tcp", net.JoinHostPort("", cfg.GRPCPort))
		if err != nil {
			return errors.Wrapf(err, "listen on grpc port %s", cfg.GRPCPort)
		}
		go func() {
			if err := health.Serve(lis); err != nil {
				serveErr <- err
			}
		}()
		defer health.GracefulStop()
	}

	sched.Start()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		log.Info("shutting down", "signal", sig.String())
	case runErr = <-serveErr:
		log.Error("server failed, shutting down", "err", runErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown error", "err", err)
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		log.Error("scheduler shutdown error", "err", err)
	}
	return runErr
}

// openStore returns the configured backend and its cleanup func.
func openStore(ctx context.Context, cfg *config.Config, log *logging.Logger) (store.Backend, func(), error) {
	if cfg.StoreDriver == config.DriverMemory {
		log.Warn("using in-memory store: listings are lost on restart")
		return store.NewMemory(), func() {}, nil
	}

	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	pg := store.NewPostgres(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	log.Info("postgres connected, schema ready")
	return pg, pool.Close, nil
}
