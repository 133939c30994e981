package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v3"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/billharvest/db"
	"github.com/ahrav/billharvest/internal/api"
	"github.com/ahrav/billharvest/internal/api/debug"
	appharvest "github.com/ahrav/billharvest/internal/app/harvest"
	"github.com/ahrav/billharvest/internal/config"
	"github.com/ahrav/billharvest/internal/domain/harvest"
	"github.com/ahrav/billharvest/internal/infra/eventbus/kafka"
	"github.com/ahrav/billharvest/internal/infra/fetcher/httpapi"
	"github.com/ahrav/billharvest/internal/infra/fetcher/mock"
	"github.com/ahrav/billharvest/internal/infra/netcheck"
	"github.com/ahrav/billharvest/internal/infra/storage/file"
	"github.com/ahrav/billharvest/internal/infra/storage/memory"
	"github.com/ahrav/billharvest/internal/infra/storage/postgres"
	"github.com/ahrav/billharvest/pkg/common/logger"
	"github.com/ahrav/billharvest/pkg/common/otel"
	"github.com/ahrav/billharvest/pkg/metrics"
)

var build = "develop"

const serviceType = "harvester"

func main() {
	// Set the correct number of threads for the service
	_, _ = maxprocs.Set()

	cmd := &cli.Command{
		Name:    "harvester",
		Usage:   "resumable billing-history harvester with an HTTP control API",
		Version: build,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file",
				Sources: cli.EnvVars("HARVEST_CONFIG"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.NewViperLoader(cmd.String("config")).Load(ctx)
			if err != nil {
				return err
			}

			log, closeLog, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			if err := run(ctx, log, cfg); err != nil {
				log.Error(ctx, "startup", "err", err)
				return err
			}
			return nil
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger writes JSON records to stdout and, when configured, to the log
// file as well.
func newLogger(cfg *config.Config) (*logger.Logger, func(), error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get hostname: %w", err)
	}

	var (
		w       io.Writer = os.Stdout
		closeFn           = func() {}
	)
	if cfg.Paths.Log != "" {
		if err := file.EnsureDirs(cfg.Paths.Log); err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(cfg.Paths.Log, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		w = io.MultiWriter(os.Stdout, f)
		closeFn = func() { _ = f.Close() }
	}

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("HARVESTER-%s", hostname)
	metadata := map[string]string{
		"hostname": hostname,
		"app":      serviceType,
		"build":    build,
	}

	log := logger.NewWithMetadata(w, logger.ParseLevel(cfg.Log.Level), svcName, traceIDFn, logEvents, metadata)
	return log, closeFn, nil
}

func run(ctx context.Context, log *logger.Logger, cfg *config.Config) error {
	// -------------------------------------------------------------------------
	// GOMAXPROCS
	log.Info(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0))

	if dump, err := cfg.YAML(); err == nil {
		log.Debug(ctx, "startup", "config", dump)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// -------------------------------------------------------------------------
	// Start Tracing Support
	log.Info(ctx, "startup", "status", "initializing telemetry support")

	hostname, _ := os.Hostname()
	providers, teardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      cfg.Telemetry.ServiceName,
		ExporterEndpoint: cfg.Telemetry.Endpoint,
		Probability:      cfg.Telemetry.SampleRatio,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"host.name":        hostname,
		},
		InsecureExporter: cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("starting telemetry: %w", err)
	}
	defer teardown(context.WithoutCancel(ctx))

	tracer := providers.Tracer.Tracer(cfg.Telemetry.ServiceName)

	// -------------------------------------------------------------------------
	// Metrics
	promMetrics := metrics.New("harvester", nil)
	otelMetrics, err := appharvest.NewRunnerMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("creating runner metrics: %w", err)
	}
	apiMetrics, err := api.NewAPIMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("creating api metrics: %w", err)
	}
	runnerMetrics := appharvest.FanoutMetrics(promMetrics, otelMetrics)

	// -------------------------------------------------------------------------
	// Durable Stores
	log.Info(ctx, "startup", "status", "initializing stores", "backend", cfg.Storage.Backend)

	if err := file.EnsureDirs(cfg.Paths.Input, cfg.Paths.Results, cfg.Paths.Failed, cfg.Paths.Status); err != nil {
		return err
	}

	stores, closeStores, err := newStores(ctx, cfg, providers, log)
	if err != nil {
		return err
	}
	defer closeStores()

	source := file.NewWorkList(cfg.Paths.Input, log)

	// -------------------------------------------------------------------------
	// Fetcher
	fetcher, prober, err := newFetcher(cfg, providers, log)
	if err != nil {
		return err
	}

	retry := appharvest.NewRetryPolicy(appharvest.RetryConfig{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		BaseDelay:      cfg.Retry.BaseDelay,
		AttemptTimeout: cfg.Retry.AttemptTimeout,
		ProbeInterval:  cfg.Retry.ProbeInterval,
	}, prober, runnerMetrics, log)

	runnerOpts := []appharvest.RunnerOption{
		appharvest.WithFlushEvery(cfg.Run.FlushEvery),
		appharvest.WithMetrics(runnerMetrics),
		appharvest.WithTracer(tracer),
	}

	// -------------------------------------------------------------------------
	// Outcome events
	if cfg.Events.Enabled {
		log.Info(ctx, "startup", "status", "connecting to kafka", "brokers", cfg.Events.Brokers)

		producer, err := kafka.NewProducerWithRetry(ctx, kafka.Config{
			Brokers:        cfg.Events.Brokers,
			Topic:          cfg.Events.Topic,
			ClientID:       cfg.Events.ClientID,
			ConnectTimeout: cfg.Events.ConnectTimeout,
		}, log)
		if err != nil {
			return fmt.Errorf("connecting to kafka: %w", err)
		}
		publisher := kafka.NewOutcomePublisher(producer, cfg.Events.Topic, log, promMetrics, tracer)
		defer publisher.Close()

		runnerOpts = append(runnerOpts, appharvest.WithPublisher(publisher))
	}

	runner := appharvest.NewRunner(fetcher, source, stores, retry, log, runnerOpts...)
	controller := appharvest.NewController(runner, source, stores.Status, nil, log)

	// -------------------------------------------------------------------------
	// Start API Service
	log.Info(ctx, "startup", "status", "initializing API support")

	server := api.NewServer(api.Config{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		ServiceName:     cfg.Telemetry.ServiceName,
		Build:           build,
		Ready:           source.Stat,
	}, log, providers.Tracer, controller, apiMetrics)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return server.Start(gctx) })

	if cfg.Debug.Enabled {
		g.Go(func() error { return serveDebug(gctx, log, cfg.Debug.Addr) })
	}

	if cfg.Run.AutoStart {
		if id, err := controller.Start(ctx); err != nil {
			log.Warn(ctx, "startup", "status", "autostart skipped", "error", err)
		} else {
			log.Info(ctx, "startup", "status", "autostart", "run_id", id.String())
		}
	}

	// -------------------------------------------------------------------------
	// Shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info(ctx, "shutdown", "status", "shutdown started")
		defer log.Info(ctx, "shutdown", "status", "shutdown complete")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := controller.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop harvest gracefully: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func newStores(
	ctx context.Context,
	cfg *config.Config,
	providers otel.Providers,
	log *logger.Logger,
) (harvest.Stores, func(), error) {
	switch cfg.Storage.Backend {
	case config.StoragePostgres:
		poolCfg, err := pgxpool.ParseConfig(cfg.Storage.DSN)
		if err != nil {
			return harvest.Stores{}, nil, fmt.Errorf("parsing db config: %w", err)
		}
		if cfg.Storage.MinConns > 0 {
			poolCfg.MinConns = cfg.Storage.MinConns
		}
		if cfg.Storage.MaxConns > 0 {
			poolCfg.MaxConns = cfg.Storage.MaxConns
		}
		poolCfg.ConnConfig.Tracer = otelpgx.NewTracer(otelpgx.WithTracerProvider(providers.Tracer))

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return harvest.Stores{}, nil, fmt.Errorf("creating db pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return harvest.Stores{}, nil, fmt.Errorf("pinging db: %w", err)
		}
		if err := db.Migrate(pool); err != nil {
			pool.Close()
			return harvest.Stores{}, nil, fmt.Errorf("migrating db: %w", err)
		}

		store := postgres.NewStore(pool, providers.Tracer.Tracer("harvest.postgres"))
		return store.Harvest(), pool.Close, nil

	case config.StorageMemory:
		log.Warn(ctx, "startup", "status", "memory storage selected, progress will not survive a restart")
		return memory.NewStores().Harvest(), func() {}, nil

	default:
		return harvest.Stores{
			Results: file.NewResultStore(cfg.Paths.Results, log),
			Failed:  file.NewFailedStore(cfg.Paths.Failed, log),
			Status:  file.NewStatusStore(cfg.Paths.Status, log),
		}, func() {}, nil
	}
}

func newFetcher(cfg *config.Config, providers otel.Providers, log *logger.Logger) (harvest.Fetcher, harvest.Prober, error) {
	if cfg.Fetcher.Kind == config.FetcherMock {
		f := mock.New(mock.Config{
			Months:    cfg.Fetcher.Mock.Months,
			FailRatio: cfg.Fetcher.Mock.FailRatio,
			Latency:   cfg.Fetcher.Mock.Latency,
		})
		return f, netcheck.Always{}, nil
	}

	f, err := httpapi.New(httpapi.Config{
		BaseURL:    cfg.Fetcher.BaseURL,
		APIKey:     cfg.Fetcher.APIKey,
		HealthPath: cfg.Fetcher.HealthPath,
		Timeout:    cfg.Fetcher.Timeout,
		RateLimit:  cfg.Fetcher.RateLimit,
		Burst:      cfg.Fetcher.Burst,
	}, providers.Tracer, log)
	if err != nil {
		return nil, nil, fmt.Errorf("creating billing api fetcher: %w", err)
	}

	var prober harvest.Prober = netcheck.Always{}
	if cfg.Netcheck.URL != "" {
		prober = netcheck.NewHTTPProber(cfg.Netcheck.URL, cfg.Netcheck.Timeout, providers.Tracer, log)
	}
	return f, prober, nil
}

func serveDebug(ctx context.Context, log *logger.Logger, addr string) error {
	mux, err := debug.Mux()
	if err != nil {
		return fmt.Errorf("building debug mux: %w", err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          logger.NewStdLogger(log, logger.LevelError),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info(ctx, "startup", "status", "debug router started", "host", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error(ctx, "shutdown", "status", "debug router closed", "host", addr, "msg", err)
		return err
	}
	return nil
}
