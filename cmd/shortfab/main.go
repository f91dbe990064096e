package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/shortfab/shortfab/internal/analytics"
	"github.com/shortfab/shortfab/internal/api"
	"github.com/shortfab/shortfab/internal/circuitbreaker"
	"github.com/shortfab/shortfab/internal/config"
	"github.com/shortfab/shortfab/internal/cron"
	"github.com/shortfab/shortfab/internal/domain"
	"github.com/shortfab/shortfab/internal/leaderelection"
	"github.com/shortfab/shortfab/internal/loop"
	"github.com/shortfab/shortfab/internal/metrics"
	"github.com/shortfab/shortfab/internal/optimizer"
	"github.com/shortfab/shortfab/internal/pipeline"
	"github.com/shortfab/shortfab/internal/pricing"
	"github.com/shortfab/shortfab/internal/reconciler"
	"github.com/shortfab/shortfab/internal/scheduler"
	"github.com/shortfab/shortfab/internal/store/postgres"
	"github.com/shortfab/shortfab/internal/transport/channel"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

// Breaker tuning for the external production services.
const (
	breakerThreshold = 5
	breakerCooldown  = time.Minute
)

func main() {
	// Best-effort: a missing .env file just means env vars come from the
	// environment itself.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`shortfab - automated shorts production control plane

Usage:
  shortfab <command>

Commands:
  serve      Start the control loop, pipeline and API server
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  REDIS_ADDR                Redis address for outcome analytics (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080")
  TICK_INTERVAL             Control loop tick interval (default: "30s")

  DAILY_BUDGET_EUR          Daily production budget in EUR (default: "3.0")
  MAX_DAILY_VIDEOS          Daily video cap (default: "3")

  OPTIMIZER_SCHEDULE        Cron expression for optimizer cadence (default: "0 3 * * *")
  OPTIMIZER_COOLDOWN        Minimum time between weight updates (default: "24h")
  OPTIMIZER_MIN_SAMPLES     Minimum metric samples before optimizing (default: "3")
  OPTIMIZER_MAX_ADJUSTMENT  Max weight delta per run (default: "0.2")
  WEIGHT_FLOOR              Minimum weight per format (default: "0.1")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  PIPELINE_WORKERS          Concurrent pipeline workers (default: "1")
  PIPELINE_DRAIN_TIMEOUT    Pipeline event drain timeout (default: "30s")
  EVENTBUS_BUFFER_SIZE      Job event buffer size (default: "100")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  METRICS_PORT              Metrics server port (default: "9090")

  RECONCILE_ENABLED         Enable stale job reconciler (default: "false")
  RECONCILE_INTERVAL        How often to scan for stale jobs (default: "5m")
  RECONCILE_THRESHOLD       Age before a job is considered stale (default: "15m")
  RECONCILE_BATCH_SIZE      Max stale jobs per kind per cycle (default: "100")
  MAX_RETRIES               Requeues before a stale job is failed (default: "3")

  LEADER_ELECTION_ENABLED   Run loop/reconciler on one instance only (default: "false")
  LEADER_LOCK_KEY           Advisory lock key shared by all instances (default: "614203")
  LEADER_RETRY_INTERVAL     Follower lock retry interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL Leader connection heartbeat (default: "2s")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logConfigWarnings(&cfg)

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	// Configure connection pool
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Printf("shortfab: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return exitRuntimeError
	}

	store := postgres.New(db)

	// Seed the uniform weight set; existing rows are left untouched.
	seedCtx, cancelSeed := context.WithTimeout(context.Background(), cfg.DBOpTimeout)
	if err := store.SeedWeights(seedCtx, time.Now().UTC()); err != nil {
		cancelSeed()
		fmt.Fprintf(os.Stderr, "failed to seed format weights: %v\n", err)
		return exitRuntimeError
	}
	cancelSeed()

	cronParser := cron.NewParser()
	cadence, err := cronParser.Parse(cfg.OptimizerSchedule)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid OPTIMIZER_SCHEDULE: %v\n", err)
		return exitInvalidConfig
	}

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("shortfab: metrics enabled (port=%s, path=%s)", cfg.MetricsPort, cfg.MetricsPath)

		// Start metrics HTTP server on separate port
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    ":" + cfg.MetricsPort,
			Handler: metricsMux,
		}
		go func() {
			log.Printf("shortfab: metrics server listening on :%s", cfg.MetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("shortfab: metrics server error: %v", err)
			}
		}()
	} else {
		log.Println("shortfab: METRICS_ENABLED not set; metrics disabled")
	}

	// Create event bus with optional metrics
	var busOpts []channel.Option
	if metricsSink != nil {
		busOpts = append(busOpts, channel.WithMetrics(metricsSink))
	}
	bus := channel.NewEventBus(cfg.EventBusBufferSize, busOpts...)

	calculator := pricing.NewCalculator()

	sched := scheduler.New(
		scheduler.Config{
			MaxDailyVideos: cfg.MaxDailyVideos,
			DailyBudget:    cfg.DailyBudgetEUR,
		},
		store,
		calculator,
		bus,
	)
	if metricsSink != nil {
		sched = sched.WithMetrics(metricsSink)
	}

	opt := optimizer.New(
		optimizer.Config{
			MinSamples:    cfg.OptimizerMinSamples,
			MaxAdjustment: cfg.OptimizerMaxAdjustment,
			WeightFloor:   cfg.WeightFloor,
			Cooldown:      cfg.OptimizerCooldown,
		},
		store,
		store,
	)
	if metricsSink != nil {
		opt = opt.WithMetrics(metricsSink)
	}

	ctl := loop.New(
		loop.Config{
			TickInterval:   cfg.TickInterval,
			DailyBudget:    cfg.DailyBudgetEUR,
			MaxDailyVideos: cfg.MaxDailyVideos,
		},
		store,
		store,
		sched,
		opt,
		cadence,
	)
	if metricsSink != nil {
		ctl = ctl.WithMetrics(metricsSink)
	}

	// TODO: replace stub providers with the real generation/render/upload
	// integrations.
	log.Println("shortfab: WARNING - using stub production providers (jobs will publish empty videos)")
	breaker := circuitbreaker.New(breakerThreshold, breakerCooldown)
	pipe := pipeline.New(store, stubGenerator{}, stubSafetyChecker{}, stubRenderer{}, stubUploader{}).
		WithBreaker(breaker).
		WithDrainTimeout(cfg.PipelineDrainTimeout)
	if metricsSink != nil {
		pipe = pipe.WithMetrics(metricsSink)
	}

	// Wire analytics if Redis is configured
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		sink := analytics.NewRedisSink(redisClient)
		pipe = pipe.WithAnalytics(sink)
		log.Printf("shortfab: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("shortfab: REDIS_ADDR not set; analytics disabled")
	}

	// Create API handler with the same store instance
	apiHandler := api.NewHandler(store, sched, opt, api.BudgetConfig{
		DailyBudget:    cfg.DailyBudgetEUR,
		MaxDailyVideos: cfg.MaxDailyVideos,
	}).WithHealthChecker(db)

	// Start HTTP server with API handler
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiHandler,
	}

	go func() {
		log.Printf("shortfab: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("shortfab: http server error: %v", err)
		}
	}()

	var recon *reconciler.Reconciler
	if cfg.ReconcileEnabled {
		recon = reconciler.New(
			reconciler.Config{
				Interval:   cfg.ReconcileInterval,
				Threshold:  cfg.ReconcileThreshold,
				BatchSize:  cfg.ReconcileBatchSize,
				MaxRetries: cfg.MaxRetries,
			},
			store,
			bus,
		)
		if metricsSink != nil {
			recon = recon.WithMetrics(metricsSink)
		}
	} else {
		log.Println("shortfab: RECONCILE_ENABLED not set; reconciler disabled")
	}

	// Leader duties: control loop and reconciler. The pipeline and the API
	// run on every instance regardless of leadership.
	var dutiesWg sync.WaitGroup
	startDuties := func(dutyCtx context.Context) {
		dutiesWg.Add(1)
		go func() {
			defer dutiesWg.Done()
			_ = ctl.Run(dutyCtx)
		}()
		if recon != nil {
			dutiesWg.Add(1)
			go func() {
				defer dutiesWg.Done()
				recon.Run(dutyCtx)
			}()
		}
	}

	pipelineCtx, cancelPipeline := context.WithCancel(context.Background())
	dutiesCtx, cancelDuties := context.WithCancel(context.Background())

	var pipelineWg sync.WaitGroup
	for i := 0; i < cfg.PipelineWorkers; i++ {
		pipelineWg.Add(1)
		go func() {
			defer pipelineWg.Done()
			pipe.Run(pipelineCtx, bus.Channel())
		}()
	}
	log.Printf("shortfab: pipeline started (workers=%d)", cfg.PipelineWorkers)

	var electorWg sync.WaitGroup
	if cfg.LeaderEnabled {
		elector := leaderelection.New(
			db,
			cfg.LeaderLockKey,
			cfg.LeaderRetryInterval,
			cfg.LeaderHeartbeatInterval,
			startDuties,
			dutiesWg.Wait,
		)
		electorWg.Add(1)
		go func() {
			defer electorWg.Done()
			elector.Run(dutiesCtx)
		}()
		log.Printf("shortfab: leader election enabled (lock_key=%d)", cfg.LeaderLockKey)
	} else {
		startDuties(dutiesCtx)
	}

	log.Printf("shortfab: started (tick=%s, http=%s, budget=%.2f, cap=%d)",
		cfg.TickInterval, cfg.HTTPAddr, cfg.DailyBudgetEUR, cfg.MaxDailyVideos)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("shortfab: received signal %v, shutting down", received)

	// Phase 1: Stop control loop and reconciler (no new events emitted)
	log.Println("shortfab: stopping control loop and reconciler...")
	cancelDuties()
	electorWg.Wait()
	dutiesWg.Wait()
	log.Println("shortfab: control loop and reconciler stopped")

	// Phase 2: Stop pipeline (will drain buffered events before returning)
	log.Println("shortfab: stopping pipeline (draining events)...")
	cancelPipeline()
	pipelineWg.Wait()
	log.Println("shortfab: pipeline stopped")

	// Phase 3: Stop HTTP server with graceful shutdown
	log.Println("shortfab: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("shortfab: http server shutdown error: %v", err)
	}
	log.Println("shortfab: http server stopped")

	// Phase 4: Stop metrics server if running (with same timeout)
	if metricsServer != nil {
		log.Println("shortfab: stopping metrics server...")
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("shortfab: metrics server shutdown error: %v", err)
		}
		log.Println("shortfab: metrics server stopped")
	}

	log.Println("shortfab: stopped")
	return exitSuccess
}

// logConfigWarnings flags configurations that are valid but risky in
// production. P0 warnings mean jobs can be silently lost.
func logConfigWarnings(cfg *config.Config) {
	if !cfg.ReconcileEnabled {
		log.Println("shortfab: WARNING [P0]: RECONCILE_ENABLED=false - jobs whose events are lost " +
			"(bus overflow, crash between commit and emit) will stay pending forever")
	}
	if !cfg.MetricsEnabled {
		log.Println("shortfab: WARNING [P1]: METRICS_ENABLED=false - no visibility into daily spend, " +
			"cycle errors or pipeline outcomes")
	}
	if !cfg.LeaderEnabled {
		log.Println("shortfab: INFO: LEADER_ELECTION_ENABLED=false - safe only when a single instance " +
			"runs the control loop; multiple instances will double-schedule")
	}
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("shortfab version %s (commit: %s)\n", version, commit)
	return exitSuccess
}

// Stub providers for compilation. Replace with real generation, safety,
// render and upload integrations.

type stubGenerator struct{}

func (stubGenerator) Generate(ctx context.Context, job domain.Job) (pipeline.Assets, error) {
	return pipeline.Assets{}, nil
}

type stubSafetyChecker struct{}

func (stubSafetyChecker) Check(ctx context.Context, job domain.Job, assets pipeline.Assets) (pipeline.Verdict, error) {
	return pipeline.Verdict{Approved: true}, nil
}

type stubRenderer struct{}

func (stubRenderer) Render(ctx context.Context, job domain.Job, assets pipeline.Assets) (string, error) {
	return "", nil
}

type stubUploader struct{}

func (stubUploader) Upload(ctx context.Context, job domain.Job, videoPath string) (string, error) {
	return "", nil
}
