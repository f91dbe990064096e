// The worker binary runs the production pipeline without the control loop
// or the API server. It has no scheduler: the reconciler re-emits pending
// jobs onto the local bus, and the pipeline's atomic claim makes duplicate
// pickup across workers harmless.
package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/shortfab/shortfab/internal/analytics"
	"github.com/shortfab/shortfab/internal/circuitbreaker"
	"github.com/shortfab/shortfab/internal/config"
	"github.com/shortfab/shortfab/internal/domain"
	"github.com/shortfab/shortfab/internal/pipeline"
	"github.com/shortfab/shortfab/internal/reconciler"
	"github.com/shortfab/shortfab/internal/store/postgres"
	"github.com/shortfab/shortfab/internal/transport/channel"

	_ "github.com/lib/pq"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("worker: configuration error: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("worker: failed to open database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		log.Fatalf("worker: failed to connect to database: %v", err)
	}

	store := postgres.New(db)
	bus := channel.NewEventBus(cfg.EventBusBufferSize)

	// TODO: replace stub providers with the real generation/render/upload
	// integrations.
	log.Println("worker: WARNING - using stub production providers (jobs will publish empty videos)")
	breaker := circuitbreaker.New(5, time.Minute)
	pipe := pipeline.New(store, stubGenerator{}, stubSafetyChecker{}, stubRenderer{}, stubUploader{}).
		WithBreaker(breaker).
		WithDrainTimeout(cfg.PipelineDrainTimeout)

	// Wire analytics if Redis is configured
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		sink := analytics.NewRedisSink(redisClient)
		pipe = pipe.WithAnalytics(sink)
		log.Printf("worker: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("worker: REDIS_ADDR not set; analytics disabled")
	}

	recon := reconciler.New(
		reconciler.Config{
			Interval:   cfg.ReconcileInterval,
			Threshold:  cfg.ReconcileThreshold,
			BatchSize:  cfg.ReconcileBatchSize,
			MaxRetries: cfg.MaxRetries,
		},
		store,
		bus,
	)

	// Separate contexts for ordered shutdown: the reconciler stops first
	// (no new re-emits), then the pipeline drains remaining events.
	reconcilerCtx, cancelReconciler := context.WithCancel(context.Background())
	pipelineCtx, cancelPipeline := context.WithCancel(context.Background())

	var reconcilerWg sync.WaitGroup
	var pipelineWg sync.WaitGroup

	reconcilerWg.Add(1)
	go func() {
		defer reconcilerWg.Done()
		recon.Run(reconcilerCtx)
	}()

	for i := 0; i < cfg.PipelineWorkers; i++ {
		pipelineWg.Add(1)
		go func() {
			defer pipelineWg.Done()
			pipe.Run(pipelineCtx, bus.Channel())
		}()
	}

	log.Printf("worker: started (workers=%d, reconcile_interval=%s)", cfg.PipelineWorkers, cfg.ReconcileInterval)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("worker: received signal %v, shutting down", received)

	// Phase 1: Stop reconciler (no new events emitted)
	log.Println("worker: stopping reconciler...")
	cancelReconciler()
	reconcilerWg.Wait()
	log.Println("worker: reconciler stopped")

	// Phase 2: Stop pipeline (will drain buffered events before returning)
	log.Println("worker: stopping pipeline (draining events)...")
	cancelPipeline()
	pipelineWg.Wait()
	log.Println("worker: pipeline stopped")

	log.Println("worker: stopped")
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
