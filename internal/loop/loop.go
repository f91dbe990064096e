// Package loop is the control loop tying the pieces together. Every tick
// it consults the runtime flags, checks budget and cap compliance, hands
// the remaining headroom to the scheduler, and fires the optimizer when
// its cadence and cooldown both allow it.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shortfab/shortfab/internal/domain"
	"github.com/shortfab/shortfab/internal/optimizer"
)

// Runtime flag keys read from the store every tick. Flags live in the
// database, not the environment, so operators can flip them without a
// redeploy.
const (
	FlagKillSwitch = "kill_switch"
	FlagAutomation = "automation_enabled"
)

// ErrHalted is returned by Run when the kill switch engages. The loop does
// not restart itself; an operator clears the flag and restarts the service.
var ErrHalted = errors.New("kill switch engaged")

// Store is the persistence surface the loop needs for budget accounting.
type Store interface {
	CountJobsCreatedOn(ctx context.Context, day time.Time, excludeFailed bool) (int, error)
	GetDayCosts(ctx context.Context, day time.Time) (domain.CostEntry, error)
}

// Flags reads runtime flags. found is false when the flag was never set;
// callers apply their own default.
type Flags interface {
	GetFlag(ctx context.Context, key string) (value bool, found bool, err error)
}

// Scheduler creates jobs within the given headroom.
type Scheduler interface {
	ScheduleCycle(ctx context.Context, maxJobsHint int, budgetRemainingHint float64) ([]domain.Job, error)
}

// Optimizer adjusts format weights.
type Optimizer interface {
	ShouldRun(ctx context.Context) bool
	Optimize(ctx context.Context) (optimizer.Result, error)
}

// Schedule yields the next optimizer fire time, parsed from a cron
// expression at startup.
type Schedule interface {
	Next(after time.Time) time.Time
}

// MetricsSink records loop-level metrics. Non-blocking, fire-and-forget.
type MetricsSink interface {
	DailySpendUpdate(spend float64)
}

type Config struct {
	TickInterval   time.Duration
	DailyBudget    float64 // EUR
	MaxDailyVideos int
}

type Loop struct {
	config    Config
	store     Store
	flags     Flags
	scheduler Scheduler
	optimizer Optimizer
	schedule  Schedule
	metrics   MetricsSink // optional, nil = disabled
	clock     func() time.Time

	nextOptimizerRun time.Time
}

func New(config Config, store Store, flags Flags, sched Scheduler, opt Optimizer, cadence Schedule) *Loop {
	return &Loop{
		config:    config,
		store:     store,
		flags:     flags,
		scheduler: sched,
		optimizer: opt,
		schedule:  cadence,
		clock:     time.Now,
	}
}

// WithMetrics attaches a metrics sink to the loop.
func (l *Loop) WithMetrics(sink MetricsSink) *Loop {
	l.metrics = sink
	return l
}

// Run starts the control loop. It blocks until ctx is cancelled or the
// kill switch engages.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.config.TickInterval)
	defer ticker.Stop()

	now := l.clock().UTC()
	l.nextOptimizerRun = l.schedule.Next(now)
	log.Printf("loop: started (tick=%s, budget=%.2f, cap=%d, next_optimizer=%s)",
		l.config.TickInterval, l.config.DailyBudget, l.config.MaxDailyVideos,
		l.nextOptimizerRun.Format(time.RFC3339))

	for {
		select {
		case <-ctx.Done():
			log.Println("loop: stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := l.processTick(ctx); err != nil {
				if errors.Is(err, ErrHalted) {
					log.Println("loop: kill switch engaged, exiting")
					return ErrHalted
				}
				log.Printf("loop: tick error: %v", err)
			}
		}
	}
}

func (l *Loop) processTick(ctx context.Context) error {
	now := l.clock().UTC()

	// The kill switch exits the loop: no further scheduling or optimization
	// until an operator clears the flag and restarts.
	if halted, err := l.flagValue(ctx, FlagKillSwitch, false); err != nil {
		return fmt.Errorf("read kill switch: %w", err)
	} else if halted {
		return ErrHalted
	}

	l.maybeOptimize(ctx, now)

	automated, err := l.flagValue(ctx, FlagAutomation, true)
	if err != nil {
		return fmt.Errorf("read automation flag: %w", err)
	}
	if !automated {
		log.Printf("loop: automation disabled, scheduling skipped")
		return nil
	}

	day := domain.Day(now)
	costs, err := l.store.GetDayCosts(ctx, day)
	if err != nil {
		return fmt.Errorf("get day costs: %w", err)
	}
	if l.metrics != nil {
		l.metrics.DailySpendUpdate(costs.TotalCost)
	}

	created, err := l.store.CountJobsCreatedOn(ctx, day, true)
	if err != nil {
		return fmt.Errorf("count jobs: %w", err)
	}

	slots := l.config.MaxDailyVideos - created
	remaining := l.config.DailyBudget - costs.TotalCost
	if slots <= 0 || remaining <= 0 {
		// Nothing to do until the UTC day rolls over.
		return nil
	}

	if _, err := l.scheduler.ScheduleCycle(ctx, slots, remaining); err != nil {
		return fmt.Errorf("schedule cycle: %w", err)
	}
	return nil
}

// maybeOptimize fires the optimizer when the cron cadence is due and its
// cooldown has elapsed. An optimizer failure never blocks scheduling.
func (l *Loop) maybeOptimize(ctx context.Context, now time.Time) {
	if now.Before(l.nextOptimizerRun) {
		return
	}
	l.nextOptimizerRun = l.schedule.Next(now)

	if !l.optimizer.ShouldRun(ctx) {
		log.Printf("loop: optimizer cadence due but cooldown not elapsed")
		return
	}

	result, err := l.optimizer.Optimize(ctx)
	if err != nil {
		log.Printf("loop: optimizer run failed: %v", err)
		return
	}
	log.Printf("loop: optimizer run complete (outcome=%s)", result.Outcome)
}

// flagValue reads a runtime flag, applying def when the flag is unset.
func (l *Loop) flagValue(ctx context.Context, key string, def bool) (bool, error) {
	value, found, err := l.flags.GetFlag(ctx, key)
	if err != nil {
		return false, err
	}
	if !found {
		return def, nil
	}
	return value, nil
}
