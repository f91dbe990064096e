package config

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	errs = appendDurationErr(errs, "TICK_INTERVAL", cfg.TickIntervalStr)
	errs = appendDurationErr(errs, "OPTIMIZER_COOLDOWN", cfg.OptimizerCooldownStr)
	errs = appendDurationErr(errs, "RECONCILE_INTERVAL", cfg.ReconcileIntervalStr)
	errs = appendDurationErr(errs, "RECONCILE_THRESHOLD", cfg.ReconcileThresholdStr)

	if cfg.OptimizerSchedule != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		if _, err := parser.Parse(cfg.OptimizerSchedule); err != nil {
			errs = append(errs, ValidationError{
				Field:   "OPTIMIZER_SCHEDULE",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}

	if cfg.DailyBudgetEUR <= 0 {
		errs = append(errs, ValidationError{
			Field:   "DAILY_BUDGET_EUR",
			Message: "must be positive",
		})
	}
	if cfg.MaxDailyVideos <= 0 {
		errs = append(errs, ValidationError{
			Field:   "MAX_DAILY_VIDEOS",
			Message: "must be positive",
		})
	}
	if cfg.OptimizerMaxAdjustment <= 0 || cfg.OptimizerMaxAdjustment >= 1 {
		errs = append(errs, ValidationError{
			Field:   "OPTIMIZER_MAX_ADJUSTMENT",
			Message: fmt.Sprintf("must be in (0, 1), got %g", cfg.OptimizerMaxAdjustment),
		})
	}
	if cfg.WeightFloor <= 0 || cfg.WeightFloor >= 1 {
		errs = append(errs, ValidationError{
			Field:   "WEIGHT_FLOOR",
			Message: fmt.Sprintf("must be in (0, 1), got %g", cfg.WeightFloor),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func appendDurationErr(errs ValidationErrors, field, value string) ValidationErrors {
	if value == "" {
		return errs
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return append(errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("invalid duration: %v", err),
		})
	}
	if d <= 0 {
		return append(errs, ValidationError{
			Field:   field,
			Message: "must be positive",
		})
	}
	return errs
}
