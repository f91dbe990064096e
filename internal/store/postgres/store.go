package postgres

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shortfab/shortfab/internal/api"
	"github.com/shortfab/shortfab/internal/domain"
	"github.com/shortfab/shortfab/internal/loop"
	"github.com/shortfab/shortfab/internal/optimizer"
	"github.com/shortfab/shortfab/internal/pipeline"
	"github.com/shortfab/shortfab/internal/reconciler"
	"github.com/shortfab/shortfab/internal/scheduler"
)

// Store implements the persistence surfaces of the scheduler, optimizer,
// pipeline, reconciler, control loop and API using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL store with the given database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetJobByID returns a job by its ID.
func (s *Store) GetJobByID(ctx context.Context, jobID uuid.UUID) (domain.Job, error) {
	row := s.db.QueryRowContext(ctx, queryGetJobByID, jobID)
	return scanJob(row)
}

// ListJobs returns jobs ordered by creation time descending, paginated by
// limit and offset.
func (s *Store) ListJobs(ctx context.Context, limit, offset int) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, queryListJobs, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// CountJobsCreatedOn counts jobs created on the given UTC calendar day.
// With excludeFailed set, failed jobs do not count against the daily cap
// because the reconciler may requeue them.
func (s *Store) CountJobsCreatedOn(ctx context.Context, day time.Time, excludeFailed bool) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, queryCountJobsCreatedOn, domain.Day(day), excludeFailed).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// CreateJobWithSpend inserts the job and increments the day's cost ledger
// row in a single transaction. On failure neither write is visible.
func (s *Store) CreateJobWithSpend(ctx context.Context, job domain.Job, day time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, queryInsertJob,
		job.ID,
		string(job.Format),
		string(job.Status),
		job.GenerationCost,
		job.RenderCost,
		job.RetryCount,
		job.YouTubeID,
		job.ErrorMessage,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return err
	}

	// Both ledger accumulators receive the full estimate, not the
	// per-stage split.
	_, err = tx.ExecContext(ctx, queryIncrementDayCosts, domain.Day(day), jobSpend(job))
	if err != nil {
		return err
	}

	return tx.Commit()
}

// jobSpend is the amount a job adds to each ledger accumulator: the full
// cost estimate, not the per-stage split.
func jobSpend(job domain.Job) float64 {
	return job.GenerationCost + job.RenderCost
}

// TransitionJob moves a job between statuses atomically.
// Returns pipeline.ErrStatusTransitionDenied if the job is not in the
// expected status. This uses an atomic UPDATE with WHERE clause to prevent
// TOCTOU race conditions.
func (s *Store) TransitionJob(ctx context.Context, jobID uuid.UUID, from, to domain.VideoStatus) error {
	if !domain.CanTransition(from, to) {
		return pipeline.ErrStatusTransitionDenied
	}

	// Single atomic update with guard in WHERE clause.
	// PostgreSQL acquires the row lock before evaluating WHERE,
	// ensuring serialized access under concurrency.
	result, err := s.db.ExecContext(ctx, queryTransitionJob, string(to), jobID, string(from))
	if err != nil {
		return err
	}
	return s.checkJobUpdated(ctx, jobID, result)
}

// CompleteJob marks an uploading job completed and records its YouTube ID.
func (s *Store) CompleteJob(ctx context.Context, jobID uuid.UUID, youtubeID string) error {
	result, err := s.db.ExecContext(ctx, queryCompleteJob, youtubeID, jobID)
	if err != nil {
		return err
	}
	return s.checkJobUpdated(ctx, jobID, result)
}

// FailJob marks a non-terminal job failed with the given error message.
func (s *Store) FailJob(ctx context.Context, jobID uuid.UUID, errorMessage string) error {
	result, err := s.db.ExecContext(ctx, queryFailJob, errorMessage, jobID)
	if err != nil {
		return err
	}
	return s.checkJobUpdated(ctx, jobID, result)
}

// RejectJob marks a generating job rejected. Rejection only happens out of
// the generation stage, where the safety gate runs.
func (s *Store) RejectJob(ctx context.Context, jobID uuid.UUID, reason string) error {
	result, err := s.db.ExecContext(ctx, queryRejectJob, reason, jobID)
	if err != nil {
		return err
	}
	return s.checkJobUpdated(ctx, jobID, result)
}

// RequeueJob moves an active job back to pending and increments its retry
// count.
func (s *Store) RequeueJob(ctx context.Context, jobID uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, queryRequeueJob, jobID)
	if err != nil {
		return err
	}
	return s.checkJobUpdated(ctx, jobID, result)
}

// checkJobUpdated distinguishes a missing row from a denied status guard
// after a guarded UPDATE affected zero rows.
func (s *Store) checkJobUpdated(ctx context.Context, jobID uuid.UUID, result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected > 0 {
		return nil
	}

	// Either: (a) job not found, or (b) not in a status the guard accepts.
	var currentStatus string
	err = s.db.QueryRowContext(ctx, queryGetJobStatus, jobID).Scan(&currentStatus)
	if err == sql.ErrNoRows {
		return sql.ErrNoRows
	}
	if err != nil {
		return err
	}
	return pipeline.ErrStatusTransitionDenied
}

// GetStalePendingJobs returns pending jobs created before olderThan,
// oldest first, limited to maxResults.
func (s *Store) GetStalePendingJobs(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, queryGetStalePendingJobs, olderThan, maxResults)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// GetStaleActiveJobs returns jobs stuck in an active stage whose last
// update is before olderThan, oldest first, limited to maxResults.
func (s *Store) GetStaleActiveJobs(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, queryGetStaleActiveJobs, olderThan, maxResults)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ListWeights returns the stored format weights in stable format order.
func (s *Store) ListWeights(ctx context.Context) ([]domain.FormatWeight, error) {
	rows, err := s.db.QueryContext(ctx, queryListWeights)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.FormatWeight
	for rows.Next() {
		var w domain.FormatWeight
		var format string

		err := rows.Scan(&format, &w.Weight, &w.LastUpdated, &w.Reason)
		if err != nil {
			return nil, err
		}
		w.Format = domain.VideoFormat(format)
		result = append(result, w)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// ReplaceWeights applies the whole weight set in one transaction. A partial
// weight set is never observable.
func (s *Store) ReplaceWeights(ctx context.Context, weights []domain.FormatWeight) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, w := range weights {
		_, err = tx.ExecContext(ctx, queryUpsertWeight,
			string(w.Format),
			w.Weight,
			w.LastUpdated,
			w.Reason,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// SeedWeights inserts the initial uniform weight set, leaving any existing
// rows untouched. Called once at startup.
func (s *Store) SeedWeights(ctx context.Context, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, w := range domain.SeedWeights(now) {
		_, err = tx.ExecContext(ctx, querySeedWeight,
			string(w.Format),
			w.Weight,
			w.LastUpdated,
			w.Reason,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetDayCosts returns the spend ledger row for the given UTC calendar day.
// A day with no jobs yet reads as a zero entry, not an error.
func (s *Store) GetDayCosts(ctx context.Context, day time.Time) (domain.CostEntry, error) {
	var entry domain.CostEntry
	err := s.db.QueryRowContext(ctx, queryGetDayCosts, domain.Day(day)).Scan(
		&entry.Date,
		&entry.GenerationCost,
		&entry.TotalCost,
		&entry.VideoCount,
	)
	if err == sql.ErrNoRows {
		return domain.CostEntry{Date: domain.Day(day)}, nil
	}
	if err != nil {
		return domain.CostEntry{}, err
	}
	return entry, nil
}

// InsertVideoMetric inserts one observed audience measurement.
func (s *Store) InsertVideoMetric(ctx context.Context, metric domain.VideoMetric) error {
	_, err := s.db.ExecContext(ctx, queryInsertVideoMetric,
		metric.ID,
		metric.JobID,
		metric.Views,
		metric.ViewPct,
		metric.RecordedAt,
	)
	return err
}

// GetFormatPerformance aggregates video metrics per format. Formats with no
// recorded metrics are absent from the map; callers treat them as zero.
func (s *Store) GetFormatPerformance(ctx context.Context) (map[domain.VideoFormat]domain.PerformanceSample, error) {
	rows, err := s.db.QueryContext(ctx, queryGetFormatPerformance)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[domain.VideoFormat]domain.PerformanceSample)
	for rows.Next() {
		var format string
		var sample domain.PerformanceSample

		err := rows.Scan(&format, &sample.Count, &sample.AvgViewPct, &sample.AvgViews)
		if err != nil {
			return nil, err
		}
		result[domain.VideoFormat(format)] = sample
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// GetFlag reads one boolean runtime flag from the config table.
// found is false when the flag was never set.
func (s *Store) GetFlag(ctx context.Context, key string) (bool, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, queryGetConfigValue, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}

	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, err
	}
	return value, true, nil
}

// SetFlag writes one boolean runtime flag to the config table.
func (s *Store) SetFlag(ctx context.Context, key string, value bool) error {
	_, err := s.db.ExecContext(ctx, queryUpsertConfigValue, key, strconv.FormatBool(value))
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJobInto(scanner rowScanner, job *domain.Job) error {
	var format, status string

	err := scanner.Scan(
		&job.ID,
		&format,
		&status,
		&job.GenerationCost,
		&job.RenderCost,
		&job.RetryCount,
		&job.YouTubeID,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return err
	}
	job.Format = domain.VideoFormat(format)
	job.Status = domain.VideoStatus(status)
	return nil
}

func scanJob(row *sql.Row) (domain.Job, error) {
	var job domain.Job
	if err := scanJobInto(row, &job); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

func scanJobs(rows *sql.Rows) ([]domain.Job, error) {
	var result []domain.Job
	for rows.Next() {
		var job domain.Job
		if err := scanJobInto(rows, &job); err != nil {
			return nil, err
		}
		result = append(result, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Compile-time interface assertions
var (
	_ scheduler.Store             = (*Store)(nil)
	_ optimizer.Store             = (*Store)(nil)
	_ optimizer.PerformanceSource = (*Store)(nil)
	_ pipeline.Store              = (*Store)(nil)
	_ reconciler.Store            = (*Store)(nil)
	_ loop.Store                  = (*Store)(nil)
	_ loop.Flags                  = (*Store)(nil)
	_ api.Store                   = (*Store)(nil)
)
