package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shortfab/shortfab/internal/domain"
	"github.com/shortfab/shortfab/internal/optimizer"
	"github.com/shortfab/shortfab/internal/pricing"
	"github.com/shortfab/shortfab/internal/scheduler"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

type Store interface {
	ListJobs(ctx context.Context, limit, offset int) ([]domain.Job, error)
	GetJobByID(ctx context.Context, jobID uuid.UUID) (domain.Job, error)
	ListWeights(ctx context.Context) ([]domain.FormatWeight, error)
	GetDayCosts(ctx context.Context, day time.Time) (domain.CostEntry, error)
	CountJobsCreatedOn(ctx context.Context, day time.Time, excludeFailed bool) (int, error)
	InsertVideoMetric(ctx context.Context, metric domain.VideoMetric) error
}

// Scheduler creates operator-triggered jobs.
type Scheduler interface {
	ScheduleManual(ctx context.Context, format domain.VideoFormat) (domain.Job, error)
}

// WeightAdjuster applies operator weight overrides.
type WeightAdjuster interface {
	ManualAdjust(ctx context.Context, adjustments map[domain.VideoFormat]float64) (optimizer.Result, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// BudgetConfig is the compliance tuning echoed by /budget/today.
type BudgetConfig struct {
	DailyBudget    float64
	MaxDailyVideos int
}

type Handler struct {
	store     Store
	scheduler Scheduler
	adjuster  WeightAdjuster
	budget    BudgetConfig
	db        HealthChecker
	clock     func() time.Time
}

func NewHandler(store Store, sched Scheduler, adjuster WeightAdjuster, budget BudgetConfig) *Handler {
	return &Handler{
		store:     store,
		scheduler: sched,
		adjuster:  adjuster,
		budget:    budget,
		clock:     time.Now,
	}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/jobs" && r.Method == http.MethodPost:
		h.createJob(w, r)

	case path == "/jobs" && r.Method == http.MethodGet:
		h.listJobs(w, r)

	case strings.HasSuffix(path, "/metrics") && strings.HasPrefix(path, "/jobs/") && r.Method == http.MethodPost:
		h.recordMetric(w, r)

	case strings.HasPrefix(path, "/jobs/") && r.Method == http.MethodGet:
		h.getJob(w, r)

	case path == "/weights" && r.Method == http.MethodGet:
		h.listWeights(w, r)

	case path == "/weights/adjust" && r.Method == http.MethodPost:
		h.adjustWeights(w, r)

	case path == "/budget/today" && r.Method == http.MethodGet:
		h.budgetToday(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	// Check if verbose mode requested via ?verbose=true
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) createJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateCreateJob(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.scheduler.ScheduleManual(r.Context(), domain.VideoFormat(req.Format))
	if err != nil {
		if errors.Is(err, scheduler.ErrComplianceDenied) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		log.Printf("api: create job error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	writeJSON(w, http.StatusCreated, toJobResponse(job))
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobs, err := h.store.ListJobs(r.Context(), limit, offset)
	if err != nil {
		log.Printf("api: list jobs error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	resp := ListJobsResponse{Jobs: make([]JobResponse, len(jobs))}
	for i, job := range jobs {
		resp.Jobs[i] = toJobResponse(job)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	// Extract job ID from path: /jobs/{id}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 2 || parts[0] != "jobs" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	jobID, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := h.store.GetJobByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		log.Printf("api: get job error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (h *Handler) recordMetric(w http.ResponseWriter, r *http.Request) {
	// Extract job ID from path: /jobs/{id}/metrics
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "jobs" || parts[2] != "metrics" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	jobID, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req RecordMetricRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validateRecordMetric(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.store.GetJobByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		log.Printf("api: record metric error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to record metric")
		return
	}
	if job.Status != domain.StatusCompleted {
		writeError(w, http.StatusConflict, "metrics only accepted for completed jobs")
		return
	}

	metric := domain.VideoMetric{
		ID:         uuid.New(),
		JobID:      jobID,
		Views:      req.Views,
		ViewPct:    req.ViewPct,
		RecordedAt: h.clock().UTC(),
	}
	if err := h.store.InsertVideoMetric(r.Context(), metric); err != nil {
		log.Printf("api: record metric error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to record metric")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listWeights(w http.ResponseWriter, r *http.Request) {
	weights, err := h.store.ListWeights(r.Context())
	if err != nil {
		log.Printf("api: list weights error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list weights")
		return
	}

	resp := ListWeightsResponse{Weights: make([]WeightResponse, len(weights))}
	for i, fw := range weights {
		resp.Weights[i] = WeightResponse{
			Format:      string(fw.Format),
			Weight:      fw.Weight,
			LastUpdated: formatTime(fw.LastUpdated),
			Reason:      fw.Reason,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) adjustWeights(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req AdjustWeightsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validateAdjustWeights(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	adjustments := make(map[domain.VideoFormat]float64, len(req.Adjustments))
	for format, delta := range req.Adjustments {
		adjustments[domain.VideoFormat(format)] = delta
	}

	result, err := h.adjuster.ManualAdjust(r.Context(), adjustments)
	if err != nil {
		log.Printf("api: adjust weights error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to adjust weights")
		return
	}

	resp := AdjustWeightsResponse{
		OldWeights: make(map[string]float64, len(result.OldWeights)),
		NewWeights: make(map[string]float64, len(result.NewWeights)),
	}
	for f, weight := range result.OldWeights {
		resp.OldWeights[string(f)] = weight
	}
	for f, weight := range result.NewWeights {
		resp.NewWeights[string(f)] = weight
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) budgetToday(w http.ResponseWriter, r *http.Request) {
	day := domain.Day(h.clock().UTC())

	costs, err := h.store.GetDayCosts(r.Context(), day)
	if err != nil {
		log.Printf("api: budget error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get budget")
		return
	}
	created, err := h.store.CountJobsCreatedOn(r.Context(), day, true)
	if err != nil {
		log.Printf("api: budget error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get budget")
		return
	}

	compliant, reason := pricing.CheckCompliance(costs.TotalCost, h.budget.DailyBudget, created, h.budget.MaxDailyVideos)

	remaining := h.budget.DailyBudget - costs.TotalCost
	if remaining < 0 {
		remaining = 0
	}

	resp := BudgetResponse{
		Date:            day.Format("2006-01-02"),
		DailyBudget:     h.budget.DailyBudget,
		TotalCost:       costs.TotalCost,
		GenerationCost:  costs.GenerationCost,
		BudgetRemaining: remaining,
		VideoCount:      created,
		MaxDailyVideos:  h.budget.MaxDailyVideos,
		Compliant:       compliant,
		Reason:          reason,
	}

	writeJSON(w, http.StatusOK, resp)
}

func toJobResponse(job domain.Job) JobResponse {
	return JobResponse{
		ID:             job.ID.String(),
		Format:         string(job.Format),
		Status:         string(job.Status),
		GenerationCost: job.GenerationCost,
		RenderCost:     job.RenderCost,
		EstimatedCost:  job.EstimatedCost(),
		RetryCount:     job.RetryCount,
		YouTubeID:      job.YouTubeID,
		ErrorMessage:   job.ErrorMessage,
		CreatedAt:      formatTime(job.CreatedAt),
		UpdatedAt:      formatTime(job.UpdatedAt),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
// Returns an error if limit exceeds MaxLimit or if values are negative/invalid.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
