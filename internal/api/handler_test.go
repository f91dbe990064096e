package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shortfab/shortfab/internal/domain"
	"github.com/shortfab/shortfab/internal/optimizer"
	"github.com/shortfab/shortfab/internal/scheduler"
)

type mockStore struct {
	jobs       []domain.Job
	jobsErr    error
	weights    []domain.FormatWeight
	weightsErr error
	costs      domain.CostEntry
	created    int
	metrics    []domain.VideoMetric
	metricsErr error
}

func (s *mockStore) ListJobs(ctx context.Context, limit, offset int) ([]domain.Job, error) {
	if s.jobsErr != nil {
		return nil, s.jobsErr
	}
	return s.jobs, nil
}

func (s *mockStore) GetJobByID(ctx context.Context, jobID uuid.UUID) (domain.Job, error) {
	for _, j := range s.jobs {
		if j.ID == jobID {
			return j, nil
		}
	}
	return domain.Job{}, sql.ErrNoRows
}

func (s *mockStore) ListWeights(ctx context.Context) ([]domain.FormatWeight, error) {
	if s.weightsErr != nil {
		return nil, s.weightsErr
	}
	return s.weights, nil
}

func (s *mockStore) GetDayCosts(ctx context.Context, day time.Time) (domain.CostEntry, error) {
	return s.costs, nil
}

func (s *mockStore) CountJobsCreatedOn(ctx context.Context, day time.Time, excludeFailed bool) (int, error) {
	return s.created, nil
}

func (s *mockStore) InsertVideoMetric(ctx context.Context, metric domain.VideoMetric) error {
	if s.metricsErr != nil {
		return s.metricsErr
	}
	s.metrics = append(s.metrics, metric)
	return nil
}

type mockScheduler struct {
	job domain.Job
	err error
}

func (s *mockScheduler) ScheduleManual(ctx context.Context, format domain.VideoFormat) (domain.Job, error) {
	if s.err != nil {
		return domain.Job{}, s.err
	}
	job := s.job
	job.Format = format
	return job, nil
}

type mockAdjuster struct {
	result optimizer.Result
	err    error
	got    map[domain.VideoFormat]float64
}

func (a *mockAdjuster) ManualAdjust(ctx context.Context, adjustments map[domain.VideoFormat]float64) (optimizer.Result, error) {
	a.got = adjustments
	if a.err != nil {
		return optimizer.Result{}, a.err
	}
	return a.result, nil
}

type failingPinger struct{}

func (failingPinger) PingContext(ctx context.Context) error { return errors.New("connection refused") }

type okPinger struct{}

func (okPinger) PingContext(ctx context.Context) error { return nil }

func testBudget() BudgetConfig {
	return BudgetConfig{DailyBudget: 3.0, MaxDailyVideos: 3}
}

func approx(got, want float64) bool {
	diff := got - want
	return diff < 1e-9 && diff > -1e-9
}

func completedJob() domain.Job {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	return domain.Job{
		ID:             uuid.New(),
		Format:         domain.FormatAbsurdMotivation,
		Status:         domain.StatusCompleted,
		GenerationCost: 0.31,
		RenderCost:     0.14,
		YouTubeID:      "yt-xyz",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func doRequest(h *Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth_Simple(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockScheduler{}, &mockAdjuster{}, testBudget())
	rec := doRequest(h, http.MethodGet, "/health", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
}

func TestHealth_VerboseDegraded(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockScheduler{}, &mockAdjuster{}, testBudget()).
		WithHealthChecker(failingPinger{})
	rec := doRequest(h, http.MethodGet, "/health?verbose=true", "")

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var resp HealthResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
}

func TestHealth_VerboseHealthy(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockScheduler{}, &mockAdjuster{}, testBudget()).
		WithHealthChecker(okPinger{})
	rec := doRequest(h, http.MethodGet, "/health?verbose=true", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestCreateJob_Created(t *testing.T) {
	sched := &mockScheduler{job: domain.Job{ID: uuid.New(), Status: domain.StatusPending}}
	h := NewHandler(&mockStore{}, sched, &mockAdjuster{}, testBudget())

	rec := doRequest(h, http.MethodPost, "/jobs", `{"format":"talking_object"}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var resp JobResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Format != "talking_object" {
		t.Errorf("format = %q, want talking_object", resp.Format)
	}
	if resp.Status != "pending" {
		t.Errorf("status = %q, want pending", resp.Status)
	}
}

func TestCreateJob_UnknownFormat(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockScheduler{}, &mockAdjuster{}, testBudget())
	rec := doRequest(h, http.MethodPost, "/jobs", `{"format":"interpretive_dance"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCreateJob_MissingFormat(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockScheduler{}, &mockAdjuster{}, testBudget())
	rec := doRequest(h, http.MethodPost, "/jobs", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCreateJob_ComplianceDenied(t *testing.T) {
	sched := &mockScheduler{err: fmt.Errorf("%w: daily budget exceeded (EUR 3.00)", scheduler.ErrComplianceDenied)}
	h := NewHandler(&mockStore{}, sched, &mockAdjuster{}, testBudget())

	rec := doRequest(h, http.MethodPost, "/jobs", `{"format":"talking_object"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestCreateJob_InvalidJSON(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockScheduler{}, &mockAdjuster{}, testBudget())
	rec := doRequest(h, http.MethodPost, "/jobs", `{broken`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestListJobs(t *testing.T) {
	store := &mockStore{jobs: []domain.Job{completedJob(), completedJob()}}
	h := NewHandler(store, &mockScheduler{}, &mockAdjuster{}, testBudget())

	rec := doRequest(h, http.MethodGet, "/jobs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp ListJobsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(resp.Jobs) != 2 {
		t.Errorf("jobs = %d, want 2", len(resp.Jobs))
	}
	if !approx(resp.Jobs[0].EstimatedCost, 0.45) {
		t.Errorf("estimated cost = %v, want 0.45", resp.Jobs[0].EstimatedCost)
	}
}

func TestListJobs_BadPagination(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockScheduler{}, &mockAdjuster{}, testBudget())
	for _, query := range []string{"?limit=-1", "?limit=abc", "?offset=-5", "?limit=100000"} {
		rec := doRequest(h, http.MethodGet, "/jobs"+query, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("query %s: status = %d, want 400", query, rec.Code)
		}
	}
}

func TestGetJob_Found(t *testing.T) {
	job := completedJob()
	store := &mockStore{jobs: []domain.Job{job}}
	h := NewHandler(store, &mockScheduler{}, &mockAdjuster{}, testBudget())

	rec := doRequest(h, http.MethodGet, "/jobs/"+job.ID.String(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp JobResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.ID != job.ID.String() {
		t.Errorf("id = %q, want %q", resp.ID, job.ID)
	}
	if resp.YouTubeID != "yt-xyz" {
		t.Errorf("youtube id = %q, want yt-xyz", resp.YouTubeID)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockScheduler{}, &mockAdjuster{}, testBudget())
	rec := doRequest(h, http.MethodGet, "/jobs/"+uuid.NewString(), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGetJob_InvalidID(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockScheduler{}, &mockAdjuster{}, testBudget())
	rec := doRequest(h, http.MethodGet, "/jobs/not-a-uuid", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestRecordMetric_Accepted(t *testing.T) {
	job := completedJob()
	store := &mockStore{jobs: []domain.Job{job}}
	h := NewHandler(store, &mockScheduler{}, &mockAdjuster{}, testBudget())

	rec := doRequest(h, http.MethodPost, "/jobs/"+job.ID.String()+"/metrics",
		`{"views":1500,"view_pct":0.62}`)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204: %s", rec.Code, rec.Body.String())
	}
	if len(store.metrics) != 1 {
		t.Fatalf("stored %d metrics, want 1", len(store.metrics))
	}
	if store.metrics[0].Views != 1500 || store.metrics[0].ViewPct != 0.62 {
		t.Errorf("metric = %+v", store.metrics[0])
	}
}

func TestRecordMetric_NonCompletedJob(t *testing.T) {
	job := completedJob()
	job.Status = domain.StatusRendering
	store := &mockStore{jobs: []domain.Job{job}}
	h := NewHandler(store, &mockScheduler{}, &mockAdjuster{}, testBudget())

	rec := doRequest(h, http.MethodPost, "/jobs/"+job.ID.String()+"/metrics",
		`{"views":10,"view_pct":0.5}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestRecordMetric_OutOfRange(t *testing.T) {
	job := completedJob()
	store := &mockStore{jobs: []domain.Job{job}}
	h := NewHandler(store, &mockScheduler{}, &mockAdjuster{}, testBudget())

	rec := doRequest(h, http.MethodPost, "/jobs/"+job.ID.String()+"/metrics",
		`{"views":10,"view_pct":1.4}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestListWeights(t *testing.T) {
	now := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	store := &mockStore{weights: domain.SeedWeights(now)}
	h := NewHandler(store, &mockScheduler{}, &mockAdjuster{}, testBudget())

	rec := doRequest(h, http.MethodGet, "/weights", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp ListWeightsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(resp.Weights) != len(domain.AllFormats()) {
		t.Errorf("weights = %d, want %d", len(resp.Weights), len(domain.AllFormats()))
	}
}

func TestAdjustWeights(t *testing.T) {
	adjuster := &mockAdjuster{result: optimizer.Result{
		Outcome:    optimizer.OutcomeOptimized,
		OldWeights: map[domain.VideoFormat]float64{domain.FormatTalkingObject: 1.0},
		NewWeights: map[domain.VideoFormat]float64{domain.FormatTalkingObject: 1.3},
	}}
	h := NewHandler(&mockStore{}, &mockScheduler{}, adjuster, testBudget())

	rec := doRequest(h, http.MethodPost, "/weights/adjust",
		`{"adjustments":{"talking_object":0.5}}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if adjuster.got[domain.FormatTalkingObject] != 0.5 {
		t.Errorf("adjustments passed = %v", adjuster.got)
	}
	var resp AdjustWeightsResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.NewWeights["talking_object"] != 1.3 {
		t.Errorf("new weights = %v", resp.NewWeights)
	}
}

func TestAdjustWeights_UnknownFormat(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockScheduler{}, &mockAdjuster{}, testBudget())
	rec := doRequest(h, http.MethodPost, "/weights/adjust",
		`{"adjustments":{"vlog":0.5}}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestBudgetToday(t *testing.T) {
	store := &mockStore{
		costs:   domain.CostEntry{TotalCost: 1.2, GenerationCost: 0.84, VideoCount: 2},
		created: 2,
	}
	h := NewHandler(store, &mockScheduler{}, &mockAdjuster{}, testBudget())

	rec := doRequest(h, http.MethodGet, "/budget/today", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp BudgetResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if !resp.Compliant {
		t.Error("expected compliant budget")
	}
	if !approx(resp.BudgetRemaining, 1.8) {
		t.Errorf("remaining = %v, want 1.8", resp.BudgetRemaining)
	}
	if resp.VideoCount != 2 {
		t.Errorf("video count = %d, want 2", resp.VideoCount)
	}
}

func TestBudgetToday_OverBudget(t *testing.T) {
	store := &mockStore{costs: domain.CostEntry{TotalCost: 3.5}, created: 2}
	h := NewHandler(store, &mockScheduler{}, &mockAdjuster{}, testBudget())

	rec := doRequest(h, http.MethodGet, "/budget/today", "")
	var resp BudgetResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Compliant {
		t.Error("expected non-compliant budget")
	}
	if resp.BudgetRemaining != 0 {
		t.Errorf("remaining = %v, want 0 (clamped)", resp.BudgetRemaining)
	}
}

func TestUnknownRoute(t *testing.T) {
	h := NewHandler(&mockStore{}, &mockScheduler{}, &mockAdjuster{}, testBudget())
	rec := doRequest(h, http.MethodDelete, "/weights", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
