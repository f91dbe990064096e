package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shortfab/shortfab/internal/domain"
)

type mockStore struct {
	mu          sync.Mutex
	pending     []domain.Job
	active      []domain.Job
	pendingErr  error
	activeErr   error
	requeueErr  error
	requeued    []uuid.UUID
	failed      map[uuid.UUID]string
	olderThanPn time.Time
	olderThanAc time.Time
}

func newMockStore() *mockStore {
	return &mockStore{failed: make(map[uuid.UUID]string)}
}

func (s *mockStore) GetStalePendingJobs(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.olderThanPn = olderThan
	if s.pendingErr != nil {
		return nil, s.pendingErr
	}
	return s.pending, nil
}

func (s *mockStore) GetStaleActiveJobs(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.olderThanAc = olderThan
	if s.activeErr != nil {
		return nil, s.activeErr
	}
	return s.active, nil
}

func (s *mockStore) RequeueJob(ctx context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.requeueErr != nil {
		return s.requeueErr
	}
	s.requeued = append(s.requeued, jobID)
	return nil
}

func (s *mockStore) FailJob(ctx context.Context, jobID uuid.UUID, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[jobID] = errorMessage
	return nil
}

type mockEmitter struct {
	mu     sync.Mutex
	events []domain.JobEvent
	err    error
}

func (e *mockEmitter) Emit(ctx context.Context, event domain.JobEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.events = append(e.events, event)
	return nil
}

type mockMetrics struct {
	mu     sync.Mutex
	counts []int
}

func (m *mockMetrics) StaleJobsUpdate(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts = append(m.counts, count)
}

func staleJob(status domain.VideoStatus, retries int, age time.Duration, now time.Time) domain.Job {
	return domain.Job{
		ID:         uuid.New(),
		Format:     domain.FormatNothingHappens,
		Status:     status,
		RetryCount: retries,
		CreatedAt:  now.Add(-age),
		UpdatedAt:  now.Add(-age),
	}
}

func newTestReconciler(store Store, emitter EventEmitter) (*Reconciler, time.Time) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r := New(DefaultConfig(), store, emitter)
	r.clock = func() time.Time { return now }
	return r, now
}

func TestRunCycle_ReemitsStalePending(t *testing.T) {
	store := newMockStore()
	emitter := &mockEmitter{}
	r, now := newTestReconciler(store, emitter)

	job := staleJob(domain.StatusPending, 0, time.Hour, now)
	store.pending = []domain.Job{job}

	r.runCycle(context.Background())

	if len(emitter.events) != 1 {
		t.Fatalf("emitted %d events, want 1", len(emitter.events))
	}
	if emitter.events[0].JobID != job.ID {
		t.Errorf("re-emitted job %s, want %s", emitter.events[0].JobID, job.ID)
	}
	wantOlder := now.Add(-DefaultConfig().Threshold)
	if !store.olderThanPn.Equal(wantOlder) {
		t.Errorf("pending olderThan = %v, want %v", store.olderThanPn, wantOlder)
	}
}

func TestRunCycle_RequeuesStaleActiveWithRetriesLeft(t *testing.T) {
	store := newMockStore()
	emitter := &mockEmitter{}
	r, now := newTestReconciler(store, emitter)

	job := staleJob(domain.StatusRendering, 1, time.Hour, now)
	store.active = []domain.Job{job}

	r.runCycle(context.Background())

	if len(store.requeued) != 1 || store.requeued[0] != job.ID {
		t.Fatalf("requeued = %v, want [%s]", store.requeued, job.ID)
	}
	if len(store.failed) != 0 {
		t.Errorf("failed = %v, want none", store.failed)
	}
	if len(emitter.events) != 1 {
		t.Errorf("emitted %d events for requeued job, want 1", len(emitter.events))
	}
}

func TestRunCycle_FailsJobOutOfRetries(t *testing.T) {
	store := newMockStore()
	emitter := &mockEmitter{}
	r, now := newTestReconciler(store, emitter)

	job := staleJob(domain.StatusGenerating, 3, time.Hour, now)
	store.active = []domain.Job{job}

	r.runCycle(context.Background())

	if len(store.requeued) != 0 {
		t.Errorf("requeued = %v, want none", store.requeued)
	}
	msg, ok := store.failed[job.ID]
	if !ok {
		t.Fatal("job was not failed")
	}
	if msg == "" {
		t.Error("failure message is empty")
	}
	if len(emitter.events) != 0 {
		t.Errorf("emitted %d events for failed job, want 0", len(emitter.events))
	}
}

func TestRunCycle_EmitFailureDoesNotAbortCycle(t *testing.T) {
	store := newMockStore()
	emitter := &mockEmitter{err: errors.New("buffer full")}
	r, now := newTestReconciler(store, emitter)

	store.pending = []domain.Job{
		staleJob(domain.StatusPending, 0, time.Hour, now),
		staleJob(domain.StatusPending, 0, 2*time.Hour, now),
	}
	store.active = []domain.Job{staleJob(domain.StatusUploading, 0, time.Hour, now)}

	r.runCycle(context.Background())

	// Requeue still happens even when the event cannot be emitted; the
	// stale pending scan picks the job up next cycle.
	if len(store.requeued) != 1 {
		t.Errorf("requeued %d jobs, want 1", len(store.requeued))
	}
}

func TestRunCycle_StoreErrorAbortsQuietly(t *testing.T) {
	store := newMockStore()
	store.pendingErr = errors.New("db down")
	store.activeErr = errors.New("db down")
	emitter := &mockEmitter{}
	r, _ := newTestReconciler(store, emitter)

	r.runCycle(context.Background())

	if len(emitter.events) != 0 {
		t.Errorf("emitted %d events on store error, want 0", len(emitter.events))
	}
}

func TestRunCycle_ReportsStaleCount(t *testing.T) {
	store := newMockStore()
	emitter := &mockEmitter{}
	metrics := &mockMetrics{}
	r, now := newTestReconciler(store, emitter)
	r.WithMetrics(metrics)

	store.pending = []domain.Job{staleJob(domain.StatusPending, 0, time.Hour, now)}
	store.active = []domain.Job{
		staleJob(domain.StatusRendering, 0, time.Hour, now),
		staleJob(domain.StatusGenerating, 5, time.Hour, now),
	}

	r.runCycle(context.Background())

	if len(metrics.counts) != 1 || metrics.counts[0] != 3 {
		t.Errorf("stale counts = %v, want [3]", metrics.counts)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	store := newMockStore()
	r, _ := newTestReconciler(store, &mockEmitter{})
	r.config.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
