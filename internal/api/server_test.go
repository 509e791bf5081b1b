package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/QTest-hq/qsearch/internal/config"
	"github.com/QTest-hq/qsearch/internal/db"
	"github.com/QTest-hq/qsearch/internal/ga"
	"github.com/QTest-hq/qsearch/internal/metrics"
)

type fakeStore struct {
	runs    map[uuid.UUID]*db.Run
	listErr error
	limit   int
}

func (f *fakeStore) GetRun(_ context.Context, id uuid.UUID) (*db.Run, error) {
	if run, ok := f.runs[id]; ok {
		return run, nil
	}
	return nil, db.ErrRunNotFound
}

func (f *fakeStore) ListRuns(_ context.Context, limit, _ int) ([]db.Run, error) {
	f.limit = limit
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]db.Run, 0, len(f.runs))
	for _, run := range f.runs {
		out = append(out, *run)
	}
	return out, nil
}

type fakePinger struct{ err error }

func (p fakePinger) HealthCheck(context.Context) error { return p.err }

func newTestServer(t *testing.T, tracker *Tracker, opts ...Option) *Server {
	t.Helper()
	s, err := NewServer(&config.Config{MetricsEnabled: true}, tracker, opts...)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return s
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func TestNewServer_RequiresTracker(t *testing.T) {
	if _, err := NewServer(&config.Config{}, nil); err == nil {
		t.Error("NewServer() should fail without a tracker")
	}
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t, NewTracker())
	rr := get(t, s, "/health")

	if rr.Code != http.StatusOK {
		t.Errorf("healthCheck returned status %d, want %d", rr.Code, http.StatusOK)
	}

	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %s, want ok", resp["status"])
	}
}

func TestReadyCheck(t *testing.T) {
	tests := []struct {
		name   string
		opts   []Option
		status int
	}{
		{"no database", nil, http.StatusOK},
		{"database up", []Option{WithPinger(fakePinger{})}, http.StatusOK},
		{"database down", []Option{WithPinger(fakePinger{err: errors.New("refused")})}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, NewTracker(), tt.opts...)
			if rr := get(t, s, "/ready"); rr.Code != tt.status {
				t.Errorf("status = %d, want %d", rr.Code, tt.status)
			}
		})
	}
}

func TestGetRun_Live(t *testing.T) {
	tracker := NewTracker()
	id := uuid.New()
	l := tracker.Track(id, "mapelites", "Bank")
	l.SearchStarted(ga.Status{Algorithm: "mapelites", State: ga.Evolving})
	l.IterationDone(ga.Status{Algorithm: "mapelites", State: ga.Evolving, Iteration: 3, Coverage: 0.5, Covered: 4, Total: 8})

	s := newTestServer(t, tracker)
	rr := get(t, s, "/api/v1/runs/"+id.String())
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Source string      `json:"source"`
		Run    RunSnapshot `json:"run"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Source != "live" {
		t.Errorf("source = %s, want live", resp.Source)
	}
	if resp.Run.Status != RunRunning || resp.Run.Search.Iteration != 3 || resp.Run.Scope != "Bank" {
		t.Errorf("run = %+v", resp.Run)
	}
}

func TestGetRun_Stored(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{runs: map[uuid.UUID]*db.Run{
		id: {ID: id, Algorithm: "standard", Status: db.StatusCompleted, Coverage: 1},
	}}
	s := newTestServer(t, NewTracker(), WithStore(store))

	rr := get(t, s, "/api/v1/runs/"+id.String())
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"source":"store"`) {
		t.Errorf("body = %s, want store source", rr.Body.String())
	}

	if rr := get(t, s, "/api/v1/runs/"+uuid.New().String()); rr.Code != http.StatusNotFound {
		t.Errorf("unknown run status = %d, want 404", rr.Code)
	}
}

func TestGetRun_InvalidID(t *testing.T) {
	s := newTestServer(t, NewTracker())

	if rr := get(t, s, "/api/v1/runs/not-a-uuid"); rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
	if rr := get(t, s, "/api/v1/runs/not-a-uuid/progress"); rr.Code != http.StatusBadRequest {
		t.Errorf("progress status = %d, want 400", rr.Code)
	}
}

func TestListRuns(t *testing.T) {
	tracker := NewTracker()
	tracker.Track(uuid.New(), "mapelites", "*")
	store := &fakeStore{runs: map[uuid.UUID]*db.Run{uuid.New(): {Algorithm: "standard"}}}

	s := newTestServer(t, tracker, WithStore(store))
	rr := get(t, s, "/api/v1/runs?limit=5")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var resp ListRunsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if len(resp.Live) != 1 || len(resp.Stored) != 1 {
		t.Errorf("live = %d, stored = %d, want 1, 1", len(resp.Live), len(resp.Stored))
	}
	if store.limit != 5 {
		t.Errorf("limit = %d, want 5", store.limit)
	}
}

func TestListRuns_StoreError(t *testing.T) {
	store := &fakeStore{listErr: errors.New("connection reset")}
	s := newTestServer(t, NewTracker(), WithStore(store))

	if rr := get(t, s, "/api/v1/runs"); rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
}

func TestGetRunProgress(t *testing.T) {
	tracker := NewTracker()
	id := uuid.New()
	l := tracker.Track(id, "standard", "*")
	l.IterationDone(ga.Status{
		Algorithm: "standard",
		State:     ga.Evolving,
		Iteration: 5,
		Progress: []ga.Progress{
			{Name: "max_iterations", Current: 5, Limit: 20},
			{Name: "target_coverage", Current: 40, Limit: 100},
		},
	})

	s := newTestServer(t, tracker)
	rr := get(t, s, "/api/v1/runs/"+id.String()+"/progress")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var resp ProgressResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.State != "evolving" || resp.Iteration != 5 {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.Conditions) != 2 || resp.Conditions[0].Ratio != 0.25 {
		t.Errorf("conditions = %+v", resp.Conditions)
	}

	l.Finish(RunCompleted, nil)
	snap, _ := tracker.Get(id)
	if snap.Status != RunCompleted || snap.CompletedAt == nil {
		t.Errorf("snapshot after finish = %+v", snap)
	}

	if rr := get(t, s, "/api/v1/runs/"+uuid.New().String()+"/progress"); rr.Code != http.StatusNotFound {
		t.Errorf("unknown run status = %d, want 404", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.RecordRun("mapelites", metrics.OutcomeCompleted, 0)

	s := newTestServer(t, NewTracker(), WithGatherer(reg))
	rr := get(t, s, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "qsearch_search_runs_total") {
		t.Errorf("metrics body missing runs counter:\n%s", rr.Body.String())
	}
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	s, err := NewServer(&config.Config{MetricsEnabled: false}, NewTracker())
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	if rr := get(t, s, "/metrics"); rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestTracker_ListNewestFirst(t *testing.T) {
	tracker := NewTracker()
	first := uuid.New()
	second := uuid.New()
	tracker.Track(first, "standard", "*")
	tracker.Track(second, "standard", "*")

	runs := tracker.List()
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}
	if runs[1].StartedAt.After(runs[0].StartedAt) {
		t.Error("List() should return newest first")
	}

	if _, ok := tracker.Get(uuid.New()); ok {
		t.Error("Get() of an untracked run should fail")
	}
}
