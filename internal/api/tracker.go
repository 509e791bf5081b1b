package api

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/QTest-hq/qsearch/internal/ga"
)

// Run states reported for live runs. Finished runs use the db statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunCancelled = "cancelled"
	RunFailed    = "failed"
)

// RunSnapshot is the latest known state of a tracked run
type RunSnapshot struct {
	ID          uuid.UUID  `json:"id"`
	Algorithm   string     `json:"algorithm"`
	Scope       string     `json:"scope"`
	Status      string     `json:"status"`
	Search      ga.Status  `json:"search"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Tracker keeps the progress of the runs of this process in memory
type Tracker struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*RunSnapshot
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{runs: make(map[uuid.UUID]*RunSnapshot)}
}

// Track registers a run and returns the listener to attach to its search
func (t *Tracker) Track(id uuid.UUID, algorithm, scope string) *RunListener {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.runs[id] = &RunSnapshot{
		ID:        id,
		Algorithm: algorithm,
		Scope:     scope,
		Status:    RunRunning,
		Search:    ga.Status{Algorithm: algorithm},
		StartedAt: time.Now(),
	}
	return &RunListener{tracker: t, id: id}
}

// Get returns a copy of a run's snapshot
func (t *Tracker) Get(id uuid.UUID) (RunSnapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	run, ok := t.runs[id]
	if !ok {
		return RunSnapshot{}, false
	}
	return *run, true
}

// List returns all tracked runs, newest first
func (t *Tracker) List() []RunSnapshot {
	t.mu.RLock()
	out := make([]RunSnapshot, 0, len(t.runs))
	for _, run := range t.runs {
		out = append(out, *run)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

func (t *Tracker) update(id uuid.UUID, fn func(*RunSnapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if run, ok := t.runs[id]; ok {
		fn(run)
	}
}

// RunListener feeds search events of one run into the tracker
type RunListener struct {
	tracker *Tracker
	id      uuid.UUID
}

var _ ga.SearchListener = (*RunListener)(nil)

func (l *RunListener) SearchStarted(s ga.Status)  { l.set(s) }
func (l *RunListener) IterationDone(s ga.Status)  { l.set(s) }
func (l *RunListener) SearchFinished(s ga.Status) { l.set(s) }

func (l *RunListener) set(s ga.Status) {
	l.tracker.update(l.id, func(run *RunSnapshot) {
		run.Search = s
	})
}

// Finish marks the run as ended with the given status
func (l *RunListener) Finish(status string, err error) {
	now := time.Now()
	l.tracker.update(l.id, func(run *RunSnapshot) {
		run.Status = status
		run.CompletedAt = &now
		if err != nil {
			run.Error = err.Error()
		}
	})
}
