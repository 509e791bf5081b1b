package ga

import (
	"fmt"
	"math"
	"time"
)

// StoppingCondition decides when a search ends. Drivers fire the hooks and
// consult IsFinished once per iteration.
type StoppingCondition interface {
	Name() string
	CurrentValue() int64
	Limit() int64
	SetLimit(limit int64)
	IsFinished() bool
	Reset()

	SearchStarted(s Status)
	Iteration(s Status)
	FitnessEvaluated(s Status)
}

// ExecutionCounter is implemented by conditions that count test executions.
type ExecutionCounter interface {
	TestExecuted()
}

// hooks provides no-op lifecycle hooks for embedding.
type hooks struct{}

func (hooks) SearchStarted(Status)    {}
func (hooks) Iteration(Status)        {}
func (hooks) FitnessEvaluated(Status) {}

// counter is a resettable count with a limit.
type counter struct {
	hooks
	current int64
	limit   int64
}

func (c *counter) CurrentValue() int64 {
	return c.current
}

func (c *counter) Limit() int64 {
	return c.limit
}

func (c *counter) SetLimit(limit int64) {
	c.limit = limit
}

func (c *counter) IsFinished() bool {
	return c.current >= c.limit
}

func (c *counter) Reset() {
	c.current = 0
}

// MaxTimeCondition stops after a wall-clock budget. Values are seconds.
type MaxTimeCondition struct {
	hooks
	limit time.Duration
	start time.Time
	now   func() time.Time
}

// NewMaxTimeCondition stops a search after limit.
func NewMaxTimeCondition(limit time.Duration) *MaxTimeCondition {
	c := &MaxTimeCondition{limit: limit, now: time.Now}
	c.start = c.now()
	return c
}

func (c *MaxTimeCondition) Name() string {
	return "max_time"
}

func (c *MaxTimeCondition) CurrentValue() int64 {
	return int64(c.now().Sub(c.start) / time.Second)
}

func (c *MaxTimeCondition) Limit() int64 {
	return int64(c.limit / time.Second)
}

func (c *MaxTimeCondition) SetLimit(limit int64) {
	c.limit = time.Duration(limit) * time.Second
}

func (c *MaxTimeCondition) IsFinished() bool {
	return c.now().Sub(c.start) >= c.limit
}

// Reset restarts the clock.
func (c *MaxTimeCondition) Reset() {
	c.start = c.now()
}

func (c *MaxTimeCondition) SearchStarted(Status) {
	c.Reset()
}

// MaxTestsCondition stops after a number of real test executions.
type MaxTestsCondition struct {
	counter
}

func NewMaxTestsCondition(limit int64) *MaxTestsCondition {
	return &MaxTestsCondition{counter{limit: limit}}
}

func (c *MaxTestsCondition) Name() string {
	return "max_tests"
}

func (c *MaxTestsCondition) TestExecuted() {
	c.current++
}

// MaxIterationsCondition stops after a number of iterations.
type MaxIterationsCondition struct {
	counter
}

func NewMaxIterationsCondition(limit int64) *MaxIterationsCondition {
	return &MaxIterationsCondition{counter{limit: limit}}
}

func (c *MaxIterationsCondition) Name() string {
	return "max_iterations"
}

func (c *MaxIterationsCondition) Iteration(Status) {
	c.current++
}

// MaxFitnessEvaluationsCondition stops after a number of fitness
// evaluations.
type MaxFitnessEvaluationsCondition struct {
	counter
}

func NewMaxFitnessEvaluationsCondition(limit int64) *MaxFitnessEvaluationsCondition {
	return &MaxFitnessEvaluationsCondition{counter{limit: limit}}
}

func (c *MaxFitnessEvaluationsCondition) Name() string {
	return "max_fitness_evaluations"
}

func (c *MaxFitnessEvaluationsCondition) FitnessEvaluated(Status) {
	c.current++
}

// TargetCoverageCondition stops once coverage reaches a percentage.
type TargetCoverageCondition struct {
	counter
}

// NewTargetCoverageCondition stops at percent (0-100) coverage.
func NewTargetCoverageCondition(percent int64) *TargetCoverageCondition {
	return &TargetCoverageCondition{counter{limit: percent}}
}

func (c *TargetCoverageCondition) Name() string {
	return "target_coverage"
}

// coverageEpsilon absorbs float error in ratios such as 29/100.
const coverageEpsilon = 1e-9

func (c *TargetCoverageCondition) observe(s Status) {
	if s.Total > 0 {
		c.current = int64(s.Covered) * 100 / int64(s.Total)
		return
	}
	c.current = int64(math.Floor(s.Coverage*100 + coverageEpsilon))
}

func (c *TargetCoverageCondition) SearchStarted(s Status) {
	c.observe(s)
}

func (c *TargetCoverageCondition) Iteration(s Status) {
	c.observe(s)
}

func (c *TargetCoverageCondition) FitnessEvaluated(s Status) {
	c.observe(s)
}

// Progress reports one condition for display.
type Progress struct {
	Name    string `json:"name"`
	Current int64  `json:"current"`
	Limit   int64  `json:"limit"`
}

// Ratio is the completed share, capped at 1.
func (p Progress) Ratio() float64 {
	if p.Limit <= 0 {
		return 1
	}
	return math.Min(1, float64(p.Current)/float64(p.Limit))
}

func (p Progress) String() string {
	return fmt.Sprintf("%s %d/%d", p.Name, p.Current, p.Limit)
}

// StoppingConditions is the disjunction of its members.
type StoppingConditions []StoppingCondition

// IsFinished reports whether any condition is finished.
func (sc StoppingConditions) IsFinished() bool {
	for _, c := range sc {
		if c.IsFinished() {
			return true
		}
	}
	return false
}

// Finished returns the names of the finished conditions.
func (sc StoppingConditions) Finished() []string {
	var out []string
	for _, c := range sc {
		if c.IsFinished() {
			out = append(out, c.Name())
		}
	}
	return out
}

func (sc StoppingConditions) Reset() {
	for _, c := range sc {
		c.Reset()
	}
}

// Progress snapshots every condition.
func (sc StoppingConditions) Progress() []Progress {
	out := make([]Progress, len(sc))
	for i, c := range sc {
		out[i] = Progress{Name: c.Name(), Current: c.CurrentValue(), Limit: c.Limit()}
	}
	return out
}

func (sc StoppingConditions) searchStarted(s Status) {
	for _, c := range sc {
		c.SearchStarted(s)
	}
}

func (sc StoppingConditions) iteration(s Status) {
	for _, c := range sc {
		c.Iteration(s)
	}
}

func (sc StoppingConditions) fitnessEvaluated(s Status) {
	for _, c := range sc {
		c.FitnessEvaluated(s)
	}
}

func (sc StoppingConditions) testExecuted() {
	for _, c := range sc {
		if ec, ok := c.(ExecutionCounter); ok {
			ec.TestExecuted()
		}
	}
}

// Limits configures the standard set of stopping conditions. Zero values
// disable a condition.
type Limits struct {
	MaxTime        time.Duration `yaml:"max_time"`
	MaxTests       int64         `yaml:"max_tests"`
	MaxIterations  int64         `yaml:"max_iterations"`
	MaxEvaluations int64         `yaml:"max_evaluations"`
	TargetCoverage int64         `yaml:"target_coverage"`
}

// Conditions builds the enabled stopping conditions.
func (l Limits) Conditions() StoppingConditions {
	var sc StoppingConditions
	if l.MaxTime > 0 {
		sc = append(sc, NewMaxTimeCondition(l.MaxTime))
	}
	if l.MaxTests > 0 {
		sc = append(sc, NewMaxTestsCondition(l.MaxTests))
	}
	if l.MaxIterations > 0 {
		sc = append(sc, NewMaxIterationsCondition(l.MaxIterations))
	}
	if l.MaxEvaluations > 0 {
		sc = append(sc, NewMaxFitnessEvaluationsCondition(l.MaxEvaluations))
	}
	if l.TargetCoverage > 0 {
		sc = append(sc, NewTargetCoverageCondition(l.TargetCoverage))
	}
	return sc
}
