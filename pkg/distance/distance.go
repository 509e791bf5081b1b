// Package distance provides the control-flow distance used to turn coverage
// predicates into a continuous search signal.
package distance

import (
	"errors"
	"fmt"
	"math"
)

// ErrNegative is returned when an approach level or branch distance below
// zero is supplied. It signals a broken upstream invariant.
var ErrNegative = errors.New("negative control-flow distance")

// almostOne is the largest float64 below 1.
var almostOne = math.Nextafter(1, 0)

// Normalize maps a non-negative branch distance into [0, 1).
// It returns 0 only for 0 and is strictly increasing while d/(d+1) stays
// below 1. From about d >= 1e16 the result saturates at the largest float64
// below 1, so there it is only non-decreasing.
func Normalize(d float64) float64 {
	if d < 0 || math.IsNaN(d) {
		panic(fmt.Errorf("%w: branch distance %v", ErrNegative, d))
	}
	if math.IsInf(d, 1) {
		return almostOne
	}
	n := d / (d + 1.0)
	if n >= 1 {
		return almostOne
	}
	return n
}

// ControlFlowDistance pairs an approach level with the branch distance at the
// first diverging predicate. The zero value is a covered distance.
type ControlFlowDistance struct {
	approachLevel  int
	branchDistance float64
}

// New creates a distance, rejecting negative inputs.
func New(approachLevel int, branchDistance float64) (ControlFlowDistance, error) {
	if approachLevel < 0 {
		return ControlFlowDistance{}, fmt.Errorf("%w: approach level %d", ErrNegative, approachLevel)
	}
	if branchDistance < 0 || math.IsNaN(branchDistance) {
		return ControlFlowDistance{}, fmt.Errorf("%w: branch distance %v", ErrNegative, branchDistance)
	}
	return ControlFlowDistance{approachLevel: approachLevel, branchDistance: branchDistance}, nil
}

// MustNew is like New but panics on negative inputs.
func MustNew(approachLevel int, branchDistance float64) ControlFlowDistance {
	d, err := New(approachLevel, branchDistance)
	if err != nil {
		panic(err)
	}
	return d
}

func (d ControlFlowDistance) ApproachLevel() int {
	return d.approachLevel
}

func (d ControlFlowDistance) BranchDistance() float64 {
	return d.branchDistance
}

// SetApproachLevel replaces the approach level.
func (d *ControlFlowDistance) SetApproachLevel(level int) error {
	if level < 0 {
		return fmt.Errorf("%w: approach level %d", ErrNegative, level)
	}
	d.approachLevel = level
	return nil
}

// SetBranchDistance replaces the branch distance.
func (d *ControlFlowDistance) SetBranchDistance(branch float64) error {
	if branch < 0 || math.IsNaN(branch) {
		return fmt.Errorf("%w: branch distance %v", ErrNegative, branch)
	}
	d.branchDistance = branch
	return nil
}

// IncreaseApproachLevel adds one level, saturating at math.MaxInt.
func (d *ControlFlowDistance) IncreaseApproachLevel() {
	if d.approachLevel < math.MaxInt {
		d.approachLevel++
	}
}

// IsCovered reports whether the goal was reached with the required outcome.
func (d ControlFlowDistance) IsCovered() bool {
	return d.approachLevel == 0 && d.branchDistance == 0
}

// Fitness returns approach level plus normalized branch distance.
func (d ControlFlowDistance) Fitness() float64 {
	return float64(d.approachLevel) + Normalize(d.branchDistance)
}

// Compare orders distances by approach level, then branch distance.
// It returns -1, 0 or 1.
func (d ControlFlowDistance) Compare(other ControlFlowDistance) int {
	switch {
	case d.approachLevel < other.approachLevel:
		return -1
	case d.approachLevel > other.approachLevel:
		return 1
	case d.branchDistance < other.branchDistance:
		return -1
	case d.branchDistance > other.branchDistance:
		return 1
	}
	return 0
}

// Less reports whether d is strictly closer to coverage than other.
func (d ControlFlowDistance) Less(other ControlFlowDistance) bool {
	return d.Compare(other) < 0
}

func (d ControlFlowDistance) String() string {
	return fmt.Sprintf("approach=%d branch=%g", d.approachLevel, d.branchDistance)
}

// Min returns the smallest of the given distances, or a covered distance
// when none are given.
func Min(ds ...ControlFlowDistance) ControlFlowDistance {
	if len(ds) == 0 {
		return ControlFlowDistance{}
	}
	best := ds[0]
	for _, d := range ds[1:] {
		if d.Less(best) {
			best = d
		}
	}
	return best
}
