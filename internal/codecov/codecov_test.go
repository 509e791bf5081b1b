package codecov

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/QTest-hq/qsearch/internal/fitness"
	"github.com/QTest-hq/qsearch/internal/goals"
	"github.com/QTest-hq/qsearch/internal/testcase"
	"github.com/QTest-hq/qsearch/internal/trace"
)

func lineGoal(t *testing.T, line int) goals.Goal {
	t.Helper()
	g, err := goals.NewLineGoal(goals.LineTarget{Class: "Calc", Method: "run", Line: line, RootDependent: true})
	if err != nil {
		t.Fatalf("NewLineGoal() error = %v", err)
	}
	return g
}

func sampleEvaluation(t *testing.T) fitness.Evaluation {
	branch := &goals.Branch{ID: 3, Class: "Calc", Method: "check", Line: 7, RootDependent: true}
	scores := []fitness.GoalScore{
		{Goal: goals.NewMethodGoal("Calc", "check", trace.EmptyContext), Covered: true, Count: 4},
		{Goal: goals.MustBranchGoal(branch, true, trace.EmptyContext), Contribution: 0.25, Count: 4},
		{Goal: goals.NewMethodGoal("Calc", "run", trace.EmptyContext), Contribution: 1},
		{Goal: lineGoal(t, 10), Contribution: 1},
		{Goal: lineGoal(t, 11), Contribution: 1},
		{Goal: lineGoal(t, 15), Contribution: 1},
		{Goal: goals.NewMethodGoal("Util", "noop", trace.EmptyContext), Covered: true, Count: 1},
	}
	return fitness.Evaluation{Fitness: 4.25, Coverage: 2.0 / 7.0, Covered: 2, Total: 7, Scores: scores}
}

func TestBuild(t *testing.T) {
	suite := testcase.NewSuite(testcase.NewTestChromosome(testcase.MustNew(testcase.Primitive("int", 1))))
	report := Build("branch", suite, sampleEvaluation(t))

	if report.TotalGoals != 7 || report.CoveredGoals != 2 {
		t.Errorf("goals = %d/%d, want 2/7", report.CoveredGoals, report.TotalGoals)
	}
	if report.Tests != 1 || report.Statements != 1 {
		t.Errorf("tests = %d, statements = %d, want 1, 1", report.Tests, report.Statements)
	}
	if len(report.Uncovered) != 5 {
		t.Fatalf("len(Uncovered) = %d, want 5", len(report.Uncovered))
	}
	if len(report.Classes) != 2 {
		t.Fatalf("len(Classes) = %d, want 2", len(report.Classes))
	}

	calc := report.Classes[0]
	if calc.Class != "Calc" || calc.TotalGoals != 6 || calc.CoveredGoals != 1 {
		t.Errorf("Calc = %+v", calc)
	}
	if want := []int{10, 11, 15}; !equalInts(calc.UncoveredLines, want) {
		t.Errorf("UncoveredLines = %v, want %v", calc.UncoveredLines, want)
	}
	if report.Classes[1].Percentage != 100 {
		t.Errorf("Util percentage = %v, want 100", report.Classes[1].Percentage)
	}

	branch := report.Uncovered[0]
	if branch.Type != "branch" || branch.Line != 7 || branch.Distance != 0.25 || branch.Invocations != 4 {
		t.Errorf("branch item = %+v", branch)
	}
}

func TestUncoveredBelow(t *testing.T) {
	report := Build("branch", nil, sampleEvaluation(t))

	items := report.UncoveredBelow(50)
	if len(items) != 6 {
		t.Fatalf("len(items) = %d, want 6", len(items))
	}
	if items[0].Type != "class" || items[0].Class != "Calc" || items[0].Distance != 5 {
		t.Errorf("items[0] = %+v", items[0])
	}
}

func TestAnalyze(t *testing.T) {
	report := Build("branch", nil, sampleEvaluation(t))
	result := NewAnalyzer(report).Analyze(80)

	// run is never reached, one branch is missed, lines group into 10-11
	// and 15
	if len(result.Gaps) != 4 {
		t.Fatalf("len(Gaps) = %d, want 4: %+v", len(result.Gaps), result.Gaps)
	}

	tests := []struct {
		typ      string
		priority string
	}{
		{"method", "critical"},
		{"branch", "high"},
		{"block", "low"},
		{"block", "low"},
	}
	for i, tt := range tests {
		if result.Gaps[i].Type != tt.typ || result.Gaps[i].Priority != tt.priority {
			t.Errorf("Gaps[%d] = %s/%s, want %s/%s", i, result.Gaps[i].Type, result.Gaps[i].Priority, tt.typ, tt.priority)
		}
	}

	block := result.Gaps[2]
	if block.StartLine != 10 || block.EndLine != 11 {
		t.Errorf("block = %d-%d, want 10-11", block.StartLine, block.EndLine)
	}
	if result.CriticalGaps != 2 {
		t.Errorf("CriticalGaps = %d, want 2", result.CriticalGaps)
	}
	if result.MeetsTarget() {
		t.Error("MeetsTarget() = true, want false")
	}
	if result.EstimatedEffort != "small" {
		t.Errorf("EstimatedEffort = %s, want small", result.EstimatedEffort)
	}
}

func TestAnalyze_FullCoverage(t *testing.T) {
	report := Build("method", nil, fitness.Evaluation{Coverage: 1})
	result := NewAnalyzer(report).Analyze(100)

	if len(result.Gaps) != 0 {
		t.Errorf("len(Gaps) = %d, want 0", len(result.Gaps))
	}
	if !result.MeetsTarget() {
		t.Error("MeetsTarget() = false, want true")
	}
}

func TestEstimateEffort(t *testing.T) {
	tests := []struct {
		gaps int
		want string
	}{
		{0, "small"},
		{5, "small"},
		{6, "medium"},
		{15, "medium"},
		{30, "large"},
		{31, "extensive"},
	}
	for _, tt := range tests {
		if got := estimateEffort(tt.gaps); got != tt.want {
			t.Errorf("estimateEffort(%d) = %s, want %s", tt.gaps, got, tt.want)
		}
	}
}

func TestWrite(t *testing.T) {
	report := Build("branch", nil, sampleEvaluation(t))

	var text bytes.Buffer
	if err := report.Write(&text, FormatText); err != nil {
		t.Fatalf("Write(text) error = %v", err)
	}
	if !strings.Contains(text.String(), "Coverage:    28.6%") {
		t.Errorf("text report missing coverage line:\n%s", text.String())
	}
	if !strings.Contains(text.String(), "method Calc.run") {
		t.Errorf("text report missing uncovered goal:\n%s", text.String())
	}

	var js bytes.Buffer
	if err := report.Write(&js, FormatJSON); err != nil {
		t.Fatalf("Write(json) error = %v", err)
	}
	var decoded CoverageReport
	if err := json.Unmarshal(js.Bytes(), &decoded); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if decoded.CoveredGoals != 2 {
		t.Errorf("CoveredGoals = %d, want 2", decoded.CoveredGoals)
	}

	if err := report.Write(&js, "html"); err == nil {
		t.Error("Write(html) should fail")
	}
}

func TestSaveAndLoadReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coverage.json")
	report := Build("branch", nil, sampleEvaluation(t))

	if err := SaveReport(report, path); err != nil {
		t.Fatalf("SaveReport() error = %v", err)
	}
	loaded, err := LoadReport(path)
	if err != nil {
		t.Fatalf("LoadReport() error = %v", err)
	}
	if loaded.TotalGoals != 7 || len(loaded.Uncovered) != 5 {
		t.Errorf("loaded = %d goals, %d uncovered", loaded.TotalGoals, len(loaded.Uncovered))
	}

	if _, err := LoadReport(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("LoadReport() of a missing file should fail")
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
