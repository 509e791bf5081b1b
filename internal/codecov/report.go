// Package codecov summarizes the goal coverage of a generated suite and
// ranks what is left uncovered.
package codecov

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/QTest-hq/qsearch/internal/fitness"
	"github.com/QTest-hq/qsearch/internal/goals"
	"github.com/QTest-hq/qsearch/internal/testcase"
)

// CoverageReport holds the goal coverage of one suite
type CoverageReport struct {
	Timestamp    time.Time       `json:"timestamp"`
	Criterion    string          `json:"criterion"`
	TotalGoals   int             `json:"total_goals"`
	CoveredGoals int             `json:"covered_goals"`
	Percentage   float64         `json:"percentage"`
	Fitness      float64         `json:"fitness"`
	Tests        int             `json:"tests"`
	Statements   int             `json:"statements"`
	Classes      []ClassCoverage `json:"classes"`
	Uncovered    []UncoveredItem `json:"uncovered"`
}

// ClassCoverage holds coverage data for a single class
type ClassCoverage struct {
	Class          string  `json:"class"`
	TotalGoals     int     `json:"total_goals"`
	CoveredGoals   int     `json:"covered_goals"`
	Percentage     float64 `json:"percentage"`
	UncoveredLines []int   `json:"uncovered_lines,omitempty"`
}

// UncoveredItem is one goal the suite missed
type UncoveredItem struct {
	Class       string  `json:"class"`
	Method      string  `json:"method"`
	Line        int     `json:"line,omitempty"`
	Type        string  `json:"type"` // "method", "line", "branch"
	Name        string  `json:"name"`
	Context     string  `json:"context,omitempty"`
	Distance    float64 `json:"distance"`
	Invocations int     `json:"invocations"`
}

// Build creates a report from a suite and its evaluation
func Build(criterion string, suite *testcase.Suite, eval fitness.Evaluation) *CoverageReport {
	report := &CoverageReport{
		Timestamp:    time.Now(),
		Criterion:    criterion,
		TotalGoals:   eval.Total,
		CoveredGoals: eval.Covered,
		Percentage:   eval.Coverage * 100,
		Fitness:      eval.Fitness,
		Classes:      make([]ClassCoverage, 0),
		Uncovered:    make([]UncoveredItem, 0),
	}
	if suite != nil {
		report.Tests = suite.Size()
		report.Statements = suite.TotalStatements()
	}

	classMap := make(map[string]*ClassCoverage)
	for _, s := range eval.Scores {
		g := s.Goal
		cc, ok := classMap[g.Class()]
		if !ok {
			cc = &ClassCoverage{Class: g.Class()}
			classMap[g.Class()] = cc
		}
		cc.TotalGoals++
		if s.Covered {
			cc.CoveredGoals++
			continue
		}

		item := UncoveredItem{
			Class:       g.Class(),
			Method:      g.Method(),
			Type:        g.Kind().String(),
			Name:        g.String(),
			Distance:    s.Contribution,
			Invocations: s.Count,
		}
		if g.IsContextSensitive() {
			item.Context = g.Context().String()
		}
		switch g.Kind() {
		case goals.KindLine:
			item.Line = g.Key().Line
			cc.UncoveredLines = append(cc.UncoveredLines, item.Line)
		case goals.KindBranch:
			item.Line = g.Key().Line
		}
		report.Uncovered = append(report.Uncovered, item)
	}

	for _, cc := range classMap {
		if cc.TotalGoals > 0 {
			cc.Percentage = float64(cc.CoveredGoals) / float64(cc.TotalGoals) * 100
		}
		sort.Ints(cc.UncoveredLines)
		report.Classes = append(report.Classes, *cc)
	}
	sort.Slice(report.Classes, func(i, j int) bool {
		return report.Classes[i].Class < report.Classes[j].Class
	})

	return report
}

// UncoveredBelow returns one item per class under the threshold percentage,
// followed by every uncovered goal
func (r *CoverageReport) UncoveredBelow(threshold float64) []UncoveredItem {
	var uncovered []UncoveredItem

	for _, cc := range r.Classes {
		if cc.Percentage < threshold {
			uncovered = append(uncovered, UncoveredItem{
				Class:    cc.Class,
				Type:     "class",
				Name:     cc.Class,
				Distance: float64(cc.TotalGoals - cc.CoveredGoals),
			})
		}
	}

	uncovered = append(uncovered, r.Uncovered...)
	return uncovered
}

// ReportFormat represents the output format for coverage reports
type ReportFormat string

const (
	FormatJSON ReportFormat = "json"
	FormatText ReportFormat = "text"
)

// Write renders the report in the given format
func (r *CoverageReport) Write(w io.Writer, format ReportFormat) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatText:
		_, err := w.Write(r.text())
		return err
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func (r *CoverageReport) text() []byte {
	var buf bytes.Buffer

	buf.WriteString("================================================================================\n")
	buf.WriteString("                            GOAL COVERAGE REPORT\n")
	buf.WriteString("================================================================================\n\n")

	buf.WriteString(fmt.Sprintf("Criterion:   %s\n", r.Criterion))
	buf.WriteString(fmt.Sprintf("Generated:   %s\n\n", r.Timestamp.Format("2006-01-02 15:04:05")))

	buf.WriteString("SUMMARY\n")
	buf.WriteString("-------\n")
	buf.WriteString(fmt.Sprintf("  Goals:       %d\n", r.TotalGoals))
	buf.WriteString(fmt.Sprintf("  Covered:     %d\n", r.CoveredGoals))
	buf.WriteString(fmt.Sprintf("  Coverage:    %.1f%%\n", r.Percentage))
	buf.WriteString(fmt.Sprintf("  Fitness:     %.4f\n", r.Fitness))
	buf.WriteString(fmt.Sprintf("  Tests:       %d\n", r.Tests))
	buf.WriteString(fmt.Sprintf("  Statements:  %d\n\n", r.Statements))

	if len(r.Classes) > 0 {
		buf.WriteString("CLASSES\n")
		buf.WriteString("-------\n")
		for _, cc := range r.Classes {
			buf.WriteString(fmt.Sprintf("  %-20s %3d/%-3d %5.1f%%\n", cc.Class, cc.CoveredGoals, cc.TotalGoals, cc.Percentage))
		}
		buf.WriteString("\n")
	}

	if len(r.Uncovered) > 0 {
		buf.WriteString("UNCOVERED GOALS\n")
		buf.WriteString("---------------\n\n")
		for _, item := range r.Uncovered {
			buf.WriteString(fmt.Sprintf("[✗] %s\n", item.Name))
			buf.WriteString(fmt.Sprintf("    Distance:    %.4f\n", item.Distance))
			buf.WriteString(fmt.Sprintf("    Invocations: %d\n", item.Invocations))
			buf.WriteString("\n")
		}
	}

	buf.WriteString("================================================================================\n")
	return buf.Bytes()
}

// SaveReport saves a coverage report to file
func SaveReport(report *CoverageReport, outputPath string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, data, 0644)
}

// LoadReport loads a saved coverage report
func LoadReport(path string) (*CoverageReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var report CoverageReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, err
	}

	return &report, nil
}
