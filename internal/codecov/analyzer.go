package codecov

import (
	"sort"
)

// Analyzer analyzes a coverage report and ranks what the search missed
type Analyzer struct {
	report *CoverageReport
}

// NewAnalyzer creates a coverage analyzer
func NewAnalyzer(report *CoverageReport) *Analyzer {
	return &Analyzer{report: report}
}

// CoverageGap represents a gap in goal coverage
type CoverageGap struct {
	Class     string  `json:"class"`
	Method    string  `json:"method"`
	StartLine int     `json:"start_line,omitempty"`
	EndLine   int     `json:"end_line,omitempty"`
	Type      string  `json:"type"` // "method", "branch", "block"
	Name      string  `json:"name"`
	Priority  string  `json:"priority"` // "critical", "high", "medium", "low"
	Reason    string  `json:"reason"`
	Distance  float64 `json:"distance"`
}

// AnalysisResult holds the coverage analysis results
type AnalysisResult struct {
	TotalCoverage   float64       `json:"total_coverage"`
	TargetCoverage  float64       `json:"target_coverage"`
	Gaps            []CoverageGap `json:"gaps"`
	CriticalGaps    int           `json:"critical_gaps"`
	EstimatedEffort string        `json:"estimated_effort"`
}

// MeetsTarget reports whether the coverage reached the target percentage
func (r *AnalysisResult) MeetsTarget() bool {
	return r.TotalCoverage >= r.TargetCoverage
}

// Analyze performs coverage gap analysis
func (a *Analyzer) Analyze(targetCoverage float64) *AnalysisResult {
	result := &AnalysisResult{
		TotalCoverage:  a.report.Percentage,
		TargetCoverage: targetCoverage,
		Gaps:           make([]CoverageGap, 0),
	}

	result.Gaps = append(result.Gaps, a.findUnreachedMethods()...)
	result.Gaps = append(result.Gaps, a.findMissedBranches()...)
	result.Gaps = append(result.Gaps, a.findUncoveredBlocks()...)

	a.prioritizeGaps(result.Gaps)

	// highest priority first, closest to covered first within a priority
	sort.SliceStable(result.Gaps, func(i, j int) bool {
		pi, pj := priorityValue(result.Gaps[i].Priority), priorityValue(result.Gaps[j].Priority)
		if pi != pj {
			return pi > pj
		}
		return result.Gaps[i].Distance < result.Gaps[j].Distance
	})

	for _, gap := range result.Gaps {
		if gap.Priority == "critical" || gap.Priority == "high" {
			result.CriticalGaps++
		}
	}

	result.EstimatedEffort = estimateEffort(len(result.Gaps))
	return result
}

// findUnreachedMethods reports each method that no test invoked, once
func (a *Analyzer) findUnreachedMethods() []CoverageGap {
	var gaps []CoverageGap
	seen := make(map[string]bool)

	for _, item := range a.report.Uncovered {
		if item.Invocations > 0 || item.Type == "line" {
			continue
		}
		key := item.Class + "." + item.Method + "@" + item.Context
		if seen[key] {
			continue
		}
		seen[key] = true

		name := item.Class + "." + item.Method
		if item.Context != "" {
			name += " @ " + item.Context
		}
		gaps = append(gaps, CoverageGap{
			Class:    item.Class,
			Method:   item.Method,
			Type:     "method",
			Name:     name,
			Distance: item.Distance,
			Reason:   "Method is never reached by the suite",
		})
	}

	return gaps
}

// findMissedBranches reports branch outcomes whose predicate ran but never
// took the required outcome
func (a *Analyzer) findMissedBranches() []CoverageGap {
	var gaps []CoverageGap

	for _, item := range a.report.Uncovered {
		if item.Type != "branch" || item.Invocations == 0 {
			continue
		}
		gaps = append(gaps, CoverageGap{
			Class:     item.Class,
			Method:    item.Method,
			StartLine: item.Line,
			EndLine:   item.Line,
			Type:      "branch",
			Name:      item.Name,
			Distance:  item.Distance,
			Reason:    "Branch is evaluated but the outcome is never taken",
		})
	}

	return gaps
}

// findUncoveredBlocks groups uncovered lines of a class into blocks
func (a *Analyzer) findUncoveredBlocks() []CoverageGap {
	var gaps []CoverageGap

	for _, cc := range a.report.Classes {
		if len(cc.UncoveredLines) == 0 {
			continue
		}

		lines := make([]int, len(cc.UncoveredLines))
		copy(lines, cc.UncoveredLines)
		sort.Ints(lines)

		start, end := lines[0], lines[0]
		flush := func() {
			gaps = append(gaps, CoverageGap{
				Class:     cc.Class,
				StartLine: start,
				EndLine:   end,
				Type:      "block",
				Name:      cc.Class,
				Distance:  1,
				Reason:    "Lines not covered by the suite",
			})
		}
		for i := 1; i < len(lines); i++ {
			if lines[i] == end+1 {
				end = lines[i]
				continue
			}
			flush()
			start, end = lines[i], lines[i]
		}
		flush()
	}

	return gaps
}

// prioritizeGaps assigns priorities to coverage gaps
func (a *Analyzer) prioritizeGaps(gaps []CoverageGap) {
	for i := range gaps {
		gap := &gaps[i]

		switch gap.Type {
		case "method":
			// nothing below an unreached method can be covered
			gap.Priority = "critical"

		case "branch":
			if gap.Distance < 0.5 {
				gap.Priority = "high"
			} else {
				gap.Priority = "medium"
			}

		case "block":
			if gap.EndLine-gap.StartLine > 10 {
				gap.Priority = "medium"
			} else {
				gap.Priority = "low"
			}

		default:
			gap.Priority = "low"
		}
	}
}

func priorityValue(priority string) int {
	switch priority {
	case "critical":
		return 4
	case "high":
		return 3
	case "medium":
		return 2
	case "low":
		return 1
	default:
		return 0
	}
}

func estimateEffort(gapCount int) string {
	if gapCount <= 5 {
		return "small"
	} else if gapCount <= 15 {
		return "medium"
	} else if gapCount <= 30 {
		return "large"
	}
	return "extensive"
}
