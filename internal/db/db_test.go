package db

import (
	"errors"
	"strings"
	"testing"

	"github.com/QTest-hq/qsearch/internal/ga"
)

func TestDB_Pool_Nil(t *testing.T) {
	db := &DB{pool: nil}

	pool := db.Pool()
	if pool != nil {
		t.Error("Pool() should return nil when pool is nil")
	}
}

func TestResultFromStatus(t *testing.T) {
	status := ga.Status{
		Algorithm:  "mapelites",
		Iteration:  12,
		Executions: 340,
		Covered:    5,
		Total:      8,
		Coverage:   0.625,
		Fitness:    2.5,
	}

	tests := []struct {
		name       string
		err        error
		cancelled  bool
		wantStatus string
	}{
		{"completed", nil, false, StatusCompleted},
		{"cancelled", nil, true, StatusCancelled},
		{"failed", errors.New("boom"), false, StatusFailed},
		{"failure wins over cancel", errors.New("boom"), true, StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ResultFromStatus(status, tt.err, tt.cancelled)
			if r.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s", r.Status, tt.wantStatus)
			}
			if r.Iterations != 12 || r.Executions != 340 {
				t.Errorf("Iterations/Executions = %d/%d, want 12/340", r.Iterations, r.Executions)
			}
			if r.Covered != 5 || r.Total != 8 || r.Coverage != 0.625 || r.Fitness != 2.5 {
				t.Errorf("summary = %+v", r)
			}
			if !errors.Is(r.Err, tt.err) {
				t.Errorf("Err = %v, want %v", r.Err, tt.err)
			}
		})
	}
}

func TestSchema_DefinesRunTable(t *testing.T) {
	for _, col := range []string{"search_runs", "criteria TEXT[]", "report JSONB", "completed_at"} {
		if !strings.Contains(Schema, col) {
			t.Errorf("Schema missing %q", col)
		}
	}
}
