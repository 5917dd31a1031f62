package reporting

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestPredefinedMeasures(t *testing.T) {
	seen := map[string]bool{}
	for _, m := range PredefinedMeasures {
		if seen[m.ID] {
			t.Errorf("duplicate measure id %s", m.ID)
		}
		seen[m.ID] = true
		if m.Name == "" || m.Description == "" || m.SQL == "" {
			t.Errorf("measure %s is incomplete", m.ID)
		}
		if !strings.Contains(m.SQL, "$1") || !strings.Contains(m.SQL, "$2") {
			t.Errorf("measure %s must accept the date window", m.ID)
		}
	}
}

func TestFindMeasure(t *testing.T) {
	m := FindMeasure("monthly-billed")
	if m == nil || m.Name != "Monthly Billed" {
		t.Fatalf("unexpected measure %+v", m)
	}
	if FindMeasure("nonexistent") != nil {
		t.Error("expected nil for unknown measure")
	}
}

type fakeEvaluator struct {
	from, to *time.Time
	err      error
}

func (f *fakeEvaluator) Evaluate(_ context.Context, m *MeasureDefinition, from, to *time.Time) (*MeasureReport, error) {
	f.from, f.to = from, to
	if f.err != nil {
		return nil, f.err
	}
	return &MeasureReport{MeasureID: m.ID, Results: []map[string]interface{}{}}, nil
}

func evaluate(t *testing.T, ev evaluator, id, query string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?"+query, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id)
	return rec, NewHandler(ev).EvaluateMeasure(c)
}

func TestEvaluateMeasure(t *testing.T) {
	ev := &fakeEvaluator{}
	rec, err := evaluate(t, ev, "invoice-status-breakdown", "from=2026-01-01&to=2026-02-01T00:00:00Z")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if ev.from == nil || ev.from.Month() != time.January || ev.to == nil || ev.to.Month() != time.February {
		t.Errorf("unexpected window %v %v", ev.from, ev.to)
	}
}

func TestEvaluateMeasure_Errors(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		query  string
		ev     *fakeEvaluator
		status int
	}{
		{"unknown measure", "nope", "", &fakeEvaluator{}, http.StatusNotFound},
		{"bad from", "monthly-billed", "from=yesterday", &fakeEvaluator{}, http.StatusBadRequest},
		{"inverted window", "monthly-billed", "from=2026-02-01&to=2026-01-01", &fakeEvaluator{}, http.StatusBadRequest},
		{"query failure", "monthly-billed", "", &fakeEvaluator{err: errors.New("boom")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := evaluate(t, tt.ev, tt.id, tt.query)
			he, ok := err.(*echo.HTTPError)
			if !ok {
				t.Fatalf("expected HTTPError, got %v", err)
			}
			if he.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, he.Code)
			}
		})
	}
}
