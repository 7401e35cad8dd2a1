package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.CycleCompleted()
	m.CycleError()
	m.Refreshed()
	m.RefreshFailed()
	m.ChunkFailed(2)
	m.SetCandidates(3)
	m.SetEligible(1)
	m.Submission("primary", "success")
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := Init()
	if Init() != m {
		t.Fatalf("Init should be idempotent")
	}
	m.CycleCompleted()
	m.Submission("fallback", "failed")

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()
	for _, want := range []string{
		"comet_liquidator_cycles_total 1",
		`comet_liquidator_submissions_total{outcome="failed",strategy="fallback"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
