package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/COMRADE-APP/authcore"
)

type fakeSource struct {
	snapshot authcore.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authcore.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func TestRenderIncludesCounterAndHistogram(t *testing.T) {
	var snap authcore.MetricsSnapshot
	snap.Counters[authcore.MetricLoginSuccess] = 7
	snap.ValidateLatency.Buckets = [8]uint64{1, 2, 3, 4, 5, 6, 7, 8}
	snap.ValidateLatency.SumNs = 4_000_000
	snap.ValidateLatency.Count = 36
	snap.HistogramsOn = true

	out := Render(fakeSource{snapshot: snap, dropped: 2})
	if !strings.Contains(out, "authcore_login_success_total 7") {
		t.Fatalf("expected login success counter in output, got:\n%s", out)
	}
	if !strings.Contains(out, "authcore_validate_latency_ms_bucket{le=\"5\"} 1") {
		t.Fatalf("expected first histogram bucket in output, got:\n%s", out)
	}
	if !strings.Contains(out, "authcore_validate_latency_ms_bucket{le=\"+Inf\"} 36") {
		t.Fatalf("expected +Inf cumulative bucket in output, got:\n%s", out)
	}
	if !strings.Contains(out, "authcore_validate_latency_ms_count 36") {
		t.Fatalf("expected histogram count in output, got:\n%s", out)
	}
	if !strings.Contains(out, "authcore_audit_dropped_total 2") {
		t.Fatalf("expected audit dropped counter in output, got:\n%s", out)
	}
}

func TestRenderSkipsHistogramWhenDisabled(t *testing.T) {
	out := Render(fakeSource{})
	if strings.Contains(out, "authcore_validate_latency_ms") {
		t.Fatalf("expected no histogram lines when disabled, got:\n%s", out)
	}
	if !strings.Contains(out, "authcore_login_success_total 0") {
		t.Fatalf("expected zero counters to still render, got:\n%s", out)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler(fakeSource{}).ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
