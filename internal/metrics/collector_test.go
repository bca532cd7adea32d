package metrics

import (
	"math"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounterRender(t *testing.T) {
	c := NewCollector()
	ctr := c.Counter("bridgebot_test_total", "test counter", "")
	ctr.Inc()
	ctr.Add(2)

	out := c.Render()
	if !strings.Contains(out, "# TYPE bridgebot_test_total counter") {
		t.Fatalf("missing TYPE line:\n%s", out)
	}
	if !strings.Contains(out, "bridgebot_test_total 3") {
		t.Fatalf("missing sample:\n%s", out)
	}
}

func TestCounterLabels(t *testing.T) {
	c := NewCollector()
	c.Counter("bridgebot_errs_total", "errs", `kind="timeout"`).Inc()
	c.Counter("bridgebot_errs_total", "errs", `kind="unreachable"`).Add(2)

	out := c.Render()
	if !strings.Contains(out, `bridgebot_errs_total{kind="timeout"} 1`) {
		t.Fatalf("missing timeout sample:\n%s", out)
	}
	if !strings.Contains(out, `bridgebot_errs_total{kind="unreachable"} 2`) {
		t.Fatalf("missing unreachable sample:\n%s", out)
	}
	if strings.Count(out, "# TYPE bridgebot_errs_total counter") != 1 {
		t.Fatalf("TYPE line should appear once:\n%s", out)
	}
}

func TestCounterReuse(t *testing.T) {
	c := NewCollector()
	a := c.Counter("bridgebot_x_total", "x", "")
	b := c.Counter("bridgebot_x_total", "x", "")
	if a != b {
		t.Fatal("same name and labels should return the same counter")
	}
}

func TestGauge(t *testing.T) {
	c := NewCollector()
	g := c.Gauge("bridgebot_active", "active", "")
	g.Set(5)
	g.Dec()
	if g.Value() != 4 {
		t.Fatalf("Value() = %d, want 4", g.Value())
	}
	if !strings.Contains(c.Render(), "bridgebot_active 4") {
		t.Fatal("gauge sample missing")
	}
}

func TestHistogramBuckets(t *testing.T) {
	c := NewCollector()
	h := c.Histogram("bridgebot_latency_seconds", "latency", "", []float64{1, 5, math.Inf(1)})
	h.Observe(0.5)
	h.Observe(3)
	h.Observe(30)

	out := c.Render()
	for _, want := range []string{
		`bridgebot_latency_seconds_bucket{le="1"} 1`,
		`bridgebot_latency_seconds_bucket{le="5"} 2`,
		`bridgebot_latency_seconds_bucket{le="+Inf"} 3`,
		"bridgebot_latency_seconds_count 3",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q:\n%s", want, out)
		}
	}
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	c.Counter("bridgebot_h_total", "h", "").Inc()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	c.Handler()(rec, req)

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "bridgebot_h_total 1") {
		t.Fatalf("body missing sample:\n%s", rec.Body.String())
	}
}
