package server

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/posthog/ftexpose/transpiler"
)

// counterMetricValue sums a counter family, optionally restricted to series
// carrying the given label pairs. A family with no series yet reads as 0.
func counterMetricValue(t *testing.T, metricName string, labels ...string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != metricName {
			continue
		}
		if fam.GetType() != dto.MetricType_COUNTER {
			t.Fatalf("metric %q is not a counter", metricName)
		}
		var total float64
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				total += metric.GetCounter().GetValue()
			}
		}
		return total
	}
	return 0
}

func hasLabels(metric *dto.Metric, pairs []string) bool {
	for i := 0; i+1 < len(pairs); i += 2 {
		found := false
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == pairs[i] && lp.GetValue() == pairs[i+1] {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	return true
}

type stubRewriter struct {
	result *transpiler.Result
	err    error
}

func (s stubRewriter) Transpile(string) (*transpiler.Result, error) {
	return s.result, s.err
}

func newTestServer(t *testing.T, rw Rewriter) *Server {
	t.Helper()
	srv, err := New(Config{Upstream: "127.0.0.1:1"}, rw)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

func TestRewriteMetrics(t *testing.T) {
	const sql = "SELECT relname FROM pg_class WHERE relkind IN ('r')"

	t.Run("rewritten", func(t *testing.T) {
		srv := newTestServer(t, stubRewriter{result: &transpiler.Result{SQL: "rewritten", Changed: true}})
		seen := counterMetricValue(t, "ftexpose_statements_total", "message", "Q")
		before := counterMetricValue(t, "ftexpose_statements_rewritten_total", "message", "Q")

		if got := srv.rewrite("Q", sql); got != "rewritten" {
			t.Errorf("rewrite() = %q, want %q", got, "rewritten")
		}
		if d := counterMetricValue(t, "ftexpose_statements_total", "message", "Q") - seen; d != 1 {
			t.Errorf("statements delta = %v, want 1", d)
		}
		if d := counterMetricValue(t, "ftexpose_statements_rewritten_total", "message", "Q") - before; d != 1 {
			t.Errorf("rewritten delta = %v, want 1", d)
		}
	})

	t.Run("unchanged", func(t *testing.T) {
		srv := newTestServer(t, stubRewriter{result: &transpiler.Result{SQL: "deparsed"}})
		before := counterMetricValue(t, "ftexpose_statements_rewritten_total", "message", "P")

		if got := srv.rewrite("P", sql); got != sql {
			t.Errorf("rewrite() = %q, want original", got)
		}
		if d := counterMetricValue(t, "ftexpose_statements_rewritten_total", "message", "P") - before; d != 0 {
			t.Errorf("rewritten delta = %v, want 0", d)
		}
	})

	t.Run("parse failure", func(t *testing.T) {
		srv := newTestServer(t, stubRewriter{result: &transpiler.Result{SQL: sql, ParseFailed: true}})
		before := counterMetricValue(t, "ftexpose_parse_fallbacks_total")

		if got := srv.rewrite("Q", sql); got != sql {
			t.Errorf("rewrite() = %q, want original", got)
		}
		if d := counterMetricValue(t, "ftexpose_parse_fallbacks_total") - before; d != 1 {
			t.Errorf("parse fallbacks delta = %v, want 1", d)
		}
	})

	t.Run("analysis errors", func(t *testing.T) {
		srv := newTestServer(t, stubRewriter{result: &transpiler.Result{
			SQL:            sql,
			AnalysisErrors: []error{errors.New("a"), errors.New("b")},
		}})
		before := counterMetricValue(t, "ftexpose_analysis_errors_total")

		srv.rewrite("Q", sql)
		if d := counterMetricValue(t, "ftexpose_analysis_errors_total") - before; d != 2 {
			t.Errorf("analysis errors delta = %v, want 2", d)
		}
	})

	t.Run("rewriter error", func(t *testing.T) {
		srv := newTestServer(t, stubRewriter{err: errors.New("deparse failed")})
		before := counterMetricValue(t, "ftexpose_rewrite_errors_total")

		if got := srv.rewrite("Q", sql); got != sql {
			t.Errorf("rewrite() = %q, want original", got)
		}
		if d := counterMetricValue(t, "ftexpose_rewrite_errors_total") - before; d != 1 {
			t.Errorf("rewrite errors delta = %v, want 1", d)
		}
	})
}

func TestRewriteSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	ok := newTestServer(t, stubRewriter{result: &transpiler.Result{SQL: "rewritten", Changed: true}})
	ok.rewrite("Q", "SELECT 1")
	failing := newTestServer(t, stubRewriter{err: errors.New("deparse failed")})
	failing.rewrite("P", "SELECT 1")

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}
	for _, span := range spans {
		if span.Name() != "ftexpose.rewrite" {
			t.Errorf("span name = %q, want %q", span.Name(), "ftexpose.rewrite")
		}
	}

	attrs := attribute.NewSet(spans[0].Attributes()...)
	if v, found := attrs.Value("ftexpose.changed"); !found || !v.AsBool() {
		t.Errorf("ftexpose.changed = %v, want true", v.Emit())
	}
	if v, found := attrs.Value("pg.message"); !found || v.AsString() != "Q" {
		t.Errorf("pg.message = %q, want %q", v.Emit(), "Q")
	}
	if spans[1].Status().Code != codes.Error {
		t.Errorf("failed rewrite status = %v, want Error", spans[1].Status().Code)
	}
}

func TestNewRequiresRewriter(t *testing.T) {
	if _, err := New(Config{Upstream: "127.0.0.1:5432"}, nil); err == nil {
		t.Error("New() error = nil, want error for missing rewriter")
	}
}
