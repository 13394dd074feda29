package transform

import (
	"testing"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"github.com/posthog/ftexpose/analyze"
	"github.com/posthog/ftexpose/catalog"
)

func TestAnalyzeTransform(t *testing.T) {
	pipeline := analyze.NewPipeline(analyze.NewAnalyzer(catalog.Builtin(), nil))

	var sources []string
	pipeline.SetPostParseAnalyzeHook(func(pstate *analyze.ParseState, q *analyze.Query) {
		sources = append(sources, pstate.SourceText)
	})

	sql := "SELECT 1; SELECT * FROM missing; SHOW search_path"
	tree, err := pg_query.Parse(sql)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	tr := NewAnalyzeTransform(pipeline)
	if tr.Name() != "analyze" {
		t.Errorf("Name() = %q", tr.Name())
	}

	result := &Result{Source: sql}
	changed, err := tr.Transform(tree, result)
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	if changed {
		t.Error("Transform() reported a change with no rewriting hook")
	}
	if len(sources) != 2 {
		t.Fatalf("hook ran %d times, want 2", len(sources))
	}
	for _, s := range sources {
		if s != sql {
			t.Errorf("SourceText = %q, want %q", s, sql)
		}
	}
	if len(result.AnalysisErrors) != 1 {
		t.Errorf("AnalysisErrors = %v, want 1 error", result.AnalysisErrors)
	}
}
