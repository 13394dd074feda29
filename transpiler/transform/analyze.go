package transform

import (
	"log/slog"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"github.com/posthog/ftexpose/analyze"
)

// AnalyzeTransform runs every statement through an analysis pipeline, so
// that post-analysis hooks installed on it get to rewrite the statement.
type AnalyzeTransform struct {
	pipeline *analyze.Pipeline
}

func NewAnalyzeTransform(pipeline *analyze.Pipeline) *AnalyzeTransform {
	return &AnalyzeTransform{pipeline: pipeline}
}

func (t *AnalyzeTransform) Name() string {
	return "analyze"
}

func (t *AnalyzeTransform) Transform(tree *pg_query.ParseResult, result *Result) (bool, error) {
	changed := false

	for _, stmt := range tree.Stmts {
		if stmt.Stmt == nil {
			continue
		}

		q, err := t.pipeline.Analyze(stmt, result.Source)
		if err != nil {
			// The upstream server reports real errors; we just don't rewrite.
			slog.Debug("Statement analysis failed, leaving it unchanged.", "error", err)
			result.AnalysisErrors = append(result.AnalysisErrors, err)
			continue
		}
		if q.Modified() {
			changed = true
		}
	}

	return changed, nil
}
