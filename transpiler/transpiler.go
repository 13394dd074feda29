package transpiler

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"github.com/posthog/ftexpose/analyze"
	"github.com/posthog/ftexpose/exposer"
	"github.com/posthog/ftexpose/transpiler/transform"
)

// Transpiler rewrites client SQL before it is sent to the upstream server.
type Transpiler struct {
	config     Config
	pipeline   *analyze.Pipeline
	exposer    *exposer.Exposer
	transforms []transform.Transform
}

// New creates a Transpiler with the given configuration.
// It builds the analysis pipeline and installs the hooks the config asks for.
func New(cfg Config) *Transpiler {
	if cfg.Catalog == nil {
		cfg.Catalog = DefaultConfig().Catalog
	}

	pipeline := analyze.NewPipeline(analyze.NewAnalyzer(cfg.Catalog, cfg.SearchPath))
	t := &Transpiler{
		config:   cfg,
		pipeline: pipeline,
	}

	if cfg.ExposeForeignTables {
		t.exposer = exposer.Install(pipeline, cfg.Catalog)
	}

	t.transforms = append(t.transforms, transform.NewAnalyzeTransform(pipeline))

	return t
}

// Pipeline returns the analysis pipeline, for installing further hooks.
func (t *Transpiler) Pipeline() *analyze.Pipeline {
	return t.pipeline
}

// Close uninstalls the hooks installed by New.
func (t *Transpiler) Close() {
	if t.exposer != nil {
		t.exposer.Uninstall()
		t.exposer = nil
	}
}

// Transpile rewrites a SQL string. Input that cannot be parsed, or that no
// transform changes, is returned exactly as given.
func (t *Transpiler) Transpile(sql string) (*Result, error) {
	if strings.TrimSpace(sql) == "" {
		return &Result{SQL: sql}, nil
	}

	// Parse the SQL into an AST
	tree, err := pg_query.Parse(sql)
	if err != nil {
		// Let the upstream server produce the syntax error
		return &Result{SQL: sql, ParseFailed: true}, nil
	}

	transformResult := &transform.Result{Source: sql}

	changed := false
	for _, tr := range t.transforms {
		c, err := tr.Transform(tree, transformResult)
		if err != nil {
			return nil, err
		}
		changed = changed || c
	}

	if !changed {
		return &Result{SQL: sql, AnalysisErrors: transformResult.AnalysisErrors}, nil
	}

	// Deparse the modified AST back to SQL
	deparsed, err := pg_query.Deparse(tree)
	if err != nil {
		return nil, err
	}

	return &Result{
		SQL:            deparsed,
		Changed:        true,
		AnalysisErrors: transformResult.AnalysisErrors,
	}, nil
}
