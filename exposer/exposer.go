// Package exposer widens relkind filters on pg_catalog.pg_class so that
// client tools listing tables also list foreign tables.
//
// Tools such as psql's \dt ask for "relkind IN ('r', 'p', ...)" and never
// mention 'f'. The exposer runs as a post-analysis hook and appends 'f' to
// any such array literal that already asks for ordinary tables.
package exposer

import (
	"log/slog"
	"sync"

	"github.com/posthog/ftexpose/analyze"
	"github.com/posthog/ftexpose/catalog"
)

// Exposer is an installed link in a Pipeline's post-analysis hook chain.
type Exposer struct {
	pipeline *analyze.Pipeline
	catalog  catalog.Catalog
	logger   *slog.Logger

	mu        sync.Mutex
	prev      analyze.PostParseAnalyzeHook
	installed bool
}

// Option configures an Exposer.
type Option func(*Exposer)

// WithLogger sets the logger used for rewrite diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Exposer) {
		e.logger = logger
	}
}

// New creates an Exposer that is not yet installed. Use RewriteQuery to
// apply it directly, or Install to hook it into a pipeline.
func New(cat catalog.Catalog, opts ...Option) *Exposer {
	e := &Exposer{catalog: cat, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Install activates the exposer on pipeline, remembering whatever hook was
// installed before so that it keeps running first.
func Install(pipeline *analyze.Pipeline, cat catalog.Catalog, opts ...Option) *Exposer {
	e := New(cat, opts...)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pipeline = pipeline
	e.prev = pipeline.PostParseAnalyzeHook()
	pipeline.SetPostParseAnalyzeHook(e.postParseAnalyze)
	e.installed = true
	return e
}

// Uninstall restores the hook that was installed before Install.
func (e *Exposer) Uninstall() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.installed {
		return
	}
	e.pipeline.SetPostParseAnalyzeHook(e.prev)
	e.prev = nil
	e.installed = false
}

func (e *Exposer) postParseAnalyze(pstate *analyze.ParseState, query *analyze.Query) {
	e.mu.Lock()
	prev := e.prev
	e.mu.Unlock()
	if prev != nil {
		prev(pstate, query)
	}

	if query.UtilityStmt != nil {
		return
	}

	e.RewriteQuery(query)
}
