package analyze

import (
	"sync"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// ParseState is the analysis context handed to post-analysis hooks.
type ParseState struct {
	SourceText string
}

// PostParseAnalyzeHook runs after a statement has been analyzed and may
// mutate the Query in place.
type PostParseAnalyzeHook func(pstate *ParseState, query *Query)

// Pipeline runs analysis and then the installed post-analysis hook. The
// hook slot holds a single delegate; hooks that want to chain save the
// previous value when installing themselves.
type Pipeline struct {
	analyzer *Analyzer

	mu   sync.RWMutex
	hook PostParseAnalyzeHook
}

func NewPipeline(analyzer *Analyzer) *Pipeline {
	return &Pipeline{analyzer: analyzer}
}

// PostParseAnalyzeHook returns the currently installed hook, or nil.
func (p *Pipeline) PostParseAnalyzeHook() PostParseAnalyzeHook {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.hook
}

// SetPostParseAnalyzeHook replaces the installed hook.
func (p *Pipeline) SetPostParseAnalyzeHook(hook PostParseAnalyzeHook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hook = hook
}

// Analyze analyzes raw and hands the result to the installed hook.
func (p *Pipeline) Analyze(raw *pg_query.RawStmt, sourceText string) (*Query, error) {
	q, err := p.analyzer.Analyze(raw)
	if err != nil {
		return nil, err
	}
	if hook := p.PostParseAnalyzeHook(); hook != nil {
		hook(&ParseState{SourceText: sourceText}, q)
	}
	return q, nil
}
