package transform

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Result holds transpilation metadata that transforms can modify.
// This is passed through all transforms to accumulate information.
type Result struct {
	// Source is the SQL text the tree was parsed from. Transforms read it
	// but never change it.
	Source string

	// AnalysisErrors collects statements that could not be analyzed. Those
	// statements are left exactly as parsed.
	AnalysisErrors []error
}

// Transform defines the interface for SQL transformations.
// Each transform modifies the AST in place and can set result metadata.
type Transform interface {
	// Name returns the transform identifier for logging/debugging
	Name() string

	// Transform modifies the AST in place.
	// Returns true if any changes were made.
	Transform(tree *pg_query.ParseResult, result *Result) (changed bool, err error)
}
