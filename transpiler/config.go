package transpiler

import (
	"github.com/posthog/ftexpose/catalog"
)

// Config controls transpilation behavior
type Config struct {
	// Catalog resolves relation names during analysis and backs the
	// foreign-table exposer's pg_class detection.
	Catalog catalog.Catalog

	// SearchPath is used for unqualified relation names after pg_catalog.
	SearchPath []string

	// ExposeForeignTables installs the foreign-table exposer hook, which
	// adds 'f' to pg_class relkind filters that ask for ordinary tables.
	ExposeForeignTables bool
}

// DefaultConfig returns a Config backed by the builtin system catalogs.
func DefaultConfig() Config {
	return Config{
		Catalog:             catalog.Builtin(),
		SearchPath:          []string{catalog.PublicNamespace},
		ExposeForeignTables: true,
	}
}

// Result contains the output of transpilation
type Result struct {
	// SQL is the SQL to send upstream. It is the input, byte for byte,
	// unless Changed is set.
	SQL string

	// Changed is true when a transform rewrote at least one statement and
	// SQL is the deparsed tree.
	Changed bool

	// ParseFailed is true when the input could not be parsed and was passed
	// through untouched.
	ParseFailed bool

	// AnalysisErrors lists statements that were passed through because they
	// could not be analyzed.
	AnalysisErrors []error
}
