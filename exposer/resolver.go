package exposer

import (
	"github.com/posthog/ftexpose/analyze"
	"github.com/posthog/ftexpose/catalog"
)

const (
	pgClassName   = "pg_class"
	relkindColumn = "relkind"
)

// resolveRelKindColumn reports the 1-based position of relkind in rte's
// column list when rte is pg_catalog.pg_class. Anything that cannot be
// resolved is simply not a target.
func (e *Exposer) resolveRelKindColumn(rte *analyze.RangeTblEntry) (int, bool) {
	if rte.Kind != analyze.RTERelation || rte.Eref == nil {
		return 0, false
	}

	rel, ok := e.catalog.RelationByOid(rte.Relid)
	if !ok {
		return 0, false
	}
	ns, ok := e.catalog.NamespaceByOid(rel.Namespace)
	if !ok {
		return 0, false
	}
	if ns.Name != catalog.PgCatalogNamespace || rel.Name != pgClassName {
		return 0, false
	}
	e.logger.Debug("Found pg_catalog.pg_class.")

	for i, name := range rte.Eref.Colnames {
		if name == relkindColumn {
			return i + 1, true
		}
	}
	return 0, false
}
