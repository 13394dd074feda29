package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const namespacesQuery = `SELECT n.oid::int8, n.nspname::text FROM pg_catalog.pg_namespace n`

const relationsQuery = `SELECT c.oid::int8, c.relname::text, c.relnamespace::int8, c.relkind::text,
       coalesce(array_agg(a.attname::text ORDER BY a.attnum) FILTER (WHERE a.attnum IS NOT NULL), '{}'),
       coalesce(array_agg(a.atttypid::int8 ORDER BY a.attnum) FILTER (WHERE a.attnum IS NOT NULL), '{}')
FROM pg_catalog.pg_class c
LEFT JOIN pg_catalog.pg_attribute a
       ON a.attrelid = c.oid AND a.attnum > 0 AND NOT a.attisdropped
WHERE c.relkind IN ('r', 'v', 'm', 'f', 'p')
GROUP BY c.oid, c.relname, c.relnamespace, c.relkind`

// PgLoader reads pg_namespace, pg_class and pg_attribute from an upstream
// PostgreSQL server.
type PgLoader struct {
	pool *pgxpool.Pool
}

func NewPgLoader(pool *pgxpool.Pool) *PgLoader {
	return &PgLoader{pool: pool}
}

// Load implements Loader.
func (l *PgLoader) Load(ctx context.Context) (*Snapshot, error) {
	rows, err := l.pool.Query(ctx, namespacesQuery)
	if err != nil {
		return nil, fmt.Errorf("query pg_namespace: %w", err)
	}
	namespaces, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Namespace, error) {
		var oid int64
		var ns Namespace
		if err := row.Scan(&oid, &ns.Name); err != nil {
			return ns, err
		}
		ns.Oid = Oid(oid)
		return ns, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan pg_namespace: %w", err)
	}

	rows, err = l.pool.Query(ctx, relationsQuery)
	if err != nil {
		return nil, fmt.Errorf("query pg_class: %w", err)
	}
	relations, err := pgx.CollectRows(rows, scanRelation)
	if err != nil {
		return nil, fmt.Errorf("scan pg_class: %w", err)
	}

	return NewSnapshot(namespaces, relations), nil
}

func scanRelation(row pgx.CollectableRow) (Relation, error) {
	var (
		rel         Relation
		oid, nspOid int64
		kind        string
		colNames    []string
		colTypeOids []int64
	)
	if err := row.Scan(&oid, &rel.Name, &nspOid, &kind, &colNames, &colTypeOids); err != nil {
		return rel, err
	}
	if len(colNames) != len(colTypeOids) {
		return rel, fmt.Errorf("relation %q: %d column names but %d types", rel.Name, len(colNames), len(colTypeOids))
	}
	rel.Oid = Oid(oid)
	rel.Namespace = Oid(nspOid)
	if kind != "" {
		rel.Kind = kind[0]
	}
	rel.Columns = make([]Column, len(colNames))
	for i, name := range colNames {
		rel.Columns[i] = Column{Name: name, TypeOid: Oid(colTypeOids[i])}
	}
	return rel, nil
}
