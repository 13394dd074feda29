package catalog

import (
	"strings"
)

// Oid is a PostgreSQL object identifier.
type Oid uint32

const InvalidOid Oid = 0

// Type OIDs the analyzer needs to type constants and columns.
const (
	BoolOID       Oid = 16
	CharOID       Oid = 18
	NameOID       Oid = 19
	Int8OID       Oid = 20
	Int2OID       Oid = 21
	Int4OID       Oid = 23
	RegprocOID    Oid = 24
	TextOID       Oid = 25
	OidOID        Oid = 26
	XidOID        Oid = 28
	PgNodeTreeOID Oid = 194
	Float4OID     Oid = 700
	Float8OID     Oid = 701
	UnknownOID    Oid = 705
	AclitemArrOID Oid = 1034
	TextArrOID    Oid = 1009
	CharArrOID    Oid = 1002
	BpcharOID     Oid = 1042
	VarcharOID    Oid = 1043
	NumericOID    Oid = 1700
	RegclassOID   Oid = 2205
)

// pg_class.relkind codes.
const (
	RelKindRelation         byte = 'r'
	RelKindIndex            byte = 'i'
	RelKindSequence         byte = 'S'
	RelKindToastValue       byte = 't'
	RelKindView             byte = 'v'
	RelKindMatView          byte = 'm'
	RelKindCompositeType    byte = 'c'
	RelKindForeignTable     byte = 'f'
	RelKindPartitionedTable byte = 'p'
	RelKindPartitionedIndex byte = 'I'
)

// Well-known schema names.
const (
	PgCatalogNamespace         = "pg_catalog"
	InformationSchemaNamespace = "information_schema"
	PublicNamespace            = "public"
)

// Namespace is a row of pg_namespace.
type Namespace struct {
	Oid  Oid
	Name string
}

// Column is one attribute of a relation, in attnum order.
type Column struct {
	Name    string
	TypeOid Oid
}

// Relation is a row of pg_class with its visible columns.
type Relation struct {
	Oid       Oid
	Name      string
	Namespace Oid
	Kind      byte
	Columns   []Column
}

// ColumnNames returns the relation's column names in attnum order.
func (r *Relation) ColumnNames() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}

// Catalog resolves relations and namespaces. All lookups are read-only and
// report a stale identifier as not found.
type Catalog interface {
	// RelationByOid resolves a relation identifier.
	RelationByOid(oid Oid) (*Relation, bool)

	// NamespaceByOid resolves a schema identifier.
	NamespaceByOid(oid Oid) (*Namespace, bool)

	// LookupRelation binds a possibly unqualified relation name. An empty
	// schema searches pg_catalog first and then searchPath in order.
	LookupRelation(schema, name string, searchPath []string) (*Relation, bool)
}

// Snapshot is an immutable Catalog built from a fixed set of rows.
type Snapshot struct {
	namespaces      map[Oid]*Namespace
	namespaceByName map[string]*Namespace
	relations       map[Oid]*Relation
	relationByName  map[relationKey]*Relation
}

type relationKey struct {
	namespace Oid
	name      string
}

// NewSnapshot indexes the given rows. Later duplicates replace earlier ones.
func NewSnapshot(namespaces []Namespace, relations []Relation) *Snapshot {
	s := &Snapshot{
		namespaces:      make(map[Oid]*Namespace, len(namespaces)),
		namespaceByName: make(map[string]*Namespace, len(namespaces)),
		relations:       make(map[Oid]*Relation, len(relations)),
		relationByName:  make(map[relationKey]*Relation, len(relations)),
	}
	for i := range namespaces {
		ns := &namespaces[i]
		s.namespaces[ns.Oid] = ns
		s.namespaceByName[ns.Name] = ns
	}
	for i := range relations {
		rel := &relations[i]
		s.relations[rel.Oid] = rel
		s.relationByName[relationKey{rel.Namespace, rel.Name}] = rel
	}
	return s
}

func (s *Snapshot) RelationByOid(oid Oid) (*Relation, bool) {
	rel, ok := s.relations[oid]
	return rel, ok
}

func (s *Snapshot) NamespaceByOid(oid Oid) (*Namespace, bool) {
	ns, ok := s.namespaces[oid]
	return ns, ok
}

func (s *Snapshot) LookupRelation(schema, name string, searchPath []string) (*Relation, bool) {
	if schema != "" {
		return s.lookupIn(schema, name)
	}
	if rel, ok := s.lookupIn(PgCatalogNamespace, name); ok {
		return rel, true
	}
	for _, sp := range searchPath {
		if strings.EqualFold(sp, PgCatalogNamespace) {
			continue
		}
		if rel, ok := s.lookupIn(sp, name); ok {
			return rel, true
		}
	}
	return nil, false
}

func (s *Snapshot) lookupIn(schema, name string) (*Relation, bool) {
	ns, ok := s.namespaceByName[schema]
	if !ok {
		return nil, false
	}
	rel, ok := s.relationByName[relationKey{ns.Oid, name}]
	return rel, ok
}

// Len returns the number of relations in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.relations)
}
