package catalog

// Fixed OIDs assigned by initdb.
const (
	PgCatalogNamespaceOid         Oid = 11
	PublicNamespaceOid            Oid = 2200
	InformationSchemaNamespaceOid Oid = 13183

	PgClassRelationOid         Oid = 1259
	PgAttributeRelationOid     Oid = 1249
	PgNamespaceRelationOid     Oid = 2615
	PgAmRelationOid            Oid = 2601
	PgInheritsRelationOid      Oid = 2611
	PgDescriptionRelationOid   Oid = 2609
	PgForeignServerRelationOid Oid = 1417
	PgForeignTableRelationOid  Oid = 3118
)

// PgClassColumns is the column list of pg_catalog.pg_class in attnum order.
var PgClassColumns = []Column{
	{"oid", OidOID},
	{"relname", NameOID},
	{"relnamespace", OidOID},
	{"reltype", OidOID},
	{"reloftype", OidOID},
	{"relowner", OidOID},
	{"relam", OidOID},
	{"relfilenode", OidOID},
	{"reltablespace", OidOID},
	{"relpages", Int4OID},
	{"reltuples", Float4OID},
	{"relallvisible", Int4OID},
	{"reltoastrelid", OidOID},
	{"relhasindex", BoolOID},
	{"relisshared", BoolOID},
	{"relpersistence", CharOID},
	{"relkind", CharOID},
	{"relnatts", Int2OID},
	{"relchecks", Int2OID},
	{"relhasrules", BoolOID},
	{"relhastriggers", BoolOID},
	{"relhassubclass", BoolOID},
	{"relrowsecurity", BoolOID},
	{"relforcerowsecurity", BoolOID},
	{"relispopulated", BoolOID},
	{"relreplident", CharOID},
	{"relispartition", BoolOID},
	{"relrewrite", OidOID},
	{"relfrozenxid", XidOID},
	{"relminmxid", XidOID},
	{"relacl", AclitemArrOID},
	{"reloptions", TextArrOID},
	{"relpartbound", PgNodeTreeOID},
}

// Builtin returns a snapshot holding the system catalogs that client tools
// join against when listing relations. It carries no user relations; use a
// Cache with a PgLoader to see those.
func Builtin() *Snapshot {
	return NewSnapshot(builtinNamespaces(), builtinRelations())
}

func builtinNamespaces() []Namespace {
	return []Namespace{
		{Oid: PgCatalogNamespaceOid, Name: PgCatalogNamespace},
		{Oid: PublicNamespaceOid, Name: PublicNamespace},
		{Oid: InformationSchemaNamespaceOid, Name: InformationSchemaNamespace},
	}
}

func builtinRelations() []Relation {
	return []Relation{
		{
			Oid:       PgClassRelationOid,
			Name:      "pg_class",
			Namespace: PgCatalogNamespaceOid,
			Kind:      RelKindRelation,
			Columns:   PgClassColumns,
		},
		{
			Oid:       PgNamespaceRelationOid,
			Name:      "pg_namespace",
			Namespace: PgCatalogNamespaceOid,
			Kind:      RelKindRelation,
			Columns: []Column{
				{"oid", OidOID},
				{"nspname", NameOID},
				{"nspowner", OidOID},
				{"nspacl", AclitemArrOID},
			},
		},
		{
			Oid:       PgAmRelationOid,
			Name:      "pg_am",
			Namespace: PgCatalogNamespaceOid,
			Kind:      RelKindRelation,
			Columns: []Column{
				{"oid", OidOID},
				{"amname", NameOID},
				{"amhandler", RegprocOID},
				{"amtype", CharOID},
			},
		},
		{
			Oid:       PgAttributeRelationOid,
			Name:      "pg_attribute",
			Namespace: PgCatalogNamespaceOid,
			Kind:      RelKindRelation,
			Columns: []Column{
				{"attrelid", OidOID},
				{"attname", NameOID},
				{"atttypid", OidOID},
				{"attlen", Int2OID},
				{"attnum", Int2OID},
				{"attcacheoff", Int4OID},
				{"atttypmod", Int4OID},
				{"attndims", Int2OID},
				{"attbyval", BoolOID},
				{"attalign", CharOID},
				{"attstorage", CharOID},
				{"attcompression", CharOID},
				{"attnotnull", BoolOID},
				{"atthasdef", BoolOID},
				{"atthasmissing", BoolOID},
				{"attidentity", CharOID},
				{"attgenerated", CharOID},
				{"attisdropped", BoolOID},
				{"attislocal", BoolOID},
				{"attinhcount", Int2OID},
				{"attstattarget", Int2OID},
				{"attcollation", OidOID},
				{"attacl", AclitemArrOID},
				{"attoptions", TextArrOID},
				{"attfdwoptions", TextArrOID},
			},
		},
		{
			Oid:       PgInheritsRelationOid,
			Name:      "pg_inherits",
			Namespace: PgCatalogNamespaceOid,
			Kind:      RelKindRelation,
			Columns: []Column{
				{"inhrelid", OidOID},
				{"inhparent", OidOID},
				{"inhseqno", Int4OID},
				{"inhdetachpending", BoolOID},
			},
		},
		{
			Oid:       PgDescriptionRelationOid,
			Name:      "pg_description",
			Namespace: PgCatalogNamespaceOid,
			Kind:      RelKindRelation,
			Columns: []Column{
				{"objoid", OidOID},
				{"classoid", OidOID},
				{"objsubid", Int4OID},
				{"description", TextOID},
			},
		},
		{
			Oid:       PgForeignServerRelationOid,
			Name:      "pg_foreign_server",
			Namespace: PgCatalogNamespaceOid,
			Kind:      RelKindRelation,
			Columns: []Column{
				{"oid", OidOID},
				{"srvname", NameOID},
				{"srvowner", OidOID},
				{"srvfdw", OidOID},
				{"srvtype", TextOID},
				{"srvversion", TextOID},
				{"srvacl", AclitemArrOID},
				{"srvoptions", TextArrOID},
			},
		},
		{
			Oid:       PgForeignTableRelationOid,
			Name:      "pg_foreign_table",
			Namespace: PgCatalogNamespaceOid,
			Kind:      RelKindRelation,
			Columns: []Column{
				{"ftrelid", OidOID},
				{"ftserver", OidOID},
				{"ftoptions", TextArrOID},
			},
		},
	}
}
