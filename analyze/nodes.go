package analyze

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"
	"github.com/posthog/ftexpose/catalog"
)

// NodeTag identifies the concrete type of a Node.
type NodeTag int

const (
	TagQuery NodeTag = iota
	TagFromExpr
	TagRangeTblRef
	TagJoinExpr
	TagTargetEntry
	TagVar
	TagConst
	TagArrayExpr
	TagScalarArrayOpExpr
	TagOpExpr
	TagBoolExpr
	TagSubLink
	TagNullTest
	TagFuncExpr
	TagRelabelType
	TagRawExpr
	TagCaseExpr
	TagCaseWhen
	TagCoalesceExpr
	TagMinMaxExpr
	TagBooleanTest
	TagRowExpr
	TagDistinctExpr
	TagNullIfExpr
)

var tagNames = [...]string{
	TagQuery:             "QUERY",
	TagFromExpr:          "FROMEXPR",
	TagRangeTblRef:       "RANGETBLREF",
	TagJoinExpr:          "JOINEXPR",
	TagTargetEntry:       "TARGETENTRY",
	TagVar:               "VAR",
	TagConst:             "CONST",
	TagArrayExpr:         "ARRAYEXPR",
	TagScalarArrayOpExpr: "SCALARARRAYOPEXPR",
	TagOpExpr:            "OPEXPR",
	TagBoolExpr:          "BOOLEXPR",
	TagSubLink:           "SUBLINK",
	TagNullTest:          "NULLTEST",
	TagFuncExpr:          "FUNCEXPR",
	TagRelabelType:       "RELABELTYPE",
	TagRawExpr:           "RAWEXPR",
	TagCaseExpr:          "CASE",
	TagCaseWhen:          "WHEN",
	TagCoalesceExpr:      "COALESCEEXPR",
	TagMinMaxExpr:        "MINMAXEXPR",
	TagBooleanTest:       "BOOLEANTEST",
	TagRowExpr:           "ROWEXPR",
	TagDistinctExpr:      "DISTINCTEXPR",
	TagNullIfExpr:        "NULLIFEXPR",
}

func (t NodeTag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return "UNKNOWN"
}

// Node is any element of an analyzed query tree.
type Node interface {
	Tag() NodeTag
}

// CmdType is the kind of statement a Query represents.
type CmdType int

const (
	CmdUnknown CmdType = iota
	CmdSelect
	CmdUpdate
	CmdInsert
	CmdDelete
	CmdMerge
	CmdUtility
)

// QuerySource records where a Query came from. Only QSRCOriginal queries
// were written by the client; the others are produced by rule expansion.
type QuerySource int

const (
	QSRCOriginal QuerySource = iota
	QSRCParser
	QSRCInsteadRule
	QSRCQualInsteadRule
	QSRCNonInsteadRule
)

// RTEKind is the kind of a range table entry.
type RTEKind int

const (
	RTERelation RTEKind = iota
	RTESubquery
	RTEJoin
	RTEFunction
	RTEValues
	RTECTE
)

// Query is an analyzed statement. Subqueries are independent Query values
// owned by the RangeTblEntry, SubLink or CTE that contains them.
type Query struct {
	CommandType CmdType
	QuerySource QuerySource

	// UtilityStmt is the raw statement for non-optimizable commands.
	UtilityStmt *pg_query.Node

	CteList    []*CommonTableExpr
	Rtable     []*RangeTblEntry
	Jointree   *FromExpr
	TargetList []*TargetEntry

	tree *rawTree
}

func (*Query) Tag() NodeTag { return TagQuery }

// Modified reports whether any bound array literal of the statement this
// query belongs to has been changed since analysis.
func (q *Query) Modified() bool {
	return q.tree != nil && q.tree.modified
}

// CommonTableExpr is a WITH-list entry.
type CommonTableExpr struct {
	Name     string
	Colnames []string
	Query    *Query
}

// Alias is a relation alias with its column names.
type Alias struct {
	Aliasname string
	Colnames  []string
}

// RangeTblEntry is one entry of a query's range table. Its 1-based position
// in Query.Rtable is what Var.Varno refers to.
type RangeTblEntry struct {
	Kind    RTEKind
	Relid   catalog.Oid
	Alias   *Alias
	Eref    *Alias
	Lateral bool

	// Subquery is set for RTESubquery entries.
	Subquery *Query

	// CteName is set for RTECTE entries.
	CteName string

	coltypes []catalog.Oid
}

// FromExpr is the join tree of a query: its FROM list and WHERE clause.
type FromExpr struct {
	Fromlist []Node
	Quals    Node
}

func (*FromExpr) Tag() NodeTag { return TagFromExpr }

// RangeTblRef points at a range table entry from the join tree.
type RangeTblRef struct {
	Rtindex int
}

func (*RangeTblRef) Tag() NodeTag { return TagRangeTblRef }

// JoinExpr is an explicit JOIN in the join tree.
type JoinExpr struct {
	Jointype pg_query.JoinType
	Larg     Node
	Rarg     Node
	Quals    Node
	Rtindex  int
}

func (*JoinExpr) Tag() NodeTag { return TagJoinExpr }

// TargetEntry is one output column of a query.
type TargetEntry struct {
	Expr    Node
	Resno   int
	Resname string
}

func (*TargetEntry) Tag() NodeTag { return TagTargetEntry }

// Var references column Varattno of range table entry Varno, Varlevelsup
// query levels up.
type Var struct {
	Varno       int
	Varattno    int
	Vartype     catalog.Oid
	Varlevelsup int
}

func (*Var) Tag() NodeTag { return TagVar }

// Const is a typed literal. Constvalue holds the datum in text form; for
// single-byte by-value types it is exactly one byte.
type Const struct {
	Consttype   catalog.Oid
	Consttypmod int32
	Constlen    int
	Constvalue  string
	Constisnull bool
	Constbyval  bool
}

func (*Const) Tag() NodeTag { return TagConst }

// MakeConst builds a Const the way the host's makeConst does.
func MakeConst(consttype catalog.Oid, consttypmod int32, constlen int, value string, isnull, byval bool) *Const {
	return &Const{
		Consttype:   consttype,
		Consttypmod: consttypmod,
		Constlen:    constlen,
		Constvalue:  value,
		Constisnull: isnull,
		Constbyval:  byval,
	}
}

// CharValue returns the value of a single-byte "char" constant.
func (c *Const) CharValue() (byte, bool) {
	if c.Constisnull || !c.Constbyval || c.Constlen != 1 || c.Consttype != catalog.CharOID {
		return 0, false
	}
	if c.Constvalue == "" {
		return 0, true
	}
	return c.Constvalue[0], true
}

// ArrayExpr is an ARRAY[...] or IN-list literal.
type ArrayExpr struct {
	ArrayTypeid   catalog.Oid
	ElementTypeid catalog.Oid
	Elements      []Node
	Multidims     bool

	raw *rawList
}

func (*ArrayExpr) Tag() NodeTag { return TagArrayExpr }

// AppendElement appends elem to the array. When the array came from source
// text, the element is also appended to the raw parse tree so that the
// change survives deparsing.
func (a *ArrayExpr) AppendElement(elem Node) {
	a.Elements = append(a.Elements, elem)
	if a.raw == nil {
		return
	}
	if rawElem := rawNodeFor(elem); rawElem != nil {
		*a.raw.items = append(*a.raw.items, rawElem)
		a.raw.tree.modified = true
	}
}

// ScalarArrayOpExpr is "scalar op ANY/ALL (array)". Args holds exactly the
// scalar and the array when built from source text.
type ScalarArrayOpExpr struct {
	Opname string
	UseOr  bool
	Args   []Node
}

func (*ScalarArrayOpExpr) Tag() NodeTag { return TagScalarArrayOpExpr }

// OpExpr is a binary or prefix operator application.
type OpExpr struct {
	Opname string
	Args   []Node
}

func (*OpExpr) Tag() NodeTag { return TagOpExpr }

// BoolExprType is AND, OR or NOT.
type BoolExprType int

const (
	AndExpr BoolExprType = iota
	OrExpr
	NotExpr
)

// BoolExpr is a boolean connective.
type BoolExpr struct {
	Boolop BoolExprType
	Args   []Node
}

func (*BoolExpr) Tag() NodeTag { return TagBoolExpr }

// SubLink is a subquery appearing in an expression.
type SubLink struct {
	SubLinkType pg_query.SubLinkType
	Testexpr    Node
	Subselect   *Query
}

func (*SubLink) Tag() NodeTag { return TagSubLink }

// NullTest is IS [NOT] NULL.
type NullTest struct {
	Arg    Node
	IsNull bool
}

func (*NullTest) Tag() NodeTag { return TagNullTest }

// FuncExpr is a function call.
type FuncExpr struct {
	Funcname string
	Args     []Node
}

func (*FuncExpr) Tag() NodeTag { return TagFuncExpr }

// RelabelType is a cast of a non-constant expression.
type RelabelType struct {
	Arg        Node
	Resulttype catalog.Oid
}

func (*RelabelType) Tag() NodeTag { return TagRelabelType }

// CaseExpr is CASE [arg] WHEN ... THEN ... [ELSE defresult] END.
type CaseExpr struct {
	Arg       Node
	Args      []*CaseWhen
	Defresult Node
}

func (*CaseExpr) Tag() NodeTag { return TagCaseExpr }

// CaseWhen is one WHEN arm of a CaseExpr.
type CaseWhen struct {
	Expr   Node
	Result Node
}

func (*CaseWhen) Tag() NodeTag { return TagCaseWhen }

// CoalesceExpr is COALESCE(args).
type CoalesceExpr struct {
	Args []Node
}

func (*CoalesceExpr) Tag() NodeTag { return TagCoalesceExpr }

// MinMaxExpr is GREATEST(args) or LEAST(args).
type MinMaxExpr struct {
	Greatest bool
	Args     []Node
}

func (*MinMaxExpr) Tag() NodeTag { return TagMinMaxExpr }

// BooleanTest is IS [NOT] TRUE/FALSE/UNKNOWN.
type BooleanTest struct {
	Arg      Node
	Testtype pg_query.BoolTestType
}

func (*BooleanTest) Tag() NodeTag { return TagBooleanTest }

// RowExpr is a ROW(...) constructor or a parenthesized column list.
type RowExpr struct {
	Args []Node
}

func (*RowExpr) Tag() NodeTag { return TagRowExpr }

// DistinctExpr is "a IS DISTINCT FROM b". IS NOT DISTINCT FROM is a NOT
// BoolExpr over it.
type DistinctExpr struct {
	Opname string
	Args   []Node
}

func (*DistinctExpr) Tag() NodeTag { return TagDistinctExpr }

// NullIfExpr is NULLIF(a, b).
type NullIfExpr struct {
	Opname string
	Args   []Node
}

func (*NullIfExpr) Tag() NodeTag { return TagNullIfExpr }

// RawExpr wraps an expression the analyzer does not model. It is a leaf.
type RawExpr struct {
	Raw *pg_query.Node
}

func (*RawExpr) Tag() NodeTag { return TagRawExpr }

// rawTree is shared by every node analyzed from one raw statement.
type rawTree struct {
	modified bool
}

// rawList binds an ArrayExpr to the raw element slice it was built from.
type rawList struct {
	items *[]*pg_query.Node
	tree  *rawTree
}

func rawNodeFor(n Node) *pg_query.Node {
	c, ok := n.(*Const)
	if !ok {
		return nil
	}
	if c.Constisnull {
		return &pg_query.Node{Node: &pg_query.Node_AConst{AConst: &pg_query.A_Const{Isnull: true, Location: -1}}}
	}
	return &pg_query.Node{
		Node: &pg_query.Node_AConst{
			AConst: &pg_query.A_Const{
				Val: &pg_query.A_Const_Sval{
					Sval: &pg_query.String{Sval: c.Constvalue},
				},
				Location: -1,
			},
		},
	}
}
