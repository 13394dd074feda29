package analyze

import (
	"fmt"
	"strconv"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"github.com/posthog/ftexpose/catalog"
)

// SQLSTATE codes reported by the analyzer.
const (
	CodeUndefinedTable      = "42P01"
	CodeUndefinedColumn     = "42703"
	CodeAmbiguousColumn     = "42702"
	CodeFeatureNotSupported = "0A000"
)

// Error is an analysis failure. The statement is still valid input for the
// upstream server, which reports its own error if there is one.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Analyzer binds raw parse trees to catalog objects, producing Query trees.
type Analyzer struct {
	catalog    catalog.Catalog
	searchPath []string
}

// NewAnalyzer creates an Analyzer. Unqualified relation names are looked up
// in pg_catalog first and then in searchPath order.
func NewAnalyzer(cat catalog.Catalog, searchPath []string) *Analyzer {
	if len(searchPath) == 0 {
		searchPath = []string{catalog.PublicNamespace}
	}
	return &Analyzer{catalog: cat, searchPath: searchPath}
}

// Analyze turns one raw statement into a Query. SELECT statements are fully
// analyzed; INSERT, UPDATE, DELETE and MERGE only get their command type;
// anything else becomes a utility Query carrying the raw statement.
func (a *Analyzer) Analyze(raw *pg_query.RawStmt) (*Query, error) {
	if raw == nil || raw.Stmt == nil {
		return nil, errorf(CodeFeatureNotSupported, "empty statement")
	}

	tree := &rawTree{}
	switch n := raw.Stmt.Node.(type) {
	case *pg_query.Node_SelectStmt:
		return a.transformSelect(n.SelectStmt, nil, tree)
	case *pg_query.Node_InsertStmt:
		return &Query{CommandType: CmdInsert, tree: tree}, nil
	case *pg_query.Node_UpdateStmt:
		return &Query{CommandType: CmdUpdate, tree: tree}, nil
	case *pg_query.Node_DeleteStmt:
		return &Query{CommandType: CmdDelete, tree: tree}, nil
	case *pg_query.Node_MergeStmt:
		return &Query{CommandType: CmdMerge, tree: tree}, nil
	default:
		return &Query{CommandType: CmdUtility, UtilityStmt: raw.Stmt, tree: tree}, nil
	}
}

// scope is the name-resolution state of one query level.
type scope struct {
	query  *Query
	parent *scope
	tree   *rawTree
	ctes   map[string]*CommonTableExpr

	// visible holds the 1-based range table indexes whose columns can be
	// referenced at this level.
	visible []int

	// hidden is set while analyzing a non-LATERAL FROM subquery, which may
	// not see its siblings.
	hidden bool
}

func (s *scope) lookupCTE(name string) *CommonTableExpr {
	for cur := s; cur != nil; cur = cur.parent {
		if cte, ok := cur.ctes[name]; ok {
			return cte
		}
	}
	return nil
}

func (s *scope) addRTE(rte *RangeTblEntry, visible bool) int {
	s.query.Rtable = append(s.query.Rtable, rte)
	idx := len(s.query.Rtable)
	if visible {
		s.visible = append(s.visible, idx)
	}
	return idx
}

func (a *Analyzer) transformSelect(stmt *pg_query.SelectStmt, parent *scope, tree *rawTree) (*Query, error) {
	if stmt == nil {
		return nil, errorf(CodeFeatureNotSupported, "subquery is not a SELECT")
	}

	q := &Query{
		CommandType: CmdSelect,
		QuerySource: QSRCOriginal,
		Jointree:    &FromExpr{},
		tree:        tree,
	}
	s := &scope{query: q, parent: parent, tree: tree}

	if stmt.WithClause != nil {
		if err := a.transformWithClause(stmt.WithClause, s); err != nil {
			return nil, err
		}
	}

	if stmt.Op != pg_query.SetOperation_SETOP_NONE {
		return q, a.transformSetOperation(stmt, s)
	}

	if len(stmt.ValuesLists) > 0 {
		a.transformValues(stmt, s)
		return q, nil
	}

	for _, item := range stmt.FromClause {
		jt, err := a.transformFromItem(item, s)
		if err != nil {
			return nil, err
		}
		q.Jointree.Fromlist = append(q.Jointree.Fromlist, jt)
	}

	if err := a.transformTargetList(stmt.TargetList, s); err != nil {
		return nil, err
	}

	if stmt.WhereClause != nil {
		quals, err := a.transformExpr(stmt.WhereClause, s)
		if err != nil {
			return nil, err
		}
		q.Jointree.Quals = quals
	}

	return q, nil
}

func (a *Analyzer) transformWithClause(with *pg_query.WithClause, s *scope) error {
	s.ctes = make(map[string]*CommonTableExpr, len(with.Ctes))
	for _, node := range with.Ctes {
		raw := node.GetCommonTableExpr()
		if raw == nil {
			continue
		}
		cte := &CommonTableExpr{Name: raw.Ctename, Colnames: stringList(raw.Aliascolnames)}

		sel := raw.Ctequery.GetSelectStmt()
		if sel == nil {
			// Data-modifying CTE: nothing to rewrite inside, but the name
			// must still resolve.
			cte.Query = &Query{CommandType: cmdTypeOf(raw.Ctequery), tree: s.tree}
			s.ctes[cte.Name] = cte
			continue
		}

		if with.Recursive {
			if len(cte.Colnames) == 0 && sel.Op != pg_query.SetOperation_SETOP_NONE && sel.Larg != nil {
				left, err := a.transformSelect(sel.Larg, s, s.tree)
				if err != nil {
					return err
				}
				cte.Colnames = targetNames(left)
			}
			s.ctes[cte.Name] = cte
		}

		cq, err := a.transformSelect(sel, s, s.tree)
		if err != nil {
			return err
		}
		cte.Query = cq
		if len(cte.Colnames) == 0 {
			cte.Colnames = targetNames(cq)
		}
		s.ctes[cte.Name] = cte
		s.query.CteList = append(s.query.CteList, cte)
	}
	return nil
}

func (a *Analyzer) transformSetOperation(stmt *pg_query.SelectStmt, s *scope) error {
	q := s.query
	arms := []*pg_query.SelectStmt{stmt.Larg, stmt.Rarg}
	for i, arm := range arms {
		sub, err := a.transformSelect(arm, s, s.tree)
		if err != nil {
			return err
		}
		rte := &RangeTblEntry{
			Kind:     RTESubquery,
			Subquery: sub,
			Eref:     &Alias{Aliasname: fmt.Sprintf("*SELECT* %d", i+1), Colnames: targetNames(sub)},
		}
		s.addRTE(rte, false)
	}
	for i, name := range q.Rtable[0].Eref.Colnames {
		q.TargetList = append(q.TargetList, &TargetEntry{
			Expr:    &Var{Varno: 1, Varattno: i + 1},
			Resno:   i + 1,
			Resname: name,
		})
	}
	return nil
}

func (a *Analyzer) transformValues(stmt *pg_query.SelectStmt, s *scope) {
	width := 0
	if first := stmt.ValuesLists[0].GetList(); first != nil {
		width = len(first.Items)
	}
	colnames := make([]string, width)
	for i := range colnames {
		colnames[i] = "column" + strconv.Itoa(i+1)
	}
	idx := s.addRTE(&RangeTblEntry{
		Kind: RTEValues,
		Eref: &Alias{Aliasname: "*VALUES*", Colnames: colnames},
	}, true)
	s.query.Jointree.Fromlist = append(s.query.Jointree.Fromlist, &RangeTblRef{Rtindex: idx})
	for i, name := range colnames {
		s.query.TargetList = append(s.query.TargetList, &TargetEntry{
			Expr:    &Var{Varno: idx, Varattno: i + 1},
			Resno:   i + 1,
			Resname: name,
		})
	}
}

func (a *Analyzer) transformFromItem(node *pg_query.Node, s *scope) (Node, error) {
	switch n := node.Node.(type) {
	case *pg_query.Node_RangeVar:
		return a.transformRangeVar(n.RangeVar, s)

	case *pg_query.Node_RangeSubselect:
		sub := n.RangeSubselect
		sel := sub.Subquery.GetSelectStmt()
		if !sub.Lateral {
			s.hidden = true
		}
		sq, err := a.transformSelect(sel, s, s.tree)
		s.hidden = false
		if err != nil {
			return nil, err
		}
		eref := &Alias{Aliasname: "unnamed_subquery", Colnames: targetNames(sq)}
		applyAlias(eref, sub.Alias)
		idx := s.addRTE(&RangeTblEntry{
			Kind:     RTESubquery,
			Subquery: sq,
			Alias:    convertAlias(sub.Alias),
			Eref:     eref,
			Lateral:  sub.Lateral,
			coltypes: targetTypes(sq),
		}, true)
		return &RangeTblRef{Rtindex: idx}, nil

	case *pg_query.Node_RangeFunction:
		fn := n.RangeFunction
		name := "function"
		if len(fn.Functions) > 0 {
			if items := fn.Functions[0].GetList(); items != nil && len(items.Items) > 0 {
				if call := items.Items[0].GetFuncCall(); call != nil {
					name = lastName(call.Funcname)
				}
			}
		}
		eref := &Alias{Aliasname: name, Colnames: []string{name}}
		if fn.Alias != nil && len(fn.Alias.Colnames) == 0 {
			eref.Colnames = []string{fn.Alias.Aliasname}
		}
		applyAlias(eref, fn.Alias)
		if fn.Ordinality {
			eref.Colnames = append(eref.Colnames, "ordinality")
		}
		idx := s.addRTE(&RangeTblEntry{
			Kind:    RTEFunction,
			Alias:   convertAlias(fn.Alias),
			Eref:    eref,
			Lateral: fn.Lateral,
		}, true)
		return &RangeTblRef{Rtindex: idx}, nil

	case *pg_query.Node_JoinExpr:
		return a.transformJoin(n.JoinExpr, s)

	default:
		return nil, errorf(CodeFeatureNotSupported, "unsupported FROM item %T", node.Node)
	}
}

func (a *Analyzer) transformRangeVar(rv *pg_query.RangeVar, s *scope) (Node, error) {
	if rv.Schemaname == "" {
		if cte := s.lookupCTE(rv.Relname); cte != nil {
			eref := &Alias{Aliasname: rv.Relname, Colnames: append([]string(nil), cte.Colnames...)}
			applyAlias(eref, rv.Alias)
			idx := s.addRTE(&RangeTblEntry{
				Kind:    RTECTE,
				CteName: cte.Name,
				Alias:   convertAlias(rv.Alias),
				Eref:    eref,
			}, true)
			return &RangeTblRef{Rtindex: idx}, nil
		}
	}

	rel, ok := a.catalog.LookupRelation(rv.Schemaname, rv.Relname, a.searchPath)
	if !ok {
		name := rv.Relname
		if rv.Schemaname != "" {
			name = rv.Schemaname + "." + rv.Relname
		}
		return nil, errorf(CodeUndefinedTable, "relation %q does not exist", name)
	}

	coltypes := make([]catalog.Oid, len(rel.Columns))
	for i, c := range rel.Columns {
		coltypes[i] = c.TypeOid
	}
	eref := &Alias{Aliasname: rel.Name, Colnames: rel.ColumnNames()}
	applyAlias(eref, rv.Alias)
	idx := s.addRTE(&RangeTblEntry{
		Kind:     RTERelation,
		Relid:    rel.Oid,
		Alias:    convertAlias(rv.Alias),
		Eref:     eref,
		coltypes: coltypes,
	}, true)
	return &RangeTblRef{Rtindex: idx}, nil
}

func (a *Analyzer) transformJoin(j *pg_query.JoinExpr, s *scope) (Node, error) {
	first := len(s.query.Rtable) + 1
	larg, err := a.transformFromItem(j.Larg, s)
	if err != nil {
		return nil, err
	}
	rarg, err := a.transformFromItem(j.Rarg, s)
	if err != nil {
		return nil, err
	}

	var colnames []string
	for i := first; i <= len(s.query.Rtable); i++ {
		rte := s.query.Rtable[i-1]
		if rte.Kind != RTEJoin {
			colnames = append(colnames, rte.Eref.Colnames...)
		}
	}

	var quals Node
	if j.Quals != nil {
		if quals, err = a.transformExpr(j.Quals, s); err != nil {
			return nil, err
		}
	}

	eref := &Alias{Aliasname: "unnamed_join", Colnames: colnames}
	applyAlias(eref, j.Alias)
	idx := s.addRTE(&RangeTblEntry{
		Kind:  RTEJoin,
		Alias: convertAlias(j.Alias),
		Eref:  eref,
	}, j.Alias != nil)

	return &JoinExpr{
		Jointype: j.Jointype,
		Larg:     larg,
		Rarg:     rarg,
		Quals:    quals,
		Rtindex:  idx,
	}, nil
}

func (a *Analyzer) transformTargetList(targets []*pg_query.Node, s *scope) error {
	q := s.query
	add := func(expr Node, name string) {
		q.TargetList = append(q.TargetList, &TargetEntry{Expr: expr, Resno: len(q.TargetList) + 1, Resname: name})
	}

	for _, node := range targets {
		rt := node.GetResTarget()
		if rt == nil || rt.Val == nil {
			continue
		}

		if cr := rt.Val.GetColumnRef(); cr != nil && isStar(cr) {
			vars, names, err := s.expandStar(cr)
			if err != nil {
				return err
			}
			for i := range vars {
				add(vars[i], names[i])
			}
			continue
		}

		expr, err := a.transformExpr(rt.Val, s)
		if err != nil {
			return err
		}
		name := rt.Name
		if name == "" {
			name = figureColname(rt.Val)
		}
		add(expr, name)
	}
	return nil
}

func (a *Analyzer) transformExpr(node *pg_query.Node, s *scope) (Node, error) {
	if node == nil {
		return nil, nil
	}

	switch n := node.Node.(type) {
	case *pg_query.Node_ColumnRef:
		return s.transformColumnRef(n.ColumnRef)

	case *pg_query.Node_AConst:
		return constFromRaw(n.AConst), nil

	case *pg_query.Node_TypeCast:
		typ := typeOidFromName(n.TypeCast.TypeName)
		// An array cast applies to the constructor's elements, giving a
		// plain array of the element type.
		if raw := n.TypeCast.Arg.GetAArrayExpr(); raw != nil {
			if elem := elementTypeOf(typ); elem != catalog.InvalidOid {
				arr, err := a.transformArray(&raw.Elements, elem, s)
				if err != nil {
					return nil, err
				}
				arr.ElementTypeid = elem
				arr.ArrayTypeid = typ
				return arr, nil
			}
		}
		arg, err := a.transformExpr(n.TypeCast.Arg, s)
		if err != nil {
			return nil, err
		}
		if c, ok := arg.(*Const); ok && typ != catalog.InvalidOid {
			return coerceConst(c, typ), nil
		}
		return &RelabelType{Arg: arg, Resulttype: typ}, nil

	case *pg_query.Node_AExpr:
		return a.transformAExpr(n.AExpr, node, s)

	case *pg_query.Node_BoolExpr:
		args, err := a.transformExprList(n.BoolExpr.Args, s)
		if err != nil {
			return nil, err
		}
		op := AndExpr
		switch n.BoolExpr.Boolop {
		case pg_query.BoolExprType_OR_EXPR:
			op = OrExpr
		case pg_query.BoolExprType_NOT_EXPR:
			op = NotExpr
		}
		return &BoolExpr{Boolop: op, Args: args}, nil

	case *pg_query.Node_SubLink:
		testexpr, err := a.transformExpr(n.SubLink.Testexpr, s)
		if err != nil {
			return nil, err
		}
		sub, err := a.transformSelect(n.SubLink.Subselect.GetSelectStmt(), s, s.tree)
		if err != nil {
			return nil, err
		}
		return &SubLink{SubLinkType: n.SubLink.SubLinkType, Testexpr: testexpr, Subselect: sub}, nil

	case *pg_query.Node_NullTest:
		arg, err := a.transformExpr(n.NullTest.Arg, s)
		if err != nil {
			return nil, err
		}
		return &NullTest{Arg: arg, IsNull: n.NullTest.Nulltesttype == pg_query.NullTestType_IS_NULL}, nil

	case *pg_query.Node_FuncCall:
		args, err := a.transformExprList(n.FuncCall.Args, s)
		if err != nil {
			return nil, err
		}
		return &FuncExpr{Funcname: lastName(n.FuncCall.Funcname), Args: args}, nil

	case *pg_query.Node_AArrayExpr:
		return a.transformArray(&n.AArrayExpr.Elements, catalog.InvalidOid, s)

	case *pg_query.Node_CaseExpr:
		return a.transformCase(n.CaseExpr, s)

	case *pg_query.Node_CoalesceExpr:
		args, err := a.transformExprList(n.CoalesceExpr.Args, s)
		if err != nil {
			return nil, err
		}
		return &CoalesceExpr{Args: args}, nil

	case *pg_query.Node_MinMaxExpr:
		args, err := a.transformExprList(n.MinMaxExpr.Args, s)
		if err != nil {
			return nil, err
		}
		return &MinMaxExpr{Greatest: n.MinMaxExpr.Op == pg_query.MinMaxOp_IS_GREATEST, Args: args}, nil

	case *pg_query.Node_BooleanTest:
		arg, err := a.transformExpr(n.BooleanTest.Arg, s)
		if err != nil {
			return nil, err
		}
		return &BooleanTest{Arg: arg, Testtype: n.BooleanTest.Booltesttype}, nil

	case *pg_query.Node_RowExpr:
		args, err := a.transformExprList(n.RowExpr.Args, s)
		if err != nil {
			return nil, err
		}
		return &RowExpr{Args: args}, nil

	case *pg_query.Node_CollateClause:
		arg, err := a.transformExpr(n.CollateClause.Arg, s)
		if err != nil {
			return nil, err
		}
		return &RelabelType{Arg: arg, Resulttype: exprType(arg)}, nil
	}

	return &RawExpr{Raw: node}, nil
}

func (a *Analyzer) transformExprList(nodes []*pg_query.Node, s *scope) ([]Node, error) {
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		expr, err := a.transformExpr(n, s)
		if err != nil {
			return nil, err
		}
		out = append(out, expr)
	}
	return out, nil
}

func (a *Analyzer) transformAExpr(e *pg_query.A_Expr, node *pg_query.Node, s *scope) (Node, error) {
	switch e.Kind {
	case pg_query.A_Expr_Kind_AEXPR_IN:
		list := e.Rexpr.GetList()
		if list == nil {
			return &RawExpr{Raw: node}, nil
		}
		left, err := a.transformExpr(e.Lexpr, s)
		if err != nil {
			return nil, err
		}
		op := lastName(e.Name)
		if _, ok := left.(*RowExpr); ok {
			return a.transformRowIn(left, list.Items, op, s)
		}
		arr, err := a.transformArray(&list.Items, exprType(left), s)
		if err != nil {
			return nil, err
		}
		return &ScalarArrayOpExpr{Opname: op, UseOr: op != "<>", Args: []Node{left, arr}}, nil

	case pg_query.A_Expr_Kind_AEXPR_OP_ANY, pg_query.A_Expr_Kind_AEXPR_OP_ALL:
		left, err := a.transformExpr(e.Lexpr, s)
		if err != nil {
			return nil, err
		}
		var right Node
		if raw := e.Rexpr.GetAArrayExpr(); raw != nil {
			right, err = a.transformArray(&raw.Elements, exprType(left), s)
		} else {
			right, err = a.transformExpr(e.Rexpr, s)
		}
		if err != nil {
			return nil, err
		}
		return &ScalarArrayOpExpr{
			Opname: lastName(e.Name),
			UseOr:  e.Kind == pg_query.A_Expr_Kind_AEXPR_OP_ANY,
			Args:   []Node{left, right},
		}, nil

	case pg_query.A_Expr_Kind_AEXPR_OP, pg_query.A_Expr_Kind_AEXPR_LIKE,
		pg_query.A_Expr_Kind_AEXPR_ILIKE, pg_query.A_Expr_Kind_AEXPR_SIMILAR:
		args, err := a.transformOperands(e, s)
		if err != nil {
			return nil, err
		}
		return &OpExpr{Opname: lastName(e.Name), Args: args}, nil

	case pg_query.A_Expr_Kind_AEXPR_DISTINCT:
		args, err := a.transformOperands(e, s)
		if err != nil {
			return nil, err
		}
		return &DistinctExpr{Opname: lastName(e.Name), Args: args}, nil

	case pg_query.A_Expr_Kind_AEXPR_NOT_DISTINCT:
		args, err := a.transformOperands(e, s)
		if err != nil {
			return nil, err
		}
		return &BoolExpr{Boolop: NotExpr, Args: []Node{&DistinctExpr{Opname: lastName(e.Name), Args: args}}}, nil

	case pg_query.A_Expr_Kind_AEXPR_NULLIF:
		args, err := a.transformOperands(e, s)
		if err != nil {
			return nil, err
		}
		return &NullIfExpr{Opname: lastName(e.Name), Args: args}, nil

	case pg_query.A_Expr_Kind_AEXPR_BETWEEN, pg_query.A_Expr_Kind_AEXPR_NOT_BETWEEN,
		pg_query.A_Expr_Kind_AEXPR_BETWEEN_SYM, pg_query.A_Expr_Kind_AEXPR_NOT_BETWEEN_SYM:
		return a.transformBetween(e, node, s)
	}

	return &RawExpr{Raw: node}, nil
}

// transformOperands analyzes the one or two operands of an operator and
// resolves an unknown-typed literal against the other side.
func (a *Analyzer) transformOperands(e *pg_query.A_Expr, s *scope) ([]Node, error) {
	var args []Node
	for _, operand := range []*pg_query.Node{e.Lexpr, e.Rexpr} {
		if operand == nil {
			continue
		}
		expr, err := a.transformExpr(operand, s)
		if err != nil {
			return nil, err
		}
		args = append(args, expr)
	}
	if len(args) == 2 {
		args[0], args[1] = coercePair(args[0], args[1])
	}
	return args, nil
}

func binaryOp(op string, l, r Node) *OpExpr {
	l, r = coercePair(l, r)
	return &OpExpr{Opname: op, Args: []Node{l, r}}
}

// transformRowIn expands "(a, b) IN ((x, y), ...)" into an OR of row
// equalities, or an AND of row inequalities for NOT IN.
func (a *Analyzer) transformRowIn(left Node, items []*pg_query.Node, op string, s *scope) (Node, error) {
	combine := OrExpr
	if op == "<>" {
		combine = AndExpr
	}
	out := &BoolExpr{Boolop: combine}
	for _, item := range items {
		right, err := a.transformExpr(item, s)
		if err != nil {
			return nil, err
		}
		out.Args = append(out.Args, &OpExpr{Opname: op, Args: []Node{left, right}})
	}
	if len(out.Args) == 1 {
		return out.Args[0], nil
	}
	return out, nil
}

// transformBetween expands BETWEEN into comparisons. The operand nodes are
// shared between the comparisons rather than analyzed twice.
func (a *Analyzer) transformBetween(e *pg_query.A_Expr, node *pg_query.Node, s *scope) (Node, error) {
	bounds := e.Rexpr.GetList()
	if bounds == nil || len(bounds.Items) != 2 {
		return &RawExpr{Raw: node}, nil
	}
	arg, err := a.transformExpr(e.Lexpr, s)
	if err != nil {
		return nil, err
	}
	lo, err := a.transformExpr(bounds.Items[0], s)
	if err != nil {
		return nil, err
	}
	hi, err := a.transformExpr(bounds.Items[1], s)
	if err != nil {
		return nil, err
	}

	within := func(lo, hi Node) Node {
		return &BoolExpr{Boolop: AndExpr, Args: []Node{binaryOp(">=", arg, lo), binaryOp("<=", arg, hi)}}
	}
	outside := func(lo, hi Node) Node {
		return &BoolExpr{Boolop: OrExpr, Args: []Node{binaryOp("<", arg, lo), binaryOp(">", arg, hi)}}
	}

	switch e.Kind {
	case pg_query.A_Expr_Kind_AEXPR_BETWEEN:
		return within(lo, hi), nil
	case pg_query.A_Expr_Kind_AEXPR_NOT_BETWEEN:
		return outside(lo, hi), nil
	case pg_query.A_Expr_Kind_AEXPR_BETWEEN_SYM:
		return &BoolExpr{Boolop: OrExpr, Args: []Node{within(lo, hi), within(hi, lo)}}, nil
	default:
		return &BoolExpr{Boolop: AndExpr, Args: []Node{outside(lo, hi), outside(hi, lo)}}, nil
	}
}

func (a *Analyzer) transformCase(c *pg_query.CaseExpr, s *scope) (Node, error) {
	arg, err := a.transformExpr(c.Arg, s)
	if err != nil {
		return nil, err
	}
	out := &CaseExpr{Arg: arg}
	for _, raw := range c.Args {
		w := raw.GetCaseWhen()
		if w == nil {
			continue
		}
		cond, err := a.transformExpr(w.Expr, s)
		if err != nil {
			return nil, err
		}
		if arg != nil {
			// "CASE x WHEN v" compares x = v
			_, cond = coercePair(arg, cond)
		}
		result, err := a.transformExpr(w.Result, s)
		if err != nil {
			return nil, err
		}
		out.Args = append(out.Args, &CaseWhen{Expr: cond, Result: result})
	}
	out.Defresult, err = a.transformExpr(c.Defresult, s)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// transformArray analyzes a literal element list, coercing unknown-typed
// literals to elemType, and binds the result to items for later appends.
func (a *Analyzer) transformArray(items *[]*pg_query.Node, elemType catalog.Oid, s *scope) (*ArrayExpr, error) {
	arr := &ArrayExpr{raw: &rawList{items: items, tree: s.tree}}
	for _, item := range *items {
		expr, err := a.transformExpr(item, s)
		if err != nil {
			return nil, err
		}
		arr.Elements = append(arr.Elements, expr)
	}

	if elemType == catalog.InvalidOid || elemType == catalog.UnknownOID {
		for _, e := range arr.Elements {
			if t := exprType(e); t != catalog.InvalidOid && t != catalog.UnknownOID {
				elemType = t
				break
			}
		}
	}
	if elemType == catalog.InvalidOid || elemType == catalog.UnknownOID {
		elemType = catalog.TextOID
	}
	for i, e := range arr.Elements {
		if c, ok := e.(*Const); ok && c.Consttype == catalog.UnknownOID {
			arr.Elements[i] = coerceConst(c, elemType)
		}
	}
	arr.ElementTypeid = elemType
	arr.ArrayTypeid = arrayTypeOf(elemType)
	return arr, nil
}

func (s *scope) transformColumnRef(cr *pg_query.ColumnRef) (Node, error) {
	names := stringList(cr.Fields)
	if len(names) == 0 || len(names) != len(cr.Fields) {
		return nil, errorf(CodeFeatureNotSupported, "unsupported column reference")
	}

	colname := names[len(names)-1]
	qualifier := ""
	if len(names) > 1 {
		qualifier = names[len(names)-2]
	}

	levelsup := 0
	for cur := s; cur != nil; cur, levelsup = cur.parent, levelsup+1 {
		if cur.hidden {
			continue
		}
		v, err := cur.resolveColumn(qualifier, colname)
		if err != nil {
			return nil, err
		}
		if v != nil {
			v.Varlevelsup = levelsup
			return v, nil
		}
	}

	if qualifier != "" {
		return nil, errorf(CodeUndefinedTable, "missing FROM-clause entry for table %q", qualifier)
	}
	return nil, errorf(CodeUndefinedColumn, "column %q does not exist", colname)
}

// resolveColumn looks a column up among this level's visible entries.
// It returns nil, nil when the name is not found here.
func (s *scope) resolveColumn(qualifier, colname string) (*Var, error) {
	var found *Var
	for _, idx := range s.visible {
		rte := s.query.Rtable[idx-1]
		if qualifier != "" && rte.Eref.Aliasname != qualifier {
			continue
		}
		for pos, name := range rte.Eref.Colnames {
			if name != colname {
				continue
			}
			if found != nil {
				return nil, errorf(CodeAmbiguousColumn, "column reference %q is ambiguous", colname)
			}
			found = &Var{Varno: idx, Varattno: pos + 1, Vartype: rte.columnType(pos)}
		}
		if qualifier != "" {
			if found == nil {
				return nil, errorf(CodeUndefinedColumn, "column %s.%s does not exist", qualifier, colname)
			}
			return found, nil
		}
	}
	if found != nil {
		return found, nil
	}

	// A bare relation name is a whole-row reference.
	if qualifier == "" {
		for _, idx := range s.visible {
			if s.query.Rtable[idx-1].Eref.Aliasname == colname {
				return &Var{Varno: idx, Varattno: 0}, nil
			}
		}
	}
	return nil, nil
}

func (s *scope) expandStar(cr *pg_query.ColumnRef) ([]Node, []string, error) {
	qualifier := ""
	if names := stringList(cr.Fields[:len(cr.Fields)-1]); len(names) > 0 {
		qualifier = names[len(names)-1]
	}

	var vars []Node
	var names []string
	matched := false
	for _, idx := range s.visible {
		rte := s.query.Rtable[idx-1]
		if qualifier != "" && rte.Eref.Aliasname != qualifier {
			continue
		}
		if qualifier == "" && rte.Kind == RTEJoin {
			continue
		}
		matched = true
		for pos, name := range rte.Eref.Colnames {
			vars = append(vars, &Var{Varno: idx, Varattno: pos + 1, Vartype: rte.columnType(pos)})
			names = append(names, name)
		}
	}
	if qualifier != "" && !matched {
		return nil, nil, errorf(CodeUndefinedTable, "missing FROM-clause entry for table %q", qualifier)
	}
	return vars, names, nil
}

func (rte *RangeTblEntry) columnType(pos int) catalog.Oid {
	if pos < len(rte.coltypes) {
		return rte.coltypes[pos]
	}
	return catalog.InvalidOid
}

func isStar(cr *pg_query.ColumnRef) bool {
	return len(cr.Fields) > 0 && cr.Fields[len(cr.Fields)-1].GetAStar() != nil
}

func cmdTypeOf(node *pg_query.Node) CmdType {
	switch node.Node.(type) {
	case *pg_query.Node_InsertStmt:
		return CmdInsert
	case *pg_query.Node_UpdateStmt:
		return CmdUpdate
	case *pg_query.Node_DeleteStmt:
		return CmdDelete
	case *pg_query.Node_MergeStmt:
		return CmdMerge
	}
	return CmdUnknown
}

func targetNames(q *Query) []string {
	names := make([]string, len(q.TargetList))
	for i, te := range q.TargetList {
		names[i] = te.Resname
	}
	return names
}

func targetTypes(q *Query) []catalog.Oid {
	types := make([]catalog.Oid, len(q.TargetList))
	for i, te := range q.TargetList {
		types[i] = exprType(te.Expr)
	}
	return types
}

func convertAlias(alias *pg_query.Alias) *Alias {
	if alias == nil {
		return nil
	}
	return &Alias{Aliasname: alias.Aliasname, Colnames: stringList(alias.Colnames)}
}

// applyAlias renames eref per a user alias: the alias name replaces the
// relation name and alias column names replace leading column names.
func applyAlias(eref *Alias, alias *pg_query.Alias) {
	if alias == nil {
		return
	}
	eref.Aliasname = alias.Aliasname
	for i, name := range stringList(alias.Colnames) {
		if i < len(eref.Colnames) {
			eref.Colnames[i] = name
		} else {
			eref.Colnames = append(eref.Colnames, name)
		}
	}
}

func stringList(nodes []*pg_query.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if str := n.GetString_(); str != nil {
			out = append(out, str.Sval)
		}
	}
	return out
}

func lastName(nodes []*pg_query.Node) string {
	names := stringList(nodes)
	if len(names) == 0 {
		return ""
	}
	return names[len(names)-1]
}

func figureColname(node *pg_query.Node) string {
	switch n := node.Node.(type) {
	case *pg_query.Node_ColumnRef:
		if names := stringList(n.ColumnRef.Fields); len(names) > 0 {
			return names[len(names)-1]
		}
	case *pg_query.Node_FuncCall:
		return lastName(n.FuncCall.Funcname)
	case *pg_query.Node_TypeCast:
		if name := figureColname(n.TypeCast.Arg); name != "?column?" {
			return name
		}
		if n.TypeCast.TypeName != nil {
			return lastName(n.TypeCast.TypeName.Names)
		}
	case *pg_query.Node_CaseExpr:
		return "case"
	case *pg_query.Node_AArrayExpr:
		return "array"
	case *pg_query.Node_SubLink:
		if n.SubLink.SubLinkType == pg_query.SubLinkType_EXISTS_SUBLINK {
			return "exists"
		}
	}
	return "?column?"
}
