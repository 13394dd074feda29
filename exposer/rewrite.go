package exposer

import (
	"github.com/posthog/ftexpose/analyze"
	"github.com/posthog/ftexpose/catalog"
)

// relKindPos locates pg_class.relkind as seen from one query level: the
// range table slot and the column number within it, both 1-based.
type relKindPos struct {
	varno    int
	varattno int
}

type positions []relKindPos

func (ps positions) matches(v *analyze.Var) bool {
	if v.Varlevelsup != 0 {
		return false
	}
	for _, p := range ps {
		if v.Varno == p.varno && v.Varattno == p.varattno {
			return true
		}
	}
	return false
}

// RewriteQuery widens relkind filters in query and in every query nested
// in its range table, CTE list or WHERE-clause sublinks. Each level is
// matched against its own range table only.
func (e *Exposer) RewriteQuery(query *analyze.Query) {
	if query == nil || query.CommandType != analyze.CmdSelect || query.QuerySource != analyze.QSRCOriginal {
		return
	}

	var relkinds positions
	for i, rte := range query.Rtable {
		varno := i + 1
		if varattno, ok := e.resolveRelKindColumn(rte); ok {
			e.logger.Debug("Found pg_catalog.pg_class.relkind.", "varno", varno, "varattno", varattno)
			relkinds = append(relkinds, relKindPos{varno: varno, varattno: varattno})
		}

		if rte.Subquery != nil {
			e.RewriteQuery(rte.Subquery)
		}
	}

	for _, cte := range query.CteList {
		e.RewriteQuery(cte.Query)
	}

	// With no positions the walk only looks for sublinks, which are
	// rewritten against their own range tables.
	if query.Jointree != nil && query.Jointree.Quals != nil {
		e.walkQuals(query.Jointree.Quals, relkinds)
	}
}

func (e *Exposer) walkQuals(quals analyze.Node, relkinds positions) {
	var walker func(analyze.Node) bool
	walker = func(node analyze.Node) bool {
		return e.walk(node, relkinds, walker)
	}
	walker(quals)
}

// walk visits node and all of its descendants. It never stops early.
func (e *Exposer) walk(node analyze.Node, relkinds positions, walker func(analyze.Node) bool) bool {
	if node == nil {
		return false
	}

	switch n := node.(type) {
	case *analyze.OpExpr:
		// "relkind = 'r'" is left alone; only array membership is widened.
	case *analyze.ScalarArrayOpExpr:
		if len(relkinds) > 0 {
			e.widenScalarArrayOp(n, relkinds)
		}
	case *analyze.Query:
		e.RewriteQuery(n)
		return false
	}

	return analyze.ExpressionTreeWalker(node, walker)
}

func (e *Exposer) widenScalarArrayOp(expr *analyze.ScalarArrayOpExpr, relkinds positions) {
	var v *analyze.Var
	var array *analyze.ArrayExpr
	if len(expr.Args) == 2 {
		v, _ = expr.Args[0].(*analyze.Var)
		array, _ = expr.Args[1].(*analyze.ArrayExpr)
	}
	if v == nil || array == nil {
		e.logger.Warn("ScalarArrayOpExpr has unexpected arguments.", "args", analyze.NodeListToString(expr.Args))
		return
	}

	if !relkinds.matches(v) {
		return
	}

	regularTableExists, foreignTableExists := false, false
	for _, elem := range array.Elements {
		c, ok := elem.(*analyze.Const)
		if !ok {
			continue
		}
		kind, ok := c.CharValue()
		if !ok {
			continue
		}
		switch kind {
		case catalog.RelKindRelation:
			regularTableExists = true
		case catalog.RelKindForeignTable:
			foreignTableExists = true
		}
	}

	e.logger.Debug("Checked relkind array.", "regular_table_exists", regularTableExists, "foreign_table_exists", foreignTableExists)
	if regularTableExists && !foreignTableExists {
		array.AppendElement(analyze.MakeConst(catalog.CharOID, -1, 1, string(catalog.RelKindForeignTable), false, true))
	}
}
