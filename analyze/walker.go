package analyze

import (
	"fmt"
	"strings"
)

// ExpressionTreeWalker calls walker on each immediate child of node. The
// walker is expected to call ExpressionTreeWalker again to continue the
// descent. A true return from walker aborts the traversal and is propagated.
//
// A *Query child (the subselect of a SubLink) is passed to walker but never
// descended into here: its Vars are relative to its own range table.
func ExpressionTreeWalker(node Node, walker func(Node) bool) bool {
	if node == nil {
		return false
	}

	switch n := node.(type) {
	case *Var, *Const, *RangeTblRef, *RawExpr, *Query:
		return false
	case *ArrayExpr:
		return walkList(n.Elements, walker)
	case *ScalarArrayOpExpr:
		return walkList(n.Args, walker)
	case *OpExpr:
		return walkList(n.Args, walker)
	case *BoolExpr:
		return walkList(n.Args, walker)
	case *FuncExpr:
		return walkList(n.Args, walker)
	case *NullTest:
		return walkChild(n.Arg, walker)
	case *RelabelType:
		return walkChild(n.Arg, walker)
	case *SubLink:
		if walkChild(n.Testexpr, walker) {
			return true
		}
		if n.Subselect != nil {
			return walker(n.Subselect)
		}
		return false
	case *CaseExpr:
		if walkChild(n.Arg, walker) {
			return true
		}
		for _, w := range n.Args {
			if walker(w) {
				return true
			}
		}
		return walkChild(n.Defresult, walker)
	case *CaseWhen:
		if walkChild(n.Expr, walker) {
			return true
		}
		return walkChild(n.Result, walker)
	case *CoalesceExpr:
		return walkList(n.Args, walker)
	case *MinMaxExpr:
		return walkList(n.Args, walker)
	case *BooleanTest:
		return walkChild(n.Arg, walker)
	case *RowExpr:
		return walkList(n.Args, walker)
	case *DistinctExpr:
		return walkList(n.Args, walker)
	case *NullIfExpr:
		return walkList(n.Args, walker)
	case *TargetEntry:
		return walkChild(n.Expr, walker)
	case *FromExpr:
		if walkList(n.Fromlist, walker) {
			return true
		}
		return walkChild(n.Quals, walker)
	case *JoinExpr:
		if walkChild(n.Larg, walker) || walkChild(n.Rarg, walker) {
			return true
		}
		return walkChild(n.Quals, walker)
	}
	return false
}

func walkChild(child Node, walker func(Node) bool) bool {
	if child == nil {
		return false
	}
	return walker(child)
}

func walkList(children []Node, walker func(Node) bool) bool {
	for _, child := range children {
		if walkChild(child, walker) {
			return true
		}
	}
	return false
}

// NodeToString renders node in the host's node-dump notation, for logs.
func NodeToString(node Node) string {
	var sb strings.Builder
	writeNode(&sb, node)
	return sb.String()
}

// NodeListToString renders a list of nodes as a parenthesized dump.
func NodeListToString(nodes []Node) string {
	var sb strings.Builder
	writeList(&sb, nodes)
	return sb.String()
}

func writeList(sb *strings.Builder, nodes []Node) {
	sb.WriteByte('(')
	for i, n := range nodes {
		if i > 0 {
			sb.WriteByte(' ')
		}
		writeNode(sb, n)
	}
	sb.WriteByte(')')
}

func writeNode(sb *strings.Builder, node Node) {
	if node == nil {
		sb.WriteString("<>")
		return
	}

	sb.WriteByte('{')
	sb.WriteString(node.Tag().String())
	switch n := node.(type) {
	case *Var:
		fmt.Fprintf(sb, " :varno %d :varattno %d :vartype %d :varlevelsup %d", n.Varno, n.Varattno, n.Vartype, n.Varlevelsup)
	case *Const:
		fmt.Fprintf(sb, " :consttype %d :constlen %d :constbyval %t :constisnull %t", n.Consttype, n.Constlen, n.Constbyval, n.Constisnull)
		if !n.Constisnull {
			fmt.Fprintf(sb, " :constvalue %q", n.Constvalue)
		}
	case *ArrayExpr:
		fmt.Fprintf(sb, " :array_typeid %d :element_typeid %d :elements ", n.ArrayTypeid, n.ElementTypeid)
		writeList(sb, n.Elements)
	case *ScalarArrayOpExpr:
		fmt.Fprintf(sb, " :opname %q :useOr %t :args ", n.Opname, n.UseOr)
		writeList(sb, n.Args)
	case *OpExpr:
		fmt.Fprintf(sb, " :opname %q :args ", n.Opname)
		writeList(sb, n.Args)
	case *BoolExpr:
		fmt.Fprintf(sb, " :boolop %d :args ", n.Boolop)
		writeList(sb, n.Args)
	case *FuncExpr:
		fmt.Fprintf(sb, " :funcname %q :args ", n.Funcname)
		writeList(sb, n.Args)
	case *NullTest:
		fmt.Fprintf(sb, " :isnull %t :arg ", n.IsNull)
		writeNode(sb, n.Arg)
	case *RelabelType:
		fmt.Fprintf(sb, " :resulttype %d :arg ", n.Resulttype)
		writeNode(sb, n.Arg)
	case *SubLink:
		fmt.Fprintf(sb, " :subLinkType %s :testexpr ", n.SubLinkType)
		writeNode(sb, n.Testexpr)
	case *CaseExpr:
		sb.WriteString(" :arg ")
		writeNode(sb, n.Arg)
		sb.WriteString(" :args (")
		for i, w := range n.Args {
			if i > 0 {
				sb.WriteByte(' ')
			}
			writeNode(sb, w)
		}
		sb.WriteString(") :defresult ")
		writeNode(sb, n.Defresult)
	case *CaseWhen:
		sb.WriteString(" :expr ")
		writeNode(sb, n.Expr)
		sb.WriteString(" :result ")
		writeNode(sb, n.Result)
	case *CoalesceExpr:
		sb.WriteString(" :args ")
		writeList(sb, n.Args)
	case *MinMaxExpr:
		fmt.Fprintf(sb, " :greatest %t :args ", n.Greatest)
		writeList(sb, n.Args)
	case *BooleanTest:
		fmt.Fprintf(sb, " :booltesttype %s :arg ", n.Testtype)
		writeNode(sb, n.Arg)
	case *RowExpr:
		sb.WriteString(" :args ")
		writeList(sb, n.Args)
	case *DistinctExpr:
		fmt.Fprintf(sb, " :opname %q :args ", n.Opname)
		writeList(sb, n.Args)
	case *NullIfExpr:
		fmt.Fprintf(sb, " :opname %q :args ", n.Opname)
		writeList(sb, n.Args)
	case *RangeTblRef:
		fmt.Fprintf(sb, " :rtindex %d", n.Rtindex)
	case *RawExpr:
		if n.Raw != nil {
			fmt.Fprintf(sb, " :raw %q", n.Raw.String())
		}
	case *Query:
		fmt.Fprintf(sb, " :commandType %d :rtable %d", n.CommandType, len(n.Rtable))
	}
	sb.WriteByte('}')
}
