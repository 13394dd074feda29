package analyze

import (
	"strconv"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"github.com/posthog/ftexpose/catalog"
)

var typeOidsByName = map[string]catalog.Oid{
	"bool":     catalog.BoolOID,
	"char":     catalog.CharOID,
	"name":     catalog.NameOID,
	"int8":     catalog.Int8OID,
	"int2":     catalog.Int2OID,
	"int4":     catalog.Int4OID,
	"text":     catalog.TextOID,
	"oid":      catalog.OidOID,
	"float4":   catalog.Float4OID,
	"float8":   catalog.Float8OID,
	"bpchar":   catalog.BpcharOID,
	"varchar":  catalog.VarcharOID,
	"numeric":  catalog.NumericOID,
	"regclass": catalog.RegclassOID,
}

var arrayTypes = map[catalog.Oid]catalog.Oid{
	catalog.CharOID: catalog.CharArrOID,
	catalog.TextOID: catalog.TextArrOID,
}

// typeOidFromName maps a cast target to a type OID. Unknown names and
// arrays of types without a known array OID map to InvalidOid.
func typeOidFromName(tn *pg_query.TypeName) catalog.Oid {
	if tn == nil {
		return catalog.InvalidOid
	}
	oid, ok := typeOidsByName[strings.ToLower(lastName(tn.Names))]
	if !ok {
		return catalog.InvalidOid
	}
	if len(tn.ArrayBounds) > 0 {
		return arrayTypes[oid]
	}
	return oid
}

func arrayTypeOf(elem catalog.Oid) catalog.Oid {
	return arrayTypes[elem]
}

// elementTypeOf is the inverse of arrayTypeOf; non-array types map to
// InvalidOid.
func elementTypeOf(array catalog.Oid) catalog.Oid {
	for elem, arr := range arrayTypes {
		if arr == array {
			return elem
		}
	}
	return catalog.InvalidOid
}

// typeStorage returns typlen and typbyval.
func typeStorage(typ catalog.Oid) (int, bool) {
	switch typ {
	case catalog.BoolOID, catalog.CharOID:
		return 1, true
	case catalog.Int2OID:
		return 2, true
	case catalog.Int4OID, catalog.OidOID, catalog.Float4OID, catalog.RegclassOID, catalog.XidOID:
		return 4, true
	case catalog.Int8OID, catalog.Float8OID:
		return 8, true
	case catalog.NameOID:
		return 64, false
	case catalog.UnknownOID:
		return -2, false
	}
	return -1, false
}

func exprType(n Node) catalog.Oid {
	switch e := n.(type) {
	case *Var:
		return e.Vartype
	case *Const:
		return e.Consttype
	case *RelabelType:
		return e.Resulttype
	case *ArrayExpr:
		return e.ArrayTypeid
	case *BooleanTest, *DistinctExpr:
		return catalog.BoolOID
	case *CoalesceExpr:
		return firstKnownType(e.Args)
	case *MinMaxExpr:
		return firstKnownType(e.Args)
	case *NullIfExpr:
		return firstKnownType(e.Args[:min(len(e.Args), 1)])
	case *CaseExpr:
		results := make([]Node, 0, len(e.Args)+1)
		for _, w := range e.Args {
			results = append(results, w.Result)
		}
		return firstKnownType(append(results, e.Defresult))
	}
	return catalog.InvalidOid
}

func firstKnownType(nodes []Node) catalog.Oid {
	for _, n := range nodes {
		if t := exprType(n); t != catalog.InvalidOid && t != catalog.UnknownOID {
			return t
		}
	}
	return catalog.InvalidOid
}

func constFromRaw(ac *pg_query.A_Const) *Const {
	if ac.Isnull {
		return MakeConst(catalog.UnknownOID, -1, -2, "", true, false)
	}
	switch v := ac.Val.(type) {
	case *pg_query.A_Const_Ival:
		return MakeConst(catalog.Int4OID, -1, 4, strconv.Itoa(int(v.Ival.Ival)), false, true)
	case *pg_query.A_Const_Fval:
		return MakeConst(catalog.NumericOID, -1, -1, v.Fval.Fval, false, false)
	case *pg_query.A_Const_Boolval:
		return MakeConst(catalog.BoolOID, -1, 1, strconv.FormatBool(v.Boolval.Boolval), false, true)
	case *pg_query.A_Const_Sval:
		return MakeConst(catalog.UnknownOID, -1, -2, v.Sval.Sval, false, false)
	case *pg_query.A_Const_Bsval:
		return MakeConst(catalog.UnknownOID, -1, -2, v.Bsval.Bsval, false, false)
	}
	return MakeConst(catalog.UnknownOID, -1, -2, "", true, false)
}

// coerceConst converts a literal to typ. A "char" keeps only the first byte
// of its input, as the host's charin does.
func coerceConst(c *Const, typ catalog.Oid) *Const {
	length, byval := typeStorage(typ)
	value := c.Constvalue
	if typ == catalog.CharOID && len(value) > 1 {
		value = value[:1]
	}
	return MakeConst(typ, -1, length, value, c.Constisnull, byval)
}

// coercePair resolves an unknown-typed literal against a typed operand.
func coercePair(l, r Node) (Node, Node) {
	if c, ok := r.(*Const); ok && c.Consttype == catalog.UnknownOID {
		if t := exprType(l); t != catalog.InvalidOid && t != catalog.UnknownOID {
			r = coerceConst(c, t)
		}
	}
	if c, ok := l.(*Const); ok && c.Consttype == catalog.UnknownOID {
		if t := exprType(r); t != catalog.InvalidOid && t != catalog.UnknownOID {
			l = coerceConst(c, t)
		}
	}
	return l, r
}
