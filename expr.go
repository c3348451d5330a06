package wisp

// BinOp is a binary operator in an expression tree.
type BinOp int

const (
	OpEquals BinOp = iota
	OpNotEquals
	OpAnd
	OpOr
	OpPlus
	OpMinus
	OpTimes
	OpDiv
	OpMod
	OpGT
	OpLT
	OpElvis // `?:` — left side if non-empty, else right side
	OpRegexMatch
)

// UnaryOp is a unary operator.
type UnaryOp int

const (
	OpNot UnaryOp = iota
)

// Expr is a node in the pure expression tree evaluated by Eval. Every node
// carries a Span for diagnostics even though evaluation itself never reads
// it directly — only error paths do.
type Expr interface {
	span() Span
}

type ExprLiteral struct {
	Value Dyn
}

type ExprVarRef struct {
	Name    VarName
	AtSpan  Span
}

type ExprConcat struct {
	AtSpan Span
	Parts  []Expr
}

type ExprBinOp struct {
	AtSpan Span
	Left   Expr
	Op     BinOp
	Right  Expr
}

type ExprUnaryOp struct {
	AtSpan Span
	Op     UnaryOp
	Operand Expr
}

type ExprIfElse struct {
	AtSpan Span
	Cond   Expr
	Yes    Expr
	No     Expr
}

type ExprJSONAccess struct {
	AtSpan Span
	Value  Expr
	Index  Expr
}

type ExprFunctionCall struct {
	AtSpan Span
	Name   string
	Args   []Expr
}

type ExprJSONArray struct {
	AtSpan Span
	Values []Expr
}

type ExprJSONObjectEntry struct {
	Key   Expr
	Value Expr
}

type ExprJSONObject struct {
	AtSpan  Span
	Entries []ExprJSONObjectEntry
}

func (e *ExprLiteral) span() Span      { return e.Value.Span }
func (e *ExprVarRef) span() Span       { return e.AtSpan }
func (e *ExprConcat) span() Span       { return e.AtSpan }
func (e *ExprBinOp) span() Span        { return e.AtSpan }
func (e *ExprUnaryOp) span() Span      { return e.AtSpan }
func (e *ExprIfElse) span() Span       { return e.AtSpan }
func (e *ExprJSONAccess) span() Span   { return e.AtSpan }
func (e *ExprFunctionCall) span() Span { return e.AtSpan }
func (e *ExprJSONArray) span() Span    { return e.AtSpan }
func (e *ExprJSONObject) span() Span   { return e.AtSpan }

// VarRefs returns every free variable reference in the expression, in
// left-to-right order, together with the span of the reference itself.
func VarRefs(e Expr) []struct {
	Span Span
	Name VarName
} {
	var out []struct {
		Span Span
		Name VarName
	}
	var walk func(Expr)
	walk = func(e Expr) {
		switch n := e.(type) {
		case *ExprLiteral:
		case *ExprVarRef:
			out = append(out, struct {
				Span Span
				Name VarName
			}{n.AtSpan, n.Name})
		case *ExprConcat:
			for _, p := range n.Parts {
				walk(p)
			}
		case *ExprBinOp:
			walk(n.Left)
			walk(n.Right)
		case *ExprUnaryOp:
			walk(n.Operand)
		case *ExprIfElse:
			walk(n.Cond)
			walk(n.Yes)
			walk(n.No)
		case *ExprJSONAccess:
			walk(n.Value)
			walk(n.Index)
		case *ExprFunctionCall:
			for _, a := range n.Args {
				walk(a)
			}
		case *ExprJSONArray:
			for _, v := range n.Values {
				walk(v)
			}
		case *ExprJSONObject:
			for _, kv := range n.Entries {
				walk(kv.Key)
				walk(kv.Value)
			}
		}
	}
	walk(e)
	return out
}

// mapVarRefs rebuilds the expression tree, replacing every ExprVarRef with
// whatever f returns for it. Used by ResolveRefs.
func mapVarRefs(e Expr, f func(Span, VarName) (Expr, error)) (Expr, error) {
	switch n := e.(type) {
	case *ExprLiteral:
		return n, nil
	case *ExprVarRef:
		return f(n.AtSpan, n.Name)
	case *ExprConcat:
		parts := make([]Expr, len(n.Parts))
		for i, p := range n.Parts {
			mp, err := mapVarRefs(p, f)
			if err != nil {
				return nil, err
			}
			parts[i] = mp
		}
		return &ExprConcat{AtSpan: n.AtSpan, Parts: parts}, nil
	case *ExprBinOp:
		l, err := mapVarRefs(n.Left, f)
		if err != nil {
			return nil, err
		}
		r, err := mapVarRefs(n.Right, f)
		if err != nil {
			return nil, err
		}
		return &ExprBinOp{AtSpan: n.AtSpan, Left: l, Op: n.Op, Right: r}, nil
	case *ExprUnaryOp:
		o, err := mapVarRefs(n.Operand, f)
		if err != nil {
			return nil, err
		}
		return &ExprUnaryOp{AtSpan: n.AtSpan, Op: n.Op, Operand: o}, nil
	case *ExprIfElse:
		c, err := mapVarRefs(n.Cond, f)
		if err != nil {
			return nil, err
		}
		y, err := mapVarRefs(n.Yes, f)
		if err != nil {
			return nil, err
		}
		no, err := mapVarRefs(n.No, f)
		if err != nil {
			return nil, err
		}
		return &ExprIfElse{AtSpan: n.AtSpan, Cond: c, Yes: y, No: no}, nil
	case *ExprJSONAccess:
		v, err := mapVarRefs(n.Value, f)
		if err != nil {
			return nil, err
		}
		i, err := mapVarRefs(n.Index, f)
		if err != nil {
			return nil, err
		}
		return &ExprJSONAccess{AtSpan: n.AtSpan, Value: v, Index: i}, nil
	case *ExprFunctionCall:
		args := make([]Expr, len(n.Args))
		for i, a := range n.Args {
			ma, err := mapVarRefs(a, f)
			if err != nil {
				return nil, err
			}
			args[i] = ma
		}
		return &ExprFunctionCall{AtSpan: n.AtSpan, Name: n.Name, Args: args}, nil
	case *ExprJSONArray:
		vals := make([]Expr, len(n.Values))
		for i, v := range n.Values {
			mv, err := mapVarRefs(v, f)
			if err != nil {
				return nil, err
			}
			vals[i] = mv
		}
		return &ExprJSONArray{AtSpan: n.AtSpan, Values: vals}, nil
	case *ExprJSONObject:
		entries := make([]ExprJSONObjectEntry, len(n.Entries))
		for i, kv := range n.Entries {
			mk, err := mapVarRefs(kv.Key, f)
			if err != nil {
				return nil, err
			}
			mv, err := mapVarRefs(kv.Value, f)
			if err != nil {
				return nil, err
			}
			entries[i] = ExprJSONObjectEntry{Key: mk, Value: mv}
		}
		return &ExprJSONObject{AtSpan: n.AtSpan, Entries: entries}, nil
	default:
		return n, nil
	}
}
