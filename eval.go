package wisp

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/agext/levenshtein"
)

// EvalError is returned by Eval and carries the span of the node that
// failed; context lives in typed fields rather than formatted into the
// message.
type EvalError struct {
	Kind   string
	Detail string
	Span   Span
	Cause  error
}

func (e *EvalError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return e.Kind
}

func (e *EvalError) Unwrap() error { return e.Cause }

// At returns a copy of the error tagged with a span, so conversion errors
// pick up the failing node's location as they bubble up.
func (e *EvalError) At(span Span) *EvalError {
	cp := *e
	cp.Span = span
	return &cp
}

func errUnknownVariable(name VarName, similar []VarName) *EvalError {
	sims := make([]string, len(similar))
	for i, s := range similar {
		sims[i] = string(s)
	}
	detail := fmt.Sprintf("unknown variable %q", name)
	if len(sims) > 0 {
		detail += fmt.Sprintf(" (did you mean: %s?)", strings.Join(sims, ", "))
	}
	return &EvalError{Kind: "UnknownVariable", Detail: detail}
}

func errNoVariablesAllowed(name VarName) *EvalError {
	return &EvalError{Kind: "NoVariablesAllowed", Detail: fmt.Sprintf("variable %q referenced where none are allowed", name)}
}

// Env is the variable environment Eval evaluates expressions against.
type Env map[VarName]Dyn

// similarNames returns every key in env whose Levenshtein distance to name
// is less than 3, for "did you mean" unknown-variable diagnostics.
func similarNames(env Env, name VarName) []VarName {
	var out []VarName
	for k := range env {
		if levenshtein.Distance(string(k), string(name), nil) < 3 {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Eval evaluates an expression against an environment. It is pure and total:
// for any expression/environment pair it either returns a Dyn or a typed
// *EvalError, never panics on malformed input.
func Eval(e Expr, env Env) (Dyn, error) {
	span := e.span()
	val, err := evalInner(e, env)
	if err != nil {
		if ee, ok := err.(*EvalError); ok && ee.Span == (Span{}) {
			return Dyn{}, ee.At(span)
		}
		return Dyn{}, err
	}
	return val.At(span), nil
}

// EvalNoVars evaluates an expression that must not reference any variables,
// turning any unresolved reference into NoVariablesAllowed.
func EvalNoVars(e Expr) (Dyn, error) {
	v, err := Eval(e, Env{})
	if err != nil {
		if ee, ok := err.(*EvalError); ok && ee.Kind == "UnknownVariable" {
			// Extract the var name back out is not possible from the message
			// alone, so NoVariablesAllowed is raised generically here; callers
			// that need the name should use VarRefs beforehand.
			return Dyn{}, &EvalError{Kind: "NoVariablesAllowed", Detail: ee.Detail, Span: ee.Span}
		}
		return Dyn{}, err
	}
	return v, nil
}

func evalInner(e Expr, env Env) (Dyn, error) {
	switch n := e.(type) {
	case *ExprLiteral:
		return n.Value, nil

	case *ExprVarRef:
		v, ok := env[n.Name]
		if !ok {
			return Dyn{}, errUnknownVariable(n.Name, similarNames(env, n.Name)).At(n.AtSpan)
		}
		return v.At(n.AtSpan), nil

	case *ExprConcat:
		var sb strings.Builder
		for _, part := range n.Parts {
			v, err := Eval(part, env)
			if err != nil {
				return Dyn{}, err
			}
			s, err := v.AsString()
			if err != nil {
				return Dyn{}, err
			}
			sb.WriteString(s)
		}
		return Dyn{Text: sb.String(), Span: n.AtSpan}, nil

	case *ExprBinOp:
		a, err := Eval(n.Left, env)
		if err != nil {
			return Dyn{}, err
		}
		b, err := Eval(n.Right, env)
		if err != nil {
			return Dyn{}, err
		}
		return evalBinOp(n.Op, a, b)

	case *ExprUnaryOp:
		a, err := Eval(n.Operand, env)
		if err != nil {
			return Dyn{}, err
		}
		switch n.Op {
		case OpNot:
			ab, err := a.AsBool()
			if err != nil {
				return Dyn{}, err
			}
			return FromBool(!ab), nil
		}
		return Dyn{}, &EvalError{Kind: "UnknownUnaryOp"}

	case *ExprIfElse:
		cond, err := Eval(n.Cond, env)
		if err != nil {
			return Dyn{}, err
		}
		cb, err := cond.AsBool()
		if err != nil {
			return Dyn{}, err
		}
		if cb {
			return Eval(n.Yes, env)
		}
		return Eval(n.No, env)

	case *ExprJSONAccess:
		val, err := Eval(n.Value, env)
		if err != nil {
			return Dyn{}, err
		}
		idx, err := Eval(n.Index, env)
		if err != nil {
			return Dyn{}, err
		}
		return evalJSONAccess(val, idx)

	case *ExprFunctionCall:
		args := make([]Dyn, len(n.Args))
		for i, a := range n.Args {
			v, err := Eval(a, env)
			if err != nil {
				return Dyn{}, err
			}
			args[i] = v
		}
		v, err := callExprFunction(n.Name, args)
		if err != nil {
			return Dyn{}, err
		}
		return v, nil

	case *ExprJSONArray:
		entries := make([]any, len(n.Values))
		for i, ve := range n.Values {
			v, err := Eval(ve, env)
			if err != nil {
				return Dyn{}, err
			}
			s, err := v.AsString()
			if err != nil {
				return Dyn{}, err
			}
			entries[i] = s
		}
		return FromJSON(entries)

	case *ExprJSONObject:
		obj := make(map[string]any, len(n.Entries))
		for _, kv := range n.Entries {
			k, err := Eval(kv.Key, env)
			if err != nil {
				return Dyn{}, err
			}
			ks, err := k.AsString()
			if err != nil {
				return Dyn{}, err
			}
			v, err := Eval(kv.Value, env)
			if err != nil {
				return Dyn{}, err
			}
			vs, err := v.AsString()
			if err != nil {
				return Dyn{}, err
			}
			obj[ks] = vs
		}
		return FromJSON(obj)
	}
	return Dyn{}, &EvalError{Kind: "UnknownExprNode"}
}

func evalBinOp(op BinOp, a, b Dyn) (Dyn, error) {
	switch op {
	case OpEquals:
		return FromBool(a.Equal(b)), nil
	case OpNotEquals:
		return FromBool(!a.Equal(b)), nil
	case OpAnd:
		ab, err := a.AsBool()
		if err != nil {
			return Dyn{}, err
		}
		bb, err := b.AsBool()
		if err != nil {
			return Dyn{}, err
		}
		return FromBool(ab && bb), nil
	case OpOr:
		ab, err := a.AsBool()
		if err != nil {
			return Dyn{}, err
		}
		bb, err := b.AsBool()
		if err != nil {
			return Dyn{}, err
		}
		return FromBool(ab || bb), nil
	case OpPlus:
		af, aerr := a.AsFloat64()
		bf, berr := b.AsFloat64()
		if aerr == nil && berr == nil {
			return FromFloat(af + bf), nil
		}
		as, err := a.AsString()
		if err != nil {
			return Dyn{}, err
		}
		bs, err := b.AsString()
		if err != nil {
			return Dyn{}, err
		}
		return FromString(as + bs), nil
	case OpMinus:
		af, err := a.AsFloat64()
		if err != nil {
			return Dyn{}, err
		}
		bf, err := b.AsFloat64()
		if err != nil {
			return Dyn{}, err
		}
		return FromFloat(af - bf), nil
	case OpTimes:
		af, err := a.AsFloat64()
		if err != nil {
			return Dyn{}, err
		}
		bf, err := b.AsFloat64()
		if err != nil {
			return Dyn{}, err
		}
		return FromFloat(af * bf), nil
	case OpDiv:
		af, err := a.AsFloat64()
		if err != nil {
			return Dyn{}, err
		}
		bf, err := b.AsFloat64()
		if err != nil {
			return Dyn{}, err
		}
		return FromFloat(af / bf), nil
	case OpMod:
		af, err := a.AsFloat64()
		if err != nil {
			return Dyn{}, err
		}
		bf, err := b.AsFloat64()
		if err != nil {
			return Dyn{}, err
		}
		if bf == 0 {
			return Dyn{}, &EvalError{Kind: "DivisionByZero"}
		}
		mod := af - bf*float64(int64(af/bf))
		return FromFloat(mod), nil
	case OpGT:
		af, err := a.AsFloat64()
		if err != nil {
			return Dyn{}, err
		}
		bf, err := b.AsFloat64()
		if err != nil {
			return Dyn{}, err
		}
		return FromBool(af > bf), nil
	case OpLT:
		af, err := a.AsFloat64()
		if err != nil {
			return Dyn{}, err
		}
		bf, err := b.AsFloat64()
		if err != nil {
			return Dyn{}, err
		}
		return FromBool(af < bf), nil
	case OpElvis:
		if a.Text == "" && !a.IsOpaque() {
			return b, nil
		}
		return a, nil
	case OpRegexMatch:
		pat, err := b.AsString()
		if err != nil {
			return Dyn{}, err
		}
		re, err := regexp.Compile(pat)
		if err != nil {
			return Dyn{}, &EvalError{Kind: "InvalidRegex", Detail: err.Error(), Cause: err}
		}
		s, err := a.AsString()
		if err != nil {
			return Dyn{}, err
		}
		return FromBool(re.MatchString(s)), nil
	}
	return Dyn{}, &EvalError{Kind: "UnknownBinOp"}
}

func evalJSONAccess(val, index Dyn) (Dyn, error) {
	jv, err := val.AsJSONValue()
	if err != nil {
		return Dyn{}, &EvalError{Kind: "CannotIndex", Detail: val.String()}
	}
	switch arr := jv.(type) {
	case []any:
		i, err := index.AsInt32()
		if err != nil {
			return Dyn{}, err
		}
		if int(i) < 0 || int(i) >= len(arr) {
			return FromJSON(nil)
		}
		return FromJSON(arr[i])
	case map[string]any:
		key, err := index.AsString()
		if err != nil {
			return Dyn{}, err
		}
		if v, ok := arr[key]; ok {
			return FromJSON(v)
		}
		if i, err := index.AsInt32(); err == nil {
			if v, ok := arr[strconv.Itoa(int(i))]; ok {
				return FromJSON(v)
			}
		}
		return FromJSON(nil)
	default:
		return Dyn{}, &EvalError{Kind: "CannotIndex", Detail: val.String()}
	}
}

// callExprFunction implements the closed function table: round and replace.
func callExprFunction(name string, args []Dyn) (Dyn, error) {
	switch name {
	case "round":
		if len(args) != 2 {
			return Dyn{}, &EvalError{Kind: "WrongArgCount", Detail: name}
		}
		num, err := args[0].AsFloat64()
		if err != nil {
			return Dyn{}, err
		}
		digits, err := args[1].AsInt32()
		if err != nil {
			return Dyn{}, err
		}
		return FromString(strconv.FormatFloat(num, 'f', int(digits), 64)), nil

	case "replace":
		if len(args) != 3 {
			return Dyn{}, &EvalError{Kind: "WrongArgCount", Detail: name}
		}
		s, err := args[0].AsString()
		if err != nil {
			return Dyn{}, err
		}
		pat, err := args[1].AsString()
		if err != nil {
			return Dyn{}, err
		}
		repl, err := args[2].AsString()
		if err != nil {
			return Dyn{}, err
		}
		re, err := regexp.Compile(pat)
		if err != nil {
			return Dyn{}, &EvalError{Kind: "InvalidRegex", Detail: err.Error(), Cause: err}
		}
		return FromString(re.ReplaceAllString(s, convertReplaceTemplate(repl))), nil

	default:
		return Dyn{}, &EvalError{Kind: "UnknownFunction", Detail: name}
	}
}

// convertReplaceTemplate turns a `replace()` template using `$&` for the
// whole match and `\` as an escape introducer into Go regexp's `$name`
// replacement syntax: `$&` becomes `${0}` (braced, so a following letter,
// digit or underscore is not read as part of the group name), a
// backslash-escaped character is
// emitted literally (with a literal `$` doubled so Go doesn't reinterpret
// it), and any other bare `$` is doubled so it stays literal too.
func convertReplaceTemplate(repl string) string {
	var sb strings.Builder
	runes := []rune(repl)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '\\' && i+1 < len(runes):
			i++
			if runes[i] == '$' {
				sb.WriteString("$$")
			} else {
				sb.WriteRune(runes[i])
			}
		case c == '$' && i+1 < len(runes) && runes[i+1] == '&':
			sb.WriteString("${0}")
			i++
		case c == '$':
			sb.WriteString("$$")
		default:
			sb.WriteRune(c)
		}
	}
	return sb.String()
}

// ResolveRefs substitutes every variable reference in e with its literal
// value from env. An unresolved reference yields UnknownVariable with
// Levenshtein-near suggestions from env's keys.
func ResolveRefs(e Expr, env Env) (Expr, error) {
	return mapVarRefs(e, func(span Span, name VarName) (Expr, error) {
		v, ok := env[name]
		if !ok {
			return nil, errUnknownVariable(name, similarNames(env, name)).At(span)
		}
		return &ExprLiteral{Value: v}, nil
	})
}
