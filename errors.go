package wisp

import "fmt"

// GraphError covers scope-graph consistency failures: a variable not found
// during UpdateValue, a stale ScopeIndex, or an internal relation
// inconsistency caught by Validate. A small typed struct with Unwrap,
// rather than a sentinel or a bare fmt.Errorf string.
type GraphError struct {
	Kind   string
	Detail string
	Index  ScopeIndex
	Cause  error
}

func (e *GraphError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return e.Kind
}

func (e *GraphError) Unwrap() error { return e.Cause }

func errVariableNotInScope(v VarName) *GraphError {
	return &GraphError{Kind: "VariableNotInScope", Detail: fmt.Sprintf("variable %q not in scope", v)}
}

func errScopeMissing(idx ScopeIndex) *GraphError {
	return &GraphError{Kind: "ScopeMissing", Detail: fmt.Sprintf("scope %d does not exist", idx), Index: idx}
}

// TransportError covers IPC read/write failures and closed channels; it is
// always logged and the offending command dropped.
type TransportError struct {
	Detail string
	Cause  error
}

func (e *TransportError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("transport: %s", e.Detail)
	}
	return "transport error"
}

func (e *TransportError) Unwrap() error { return e.Cause }

// ValidationError covers resolver-time configuration problems: an unknown
// widget, a missing attribute, a variable name colliding with a built-in.
type ValidationError struct {
	Detail string
	Span   Span
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s", e.Detail)
}
