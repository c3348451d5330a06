package wisp

import "testing"

func varRef(name VarName) Expr { return &ExprVarRef{Name: name} }

// Scenario A: global -> nested inheritance reference propagation.
func TestScopeGraph_InheritanceReferenceRegistration(t *testing.T) {
	g := FromGlobalVars(map[VarName]Dyn{"foo": FromString("hi")}, nil)
	global := g.GlobalIndex()

	s1, err := g.RegisterNewScope("s1", &global, global, nil)
	if err != nil {
		t.Fatalf("RegisterNewScope s1: %v", err)
	}
	s2, err := g.RegisterNewScope("s2", &s1, s1, nil)
	if err != nil {
		t.Fatalf("RegisterNewScope s2: %v", err)
	}

	if err := g.RegisterScopeReferencingVariable(s2, "foo"); err != nil {
		t.Fatalf("RegisterScopeReferencingVariable: %v", err)
	}

	e1, ok := g.inheritance.parentOf(s2)
	if !ok || e1.parent != s1 {
		t.Fatalf("expected s2 -> s1 inheritance edge")
	}
	if _, ok := e1.data["foo"]; !ok {
		t.Errorf("expected s2 -> s1 edge to reference foo")
	}

	e2, ok := g.inheritance.parentOf(s1)
	if !ok || e2.parent != global {
		t.Fatalf("expected s1 -> global inheritance edge")
	}
	if _, ok := e2.data["foo"]; !ok {
		t.Errorf("expected s1 -> global edge to reference foo")
	}
}

// Scenario B: listener firing across inheritance, seed call then update.
func TestScopeGraph_ListenerFiringAcrossInheritance(t *testing.T) {
	g := FromGlobalVars(map[VarName]Dyn{"a": FromString("1"), "b": FromString("2")}, nil)
	global := g.GlobalIndex()

	w, err := g.RegisterNewScope("w", &global, global, nil)
	if err != nil {
		t.Fatalf("RegisterNewScope: %v", err)
	}

	var calls []Env
	l := NewListener([]VarName{"a", "b"}, func(values Env) {
		calls = append(calls, values)
	})
	if err := g.RegisterListener(w, l); err != nil {
		t.Fatalf("RegisterListener: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("expected 1 seed call, got %d", len(calls))
	}
	if calls[0]["a"].Text != "1" || calls[0]["b"].Text != "2" {
		t.Errorf("seed call values = %v, want a=1 b=2", calls[0])
	}

	if err := g.UpdateValue(global, "a", FromString("9")); err != nil {
		t.Fatalf("UpdateValue: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls after update, got %d", len(calls))
	}
	if calls[1]["a"].Text != "9" || calls[1]["b"].Text != "2" {
		t.Errorf("post-update call values = %v, want a=9 b=2", calls[1])
	}
}

// Scenario C: provided-attribute recomputation cascades to child data and
// listeners.
func TestScopeGraph_ProvidedAttributeRecomputation(t *testing.T) {
	g := FromGlobalVars(map[VarName]Dyn{"x": FromString("1")}, nil)
	global := g.GlobalIndex()

	yExpr := &ExprConcat{Parts: []Expr{varRef("x"), &ExprLiteral{Value: FromString("!")}}}
	child, err := g.RegisterNewScope("child", nil, global, []ProvidedAttr{{AttrName: "y", Expr: yExpr}})
	if err != nil {
		t.Fatalf("RegisterNewScope: %v", err)
	}

	var lastSeen Dyn
	fired := 0
	l := NewListener([]VarName{"y"}, func(values Env) {
		fired++
		lastSeen = values["y"]
	})
	if err := g.RegisterListener(child, l); err != nil {
		t.Fatalf("RegisterListener: %v", err)
	}
	if fired != 1 || lastSeen.Text != "1!" {
		t.Fatalf("seed: fired=%d lastSeen=%q, want 1 and \"1!\"", fired, lastSeen.Text)
	}

	if err := g.UpdateValue(global, "x", FromString("2")); err != nil {
		t.Fatalf("UpdateValue: %v", err)
	}

	got := g.ScopeAt(child).Data()["y"]
	if got.Text != "2!" {
		t.Errorf("child data[y] = %q, want \"2!\"", got.Text)
	}
	if fired != 2 || lastSeen.Text != "2!" {
		t.Errorf("listener fired=%d lastSeen=%q, want 2 and \"2!\"", fired, lastSeen.Text)
	}
}

func TestScopeGraph_ProvidedAttributeRecomputationCascadesTwoLevels(t *testing.T) {
	// Exercises notifyValueChanged's explicit work-queue walk across a
	// chained cascade: global.x changes, child.y is derived from x, and
	// grandchild.z is derived from child.y — the recompute of z must only
	// happen once y has already been rewritten, and grandchild's own
	// listener must only observe the fully-cascaded value.
	g := FromGlobalVars(map[VarName]Dyn{"x": FromString("1")}, nil)
	global := g.GlobalIndex()

	yExpr := &ExprConcat{Parts: []Expr{varRef("x"), &ExprLiteral{Value: FromString("!")}}}
	child, err := g.RegisterNewScope("child", nil, global, []ProvidedAttr{{AttrName: "y", Expr: yExpr}})
	if err != nil {
		t.Fatalf("RegisterNewScope(child): %v", err)
	}

	zExpr := &ExprConcat{Parts: []Expr{varRef("y"), &ExprLiteral{Value: FromString("?")}}}
	grandchild, err := g.RegisterNewScope("grandchild", nil, child, []ProvidedAttr{{AttrName: "z", Expr: zExpr}})
	if err != nil {
		t.Fatalf("RegisterNewScope(grandchild): %v", err)
	}

	var lastSeen Dyn
	fired := 0
	l := NewListener([]VarName{"z"}, func(values Env) {
		fired++
		lastSeen = values["z"]
	})
	if err := g.RegisterListener(grandchild, l); err != nil {
		t.Fatalf("RegisterListener: %v", err)
	}
	if fired != 1 || lastSeen.Text != "1!?" {
		t.Fatalf("seed: fired=%d lastSeen=%q, want 1 and \"1!?\"", fired, lastSeen.Text)
	}

	if err := g.UpdateValue(global, "x", FromString("2")); err != nil {
		t.Fatalf("UpdateValue: %v", err)
	}

	if got := g.ScopeAt(child).Data()["y"]; got.Text != "2!" {
		t.Errorf("child data[y] = %q, want \"2!\"", got.Text)
	}
	if got := g.ScopeAt(grandchild).Data()["z"]; got.Text != "2!?" {
		t.Errorf("grandchild data[z] = %q, want \"2!?\"", got.Text)
	}
	if fired != 2 || lastSeen.Text != "2!?" {
		t.Errorf("listener fired=%d lastSeen=%q, want 2 and \"2!?\"", fired, lastSeen.Text)
	}
}

// Scenario D: scope removal cascades through the hierarchy relation.
func TestScopeGraph_RemoveScopeCascades(t *testing.T) {
	g := FromGlobalVars(map[VarName]Dyn{}, nil)
	global := g.GlobalIndex()

	a, err := g.RegisterNewScope("A", nil, global, nil)
	if err != nil {
		t.Fatalf("register A: %v", err)
	}
	b, err := g.RegisterNewScope("B", nil, a, nil)
	if err != nil {
		t.Fatalf("register B: %v", err)
	}
	c, err := g.RegisterNewScope("C", nil, b, nil)
	if err != nil {
		t.Fatalf("register C: %v", err)
	}

	if err := g.RemoveScope(a); err != nil {
		t.Fatalf("RemoveScope: %v", err)
	}

	if g.ScopeAt(a) != nil || g.ScopeAt(b) != nil || g.ScopeAt(c) != nil {
		t.Errorf("expected A, B, C all removed")
	}
	if err := g.Validate(); err != nil {
		t.Errorf("Validate after cascade removal: %v", err)
	}
}

func TestScopeGraph_RemoveScopeClearsInheritanceEdgeWhenSuperscopeDiffersFromAncestor(t *testing.T) {
	// A scope's inheritance superscope and its hierarchy ancestor are
	// independent (RegisterNewScope takes them as separate arguments). Here
	// D's hierarchy ancestor is global but its inheritance superscope is A,
	// so D is not a hierarchy descendant of A and survives RemoveScope(A)
	// untouched by the cascade; its now-stale inheritance edge to the
	// deleted A must still be cleaned up, not left dangling.
	g := FromGlobalVars(map[VarName]Dyn{}, nil)
	global := g.GlobalIndex()

	a, err := g.RegisterNewScope("A", nil, global, nil)
	if err != nil {
		t.Fatalf("register A: %v", err)
	}
	d, err := g.RegisterNewScope("D", &a, global, nil)
	if err != nil {
		t.Fatalf("register D: %v", err)
	}

	if err := g.RemoveScope(a); err != nil {
		t.Fatalf("RemoveScope(A): %v", err)
	}

	if g.ScopeAt(a) != nil {
		t.Errorf("expected A removed")
	}
	if g.ScopeAt(d) == nil {
		t.Fatalf("expected D to survive removal of A, since D is not A's hierarchy descendant")
	}
	if _, ok := g.inheritance.parentOf(d); ok {
		t.Errorf("expected D's inheritance edge to removed scope A to be cleared, left dangling")
	}
	if err := g.Validate(); err != nil {
		t.Errorf("Validate after removing a scope that is another scope's inheritance superscope: %v", err)
	}
}

func TestScopeGraph_UpdateValueRoundTrip(t *testing.T) {
	g := FromGlobalVars(map[VarName]Dyn{"v": FromString("0")}, nil)
	global := g.GlobalIndex()
	if err := g.UpdateValue(global, "v", FromString("42")); err != nil {
		t.Fatalf("UpdateValue: %v", err)
	}
	got, err := g.LookupVariableInScope(global, "v")
	if err != nil {
		t.Fatalf("LookupVariableInScope: %v", err)
	}
	if got.Text != "42" {
		t.Errorf("lookup = %q, want \"42\"", got.Text)
	}
}

func TestScopeGraph_UpdateValueUnknownVariableErrors(t *testing.T) {
	g := FromGlobalVars(map[VarName]Dyn{}, nil)
	if err := g.UpdateValue(g.GlobalIndex(), "nope", FromString("x")); err == nil {
		t.Fatalf("expected an error updating an unknown variable")
	}
	if _, ok := g.scopes[g.GlobalIndex()].data["nope"]; ok {
		t.Errorf("expected no mutation on a failed update")
	}
}

func TestScopeGraph_RegisterNewScopeAttributeFailureLeavesGraphUntouched(t *testing.T) {
	g := FromGlobalVars(map[VarName]Dyn{}, nil)
	global := g.GlobalIndex()
	before := len(g.scopes)

	_, err := g.RegisterNewScope("bad", nil, global, []ProvidedAttr{{AttrName: "y", Expr: varRef("missing")}})
	if err == nil {
		t.Fatalf("expected attribute evaluation to fail")
	}
	if len(g.scopes) != before {
		t.Errorf("expected scope count unchanged after a failed RegisterNewScope, got %d vs %d", len(g.scopes), before)
	}
}

func TestScopeGraph_CurrentlyUsedAndUnusedGlobals(t *testing.T) {
	g := FromGlobalVars(map[VarName]Dyn{"used": FromString("1"), "unused": FromString("2")}, nil)
	global := g.GlobalIndex()
	w, err := g.RegisterNewScope("w", &global, global, nil)
	if err != nil {
		t.Fatalf("RegisterNewScope: %v", err)
	}
	fired := 0
	l := NewListener([]VarName{"used"}, func(Env) { fired++ })
	if err := g.RegisterListener(w, l); err != nil {
		t.Fatalf("RegisterListener: %v", err)
	}

	used := g.CurrentlyUsedGlobals()
	if len(used) != 1 || used[0] != "used" {
		t.Errorf("CurrentlyUsedGlobals = %v, want [used]", used)
	}
	unused := g.CurrentlyUnusedGlobals()
	if len(unused) != 1 || unused[0] != "unused" {
		t.Errorf("CurrentlyUnusedGlobals = %v, want [unused]", unused)
	}

	if err := g.UpdateValue(global, "used", FromString("9")); err != nil {
		t.Fatalf("UpdateValue: %v", err)
	}
	if fired != 2 { // seed + update
		t.Errorf("expected listener on a used global to fire on update, fired=%d", fired)
	}

	if err := g.UpdateValue(global, "unused", FromString("x")); err != nil {
		t.Fatalf("UpdateValue: %v", err)
	}
	if fired != 2 {
		t.Errorf("expected updating an unused global to reach no listener, fired=%d", fired)
	}
}

func TestScopeGraph_RegisterListenerEmptyNeedsFiresOnceImmediately(t *testing.T) {
	g := FromGlobalVars(map[VarName]Dyn{}, nil)
	fired := 0
	l := NewListener(nil, func(Env) { fired++ })
	if err := g.RegisterListener(g.GlobalIndex(), l); err != nil {
		t.Fatalf("RegisterListener: %v", err)
	}
	if fired != 1 {
		t.Errorf("expected exactly one immediate call for a no-needed-variables listener, got %d", fired)
	}
}

func TestScopeGraph_ClearResetsIndexAllocation(t *testing.T) {
	g := FromGlobalVars(map[VarName]Dyn{"a": FromString("1")}, nil)
	global := g.GlobalIndex()
	if _, err := g.RegisterNewScope("x", nil, global, nil); err != nil {
		t.Fatalf("RegisterNewScope: %v", err)
	}

	g.Clear(map[VarName]Dyn{"b": FromString("2")})
	if g.GlobalIndex() != 0 {
		t.Errorf("expected Clear to reset index allocation to 0, got %d", g.GlobalIndex())
	}
	if _, err := g.LookupVariableInScope(g.GlobalIndex(), "b"); err != nil {
		t.Errorf("expected the re-seeded global to contain b: %v", err)
	}
	if _, err := g.LookupVariableInScope(g.GlobalIndex(), "a"); err == nil {
		t.Errorf("expected the old global variable a to be gone after Clear")
	}
}

func TestScopeGraph_RemoveScopeRejectsGlobal(t *testing.T) {
	g := FromGlobalVars(map[VarName]Dyn{}, nil)
	if err := g.RemoveScope(g.GlobalIndex()); err == nil {
		t.Fatalf("expected an error removing the global scope")
	}
}

func TestScopeGraph_RequestRemoveScopeViaEvent(t *testing.T) {
	events := make(chan ScopeGraphEvent, 1)
	g := FromGlobalVars(map[VarName]Dyn{}, events)
	global := g.GlobalIndex()
	child, err := g.RegisterNewScope("child", nil, global, nil)
	if err != nil {
		t.Fatalf("RegisterNewScope: %v", err)
	}

	g.RequestRemoveScope(child)
	evt := <-events
	g.HandleScopeGraphEvent(evt)

	if g.ScopeAt(child) != nil {
		t.Errorf("expected the requested scope to be removed after handling the event")
	}
}

func TestScopeGraph_Validate(t *testing.T) {
	g := FromGlobalVars(map[VarName]Dyn{"a": FromString("1")}, nil)
	global := g.GlobalIndex()
	s1, err := g.RegisterNewScope("s1", &global, global, nil)
	if err != nil {
		t.Fatalf("RegisterNewScope: %v", err)
	}
	if err := g.RegisterScopeReferencingVariable(s1, "a"); err != nil {
		t.Fatalf("RegisterScopeReferencingVariable: %v", err)
	}
	if err := g.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}
