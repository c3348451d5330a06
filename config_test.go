package wisp

import "testing"

func TestValidate_UnknownWidgetType(t *testing.T) {
	cfg := &Config{
		WindowDefinitions: map[string]*WindowDefinition{
			"w": {Name: "w", Body: &WidgetNode{WidgetType: "not-a-real-widget"}},
		},
	}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected an error for an unknown widget type")
	}
}

func TestValidate_DuplicateWidgetParams(t *testing.T) {
	cfg := &Config{
		WidgetDefinitions: map[string]*WidgetDefinition{
			"w": {Name: "w", Params: []AttrName{"x", "x"}, Body: &WidgetNode{WidgetType: "label"}},
		},
	}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected an error for a widget with duplicate parameter names")
	}
}

func TestValidate_ShadowingBuiltinVariableRejected(t *testing.T) {
	cfg := &Config{VarDefinitions: map[VarName]Dyn{VarSysMem: FromString("nope")}}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected an error for a variable shadowing a built-in")
	}
}

func TestValidate_StackingAndAnchorVocabulary(t *testing.T) {
	cfg := &Config{
		WindowDefinitions: map[string]*WindowDefinition{
			"w": {Name: "w", Stacking: "not-a-mode", Body: &WidgetNode{WidgetType: "label"}},
		},
	}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected an error for an invalid stacking mode")
	}

	cfg = &Config{
		WindowDefinitions: map[string]*WindowDefinition{
			"w": {Name: "w", Geometry: WindowGeometry{Anchor: "north-by-northwest"}, Body: &WidgetNode{WidgetType: "label"}},
		},
	}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected an error for an invalid anchor point")
	}
}

func TestResolver_GenerateInitialStateMergesLiteralsAndPollSeeds(t *testing.T) {
	cfg := &Config{
		VarDefinitions: map[VarName]Dyn{"foo": FromString("bar")},
		ScriptVarDefinitions: map[VarName]*ScriptVarDef{
			"computed": {Name: "computed", Kind: ScriptVarPoll, Func: func() (Dyn, error) { return FromString("seeded"), nil }},
			"declared": {Name: "declared", Kind: ScriptVarPoll, Initial: func() *Dyn { d := FromString("explicit"); return &d }()},
			"live":     {Name: "live", Kind: ScriptVarListen, Command: "echo hi"},
		},
	}
	resolver, err := NewResolver(cfg)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	state, err := resolver.GenerateInitialState()
	if err != nil {
		t.Fatalf("GenerateInitialState: %v", err)
	}
	if state["foo"].Text != "bar" {
		t.Errorf("foo = %q, want \"bar\"", state["foo"].Text)
	}
	if state["computed"].Text != "seeded" {
		t.Errorf("computed = %q, want \"seeded\" (ran the source once)", state["computed"].Text)
	}
	if state["declared"].Text != "explicit" {
		t.Errorf("declared = %q, want \"explicit\" (declared initial takes precedence)", state["declared"].Text)
	}
	if _, ok := state["live"]; ok {
		t.Errorf("expected a listen variable to contribute no seed value")
	}
}

func TestResolver_BuiltinScriptVarsRegistered(t *testing.T) {
	resolver, err := NewResolver(&Config{})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	if _, ok := resolver.GetScriptVar(VarSysTime); !ok {
		t.Errorf("expected the built-in SYS_TIME script variable to be registered")
	}
}

func TestResolver_ScriptVarsTriggeredByRunWhileIndex(t *testing.T) {
	cfg := &Config{
		ScriptVarDefinitions: map[VarName]*ScriptVarDef{
			"gated": {
				Name:     "gated",
				Kind:     ScriptVarPoll,
				RunWhile: &ExprVarRef{Name: "enabled"},
			},
		},
	}
	resolver, err := NewResolver(cfg)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	triggered := resolver.ScriptVarsTriggeredBy("enabled")
	if len(triggered) != 1 || triggered[0] != "gated" {
		t.Errorf("ScriptVarsTriggeredBy(enabled) = %v, want [gated]", triggered)
	}
}
