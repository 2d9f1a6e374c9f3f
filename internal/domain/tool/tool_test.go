package tool

import (
	"context"
	"testing"
)

func TestUIKindForTool_FixedNameTable(t *testing.T) {
	cases := map[string]UIKind{
		"read_file":  UIRead,
		"edit_file":  UIEdit,
		"terminal":   UIExecute,
		"grep":       UISearch,
		"fetch":      UIFetch,
		"todo_write": UIThink,
	}
	for name, want := range cases {
		if got := UIKindForTool(name, KindRead); got != want {
			t.Errorf("UIKindForTool(%q, ...) = %q, want %q", name, got, want)
		}
	}
}

func TestUIKindForTool_FallsBackToDeclaredKind(t *testing.T) {
	if got := UIKindForTool("some_custom_tool", KindDelete); got != UIEdit {
		t.Errorf("got %q, want %q (delete falls back to edit)", got, UIEdit)
	}
	if got := UIKindForTool("some_custom_tool", KindCommunicate); got != UIOther {
		t.Errorf("got %q, want %q (no mapping falls back to other)", got, UIOther)
	}
}

func TestPermission_CanUseTool(t *testing.T) {
	p := &Permission{AllowTools: []string{"read_file", "grep"}, DenyTools: []string{"grep"}}
	if p.CanUseTool("grep") {
		t.Error("deny list should win even when the tool is also allow-listed")
	}
	if !p.CanUseTool("read_file") {
		t.Error("expected read_file to be allowed")
	}
	if p.CanUseTool("terminal") {
		t.Error("expected terminal to be excluded by a non-empty allow list")
	}
}

func TestPermission_CanUseTool_EmptyAllowListMeansAll(t *testing.T) {
	p := &Permission{DenyTools: []string{"terminal"}}
	if !p.CanUseTool("anything") {
		t.Error("an empty allow list should permit any tool not explicitly denied")
	}
	if p.CanUseTool("terminal") {
		t.Error("terminal should remain denied")
	}
}

func TestPermission_ResolveCommand(t *testing.T) {
	p := &Permission{CommandPatterns: []CommandPattern{
		{Prefix: "git push", Status: PermissionDeny},
		{Prefix: "git", Status: PermissionAllow},
	}}
	if got := p.ResolveCommand("git push origin main"); got != PermissionDeny {
		t.Errorf("got %q, want deny (first matching prefix wins)", got)
	}
	if got := p.ResolveCommand("git status"); got != PermissionAllow {
		t.Errorf("got %q, want allow", got)
	}
	if got := p.ResolveCommand("ls -la"); got != PermissionAllow {
		t.Errorf("got %q, want allow for an unmatched command", got)
	}
}

func TestPermission_ResolveCommand_AskResolvesAllow(t *testing.T) {
	p := &Permission{CommandPatterns: []CommandPattern{{Prefix: "rm -rf", Status: PermissionAsk}}}
	if got := p.ResolveCommand("rm -rf /tmp/x"); got != PermissionAllow {
		t.Errorf("got %q, want allow (ask currently resolves to allow)", got)
	}
}

func TestPermission_FilteredDefinitions(t *testing.T) {
	reg := NewInMemoryRegistry()
	_ = reg.Register(&fakeTool{name: "read_file"})
	_ = reg.Register(&fakeTool{name: "terminal"})

	p := &Permission{AllowTools: []string{"read_file"}}
	defs := p.FilteredDefinitions(reg)
	if len(defs) != 1 || defs[0].Name != "read_file" {
		t.Fatalf("got %+v, want exactly [read_file]", defs)
	}
}

func TestInMemoryRegistry_RegisterListUnregister(t *testing.T) {
	reg := NewInMemoryRegistry()
	if err := reg.Register(&fakeTool{name: "a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := reg.Register(&fakeTool{name: "b"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := reg.Register(&fakeTool{name: "a"}); err == nil {
		t.Fatal("expected an error registering a duplicate name")
	}

	defs := reg.List()
	if len(defs) != 2 || defs[0].Name != "a" || defs[1].Name != "b" {
		t.Fatalf("expected registration order preserved, got %+v", defs)
	}

	if !reg.Has("a") {
		t.Error("expected Has(a) to be true")
	}
	if err := reg.Unregister("a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reg.Has("a") {
		t.Error("expected Has(a) to be false after Unregister")
	}
	if err := reg.Unregister("a"); err == nil {
		t.Fatal("expected an error unregistering a name that's already gone")
	}
	if len(reg.List()) != 1 {
		t.Fatalf("expected 1 remaining tool, got %d", len(reg.List()))
	}
}

func TestResult_SuccessAndDisplayOrOutput(t *testing.T) {
	r := &Result{Status: "success", Output: "plain"}
	if !r.Success() {
		t.Error("expected Success() to be true")
	}
	if r.DisplayOrOutput() != "plain" {
		t.Errorf("got %q, want fallback to Output", r.DisplayOrOutput())
	}

	r.Display = "rich"
	if r.DisplayOrOutput() != "rich" {
		t.Errorf("got %q, want Display to take priority", r.DisplayOrOutput())
	}

	errResult := &Result{Status: "error"}
	if errResult.Success() {
		t.Error("expected Success() to be false for an error result")
	}
}

type fakeTool struct{ name string }

func (f *fakeTool) Name() string                   { return f.name }
func (f *fakeTool) Description() string            { return "fake" }
func (f *fakeTool) Kind() Kind                     { return KindRead }
func (f *fakeTool) Schema() map[string]interface{} { return nil }
func (f *fakeTool) Execute(ctx context.Context, args map[string]interface{}, tc *ToolContext) (*Result, error) {
	return nil, nil
}

var _ Tool = (*fakeTool)(nil)
