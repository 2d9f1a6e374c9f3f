package valueobject

import (
	"reflect"
	"testing"
)

func TestPolicyConstructors(t *testing.T) {
	if got := Passthrough(); got.Kind != PolicyPassthrough {
		t.Errorf("Passthrough().Kind = %q", got.Kind)
	}
	if got := Loop(); got.Kind != PolicyLoop {
		t.Errorf("Loop().Kind = %q", got.Kind)
	}
	if got := Static("keep going"); got.Kind != PolicyStatic || got.Message != "keep going" {
		t.Errorf("Static() = %+v", got)
	}
	if got := Generated("summarize"); got.Kind != PolicyGenerated || got.Prompt != "summarize" {
		t.Errorf("Generated() = %+v", got)
	}
	coagent := Coagent([]string{"task_complete"}, true)
	if coagent.Kind != PolicyCoagent || !reflect.DeepEqual(coagent.CoagentTools, []string{"task_complete"}) || !coagent.CanTerminate {
		t.Errorf("Coagent() = %+v", coagent)
	}
}

func TestControlFlowPolicy_RequiresCoagent(t *testing.T) {
	if Passthrough().RequiresCoagent() {
		t.Error("passthrough should not require a co-agent")
	}
	if Loop().RequiresCoagent() {
		t.Error("loop should not require a co-agent")
	}
	if !Coagent(nil, false).RequiresCoagent() {
		t.Error("the coagent policy should require a co-agent")
	}
}
