package entity

import (
	"testing"
	"time"

	"github.com/ngoclaw-labs/turncore/internal/domain/valueobject"
)

func TestInternalSession_AppendAndHistory(t *testing.T) {
	s := NewInternalSession("s1", "primary", "primary")
	s.Append(UserMessageEvent("hello"))
	s.Append(AssistantTextEvent("hi there"))

	if s.Len() != 2 {
		t.Fatalf("got Len() = %d, want 2", s.Len())
	}
	history := s.History()
	if len(history) != 2 {
		t.Fatalf("got %d history events, want 2", len(history))
	}
}

func TestInternalSession_History_ReturnsASnapshotCopy(t *testing.T) {
	s := NewInternalSession("s1", "primary", "primary")
	s.Append(UserMessageEvent("hello"))

	history := s.History()
	history[0].Type = HistoryEventType("mutated")

	if got := s.History()[0].Type; got == HistoryEventType("mutated") {
		t.Fatal("mutating the returned slice leaked into the session's history")
	}
}

func TestInternalSession_Append_TimestampsMonotonicallyNonDecreasing(t *testing.T) {
	s := NewInternalSession("s1", "primary", "primary")
	first := UserMessageEvent("first")
	first.Timestamp = time.Now()
	s.Append(first)

	backdated := AssistantTextEvent("second")
	backdated.Timestamp = first.Timestamp.Add(-time.Hour)
	s.Append(backdated)

	history := s.History()
	if history[1].Timestamp.Before(history[0].Timestamp) {
		t.Fatalf("expected the second event's timestamp to be bumped forward, got %v before %v",
			history[1].Timestamp, history[0].Timestamp)
	}
}

func TestNewCompositeSession_CreatesASharedTodoList(t *testing.T) {
	primary := NewInternalSession("s1", "primary", "primary")
	composite := NewCompositeSession("s1", "/tmp/work", primary, valueobject.Passthrough())

	if composite.Todos() == nil {
		t.Fatal("expected NewCompositeSession to create a TodoList")
	}
	if composite.Todos().ID() != "s1-todos" {
		t.Errorf("got TodoList id %q, want %q", composite.Todos().ID(), "s1-todos")
	}
	if composite.Coagent() != nil {
		t.Error("expected no co-agent session until SetCoagent is called")
	}
}

func TestCompositeSession_SetCoagent(t *testing.T) {
	primary := NewInternalSession("s1", "primary", "primary")
	composite := NewCompositeSession("s1", "/tmp/work", primary, valueobject.Coagent(nil, true))

	coagent := NewInternalSession("s1-coagent", "reviewer", "coagent")
	composite.SetCoagent(coagent)

	if composite.Coagent() != coagent {
		t.Fatal("expected Coagent() to return the session set by SetCoagent")
	}
}

func TestCompositeSession_CancelIsIdempotentAndResettable(t *testing.T) {
	primary := NewInternalSession("s1", "primary", "primary")
	composite := NewCompositeSession("s1", "/tmp/work", primary, valueobject.Passthrough())

	if composite.Cancelled() {
		t.Fatal("expected a fresh session to not be cancelled")
	}
	composite.Cancel()
	composite.Cancel() // idempotent
	if !composite.Cancelled() {
		t.Fatal("expected Cancelled() to be true after Cancel()")
	}
	composite.ResetCancelled()
	if composite.Cancelled() {
		t.Fatal("expected ResetCancelled() to clear the flag")
	}
}

func TestCompositeSession_SetPolicy(t *testing.T) {
	primary := NewInternalSession("s1", "primary", "primary")
	composite := NewCompositeSession("s1", "/tmp/work", primary, valueobject.Passthrough())

	composite.SetPolicy(valueobject.Loop())
	if composite.Policy().Kind != valueobject.PolicyLoop {
		t.Fatalf("got policy kind %q, want %q", composite.Policy().Kind, valueobject.PolicyLoop)
	}
}
