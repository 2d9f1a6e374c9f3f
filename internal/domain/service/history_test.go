package service

import (
	"strings"
	"testing"

	"github.com/ngoclaw-labs/turncore/internal/domain/entity"
)

func TestProjectModelFacing_CoalescesAssistantTextAndToolCalls(t *testing.T) {
	history := []entity.HistoryEvent{
		entity.UserMessageEvent("do the thing"),
		entity.AssistantTextEvent("on it"),
		entity.ToolCallEvent("c1", "read_file", map[string]interface{}{"path": "a.go"}),
		entity.ToolResultEvent("c1", "read_file", "success", "package main", nil),
		entity.AssistantTextEvent("done"),
	}

	msgs := ProjectModelFacing(history, "you are an agent", 0, 10)

	if msgs[0].Role != "system" || msgs[0].Content != "you are an agent" {
		t.Fatalf("expected a leading system message, got %+v", msgs[0])
	}
	if msgs[1].Role != "user" {
		t.Fatalf("expected the user message next, got %+v", msgs[1])
	}
	assistant := msgs[2]
	if assistant.Role != "assistant" || assistant.Content != "on it" || len(assistant.ToolCalls) != 1 {
		t.Fatalf("expected one coalesced assistant message with its tool call, got %+v", assistant)
	}
	if msgs[3].Role != "tool" || msgs[3].ToolCallID != "c1" {
		t.Fatalf("expected a tool-role message for the result, got %+v", msgs[3])
	}
	last := msgs[len(msgs)-1]
	if last.Role != "assistant" || last.Content != "done" {
		t.Fatalf("expected a trailing assistant message, got %+v", last)
	}
}

func TestProjectModelFacing_NoSystemPromptOmitsLeadingMessage(t *testing.T) {
	msgs := ProjectModelFacing([]entity.HistoryEvent{entity.UserMessageEvent("hi")}, "", 0, 10)
	if msgs[0].Role != "user" {
		t.Fatalf("expected no system message when systemPrompt is empty, got %+v", msgs[0])
	}
}

func TestProjectModelFacing_FailedToolResultsKeepFullText(t *testing.T) {
	long := strings.Repeat("line\n", 50)
	history := []entity.HistoryEvent{
		entity.ToolCallEvent("c1", "terminal", nil),
		entity.ToolResultEvent("c1", "terminal", "error", long, nil),
	}
	msgs := ProjectModelFacing(history, "", 10, 0)

	toolMsg := msgs[len(msgs)-1]
	if toolMsg.Content != long {
		t.Fatal("expected a failed tool call's output to never be humanized/truncated")
	}
}

func TestProjectModelFacing_RecentSuccessfulResultsKeepFullFidelity(t *testing.T) {
	long := strings.Repeat("line\n", 50)
	history := []entity.HistoryEvent{
		entity.ToolCallEvent("c1", "read_file", nil),
		entity.ToolResultEvent("c1", "read_file", "success", long, nil),
	}
	// keepRecent=1 means the single, most recent tool result stays uncompressed.
	msgs := ProjectModelFacing(history, "", 10, 1)

	toolMsg := msgs[len(msgs)-1]
	if toolMsg.Content != long {
		t.Fatal("expected the most recent successful tool result to be kept at full fidelity")
	}
}

func TestProjectModelFacing_OlderSuccessfulResultsAreHumanized(t *testing.T) {
	long := strings.Repeat("line\n", 50)
	history := []entity.HistoryEvent{
		entity.ToolCallEvent("c1", "read_file", nil),
		entity.ToolResultEvent("c1", "read_file", "success", long, nil),
		entity.ToolCallEvent("c2", "read_file", nil),
		entity.ToolResultEvent("c2", "read_file", "success", "short", nil),
	}
	// keepRecent=1: only the most recent tool result (c2) stays uncompressed.
	msgs := ProjectModelFacing(history, "", 10, 1)

	var c1Msg *LLMMessage
	for i := range msgs {
		if msgs[i].ToolCallID == "c1" {
			c1Msg = &msgs[i]
		}
	}
	if c1Msg == nil {
		t.Fatal("expected a tool-role message for c1")
	}
	if c1Msg.Content == long {
		t.Fatal("expected the older successful tool result to be humanized/elided")
	}
}

func TestProjectModelFacing_ReasoningEventsAreDropped(t *testing.T) {
	history := []entity.HistoryEvent{entity.ReasoningEvent("thinking hard"), entity.AssistantTextEvent("answer")}
	msgs := ProjectModelFacing(history, "", 0, 0)

	for _, m := range msgs {
		if strings.Contains(m.Content, "thinking hard") {
			t.Fatal("expected reasoning text to never be resent to the model")
		}
	}
}

func TestProjectModelFacing_HandoffAndSystemEventsBecomeUserMessages(t *testing.T) {
	history := []entity.HistoryEvent{entity.HandoffEvent("handing off"), entity.SystemEvent("policy injected")}
	msgs := ProjectModelFacing(history, "", 0, 0)

	for _, m := range msgs {
		if m.Role != "user" {
			t.Fatalf("expected handoff/system events to project as user messages, got %+v", m)
		}
	}
}
