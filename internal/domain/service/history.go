package service

import "github.com/ngoclaw-labs/turncore/internal/domain/entity"

// ProjectModelFacing flattens an InternalSession's interleaved history
// into the coalesced LLMMessage slice a model call actually sends
// (§4.4): runs of consecutive assistant_text and tool_call events become
// a single assistant message carrying both (several texts in one run are
// joined with newlines);
// each tool_result becomes its own tool-role message. Only successful
// tool results are humanized, and never the most recent keepRecent of
// them — failed calls always keep their full error text (§4.4: "Failed
// tool calls retain their full error text").
func ProjectModelFacing(history []entity.HistoryEvent, systemPrompt string, byteThreshold, keepRecent int) []LLMMessage {
	msgs := make([]LLMMessage, 0, len(history)+1)
	if systemPrompt != "" {
		msgs = append(msgs, LLMMessage{Role: "system", Content: systemPrompt})
	}

	uncompressed := lastNIndexes(history, entity.HistoryToolResult, keepRecent)

	var pendingText string
	var pendingCalls []ToolCallFragment
	haveAssistantTurn := func() bool { return pendingText != "" || len(pendingCalls) > 0 }
	flush := func() {
		if !haveAssistantTurn() {
			return
		}
		msgs = append(msgs, LLMMessage{Role: "assistant", Content: pendingText, ToolCalls: pendingCalls})
		pendingText = ""
		pendingCalls = nil
	}

	for i, ev := range history {
		switch ev.Type {
		case entity.HistoryUserMessage:
			flush()
			msgs = append(msgs, LLMMessage{Role: "user", Content: ev.Text})
		case entity.HistoryAssistantText:
			if pendingText != "" {
				pendingText += "\n" + ev.Text
			} else {
				pendingText = ev.Text
			}
		case entity.HistoryToolCall:
			pendingCalls = append(pendingCalls, ToolCallFragment{ID: ev.ToolCallID, Name: ev.ToolName, Arguments: ev.ToolArguments})
		case entity.HistoryToolResult:
			flush()
			content := ev.ToolOutput
			if ev.ToolStatus == string(entity.ToolCallSuccess) && !uncompressed[i] {
				content = humanizeOutput(content, byteThreshold)
			}
			msgs = append(msgs, LLMMessage{Role: "tool", Content: content, ToolCallID: ev.ToolCallID, Name: ev.ToolName})
		case entity.HistoryHandoff, entity.HistorySystemEvent:
			flush()
			msgs = append(msgs, LLMMessage{Role: "user", Content: ev.Text})
		case entity.HistoryReasoning:
			// Reasoning is observability-only; it is never resent to the
			// model as part of the next request.
		}
	}
	flush()

	return sanitizeMessages(msgs)
}

// lastNIndexes returns the set of history indexes holding the last n
// events of type typ, for deciding which tool results keep full
// fidelity during projection.
func lastNIndexes(history []entity.HistoryEvent, typ entity.HistoryEventType, n int) map[int]bool {
	out := make(map[int]bool, n)
	if n <= 0 {
		return out
	}
	found := 0
	for i := len(history) - 1; i >= 0 && found < n; i-- {
		if history[i].Type == typ {
			out[i] = true
			found++
		}
	}
	return out
}
