package rpcserver

import (
	domaintool "github.com/ngoclaw-labs/turncore/internal/domain/tool"
)

// toolCallStatus maps an entity.ToolCallStatus string (as carried on
// AgentEvent.ToolStatus) onto the external tool_call_update status.
// success/cancelled/error all collapse to completed/failed — the
// external protocol has no third state for "the tool call was
// cancelled rather than failed"; the result text itself (the fixed
// "(cancelled)" output per §5) is what tells a client which happened.
func toolCallStatus(status string) ToolCallStatus {
	if status == "success" {
		return ToolCallCompleted
	}
	return ToolCallFailed
}

// toolKind resolves a UI kind for a tool_call/tool_call_update
// notification using the fixed name table §4.3 specifies, the same
// table the Tool Registry already exposes for its own permission UI.
func toolKind(name string) string {
	return string(domaintool.UIKindForTool(name, ""))
}

// parsePlanEntries extracts a plan notification's entries from a
// todo_write call's own arguments, per §4.3's "derived from the
// tool's arguments" — not from re-reading the shared TodoList, so the
// notification reflects exactly what this call asked for even if a
// later call races ahead of the translator.
func parsePlanEntries(args map[string]interface{}) []PlanEntry {
	raw, ok := args["todos"]
	if !ok {
		raw, ok = args["items"]
	}
	if !ok {
		return nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}

	entries := make([]PlanEntry, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		entry := PlanEntry{}
		if v, ok := m["content"].(string); ok {
			entry.Content = v
		}
		if v, ok := m["status"].(string); ok {
			entry.Status = v
		}
		if v, ok := m["priority"].(string); ok {
			entry.Priority = v
		}
		entries = append(entries, entry)
	}
	return entries
}
