package service

import (
	"fmt"
	"strings"
)

// sanitizeMessages fixes orphan tool_call blocks in a model-facing
// message projection. An "orphan" is an assistant message with
// ToolCalls but no subsequent tool result — this happens after context
// compaction or after a cancelled turn leaves the interleaved history
// momentarily unbalanced before the synthetic cancelled result is
// appended.
func sanitizeMessages(messages []LLMMessage) []LLMMessage {
	if len(messages) == 0 {
		return messages
	}

	resultIDs := make(map[string]bool)
	for _, msg := range messages {
		if msg.Role == "tool" && msg.ToolCallID != "" {
			resultIDs[msg.ToolCallID] = true
		}
	}

	result := make([]LLMMessage, len(messages))
	copy(result, messages)

	for i := len(result) - 1; i >= 0; i-- {
		if result[i].Role == "assistant" && len(result[i].ToolCalls) > 0 {
			allHaveResults := true
			for _, tc := range result[i].ToolCalls {
				if !resultIDs[tc.ID] {
					allHaveResults = false
					break
				}
			}
			if !allHaveResults {
				result[i].ToolCalls = nil
			}
			break
		}
	}

	return result
}

// humanizeOutput implements the session history projection's lossy
// tool-output truncation rule: outputs at or under byteThreshold pass
// through unchanged; longer ones are reduced to their first 3 lines,
// an elision marker noting the byte count dropped, and their last 2
// lines.
func humanizeOutput(output string, byteThreshold int) string {
	if byteThreshold <= 0 || len(output) <= byteThreshold {
		return output
	}

	lines := strings.Split(output, "\n")
	const leading = 3
	const trailing = 2
	if len(lines) <= leading+trailing {
		return output
	}

	head := lines[:leading]
	tail := lines[len(lines)-trailing:]
	elidedLines := lines[leading : len(lines)-trailing]
	elidedBytes := len(strings.Join(elidedLines, "\n"))

	var b strings.Builder
	b.WriteString(strings.Join(head, "\n"))
	b.WriteString(fmt.Sprintf("\n\n[... %d bytes elided ...]\n\n", elidedBytes))
	b.WriteString(strings.Join(tail, "\n"))
	return b.String()
}
