package tool

import (
	"context"
	"fmt"

	"github.com/ngoclaw-labs/turncore/internal/domain/entity"
	domaintool "github.com/ngoclaw-labs/turncore/internal/domain/tool"
	"go.uber.org/zap"
)

// TodoWriteTool replaces the calling session's shared TodoList wholesale
// with the items given in one call — the mechanism behind the
// CompositeSession's shared TodoList (§2/§5): a write by either the
// primary or the co-agent is immediately visible to the other, since
// both hold the same *entity.TodoList by reference.
//
// Unlike the individual tool implementations this core treats as
// external collaborators (file I/O, shell, search, fetch), todo_write
// is intrinsic to the CompositeSession/TodoList design itself, so it
// ships as a concrete tool rather than an interface-only boundary.
type TodoWriteTool struct {
	logger *zap.Logger
}

// NewTodoWriteTool creates the todo_write tool.
func NewTodoWriteTool(logger *zap.Logger) *TodoWriteTool {
	return &TodoWriteTool{logger: logger}
}

func (t *TodoWriteTool) Name() string          { return "todo_write" }
func (t *TodoWriteTool) Kind() domaintool.Kind { return domaintool.KindThink }
func (t *TodoWriteTool) Description() string {
	return "Replace the current todo list with the given items. Call this " +
		"whenever the plan changes: a step starts, finishes, or the task " +
		"is broken into steps for the first time."
}

func (t *TodoWriteTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"todos": map[string]interface{}{
				"type":        "array",
				"description": "The full todo list, replacing whatever was there before.",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"content": map[string]interface{}{
							"type":        "string",
							"description": "Imperative description of the step, e.g. \"Run the test suite\".",
						},
						"status": map[string]interface{}{
							"type": "string",
							"enum": []string{"pending", "in_progress", "completed", "cancelled"},
						},
						"active_form": map[string]interface{}{
							"type":        "string",
							"description": "Present-continuous form shown while in_progress, e.g. \"Running the test suite\".",
						},
					},
					"required": []string{"content", "status"},
				},
			},
		},
		"required": []string{"todos"},
	}
}

func (t *TodoWriteTool) Execute(ctx context.Context, args map[string]interface{}, tc *domaintool.ToolContext) (*domaintool.Result, error) {
	if tc.Todos == nil {
		return &domaintool.Result{Status: "error", Error: "no todo list is attached to this session"}, nil
	}

	raw, ok := args["todos"].([]interface{})
	if !ok {
		return &domaintool.Result{Status: "error", Error: "'todos' must be an array"}, nil
	}

	items := make([]entity.TodoItem, 0, len(raw))
	inProgress := 0
	for i, v := range raw {
		m, ok := v.(map[string]interface{})
		if !ok {
			return &domaintool.Result{Status: "error", Error: fmt.Sprintf("todos[%d] must be an object", i)}, nil
		}
		content, _ := m["content"].(string)
		if content == "" {
			return &domaintool.Result{Status: "error", Error: fmt.Sprintf("todos[%d].content is required", i)}, nil
		}
		status := entity.TodoStatus(stringOr(m["status"], "pending"))
		activeForm := stringOr(m["active_form"], content)

		if status == entity.TodoInProgress {
			inProgress++
		}
		items = append(items, entity.TodoItem{Content: content, Status: status, ActiveForm: activeForm})
	}
	if inProgress > 1 {
		return &domaintool.Result{Status: "error", Error: "at most one todo may be in_progress at a time"}, nil
	}

	tc.Todos.Replace(items)

	t.logger.Debug("todo list replaced",
		zap.String("session", tc.SessionID),
		zap.Int("count", len(items)),
	)

	return &domaintool.Result{
		Status:  "success",
		Output:  fmt.Sprintf("todo list updated: %d item(s)", len(items)),
		Display: renderTodos(items),
	}, nil
}

func stringOr(v interface{}, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

func renderTodos(items []entity.TodoItem) string {
	out := ""
	for _, it := range items {
		mark := " "
		switch it.Status {
		case entity.TodoCompleted:
			mark = "x"
		case entity.TodoInProgress:
			mark = "~"
		case entity.TodoCancelled:
			mark = "-"
		}
		out += fmt.Sprintf("[%s] %s\n", mark, it.Content)
	}
	return out
}
