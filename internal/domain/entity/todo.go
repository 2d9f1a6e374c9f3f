package entity

import "sync"

// TodoStatus is the lifecycle state of one TodoList item.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
	TodoCancelled  TodoStatus = "cancelled"
)

// TodoItem is one entry of a TodoList.
type TodoItem struct {
	Content    string
	Status     TodoStatus
	ActiveForm string
}

// TodoList is an ordered list of TodoItems shared by reference between
// the primary and co-agent InternalSessions of one CompositeSession.
// Per §5, access is effectively single-threaded because primary and
// co-agent turns never run concurrently within one composite session —
// the mutex here guards against the orchestrator's own bookkeeping
// goroutines (telemetry, event forwarding) reading mid-write, not
// against genuine cross-turn contention.
type TodoList struct {
	mu    sync.Mutex
	id    string
	items []TodoItem
}

// NewTodoList creates an empty TodoList with the given id.
func NewTodoList(id string) *TodoList {
	return &TodoList{id: id}
}

// ID returns the TodoList's id.
func (t *TodoList) ID() string {
	return t.id
}

// Items returns a snapshot copy of the list's items, in order.
func (t *TodoList) Items() []TodoItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TodoItem, len(t.items))
	copy(out, t.items)
	return out
}

// Replace atomically replaces the entire list — the shape the
// todo_write tool uses.
func (t *TodoList) Replace(items []TodoItem) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = items
}

// IsEmpty reports whether the list has no items.
func (t *TodoList) IsEmpty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items) == 0
}
