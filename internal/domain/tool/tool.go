package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/ngoclaw-labs/turncore/internal/domain/entity"
)

// Kind is a tool's operation category — drives automatic permission
// decisions (which kinds are safe to auto-approve vs. which mutate
// state and need gating).
type Kind string

const (
	KindRead        Kind = "read"        // read_file, list_dir, ...
	KindEdit        Kind = "edit"        // write_file, apply_patch, ...
	KindExecute     Kind = "execute"     // shell/terminal commands
	KindDelete      Kind = "delete"      // delete operations
	KindSearch      Kind = "search"      // grep, web_search, ...
	KindFetch       Kind = "fetch"       // fetch_url, web_search
	KindThink       Kind = "think"       // save_memory, todo_write, ...
	KindCommunicate Kind = "communicate" // ask_user, notify, ...
)

// MutatorKinds are kinds that need confirmation in ask-mode.
var MutatorKinds = map[Kind]bool{
	KindEdit:    true,
	KindDelete:  true,
	KindExecute: true,
}

// SafeKinds are kinds auto-approved regardless of ask-mode, and
// excluded from the doom-loop guard's same-name count; exact repeats of
// a safe call (same name and arguments) still count (§4.1: "never
// triggers on legitimately repeated but different calls" — read-only
// tools like list_dir are expected to repeat).
var SafeKinds = map[Kind]bool{
	KindRead:   true,
	KindSearch: true,
	KindThink:  true,
}

// UIKind is the fixed, enumerated kind set the session protocol server
// surfaces externally for tool_call notifications (§4.3).
type UIKind string

const (
	UIRead    UIKind = "read"
	UIEdit    UIKind = "edit"
	UIExecute UIKind = "execute"
	UISearch  UIKind = "search"
	UIFetch   UIKind = "fetch"
	UIThink   UIKind = "think"
	UIOther   UIKind = "other"
)

// uiKindByToolName is the fixed name→kind table from §4.3. Falls back
// to deriving from the tool's own Kind() when the name isn't listed.
var uiKindByToolName = map[string]UIKind{
	"read_file":  UIRead,
	"edit_file":  UIEdit,
	"terminal":   UIExecute,
	"grep":       UISearch,
	"find_path":  UISearch,
	"thinking":   UIThink,
	"todo_write": UIThink,
	"fetch":      UIFetch,
	"web_search": UIFetch,
}

// UIKindForTool resolves a tool's UI kind: first by the fixed name
// table, then by its declared Kind, then "other".
func UIKindForTool(name string, k Kind) UIKind {
	if uk, ok := uiKindByToolName[name]; ok {
		return uk
	}
	switch k {
	case KindRead:
		return UIRead
	case KindEdit, KindDelete:
		return UIEdit
	case KindExecute:
		return UIExecute
	case KindSearch:
		return UISearch
	case KindFetch:
		return UIFetch
	case KindThink:
		return UIThink
	default:
		return UIOther
	}
}

// ToolContext is passed to every tool invocation: the session id,
// agent name, and call id it belongs to, the resolved absolute working
// directory, the enclosing turn's cancellation handle, an opaque
// snapshot hook tools call before mutating state, and the owning
// CompositeSession's shared TodoList.
type ToolContext struct {
	SessionID  string
	AgentName  string
	CallID     string
	WorkingDir string
	Cancel     CancelHandle
	Snapshot   SnapshotHook

	// Todos is the owning CompositeSession's shared TodoList — the same
	// instance for both the primary and co-agent InternalSessions, so a
	// write by either is immediately visible to the other.
	Todos *entity.TodoList
}

// SnapshotHook records a pre-image of path before a mutating tool call
// touches it. Opaque to the core: the snapshot/undo machinery that
// implements it is out of scope here.
type SnapshotHook func(path string) error

// Tool is the abstraction every callable tool implements — a single
// interface with no inheritance hierarchy; different tools are
// siblings in a name→Tool map (§9 design note).
type Tool interface {
	Name() string
	Description() string
	Kind() Kind
	Schema() map[string]interface{} // JSON Schema for arguments
	Execute(ctx context.Context, args map[string]interface{}, tc *ToolContext) (*Result, error)
}

// Result is a tool's outcome.
type Result struct {
	Status   string // success | error | cancelled
	Output   string // compact text returned to the model
	Display  string // optional rich rendering (humanization input)
	Metadata map[string]interface{}
	Error    string
}

// Success reports whether the tool call succeeded.
func (r *Result) Success() bool { return r.Status == "success" }

// DisplayOrOutput returns Display if set, else Output.
func (r *Result) DisplayOrOutput() string {
	if r.Display != "" {
		return r.Display
	}
	return r.Output
}

// MarshalJSON serializes a Result for telemetry/logging.
func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"status":   r.Status,
		"output":   r.Output,
		"display":  r.Display,
		"metadata": r.Metadata,
		"error":    r.Error,
	})
}

// Definition is what's handed to the model: name, description, schema.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Registry is the name→Tool catalog.
type Registry interface {
	Register(t Tool) error
	Unregister(name string) error
	Get(name string) (Tool, bool)
	List() []Definition
	Has(name string) bool
}

// InMemoryRegistry is the default Registry: a mutex-guarded map plus
// an explicit key-order slice, so List() iterates deterministically —
// the tool catalog presented to the model must have stable order
// (§9: "use an order-preserving map where order is externally
// observable").
type InMemoryRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewInMemoryRegistry creates an empty registry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{tools: make(map[string]Tool)}
}

// Register adds a tool, rejecting duplicate names.
func (r *InMemoryRegistry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Unregister removes a tool.
func (r *InMemoryRegistry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		return fmt.Errorf("tool %s not found", name)
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get looks up a tool by name.
func (r *InMemoryRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every tool's Definition, in registration order.
func (r *InMemoryRegistry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, Definition{Name: t.Name(), Description: t.Description(), Parameters: t.Schema()})
	}
	return defs
}

// Has reports whether a tool is registered.
func (r *InMemoryRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// PermissionStatus is the resolution of a command-pattern check.
type PermissionStatus string

const (
	PermissionAllow PermissionStatus = "allow"
	PermissionDeny  PermissionStatus = "deny"
	// PermissionAsk is reserved for future interactive use; it
	// currently resolves as allow (interactive prompting is out of
	// scope for this core — §4.6).
	PermissionAsk PermissionStatus = "ask"
)

// CommandPattern is one (prefix, status) rule in a command-executing
// tool's permission map, evaluated in declaration order — first match
// wins.
type CommandPattern struct {
	Prefix string
	Status PermissionStatus
}

// Permission is one agent's tool-access configuration: a flat
// allow/deny map over tool names, plus an ordered, pattern-matched
// allow/deny map over command prefixes for tools that execute
// commands.
type Permission struct {
	AllowTools      []string
	DenyTools       []string
	CommandPatterns []CommandPattern
}

// CanUseTool reports whether name is callable under this permission:
// deny list wins, then an empty allow list means "all tools", else
// name must appear in the allow list.
func (p *Permission) CanUseTool(name string) bool {
	for _, denied := range p.DenyTools {
		if denied == name {
			return false
		}
	}
	if len(p.AllowTools) == 0 {
		return true
	}
	for _, allowed := range p.AllowTools {
		if allowed == name {
			return true
		}
	}
	return false
}

// ResolveCommand evaluates cmd against the ordered command-pattern
// list; an unmatched command defaults to allow. `ask` currently
// resolves to allow, per §4.6.
func (p *Permission) ResolveCommand(cmd string) PermissionStatus {
	for _, pat := range p.CommandPatterns {
		if strings.HasPrefix(cmd, pat.Prefix) {
			if pat.Status == PermissionAsk {
				return PermissionAllow
			}
			return pat.Status
		}
	}
	return PermissionAllow
}

// FilteredDefinitions returns the subset of reg's catalog this
// permission allows, in the registry's declared order — this is what
// the Base Turn Engine hands to the model as the tool catalog.
func (p *Permission) FilteredDefinitions(reg Registry) []Definition {
	all := reg.List()
	out := make([]Definition, 0, len(all))
	for _, def := range all {
		if p.CanUseTool(def.Name) {
			out = append(out, def)
		}
	}
	return out
}
