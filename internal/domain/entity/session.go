package entity

import (
	"sync"
	"time"

	"github.com/ngoclaw-labs/turncore/internal/domain/valueobject"
)

// InternalSession owns one interleaved history, a stable id, a creation
// timestamp, and a reference to the agent identity that produced it.
// It is mutated only by its owning Base Turn Engine invocation; the
// mutex exists because the telemetry recorder and event forwarder read
// history concurrently with the engine's writes within the same turn.
type InternalSession struct {
	mu        sync.Mutex
	id        string
	agentName string
	agentRole string // "primary" | "coagent"
	createdAt time.Time
	history   []HistoryEvent
}

// NewInternalSession creates an InternalSession for the given agent.
func NewInternalSession(id, agentName, agentRole string) *InternalSession {
	return &InternalSession{
		id:        id,
		agentName: agentName,
		agentRole: agentRole,
		createdAt: time.Now(),
	}
}

// ID returns the session's stable id.
func (s *InternalSession) ID() string { return s.id }

// AgentName returns the name of the agent that owns this session.
func (s *InternalSession) AgentName() string { return s.agentName }

// AgentRole returns "primary" or "coagent".
func (s *InternalSession) AgentRole() string { return s.agentRole }

// CreatedAt returns the session's creation timestamp.
func (s *InternalSession) CreatedAt() time.Time { return s.createdAt }

// Append adds one event to the interleaved history. Timestamps are
// monotonically non-decreasing: if ev's timestamp would go backwards
// relative to the last appended event, it is bumped forward, matching
// the spec's "Timestamps monotonically non-decreasing" invariant.
func (s *InternalSession) Append(ev HistoryEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.history); n > 0 && ev.Timestamp.Before(s.history[n-1].Timestamp) {
		ev.Timestamp = s.history[n-1].Timestamp
	}
	s.history = append(s.history, ev)
}

// History returns a snapshot copy of the interleaved history.
func (s *InternalSession) History() []HistoryEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryEvent, len(s.history))
	copy(out, s.history)
	return out
}

// Len returns the number of interleaved history events.
func (s *InternalSession) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// CompositeSession owns one externally visible id, one primary
// InternalSession, optionally one co-agent InternalSession, and a
// shared TodoList. Mutated by the orchestrator only.
type CompositeSession struct {
	mu        sync.Mutex
	id        string
	cwd       string
	primary   *InternalSession
	coagent   *InternalSession
	todos     *TodoList
	policy    valueobject.ControlFlowPolicy
	createdAt time.Time
	cancelled bool
}

// NewCompositeSession creates a CompositeSession with a primary
// InternalSession and a fresh TodoList. The co-agent session, if any,
// is attached later via SetCoagent once the policy requires one.
func NewCompositeSession(id, cwd string, primary *InternalSession, policy valueobject.ControlFlowPolicy) *CompositeSession {
	return &CompositeSession{
		id:        id,
		cwd:       cwd,
		primary:   primary,
		todos:     NewTodoList(id + "-todos"),
		policy:    policy,
		createdAt: time.Now(),
	}
}

// ID returns the composite session's externally visible id.
func (c *CompositeSession) ID() string { return c.id }

// CWD returns the session's working directory, as given to session/new.
func (c *CompositeSession) CWD() string { return c.cwd }

// Primary returns the primary agent's InternalSession.
func (c *CompositeSession) Primary() *InternalSession { return c.primary }

// Coagent returns the co-agent's InternalSession, or nil if none exists.
func (c *CompositeSession) Coagent() *InternalSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coagent
}

// SetCoagent attaches a co-agent InternalSession, created lazily the
// first time a coagent policy is applied.
func (c *CompositeSession) SetCoagent(s *InternalSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.coagent = s
}

// Todos returns the shared TodoList.
func (c *CompositeSession) Todos() *TodoList { return c.todos }

// Policy returns the currently active control-flow policy.
func (c *CompositeSession) Policy() valueobject.ControlFlowPolicy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy
}

// SetPolicy switches the active control-flow policy. Per the session
// protocol's session/setMode contract, callers MUST only call this
// between prompts.
func (c *CompositeSession) SetPolicy(p valueobject.ControlFlowPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy = p
}

// Cancel sets the session-level cancellation flag. Idempotent per the
// spec's idempotence requirement on session/cancel.
func (c *CompositeSession) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
}

// Cancelled reports whether session/cancel has been called.
func (c *CompositeSession) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// ResetCancelled clears the cancellation flag, called once a fresh
// prompt begins processing so a prior cancellation doesn't leak into
// the next turn.
func (c *CompositeSession) ResetCancelled() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = false
}
