package rpcserver

import (
	"context"
	"strings"
	"sync"

	"github.com/ngoclaw-labs/turncore/internal/domain/entity"
	domaintool "github.com/ngoclaw-labs/turncore/internal/domain/tool"
)

const coagentSuffix = "-coagent"

// notifier is the subset of *jsonrpc2.Conn translateEvent needs —
// declared locally so tests can exercise event translation against a
// fake instead of a live JSON-RPC connection. *jsonrpc2.Conn satisfies
// this interface.
type notifier interface {
	Notify(ctx context.Context, method string, params interface{}) error
}

// session wraps one entity.CompositeSession with the bookkeeping the
// protocol layer needs on top of it: serializing session/prompt calls
// (§4.3 "within a session, prompt handling is serial"), the
// cancellation handle for whichever turn is currently live, and the
// per-trace delta/complete dedup state used by translateEvent.
type session struct {
	composite *entity.CompositeSession

	mu            sync.Mutex // serializes session/prompt and guards the fields below
	busy          bool
	cancel        *domaintool.Canceller
	seenText      map[string]bool // traceID -> a TextDelta already arrived
	seenReasoning map[string]bool
}

func newSession(composite *entity.CompositeSession) *session {
	return &session{
		composite:     composite,
		seenText:      make(map[string]bool),
		seenReasoning: make(map[string]bool),
	}
}

// ownerID returns the composite session id an AgentEvent's SessionID
// belongs to, and whether that event came from the co-agent's
// InternalSession rather than the primary's.
func ownerID(agentEventSessionID string) (id string, isCoagent bool) {
	if strings.HasSuffix(agentEventSessionID, coagentSuffix) {
		return strings.TrimSuffix(agentEventSessionID, coagentSuffix), true
	}
	return agentEventSessionID, false
}

// beginPrompt marks the session busy and hands back a fresh cancel
// handle for the turn about to run, or ok=false if a prompt is
// already in flight (the caller should reject the concurrent prompt
// rather than interleave two runs against one CompositeSession).
func (s *session) beginPrompt() (*domaintool.Canceller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return nil, false
	}
	s.busy = true
	s.composite.ResetCancelled()
	c := domaintool.NewCancelHandle()
	s.cancel = c
	return c, true
}

// endPrompt clears the busy flag once session/prompt's terminal
// response has been computed.
func (s *session) endPrompt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	s.cancel = nil
}

// requestCancel triggers the active turn's cancel handle, if any, and
// always sets the session-level flag — idempotent per §8, since a
// second cancel on an already-cancelled or idle session is a no-op.
func (s *session) requestCancel() {
	s.composite.Cancel()
	s.mu.Lock()
	c := s.cancel
	s.mu.Unlock()
	if c != nil {
		c.Cancel()
	}
}

// trySetMode applies a new policy, refusing while a prompt is in
// flight per §4.3's "MUST only succeed between prompts".
func (s *session) trySetMode(set func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	set()
	return true
}

// translateEvent turns one internal AgentEvent into zero or more
// session/update notifications, sent directly on conn. isCoagent
// events are suppressed entirely — §4.3's default, since no external
// caller configuration to observe co-agent output exists yet (see
// DESIGN.md).
func (s *session) translateEvent(ctx context.Context, conn notifier, ev entity.AgentEvent, isCoagent bool) {
	if isCoagent {
		return
	}

	sessionID := s.composite.ID()

	switch ev.Type {
	case entity.EventTextDelta:
		s.mu.Lock()
		s.seenText[ev.TraceID] = true
		s.mu.Unlock()
		s.notify(ctx, conn, sessionID, SessionUpdate{
			SessionUpdate: UpdateAgentMessageChunk,
			Content:       &ContentBlock{Type: ContentBlockText, Text: ev.Text},
		})

	case entity.EventTextComplete:
		s.mu.Lock()
		already := s.seenText[ev.TraceID]
		delete(s.seenText, ev.TraceID)
		s.mu.Unlock()
		if already || ev.Text == "" {
			return
		}
		// A non-streaming provider never emitted TextDelta for this
		// trace; its only chance to reach the client is here.
		s.notify(ctx, conn, sessionID, SessionUpdate{
			SessionUpdate: UpdateAgentMessageChunk,
			Content:       &ContentBlock{Type: ContentBlockText, Text: ev.Text},
		})

	case entity.EventReasoningDelta:
		s.mu.Lock()
		s.seenReasoning[ev.TraceID] = true
		s.mu.Unlock()
		s.notify(ctx, conn, sessionID, SessionUpdate{
			SessionUpdate: UpdateAgentThoughtChunk,
			Content:       &ContentBlock{Type: ContentBlockText, Text: ev.Text},
		})

	case entity.EventReasoningComplete:
		s.mu.Lock()
		already := s.seenReasoning[ev.TraceID]
		delete(s.seenReasoning, ev.TraceID)
		s.mu.Unlock()
		if already || ev.Text == "" {
			return
		}
		s.notify(ctx, conn, sessionID, SessionUpdate{
			SessionUpdate: UpdateAgentThoughtChunk,
			Content:       &ContentBlock{Type: ContentBlockText, Text: ev.Text},
		})

	case entity.EventToolCallStart:
		s.notify(ctx, conn, sessionID, SessionUpdate{
			SessionUpdate: UpdateToolCall,
			ToolCallID:    ev.ToolCallID,
			Title:         ev.ToolName,
			Kind:          toolKind(ev.ToolName),
			Status:        ToolCallInProgress,
			RawInput:      ev.ToolArguments,
		})

	case entity.EventToolCallEnd:
		s.notify(ctx, conn, sessionID, SessionUpdate{
			SessionUpdate: UpdateToolCallUpdate,
			ToolCallID:    ev.ToolCallID,
			Status:        toolCallStatus(ev.ToolStatus),
			RawOutput:     ev.ToolOutput,
		})
		if ev.ToolName == "todo_write" {
			if entries := parsePlanEntries(ev.ToolArguments); entries != nil {
				s.notify(ctx, conn, sessionID, SessionUpdate{
					SessionUpdate: UpdatePlan,
					Entries:       entries,
				})
			}
		}
	}
}

func (s *session) notify(ctx context.Context, conn notifier, sessionID string, update SessionUpdate) {
	_ = conn.Notify(ctx, "session/update", SessionUpdateParams{SessionID: sessionID, Update: update})
}
