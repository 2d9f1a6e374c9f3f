package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/sourcegraph/jsonrpc2"
	"go.uber.org/zap"

	"github.com/ngoclaw-labs/turncore/internal/domain/agent"
	"github.com/ngoclaw-labs/turncore/internal/domain/entity"
	"github.com/ngoclaw-labs/turncore/internal/domain/service"
	"github.com/ngoclaw-labs/turncore/internal/domain/valueobject"
	"github.com/ngoclaw-labs/turncore/internal/infrastructure/eventbus"
)

// Config is everything the Session Protocol Server needs that isn't
// already captured by the CompositeOrchestrator it's handed: which
// agent identities back a freshly created session, the default
// control-flow policy a session/new session starts in, and the named
// modes session/setMode is allowed to switch between.
type Config struct {
	PrimaryIdentity *agent.Identity
	CoagentIdentity *agent.Identity // nil if this deployment never runs coagent policies
	DefaultPolicy   valueobject.ControlFlowPolicy
	Modes           map[string]valueobject.ControlFlowPolicy
	MaxRequestBytes int
}

// Server is the §4.3 Session Protocol Server: one stdio JSON-RPC
// connection multiplexing any number of concurrently live sessions,
// each running session/prompt strictly serially against its own
// CompositeOrchestrator.Run call. It subscribes to the same
// eventbus.Bus the Telemetry Recorder does — the bus's own doc
// comment already names both as the two agent_event subscribers — and
// fans each event out to whichever session owns it, rather than one
// bus subscription per session (InMemoryBus.Unsubscribe only ever
// removes its most-recently-registered handler for an event type,
// which would be unsafe to rely on with many short-lived per-session
// subscriptions).
type Server struct {
	orchestrator *service.CompositeOrchestrator
	bus          eventbus.Bus
	cfg          Config
	logger       *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*session
	conn     *jsonrpc2.Conn
}

// NewServer builds a Server and subscribes it to bus for the process
// lifetime. Call Serve once per incoming stdio connection.
func NewServer(orchestrator *service.CompositeOrchestrator, bus eventbus.Bus, cfg Config, logger *zap.Logger) *Server {
	if cfg.DefaultPolicy.Kind == "" {
		cfg.DefaultPolicy = valueobject.Loop()
	}
	s := &Server{
		orchestrator: orchestrator,
		bus:          bus,
		cfg:          cfg,
		logger:       logger,
		sessions:     make(map[string]*session),
	}
	bus.Subscribe(eventbus.EventTypeAgentEvent, s.handleBusEvent)
	return s
}

func (s *Server) handleBusEvent(ctx context.Context, ev eventbus.Event) {
	agentEv, ok := ev.Payload().(entity.AgentEvent)
	if !ok {
		return
	}
	owner, isCoagent := ownerID(agentEv.SessionID)

	s.mu.RLock()
	sess := s.sessions[owner]
	conn := s.conn
	s.mu.RUnlock()

	if sess == nil || conn == nil {
		return
	}
	sess.translateEvent(ctx, connNotifier{conn}, agentEv, isCoagent)
}

// connNotifier adapts *jsonrpc2.Conn to the notifier interface
// translateEvent depends on, so that package stays agnostic of
// jsonrpc2's exact Notify signature (opts included) and testable
// without a live connection.
type connNotifier struct{ conn *jsonrpc2.Conn }

func (c connNotifier) Notify(ctx context.Context, method string, params interface{}) error {
	return c.conn.Notify(ctx, method, params)
}

// Serve reads newline-delimited JSON-RPC frames from r and writes
// responses/notifications to w until EOF or ctx is cancelled. It
// returns nil on a clean EOF (exit code 0 per §6) and a non-nil error
// otherwise.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	stream := newNDJSONStream(r, w, s.cfg.MaxRequestBytes)
	conn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.HandlerWithError(s.handle))

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	select {
	case <-conn.DisconnectNotify():
	case <-ctx.Done():
		conn.Close()
	}

	s.mu.Lock()
	s.conn = nil
	s.mu.Unlock()

	return nil
}

func (s *Server) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "session/new":
		return s.handleNewSession(req)
	case "session/prompt":
		return s.handlePrompt(ctx, req)
	case "session/cancel":
		s.handleCancel(req)
		return nil, nil
	case "session/setMode":
		return s.handleSetMode(req)
	default:
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)}
	}
}

// handleInitialize is idempotent: it never touches s.sessions, so
// calling it any number of times returns the same capabilities and
// creates no state, per §8's idempotence property.
func (s *Server) handleInitialize(req *jsonrpc2.Request) (interface{}, error) {
	return InitializeResult{
		ProtocolVersion:   ProtocolVersion,
		AgentCapabilities: AgentCapabilities{LoadSession: false},
		AgentInfo:         AgentInfo{Name: "turncore", Version: "0.1.0"},
	}, nil
}

func (s *Server) handleNewSession(req *jsonrpc2.Request) (interface{}, error) {
	var params NewSessionParams
	if err := unmarshalParams(req, &params); err != nil {
		return nil, err
	}
	if params.CWD == "" {
		return nil, invalidParams("cwd is required")
	}

	id := uuid.NewString()
	primary := entity.NewInternalSession(id, s.cfg.PrimaryIdentity.Name, "primary")
	composite := entity.NewCompositeSession(id, params.CWD, primary, s.cfg.DefaultPolicy)

	s.mu.Lock()
	s.sessions[id] = newSession(composite)
	s.mu.Unlock()

	return NewSessionResult{SessionID: id}, nil
}

func (s *Server) handlePrompt(ctx context.Context, req *jsonrpc2.Request) (interface{}, error) {
	var params PromptParams
	if err := unmarshalParams(req, &params); err != nil {
		return nil, err
	}

	sess, err := s.lookupSession(params.SessionID)
	if err != nil {
		return nil, err
	}

	text, err := flattenPrompt(params.Prompt)
	if err != nil {
		return nil, err
	}
	if text == "" {
		// Empty prompt content: no model call made, per §8.
		return PromptResult{StopReason: string(valueobject.StopRefusal)}, nil
	}

	cancel, ok := sess.beginPrompt()
	if !ok {
		return nil, invalidParams("a prompt is already in flight for this session")
	}
	defer sess.endPrompt()

	sess.composite.Primary().Append(entity.UserMessageEvent(text))

	sink := eventbus.NewBusEventSink(s.bus)
	result, runErr := s.orchestrator.Run(ctx, sess.composite, s.cfg.PrimaryIdentity, s.cfg.CoagentIdentity, sink, cancel)
	if runErr != nil {
		s.logger.Error("orchestrator run failed", zap.String("session_id", params.SessionID), zap.Error(runErr))
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: runErr.Error()}
	}

	return PromptResult{StopReason: stopReasonFor(result)}, nil
}

func (s *Server) handleCancel(req *jsonrpc2.Request) {
	var params CancelParams
	if err := unmarshalParams(req, &params); err != nil {
		return
	}
	s.mu.RLock()
	sess := s.sessions[params.SessionID]
	s.mu.RUnlock()
	if sess == nil {
		return
	}
	sess.requestCancel()
}

func (s *Server) handleSetMode(req *jsonrpc2.Request) (interface{}, error) {
	var params SetModeParams
	if err := unmarshalParams(req, &params); err != nil {
		return nil, err
	}
	sess, err := s.lookupSession(params.SessionID)
	if err != nil {
		return nil, err
	}
	policy, ok := s.cfg.Modes[params.ModeID]
	if !ok {
		return nil, invalidParams(fmt.Sprintf("unknown modeId %q", params.ModeID))
	}
	if !sess.trySetMode(func() { sess.composite.SetPolicy(policy) }) {
		return nil, invalidParams("session/setMode is not allowed while a prompt is in flight")
	}
	return struct{}{}, nil
}

func (s *Server) lookupSession(id string) (*session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, invalidParams(fmt.Sprintf("unknown session id %q", id))
	}
	return sess, nil
}

// stopReasonFor maps a CompositeOrchestrator RunResult onto the
// external stopReason vocabulary (§6/§7). RunNeedsInput (the
// passthrough policy's exit) surfaces as end_turn: from the external
// caller's perspective the turn simply ended and another prompt is
// expected next, the same observable outcome as any other end_turn.
// Every RunError reason — provider failure, composite turn limit, a
// misconfigured policy — reaches here as a structured RunResult
// rather than a Go error, so all of them report stopReason=refusal;
// §7 item 5's "internal invariant violations -> -32603" frame is
// reserved for the runErr != nil branch in handlePrompt, where the
// orchestrator itself failed rather than returning a decision.
func stopReasonFor(r *service.RunResult) string {
	switch r.Kind {
	case service.RunComplete, service.RunNeedsInput:
		return string(valueobject.StopEndTurn)
	case service.RunCancelled:
		return string(valueobject.StopCancelled)
	default:
		return string(valueobject.StopRefusal)
	}
}

func flattenPrompt(blocks []ContentBlock) (string, error) {
	var text string
	for _, b := range blocks {
		switch b.Type {
		case ContentBlockText, "":
			if text != "" {
				text += "\n\n"
			}
			text += b.Text
		case ContentBlockResource, ContentBlockImage:
			return "", invalidParams(fmt.Sprintf("content block type %q is not supported by this server", b.Type))
		default:
			return "", invalidParams(fmt.Sprintf("unknown content block type %q", b.Type))
		}
	}
	return text, nil
}

func unmarshalParams(req *jsonrpc2.Request, v interface{}) error {
	if req.Params == nil {
		return invalidParams("missing params")
	}
	if err := json.Unmarshal(*req.Params, v); err != nil {
		return invalidParams(err.Error())
	}
	return nil
}

func invalidParams(msg string) *jsonrpc2.Error {
	return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: msg}
}
