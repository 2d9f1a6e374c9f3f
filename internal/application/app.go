package application

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ngoclaw-labs/turncore/internal/domain/agent"
	"github.com/ngoclaw-labs/turncore/internal/domain/service"
	domaintool "github.com/ngoclaw-labs/turncore/internal/domain/tool"
	"github.com/ngoclaw-labs/turncore/internal/domain/valueobject"
	"github.com/ngoclaw-labs/turncore/internal/infrastructure/config"
	"github.com/ngoclaw-labs/turncore/internal/infrastructure/eventbus"
	"github.com/ngoclaw-labs/turncore/internal/infrastructure/persistence"
	infratool "github.com/ngoclaw-labs/turncore/internal/infrastructure/tool"
	"github.com/ngoclaw-labs/turncore/internal/interfaces/rpcserver"
)

// App is the dependency-injection container wiring the turn engine
// core's layers together: config/logger at the bottom, the telemetry
// store and event bus in the middle, the turn engine and composite
// orchestrator above that, and the session protocol server on top —
// mirroring the teacher's App/initX staged-construction shape, trimmed
// to the components this core actually has (no HTTP/Telegram/gRPC
// interfaces, no multi-tenant agent repository).
type App struct {
	config *config.Config
	logger *zap.Logger
	db     *gorm.DB

	bus             eventbus.Bus
	telemetryWriter *persistence.TelemetryWriter
	telemetryRecord *persistence.TelemetryRecorder
	toolRegistry    domaintool.Registry
	catalog         *agent.Catalog
	orchestrator    *service.CompositeOrchestrator
	rpcServer       *rpcserver.Server
}

// LLMFactory builds the model client a TurnEngine talks to. This core
// does not ship one — building a model inference engine is explicitly
// out of scope — so the caller of NewApp supplies it. NewStubLLMFactory
// (llm_stub.go) is a reasonable default for a deployment that hasn't wired a
// real backend yet: every call fails clearly rather than silently
// returning empty text.
type LLMFactory func(identityName string, model valueobject.ModelConfig) service.LLMClient

// NewApp builds the full dependency graph from cfg. tools is the set
// of concrete domaintool.Tool implementations this deployment exposes
// (e.g. read_file, edit_file, terminal, todo_write); NewApp registers
// all of them into one shared registry, then gives each configured
// Identity a permission-filtered view of it via ToolExecutorAdapter.
func NewApp(cfg *config.Config, logger *zap.Logger, tools []domaintool.Tool, llmFactory LLMFactory) (*App, error) {
	app := &App{config: cfg, logger: logger}

	if err := app.initPersistence(); err != nil {
		return nil, fmt.Errorf("init persistence: %w", err)
	}
	if err := app.initTools(tools); err != nil {
		return nil, fmt.Errorf("init tools: %w", err)
	}
	if err := app.initIdentities(); err != nil {
		return nil, fmt.Errorf("init identities: %w", err)
	}
	if err := app.initOrchestrator(llmFactory); err != nil {
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}
	if err := app.initRPCServer(); err != nil {
		return nil, fmt.Errorf("init rpc server: %w", err)
	}

	return app, nil
}

func (app *App) initPersistence() error {
	db, err := persistence.NewDBConnection(&app.config.Database)
	if err != nil {
		return err
	}
	app.db = db

	app.bus = eventbus.NewInMemoryBus(app.logger, 1024)

	repo := persistence.NewGormTelemetryRepository(db)
	app.telemetryWriter = persistence.NewTelemetryWriter(repo, app.logger)
	app.telemetryRecord = persistence.NewTelemetryRecorder(app.bus, app.telemetryWriter, repo, app.logger)
	return nil
}

func (app *App) initTools(tools []domaintool.Tool) error {
	app.toolRegistry = infratool.NewRegistry()
	n := infratool.RegisterTools(app.toolRegistry, tools, app.logger)
	app.logger.Info("registered tools", zap.Int("count", n))
	return nil
}

func (app *App) initIdentities() error {
	app.catalog = agent.NewCatalog()
	for _, ic := range app.config.Agent.Identities {
		perm, err := buildPermission(ic.Permission)
		if err != nil {
			return fmt.Errorf("identity %q: %w", ic.Name, err)
		}
		model := valueobject.NewModelConfig(ic.Model.Provider, ic.Model.Model, ic.Model.MaxTokens, ic.Model.Temperature, ic.Model.TopP, ic.Model.Stream)
		app.catalog.Register(agent.NewIdentity(ic.Name, ic.Role, ic.SystemPrompt, perm, model))
	}
	return nil
}

func buildPermission(pc config.PermissionConfigYAML) (*domaintool.Permission, error) {
	patterns := make([]domaintool.CommandPattern, 0, len(pc.CommandPatterns))
	for _, raw := range pc.CommandPatterns {
		prefix, status, ok := strings.Cut(raw, ":")
		if !ok {
			return nil, fmt.Errorf("command_patterns entry %q must be \"prefix:status\"", raw)
		}
		patterns = append(patterns, domaintool.CommandPattern{
			Prefix: strings.TrimSpace(prefix),
			Status: domaintool.PermissionStatus(strings.TrimSpace(status)),
		})
	}
	return &domaintool.Permission{
		AllowTools:      pc.AllowTools,
		DenyTools:       pc.DenyTools,
		CommandPatterns: patterns,
	}, nil
}

// turnEngineConfigFrom translates config.Config's infrastructure-facing
// RuntimeConfig/GuardrailsConfig/CompactionConfig into the domain
// layer's TurnEngineConfig, since the domain never imports the
// infrastructure config package directly.
func turnEngineConfigFrom(cfg *config.Config) service.TurnEngineConfig {
	rt := cfg.Agent.Runtime
	gr := cfg.Agent.Guardrails
	cp := cfg.Agent.Compaction
	return service.TurnEngineConfig{
		MaxIterations:              cfg.Agent.MaxIterations,
		MaxRetries:                 rt.MaxRetries,
		RetryBaseWait:              rt.RetryBaseWait,
		MaxTokenBudget:             rt.MaxTokenBudget,
		ContextMaxTokens:           gr.ContextMaxTokens,
		ContextWarnRatio:           gr.ContextWarnRatio,
		ContextHardRatio:           gr.ContextHardRatio,
		DoomLoopWindow:             gr.DoomLoopWindow,
		DoomLoopThreshold:          gr.DoomLoopThreshold,
		DoomLoopNameThreshold:      gr.DoomLoopNameThreshold,
		HumanizeByteThreshold:      gr.HumanizeByteThreshold,
		HumanizeKeepRecent:         gr.HumanizeKeepRecent,
		CompactionMessageThreshold: cp.MessageThreshold,
		CompactionKeepRecent:       cp.KeepRecent,
	}
}

func (app *App) buildEngine(llmFactory LLMFactory, identityName string) (*service.TurnEngine, *agent.Identity, error) {
	if identityName == "" {
		return nil, nil, nil
	}
	identity, err := app.catalog.Get(identityName)
	if err != nil {
		return nil, nil, err
	}

	toolExec := service.NewToolExecutorAdapter(app.toolRegistry, identity.Permission, app.logger)
	llm := llmFactory(identity.Name, identity.Model)

	engine := service.NewTurnEngine(llm, toolExec, turnEngineConfigFrom(app.config), app.logger)
	security := service.NewSecurityHook(app.config.Agent.Security, identity.Permission, nil, app.logger)
	engine.SetHooks(security)

	mw := service.NewMiddlewarePipeline(app.logger)
	mw.Use(service.NewDanglingToolCallMiddleware(app.logger))
	engine.SetMiddleware(mw)

	return engine, identity, nil
}

func (app *App) initOrchestrator(llmFactory LLMFactory) error {
	primaryEngine, _, err := app.buildEngine(llmFactory, app.config.Agent.PrimaryIdentity)
	if err != nil {
		return fmt.Errorf("primary identity: %w", err)
	}
	if primaryEngine == nil {
		return fmt.Errorf("agent.primary_identity is required")
	}

	coagentEngine, _, err := app.buildEngine(llmFactory, app.config.Agent.CoagentIdentity)
	if err != nil {
		return fmt.Errorf("coagent identity: %w", err)
	}

	app.orchestrator = service.NewCompositeOrchestrator(primaryEngine, coagentEngine, service.OrchestratorConfig{
		MaxCompositeTurns: app.config.Agent.Runtime.MaxCompositeTurns,
	}, app.logger)
	return nil
}

func policyFromConfig(pc config.PolicyConfig) (valueobject.ControlFlowPolicy, error) {
	switch valueobject.PolicyKind(pc.Kind) {
	case valueobject.PolicyPassthrough:
		return valueobject.Passthrough(), nil
	case valueobject.PolicyLoop:
		return valueobject.Loop(), nil
	case valueobject.PolicyStatic:
		return valueobject.Static(pc.Message), nil
	case valueobject.PolicyGenerated:
		return valueobject.Generated(pc.Prompt), nil
	case valueobject.PolicyCoagent:
		return valueobject.Coagent(pc.CoagentTools, pc.CanTerminate), nil
	default:
		return valueobject.ControlFlowPolicy{}, fmt.Errorf("unknown policy kind %q", pc.Kind)
	}
}

func (app *App) initRPCServer() error {
	defaultPolicy, err := policyFromConfig(app.config.Agent.DefaultPolicy)
	if err != nil {
		return err
	}

	modes := make(map[string]valueobject.ControlFlowPolicy, len(app.config.Agent.Modes))
	for id, pc := range app.config.Agent.Modes {
		policy, err := policyFromConfig(pc)
		if err != nil {
			return fmt.Errorf("mode %q: %w", id, err)
		}
		modes[id] = policy
	}

	primaryIdentity, err := app.catalog.Get(app.config.Agent.PrimaryIdentity)
	if err != nil {
		return err
	}
	var coagentIdentity *agent.Identity
	if app.config.Agent.CoagentIdentity != "" {
		coagentIdentity, err = app.catalog.Get(app.config.Agent.CoagentIdentity)
		if err != nil {
			return err
		}
	}

	app.rpcServer = rpcserver.NewServer(app.orchestrator, app.bus, rpcserver.Config{
		PrimaryIdentity: primaryIdentity,
		CoagentIdentity: coagentIdentity,
		DefaultPolicy:   defaultPolicy,
		Modes:           modes,
		MaxRequestBytes: app.config.RPC.MaxRequestBytes,
	}, app.logger)
	return nil
}

// Serve runs the session protocol server against r/w until ctx is
// cancelled or the connection reaches EOF.
func (app *App) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	return app.rpcServer.Serve(ctx, r, w)
}

// Stop flushes the telemetry writer and closes the database
// connection. Call once, after Serve returns.
func (app *App) Stop() error {
	app.telemetryWriter.Close()
	if app.db != nil {
		sqlDB, err := app.db.DB()
		if err == nil {
			return sqlDB.Close()
		}
	}
	return nil
}

// Logger returns the application logger.
func (app *App) Logger() *zap.Logger { return app.logger }
