package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the process-wide configuration for the turn engine core.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Agent    AgentConfig    `mapstructure:"agent"`
	RPC      RPCConfig      `mapstructure:"rpc"`
}

// DatabaseConfig selects the telemetry store's backing gorm dialector.
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite, postgres
	DSN  string `mapstructure:"dsn"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RPCConfig controls the session protocol server's stdio framing.
type RPCConfig struct {
	MaxRequestBytes int `mapstructure:"max_request_bytes"`
}

// AgentConfig holds every tunable the turn engine and composite
// orchestrator read. Unlike the teacher's AgentConfig, there is no
// Telegram/HTTP/sandbox-specific sub-config here — those interfaces
// are out of scope for this core.
type AgentConfig struct {
	DefaultModel  string `mapstructure:"default_model"`
	MaxIterations int    `mapstructure:"max_iterations"`

	Runtime    RuntimeConfig    `mapstructure:"runtime"`
	Guardrails GuardrailsConfig `mapstructure:"guardrails"`
	Security   SecurityConfig   `mapstructure:"security"`
	Compaction CompactionConfig `mapstructure:"compaction"`

	// ModelPolicies keys are matched by substring against model id,
	// e.g. "qwen3", "claude". Nil fields fall back to auto-detected
	// defaults.
	ModelPolicies map[string]ModelPolicyConfig `mapstructure:"model_policies"`

	// Identities is the catalog of agent.Identity values this process
	// can run sessions as. PrimaryIdentity names the one every
	// session/new call uses; CoagentIdentity is optional and only
	// needed when some mode's policy is "coagent".
	Identities      []IdentityConfig `mapstructure:"identities"`
	PrimaryIdentity string           `mapstructure:"primary_identity"`
	CoagentIdentity string           `mapstructure:"coagent_identity"`

	// DefaultPolicy is the control-flow policy a freshly created
	// session starts in. Modes are the named policies session/setMode
	// can switch a session to, keyed by modeId.
	DefaultPolicy PolicyConfig            `mapstructure:"default_policy"`
	Modes         map[string]PolicyConfig `mapstructure:"modes"`
}

// IdentityConfig is one agent.Identity's YAML shape: a name, role
// label, system prompt, model parameters, and the tool permission
// gate that InternalSession's ToolExecutorAdapter enforces.
type IdentityConfig struct {
	Name         string               `mapstructure:"name"`
	Role         string               `mapstructure:"role"`
	SystemPrompt string               `mapstructure:"system_prompt"`
	Model        ModelConfigYAML      `mapstructure:"model"`
	Permission   PermissionConfigYAML `mapstructure:"permission"`
}

// ModelConfigYAML mirrors valueobject.ModelConfig's constructor
// arguments one level up, since the value object's fields are
// unexported and only constructible through NewModelConfig.
type ModelConfigYAML struct {
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	Stream      bool    `mapstructure:"stream"`
}

// PermissionConfigYAML mirrors domaintool.Permission's fields.
// CommandPatterns entries are "prefix:status" pairs, e.g.
// "git push:deny".
type PermissionConfigYAML struct {
	AllowTools      []string `mapstructure:"allow_tools"`
	DenyTools       []string `mapstructure:"deny_tools"`
	CommandPatterns []string `mapstructure:"command_patterns"`
}

// PolicyConfig mirrors valueobject.ControlFlowPolicy's fields one
// level up, since the value object only constructs through its five
// named constructors (Passthrough/Loop/Static/Generated/Coagent).
type PolicyConfig struct {
	Kind         string   `mapstructure:"kind"`
	Message      string   `mapstructure:"message"`
	Prompt       string   `mapstructure:"prompt"`
	CoagentTools []string `mapstructure:"coagent_tools"`
	CanTerminate bool     `mapstructure:"can_terminate"`
}

// ModelPolicyConfig holds YAML-configurable per-model policy overrides.
// All fields are pointers so nil means "don't override".
type ModelPolicyConfig struct {
	RepairToolPairing *bool `mapstructure:"repair_tool_pairing"`
	ProgressInterval  *int  `mapstructure:"progress_interval"`
}

// RuntimeConfig holds the turn engine's timing and budget knobs. There
// is no parallel-tool-execution knob: §4.1 step 5 executes tool calls
// strictly in the order returned, interleaving each result into
// history before the next call starts, so nothing in the Base Turn
// Engine ever runs tool calls concurrently.
type RuntimeConfig struct {
	ToolTimeout       time.Duration `mapstructure:"tool_timeout"`
	MaxTokenBudget    int64         `mapstructure:"max_token_budget"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryBaseWait     time.Duration `mapstructure:"retry_base_wait"`
	MaxCompositeTurns int           `mapstructure:"max_composite_turns"`
}

// GuardrailsConfig holds context-compaction and doom-loop thresholds.
type GuardrailsConfig struct {
	ContextMaxTokens    int     `mapstructure:"context_max_tokens"`
	ContextWarnRatio    float64 `mapstructure:"context_warn_ratio"`
	ContextHardRatio    float64 `mapstructure:"context_hard_ratio"`
	DoomLoopWindow      int     `mapstructure:"doom_loop_window"`
	DoomLoopThreshold   int     `mapstructure:"doom_loop_threshold"`
	// DoomLoopNameThreshold is a supplementary heuristic beyond §4.1's
	// exact-sequence fingerprint: flags the same tool name dominating
	// the window even when arguments vary call to call.
	DoomLoopNameThreshold int   `mapstructure:"doom_loop_name_threshold"`
	HumanizeByteThreshold int   `mapstructure:"humanize_byte_threshold"`
	HumanizeKeepRecent    int   `mapstructure:"humanize_keep_recent"`
}

// SecurityConfig drives the per-agent tool permission gate.
type SecurityConfig struct {
	// ApprovalMode: "auto" | "ask_dangerous" | "ask_all"
	ApprovalMode    string        `mapstructure:"approval_mode"`
	ApprovalTimeout time.Duration `mapstructure:"approval_timeout"`
}

// CompactionConfig controls when InternalSession history is compacted.
type CompactionConfig struct {
	MessageThreshold int `mapstructure:"message_threshold"`
	KeepRecent       int `mapstructure:"keep_recent"`
}

// Load reads config.yaml from the working directory and ~/.turncore,
// applies defaults, and allows environment overrides — mirroring the
// teacher's layered-config precedent (defaults < global < local < env).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	globalDir := filepath.Join(os.Getenv("HOME"), ".turncore")
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read global config: %w", err)
		}
	}

	for _, localDir := range []string{"./config", "."} {
		localPath := filepath.Join(localDir, "config.yaml")
		if _, err := os.Stat(localPath); err == nil {
			v2 := viper.New()
			v2.SetConfigFile(localPath)
			if err := v2.ReadInConfig(); err == nil {
				_ = v.MergeConfigMap(v2.AllSettings())
			}
			break
		}
	}

	v.SetEnvPrefix("TURNCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Watch reloads cfg in place whenever the active config file changes,
// invoking onChange after each successful reload. Mirrors the teacher's
// fsnotify-backed live reload, trimmed to this core's single Config type.
func Watch(v *viper.Viper, cfg *Config, onChange func(*Config)) {
	v.OnConfigChange(func(_ fsnotify.Event) {
		var next Config
		if err := v.Unmarshal(&next); err != nil {
			return
		}
		*cfg = next
		if onChange != nil {
			onChange(cfg)
		}
	})
	v.WatchConfig()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "turncore.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("rpc.max_request_bytes", 8<<20)

	v.SetDefault("agent.default_model", "")
	v.SetDefault("agent.max_iterations", 20)

	v.SetDefault("agent.runtime.tool_timeout", "30s")
	v.SetDefault("agent.runtime.max_token_budget", 100000)
	v.SetDefault("agent.runtime.max_retries", 2)
	v.SetDefault("agent.runtime.retry_base_wait", "2s")
	v.SetDefault("agent.runtime.max_composite_turns", 10)

	v.SetDefault("agent.guardrails.context_max_tokens", 128000)
	v.SetDefault("agent.guardrails.context_warn_ratio", 0.7)
	v.SetDefault("agent.guardrails.context_hard_ratio", 0.85)
	v.SetDefault("agent.guardrails.doom_loop_window", 10)
	v.SetDefault("agent.guardrails.doom_loop_threshold", 4)
	v.SetDefault("agent.guardrails.doom_loop_name_threshold", 8)
	v.SetDefault("agent.guardrails.humanize_byte_threshold", 4096)
	v.SetDefault("agent.guardrails.humanize_keep_recent", 2)

	v.SetDefault("agent.security.approval_mode", "ask_dangerous")
	v.SetDefault("agent.security.approval_timeout", "5m")

	v.SetDefault("agent.compaction.message_threshold", 30)
	v.SetDefault("agent.compaction.keep_recent", 10)

	v.SetDefault("agent.primary_identity", "default")
	v.SetDefault("agent.default_policy.kind", "loop")
}
