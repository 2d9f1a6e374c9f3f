package agent

import (
	"fmt"
	"sync"

	domaintool "github.com/ngoclaw-labs/turncore/internal/domain/tool"
	"github.com/ngoclaw-labs/turncore/internal/domain/valueobject"
)

// Identity is one agent configuration: its name, system prompt, tool
// permission, and model parameters. The Composite Orchestrator holds
// at most two — a primary and, when the active policy requires one, a
// co-agent (§9: "no inheritance hierarchy, no N-ary spawn tree — the
// orchestrator is exactly two levels").
type Identity struct {
	Name         string
	Role         string // "primary" | "coagent"
	SystemPrompt string
	Permission   *domaintool.Permission
	Model        valueobject.ModelConfig
}

// NewIdentity builds an Identity with defaults for Model and Permission
// when not supplied.
func NewIdentity(name, role, systemPrompt string, permission *domaintool.Permission, model valueobject.ModelConfig) *Identity {
	if permission == nil {
		permission = &domaintool.Permission{}
	}
	if model.Equals(valueobject.ModelConfig{}) {
		model = valueobject.DefaultModelConfig()
	}
	return &Identity{Name: name, Role: role, SystemPrompt: systemPrompt, Permission: permission, Model: model}
}

// Catalog is a name→Identity lookup for the set of agent configurations
// known to a running process (loaded once from configuration).
type Catalog struct {
	mu    sync.RWMutex
	byName map[string]*Identity
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{byName: make(map[string]*Identity)}
}

// Register adds or replaces an identity.
func (c *Catalog) Register(id *Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byName[id.Name] = id
}

// Get looks up an identity by name.
func (c *Catalog) Get(name string) (*Identity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("agent identity %q not registered", name)
	}
	return id, nil
}
