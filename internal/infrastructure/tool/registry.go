package tool

import (
	domaintool "github.com/ngoclaw-labs/turncore/internal/domain/tool"
	"go.uber.org/zap"
)

// NewRegistry constructs the default in-memory tool catalog.
func NewRegistry() domaintool.Registry {
	return domaintool.NewInMemoryRegistry()
}

// RegisterTools adds every tool in tools to reg, logging and skipping
// any that fail to register (e.g. a duplicate name). Individual tool
// implementations (bash, read_file, ...) are provided by the caller —
// this core only hosts the catalog and the permission/execution
// machinery around it.
func RegisterTools(reg domaintool.Registry, tools []domaintool.Tool, logger *zap.Logger) int {
	registered := 0
	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			logger.Warn("failed to register tool", zap.String("tool", t.Name()), zap.Error(err))
			continue
		}
		logger.Debug("registered tool", zap.String("tool", t.Name()), zap.String("kind", string(t.Kind())))
		registered++
	}
	logger.Info("tool registry initialized", zap.Int("registered", registered))
	return registered
}
