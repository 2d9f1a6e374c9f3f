package agent

import (
	"testing"

	domaintool "github.com/ngoclaw-labs/turncore/internal/domain/tool"
	"github.com/ngoclaw-labs/turncore/internal/domain/valueobject"
)

func TestNewIdentity_DefaultsPermission(t *testing.T) {
	id := NewIdentity("coagent", "coagent", "you are a reviewer", nil, valueobject.ModelConfig{})
	if id.Permission == nil {
		t.Fatal("expected a default permission, got nil")
	}
	if id.Model.Model() == "" {
		t.Fatal("expected a default model config to be filled in")
	}
}

func TestCatalog_RegisterAndGet(t *testing.T) {
	cat := NewCatalog()
	perm := &domaintool.Permission{AllowTools: []string{"read_file"}}
	model := valueobject.NewModelConfig("openai", "gpt-4", 4096, 0.2, 1.0, false)
	cat.Register(NewIdentity("primary", "primary", "you are the main agent", perm, model))

	got, err := cat.Get("primary")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Model.Model() != "gpt-4" {
		t.Fatalf("expected model name gpt-4, got %s", got.Model.Model())
	}
}

func TestCatalog_GetMissing(t *testing.T) {
	cat := NewCatalog()
	if _, err := cat.Get("nonexistent"); err == nil {
		t.Fatal("expected error for unregistered identity")
	}
}
