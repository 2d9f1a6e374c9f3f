package application

import (
	"context"
	"fmt"

	"github.com/ngoclaw-labs/turncore/internal/domain/service"
	"github.com/ngoclaw-labs/turncore/internal/domain/valueobject"
)

// unconfiguredLLMClient is the default LLMFactory's product: it fails
// every Generate call with a clear, actionable error instead of
// returning empty text. Building a model inference engine is out of
// scope for this core — a real deployment supplies its own LLMFactory
// wired to whatever provider it runs against.
type unconfiguredLLMClient struct {
	identityName string
}

// NewStubLLMFactory returns an LLMFactory whose clients always fail
// with a message naming the identity that tried to call the model,
// for deployments that haven't wired a real backend yet.
func NewStubLLMFactory() LLMFactory {
	return func(identityName string, _ valueobject.ModelConfig) service.LLMClient {
		return &unconfiguredLLMClient{identityName: identityName}
	}
}

func (c *unconfiguredLLMClient) Generate(_ context.Context, _ *service.LLMRequest, deltaCh chan<- service.StreamChunk) (*service.LLMResponse, error) {
	close(deltaCh)
	return nil, fmt.Errorf("no model backend configured for identity %q: wire a real LLMFactory into application.NewApp", c.identityName)
}
