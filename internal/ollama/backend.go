package ollama

import (
	"context"
	"time"
)

// BackendName is the registry name of the Ollama backend.
const BackendName = "ollama"

// Backend adapts a Client and model to content.Backend.
type Backend struct {
	client *Client
	model  string
}

// NewBackend returns a Backend that completes prompts with model.
func NewBackend(client *Client, model string) *Backend {
	return &Backend{client: client, model: model}
}

func (b *Backend) Name() string { return BackendName }

// Complete sends prompt as a single user message.
func (b *Backend) Complete(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return b.client.Chat(ctx, b.model, []Message{{Role: "user", Content: prompt}})
}
