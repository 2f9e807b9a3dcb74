package ollama

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotRunning means the Ollama server did not answer.
var ErrNotRunning = errors.New("ollama is not running")

// CheckReady reports whether the server is reachable and model is pulled.
// Models are never pulled automatically.
func CheckReady(ctx context.Context, c *Client, model string) error {
	if !c.IsRunning(ctx) {
		return fmt.Errorf("%w at %s", ErrNotRunning, c.baseURL)
	}
	ok, err := c.HasModel(ctx, model)
	if err != nil {
		return fmt.Errorf("checking model %s: %w", model, err)
	}
	if !ok {
		return fmt.Errorf("model %s is not available; run `ollama pull %s`", model, model)
	}
	return nil
}
