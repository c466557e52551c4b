// Package llm is the model inference boundary. Agents send a prompt and get
// raw text back; parsing that text is the caller's concern.
package llm

import (
	"context"
	"fmt"

	"github.com/aristath/agentflow/internal/config"
	"github.com/aristath/agentflow/internal/process"
)

// Options tune a single generation request. Zero values mean provider defaults.
type Options struct {
	System      string
	Temperature float64
	MaxTokens   int
}

// Client produces text for a prompt.
type Client interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
}

// New creates the client described by a provider entry. The process manager
// tracks CLI subprocesses; it may be nil for other provider types.
func New(name string, cfg config.ProviderConfig, pm *process.Manager) (Client, error) {
	switch cfg.Type {
	case "ollama":
		return NewOllamaClient(OllamaConfig{
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout(),
		}), nil
	case "cli":
		if cfg.Command == "" {
			return nil, fmt.Errorf("provider %q: cli provider needs a command", name)
		}
		return NewCLIClient(CLIConfig{
			Command: cfg.Command,
			Args:    cfg.Args,
			Format:  Format(cfg.Format),
			Model:   cfg.Model,
			Timeout: cfg.Timeout(),
		}, pm)
	case "mock":
		return NewMockClient(cfg.Responses...), nil
	default:
		return nil, fmt.Errorf("provider %q: unknown provider type %q", name, cfg.Type)
	}
}
