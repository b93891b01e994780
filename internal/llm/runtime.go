package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/cexll/agentsdk-go/pkg/api"
	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/google/uuid"

	"github.com/theamal11z/Rex68/internal/config"
)

// Runtime is the subset of the agent runtime used for persona generation
// (allows mocking in tests).
type Runtime interface {
	Run(ctx context.Context, req api.Request) (*api.Response, error)
	Close()
}

// runtimeAdapter wraps api.Runtime to implement Runtime interface
type runtimeAdapter struct {
	rt *api.Runtime
}

func (r *runtimeAdapter) Run(ctx context.Context, req api.Request) (*api.Response, error) {
	return r.rt.Run(ctx, req)
}

func (r *runtimeAdapter) Close() {
	r.rt.Close()
}

// RuntimeFactory creates a Runtime instance
type RuntimeFactory func(cfg *config.Config, sysPrompt string) (Runtime, error)

// NewRuntime creates the agentsdk-go runtime for the configured provider.
// Built-in tools are disabled; the persona only generates text.
func NewRuntime(cfg *config.Config, sysPrompt string) (Runtime, error) {
	temperature := cfg.Agent.Temperature

	var provider api.ModelFactory
	switch cfg.Provider.Type {
	case "openai":
		provider = &model.OpenAIProvider{
			APIKey:      cfg.Provider.APIKey,
			BaseURL:     cfg.Provider.BaseURL,
			ModelName:   cfg.Agent.Model,
			MaxTokens:   cfg.Agent.MaxTokens,
			Temperature: &temperature,
		}
	default: // "anthropic" or empty
		provider = &model.AnthropicProvider{
			APIKey:      cfg.Provider.APIKey,
			BaseURL:     cfg.Provider.BaseURL,
			ModelName:   cfg.Agent.Model,
			MaxTokens:   cfg.Agent.MaxTokens,
			Temperature: &temperature,
		}
	}

	rt, err := api.New(context.Background(), api.Options{
		ProjectRoot:         cfg.Agent.Workspace,
		ModelFactory:        provider,
		SystemPrompt:        sysPrompt,
		MaxIterations:       cfg.Agent.MaxIterations,
		EnabledBuiltinTools: []string{},
	})
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}
	return &runtimeAdapter{rt: rt}, nil
}

// RuntimeCompleter runs each prompt as a fresh single-turn session so the
// runtime keeps no history of its own; history is assembled into the prompt.
type RuntimeCompleter struct {
	rt Runtime
}

func NewRuntimeCompleter(rt Runtime) *RuntimeCompleter {
	return &RuntimeCompleter{rt: rt}
}

func (c *RuntimeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	id := uuid.New().String()
	resp, err := c.rt.Run(ctx, api.Request{
		Prompt:    prompt,
		SessionID: "rex-" + id,
		RequestID: id,
	})
	if err != nil {
		return "", fmt.Errorf("runtime run: %w", err)
	}
	if resp == nil || resp.Result == nil {
		return "", ErrEmptyResponse
	}
	out := strings.TrimSpace(resp.Result.Output)
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}

func (c *RuntimeCompleter) Close() {
	if c.rt != nil {
		c.rt.Close()
	}
}
