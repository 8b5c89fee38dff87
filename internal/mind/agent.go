package mind

import (
	"context"
	"fmt"
	"strings"

	"github.com/cexll/agentsdk-go/pkg/api"
	"github.com/cexll/agentsdk-go/pkg/model"

	"github.com/lunalinkco/aster/internal/bus"
	"github.com/lunalinkco/aster/internal/config"
	"github.com/lunalinkco/aster/internal/soul"
)

// Runtime interface for the agent runtime (allows mocking in tests)
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

// SDKMind drives cognition through the agent SDK runtime. The SDK does
// not expose token streaming, so streamed replies arrive as a single
// chunk.
type SDKMind struct {
	runtime Runtime
}

// NewSDKMind builds the default SDK-backed cognition.
func NewSDKMind(cfg *config.Config, sysPrompt string) (*SDKMind, error) {
	rt, err := newRuntime(cfg, sysPrompt)
	if err != nil {
		return nil, err
	}
	return &SDKMind{runtime: rt}, nil
}

// NewSDKMindWithRuntime injects a runtime, for tests.
func NewSDKMindWithRuntime(rt Runtime) *SDKMind {
	return &SDKMind{runtime: rt}
}

func newRuntime(cfg *config.Config, sysPrompt string) (Runtime, error) {
	var provider api.ModelFactory
	switch cfg.Provider.Type {
	case "openai":
		provider = &model.OpenAIProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	default: // "anthropic" or empty
		provider = &model.AnthropicProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	}

	rt, err := api.New(context.Background(), api.Options{
		ProjectRoot:  cfg.Agent.Workspace,
		ModelFactory: provider,
		SystemPrompt: sysPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}
	return &runtimeAdapter{rt: rt}, nil
}

func (m *SDKMind) run(ctx context.Context, mem []soul.Turn, instruction string) (string, error) {
	prompt := renderTurns(mem) + "\n" + instruction

	resp, err := m.runtime.Run(ctx, api.Request{Prompt: prompt})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Result == nil {
		return "", nil
	}
	return strings.TrimSpace(resp.Result.Output), nil
}

func (m *SDKMind) Classify(ctx context.Context, mem []soul.Turn, instruction string, options []string) (string, error) {
	answer, err := m.run(ctx, mem, renderClassifyPrompt(instruction, options))
	if err != nil {
		return "", fmt.Errorf("classify: %w", err)
	}
	return matchOption(answer, options), nil
}

func (m *SDKMind) Reply(ctx context.Context, mem []soul.Turn, instruction string, streaming bool) (*bus.TextStream, error) {
	text, err := m.run(ctx, mem, instruction)
	if err != nil {
		return nil, fmt.Errorf("reply: %w", err)
	}
	return bus.StaticText(text), nil
}

func (m *SDKMind) Reflect(ctx context.Context, mem []soul.Turn, instruction string) (string, error) {
	text, err := m.run(ctx, mem, instruction)
	if err != nil {
		return "", fmt.Errorf("reflect: %w", err)
	}
	return text, nil
}

// Close releases the underlying runtime.
func (m *SDKMind) Close() {
	m.runtime.Close()
}
