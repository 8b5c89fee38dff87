// Package mind provides the inference backends behind the soul's
// Cognition interface: an agentsdk-go runtime for Anthropic-style
// providers and a direct chat-completions client for OpenAI-compatible
// endpoints.
package mind

import (
	"fmt"
	"strings"

	"github.com/lunalinkco/aster/internal/config"
	"github.com/lunalinkco/aster/internal/soul"
)

// New selects the cognition backend from the provider configuration.
// "openai" talks chat-completions directly (with streaming replies);
// anything else goes through the agent SDK runtime.
func New(cfg *config.Config, sysPrompt string) (soul.Cognition, func(), error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider.Type)) {
	case "openai":
		return NewHTTPMind(cfg, sysPrompt), func() {}, nil
	default: // "anthropic" or empty
		m, err := NewSDKMind(cfg, sysPrompt)
		if err != nil {
			return nil, nil, err
		}
		return m, m.Close, nil
	}
}

// renderTurns flattens working memory into a transcript the model can
// read as context. Region ordering is the caller's concern; by the
// time turns reach here they are already in presentation order.
func renderTurns(mem []soul.Turn) string {
	var sb strings.Builder
	for _, t := range mem {
		sb.WriteString(string(t.Role))
		sb.WriteString(": ")
		sb.WriteString(t.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// renderClassifyPrompt asks for exactly one of the options, numbered
// so small models answer tersely.
func renderClassifyPrompt(instruction string, options []string) string {
	var sb strings.Builder
	sb.WriteString(instruction)
	sb.WriteString("\n\nChoose exactly one of the following answers and reply with the answer text only:\n")
	for i, opt := range options {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, opt)
	}
	return sb.String()
}

// matchOption maps a model answer back onto one of the offered
// options. Models echo options with varying punctuation and casing;
// the last option is the conservative fallback when nothing matches.
func matchOption(answer string, options []string) string {
	answer = strings.ToLower(strings.Trim(strings.TrimSpace(answer), `"'.`))
	if answer != "" {
		for _, opt := range options {
			if strings.EqualFold(strings.TrimSpace(opt), answer) {
				return opt
			}
		}
		for _, opt := range options {
			if strings.Contains(answer, strings.ToLower(opt)) {
				return opt
			}
		}
		// Numbered reply ("2" or "2.").
		for i, opt := range options {
			if answer == fmt.Sprintf("%d", i+1) {
				return opt
			}
		}
	}
	return options[len(options)-1]
}
