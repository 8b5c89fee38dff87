package mind

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lunalinkco/aster/internal/bus"
	"github.com/lunalinkco/aster/internal/config"
	"github.com/lunalinkco/aster/internal/soul"
)

// HTTPMind drives cognition through an OpenAI-compatible
// chat-completions endpoint. Replies stream token deltas over SSE.
type HTTPMind struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	sysPrompt   string
	httpClient  *http.Client
}

func NewHTTPMind(cfg *config.Config, sysPrompt string) *HTTPMind {
	return &HTTPMind{
		apiKey:      cfg.Provider.APIKey,
		baseURL:     cfg.Provider.BaseURL,
		model:       cfg.Agent.Model,
		maxTokens:   cfg.Agent.MaxTokens,
		temperature: cfg.Agent.Temperature,
		sysPrompt:   sysPrompt,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (m *HTTPMind) messages(mem []soul.Turn, instruction string) []chatMessage {
	msgs := make([]chatMessage, 0, len(mem)+2)
	if strings.TrimSpace(m.sysPrompt) != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: m.sysPrompt})
	}
	for _, t := range mem {
		msgs = append(msgs, chatMessage{Role: string(t.Role), Content: t.Content})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: instruction})
	return msgs
}

func (m *HTTPMind) Classify(ctx context.Context, mem []soul.Turn, instruction string, options []string) (string, error) {
	answer, err := m.complete(ctx, m.messages(mem, renderClassifyPrompt(instruction, options)))
	if err != nil {
		return "", fmt.Errorf("classify: %w", err)
	}
	return matchOption(answer, options), nil
}

func (m *HTTPMind) Reply(ctx context.Context, mem []soul.Turn, instruction string, streaming bool) (*bus.TextStream, error) {
	if !streaming {
		text, err := m.complete(ctx, m.messages(mem, instruction))
		if err != nil {
			return nil, fmt.Errorf("reply: %w", err)
		}
		return bus.StaticText(text), nil
	}
	return m.stream(ctx, m.messages(mem, instruction))
}

func (m *HTTPMind) Reflect(ctx context.Context, mem []soul.Turn, instruction string) (string, error) {
	text, err := m.complete(ctx, m.messages(mem, instruction))
	if err != nil {
		return "", fmt.Errorf("reflect: %w", err)
	}
	return text, nil
}

func (m *HTTPMind) newRequest(ctx context.Context, msgs []chatMessage, streaming bool) (*http.Request, error) {
	if strings.TrimSpace(m.apiKey) == "" {
		return nil, fmt.Errorf("missing api key")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(m.baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("missing base url")
	}
	if m.model == "" {
		return nil, fmt.Errorf("missing model")
	}

	body := map[string]any{
		"model":       m.model,
		"messages":    msgs,
		"temperature": m.temperature,
	}
	if m.maxTokens > 0 {
		body["max_tokens"] = m.maxTokens
	}
	if streaming {
		body["stream"] = true
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (m *HTTPMind) complete(ctx context.Context, msgs []chatMessage) (string, error) {
	req, err := m.newRequest(ctx, msgs, false)
	if err != nil {
		return "", err
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("model http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("empty choices in response")
	}
	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("empty content in response")
	}
	return content, nil
}

// stream opens an SSE chat-completions request and forwards token
// deltas into the returned text stream. Errors after the stream opens
// surface through the stream's terminal error.
func (m *HTTPMind) stream(ctx context.Context, msgs []chatMessage) (*bus.TextStream, error) {
	req, err := m.newRequest(ctx, msgs, true)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("model http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	out, push, done := bus.NewTextStream()
	go func() {
		defer resp.Body.Close()
		done(forwardSSE(resp.Body, push))
	}()
	return out, nil
}

// forwardSSE pushes token deltas until the body ends or the consumer
// discards the stream; a discarded stream stops the read early so the
// goroutine and connection are released.
func forwardSSE(body io.Reader, push func(string) bool) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var event struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return fmt.Errorf("decode stream event: %w", err)
		}
		if len(event.Choices) > 0 && event.Choices[0].Delta.Content != "" {
			if !push(event.Choices[0].Delta.Content) {
				return nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}
