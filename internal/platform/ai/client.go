package ai

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// TextGenerator produces free text from a prompt. The production
// implementation talks to a chat-completions endpoint; tests use the
// mock below.
type TextGenerator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
	Model() string
}

// RestTextGenerator calls an OpenAI-compatible chat completions API.
type RestTextGenerator struct {
	client *resty.Client
	model  string
}

func NewRestTextGenerator(baseURL, apiKey, model string) *RestTextGenerator {
	client := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetTimeout(30 * time.Second)
	return &RestTextGenerator{client: client, model: model}
}

func (g *RestTextGenerator) Model() string { return g.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (g *RestTextGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	var result chatResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model: g.model,
			Messages: []chatMessage{
				{Role: "system", Content: system},
				{Role: "user", Content: prompt},
			},
			Temperature: 0.2,
		}).
		SetResult(&result).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("text generation: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("text generation: status %d", resp.StatusCode())
	}
	if result.Error != nil {
		return "", fmt.Errorf("text generation: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", errors.New("text generation: empty response")
	}
	return result.Choices[0].Message.Content, nil
}

// MockTextGenerator is a test double.
type MockTextGenerator struct {
	mu         sync.Mutex
	Response   string
	ShouldFail bool
	prompts    []string
}

func (m *MockTextGenerator) Model() string { return "mock-model" }

func (m *MockTextGenerator) Generate(_ context.Context, _, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	if m.ShouldFail {
		return "", errors.New("generation unavailable")
	}
	if m.Response != "" {
		return m.Response, nil
	}
	return "Patient is progressing through intake.", nil
}

func (m *MockTextGenerator) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}
