// Package llm provides the text-generation port used for summarization and chat.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Generator produces text from a system instruction and user content.
type Generator interface {
	GenerateText(ctx context.Context, system, user string) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, system, user string) (string, error)

func (f GeneratorFunc) GenerateText(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

// GenerationError reports a failed generation call: network, timeout or a
// malformed response.
type GenerationError struct {
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation failed: %v", e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// --- Ollama Provider ---

// OllamaGenerator calls Ollama's chat endpoint without streaming.
type OllamaGenerator struct {
	baseURL string
	model   string
	client  *http.Client
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
}

// NewOllamaGenerator creates a generator backed by Ollama. Default model: phi3:3.8b.
func NewOllamaGenerator(baseURL, model string) *OllamaGenerator {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "phi3:3.8b"
	}
	return &OllamaGenerator{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (g *OllamaGenerator) GenerateText(ctx context.Context, system, user string) (string, error) {
	body, _ := json.Marshal(ollamaChatRequest{
		Model: g.model,
		Messages: []ollamaChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	req, err := http.NewRequestWithContext(ctx, "POST", g.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", &GenerationError{Provider: "ollama", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", &GenerationError{Provider: "ollama", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		b, _ := io.ReadAll(resp.Body)
		return "", &GenerationError{Provider: "ollama", Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(b))}
	}

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &GenerationError{Provider: "ollama", Err: fmt.Errorf("decode response: %w", err)}
	}
	content := strings.TrimSpace(result.Message.Content)
	if content == "" {
		return "", &GenerationError{Provider: "ollama", Err: errors.New("empty response")}
	}
	return content, nil
}

// --- OpenAI-compatible Provider ---

// OpenAIGenerator uses any OpenAI-compatible chat completion API.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

// NewOpenAIGenerator creates a generator using an OpenAI-compatible API.
func NewOpenAIGenerator(baseURL, apiKey, model string) *OpenAIGenerator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIGenerator{client: openai.NewClientWithConfig(cfg), model: model}
}

func (g *OpenAIGenerator) GenerateText(ctx context.Context, system, user string) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", &GenerationError{Provider: "openai", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &GenerationError{Provider: "openai", Err: errors.New("no choices returned")}
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", &GenerationError{Provider: "openai", Err: errors.New("empty response")}
	}
	return content, nil
}

// --- Factory ---

// Config selects and configures a generation provider.
type Config struct {
	Provider string // "ollama" | "openai" | "" (disabled)
	Model    string
	URL      string
	APIKey   string
}

// New creates a generator from config. It returns nil, nil when generation is disabled.
func New(cfg Config) (Generator, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllamaGenerator(cfg.URL, cfg.Model), nil
	case "openai":
		return NewOpenAIGenerator(cfg.URL, cfg.APIKey, cfg.Model), nil
	case "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported generation provider: %s", cfg.Provider)
	}
}
