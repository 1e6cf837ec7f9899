// Package genai provides reply generation on top of the OpenAI chat completions API.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Defaults for the GenAI client.
const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 500
)

var (
	// ErrNoAPIKey is returned by NewClient when no API key was configured.
	ErrNoAPIKey = errors.New("OpenAI API key not set")
	// ErrNoChoicesReturned is returned when the completion carries no choices.
	ErrNoChoicesReturned = errors.New("no choices returned")
)

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completionsAdapter exposes the SDK completion service as a chatService.
type completionsAdapter struct {
	svc *openai.ChatCompletionService
}

func (a completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	DebugMode   bool   // write every call to <StateDir>/debug
	StateDir    string
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// WithDebugMode enables per-call debug dumps.
func WithDebugMode(enabled bool) Option {
	return func(o *Opts) { o.DebugMode = enabled }
}

// WithStateDir sets where debug dumps go.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

// Client wraps the OpenAI ChatCompletion service for generating replies.
type Client struct {
	chat        chatService
	model       string
	temperature float64
	maxTokens   int
	debugMode   bool
	stateDir    string
}

// NewClient initializes a new GenAI client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Model: DefaultModel, Temperature: DefaultTemperature, MaxTokens: DefaultMaxTokens}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("genai.NewClient", "model", cfg.Model, "temperature", cfg.Temperature, "maxTokens", cfg.MaxTokens, "debug", cfg.DebugMode)
	return &Client{
		chat:        completionsAdapter{svc: &cli.Chat.Completions},
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		debugMode:   cfg.DebugMode,
		stateDir:    cfg.StateDir,
	}, nil
}

// GeneratePrompt generates a response based on the provided system and user prompts.
func (c *Client) GeneratePrompt(systemPrompt, userPrompt string) (string, error) {
	return c.GeneratePromptWithContext(context.Background(), systemPrompt, userPrompt)
}

// GeneratePromptWithContext is GeneratePrompt bound to ctx.
func (c *Client) GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(userPrompt),
	}
	return c.complete(ctx, "GeneratePromptWithContext", messages)
}

// GenerateWithMessages completes an arbitrary message list.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	return c.complete(ctx, "GenerateWithMessages", messages)
}

func (c *Client) complete(ctx context.Context, method string, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: messages,
	}
	if c.temperature > 0 {
		params.Temperature = openai.Float(c.temperature)
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.maxTokens))
	}

	start := time.Now()
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("genai.Client."+method+": completion failed", "error", err, "model", c.model)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	c.writeDebugLog(method, params, resp)
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	content := resp.Choices[0].Message.Content
	slog.Debug("genai.Client."+method+": completion received", "model", c.model, "content_length", len(content), "elapsed", time.Since(start))
	return content, nil
}

type debugEntry struct {
	Timestamp time.Time                      `json:"timestamp"`
	Method    string                         `json:"method"`
	Model     string                         `json:"model"`
	Params    openai.ChatCompletionNewParams `json:"params"`
	Response  openai.ChatCompletion          `json:"response"`
}

// writeDebugLog dumps one call as JSON. Failures are logged only.
func (c *Client) writeDebugLog(method string, params openai.ChatCompletionNewParams, resp openai.ChatCompletion) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	dir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("genai.Client.writeDebugLog: mkdir failed", "error", err, "dir", dir)
		return
	}
	now := time.Now()
	data, err := json.MarshalIndent(debugEntry{Timestamp: now, Method: method, Model: c.model, Params: params, Response: resp}, "", "  ")
	if err != nil {
		slog.Warn("genai.Client.writeDebugLog: marshal failed", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s.json", now.Format("20060102T150405.000000000"), method)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		slog.Warn("genai.Client.writeDebugLog: write failed", "error", err)
	}
}
