// Package genai wraps the OpenAI API for chat completion and audio
// transcription. It is the only component that talks to the model
// provider; everything else consumes ClientInterface.
package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default model configuration. The temperature matches the production
// prompt tuning; the timeout bounds one completion round trip.
const (
	DefaultModel          = "gpt-4o"
	DefaultTemperature    = 0.7
	DefaultRequestTimeout = 60 * time.Second
)

// FunctionCall is the function portion of a model tool request.
type FunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolCall is one model-requested tool invocation.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// ToolCallResponse is the outcome of one completion request made with a
// tool catalog: either final content, requested tool calls, or both.
type ToolCallResponse struct {
	Content   string
	ToolCalls []ToolCall
}

// ClientInterface defines the model gateway operations used by the rest
// of the system. Mock implementations back the orchestrator tests.
type ClientInterface interface {
	// GeneratePrompt runs a one-shot system+user completion.
	GeneratePrompt(ctx context.Context, system, user string) (string, error)
	// GenerateWithMessages completes an arbitrary message stack.
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
	// GenerateWithTools completes a message stack with a tool catalog,
	// letting the model decide whether to request tool invocations.
	GenerateWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*ToolCallResponse, error)
	// TranscribeAudio runs Whisper speech recognition over an audio stream.
	TranscribeAudio(ctx context.Context, audio io.Reader, filename, language string) (string, error)
}

// Opts holds configuration options for the OpenAI client.
type Opts struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Option defines a configuration option for the OpenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat completion model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client wraps the OpenAI SDK client.
type Client struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

// NewClient initializes the OpenAI client. The API key falls back to the
// OPENAI_API_KEY environment variable and is required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Model: DefaultModel, Timeout: DefaultRequestTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if envModel := os.Getenv("OPENAI_MODEL"); cfg.Model == DefaultModel && envModel != "" {
		cfg.Model = envModel
	}
	slog.Info("genai.NewClient: OpenAI client initialized", "model", cfg.Model, "timeout", cfg.Timeout)
	return &Client{
		client:  openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}, nil
}

// GeneratePrompt runs a one-shot system+user completion.
func (c *Client) GeneratePrompt(ctx context.Context, system, user string) (string, error) {
	return c.GenerateWithMessages(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(system),
		openai.UserMessage(user),
	})
}

// GenerateWithMessages completes an arbitrary message stack.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(DefaultTemperature),
	})
	if err != nil {
		slog.Error("genai.GenerateWithMessages: completion failed", "error", err, "messageCount", len(messages))
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateWithTools completes a message stack with a tool catalog. Tool
// use is optional and self-directed: the model decides.
func (c *Client) GenerateWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*ToolCallResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Tools:       tools,
		ToolChoice:  openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("auto")},
		Temperature: openai.Float(DefaultTemperature),
	})
	if err != nil {
		slog.Error("genai.GenerateWithTools: completion failed", "error", err, "messageCount", len(messages), "toolCount", len(tools))
		return nil, fmt.Errorf("chat completion with tools failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned")
	}

	choice := resp.Choices[0].Message
	out := &ToolCallResponse{Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: FunctionCall{
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			},
		})
	}
	slog.Debug("genai.GenerateWithTools: completion received",
		"hasContent", out.Content != "",
		"toolCallCount", len(out.ToolCalls))
	return out, nil
}

// TranscribeAudio runs Whisper speech recognition over an audio stream.
// The language hint is optional ("" lets the model detect it).
func (c *Client) TranscribeAudio(ctx context.Context, audio io.Reader, filename, language string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.AudioTranscriptionNewParams{
		Model: openai.AudioModelWhisper1,
		File:  openai.File(audio, filename, "application/octet-stream"),
	}
	if language != "" {
		params.Language = openai.String(language)
	}
	resp, err := c.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		slog.Error("genai.TranscribeAudio: transcription failed", "error", err, "filename", filename)
		return "", fmt.Errorf("audio transcription failed: %w", err)
	}
	return resp.Text, nil
}
