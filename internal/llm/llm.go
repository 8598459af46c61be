// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package llm calls the external chat-completion API
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/tejzpr/companion-memory/internal/config"
	"github.com/tejzpr/companion-memory/internal/metrics"
	"github.com/tejzpr/companion-memory/internal/prompt"
)

// ErrTimeout is returned when the completion does not finish in time
var ErrTimeout = errors.New("llm call timed out")

// ErrEmptyReply is returned when the model answers with no text
var ErrEmptyReply = errors.New("llm returned an empty reply")

// StatusError is a non-success HTTP status from the API
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm returned status %d: %v", e.Code, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Completer turns a turn list into a single reply
type Completer interface {
	Complete(ctx context.Context, turns []prompt.Turn) (string, error)
}

// Options configures an OpenAICompleter
type Options struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	Metrics     *metrics.Metrics
	Logger      *log.Logger
}

// OpenAICompleter talks to any OpenAI-compatible chat completion endpoint
type OpenAICompleter struct {
	client openai.Client
	opts   Options
	logger *log.Logger
}

// NewFromConfig builds a completer, reading the API key from the
// configured environment variable.
func NewFromConfig(cfg config.LLMConfig, m *metrics.Metrics, logger *log.Logger) (*OpenAICompleter, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("LLM API key not set in %s", cfg.APIKeyEnv)
	}
	return NewOpenAICompleter(Options{
		BaseURL:     cfg.BaseURL,
		APIKey:      apiKey,
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Timeout:     cfg.Timeout(),
		Metrics:     m,
		Logger:      logger,
	}), nil
}

// NewOpenAICompleter creates a completer. Retries are disabled; the
// caller decides what a failure means.
func NewOpenAICompleter(opts Options) *OpenAICompleter {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &OpenAICompleter{
		client: openai.NewClient(
			option.WithAPIKey(opts.APIKey),
			option.WithBaseURL(opts.BaseURL),
			option.WithMaxRetries(0),
		),
		opts:   opts,
		logger: logger.With("component", "llm", "model", opts.Model),
	}
}

// Complete sends turns under the configured timeout
func (c *OpenAICompleter) Complete(ctx context.Context, turns []prompt.Turn) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.opts.Model),
		Messages: toMessages(turns),
	}
	if c.opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.opts.MaxTokens))
	}
	params.Temperature = openai.Float(c.opts.Temperature)

	start := time.Now()
	completion, err := c.client.Chat.Completions.New(ctx, params)
	elapsed := time.Since(start)
	if err != nil {
		err = classify(ctx, err)
		outcome := "error"
		if errors.Is(err, ErrTimeout) {
			outcome = "timeout"
		}
		c.opts.Metrics.ObserveLLM(outcome, elapsed)
		c.logger.Error("completion failed", "elapsed", elapsed, "error", err)
		return "", err
	}

	if len(completion.Choices) == 0 || strings.TrimSpace(completion.Choices[0].Message.Content) == "" {
		c.opts.Metrics.ObserveLLM("empty", elapsed)
		return "", ErrEmptyReply
	}

	c.opts.Metrics.ObserveLLM("ok", elapsed)
	c.logger.Debug("completion received", "elapsed", elapsed, "total_tokens", completion.Usage.TotalTokens)
	return completion.Choices[0].Message.Content, nil
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &StatusError{Code: apiErr.StatusCode, Err: err}
	}
	return fmt.Errorf("completion request failed: %w", err)
}

func toMessages(turns []prompt.Turn) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case prompt.RoleSystem:
			messages = append(messages, openai.SystemMessage(t.Content))
		case prompt.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(t.Content))
		default:
			messages = append(messages, openai.UserMessage(t.Content))
		}
	}
	return messages
}

// Func adapts a function to Completer
type Func func(ctx context.Context, turns []prompt.Turn) (string, error)

// Complete calls f
func (f Func) Complete(ctx context.Context, turns []prompt.Turn) (string, error) {
	return f(ctx, turns)
}
