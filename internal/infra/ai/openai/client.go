package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/bryanwahyu/automaton-reposcan/internal/domain/ai"
)

const (
	DefaultModel     = "gpt-4o-mini"
	defaultMaxTokens = 2048
)

// Options for the chat-completions provider.
type Options struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
}

type Client struct {
	*openai.Client
	Model     string
	maxTokens int
}

func NewClient(opts Options) *Client {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Client{Client: openai.NewClientWithConfig(cfg), Model: model, maxTokens: maxTokens}
}

func (c *Client) Name() string { return "openai:" + c.Model }

func (c *Client) Complete(ctx context.Context, instruction, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: instruction},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	// reasoning models only accept max_completion_tokens
	if isReasoningModel(c.Model) {
		req.MaxCompletionTokens = c.maxTokens
	} else {
		req.MaxTokens = c.maxTokens
	}

	resp, err := c.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ai.ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

func isReasoningModel(model string) bool {
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

// classify maps SDK errors onto the provider error taxonomy.
func classify(err error) error {
	var status int
	var code, kind string

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
		code = fmt.Sprint(apiErr.Code)
		kind = apiErr.Type
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		return fmt.Errorf("failed to create chat completion: %w", err)
	}

	switch {
	case status == http.StatusTooManyRequests && (code == "insufficient_quota" || kind == "insufficient_quota"):
		return fmt.Errorf("%w: %v", ai.ErrQuotaExceeded, err)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", ai.ErrRateLimited, err)
	case status == http.StatusServiceUnavailable || strings.Contains(strings.ToLower(err.Error()), "overloaded"):
		return fmt.Errorf("%w: %v", ai.ErrOverloaded, err)
	case status >= 500:
		return fmt.Errorf("%w: %v", ai.ErrUnavailable, err)
	}
	return fmt.Errorf("failed to create chat completion: %w", err)
}
