package claude

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"finsight-backend/internal/llm"
)

const (
	defaultModel     = "claude-3-5-sonnet-latest"
	defaultTimeout   = 60 * time.Second
	defaultMaxTokens = 4096
)

// Client implements llm.Completer on the Anthropic Messages API.
type Client struct {
	client anthropic.Client
	model  string
}

type settings struct {
	baseURL    string
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*settings)

// WithBaseURL points the client at another endpoint, e.g. a test server.
func WithBaseURL(u string) Option {
	return func(s *settings) { s.baseURL = strings.TrimRight(u, "/") + "/" }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *settings) { s.httpClient = hc }
}

// NewClient constructs a Claude client. timeout <= 0 uses 60s. The SDK's
// automatic retries are disabled; a failed call fails the stage.
func NewClient(apiKey, model string, timeout time.Duration, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	if strings.TrimSpace(model) == "" {
		model = defaultModel
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(timeout),
	}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	if s.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(s.httpClient))
	}
	return &Client{client: anthropic.NewClient(reqOpts...), model: model}, nil
}

func (c *Client) Name() string { return "claude" }

func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (llm.Completion, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*req.Temperature))
	}
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == llm.RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
			continue
		}
		params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return llm.Completion{}, &llm.StatusError{
				Provider: "claude",
				Status:   apiErr.StatusCode,
				Message:  errorMessage(apiErr),
			}
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return llm.Completion{}, fmt.Errorf("claude request timeout: %w", err)
		}
		return llm.Completion{}, err
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return llm.Completion{
		Text:         text.String(),
		Model:        string(msg.Model),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}

// errorMessage pulls "message (type)" out of the API error body.
func errorMessage(apiErr *anthropic.Error) string {
	var body struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(apiErr.RawJSON()), &body); err != nil || body.Error.Message == "" {
		return ""
	}
	return body.Error.Message + " (" + body.Error.Type + ")"
}

var _ llm.Completer = (*Client)(nil)
