package llm

import (
	"context"
	"errors"
	"fmt"
)

// Message is one chat turn.
type Message struct {
	Role    string
	Content string
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// CompletionRequest is a provider-neutral chat request.
type CompletionRequest struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature *float32
}

// Completion is the text a provider returned plus token accounting.
type Completion struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Completer is implemented by each LLM provider.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
	Name() string
}

// ErrNotConfigured is returned by the placeholder provider.
var ErrNotConfigured = errors.New("no LLM provider configured")

// UpstreamError reports a failed or unusable LLM response.
type UpstreamError struct {
	Provider string
	Op       string
	Err      error
}

func (e *UpstreamError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("llm %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("llm %s (%s): %v", e.Op, e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// StatusError is a non-success HTTP answer from a provider.
type StatusError struct {
	Provider string
	Status   int
	Message  string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s status %d", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s error: %s (status %d)", e.Provider, e.Message, e.Status)
}

// PlaceholderCompleter fails every request; it stands in when no provider
// credentials are configured.
type PlaceholderCompleter struct{}

func (PlaceholderCompleter) Name() string { return "none" }

func (PlaceholderCompleter) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	return Completion{}, ErrNotConfigured
}
