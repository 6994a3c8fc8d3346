package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"finsight-backend/internal/results"
	"finsight-backend/internal/shared/metrics"
	"finsight-backend/internal/shared/telemetry"
)

const (
	codeMaxTokens     = 4096
	insightsMaxTokens = 1024
	maxResultJSON     = 24 << 10
)

// Client generates analysis code and insights on top of a Completer.
type Client struct {
	Completer Completer
	Logger    *telemetry.Logger
	Metrics   *metrics.Registry
}

// NewClient wraps completer. A nil completer fails every call.
func NewClient(completer Completer, logger *telemetry.Logger, reg *metrics.Registry) *Client {
	if completer == nil {
		completer = PlaceholderCompleter{}
	}
	return &Client{Completer: completer, Logger: logger, Metrics: reg}
}

// GenerateCode asks the model for analysis code. Any remote failure, empty
// reply or reply without code is an *UpstreamError.
func (c *Client) GenerateCode(ctx context.Context, enrichedPrompt string) (string, error) {
	start := time.Now()
	resp, err := c.Completer.Complete(ctx, CompletionRequest{
		System:    CodeSystemPrompt,
		Messages:  []Message{{Role: RoleUser, Content: enrichedPrompt}},
		MaxTokens: codeMaxTokens,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return "", err
		}
		return "", &UpstreamError{Provider: c.Completer.Name(), Op: "generate code", Err: err}
	}
	c.logUsage("generate_code", resp, start)

	if strings.TrimSpace(resp.Text) == "" {
		return "", &UpstreamError{Provider: c.Completer.Name(), Op: "generate code", Err: errors.New("empty response")}
	}
	code, ok := ExtractCode(resp.Text)
	if !ok {
		return "", &UpstreamError{Provider: c.Completer.Name(), Op: "generate code", Err: errors.New("response contained no code")}
	}
	return code, nil
}

// GenerateInsights asks the model to summarize res. It never fails: any
// error yields an empty list.
func (c *Client) GenerateInsights(ctx context.Context, res results.ExecutionResult, promptText string) []results.Insight {
	payload, err := json.Marshal(res.Visualizations)
	if err != nil {
		c.insightFallback("encode", err)
		return []results.Insight{}
	}
	if len(payload) > maxResultJSON {
		payload = payload[:maxResultJSON]
	}
	start := time.Now()
	resp, err := c.Completer.Complete(ctx, CompletionRequest{
		System: InsightsSystemPrompt,
		Messages: []Message{{
			Role:    RoleUser,
			Content: fmt.Sprintf("Request: %s\n\nVisualizations (JSON):\n%s", promptText, payload),
		}},
		MaxTokens: insightsMaxTokens,
	})
	if err != nil {
		c.insightFallback("complete", err)
		return []results.Insight{}
	}
	c.logUsage("generate_insights", resp, start)

	insights := results.ParseInsights([]byte(extractJSON(resp.Text)), results.DefaultMaxInsights)
	if len(insights) == 0 {
		c.insightFallback("parse", errors.New("no insights in response"))
	}
	return insights
}

func (c *Client) insightFallback(stage string, err error) {
	c.Metrics.Inc(metrics.InsightFallbacks)
	c.Logger.Warn("llm.insights.fallback", map[string]any{
		"provider": c.Completer.Name(),
		"stage":    stage,
		"error":    err,
	})
}

func (c *Client) logUsage(op string, resp Completion, start time.Time) {
	c.Logger.Info("llm.response", map[string]any{
		"op":            op,
		"provider":      c.Completer.Name(),
		"model":         resp.Model,
		"input_tokens":  resp.InputTokens,
		"output_tokens": resp.OutputTokens,
		"duration_ms":   time.Since(start).Milliseconds(),
	})
}
