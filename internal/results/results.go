// Package results holds the execution result shapes shared by the sandbox,
// the LLM client and the prompt pipeline, along with their validation.
package results

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	MinImportance     = 1
	MaxImportance     = 5
	DefaultImportance = 3

	DefaultMaxVisualizations = 20
	DefaultMaxInsights       = 20
)

type Visualization struct {
	Type   string         `json:"type"`
	Title  string         `json:"title"`
	Data   any            `json:"data"`
	Config map[string]any `json:"config,omitempty"`
}

type Insight struct {
	Title      string `json:"title"`
	Content    string `json:"content"`
	Importance int    `json:"importance"`
}

type ExecutionResult struct {
	Visualizations []Visualization `json:"visualizations"`
	Insights       []Insight       `json:"insights"`
}

// Limits caps how many entries a normalized result keeps.
type Limits struct {
	MaxVisualizations int
	MaxInsights       int
}

func (l Limits) withDefaults() Limits {
	if l.MaxVisualizations <= 0 {
		l.MaxVisualizations = DefaultMaxVisualizations
	}
	if l.MaxInsights <= 0 {
		l.MaxInsights = DefaultMaxInsights
	}
	return l
}

// ErrInvalidResult is wrapped by every shape violation Normalize reports.
var ErrInvalidResult = errors.New("invalid execution result")

// Normalize validates an untyped result object and converts it into an
// ExecutionResult. Lists are truncated to the limits and importance is
// clamped into [1,5].
func Normalize(raw any, limits Limits) (ExecutionResult, error) {
	limits = limits.withDefaults()
	obj, ok := raw.(map[string]any)
	if !ok {
		return ExecutionResult{}, fmt.Errorf("%w: result must be an object, got %s", ErrInvalidResult, kindOf(raw))
	}

	out := ExecutionResult{Visualizations: []Visualization{}, Insights: []Insight{}}

	if v, present := obj["visualizations"]; present && v != nil {
		list, ok := v.([]any)
		if !ok {
			return ExecutionResult{}, fmt.Errorf("%w: visualizations must be a list", ErrInvalidResult)
		}
		for i, item := range list {
			if len(out.Visualizations) == limits.MaxVisualizations {
				break
			}
			vis, err := toVisualization(item)
			if err != nil {
				return ExecutionResult{}, fmt.Errorf("%w: visualizations[%d]: %v", ErrInvalidResult, i, err)
			}
			out.Visualizations = append(out.Visualizations, vis)
		}
	}

	if v, present := obj["insights"]; present && v != nil {
		list, ok := v.([]any)
		if !ok {
			return ExecutionResult{}, fmt.Errorf("%w: insights must be a list", ErrInvalidResult)
		}
		for i, item := range list {
			if len(out.Insights) == limits.MaxInsights {
				break
			}
			ins, err := toInsight(item)
			if err != nil {
				return ExecutionResult{}, fmt.Errorf("%w: insights[%d]: %v", ErrInvalidResult, i, err)
			}
			out.Insights = append(out.Insights, ins)
		}
	}
	return out, nil
}

// ParseInsights decodes a JSON array of insights, dropping malformed entries
// instead of failing.
func ParseInsights(raw []byte, max int) []Insight {
	if max <= 0 {
		max = DefaultMaxInsights
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		var wrapped struct {
			Insights []any `json:"insights"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return []Insight{}
		}
		items = wrapped.Insights
	}
	out := make([]Insight, 0, len(items))
	for _, item := range items {
		if len(out) == max {
			break
		}
		ins, err := toInsight(item)
		if err != nil {
			continue
		}
		out = append(out, ins)
	}
	return out
}

func toVisualization(item any) (Visualization, error) {
	m, ok := item.(map[string]any)
	if !ok {
		return Visualization{}, errors.New("must be an object")
	}
	typ, _ := m["type"].(string)
	title, _ := m["title"].(string)
	if strings.TrimSpace(typ) == "" {
		return Visualization{}, errors.New("type is required")
	}
	if strings.TrimSpace(title) == "" {
		return Visualization{}, errors.New("title is required")
	}
	vis := Visualization{Type: typ, Title: title, Data: m["data"]}
	if cfg, ok := m["config"].(map[string]any); ok {
		vis.Config = cfg
	}
	return vis, nil
}

func toInsight(item any) (Insight, error) {
	m, ok := item.(map[string]any)
	if !ok {
		return Insight{}, errors.New("must be an object")
	}
	title, _ := m["title"].(string)
	content, _ := m["content"].(string)
	if strings.TrimSpace(title) == "" {
		return Insight{}, errors.New("title is required")
	}
	if strings.TrimSpace(content) == "" {
		return Insight{}, errors.New("content is required")
	}
	return Insight{Title: title, Content: content, Importance: ClampImportance(m["importance"])}, nil
}

// ClampImportance converts v to an importance in [1,5]. Missing or
// non-numeric values become 3.
func ClampImportance(v any) int {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return DefaultImportance
		}
		f = parsed
	default:
		return DefaultImportance
	}
	if math.IsNaN(f) {
		return DefaultImportance
	}
	i := int(math.Round(f))
	if i < MinImportance {
		return MinImportance
	}
	if i > MaxImportance {
		return MaxImportance
	}
	return i
}

// ClampInsights clamps importance on already typed insights.
func ClampInsights(in []Insight) []Insight {
	out := make([]Insight, len(in))
	for i, ins := range in {
		ins.Importance = ClampImportance(ins.Importance)
		out[i] = ins
	}
	return out
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "list"
	case string:
		return "string"
	case float64, int, int64:
		return "number"
	case bool:
		return "bool"
	default:
		return fmt.Sprintf("%T", v)
	}
}
