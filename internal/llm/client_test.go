package llm

import (
	"context"
	"errors"
	"testing"

	"finsight-backend/internal/results"
	"finsight-backend/internal/shared/metrics"
)

type fakeCompleter struct {
	text string
	err  error
	reqs []CompletionRequest
}

func (f *fakeCompleter) Name() string { return "fake" }

func (f *fakeCompleter) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return Completion{}, f.err
	}
	return Completion{Text: f.text, Model: "fake-1"}, nil
}

func TestGenerateCodeExtractsGoBlock(t *testing.T) {
	fc := &fakeCompleter{text: "Here you go:\n```go\npackage main\n\nfunc Analyze(input map[string]interface{}) (map[string]interface{}, error) { return nil, nil }\n```\nThanks"}
	code, err := NewClient(fc, nil, nil).GenerateCode(context.Background(), "enriched")
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	if code[:12] != "package main" {
		t.Fatalf("unexpected code %q", code)
	}
	if fc.reqs[0].System != CodeSystemPrompt || fc.reqs[0].Messages[0].Content != "enriched" {
		t.Fatalf("unexpected request %+v", fc.reqs[0])
	}
}

func TestGenerateCodeUpstreamErrors(t *testing.T) {
	cases := map[string]*fakeCompleter{
		"remote error": {err: errors.New("503")},
		"empty":        {text: "   "},
		"no code":      {text: "I cannot help with that."},
	}
	for name, fc := range cases {
		_, err := NewClient(fc, nil, nil).GenerateCode(context.Background(), "p")
		var upstream *UpstreamError
		if !errors.As(err, &upstream) {
			t.Fatalf("%s: expected UpstreamError, got %v", name, err)
		}
	}
	_, err := NewClient(nil, nil, nil).GenerateCode(context.Background(), "p")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured through placeholder, got %v", err)
	}
}

func TestGenerateInsightsNeverFails(t *testing.T) {
	reg := metrics.NewRegistry()
	res := results.ExecutionResult{Visualizations: []results.Visualization{{Type: "bar", Title: "Revenue"}}}

	got := NewClient(&fakeCompleter{err: errors.New("down")}, nil, reg).GenerateInsights(context.Background(), res, "q")
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty list on error, got %+v", got)
	}
	got = NewClient(&fakeCompleter{text: "not json"}, nil, reg).GenerateInsights(context.Background(), res, "q")
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty list on garbage, got %+v", got)
	}
	if reg.Count(metrics.InsightFallbacks) != 2 {
		t.Fatalf("expected 2 fallbacks, got %d", reg.Count(metrics.InsightFallbacks))
	}

	fc := &fakeCompleter{text: "```json\n[{\"title\":\"Growth\",\"content\":\"Up 10%\",\"importance\":12}]\n```"}
	got = NewClient(fc, nil, reg).GenerateInsights(context.Background(), res, "q")
	if len(got) != 1 || got[0].Importance != 5 {
		t.Fatalf("expected clamped insight, got %+v", got)
	}
}

func TestExtractCode(t *testing.T) {
	if code, ok := ExtractCode("```\npackage main\n```"); !ok || code != "package main" {
		t.Fatalf("untagged fence: %q %v", code, ok)
	}
	if code, ok := ExtractCode("```python\nprint(1)\n```\n```go\npackage main\n```"); !ok || code != "package main" {
		t.Fatalf("go block should win: %q %v", code, ok)
	}
	if code, ok := ExtractCode("package main\n\nfunc Analyze() {}"); !ok || code == "" {
		t.Fatalf("bare file: %q %v", code, ok)
	}
	if _, ok := ExtractCode("sorry"); ok {
		t.Fatalf("expected no code")
	}
}
