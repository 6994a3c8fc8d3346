package prompts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"finsight-backend/internal/datasets"
	"finsight-backend/internal/docstore"
	"finsight-backend/internal/identity"
	"finsight-backend/internal/results"
	"finsight-backend/internal/sandbox"
	"finsight-backend/internal/shared/metrics"
	"finsight-backend/internal/tasks"
	"finsight-backend/internal/usage"
)

var owner = identity.Principal{UserID: "user-1", Email: "owner@example.com"}

const revenueCode = `package main

import "fmt"

func Analyze(input map[string]interface{}) (map[string]interface{}, error) {
	datasets := input["datasets"].([]interface{})
	total := 0.0
	for _, d := range datasets {
		for _, r := range d.(map[string]interface{})["data"].([]interface{}) {
			total += r.(map[string]interface{})["revenue"].(float64)
		}
	}
	return map[string]interface{}{
		"visualizations": []interface{}{
			map[string]interface{}{"type": input["options"].(map[string]interface{})["visualizationType"], "title": "Revenue", "data": datasets},
		},
		"insights": []interface{}{
			map[string]interface{}{"title": "Total revenue", "content": fmt.Sprintf("%.0f", total), "importance": 4},
		},
	}, nil
}
`

type fakeEnricher struct {
	mu    sync.Mutex
	calls []identity.Principal
	err   error
}

func (f *fakeEnricher) Enrich(ctx context.Context, text string, ids []string, p identity.Principal) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, p)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return "## Request\n" + text, nil
}

type fakeLLM struct {
	gate        chan struct{}
	code        string
	err         error
	insights    []results.Insight
	insightCall chan results.ExecutionResult
}

func (f *fakeLLM) GenerateCode(ctx context.Context, enriched string) (string, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.code, nil
}

func (f *fakeLLM) GenerateInsights(ctx context.Context, res results.ExecutionResult, prompt string) []results.Insight {
	if f.insightCall != nil {
		f.insightCall <- res
	}
	if f.insights == nil {
		return []results.Insight{}
	}
	return f.insights
}

type fakeDatasets struct {
	byID map[string]datasets.Dataset
}

func (f *fakeDatasets) Lookup(ctx context.Context, id string) (datasets.Dataset, error) {
	ds, ok := f.byID[id]
	if !ok {
		return datasets.Dataset{}, datasets.ErrNotFound
	}
	return ds, nil
}

func (f *fakeDatasets) SampleRows(ctx context.Context, ds datasets.Dataset, limit int) ([]datasets.Row, error) {
	if len(ds.SampleRows) > limit {
		return ds.SampleRows[:limit], nil
	}
	return ds.SampleRows, nil
}

// runnerFunc adapts a function to sandbox.Runner.
type runnerFunc func(ctx context.Context, req sandbox.Request) (results.ExecutionResult, error)

func (f runnerFunc) Run(ctx context.Context, req sandbox.Request) (results.ExecutionResult, error) {
	return f(ctx, req)
}

type denyQuota struct{}

func (denyQuota) CanConsume(ctx context.Context, userID string, n int) (bool, usage.Usage, error) {
	return false, usage.Usage{}, nil
}

func (denyQuota) Consume(ctx context.Context, userID string, n int) (usage.Usage, error) {
	return usage.Usage{}, usage.ErrLimitReached
}

type testEnv struct {
	svc      *Service
	llm      *fakeLLM
	enricher *fakeEnricher
	tasks    *tasks.Runner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	llm := &fakeLLM{code: revenueCode}
	enricher := &fakeEnricher{}
	runner := tasks.NewRunner(nil)
	svc := &Service{
		Repo:     &DocRepo{Store: docstore.NewMemoryStore()},
		Enricher: enricher,
		LLM:      llm,
		Sandbox:  &sandbox.InProcessRunner{Limits: sandbox.Limits{Timeout: 10 * time.Second}},
		Datasets: &fakeDatasets{byID: map[string]datasets.Dataset{
			"ds1": {
				ID:      "ds1",
				OwnerID: owner.UserID,
				Name:    "revenue",
				SampleRows: []datasets.Row{
					{"month": "Jan", "revenue": 10.0},
					{"month": "Feb", "revenue": 32.0},
				},
			},
			"ds2": {ID: "ds2", OwnerID: "someone-else", Name: "private"},
		}},
		Usage:   usage.NewService(),
		Tasks:   runner,
		Metrics: metrics.NewRegistry(),
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = runner.Shutdown(ctx)
	})
	return &testEnv{svc: svc, llm: llm, enricher: enricher, tasks: runner}
}

func (e *testEnv) wait(t *testing.T, id string) Prompt {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.tasks.Wait(ctx, id); err != nil {
		t.Fatalf("wait for %s: %v", id, err)
	}
	p, err := e.svc.Repo.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return p
}

func (e *testEnv) submit(t *testing.T, in SubmitInput) Prompt {
	t.Helper()
	p, err := e.svc.Submit(context.Background(), in, owner)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return p
}

// generated submits a prompt and waits for it to reach generated.
func (e *testEnv) generated(t *testing.T) Prompt {
	t.Helper()
	p := e.submit(t, SubmitInput{
		Prompt:     "Show revenue by month",
		DatasetIDs: []string{"ds1"},
		Settings:   SettingsInput{VisualizationType: "bar"},
	})
	got := e.wait(t, p.ID)
	if got.Status != StatusGenerated {
		t.Fatalf("expected generated, got %s (%+v)", got.Status, got.Error)
	}
	return got
}

func isInvalidState(err error) bool { return errors.Is(err, ErrInvalidState) }
