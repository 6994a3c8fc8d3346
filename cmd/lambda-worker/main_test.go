package main

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"finsight-backend/internal/queue"
	"finsight-backend/internal/shared/metrics"
)

type stubRunner struct {
	mu   sync.Mutex
	seen []string
	fail map[string]bool
}

func (s *stubRunner) RunStage(ctx context.Context, promptID, stage string) error {
	s.mu.Lock()
	s.seen = append(s.seen, promptID+"/"+stage)
	s.mu.Unlock()
	if s.fail[promptID] {
		return errors.New("docstore unavailable")
	}
	return nil
}

func record(t *testing.T, id string, msg queue.Message) events.SQSMessage {
	t.Helper()
	body, err := queue.EncodeMessage(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return events.SQSMessage{MessageId: id, Body: string(body)}
}

func TestHandleBatchReportsOnlyRetryableFailures(t *testing.T) {
	runner := &stubRunner{fail: map[string]bool{"p2": true}}
	reg := metrics.NewRegistry()
	records := []events.SQSMessage{
		record(t, "m1", queue.Message{PromptID: "p1", Stage: "code_generation"}),
		record(t, "m2", queue.Message{PromptID: "p2", Stage: "code_execution"}),
		{MessageId: "m3", Body: "{not json"},
		record(t, "m4", queue.Message{PromptID: "p4", Stage: "render"}),
	}

	resp := handleBatch(context.Background(), runner, nil, reg, records)

	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "m2" {
		t.Fatalf("expected only m2 to be retried, got %+v", resp.BatchItemFailures)
	}
	sort.Strings(runner.seen)
	if len(runner.seen) != 2 || runner.seen[0] != "p1/code_generation" || runner.seen[1] != "p2/code_execution" {
		t.Fatalf("unexpected stages run %v", runner.seen)
	}
	if reg.Count(metrics.WorkerJobsRecv) != 4 || reg.Count(metrics.WorkerJobsDone) != 1 ||
		reg.Count(metrics.WorkerJobsFailed) != 1 || reg.Count(metrics.WorkerJobsDropped) != 2 {
		t.Fatalf("unexpected counters:\n%s", reg.Render())
	}
}

func TestAllFailed(t *testing.T) {
	got := allFailed([]events.SQSMessage{{MessageId: "a"}, {MessageId: "b"}})
	if len(got) != 2 || got[1].ItemIdentifier != "b" {
		t.Fatalf("unexpected failures %+v", got)
	}
}
