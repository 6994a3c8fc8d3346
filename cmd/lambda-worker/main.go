package main

// Build the SQS-triggered stage worker:
//   GOOS=linux GOARCH=arm64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-worker

import (
	"context"
	"log"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"golang.org/x/sync/errgroup"

	"finsight-backend/internal/bootstrap"
	"finsight-backend/internal/shared/config"
	"finsight-backend/internal/shared/metrics"
	"finsight-backend/internal/shared/telemetry"
	"finsight-backend/internal/workerproc"
)

// batchConcurrency bounds how many records of one SQS batch run at once.
const batchConcurrency = 4

var (
	initOnce sync.Once
	initErr  error
	app      *bootstrap.App
)

func initApp(ctx context.Context) {
	cfg := config.Load()
	// Stages run inside this invocation; re-enqueueing would loop.
	cfg.QueueBackend = "local"
	app, initErr = bootstrap.BuildContext(ctx, cfg)
}

func handler(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	initOnce.Do(func() { initApp(ctx) })
	if initErr != nil {
		log.Printf("lambda-worker bootstrap: %v", initErr)
		return events.SQSEventResponse{BatchItemFailures: allFailed(event.Records)}, nil
	}
	defer app.Logger.Sync()
	return handleBatch(ctx, app.Prompts, app.Logger, app.Metrics, event.Records), nil
}

// handleBatch runs each record's stage and reports the ones SQS should
// redeliver. Malformed records are dropped since redelivery cannot fix them.
func handleBatch(ctx context.Context, runner workerproc.StageRunner, logger *telemetry.Logger, reg *metrics.Registry, records []events.SQSMessage) events.SQSEventResponse {
	var (
		mu       sync.Mutex
		failures = make([]events.SQSBatchItemFailure, 0)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for _, record := range records {
		g.Go(func() error {
			reg.Inc(metrics.WorkerJobsRecv)
			err := workerproc.HandleMessage(gctx, runner, record.Body)
			if err == nil {
				reg.Inc(metrics.WorkerJobsDone)
				return nil
			}
			fields := map[string]any{
				"sqs_message_id": record.MessageId,
				"receive_count":  record.Attributes["ApproximateReceiveCount"],
				"error":          err.Error(),
			}
			if workerproc.Unrecoverable(err) {
				reg.Inc(metrics.WorkerJobsDropped)
				logger.Error("worker.prompt.invalid_message", fields)
				return nil
			}
			reg.Inc(metrics.WorkerJobsFailed)
			logger.Error("worker.prompt.failed", fields)
			mu.Lock()
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return events.SQSEventResponse{BatchItemFailures: failures}
}

func allFailed(records []events.SQSMessage) []events.SQSBatchItemFailure {
	failures := make([]events.SQSBatchItemFailure, 0, len(records))
	for _, record := range records {
		failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
	}
	return failures
}

func main() {
	lambda.Start(handler)
}
