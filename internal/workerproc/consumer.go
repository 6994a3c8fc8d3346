package workerproc

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"finsight-backend/internal/queue"
	"finsight-backend/internal/shared/metrics"
	"finsight-backend/internal/shared/telemetry"
	"finsight-backend/internal/tasks"
)

const (
	DefaultVisibilitySeconds = 1200
	DefaultConcurrency       = 4
	receiveWaitSeconds       = 20
	receiveBatch             = 10
	receiveRetryDelay        = time.Second
)

// SQSAPI is the part of the SQS client the consumer uses.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Consumer long-polls an SQS queue and runs each stage job on a task
// runner keyed by prompt id. A message is deleted once its stage ran or
// when it can never be processed; otherwise it becomes visible again.
type Consumer struct {
	Client            SQSAPI
	QueueURL          string
	Runner            StageRunner
	Tasks             *tasks.Runner
	Concurrency       int
	VisibilitySeconds int
	Logger            *telemetry.Logger
	Metrics           *metrics.Registry
}

// Run polls until ctx is done. In-flight jobs keep running; callers drain
// them with Tasks.Shutdown.
func (c *Consumer) Run(ctx context.Context) error {
	if c.Client == nil || c.Runner == nil || c.Tasks == nil {
		return errors.New("consumer not configured")
	}
	if strings.TrimSpace(c.QueueURL) == "" {
		return errors.New("queue url is required")
	}
	concurrency := c.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	visibility := c.VisibilitySeconds
	if visibility <= 0 {
		visibility = DefaultVisibilitySeconds
	}
	sem := make(chan struct{}, concurrency)

	c.Logger.Info("worker.started", map[string]any{
		"queue_url":   c.QueueURL,
		"concurrency": concurrency,
		"visibility":  visibility,
	})

	for {
		if ctx.Err() != nil {
			return nil
		}
		resp, err := c.Client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.QueueURL),
			MaxNumberOfMessages: receiveBatch,
			WaitTimeSeconds:     receiveWaitSeconds,
			VisibilityTimeout:   int32(visibility),
			MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
				sqstypes.MessageSystemAttributeNameApproximateReceiveCount,
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.Logger.Warn("worker.receive_failed", map[string]any{"error": err.Error()})
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(receiveRetryDelay):
			}
			continue
		}

		for _, msg := range resp.Messages {
			select {
			case <-ctx.Done():
				return nil
			case sem <- struct{}{}:
			}
			c.Metrics.Inc(metrics.WorkerJobsRecv)
			c.dispatch(ctx, msg, sem)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, msg sqstypes.Message, sem chan struct{}) {
	body := aws.ToString(msg.Body)
	decoded, meta, err := ParseMessage(body)
	if err != nil {
		defer func() { <-sem }()
		fields := baseFields(msg, decoded.PromptID, decoded.RequestID)
		fields["body_len"] = meta.BodyLen
		if meta.BodySHA != "" {
			fields["body_sha256"] = meta.BodySHA
		}
		fields["error"] = err.Error()
		c.Logger.Error("worker.prompt.invalid_message", fields)
		if c.delete(ctx, msg, decoded.PromptID, decoded.RequestID) {
			c.Metrics.Inc(metrics.WorkerJobsDropped)
		}
		return
	}

	fields := baseFields(msg, decoded.PromptID, decoded.RequestID)
	fields["stage"] = decoded.Stage
	c.Logger.Info("worker.prompt.received", fields)

	err = c.Tasks.Go(ctx, decoded.PromptID, decoded.Stage, func(taskCtx context.Context) error {
		defer func() { <-sem }()
		c.handle(taskCtx, msg, decoded)
		return nil
	})
	if err != nil {
		<-sem
		// Another delivery for the same prompt is running; let this one
		// become visible again.
		fields["error"] = err.Error()
		c.Logger.Warn("worker.prompt.deferred", fields)
	}
}

func (c *Consumer) handle(ctx context.Context, msg sqstypes.Message, decoded queue.Message) {
	fields := baseFields(msg, decoded.PromptID, decoded.RequestID)
	fields["stage"] = decoded.Stage
	if err := Process(ctx, c.Runner, decoded); err != nil {
		fields["error"] = err.Error()
		c.Logger.Error("worker.prompt.failed", fields)
		c.Metrics.Inc(metrics.WorkerJobsFailed)
		return
	}
	if c.delete(ctx, msg, decoded.PromptID, decoded.RequestID) {
		c.Logger.Info("worker.prompt.completed", fields)
		c.Metrics.Inc(metrics.WorkerJobsDone)
	}
}

func (c *Consumer) delete(ctx context.Context, msg sqstypes.Message, promptID, requestID string) bool {
	receipt := aws.ToString(msg.ReceiptHandle)
	if receipt == "" {
		fields := baseFields(msg, promptID, requestID)
		fields["error"] = "missing receipt handle"
		c.Logger.Error("worker.prompt.delete_failed", fields)
		return false
	}
	if _, err := c.Client.DeleteMessage(context.WithoutCancel(ctx), &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.QueueURL),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		fields := baseFields(msg, promptID, requestID)
		fields["error"] = err.Error()
		c.Logger.Error("worker.prompt.delete_failed", fields)
		return false
	}
	return true
}

func baseFields(msg sqstypes.Message, promptID, requestID string) map[string]any {
	fields := map[string]any{
		"prompt_id":      promptID,
		"sqs_message_id": aws.ToString(msg.MessageId),
		"receive_count":  receiveCount(msg),
	}
	if strings.TrimSpace(requestID) != "" {
		fields["request_id"] = requestID
	}
	return fields
}

func receiveCount(msg sqstypes.Message) int {
	raw := msg.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)]
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
