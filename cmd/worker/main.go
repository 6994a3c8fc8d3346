package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"finsight-backend/internal/bootstrap"
	"finsight-backend/internal/queue"
	"finsight-backend/internal/shared/config"
	"finsight-backend/internal/workerproc"
)

func main() {
	cfg := config.Load()
	if strings.TrimSpace(cfg.SQSQueueURL) == "" {
		log.Fatal("SQS_QUEUE_URL is required")
	}
	// Stages run here, so the worker never re-dispatches to the queue.
	cfg.QueueBackend = "local"

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.BuildContext(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	client, err := queue.NewSQSClient(ctx, cfg.AWSRegion, cfg.SQSQueueURL)
	if err != nil {
		log.Fatalf("sqs client: %v", err)
	}

	consumer := &workerproc.Consumer{
		Client:            sqsAPI(client.Client()),
		QueueURL:          client.QueueURL(),
		Runner:            app.Prompts,
		Tasks:             app.Tasks,
		Concurrency:       cfg.WorkerConcurrency,
		VisibilitySeconds: envInt("SQS_VISIBILITY_TIMEOUT_SECONDS", workerproc.DefaultVisibilitySeconds),
		Logger:            app.Logger,
		Metrics:           app.Metrics,
	}
	if err := consumer.Run(ctx); err != nil {
		app.Logger.Error("worker.run_failed", map[string]any{"error": err.Error()})
	}

	app.Logger.Info("worker.shutdown", map[string]any{
		"in_flight": app.Tasks.Len(),
		"timeout":   bootstrap.ShutdownTimeout.String(),
	})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), bootstrap.ShutdownTimeout)
	defer cancel()
	if err := app.Close(shutdownCtx); err != nil {
		app.Logger.Error("worker.close_failed", map[string]any{"error": err.Error()})
	}
}

func sqsAPI(c *sqs.Client) workerproc.SQSAPI { return c }

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return def
	}
	return val
}
