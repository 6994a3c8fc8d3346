package main

// Build the API Gateway (HTTP API) handler:
//   GOOS=linux GOARCH=arm64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"

	"finsight-backend/internal/bootstrap"
	"finsight-backend/internal/shared/config"
)

const bootstrapFailedBody = `{"error":{"code":"internal_error","message":"service unavailable"}}`

var (
	initOnce  sync.Once
	initErr   error
	app       *bootstrap.App
	ginLambda *ginadapter.GinLambdaV2
)

func initApp(ctx context.Context) {
	cfg := config.Load()
	app, initErr = bootstrap.BuildContext(ctx, cfg)
	if initErr != nil {
		return
	}
	if cfg.QueueBackend != "sqs" {
		// Background stage goroutines only run while an invocation is in
		// flight; the sandbox stage can be frozen mid-run.
		app.Logger.Warn("lambda.http.local_stages", map[string]any{"queueBackend": cfg.QueueBackend})
	}
	ginLambda = ginadapter.NewV2(app.Router)
}

func handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	initOnce.Do(func() { initApp(ctx) })
	if initErr != nil {
		log.Printf("lambda-http bootstrap: %v", initErr)
		return events.APIGatewayV2HTTPResponse{
			StatusCode: http.StatusServiceUnavailable,
			Body:       bootstrapFailedBody,
			Headers:    map[string]string{"Content-Type": "application/json"},
		}, nil
	}
	resp, err := ginLambda.ProxyWithContext(ctx, req)
	app.Logger.Sync()
	return resp, err
}

func main() {
	lambda.Start(handler)
}
