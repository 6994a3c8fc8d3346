package prompts

import (
	"context"
	"time"

	"finsight-backend/internal/queue"
)

// QueueDispatcher sends stage jobs to a queue consumed by cmd/worker.
type QueueDispatcher struct {
	Client queue.Client
	Now    func() time.Time
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, promptID, stage string) error {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	return d.Client.Send(ctx, queue.NewMessage(promptID, stage, RequestIDFromContext(ctx), now()))
}

var _ Dispatcher = (*QueueDispatcher)(nil)
