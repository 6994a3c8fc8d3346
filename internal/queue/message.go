package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MessageVersion is the payload version written by NewMessage. Workers
// reject anything newer so a rollback never misreads a future format.
const MessageVersion = 1

// ErrUnsupportedVersion is returned by DecodeMessage for future payloads.
var ErrUnsupportedVersion = errors.New("unsupported message version")

// Client sends stage jobs to a queue backend.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

// Message asks a worker to run one pipeline stage for a prompt.
type Message struct {
	PromptID   string `json:"promptId"`
	Stage      string `json:"stage"`
	RequestID  string `json:"requestId,omitempty"`
	EnqueuedAt string `json:"enqueuedAt"`
	Version    int    `json:"version"`
}

// NewMessage stamps a stage job with the current version and time.
func NewMessage(promptID, stage, requestID string, now time.Time) Message {
	return Message{
		PromptID:   promptID,
		Stage:      stage,
		RequestID:  requestID,
		EnqueuedAt: now.UTC().Format(time.RFC3339),
		Version:    MessageVersion,
	}
}

// Age reports how long ago the message was enqueued, or zero when the
// timestamp is missing or malformed.
func (m Message) Age(now time.Time) time.Duration {
	at, err := time.Parse(time.RFC3339, m.EnqueuedAt)
	if err != nil {
		return 0
	}
	return now.Sub(at)
}

// EncodeMessage returns the JSON wire form of msg.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a wire payload. A missing version is read as 1.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	if msg.Version > MessageVersion {
		return Message{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, msg.Version)
	}
	if msg.Version == 0 {
		msg.Version = MessageVersion
	}
	msg.PromptID = strings.TrimSpace(msg.PromptID)
	msg.Stage = strings.TrimSpace(msg.Stage)
	return msg, nil
}

// Recorder is an in-memory Client that keeps every message it is sent.
type Recorder struct {
	mu   sync.Mutex
	sent []Message
	Err  error
}

func (r *Recorder) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

// Sent returns a copy of the recorded messages.
func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.sent...)
}

var _ Client = (*Recorder)(nil)
