package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"finsight-backend/internal/prompts"
	"finsight-backend/internal/queue"
)

// StageRunner runs one pipeline stage for a prompt.
type StageRunner interface {
	RunStage(ctx context.Context, promptID, stage string) error
}

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

// ErrMissingPromptID indicates a message without a prompt id.
type ErrMissingPromptID struct {
	Meta      MessageMeta
	RequestID string
}

func (e ErrMissingPromptID) Error() string { return "missing prompt id" }

// ErrUnknownStage indicates a message naming a stage no worker runs.
type ErrUnknownStage struct {
	Meta     MessageMeta
	PromptID string
	Stage    string
}

func (e ErrUnknownStage) Error() string { return "unknown stage " + e.Stage }

// ErrProcess indicates the stage failed after the message parsed.
type ErrProcess struct {
	PromptID  string
	Stage     string
	RequestID string
	Err       error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "process prompt"
	}
	return "process prompt: " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// Unrecoverable reports whether err means the message can never succeed
// and should be removed from the queue.
func Unrecoverable(err error) bool {
	var (
		empty   ErrEmptyBody
		decode  ErrDecode
		missing ErrMissingPromptID
		stage   ErrUnknownStage
	)
	return errors.As(err, &empty) || errors.As(err, &decode) || errors.As(err, &missing) || errors.As(err, &stage)
}

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.Message, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, meta, ErrEmptyBody{Meta: meta}
	}
	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if strings.TrimSpace(msg.PromptID) == "" {
		return msg, meta, ErrMissingPromptID{Meta: meta, RequestID: msg.RequestID}
	}
	switch msg.Stage {
	case prompts.StageGeneration, prompts.StageExecution:
	default:
		return msg, meta, ErrUnknownStage{Meta: meta, PromptID: msg.PromptID, Stage: msg.Stage}
	}
	return msg, meta, nil
}

// HandleMessage parses a message payload and runs its stage.
func HandleMessage(ctx context.Context, runner StageRunner, body string) error {
	if runner == nil {
		return errors.New("prompt service not configured")
	}
	msg, _, err := ParseMessage(body)
	if err != nil {
		return err
	}
	return Process(ctx, runner, msg)
}

// Process runs the stage named by an already parsed message.
func Process(ctx context.Context, runner StageRunner, msg queue.Message) error {
	ctx = prompts.WithRequestID(ctx, msg.RequestID)
	if err := runner.RunStage(ctx, msg.PromptID, msg.Stage); err != nil {
		return ErrProcess{PromptID: msg.PromptID, Stage: msg.Stage, RequestID: msg.RequestID, Err: err}
	}
	return nil
}
