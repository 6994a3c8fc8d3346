package prompts

import (
	"context"
	"errors"
	"strings"

	"finsight-backend/internal/llm"
	"finsight-backend/internal/sandbox"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrAccessDenied        = errors.New("access denied")
	ErrNotFound            = errors.New("prompt not found")
	ErrInvalidState        = errors.New("invalid state")
	ErrResultsNotAvailable = errors.New("results not available")
	ErrVersionConflict     = errors.New("prompt version conflict")
)

const (
	ErrorCodeUpstream  = "UPSTREAM_ERROR"
	ErrorCodeCancelled = "CANCELLED"
	ErrorCodeInternal  = "INTERNAL_ERROR"
)

const maxErrorMessageLen = 500

// classifyFailure maps a stage error to its persisted code.
func classifyFailure(stage string, err error) string {
	if err == nil {
		return ErrorCodeInternal
	}
	if code := sandbox.ErrorCode(err); code != "" {
		return code
	}
	var upstream *llm.UpstreamError
	if errors.As(err, &upstream) {
		return ErrorCodeUpstream
	}
	if errors.Is(err, context.Canceled) {
		return ErrorCodeCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) && stage == StageGeneration {
		return ErrorCodeUpstream
	}
	return ErrorCodeInternal
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.TrimSpace(msg)
	if len(msg) > maxErrorMessageLen {
		msg = msg[:maxErrorMessageLen]
	}
	return msg
}
