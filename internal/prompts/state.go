package prompts

import (
	"context"
	"errors"
	"fmt"
)

const maxCASAttempts = 3

// transition moves id from one status to the next and merges fields in the
// same write. The write is a compare-and-swap on the version read here, so
// of two racing callers exactly one succeeds and the other sees
// ErrInvalidState.
func (s *Service) transition(ctx context.Context, id, from, to string, fields map[string]any) (Prompt, error) {
	if !canTransition(from, to) {
		return Prompt{}, fmt.Errorf("%w: %s -> %s", ErrInvalidState, from, to)
	}
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := s.Repo.Get(ctx, id)
		if err != nil {
			return Prompt{}, err
		}
		if current.Status != from {
			return current, fmt.Errorf("%w: prompt is %s, expected %s", ErrInvalidState, current.Status, from)
		}
		update := make(map[string]any, len(fields)+2)
		for k, v := range fields {
			update[k] = v
		}
		update["status"] = to
		update["updatedAt"] = s.now()

		next, err := s.Repo.UpdateIf(ctx, id, current.Version, update)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return Prompt{}, err
		}
		s.logTransition(ctx, next, from, to)
		return next, nil
	}
	return Prompt{}, fmt.Errorf("%w: prompt %s changed concurrently", ErrInvalidState, id)
}

// fail moves a non-terminal prompt to failed. It returns the prompt and
// whether this call performed the transition.
func (s *Service) fail(ctx context.Context, id, stage, code, message string) (Prompt, bool, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := s.Repo.Get(ctx, id)
		if err != nil {
			return Prompt{}, false, err
		}
		if IsTerminal(current.Status) {
			return current, false, nil
		}
		if stage == "" {
			stage = stageOf(current.Status)
		}
		next, err := s.Repo.UpdateIf(ctx, id, current.Version, map[string]any{
			"status":    StatusFailed,
			"updatedAt": s.now(),
			"error":     ErrorInfo{Message: message, Code: code, Stage: stage},
		})
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return Prompt{}, false, err
		}
		s.logTransition(ctx, next, current.Status, StatusFailed)
		return next, true, nil
	}
	return Prompt{}, false, fmt.Errorf("%w: prompt %s changed concurrently", ErrInvalidState, id)
}

func (s *Service) logTransition(ctx context.Context, p Prompt, from, to string) {
	fields := map[string]any{
		"request_id":        RequestIDFromContext(ctx),
		"user_id":           p.UserID,
		"prompt_id":         p.ID,
		"status":            to,
		"status_transition": from + "->" + to,
		"version":           p.Version,
	}
	if p.Error != nil {
		fields["error_code"] = p.Error.Code
		fields["stage"] = p.Error.Stage
	}
	s.Logger.Info("prompt.status", fields)
}

// patch merges fields while the prompt stays in status.
func (s *Service) patch(ctx context.Context, id, status string, fields map[string]any) (Prompt, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := s.Repo.Get(ctx, id)
		if err != nil {
			return Prompt{}, err
		}
		if current.Status != status {
			return current, fmt.Errorf("%w: prompt is %s, expected %s", ErrInvalidState, current.Status, status)
		}
		update := make(map[string]any, len(fields)+1)
		for k, v := range fields {
			update[k] = v
		}
		update["updatedAt"] = s.now()
		next, err := s.Repo.UpdateIf(ctx, id, current.Version, update)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		return next, err
	}
	return Prompt{}, fmt.Errorf("%w: prompt %s changed concurrently", ErrInvalidState, id)
}
