package prompts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"finsight-backend/internal/datasets"
	"finsight-backend/internal/identity"
	"finsight-backend/internal/results"
	"finsight-backend/internal/sandbox"
	"finsight-backend/internal/shared/metrics"
	"finsight-backend/internal/shared/tracing"
)

// RunStage runs one pipeline stage for a prompt. Workers call it for
// dispatched jobs; locally it runs on the task runner.
func (s *Service) RunStage(ctx context.Context, id, stage string) error {
	switch stage {
	case StageGeneration:
		return s.runGeneration(ctx, id)
	case StageExecution:
		return s.runExecution(ctx, id)
	default:
		return fmt.Errorf("%w: unknown stage %q", ErrValidation, stage)
	}
}

func (s *Service) runGeneration(ctx context.Context, id string) (err error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, s.Tracer, "prompt.generate", attribute.String("prompt.id", id))
	defer func() {
		s.Metrics.ObserveMs(metrics.StageDurationMs, float64(time.Since(start).Milliseconds()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
			s.failStage(ctx, id, StageGeneration, err)
		}
	}()

	prompt, err := s.transition(ctx, id, StatusCreated, StatusProcessing, nil)
	if err != nil {
		if errors.Is(err, ErrInvalidState) {
			s.skip(ctx, id, StageGeneration, err)
			return nil
		}
		return err
	}

	principal := identity.Principal{UserID: prompt.UserID, TeamID: prompt.TeamID}
	enriched, err := s.Enricher.Enrich(ctx, prompt.Prompt, prompt.DatasetIDs, principal)
	if err != nil {
		s.failStage(ctx, id, StageGeneration, fmt.Errorf("enrich: %w", err))
		return err
	}
	if _, err := s.patch(ctx, id, StatusProcessing, map[string]any{"enrichedPrompt": enriched}); err != nil {
		s.failStage(ctx, id, StageGeneration, fmt.Errorf("store enriched prompt: %w", err))
		return err
	}

	code, err := s.LLM.GenerateCode(ctx, enriched)
	if err != nil {
		s.failStage(ctx, id, StageGeneration, err)
		return err
	}
	if _, err := s.transition(ctx, id, StatusProcessing, StatusGenerated, map[string]any{"generatedCode": code}); err != nil {
		s.failStage(ctx, id, StageGeneration, fmt.Errorf("store generated code: %w", err))
		return err
	}
	s.Metrics.Inc(metrics.PromptsGenerated)
	return nil
}

func (s *Service) runExecution(ctx context.Context, id string) (err error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, s.Tracer, "prompt.execute", attribute.String("prompt.id", id))
	defer func() {
		s.Metrics.ObserveMs(metrics.StageDurationMs, float64(time.Since(start).Milliseconds()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
			s.failStage(ctx, id, StageExecution, err)
		}
	}()

	prompt, err := s.Repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if prompt.Status != StatusExecuting {
		s.skip(ctx, id, StageExecution, fmt.Errorf("%w: prompt is %s", ErrInvalidState, prompt.Status))
		return nil
	}
	if prompt.GeneratedCode == nil || *prompt.GeneratedCode == "" {
		err := errors.New("prompt has no generated code")
		s.failStage(ctx, id, StageExecution, err)
		return err
	}

	inputs, err := s.loadDatasets(ctx, prompt)
	if err != nil {
		s.failStage(ctx, id, StageExecution, err)
		return err
	}

	sandboxCtx, sandboxSpan := tracing.StartSpan(ctx, s.Tracer, "sandbox.run",
		attribute.String("prompt.id", id),
		attribute.Int("datasets", len(inputs)),
	)
	res, err := s.Sandbox.Run(sandboxCtx, sandbox.Request{
		Code:     *prompt.GeneratedCode,
		Datasets: inputs,
		Options:  executionOptions(prompt),
	})
	if err != nil {
		sandboxSpan.RecordError(err)
		sandboxSpan.SetStatus(codes.Error, err.Error())
	}
	sandboxSpan.End()
	if err != nil {
		s.failStage(ctx, id, StageExecution, err)
		return err
	}

	insights := res.Insights
	if len(insights) == 0 && prompt.Settings.IncludeInsights {
		insights = s.LLM.GenerateInsights(ctx, res, prompt.Prompt)
	}
	if insights == nil {
		insights = []results.Insight{}
	}
	if _, err := s.transition(ctx, id, StatusExecuting, StatusCompleted, map[string]any{
		"executionResults": res,
		"insights":         insights,
	}); err != nil {
		s.failStage(ctx, id, StageExecution, fmt.Errorf("store results: %w", err))
		return err
	}
	s.Metrics.Inc(metrics.PromptsCompleted)
	return nil
}

// loadDatasets gathers the rows of every dataset the owner can still
// access. Missing or inaccessible datasets are skipped.
func (s *Service) loadDatasets(ctx context.Context, p Prompt) ([]sandbox.DatasetInput, error) {
	principal := identity.Principal{UserID: p.UserID, TeamID: p.TeamID}
	out := make([]sandbox.DatasetInput, 0, len(p.DatasetIDs))
	for _, dsID := range p.DatasetIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ds, err := s.Datasets.Lookup(ctx, dsID)
		if err != nil {
			if errors.Is(err, datasets.ErrNotFound) {
				s.Logger.Info("prompt.dataset.skipped", map[string]any{"prompt_id": p.ID, "dataset_id": dsID, "reason": "not_found"})
				continue
			}
			return nil, fmt.Errorf("load dataset %s: %w", dsID, err)
		}
		if !ds.CanAccess(principal) {
			s.Logger.Info("prompt.dataset.skipped", map[string]any{"prompt_id": p.ID, "dataset_id": dsID, "reason": "access_denied"})
			continue
		}
		rows, err := s.Datasets.SampleRows(ctx, ds, s.rowLimit())
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.Logger.Warn("prompt.dataset.rows_failed", map[string]any{"prompt_id": p.ID, "dataset_id": dsID, "error": err.Error()})
			rows = nil
		}
		data := make([]map[string]any, 0, len(rows))
		for _, r := range rows {
			data = append(data, r)
		}
		out = append(out, sandbox.DatasetInput{ID: ds.ID, Name: ds.Name, Data: data})
	}
	return out, nil
}

func executionOptions(p Prompt) map[string]any {
	opts := map[string]any{
		"includeInsights": p.Settings.IncludeInsights,
	}
	if p.Settings.VisualizationType != "" {
		opts["visualizationType"] = p.Settings.VisualizationType
	}
	if p.Settings.Language != "" {
		opts["language"] = p.Settings.Language
	}
	for k, v := range p.ExecutionOptions {
		opts[k] = v
	}
	return opts
}

// failStage persists a stage failure. The write uses a context detached
// from cancellation so a cancelled stage can still record its outcome.
func (s *Service) failStage(ctx context.Context, id, stage string, cause error) {
	writeCtx := context.WithoutCancel(ctx)
	code := classifyFailure(stage, cause)
	_, changed, err := s.fail(writeCtx, id, stage, code, sanitizeError(cause))
	if err != nil {
		s.Logger.Error("prompt.fail.update_failed", map[string]any{
			"prompt_id": id,
			"stage":     stage,
			"error":     err.Error(),
			"cause":     sanitizeError(cause),
		})
		return
	}
	if changed {
		s.Metrics.Inc(metrics.PromptsFailed)
	}
}

func (s *Service) skip(ctx context.Context, id, stage string, reason error) {
	s.Logger.Info("prompt.stage.skipped", map[string]any{
		"request_id": RequestIDFromContext(ctx),
		"prompt_id":  id,
		"stage":      stage,
		"reason":     reason.Error(),
	})
}
