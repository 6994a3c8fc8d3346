package prompts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"finsight-backend/internal/datasets"
	"finsight-backend/internal/identity"
	"finsight-backend/internal/results"
	"finsight-backend/internal/sandbox"
	"finsight-backend/internal/shared/metrics"
	"finsight-backend/internal/shared/telemetry"
	"finsight-backend/internal/tasks"
	"finsight-backend/internal/usage"
)

const (
	MaxPromptLength  = 10000
	MaxDatasets      = 10
	DefaultListLimit = 20
	MaxListLimit     = 100
	defaultLanguage  = "en"
	scheduleWait     = 5 * time.Second
)

var visualizationTypes = map[string]struct{}{
	"auto": {}, "bar": {}, "line": {}, "pie": {}, "area": {}, "scatter": {}, "table": {}, "heatmap": {},
}

// Enricher builds the enriched prompt.
type Enricher interface {
	Enrich(ctx context.Context, text string, datasetIDs []string, p identity.Principal) (string, error)
}

// Generator is the LLM side of the pipeline.
type Generator interface {
	GenerateCode(ctx context.Context, enrichedPrompt string) (string, error)
	GenerateInsights(ctx context.Context, res results.ExecutionResult, promptText string) []results.Insight
}

// DatasetSource loads datasets and their rows for execution.
type DatasetSource interface {
	Lookup(ctx context.Context, id string) (datasets.Dataset, error)
	SampleRows(ctx context.Context, ds datasets.Dataset, limit int) ([]datasets.Row, error)
}

// Quota gates submissions on the caller's plan.
type Quota interface {
	CanConsume(ctx context.Context, userID string, n int) (bool, usage.Usage, error)
	Consume(ctx context.Context, userID string, n int) (usage.Usage, error)
}

// Dispatcher hands a stage to another process. When nil, stages run on the
// local task runner.
type Dispatcher interface {
	Dispatch(ctx context.Context, promptID, stage string) error
}

// Service contains the prompt pipeline.
type Service struct {
	Repo       Repo
	Enricher   Enricher
	LLM        Generator
	Sandbox    sandbox.Runner
	Datasets   DatasetSource
	Usage      Quota
	Tasks      *tasks.Runner
	Dispatcher Dispatcher
	Logger     *telemetry.Logger
	Metrics    *metrics.Registry
	Tracer     trace.Tracer
	Now        func() time.Time
	// RowLimit caps the rows handed to the sandbox per dataset.
	RowLimit int
}

// Submit validates and persists a prompt, then schedules code generation.
// It returns as soon as the prompt is stored.
func (s *Service) Submit(ctx context.Context, in SubmitInput, p identity.Principal) (Prompt, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return Prompt{}, fmt.Errorf("%w: user is required", ErrValidation)
	}
	text, ids, settings, err := validateSubmit(in)
	if err != nil {
		return Prompt{}, err
	}

	if s.Usage != nil {
		ok, _, err := s.Usage.CanConsume(ctx, p.UserID, 1)
		if err != nil {
			return Prompt{}, err
		}
		if !ok {
			return Prompt{}, usage.ErrLimitReached
		}
	}

	now := s.now()
	prompt, err := s.Repo.Create(ctx, Prompt{
		UserID:     p.UserID,
		TeamID:     p.TeamID,
		CreatedAt:  now,
		UpdatedAt:  now,
		Prompt:     text,
		DatasetIDs: ids,
		Settings:   settings,
		Status:     StatusCreated,
	})
	if err != nil {
		return Prompt{}, fmt.Errorf("create prompt: %w", err)
	}
	s.Metrics.Inc(metrics.PromptsSubmitted)
	s.Logger.Info("prompt.status", map[string]any{
		"request_id":  RequestIDFromContext(ctx),
		"user_id":     prompt.UserID,
		"prompt_id":   prompt.ID,
		"status":      StatusCreated,
		"dataset_ids": ids,
	})

	if s.Usage != nil {
		if _, err := s.Usage.Consume(ctx, p.UserID, 1); err != nil {
			s.Logger.Warn("prompt.usage.consume_failed", map[string]any{
				"prompt_id": prompt.ID,
				"user_id":   p.UserID,
				"error":     err.Error(),
			})
		}
	}

	if err := s.schedule(ctx, prompt.ID, StageGeneration); err != nil {
		s.failStage(ctx, prompt.ID, StageGeneration, fmt.Errorf("schedule generation: %w", err))
		return Prompt{}, fmt.Errorf("schedule generation: %w", err)
	}
	return redact(prompt), nil
}

// Execute moves a generated prompt to executing and schedules the sandbox
// run. Only one of several concurrent callers succeeds.
func (s *Service) Execute(ctx context.Context, id string, options map[string]any, p identity.Principal) (Prompt, error) {
	current, err := s.load(ctx, id, p, true)
	if err != nil {
		return Prompt{}, err
	}
	if current.Status != StatusGenerated {
		return Prompt{}, fmt.Errorf("%w: prompt is %s", ErrInvalidState, current.Status)
	}
	fields := map[string]any{}
	if len(options) > 0 {
		fields["executionOptions"] = options
	}
	next, err := s.transition(ctx, id, StatusGenerated, StatusExecuting, fields)
	if err != nil {
		return Prompt{}, err
	}
	s.Metrics.Inc(metrics.PromptsExecuted)

	if err := s.schedule(ctx, id, StageExecution); err != nil {
		s.failStage(ctx, id, StageExecution, fmt.Errorf("schedule execution: %w", err))
		return Prompt{}, fmt.Errorf("schedule execution: %w", err)
	}
	return redact(next), nil
}

// Get returns the prompt with fields redacted by status.
func (s *Service) Get(ctx context.Context, id string, p identity.Principal) (Prompt, error) {
	prompt, err := s.load(ctx, id, p, false)
	if err != nil {
		return Prompt{}, err
	}
	return redact(prompt), nil
}

// Results returns the execution result of a completed prompt.
func (s *Service) Results(ctx context.Context, id string, p identity.Principal) (results.ExecutionResult, error) {
	prompt, err := s.load(ctx, id, p, false)
	if err != nil {
		return results.ExecutionResult{}, err
	}
	if prompt.Status != StatusCompleted || prompt.ExecutionResults == nil {
		return results.ExecutionResult{}, fmt.Errorf("%w: prompt is %s", ErrResultsNotAvailable, prompt.Status)
	}
	out := results.ExecutionResult{
		Visualizations: prompt.ExecutionResults.Visualizations,
		Insights:       prompt.Insights,
	}
	if out.Visualizations == nil {
		out.Visualizations = []results.Visualization{}
	}
	if out.Insights == nil {
		out.Insights = []results.Insight{}
	}
	return out, nil
}

// List returns the caller's prompts, newest first.
func (s *Service) List(ctx context.Context, p identity.Principal, limit int) ([]Prompt, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return nil, fmt.Errorf("%w: user is required", ErrValidation)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	list, err := s.Repo.ListByUser(ctx, p.UserID, limit)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i] = redact(list[i])
	}
	return list, nil
}

// Cancel fails a non-terminal prompt with CANCELLED and stops its
// in-flight stage.
func (s *Service) Cancel(ctx context.Context, id string, p identity.Principal) (Prompt, error) {
	current, err := s.load(ctx, id, p, true)
	if err != nil {
		return Prompt{}, err
	}
	if IsTerminal(current.Status) {
		return Prompt{}, fmt.Errorf("%w: prompt is %s", ErrInvalidState, current.Status)
	}
	stage := stageOf(current.Status)
	if running, ok := s.runningStage(id); ok {
		stage = running
	}
	next, changed, err := s.fail(ctx, id, stage, ErrorCodeCancelled, "cancelled by user")
	if err != nil {
		return Prompt{}, err
	}
	if !changed {
		return Prompt{}, fmt.Errorf("%w: prompt is %s", ErrInvalidState, next.Status)
	}
	s.Metrics.Inc(metrics.PromptsCancelled)
	s.Metrics.Inc(metrics.PromptsFailed)
	if s.Tasks != nil {
		s.Tasks.Cancel(id)
	}
	return redact(next), nil
}

// load fetches a prompt and checks the caller may see it. Owners and
// members of the prompt's team may read; only owners may act.
func (s *Service) load(ctx context.Context, id string, p identity.Principal, mutate bool) (Prompt, error) {
	if strings.TrimSpace(id) == "" {
		return Prompt{}, fmt.Errorf("%w: prompt id is required", ErrValidation)
	}
	prompt, err := s.Repo.Get(ctx, id)
	if err != nil {
		return Prompt{}, err
	}
	if prompt.UserID == p.UserID {
		return prompt, nil
	}
	if !mutate && prompt.TeamID != "" && prompt.TeamID == p.TeamID {
		return prompt, nil
	}
	return Prompt{}, ErrAccessDenied
}

func (s *Service) schedule(ctx context.Context, id, stage string) error {
	if s.Dispatcher != nil {
		return s.Dispatcher.Dispatch(ctx, id, stage)
	}
	if s.Tasks == nil {
		return errors.New("no task runner configured")
	}
	run := func(ctx context.Context) error { return s.RunStage(ctx, id, stage) }
	err := s.Tasks.Go(ctx, id, stage, run)
	if errors.Is(err, tasks.ErrAlreadyRunning) {
		// The previous stage has persisted its result and is returning.
		waitCtx, cancel := context.WithTimeout(ctx, scheduleWait)
		_ = s.Tasks.Wait(waitCtx, id)
		cancel()
		err = s.Tasks.Go(ctx, id, stage, run)
	}
	return err
}

func (s *Service) runningStage(id string) (string, bool) {
	if s.Tasks == nil {
		return "", false
	}
	return s.Tasks.Running(id)
}

func (s *Service) rowLimit() int {
	if s.RowLimit > 0 {
		return s.RowLimit
	}
	return datasets.MaxSampleRows
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func validateSubmit(in SubmitInput) (string, []string, Settings, error) {
	text := strings.TrimSpace(in.Prompt)
	if text == "" {
		return "", nil, Settings{}, fmt.Errorf("%w: prompt is required", ErrValidation)
	}
	if len(text) > MaxPromptLength {
		return "", nil, Settings{}, fmt.Errorf("%w: prompt exceeds %d characters", ErrValidation, MaxPromptLength)
	}

	ids := make([]string, 0, len(in.DatasetIDs))
	seen := make(map[string]struct{}, len(in.DatasetIDs))
	for _, raw := range in.DatasetIDs {
		id := strings.TrimSpace(raw)
		if id == "" {
			return "", nil, Settings{}, fmt.Errorf("%w: dataset ids must not be empty", ErrValidation)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) > MaxDatasets {
		return "", nil, Settings{}, fmt.Errorf("%w: at most %d datasets per prompt", ErrValidation, MaxDatasets)
	}

	settings := Settings{
		VisualizationType: strings.ToLower(strings.TrimSpace(in.Settings.VisualizationType)),
		IncludeInsights:   true,
		Language:          strings.TrimSpace(in.Settings.Language),
	}
	if settings.VisualizationType != "" {
		if _, ok := visualizationTypes[settings.VisualizationType]; !ok {
			return "", nil, Settings{}, fmt.Errorf("%w: unsupported visualizationType %q", ErrValidation, settings.VisualizationType)
		}
	}
	if in.Settings.IncludeInsights != nil {
		settings.IncludeInsights = *in.Settings.IncludeInsights
	}
	if settings.Language == "" {
		settings.Language = defaultLanguage
	}
	return text, ids, settings, nil
}

// redact clears fields that the prompt's status does not own.
func redact(p Prompt) Prompt {
	if p.Status != StatusCompleted {
		p.ExecutionResults = nil
		p.Insights = nil
	}
	if p.Status != StatusFailed {
		p.Error = nil
	}
	if p.Status == StatusCreated {
		p.EnrichedPrompt = nil
		p.GeneratedCode = nil
	}
	return p
}
