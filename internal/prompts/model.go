package prompts

import (
	"time"

	"finsight-backend/internal/results"
)

const (
	StatusCreated    = "created"
	StatusProcessing = "processing"
	StatusGenerated  = "generated"
	StatusExecuting  = "executing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Pipeline stages, also used as the error stage.
const (
	StageGeneration = "code_generation"
	StageExecution  = "code_execution"
)

// transitions lists the forward edges. failed is reachable from every
// non-terminal status and is handled separately.
var transitions = map[string]string{
	StatusCreated:    StatusProcessing,
	StatusProcessing: StatusGenerated,
	StatusGenerated:  StatusExecuting,
	StatusExecuting:  StatusCompleted,
}

// IsTerminal reports whether no transition leaves status.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

func canTransition(from, to string) bool {
	if IsTerminal(from) {
		return false
	}
	if to == StatusFailed {
		return true
	}
	return transitions[from] == to
}

// stageOf returns the stage a non-terminal status belongs to.
func stageOf(status string) string {
	switch status {
	case StatusGenerated, StatusExecuting:
		return StageExecution
	default:
		return StageGeneration
	}
}

// Settings are caller preferences carried through every stage.
type Settings struct {
	VisualizationType string `json:"visualizationType,omitempty"`
	IncludeInsights   bool   `json:"includeInsights"`
	Language          string `json:"language,omitempty"`
}

// ErrorInfo describes why a prompt failed.
type ErrorInfo struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Stage   string `json:"stage"`
}

// Prompt is one natural-language analysis request and its pipeline state.
type Prompt struct {
	ID               string                   `json:"id"`
	UserID           string                   `json:"userId"`
	TeamID           string                   `json:"teamId,omitempty"`
	CreatedAt        time.Time                `json:"createdAt"`
	UpdatedAt        time.Time                `json:"updatedAt"`
	Prompt           string                   `json:"prompt"`
	DatasetIDs       []string                 `json:"datasetIds"`
	Settings         Settings                 `json:"settings"`
	Status           string                   `json:"status"`
	EnrichedPrompt   *string                  `json:"enrichedPrompt"`
	GeneratedCode    *string                  `json:"generatedCode"`
	ExecutionOptions map[string]any           `json:"executionOptions,omitempty"`
	ExecutionResults *results.ExecutionResult `json:"executionResults"`
	Insights         []results.Insight        `json:"insights"`
	Error            *ErrorInfo               `json:"error"`
	Version          int64                    `json:"-"`
}

// SubmitInput is the caller's request to create a prompt.
type SubmitInput struct {
	Prompt     string
	DatasetIDs []string
	Settings   SettingsInput
}

// SettingsInput leaves IncludeInsights unset when the caller omitted it.
type SettingsInput struct {
	VisualizationType string `json:"visualizationType"`
	IncludeInsights   *bool  `json:"includeInsights"`
	Language          string `json:"language"`
}
