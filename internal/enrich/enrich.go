// Package enrich builds the context-rich prompt sent to the code generator
// from the user's request, preferences, team context and datasets.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"finsight-backend/internal/datasets"
	"finsight-backend/internal/identity"
	"finsight-backend/internal/shared/telemetry"
	"finsight-backend/internal/shared/tracing"
	"finsight-backend/internal/teams"
	"finsight-backend/internal/users"
)

const (
	charsPerToken    = 4
	fetchConcurrency = 4
	omittedSamples   = "Sample rows: omitted to fit the context budget.\n"
)

// UserSource loads the user record carrying preferences.
type UserSource interface {
	GetByID(ctx context.Context, userID string) (users.User, error)
}

// TeamSource loads team context.
type TeamSource interface {
	Get(ctx context.Context, teamID string) (teams.Team, error)
}

// DatasetSource loads dataset records and their rows.
type DatasetSource interface {
	Lookup(ctx context.Context, id string) (datasets.Dataset, error)
	SampleRows(ctx context.Context, ds datasets.Dataset, limit int) ([]datasets.Row, error)
}

// Enricher assembles enriched prompts.
type Enricher struct {
	Users     UserSource
	Teams     TeamSource
	Datasets  DatasetSource
	Logger    *telemetry.Logger
	Tracer    trace.Tracer
	MaxTokens int
}

type datasetSection struct {
	included bool
	header   string
	samples  string
}

// Enrich returns the enriched prompt for text. Team and per-dataset failures
// are absorbed into the output; only cancellation or an unexpected
// orchestration failure returns an error.
func (e *Enricher) Enrich(ctx context.Context, text string, datasetIDs []string, p identity.Principal) (string, error) {
	ctx, span := tracing.StartSpan(ctx, e.Tracer, "prompt.enrich",
		attribute.String("user.id", p.UserID),
		attribute.Int("datasets.requested", len(datasetIDs)),
	)
	defer span.End()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	prefs := e.preferencesSection(ctx, p)
	team := e.teamSection(ctx, p)
	if err := ctx.Err(); err != nil {
		return "", err
	}

	sections, err := e.datasetSections(ctx, datasetIDs, p)
	if err != nil {
		return "", err
	}

	e.applyBudget(text, prefs, team, sections)

	var b strings.Builder
	b.WriteString("## Request\n")
	b.WriteString(strings.TrimSpace(text))
	b.WriteString("\n\n")
	if prefs != "" {
		b.WriteString(prefs)
		b.WriteString("\n")
	}
	if team != "" {
		b.WriteString(team)
		b.WriteString("\n")
	}
	b.WriteString("## Datasets\n")
	included := 0
	for _, s := range sections {
		if !s.included {
			continue
		}
		included++
		b.WriteString(s.header)
		b.WriteString(s.samples)
		b.WriteString("\n")
	}
	if included == 0 {
		b.WriteString("No datasets are available for this request.\n\n")
	}
	b.WriteString(instructions)
	span.SetAttributes(attribute.Int("datasets.included", included))
	return b.String(), nil
}

func (e *Enricher) preferencesSection(ctx context.Context, p identity.Principal) string {
	if e.Users == nil || p.UserID == "" {
		return ""
	}
	user, err := e.Users.GetByID(ctx, p.UserID)
	if err != nil {
		e.Logger.Info("enrich.preferences.unavailable", map[string]any{"user_id": p.UserID, "error": err})
		return ""
	}
	fields := user.Preferences.Fields()
	if len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## User preferences\n")
	for _, f := range fields {
		fmt.Fprintf(&b, "- %s: %s\n", f.Label, f.Value)
	}
	return b.String()
}

func (e *Enricher) teamSection(ctx context.Context, p identity.Principal) string {
	if e.Teams == nil || !p.HasTeam() {
		return ""
	}
	team, err := e.Teams.Get(ctx, p.TeamID)
	if err != nil {
		e.Logger.Warn("enrich.team.unavailable", map[string]any{"team_id": p.TeamID, "error": err})
		return ""
	}
	var b strings.Builder
	if team.Business != "" {
		fmt.Fprintf(&b, "- Business: %s\n", team.Business)
	}
	if team.Industry != "" {
		fmt.Fprintf(&b, "- Industry: %s\n", team.Industry)
	}
	keys := make([]string, 0, len(team.Preferences))
	for k, v := range team.Preferences {
		if strings.TrimSpace(v) != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, team.Preferences[k])
	}
	if b.Len() == 0 {
		return ""
	}
	return "## Team context\n" + b.String()
}

func (e *Enricher) datasetSections(ctx context.Context, ids []string, p identity.Principal) ([]datasetSection, error) {
	sections := make([]datasetSection, len(ids))
	if e.Datasets == nil || len(ids) == 0 {
		return sections, nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			s, err := e.datasetSection(gctx, i+1, id, p)
			if err != nil {
				return err
			}
			sections[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sections, nil
}

// datasetSection only returns an error when the context is done.
func (e *Enricher) datasetSection(ctx context.Context, n int, id string, p identity.Principal) (datasetSection, error) {
	ds, err := e.Datasets.Lookup(ctx, id)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return datasetSection{}, ctxErr
		}
		e.Logger.Info("enrich.dataset.skipped", map[string]any{"dataset_id": id, "reason": "lookup", "error": err})
		return datasetSection{}, nil
	}
	if !ds.CanAccess(p) {
		e.Logger.Info("enrich.dataset.skipped", map[string]any{"dataset_id": id, "reason": "access", "user_id": p.UserID})
		return datasetSection{}, nil
	}

	section := datasetSection{included: true, header: describeDataset(n, ds)}
	rows, err := e.Datasets.SampleRows(ctx, ds, datasets.MaxSampleRows)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return datasetSection{}, ctxErr
		}
		e.Logger.Warn("enrich.dataset.rows_failed", map[string]any{"dataset_id": id, "error": err})
		section.samples = "Sample rows: error retrieving dataset.\n"
		return section, nil
	}
	section.samples = describeRows(rows)
	return section, nil
}

func describeDataset(n int, ds datasets.Dataset) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### Dataset %d: %s (id: %s)\n", n, ds.Name, ds.ID)
	if ds.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", ds.Description)
	}
	if len(ds.Metadata) > 0 {
		keys := make([]string, 0, len(ds.Metadata))
		for k := range ds.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("Metadata:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, ds.Metadata[k])
		}
	}
	b.WriteString("Schema:\n")
	for _, col := range ds.Schema {
		fmt.Fprintf(&b, "- %s (%s)", col.Name, col.Type)
		if col.Description != "" {
			fmt.Fprintf(&b, ": %s", col.Description)
		}
		examples := col.Examples
		if len(examples) > datasets.MaxExamples {
			examples = examples[:datasets.MaxExamples]
		}
		if len(examples) > 0 {
			fmt.Fprintf(&b, " e.g. %s", strings.Join(examples, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func describeRows(rows []datasets.Row) string {
	if len(rows) == 0 {
		return "Sample rows: none.\n"
	}
	if len(rows) > datasets.MaxSampleRows {
		rows = rows[:datasets.MaxSampleRows]
	}
	var b strings.Builder
	b.WriteString("Sample rows (JSON, one per line):\n")
	for _, row := range rows {
		raw, err := json.Marshal(row)
		if err != nil {
			continue
		}
		b.Write(raw)
		b.WriteString("\n")
	}
	return b.String()
}

// applyBudget drops sample rows from trailing datasets until the estimated
// token count fits MaxTokens. Schemas are always kept.
func (e *Enricher) applyBudget(text, prefs, team string, sections []datasetSection) {
	if e.MaxTokens <= 0 {
		return
	}
	total := len(text) + len(prefs) + len(team) + len(instructions)
	for _, s := range sections {
		total += len(s.header) + len(s.samples)
	}
	limit := e.MaxTokens * charsPerToken
	for i := len(sections) - 1; i >= 0 && total > limit; i-- {
		s := &sections[i]
		if !s.included || s.samples == omittedSamples {
			continue
		}
		total -= len(s.samples) - len(omittedSamples)
		s.samples = omittedSamples
	}
	if total > limit {
		e.Logger.Warn("enrich.budget.exceeded", map[string]any{"estimated_tokens": total / charsPerToken, "max_tokens": e.MaxTokens})
	}
}
