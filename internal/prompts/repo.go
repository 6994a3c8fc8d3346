package prompts

import (
	"context"
	"errors"
	"fmt"

	"finsight-backend/internal/docstore"
)

const collection = "prompts"

// Repo defines persistence operations for prompts. Prompts are never
// deleted.
type Repo interface {
	Create(ctx context.Context, p Prompt) (Prompt, error)
	Get(ctx context.Context, id string) (Prompt, error)
	// UpdateIf merges fields into the prompt when its version still matches.
	UpdateIf(ctx context.Context, id string, version int64, fields map[string]any) (Prompt, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Prompt, error)
}

// DocRepo stores prompts in the document store.
type DocRepo struct {
	Store docstore.Store
}

func (r *DocRepo) Create(ctx context.Context, p Prompt) (Prompt, error) {
	doc, err := docstore.ToMap(p)
	if err != nil {
		return Prompt{}, fmt.Errorf("encode prompt: %w", err)
	}
	rec, err := r.Store.Create(ctx, collection, doc)
	if err != nil {
		return Prompt{}, err
	}
	return decodePrompt(rec)
}

func (r *DocRepo) Get(ctx context.Context, id string) (Prompt, error) {
	rec, err := r.Store.Get(ctx, collection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return Prompt{}, ErrNotFound
	}
	if err != nil {
		return Prompt{}, err
	}
	return decodePrompt(rec)
}

func (r *DocRepo) UpdateIf(ctx context.Context, id string, version int64, fields map[string]any) (Prompt, error) {
	rec, err := r.Store.UpdateIf(ctx, collection, id, version, fields)
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return Prompt{}, ErrNotFound
	case errors.Is(err, docstore.ErrVersionConflict):
		return Prompt{}, ErrVersionConflict
	case err != nil:
		return Prompt{}, err
	}
	return decodePrompt(rec)
}

func (r *DocRepo) ListByUser(ctx context.Context, userID string, limit int) ([]Prompt, error) {
	recs, err := r.Store.Query(ctx, collection, []docstore.Condition{docstore.Where("userId", userID)}, docstore.QueryOptions{
		OrderBy:   "createdAt",
		Direction: docstore.Desc,
		Limit:     limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]Prompt, 0, len(recs))
	for _, rec := range recs {
		p, err := decodePrompt(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func decodePrompt(rec docstore.Record) (Prompt, error) {
	var p Prompt
	if err := rec.Decode(&p); err != nil {
		return Prompt{}, err
	}
	p.ID = rec.ID
	p.Version = rec.Version
	return p, nil
}

var _ Repo = (*DocRepo)(nil)
