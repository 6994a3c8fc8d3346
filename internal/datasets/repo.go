package datasets

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"finsight-backend/internal/docstore"
)

const collection = "datasets"

// Repo persists dataset records.
type Repo interface {
	Create(ctx context.Context, ds Dataset) (Dataset, error)
	Get(ctx context.Context, id string) (Dataset, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]Dataset, error)
	ListByTeam(ctx context.Context, teamID string, limit int) ([]Dataset, error)
	SetSampleRows(ctx context.Context, id string, rows []Row) error
}

// DocRepo stores datasets in the document store.
type DocRepo struct {
	Store docstore.Store
}

func (r *DocRepo) Create(ctx context.Context, ds Dataset) (Dataset, error) {
	doc, err := docstore.ToMap(ds)
	if err != nil {
		return Dataset{}, fmt.Errorf("encode dataset: %w", err)
	}
	rec, err := r.Store.Create(ctx, collection, doc)
	if err != nil {
		return Dataset{}, err
	}
	return decodeDataset(rec)
}

func (r *DocRepo) Get(ctx context.Context, id string) (Dataset, error) {
	rec, err := r.Store.Get(ctx, collection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return Dataset{}, ErrNotFound
	}
	if err != nil {
		return Dataset{}, err
	}
	return decodeDataset(rec)
}

func (r *DocRepo) ListByOwner(ctx context.Context, ownerID string, limit int) ([]Dataset, error) {
	return r.list(ctx, docstore.Where("ownerId", ownerID), limit)
}

func (r *DocRepo) ListByTeam(ctx context.Context, teamID string, limit int) ([]Dataset, error) {
	return r.list(ctx, docstore.Where("teamId", teamID), limit)
}

func (r *DocRepo) SetSampleRows(ctx context.Context, id string, rows []Row) error {
	_, err := r.Store.Update(ctx, collection, id, map[string]any{"sampleRows": rows})
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (r *DocRepo) list(ctx context.Context, cond docstore.Condition, limit int) ([]Dataset, error) {
	recs, err := r.Store.Query(ctx, collection, []docstore.Condition{cond}, docstore.QueryOptions{
		OrderBy:   "createdAt",
		Direction: docstore.Desc,
		Limit:     limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]Dataset, 0, len(recs))
	for _, rec := range recs {
		ds, err := decodeDataset(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, nil
}

func decodeDataset(rec docstore.Record) (Dataset, error) {
	var ds Dataset
	if err := rec.Decode(&ds); err != nil {
		return Dataset{}, err
	}
	return ds, nil
}

// mergeNewestFirst merges two lists by id, newest first, capped at limit.
func mergeNewestFirst(a, b []Dataset, limit int) []Dataset {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]Dataset, 0, len(a)+len(b))
	for _, list := range [][]Dataset{a, b} {
		for _, ds := range list {
			if _, ok := seen[ds.ID]; ok {
				continue
			}
			seen[ds.ID] = struct{}{}
			out = append(out, ds)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
