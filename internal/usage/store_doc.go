package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finsight-backend/internal/docstore"
)

const (
	collection  = "usage"
	maxCASTries = 5
)

// DocStore keeps one usage document per user, keyed by user id. Writes are
// compare-and-swap on the record version so concurrent submits cannot
// overspend the allowance.
type DocStore struct {
	Store docstore.Store
}

func (s *DocStore) EnsurePeriod(ctx context.Context, userID, plan string, now time.Time) (Usage, error) {
	return s.mutate(ctx, userID, plan, now, func(u Usage) (Usage, error) { return u, nil })
}

func (s *DocStore) Consume(ctx context.Context, userID, plan string, n int, now time.Time) (Usage, error) {
	return s.mutate(ctx, userID, plan, now, func(u Usage) (Usage, error) {
		if n > 0 && u.Used+n > u.Limit {
			return u, ErrLimitReached
		}
		if n > 0 {
			u.Used += n
		}
		return u, nil
	})
}

func (s *DocStore) Reset(ctx context.Context, userID, plan string, now time.Time) (Usage, error) {
	return s.mutate(ctx, userID, plan, now, func(u Usage) (Usage, error) {
		u.Used = 0
		u.ResetsAt = now.Add(Period)
		return u, nil
	})
}

func (s *DocStore) mutate(ctx context.Context, userID, plan string, now time.Time, fn func(Usage) (Usage, error)) (Usage, error) {
	for attempt := 0; attempt < maxCASTries; attempt++ {
		rec, err := s.Store.Get(ctx, collection, userID)
		if errors.Is(err, docstore.ErrNotFound) {
			u, err := fn(defaultUsage(userID, plan, now))
			if err != nil {
				return Usage{}, err
			}
			doc, err := encode(u)
			if err != nil {
				return Usage{}, err
			}
			if _, err := s.Store.Create(ctx, collection, doc); err != nil {
				if errors.Is(err, docstore.ErrAlreadyExists) {
					continue
				}
				return Usage{}, err
			}
			return u, nil
		}
		if err != nil {
			return Usage{}, err
		}

		var current Usage
		if err := rec.Decode(&current); err != nil {
			return Usage{}, err
		}
		current.UserID = userID
		rolled := roll(current, plan, now)
		next, fnErr := fn(rolled)
		if fnErr != nil && !changed(current, next) {
			return Usage{}, fnErr
		}
		if changed(current, next) {
			doc, err := encode(next)
			if err != nil {
				return Usage{}, err
			}
			if _, err := s.Store.UpdateIf(ctx, collection, userID, rec.Version, doc); err != nil {
				if errors.Is(err, docstore.ErrVersionConflict) {
					continue
				}
				return Usage{}, err
			}
		}
		if fnErr != nil {
			return Usage{}, fnErr
		}
		return next, nil
	}
	return Usage{}, fmt.Errorf("usage %s: too many concurrent updates", userID)
}

func encode(u Usage) (map[string]any, error) {
	doc, err := docstore.ToMap(u)
	if err != nil {
		return nil, fmt.Errorf("encode usage: %w", err)
	}
	doc["id"] = u.UserID
	return doc, nil
}

func changed(a, b Usage) bool {
	return a.Plan != b.Plan || a.Limit != b.Limit || a.Used != b.Used || !a.ResetsAt.Equal(b.ResetsAt)
}
