package usage

import (
	"context"
	"time"

	"finsight-backend/internal/docstore"
)

type store interface {
	EnsurePeriod(ctx context.Context, userID, plan string, now time.Time) (Usage, error)
	Consume(ctx context.Context, userID, plan string, n int, now time.Time) (Usage, error)
	Reset(ctx context.Context, userID, plan string, now time.Time) (Usage, error)
}

// PlanLookup resolves the subscription plan of a user.
type PlanLookup func(ctx context.Context, userID string) (string, error)

// Service manages usage data via an underlying store.
type Service struct {
	store store
	Plans PlanLookup
	Now   func() time.Time
}

// NewService constructs a Service over a private in-memory document store.
func NewService() *Service {
	return NewDocService(&DocStore{Store: docstore.NewMemoryStore()})
}

// NewDocService constructs a Service backed by the document store.
func NewDocService(s *DocStore) *Service {
	return &Service{store: s}
}

// Get returns the current usage for a user, rolling the period if expired.
func (s *Service) Get(ctx context.Context, userID string) (Usage, error) {
	plan, err := s.plan(ctx, userID)
	if err != nil {
		return Usage{}, err
	}
	return s.store.EnsurePeriod(ctx, userID, plan, s.now())
}

// CanConsume reports whether the user can consume n prompts.
func (s *Service) CanConsume(ctx context.Context, userID string, n int) (bool, Usage, error) {
	u, err := s.Get(ctx, userID)
	if err != nil {
		return false, Usage{}, err
	}
	if n <= 0 {
		return true, u, nil
	}
	return u.Used+n <= u.Limit, u, nil
}

// Consume increments usage by n or fails with ErrLimitReached.
func (s *Service) Consume(ctx context.Context, userID string, n int) (Usage, error) {
	plan, err := s.plan(ctx, userID)
	if err != nil {
		return Usage{}, err
	}
	return s.store.Consume(ctx, userID, plan, n, s.now())
}

// Reset sets usage to zero and starts a new window.
func (s *Service) Reset(ctx context.Context, userID string) (Usage, error) {
	plan, err := s.plan(ctx, userID)
	if err != nil {
		return Usage{}, err
	}
	return s.store.Reset(ctx, userID, plan, s.now())
}

func (s *Service) plan(ctx context.Context, userID string) (string, error) {
	if s.Plans == nil {
		return defaultPlan, nil
	}
	plan, err := s.Plans(ctx, userID)
	if err != nil {
		return "", err
	}
	return plan, nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
