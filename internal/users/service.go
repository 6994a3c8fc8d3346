package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"finsight-backend/internal/docstore"
	"finsight-backend/internal/identity"
)

const DefaultPlan = "free"

var ErrUnknownPreference = errors.New("unknown preference")

var preferenceKeys = map[string]struct{}{
	"currency": {}, "dateFormat": {}, "language": {},
	"industry": {}, "businessType": {}, "financialYearStart": {},
	"reportingPeriod": {}, "companySize": {}, "analysisPreference": {},
}

type Service struct {
	Repo Repo
	Now  func() time.Time
}

func NewService(repo Repo) *Service {
	return &Service{Repo: repo}
}

// EnsureFromClaims returns the stored user for claims, creating it on first
// sight so usage and prompt ownership have a stable record.
func (s *Service) EnsureFromClaims(ctx context.Context, claims identity.Claims) (User, error) {
	if s == nil || s.Repo == nil {
		return User{}, errors.New("users service not configured")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return User{}, errors.New("user id is required")
	}
	user, err := s.Repo.GetByID(ctx, claims.Subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}
	now := s.now()
	user, err = s.Repo.Create(ctx, User{
		ID:         claims.Subject,
		Email:      claims.Email,
		FullName:   claims.Name,
		Plan:       DefaultPlan,
		PlanStatus: "active",
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if errors.Is(err, docstore.ErrAlreadyExists) {
		return s.Repo.GetByID(ctx, claims.Subject)
	}
	return user, err
}

// Principal resolves the caller into the principal used by domain services.
func (s *Service) Principal(ctx context.Context, claims identity.Claims) (identity.Principal, error) {
	user, err := s.EnsureFromClaims(ctx, claims)
	if err != nil {
		return identity.Principal{}, err
	}
	return identity.Principal{UserID: user.ID, Email: user.Email, TeamID: user.TeamID}, nil
}

func (s *Service) GetByID(ctx context.Context, userID string) (User, error) {
	if s == nil || s.Repo == nil {
		return User{}, errors.New("users service not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return User{}, errors.New("user id is required")
	}
	return s.Repo.GetByID(ctx, userID)
}

// UpdatePreferences merges the non-nil values of patch into the stored
// preferences. An empty string clears a field.
func (s *Service) UpdatePreferences(ctx context.Context, userID string, patch map[string]*string) (User, error) {
	user, err := s.GetByID(ctx, userID)
	if err != nil {
		return User{}, err
	}
	current, err := docstore.ToMap(user.Preferences)
	if err != nil {
		return User{}, err
	}
	for k, v := range patch {
		if _, ok := preferenceKeys[k]; !ok {
			return User{}, fmt.Errorf("%w: %q", ErrUnknownPreference, k)
		}
		if v == nil {
			continue
		}
		if val := strings.TrimSpace(*v); val != "" {
			current[k] = val
		} else {
			delete(current, k)
		}
	}
	return s.Repo.Update(ctx, userID, map[string]any{
		"preferences": current,
		"updatedAt":   s.now(),
	})
}

// SetTeam records the user's team membership.
func (s *Service) SetTeam(ctx context.Context, userID, teamID string) error {
	_, err := s.Repo.Update(ctx, userID, map[string]any{"teamId": teamID, "updatedAt": s.now()})
	return err
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
