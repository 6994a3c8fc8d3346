package teams

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"finsight-backend/internal/docstore"
)

const collection = "teams"

var (
	ErrNotFound      = errors.New("team not found")
	ErrValidation    = errors.New("invalid team")
	ErrNotOwner      = errors.New("only the team owner can do that")
	ErrAlreadyInTeam = errors.New("user already belongs to a team")
)

// MembershipWriter records team membership on the user record.
type MembershipWriter interface {
	SetTeam(ctx context.Context, userID, teamID string) error
}

type Service struct {
	Store   docstore.Store
	Members MembershipWriter
	Now     func() time.Time
}

type CreateInput struct {
	Name        string            `json:"name"`
	Business    string            `json:"business"`
	Industry    string            `json:"industry"`
	Preferences map[string]string `json:"preferences"`
}

func (s *Service) Get(ctx context.Context, teamID string) (Team, error) {
	rec, err := s.Store.Get(ctx, collection, teamID)
	if errors.Is(err, docstore.ErrNotFound) {
		return Team{}, ErrNotFound
	}
	if err != nil {
		return Team{}, err
	}
	var t Team
	if err := rec.Decode(&t); err != nil {
		return Team{}, err
	}
	return t, nil
}

// Create makes a team owned by ownerID and moves the owner into it.
func (s *Service) Create(ctx context.Context, ownerID string, in CreateInput) (Team, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Team{}, fmt.Errorf("%w: name is required", ErrValidation)
	}
	now := s.now()
	team := Team{
		Name:        name,
		OwnerID:     ownerID,
		Business:    strings.TrimSpace(in.Business),
		Industry:    strings.TrimSpace(in.Industry),
		Preferences: in.Preferences,
		Members:     []string{ownerID},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	doc, err := docstore.ToMap(team)
	if err != nil {
		return Team{}, err
	}
	delete(doc, "id")
	rec, err := s.Store.Create(ctx, collection, doc)
	if err != nil {
		return Team{}, err
	}
	team.ID = rec.ID
	if s.Members != nil {
		if err := s.Members.SetTeam(ctx, ownerID, team.ID); err != nil {
			return Team{}, fmt.Errorf("assign owner: %w", err)
		}
	}
	return team, nil
}

// AddMember adds userID to the team. Only the owner may add members.
func (s *Service) AddMember(ctx context.Context, teamID, actorID, userID string) (Team, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Team{}, fmt.Errorf("%w: userId is required", ErrValidation)
	}
	for attempt := 0; attempt < 3; attempt++ {
		rec, err := s.Store.Get(ctx, collection, teamID)
		if errors.Is(err, docstore.ErrNotFound) {
			return Team{}, ErrNotFound
		}
		if err != nil {
			return Team{}, err
		}
		var team Team
		if err := rec.Decode(&team); err != nil {
			return Team{}, err
		}
		if team.OwnerID != actorID {
			return Team{}, ErrNotOwner
		}
		if team.IsMember(userID) {
			return team, nil
		}
		team.Members = append(team.Members, userID)
		_, err = s.Store.UpdateIf(ctx, collection, teamID, rec.Version, map[string]any{
			"members":   team.Members,
			"updatedAt": s.now(),
		})
		if errors.Is(err, docstore.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return Team{}, err
		}
		if s.Members != nil {
			if err := s.Members.SetTeam(ctx, userID, teamID); err != nil {
				return Team{}, fmt.Errorf("assign member: %w", err)
			}
		}
		return team, nil
	}
	return Team{}, docstore.ErrVersionConflict
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
