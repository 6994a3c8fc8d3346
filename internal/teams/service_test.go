package teams

import (
	"context"
	"errors"
	"sync"
	"testing"

	"finsight-backend/internal/docstore"
)

type recordingMembers struct {
	mu    sync.Mutex
	teams map[string]string
}

func (r *recordingMembers) SetTeam(ctx context.Context, userID, teamID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.teams == nil {
		r.teams = map[string]string{}
	}
	r.teams[userID] = teamID
	return nil
}

func TestCreateAndAddMember(t *testing.T) {
	members := &recordingMembers{}
	svc := &Service{Store: docstore.NewMemoryStore(), Members: members}
	ctx := context.Background()

	team, err := svc.Create(ctx, "owner", CreateInput{Name: "Acme", Industry: "Retail", Preferences: map[string]string{"kpi": "margin"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if team.ID == "" || members.teams["owner"] != team.ID {
		t.Fatalf("owner not assigned to team: %+v %v", team, members.teams)
	}

	if _, err := svc.AddMember(ctx, team.ID, "someone-else", "u2"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	updated, err := svc.AddMember(ctx, team.ID, "owner", "u2")
	if err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if !updated.IsMember("u2") || members.teams["u2"] != team.ID {
		t.Fatalf("member not added: %+v", updated)
	}

	got, err := svc.Get(ctx, team.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Preferences["kpi"] != "margin" || len(got.Members) != 2 {
		t.Fatalf("unexpected team %+v", got)
	}
}

func TestCreateRequiresName(t *testing.T) {
	svc := &Service{Store: docstore.NewMemoryStore()}
	if _, err := svc.Create(context.Background(), "owner", CreateInput{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestGetMissing(t *testing.T) {
	svc := &Service{Store: docstore.NewMemoryStore()}
	if _, err := svc.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
