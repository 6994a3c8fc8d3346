package enrich

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finsight-backend/internal/datasets"
	"finsight-backend/internal/identity"
	"finsight-backend/internal/teams"
	"finsight-backend/internal/users"
)

type fakeUsers map[string]users.User

func (f fakeUsers) GetByID(ctx context.Context, id string) (users.User, error) {
	u, ok := f[id]
	if !ok {
		return users.User{}, users.ErrNotFound
	}
	return u, nil
}

type fakeTeams struct {
	team teams.Team
	err  error
}

func (f fakeTeams) Get(ctx context.Context, id string) (teams.Team, error) {
	if f.err != nil {
		return teams.Team{}, f.err
	}
	return f.team, nil
}

type fakeDatasets struct {
	items   map[string]datasets.Dataset
	rowsErr map[string]error
}

func (f fakeDatasets) Lookup(ctx context.Context, id string) (datasets.Dataset, error) {
	ds, ok := f.items[id]
	if !ok {
		return datasets.Dataset{}, datasets.ErrNotFound
	}
	return ds, nil
}

func (f fakeDatasets) SampleRows(ctx context.Context, ds datasets.Dataset, limit int) ([]datasets.Row, error) {
	if err := f.rowsErr[ds.ID]; err != nil {
		return nil, err
	}
	if len(ds.SampleRows) > limit {
		return ds.SampleRows[:limit], nil
	}
	return ds.SampleRows, nil
}

func revenueDataset(id, owner, team string) datasets.Dataset {
	return datasets.Dataset{
		ID:      id,
		OwnerID: owner,
		TeamID:  team,
		Name:    "Revenue " + id,
		Schema: []datasets.Column{
			{Name: "month_" + id, Type: datasets.TypeString, Examples: []string{"Jan", "Feb", "Mar", "Apr"}},
			{Name: "revenue", Type: datasets.TypeNumber},
		},
		SampleRows: []datasets.Row{
			{"month_" + id: "Jan", "revenue": 10.0},
			{"month_" + id: "Feb", "revenue": 12.0},
		},
	}
}

func TestEnrichExcludesInaccessibleDataset(t *testing.T) {
	e := &Enricher{Datasets: fakeDatasets{items: map[string]datasets.Dataset{
		"ds1": revenueDataset("ds1", "alice", ""),
		"ds2": revenueDataset("ds2", "mallory", ""),
	}}}

	out, err := e.Enrich(context.Background(), "Show revenue trend", []string{"ds1", "ds2"}, identity.Principal{UserID: "alice"})
	require.NoError(t, err)
	assert.Contains(t, out, "month_ds1")
	assert.NotContains(t, out, "month_ds2")
	assert.NotContains(t, out, "ds2")
	assert.Contains(t, out, "Show revenue trend")
	assert.Contains(t, out, "func Analyze(input map[string]interface{})")
}

func TestEnrichIncludesTeamScopedDataset(t *testing.T) {
	e := &Enricher{Datasets: fakeDatasets{items: map[string]datasets.Dataset{
		"ds1": revenueDataset("ds1", "bob", "team-1"),
	}}}
	out, err := e.Enrich(context.Background(), "q", []string{"ds1", "missing"}, identity.Principal{UserID: "alice", TeamID: "team-1"})
	require.NoError(t, err)
	assert.Contains(t, out, "month_ds1")
	assert.Contains(t, out, `"revenue":10`)
}

func TestEnrichPreferencesOmitEmptyFields(t *testing.T) {
	e := &Enricher{Users: fakeUsers{"alice": {ID: "alice", Preferences: users.Preferences{Currency: "EUR", Industry: "Retail"}}}}
	out, err := e.Enrich(context.Background(), "q", nil, identity.Principal{UserID: "alice"})
	require.NoError(t, err)
	assert.Contains(t, out, "- Currency: EUR")
	assert.Contains(t, out, "- Industry: Retail")
	assert.NotContains(t, out, "Date format")
	assert.NotContains(t, out, "Language")

	out, err = e.Enrich(context.Background(), "q", nil, identity.Principal{UserID: "nobody"})
	require.NoError(t, err)
	assert.NotContains(t, out, "## User preferences")
}

func TestEnrichTeamFailureIsNotFatal(t *testing.T) {
	e := &Enricher{Teams: fakeTeams{err: errors.New("firestore down")}}
	out, err := e.Enrich(context.Background(), "q", nil, identity.Principal{UserID: "alice", TeamID: "t"})
	require.NoError(t, err)
	assert.NotContains(t, out, "## Team context")

	e.Teams = fakeTeams{team: teams.Team{Business: "Bakery", Industry: "Food", Preferences: map[string]string{"kpi": "margin"}}}
	out, err = e.Enrich(context.Background(), "q", nil, identity.Principal{UserID: "alice", TeamID: "t"})
	require.NoError(t, err)
	assert.Contains(t, out, "- Business: Bakery")
	assert.Contains(t, out, "- kpi: margin")
}

func TestEnrichRowFailureEmitsNote(t *testing.T) {
	ds := revenueDataset("ds1", "alice", "")
	ds.SampleRows = nil
	e := &Enricher{Datasets: fakeDatasets{
		items:   map[string]datasets.Dataset{"ds1": ds},
		rowsErr: map[string]error{"ds1": errors.New("corrupt csv")},
	}}
	out, err := e.Enrich(context.Background(), "q", []string{"ds1"}, identity.Principal{UserID: "alice"})
	require.NoError(t, err)
	assert.Contains(t, out, "month_ds1")
	assert.Contains(t, out, "error retrieving dataset")
}

func TestEnrichKeepsOrderAndCapsExamples(t *testing.T) {
	items := map[string]datasets.Dataset{}
	ids := []string{"a", "b", "c", "d", "e"}
	for _, id := range ids {
		items[id] = revenueDataset(id, "alice", "")
	}
	e := &Enricher{Datasets: fakeDatasets{items: items}}
	out, err := e.Enrich(context.Background(), "q", ids, identity.Principal{UserID: "alice"})
	require.NoError(t, err)
	last := -1
	for _, id := range ids {
		idx := strings.Index(out, "(id: "+id+")")
		require.Greater(t, idx, last, "dataset %s out of order", id)
		last = idx
	}
	assert.NotContains(t, out, "Apr")
}

func TestEnrichBudgetDropsTrailingSamples(t *testing.T) {
	items := map[string]datasets.Dataset{
		"ds1": revenueDataset("ds1", "alice", ""),
		"ds2": revenueDataset("ds2", "alice", ""),
	}
	full, err := (&Enricher{Datasets: fakeDatasets{items: items}}).Enrich(context.Background(), "q", []string{"ds1", "ds2"}, identity.Principal{UserID: "alice"})
	require.NoError(t, err)

	budget := (len(full) - 60) / charsPerToken
	e := &Enricher{Datasets: fakeDatasets{items: items}, MaxTokens: budget}
	out, err := e.Enrich(context.Background(), "q", []string{"ds1", "ds2"}, identity.Principal{UserID: "alice"})
	require.NoError(t, err)
	assert.Contains(t, out, "month_ds2", "schema must survive the budget")
	assert.Contains(t, out, `"month_ds1":"Jan"`, "leading samples kept")
	assert.NotContains(t, out, `"month_ds2":"Jan"`, "trailing samples dropped")
	assert.Contains(t, out, "omitted to fit the context budget")
}

func TestEnrichCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&Enricher{}).Enrich(ctx, "q", nil, identity.Principal{UserID: "a"})
	require.ErrorIs(t, err, context.Canceled)
}
