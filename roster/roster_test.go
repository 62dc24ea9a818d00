package roster_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/step-league/challenge"
	memstore "github.com/warp/step-league/challenge/store"
	"github.com/warp/step-league/roster"
)

func TestLoad_File(t *testing.T) {
	r, err := roster.Load("testdata/roster.yaml")
	require.NoError(t, err)
	require.Len(t, r.Teams, 2)
	require.Len(t, r.Users, 3)
	assert.Equal(t, "Beta", r.Teams[1].Name, "names are trimmed")
	assert.Equal(t, "T1", r.Users[2].TeamID)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := roster.Load("testdata/nope.yaml")
	assert.Error(t, err)
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown team", "teams: [{id: T1, name: A}]\nusers: [{id: U1, name: X, team_id: T9}]\n"},
		{"duplicate team", "teams: [{id: T1, name: A}, {id: T1, name: B}]\n"},
		{"duplicate user", "teams: [{id: T1, name: A}]\nusers: [{id: U1, team_id: T1}, {id: U1, team_id: T1}]\n"},
		{"missing user id", "teams: [{id: T1, name: A}]\nusers: [{name: X, team_id: T1}]\n"},
		{"missing team name", "teams: [{id: T1}]\n"},
		{"unknown key", "teams: [{id: T1, name: A, colour: red}]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := roster.Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	r, err := roster.Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, r.Teams)
}

func TestSeed_UpsertsIntoStore(t *testing.T) {
	// GIVEN: A memory store with a stale name for A
	ctx := context.Background()
	m := memstore.NewMemory()
	require.NoError(t, m.UpsertUsers(ctx, []challenge.User{{ID: "A", Name: "Old", TeamID: "T2"}}))

	r, err := roster.Load("testdata/roster.yaml")
	require.NoError(t, err)

	// WHEN: Seeding
	require.NoError(t, r.Seed(ctx, m, nil))

	// THEN: The roster matches the file
	err = m.Snapshot(ctx, func(rd challenge.Reader) error {
		users, err := rd.ListUsers(ctx)
		require.NoError(t, err)
		require.Len(t, users, 3)
		assert.Equal(t, challenge.User{ID: "A", Name: "Ann", TeamID: "T1"}, users[0])

		teams, err := rd.ListTeams(ctx)
		require.NoError(t, err)
		assert.Len(t, teams, 2)
		return nil
	})
	require.NoError(t, err)
}

func TestExampleRosterIsValid(t *testing.T) {
	r, err := roster.Load("../configs/roster.example.yaml")
	require.NoError(t, err)
	assert.Len(t, r.Teams, 8)
}
