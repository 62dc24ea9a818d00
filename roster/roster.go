// Package roster loads team and user directories from YAML and seeds them
// into a store. The challenge engine only reads the roster; this is the one
// place it is written.
package roster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/warp/step-league/challenge"
	"gopkg.in/yaml.v3"
)

// Roster is the on-disk directory format.
type Roster struct {
	Teams []Team `yaml:"teams"`
	Users []User `yaml:"users"`
}

type Team struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type User struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	TeamID string `yaml:"team_id"`
}

// Seeder is implemented by stores that accept roster upserts.
type Seeder interface {
	UpsertTeams(ctx context.Context, teams []challenge.Team) error
	UpsertUsers(ctx context.Context, users []challenge.User) error
}

// Load reads and validates a roster file.
func Load(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates roster YAML. Unknown keys are rejected.
func Parse(data []byte) (*Roster, error) {
	var r Roster
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&r); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode roster: %w", err)
	}
	r.normalize()
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Roster) normalize() {
	for i := range r.Teams {
		r.Teams[i].ID = strings.TrimSpace(r.Teams[i].ID)
		r.Teams[i].Name = strings.TrimSpace(r.Teams[i].Name)
	}
	for i := range r.Users {
		r.Users[i].ID = strings.TrimSpace(r.Users[i].ID)
		r.Users[i].Name = strings.TrimSpace(r.Users[i].Name)
		r.Users[i].TeamID = strings.TrimSpace(r.Users[i].TeamID)
	}
}

// Validate checks ids are present and unique and that every user's team
// is declared.
func (r *Roster) Validate() error {
	teams := make(map[string]struct{}, len(r.Teams))
	for i, t := range r.Teams {
		if t.ID == "" {
			return fmt.Errorf("team %d: id is required", i+1)
		}
		if t.Name == "" {
			return fmt.Errorf("team %s: name is required", t.ID)
		}
		if _, dup := teams[t.ID]; dup {
			return fmt.Errorf("team %s: duplicate id", t.ID)
		}
		teams[t.ID] = struct{}{}
	}

	users := make(map[string]struct{}, len(r.Users))
	for i, u := range r.Users {
		if u.ID == "" {
			return fmt.Errorf("user %d: id is required", i+1)
		}
		if _, dup := users[u.ID]; dup {
			return fmt.Errorf("user %s: duplicate id", u.ID)
		}
		if _, ok := teams[u.TeamID]; !ok {
			return fmt.Errorf("user %s: unknown team %q", u.ID, u.TeamID)
		}
		users[u.ID] = struct{}{}
	}
	return nil
}

// Seed upserts teams, then users. Existing entries are updated in place.
func (r *Roster) Seed(ctx context.Context, s Seeder, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	teams := make([]challenge.Team, len(r.Teams))
	for i, t := range r.Teams {
		teams[i] = challenge.Team{ID: challenge.TeamID(t.ID), Name: t.Name}
	}
	if err := s.UpsertTeams(ctx, teams); err != nil {
		return fmt.Errorf("seed teams: %w", err)
	}

	users := make([]challenge.User, len(r.Users))
	for i, u := range r.Users {
		users[i] = challenge.User{ID: challenge.UserID(u.ID), Name: u.Name, TeamID: challenge.TeamID(u.TeamID)}
	}
	if err := s.UpsertUsers(ctx, users); err != nil {
		return fmt.Errorf("seed users: %w", err)
	}

	logger.Info("roster seeded",
		slog.String("component", "roster"),
		slog.Int("teams", len(teams)),
		slog.Int("users", len(users)))
	return nil
}
