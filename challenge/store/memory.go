// Package store provides in-memory Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/step-league/challenge"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu         sync.RWMutex
	state      memoryState
	nextUpload challenge.UploadID

	faults map[string]error
}

type memoryState struct {
	users      map[challenge.UserID]challenge.User
	teams      map[challenge.TeamID]challenge.Team
	uploads    []challenge.Upload
	raw        []challenge.RawStepRecord
	individual map[scoreKey]challenge.IndividualScoreRow
	team       map[teamKey]challenge.TeamScoreRow
}

type scoreKey struct {
	UserID challenge.UserID
	Day    challenge.ChallengeDay
}

type teamKey struct {
	TeamID challenge.TeamID
	Day    challenge.ChallengeDay
}

func NewMemory() *Memory {
	return &Memory{
		state: memoryState{
			users:      make(map[challenge.UserID]challenge.User),
			teams:      make(map[challenge.TeamID]challenge.Team),
			individual: make(map[scoreKey]challenge.IndividualScoreRow),
			team:       make(map[teamKey]challenge.TeamScoreRow),
		},
		faults: make(map[string]error),
	}
}

// FailOn makes the named Writer/Reader method return err until cleared with
// a nil err. Used to exercise rollback paths.
func (m *Memory) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.faults, method)
		return
	}
	m.faults[method] = err
}

// UpsertTeams adds or renames teams.
func (m *Memory) UpsertTeams(_ context.Context, teams []challenge.Team) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range teams {
		m.state.teams[t.ID] = t
	}
	return nil
}

// UpsertUsers adds or updates roster users.
func (m *Memory) UpsertUsers(_ context.Context, users []challenge.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range users {
		m.state.users[u.ID] = u
	}
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(challenge.Writer) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	saved := m.state.clone()
	savedNext := m.nextUpload

	if err := fn(&memoryView{m: m}); err != nil {
		m.state = saved
		m.nextUpload = savedNext
		return err
	}
	return nil
}

// Snapshot runs fn under the read lock, so no WithTx can interleave.
func (m *Memory) Snapshot(ctx context.Context, fn func(challenge.Reader) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memoryView{m: m})
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		users:      make(map[challenge.UserID]challenge.User, len(s.users)),
		teams:      make(map[challenge.TeamID]challenge.Team, len(s.teams)),
		uploads:    append([]challenge.Upload(nil), s.uploads...),
		raw:        append([]challenge.RawStepRecord(nil), s.raw...),
		individual: make(map[scoreKey]challenge.IndividualScoreRow, len(s.individual)),
		team:       make(map[teamKey]challenge.TeamScoreRow, len(s.team)),
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	for k, v := range s.teams {
		out.teams[k] = v
	}
	for k, v := range s.individual {
		out.individual[k] = v
	}
	for k, v := range s.team {
		out.team[k] = v
	}
	return out
}

// =============================================================================
// VIEW - Reader/Writer over locked state
// =============================================================================

// memoryView assumes the caller holds the Memory lock.
type memoryView struct {
	m *Memory
}

func (v *memoryView) fault(method string) error {
	return v.m.faults[method]
}

func (v *memoryView) ListUsers(_ context.Context) ([]challenge.User, error) {
	if err := v.fault("ListUsers"); err != nil {
		return nil, err
	}
	out := make([]challenge.User, 0, len(v.m.state.users))
	for _, u := range v.m.state.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *memoryView) ListTeams(_ context.Context) ([]challenge.Team, error) {
	if err := v.fault("ListTeams"); err != nil {
		return nil, err
	}
	out := make([]challenge.Team, 0, len(v.m.state.teams))
	for _, t := range v.m.state.teams {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *memoryView) LookupUsers(_ context.Context, ids []challenge.UserID) (map[challenge.UserID]challenge.User, error) {
	if err := v.fault("LookupUsers"); err != nil {
		return nil, err
	}
	out := make(map[challenge.UserID]challenge.User, len(ids))
	for _, id := range ids {
		if u, ok := v.m.state.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (v *memoryView) IndividualScores(_ context.Context, from, to challenge.ChallengeDay) ([]challenge.IndividualScoreRow, error) {
	if err := v.fault("IndividualScores"); err != nil {
		return nil, err
	}
	var out []challenge.IndividualScoreRow
	for k, row := range v.m.state.individual {
		if k.Day >= from && k.Day <= to {
			out = append(out, row)
		}
	}
	sortScores(out)
	return out, nil
}

func (v *memoryView) IndividualScoresOn(_ context.Context, d challenge.Date) ([]challenge.IndividualScoreRow, error) {
	if err := v.fault("IndividualScoresOn"); err != nil {
		return nil, err
	}
	var out []challenge.IndividualScoreRow
	for _, row := range v.m.state.individual {
		if row.Date.Equal(d) {
			out = append(out, row)
		}
	}
	sortScores(out)
	return out, nil
}

func (v *memoryView) CountScores(_ context.Context, day challenge.ChallengeDay) (int, int, error) {
	if err := v.fault("CountScores"); err != nil {
		return 0, 0, err
	}
	var individual, team int
	for k := range v.m.state.individual {
		if k.Day == day {
			individual++
		}
	}
	for k := range v.m.state.team {
		if k.Day == day {
			team++
		}
	}
	return individual, team, nil
}

func (v *memoryView) TeamScores(_ context.Context, day challenge.ChallengeDay) ([]challenge.TeamScoreRow, error) {
	if err := v.fault("TeamScores"); err != nil {
		return nil, err
	}
	var out []challenge.TeamScoreRow
	for k, row := range v.m.state.team {
		if k.Day == day {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TeamID < out[j].TeamID })
	return out, nil
}

func (v *memoryView) ListUploads(_ context.Context) ([]challenge.UploadSummary, error) {
	if err := v.fault("ListUploads"); err != nil {
		return nil, err
	}
	counts := make(map[challenge.UploadID]int)
	for _, r := range v.m.state.raw {
		counts[r.UploadID]++
	}
	out := make([]challenge.UploadSummary, len(v.m.state.uploads))
	for i, u := range v.m.state.uploads {
		out[i] = challenge.UploadSummary{Upload: u, Records: counts[u.ID]}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (v *memoryView) ActiveUpload(_ context.Context, day challenge.ChallengeDay) (*challenge.Upload, error) {
	if err := v.fault("ActiveUpload"); err != nil {
		return nil, err
	}
	for i := len(v.m.state.uploads) - 1; i >= 0; i-- {
		u := v.m.state.uploads[i]
		if u.ChallengeDay == day && u.Status == challenge.UploadActive {
			return &u, nil
		}
	}
	return nil, nil
}

func (v *memoryView) RawSteps(_ context.Context, id challenge.UploadID) ([]challenge.RawStepRecord, error) {
	if err := v.fault("RawSteps"); err != nil {
		return nil, err
	}
	var out []challenge.RawStepRecord
	for _, r := range v.m.state.raw {
		if r.UploadID == id {
			out = append(out, r)
		}
	}
	return out, nil
}

func (v *memoryView) SupersedeActive(_ context.Context, day challenge.ChallengeDay) (int, error) {
	if err := v.fault("SupersedeActive"); err != nil {
		return 0, err
	}
	n := 0
	for i, u := range v.m.state.uploads {
		if u.ChallengeDay == day && u.Status == challenge.UploadActive {
			v.m.state.uploads[i].Status = challenge.UploadSuperseded
			n++
		}
	}
	return n, nil
}

func (v *memoryView) DeleteDay(_ context.Context, day challenge.ChallengeDay) (challenge.DeletedCounts, error) {
	if err := v.fault("DeleteDay"); err != nil {
		return challenge.DeletedCounts{}, err
	}
	var counts challenge.DeletedCounts

	kept := v.m.state.raw[:0:0]
	for _, r := range v.m.state.raw {
		if r.ChallengeDay == day {
			counts.RawSteps++
			continue
		}
		kept = append(kept, r)
	}
	v.m.state.raw = kept

	for k := range v.m.state.individual {
		if k.Day == day {
			delete(v.m.state.individual, k)
			counts.Individual++
		}
	}
	for k := range v.m.state.team {
		if k.Day == day {
			delete(v.m.state.team, k)
			counts.Team++
		}
	}
	return counts, nil
}

func (v *memoryView) CreateUpload(_ context.Context, u challenge.Upload) (challenge.UploadID, error) {
	if err := v.fault("CreateUpload"); err != nil {
		return 0, err
	}
	if u.Status == challenge.UploadActive {
		for _, existing := range v.m.state.uploads {
			if existing.ChallengeDay == u.ChallengeDay && existing.Status == challenge.UploadActive {
				return 0, fmt.Errorf("day %d already has active upload %d", u.ChallengeDay, existing.ID)
			}
		}
	}
	v.m.nextUpload++
	u.ID = v.m.nextUpload
	v.m.state.uploads = append(v.m.state.uploads, u)
	return u.ID, nil
}

func (v *memoryView) InsertRawSteps(_ context.Context, rows []challenge.RawStepRecord) error {
	if err := v.fault("InsertRawSteps"); err != nil {
		return err
	}
	v.m.state.raw = append(v.m.state.raw, rows...)
	return nil
}

func (v *memoryView) UpsertIndividualScores(_ context.Context, rows []challenge.IndividualScoreRow) error {
	if err := v.fault("UpsertIndividualScores"); err != nil {
		return err
	}
	for _, r := range rows {
		v.m.state.individual[scoreKey{UserID: r.UserID, Day: r.ChallengeDay}] = r
	}
	return nil
}

func (v *memoryView) UpsertTeamScores(_ context.Context, rows []challenge.TeamScoreRow) error {
	if err := v.fault("UpsertTeamScores"); err != nil {
		return err
	}
	for _, r := range rows {
		v.m.state.team[teamKey{TeamID: r.TeamID, Day: r.ChallengeDay}] = r
	}
	return nil
}

func sortScores(rows []challenge.IndividualScoreRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ChallengeDay != rows[j].ChallengeDay {
			return rows[i].ChallengeDay < rows[j].ChallengeDay
		}
		return rows[i].UserID < rows[j].UserID
	})
}
