package batch_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/step-league/batch"
	"github.com/warp/step-league/challenge"
)

type fakeIngester struct {
	got []challenge.Batch
	err error
}

func (f *fakeIngester) Ingest(_ context.Context, b challenge.Batch) (challenge.IngestResult, error) {
	f.got = append(f.got, b)
	if f.err != nil {
		return challenge.IngestResult{}, f.err
	}
	return challenge.IngestResult{UploadID: 7, ChallengeDay: 1, Date: b.Rows[0].Date, RowsProcessed: len(b.Rows)}, nil
}

func spoolFiles(t *testing.T, dir string) []string {
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestSpool_Accept_RemovesFileOnSuccess(t *testing.T) {
	// GIVEN: A spool and a valid upload with one bad row
	dir := t.TempDir()
	ing := &fakeIngester{}
	spool, err := batch.NewSpool(dir, 0, ing, nil)
	require.NoError(t, err)

	input := "user_id,steps,date\nA,12000,2025-12-01\nB,x,2025-12-01\n"

	// WHEN: Accepting it
	out, err := spool.Accept(context.Background(), "uploads/day1.csv", strings.NewReader(input), "ops")

	// THEN: The valid row is ingested, the bad one reported, the file gone
	require.NoError(t, err)
	assert.Equal(t, challenge.UploadID(7), out.Result.UploadID)
	assert.Equal(t, []batch.RowError{{Row: 3, Reason: "Invalid steps value"}}, out.RowErrors)

	require.Len(t, ing.got, 1)
	assert.Equal(t, "day1.csv", ing.got[0].FileName)
	assert.Equal(t, "ops", ing.got[0].UploadedBy)
	assert.Len(t, ing.got[0].Rows, 1)

	assert.Empty(t, spoolFiles(t, dir))
}

func TestSpool_Accept_RemovesFileOnFailure(t *testing.T) {
	dir := t.TempDir()
	ing := &fakeIngester{err: &challenge.UnknownUserError{IDs: []challenge.UserID{"Z"}}}
	spool, err := batch.NewSpool(dir, 0, ing, nil)
	require.NoError(t, err)

	_, err = spool.Accept(context.Background(), "day1.csv",
		strings.NewReader("user_id,steps,date\nZ,1,2025-12-01\n"), "")

	assert.ErrorIs(t, err, challenge.ErrUnknownUser)
	assert.Empty(t, spoolFiles(t, dir))
}

func TestSpool_Accept_RemovesFileOnParseFailure(t *testing.T) {
	dir := t.TempDir()
	ing := &fakeIngester{}
	spool, err := batch.NewSpool(dir, 0, ing, nil)
	require.NoError(t, err)

	_, err = spool.Accept(context.Background(), "day1.csv", strings.NewReader("foo,bar\n1,2\n"), "")

	var missing *batch.MissingColumnsError
	assert.True(t, errors.As(err, &missing))
	assert.Empty(t, ing.got, "nothing ingested")
	assert.Empty(t, spoolFiles(t, dir))
}

func TestSpool_Save_UniqueNames(t *testing.T) {
	dir := t.TempDir()
	spool, err := batch.NewSpool(dir, 0, &fakeIngester{}, nil)
	require.NoError(t, err)

	p1, err := spool.Save("steps.xlsx", strings.NewReader("a"))
	require.NoError(t, err)
	p2, err := spool.Save("steps.xlsx", strings.NewReader("b"))
	require.NoError(t, err)

	assert.NotEqual(t, p1, p2)
	assert.True(t, strings.HasSuffix(p1, ".xlsx"))
	assert.Len(t, spoolFiles(t, dir), 2)
}

func TestSpool_Save_SizeLimit(t *testing.T) {
	dir := t.TempDir()
	spool, err := batch.NewSpool(dir, 8, &fakeIngester{}, nil)
	require.NoError(t, err)

	_, err = spool.Save("big.csv", strings.NewReader("0123456789"))
	assert.ErrorIs(t, err, batch.ErrTooLarge)
	assert.Empty(t, spoolFiles(t, dir))

	_, err = spool.Save("ok.csv", strings.NewReader("01234567"))
	assert.NoError(t, err)
}
