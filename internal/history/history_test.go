package history

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	db, err := Open(path)
	require.NoError(t, err)

	var journalMode string
	require.NoError(t, db.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)
	assert.Equal(t, path, db.Path())
	require.NoError(t, db.Close())
}

func TestStartAndGetRun(t *testing.T) {
	db := openDB(t)
	require.NoError(t, db.StartRun(Run{ID: "r1", Repo: "/src/widget", PreviousVersion: "1.0.0"}))

	got, err := db.GetRun("r1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, "/src/widget", got.Repo)
	assert.Equal(t, "1.0.0", got.PreviousVersion)
	assert.NotEmpty(t, got.StartedAt)
	assert.Empty(t, got.EndedAt)

	_, err = db.GetRun("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFinishRunStoresOperations(t *testing.T) {
	db := openDB(t)
	require.NoError(t, db.StartRun(Run{ID: "r1"}))

	ops := []Operation{
		{OpID: "a", Type: "git_commit", State: "rolled_back", Description: "commit release"},
		{OpID: "b", Type: "git_tag", State: "rolled_back", Description: "tag v1.0.1"},
		{OpID: "c", Type: "github_release", State: "failed", Description: "create release", Error: "boom"},
	}
	require.NoError(t, db.FinishRun(Run{
		ID: "r1", Status: StatusRolledBack, Version: "1.0.1", PreviousVersion: "1.0.0",
		CommitCount: 1, RollbackQuality: "FULL", Error: "boom",
	}, ops))

	got, err := db.GetRun("r1")
	require.NoError(t, err)
	assert.Equal(t, StatusRolledBack, got.Status)
	assert.Equal(t, "FULL", got.RollbackQuality)
	assert.NotEmpty(t, got.EndedAt)

	stored, err := db.Operations("r1")
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, 0, stored[0].Seq)
	assert.Equal(t, "git_commit", stored[0].Type)
	assert.Equal(t, "boom", stored[2].Error)

	// Finishing again replaces the operation list.
	require.NoError(t, db.FinishRun(Run{ID: "r1", Status: StatusFailed}, ops[:1]))
	stored, err = db.Operations("r1")
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestFinishUnknownRun(t *testing.T) {
	db := openDB(t)
	err := db.FinishRun(Run{ID: "nope", Status: StatusFailed}, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListRunsNewestFirst(t *testing.T) {
	db := openDB(t)
	require.NoError(t, db.StartRun(Run{ID: "a", StartedAt: "2026-01-01T00:00:00Z"}))
	require.NoError(t, db.StartRun(Run{ID: "b", StartedAt: "2026-03-01T00:00:00Z"}))
	require.NoError(t, db.StartRun(Run{ID: "c", StartedAt: "2026-02-01T00:00:00Z"}))

	runs, err := db.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{"b", "c", "a"}, []string{runs[0].ID, runs[1].ID, runs[2].ID})

	limited, err := db.ListRuns(2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestFormatRunList(t *testing.T) {
	assert.Equal(t, "No releases recorded.\n", FormatRunList(nil))

	out := FormatRunList([]Run{{ID: "r1", Status: StatusSucceeded, PreviousVersion: "1.0.0", Version: "1.0.1", StartedAt: "2026-01-01T00:00:00Z"}})
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "SUCCEEDED")
	assert.Contains(t, out, "1.0.1")
}

func TestFormatOperations(t *testing.T) {
	assert.Equal(t, "No operations.\n", FormatOperations(nil))
	out := FormatOperations([]Operation{{Seq: 0, Type: "git_tag", State: "failed", Description: "tag v1", Error: "exists"}})
	assert.Contains(t, out, "git_tag")
	assert.Contains(t, out, "(exists)")
}

func TestFormatRunListJSON(t *testing.T) {
	out, err := FormatRunListJSON(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", out)

	out, err = FormatRunListJSON([]Run{{ID: "r1", Status: StatusFailed}})
	require.NoError(t, err)
	var decoded []Run
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "r1", decoded[0].ID)
}
