package history

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doeshing/cmdrelay/internal/domain"
)

func openJournal(t *testing.T) *SQLiteJournal {
	t.Helper()
	j, err := OpenSQLiteJournal(filepath.Join(t.TempDir(), "nested", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func record(id, command string, ts time.Time, success bool, category domain.Category) domain.JournalRecord {
	return domain.JournalRecord{
		ID:        id,
		Timestamp: ts,
		Command:   command,
		Response:  "resp " + command,
		Success:   success,
		Category:  category,
	}
}

func TestSQLiteJournalAppendAndRecords(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t)
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, j.Append(ctx, record("a", "CMD: ls", base, true, domain.CategoryUnknown)))
	require.NoError(t, j.Append(ctx, record("b", "CMD: false", base.Add(time.Minute), false, domain.CategoryError)))
	require.NoError(t, j.Append(ctx, record("c", "INFO:", base.Add(2*time.Minute), true, domain.CategoryJSON)))

	all, err := j.Records(ctx, 0, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID, "newest first")
	assert.True(t, all[0].Timestamp.Equal(base.Add(2*time.Minute)))
	assert.Equal(t, domain.CategoryJSON, all[0].Category)
	assert.False(t, all[1].Success)

	limited, err := j.Records(ctx, 1, "")
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	found, err := j.Records(ctx, 0, "false")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "b", found[0].ID)
}

func TestSQLiteJournalStats(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t)

	empty, err := j.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Total)

	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, j.Append(ctx, record("a", "CMD: a", base, true, domain.CategoryUnknown)))
	require.NoError(t, j.Append(ctx, record("b", "CMD: b", base.Add(time.Hour), false, domain.CategoryError)))
	require.NoError(t, j.Append(ctx, record("c", "CMD: c", base.Add(2*time.Hour), false, domain.CategoryError)))

	stats, err := j.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 2, stats.Failed)
	if diff := cmp.Diff(map[domain.Category]int{domain.CategoryUnknown: 1, domain.CategoryError: 2}, stats.ByCategory); diff != "" {
		t.Fatalf("ByCategory mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, stats.Oldest.Equal(base))
	assert.True(t, stats.Newest.Equal(base.Add(2*time.Hour)))
}

func TestSQLiteJournalPruneAndClear(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t)
	now := time.Now()

	require.NoError(t, j.Append(ctx, record("old", "CMD: old", now.Add(-48*time.Hour), true, domain.CategoryUnknown)))
	require.NoError(t, j.Append(ctx, record("new", "CMD: new", now, true, domain.CategoryUnknown)))

	removed, err := j.PruneOlderThan(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	left, err := j.Records(ctx, 0, "")
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "new", left[0].ID)

	require.NoError(t, j.Clear(ctx))
	left, err = j.Records(ctx, 0, "")
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestSQLiteJournalExportJSON(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t)
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, j.Append(ctx, record("a", "CMD: a", base, true, domain.CategoryUnknown)))
	require.NoError(t, j.Append(ctx, record("b", "CMD: b", base.Add(time.Second), true, domain.CategoryUnknown)))

	dest := filepath.Join(t.TempDir(), "export.jsonl")
	n, err := j.ExportJSON(ctx, dest)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	file, err := os.Open(dest)
	require.NoError(t, err)
	defer file.Close()
	var ids []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var rec domain.JournalRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"a", "b"}, ids, "export is oldest first")
}

func TestOpenSQLiteJournalRejectsEmptyPath(t *testing.T) {
	_, err := OpenSQLiteJournal("")
	assert.Error(t, err)
}

func TestFileStoreRoundTrip(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "state", "history.json"))
	ts := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	entries := []domain.CommandEntry{
		{Timestamp: ts, Command: "CMD: ls", Response: "a.txt", Success: true},
		{Timestamp: ts.Add(-time.Second), Command: "CMD: false", Response: "Error: exit status 1", Success: false},
	}
	require.NoError(t, store.SaveHistory(entries))

	loaded, err := store.LoadHistory()
	require.NoError(t, err)
	if diff := cmp.Diff(entries, loaded); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "absent.json"))
	loaded, err := store.LoadHistory()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestFileStoreRejectsNonArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"command": "CMD: ls"}`), 0o600))

	_, err := NewFileStore(path).LoadHistory()
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidHistory))
}

func TestFileStoreRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"command": `), 0o600))

	_, err := NewFileStore(path).LoadHistory()
	assert.ErrorIs(t, err, domain.ErrInvalidHistory)
}
