package trace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestOpen_CreatesDatabase(t *testing.T) {
	_, path := createTestStore(t)
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "trace.db"))
	assert.Error(t, err)
}

func TestOpen_Pragmas(t *testing.T) {
	s, _ := createTestStore(t)

	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, s.db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.db")
	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "iteration %d", i)
		require.NoError(t, s.Close())
	}
}

func TestClose_MultipleCalls(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestWriteEvents_ReadFlush(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	events := sampleEvents()

	require.NoError(t, s.WriteEvents(ctx, events))

	got, err := s.ReadFlush(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, events, got)
}

func TestWriteEvents_Idempotent(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	events := sampleEvents()

	require.NoError(t, s.WriteEvents(ctx, events))
	require.NoError(t, s.WriteEvents(ctx, events))

	got, err := s.ReadFlush(ctx, "f1")
	require.NoError(t, err)
	assert.Len(t, got, len(events))
}

func TestWriteEvents_Empty(t *testing.T) {
	s, _ := createTestStore(t)
	assert.NoError(t, s.WriteEvents(context.Background(), nil))
}

func TestListFlushes(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	flushes, err := s.ListFlushes(ctx)
	require.NoError(t, err)
	assert.Empty(t, flushes)

	require.NoError(t, s.WriteEvents(ctx, sampleEvents()))
	require.NoError(t, s.WriteEvents(ctx, []Event{
		{Seq: 5, FlushID: "f2", Kind: KindFlushStart},
	}))

	flushes, err = s.ListFlushes(ctx)
	require.NoError(t, err)
	require.Len(t, flushes, 2)
	assert.Equal(t, FlushSummary{
		ID: "f1", StartedSeq: 1, FinishedSeq: 4, Steps: 2, Error: "boom", Events: 4,
	}, flushes[0])
	assert.Equal(t, FlushSummary{ID: "f2", StartedSeq: 5, Events: 1}, flushes[1])
}

func TestReadFlush_NotFound(t *testing.T) {
	s, _ := createTestStore(t)
	_, err := s.ReadFlush(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrFlushNotFound)
}

func TestNodeHistory(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.WriteEvents(ctx, sampleEvents()))

	history, err := s.NodeHistory(ctx, "b")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(2), history[0].Seq)

	none, err := s.NodeHistory(ctx, "zzz")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMaxSeq_SurvivesReopen(t *testing.T) {
	s, path := createTestStore(t)
	ctx := context.Background()

	seq, err := s.MaxSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)

	require.NoError(t, s.WriteEvents(ctx, sampleEvents()))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	seq, err = reopened.MaxSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), seq)
}
