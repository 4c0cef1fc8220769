package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/portfolio-ingest/internal/store"
)

func newReplayStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "dlq.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestReplayDeadLetters_DrainsQueue(t *testing.T) {
	ctx := context.Background()
	st := newReplayStore(t)

	for _, id := range []string{"msg-a", "msg-b"} {
		require.NoError(t, st.RecordDeadLetter(ctx, store.DeadLetter{
			SourceType: "email", SourceID: id, Error: "graph: status 503",
		}))
	}
	dls, err := st.DeadLetters(ctx, 50)
	require.NoError(t, err)
	require.Len(t, dls, 2)

	p := &fakeProcessor{}
	require.NoError(t, replayDeadLetters(ctx, p, st, dls, 2))

	assert.Len(t, p.processed, 2)
	remaining, err := st.DeadLetters(ctx, 50)
	require.NoError(t, err)
	assert.Empty(t, remaining, "replayed entries must be cleared")
}

func TestReplayDeadLetters_FailedReplayStays(t *testing.T) {
	ctx := context.Background()
	st := newReplayStore(t)

	require.NoError(t, st.RecordDeadLetter(ctx, store.DeadLetter{
		SourceType: "email", SourceID: "msg-ok", Error: "graph: status 503",
	}))
	require.NoError(t, st.RecordDeadLetter(ctx, store.DeadLetter{
		SourceType: "email", SourceID: "msg-broken", Error: "graph: status 503",
	}))
	dls, err := st.DeadLetters(ctx, 50)
	require.NoError(t, err)
	require.Len(t, dls, 2)

	p := &fakeProcessor{
		errs: map[string]error{"msg-broken": eris.New("graph: status 503")},
	}
	require.NoError(t, replayDeadLetters(ctx, p, st, dls, 1))

	remaining, err := st.DeadLetters(ctx, 50)
	require.NoError(t, err)
	require.Len(t, remaining, 1, "a failing message stays queued for the next run")
	assert.Equal(t, "msg-broken", remaining[0].SourceID)
	assert.Empty(t, p.deadletter, "replay must not re-record an existing entry")
}

func TestReplayDeadLetters_SkipsUnknownSourceType(t *testing.T) {
	ctx := context.Background()
	st := newReplayStore(t)

	require.NoError(t, st.RecordDeadLetter(ctx, store.DeadLetter{
		SourceType: "csv_import", SourceID: "legacy.csv", Error: "tabular: no header row",
	}))
	dls, err := st.DeadLetters(ctx, 50)
	require.NoError(t, err)

	p := &fakeProcessor{}
	require.NoError(t, replayDeadLetters(ctx, p, st, dls, 1))

	assert.Empty(t, p.processed)
	remaining, err := st.DeadLetters(ctx, 50)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}
