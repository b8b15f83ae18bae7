package engine

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/hippocampus/internal/store"
)

func TestAccessRecorderDropsWhenFull(t *testing.T) {
	db := testDB(t)
	a := newAccessRecorder(db, 1, zerolog.Nop())

	// Not started: the first batch fills the queue, the second is dropped.
	a.record([]int64{1}, nil)
	a.record([]int64{2}, nil)
	a.record(nil, nil)
	assert.EqualValues(t, 1, a.Dropped())

	require.NoError(t, a.close(context.Background()))
	a.record([]int64{3}, nil)
	assert.EqualValues(t, 1, a.Dropped(), "closed recorder ignores batches")
}

func TestAccessRecorderTouchesFacts(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	f := &store.Fact{ProfileID: "user", Key: "likes.tea", Domain: "preferences", Brief: "tea", Weight: 0.5}
	require.NoError(t, db.Write(ctx, func(tx *store.Tx) error { return tx.UpsertFact(ctx, f) }))

	a := newAccessRecorder(db, 8, zerolog.Nop())
	a.start()
	a.record([]int64{f.ID}, []store.AuditRow{{RequestID: "r1", Query: "tea", ThreadID: "preferences",
		FactKey: f.QualifiedKey(), Score: 0.4}})
	a.record([]int64{f.ID}, nil)
	require.NoError(t, a.close(ctx))

	got, err := db.GetFact(ctx, "user", "likes.tea")
	require.NoError(t, err)
	assert.Equal(t, 2, got.AccessCount)

	rows, err := db.AuditRows(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
