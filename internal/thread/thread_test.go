package thread

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/hippocampus/internal/store"
)

type brokenReader struct{}

func (brokenReader) CountFacts(context.Context, string) (int, error) {
	return 0, errors.New("disk I/O error")
}
func (brokenReader) DomainProfiles(context.Context, string) ([]store.ProfileCount, error) {
	return nil, errors.New("disk I/O error")
}
func (brokenReader) FactsByDomain(context.Context, string) ([]store.Fact, error) {
	return nil, errors.New("disk I/O error")
}

type panicThread struct{ *FactThread }

func (panicThread) Health(ctx context.Context) Status { panic("boom") }

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRegistryOrderIsFixed(t *testing.T) {
	reg := NewRegistry(testDB(t))
	var ids []string
	for _, a := range reg.All() {
		ids = append(ids, a.ID())
	}
	assert.Equal(t, Domains, ids)
	assert.Equal(t, 3, reg.Index(Relationships))
	assert.Equal(t, -1, reg.Index("weather"))

	a, ok := reg.Get(Values)
	require.True(t, ok)
	assert.Equal(t, "Values", a.Name())
	assert.Contains(t, a.Keywords(), "believe")
}

func TestHealthEmptyAndOK(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	require.NoError(t, db.Write(ctx, func(tx *store.Tx) error {
		return tx.UpsertFact(ctx, &store.Fact{ProfileID: "user", Key: "ui.theme", Domain: Preferences, Brief: "dark"})
	}))

	health := NewRegistry(db).Health(ctx)
	assert.Equal(t, HealthOK, health[Preferences].Status)
	assert.True(t, health[Preferences].HasData)
	assert.Equal(t, 1, health[Preferences].Facts)
	assert.Equal(t, HealthEmpty, health[Values].Status)
	assert.False(t, health[Values].HasData)
}

func TestHealthDegradesPerThread(t *testing.T) {
	ctx := context.Background()
	good := NewFactThread(Values, "Values", nil, testDB(t))
	bad := NewFactThread(Events, "Events", nil, brokenReader{})
	reg := NewRegistryOf(good, bad, panicThread{NewFactThread("panicky", "Panicky", nil, brokenReader{})})

	health := reg.Health(ctx)
	assert.Equal(t, HealthEmpty, health[Values].Status)
	assert.Equal(t, HealthUnavailable, health[Events].Status)
	assert.Contains(t, health[Events].Message, "disk I/O")
	assert.Equal(t, HealthUnavailable, health["panicky"].Status)
}

func TestFetchTiered(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	for _, f := range []store.Fact{
		{ProfileID: "user.dad", Key: "hobby", Domain: Relationships, Brief: "fishing", Weight: 0.9},
		{ProfileID: "user.dad", Key: "home", Domain: Relationships, Brief: "Maine", Weight: 0.4},
		{ProfileID: "user.sister", Key: "job", Domain: Relationships, Brief: "nurse", Weight: 0.6},
	} {
		f := f
		require.NoError(t, db.Write(ctx, func(tx *store.Tx) error { return tx.UpsertFact(ctx, &f) }))
	}
	th := NewFactThread(Relationships, "Relationships", nil, db)

	meta, err := th.FetchTiered(ctx, TierMetadata)
	require.NoError(t, err)
	assert.Equal(t, 3, meta.Count)
	assert.Empty(t, meta.Facts)

	prof, err := th.FetchTiered(ctx, TierProfiles)
	require.NoError(t, err)
	assert.Equal(t, 3, prof.Count)
	require.Len(t, prof.Profiles, 2)
	assert.Equal(t, "user.dad", prof.Profiles[0].ProfileID)

	full, err := th.FetchTiered(ctx, TierFacts)
	require.NoError(t, err)
	require.Len(t, full.Facts, 3)
	assert.Equal(t, "hobby", full.Facts[0].Key, "ordered by weight")

	_, err = NewFactThread(Events, "Events", nil, brokenReader{}).FetchTiered(ctx, TierFacts)
	assert.Error(t, err)
	_, err = th.FetchTiered(ctx, Tier(9))
	assert.Error(t, err)
}

func TestRelationOf(t *testing.T) {
	assert.Equal(t, "dad", RelationOf("user.dad"))
	assert.Equal(t, "", RelationOf("user"))
	assert.Equal(t, "", RelationOf("self"))
}
