package registry

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/solaius/model-harvester/pkg/entity"
	"github.com/solaius/model-harvester/pkg/objstore"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

func newGormBackend(t *testing.T) *GormBackend {
	t.Helper()
	b := NewGormBackend(setupTestDB(t))
	require.NoError(t, b.AutoMigrate())
	return b
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T, b Backend) *Registry {
	t.Helper()
	r := New(b, WithClock(func() time.Time { return testNow }))
	require.NoError(t, r.Load(context.Background()))
	return r
}

func testEntity(id, source string, likes int64, tags ...string) *entity.Entity {
	return &entity.Entity{
		ID:        id,
		Type:      entity.TypeModel,
		Source:    source,
		Title:     id,
		Tags:      tags,
		Metrics:   entity.Metrics{Likes: likes, Downloads: likes * 10},
		CreatedAt: testNow.Add(-48 * time.Hour),
	}
}

func TestMergeInsertsAndUpdates(t *testing.T) {
	r := newTestRegistry(t, newGormBackend(t))

	stats, err := r.MergeCurrentBatch([]*entity.Entity{testEntity("hf:a", "hf", 10, "llm")})
	require.NoError(t, err)
	assert.Equal(t, MergeStats{Inserted: 1}, stats)

	update := testEntity("hf:a", "hf", 25, "gguf")
	update.CreatedAt = testNow
	update.Description = "updated"
	update.Relations = []entity.Relation{{Type: entity.RelationBasedOnPaper, Target: "arxiv:1"}}
	stats, err = r.MergeCurrentBatch([]*entity.Entity{update})
	require.NoError(t, err)
	assert.Equal(t, MergeStats{Updated: 1}, stats)

	got, ok := r.Get("hf:a")
	require.True(t, ok)
	assert.Equal(t, "updated", got.Description)
	assert.Equal(t, int64(25), got.Metrics.Likes)
	assert.Equal(t, int64(25), got.Metrics.LikesDelta)
	assert.Equal(t, []string{"llm", "gguf"}, got.Tags)
	assert.Equal(t, testNow.Add(-48*time.Hour), got.CreatedAt, "creation time is kept")
	assert.Equal(t, entity.StatusActive, got.Status)
	assert.Equal(t, testNow, got.LastSeenAt)
	assert.NotEmpty(t, got.ContentHash)
	require.Len(t, got.SourceTrail, 1)
	assert.Equal(t, "hf", got.SourceTrail[0].Source)
}

func TestMergeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b := newGormBackend(t)

	seed := New(b, WithClock(func() time.Time { return testNow.Add(-24 * time.Hour) }))
	require.NoError(t, seed.Load(ctx))
	_, err := seed.MergeCurrentBatch([]*entity.Entity{testEntity("hf:a", "hf", 10)})
	require.NoError(t, err)
	_, err = seed.Save(ctx)
	require.NoError(t, err)

	r := newTestRegistry(t, b)
	batch := []*entity.Entity{
		testEntity("hf:a", "hf", 40, "x"),
		testEntity("hf:b", "hf", 5),
	}
	_, err = r.MergeCurrentBatch(batch)
	require.NoError(t, err)
	first := r.All()

	_, err = r.MergeCurrentBatch(batch)
	require.NoError(t, err)
	second := r.All()

	assert.Equal(t, first, second)
	a, _ := r.Get("hf:a")
	assert.Equal(t, int64(30), a.Metrics.LikesDelta)
}

func TestMergeDoesNotAliasInput(t *testing.T) {
	r := newTestRegistry(t, newGormBackend(t))
	in := testEntity("hf:a", "hf", 1, "a")
	_, err := r.MergeCurrentBatch([]*entity.Entity{in})
	require.NoError(t, err)

	in.Tags[0] = "mutated"
	got, _ := r.Get("hf:a")
	assert.Equal(t, []string{"a"}, got.Tags)
}

func TestMergeBeforeLoad(t *testing.T) {
	r := New(newGormBackend(t))
	_, err := r.MergeCurrentBatch([]*entity.Entity{testEntity("hf:a", "hf", 1)})
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestNoDataLossWhenSourceDisappears(t *testing.T) {
	ctx := context.Background()
	b := newGormBackend(t)

	// Run N: both sources supply entities.
	r := newTestRegistry(t, b)
	_, err := r.MergeCurrentBatch([]*entity.Entity{testEntity("hf:x", "hf", 100)})
	require.NoError(t, err)
	_, err = r.MergeCurrentBatch([]*entity.Entity{testEntity("gh:y", "gh", 10)})
	require.NoError(t, err)
	archived, err := r.Save(ctx)
	require.NoError(t, err)
	assert.Zero(t, archived)

	// Run N+1: the hf source is disabled.
	r = newTestRegistry(t, b)
	_, err = r.MergeCurrentBatch([]*entity.Entity{testEntity("gh:y", "gh", 10)})
	require.NoError(t, err)
	archived, err = r.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, archived)

	// Run N+2: still absent, decayed only once.
	r = newTestRegistry(t, b)
	archived, err = r.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, archived, "gh:y is archived now, hf:x stays archived")

	r = newTestRegistry(t, b)
	assert.Equal(t, 2, r.Count())
	x, ok := r.Get("hf:x")
	require.True(t, ok)
	assert.Equal(t, entity.StatusArchived, x.Status)
	assert.Equal(t, int64(90), x.Metrics.Likes)
	assert.Equal(t, int64(900), x.Metrics.Downloads)

	// Resurrection.
	stats, err := r.MergeCurrentBatch([]*entity.Entity{testEntity("hf:x", "hf", 120)})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Resurrected)
	x, _ = r.Get("hf:x")
	assert.Equal(t, entity.StatusActive, x.Status)
	assert.Equal(t, int64(30), x.Metrics.LikesDelta)
}

func TestPersistSkipsArchival(t *testing.T) {
	ctx := context.Background()
	b := newGormBackend(t)

	r := newTestRegistry(t, b)
	_, err := r.MergeCurrentBatch([]*entity.Entity{testEntity("hf:x", "hf", 100)})
	require.NoError(t, err)
	_, err = r.Save(ctx)
	require.NoError(t, err)

	r = newTestRegistry(t, b)
	n := r.UpdateScores(map[string]entity.Score{
		"hf:x":    {Score: 42.5, AnomalyFlags: []string{"UNUSUAL_RATIO"}},
		"missing": {Score: 1},
	})
	assert.Equal(t, 1, n)
	require.NoError(t, r.Persist(ctx))

	r = newTestRegistry(t, b)
	x, _ := r.Get("hf:x")
	assert.Equal(t, entity.StatusActive, x.Status)
	assert.Equal(t, 42.5, x.FNI.Score)
	assert.Equal(t, []string{"UNUSUAL_RATIO"}, x.FNI.AnomalyFlags)
}

func TestShardBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := objstore.NewDirStore(t.TempDir())
	require.NoError(t, err)
	b := NewShardBackend(store, "reg", 4)

	r := newTestRegistry(t, b)
	var batch []*entity.Entity
	for _, id := range []string{"hf:a", "hf:b", "hf:c", "gh:d", "gh:e"} {
		batch = append(batch, testEntity(id, "src", 3))
	}
	_, err = r.MergeCurrentBatch(batch)
	require.NoError(t, err)
	_, err = r.Save(ctx)
	require.NoError(t, err)

	keys, err := store.List(ctx, "reg/")
	require.NoError(t, err)
	assert.Len(t, keys, 4)

	reloaded := newTestRegistry(t, b)
	assert.Equal(t, 5, reloaded.Count())
	assert.Equal(t, b.ShardFor("hf:a"), b.ShardFor("hf:a"))
	assert.Less(t, b.ShardFor("hf:a"), 4)
}

func TestOpenBackend(t *testing.T) {
	ctx := context.Background()

	b, err := OpenBackend(ctx, Config{Backend: BackendGorm, Dialect: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	assert.IsType(t, &GormBackend{}, b)

	b, err = OpenBackend(ctx, Config{Backend: BackendShards, Store: objstore.Config{Dir: t.TempDir()}})
	require.NoError(t, err)
	assert.IsType(t, &ShardBackend{}, b)

	_, err = OpenBackend(ctx, Config{Backend: "redis"})
	assert.Error(t, err)
	_, err = OpenBackend(ctx, Config{Dialect: "oracle"})
	assert.Error(t, err)
}

func TestSqliteDSN(t *testing.T) {
	assert.Equal(t, ":memory:", sqliteDSN(":memory:"))
	assert.Equal(t, "harvest.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", sqliteDSN("harvest.db"))
	assert.Equal(t, "file:h.db?cache=shared&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", sqliteDSN("file:h.db?cache=shared"))
	assert.Equal(t, "h.db?_pragma=foreign_keys(1)", sqliteDSN("h.db?_pragma=foreign_keys(1)"))
}
