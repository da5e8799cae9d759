package objstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirStorePutGetList(t *testing.T) {
	ctx := context.Background()
	s, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "shards/shard-001.json", []byte(`[1]`)))
	require.NoError(t, s.Put(ctx, "shards/shard-000.json", []byte(`[0]`)))
	require.NoError(t, s.Put(ctx, "export/entities.json", []byte(`{}`)))
	require.NoError(t, s.Put(ctx, "shards/shard-000.json", []byte(`[0,0]`)))

	data, err := s.Get(ctx, "shards/shard-000.json")
	require.NoError(t, err)
	assert.Equal(t, `[0,0]`, string(data))

	keys, err := s.List(ctx, "shards/")
	require.NoError(t, err)
	assert.Equal(t, []string{"shards/shard-000.json", "shards/shard-001.json"}, keys)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDirStoreGetMissing(t *testing.T) {
	s, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "nope.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDirStoreRejectsEscapingKeys(t *testing.T) {
	s, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"../outside.json", "/etc/passwd", ""} {
		assert.Error(t, s.Put(context.Background(), key, nil), key)
	}
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), Config{Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &DirStore{}, s)

	_, err = Open(context.Background(), Config{})
	assert.Error(t, err)

	_, err = Open(context.Background(), Config{Kind: "gcs"})
	assert.Error(t, err)

	_, err = Open(context.Background(), Config{Kind: KindS3})
	assert.Error(t, err)
}
