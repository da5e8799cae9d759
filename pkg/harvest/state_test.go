package harvest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solaius/model-harvester/pkg/objstore"
)

func TestFileStateStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "harvest-state.json")
	store, err := NewFileStateStore(path)
	require.NoError(t, err)

	st, err := store.Load(ctx)
	require.NoError(t, err, "missing file yields an empty state")
	assert.Empty(t, st.LastRun)
	assert.Equal(t, StateVersion, st.Version)

	st.Set("huggingface", SourceState{Offset: 5000, Timestamp: testNow})
	st.MarkRun(testNow)
	require.NoError(t, store.Save(ctx, st))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc, "lastRun")
	assert.Equal(t, "1.0", doc["version"])
	assert.Equal(t, "2025-06-01T12:00:00Z", doc["global"])

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceState{Offset: 5000, Timestamp: testNow}, loaded.Get("huggingface"))
	require.NotNil(t, loaded.Global)
	assert.True(t, testNow.Equal(*loaded.Global))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileStateStoreRejectsTraversal(t *testing.T) {
	_, err := NewFileStateStore("../../etc/state.json")
	assert.ErrorIs(t, err, ErrPathTraversal)
}

func TestFileStateStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	store, err := NewFileStateStore(path)
	require.NoError(t, err)

	_, err = store.Load(context.Background())
	assert.Error(t, err)
}

func TestObjectStateStore(t *testing.T) {
	ctx := context.Background()
	objects, err := objstore.NewDirStore(t.TempDir())
	require.NoError(t, err)
	store := NewObjectStateStore(objects, "state/harvest.json")

	st, err := store.Load(ctx)
	require.NoError(t, err)
	st.Set("gh", SourceState{Offset: 10, Timestamp: testNow})
	require.NoError(t, store.Save(ctx, st))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, loaded.Get("gh").Offset)
}
