package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/solaius/model-harvester/pkg/entity"
	"github.com/solaius/model-harvester/pkg/objstore"
)

// DefaultShards is the shard count used when none is configured.
const DefaultShards = 16

// ShardBackend partitions the registry into JSON shard objects keyed by an
// FNV hash of the entity id.
type ShardBackend struct {
	store  objstore.Store
	prefix string
	shards int
}

// NewShardBackend creates a ShardBackend writing below prefix in store.
func NewShardBackend(store objstore.Store, prefix string, shards int) *ShardBackend {
	if shards <= 0 {
		shards = DefaultShards
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "registry"
	}
	return &ShardBackend{store: store, prefix: prefix, shards: shards}
}

// ShardFor returns the shard index of id.
func (b *ShardBackend) ShardFor(id string) int {
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32() % uint32(b.shards))
}

func (b *ShardBackend) key(shard int) string {
	return fmt.Sprintf("%s/shard-%03d.json", b.prefix, shard)
}

// LoadAll reads every shard present under the prefix, including shards
// written with a different shard count.
func (b *ShardBackend) LoadAll(ctx context.Context) ([]*entity.Entity, error) {
	keys, err := b.store.List(ctx, b.prefix+"/shard-")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []*entity.Entity
	for _, key := range keys {
		data, err := b.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		var shard []*entity.Entity
		if err := json.Unmarshal(data, &shard); err != nil {
			return nil, fmt.Errorf("decode shard %s: %w", key, err)
		}
		for _, e := range shard {
			if e == nil || seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			out = append(out, e)
		}
	}
	return out, nil
}

// SaveAll rewrites every shard, including empty ones, so a shard never holds
// stale entities.
func (b *ShardBackend) SaveAll(ctx context.Context, entities []*entity.Entity) error {
	buckets := make([][]*entity.Entity, b.shards)
	for _, e := range entities {
		i := b.ShardFor(e.ID)
		buckets[i] = append(buckets[i], e)
	}
	for i, bucket := range buckets {
		if bucket == nil {
			bucket = []*entity.Entity{}
		}
		data, err := json.Marshal(bucket)
		if err != nil {
			return fmt.Errorf("encode shard %d: %w", i, err)
		}
		if err := b.store.Put(ctx, b.key(i), data); err != nil {
			return err
		}
	}
	return nil
}
