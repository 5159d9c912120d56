// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storeclient

import (
	"sync"

	"github.com/tebowy/nix/lib/worker"
	"github.com/zeebo/blake3"
)

// defaultCacheShardCount is the number of independent mutex-protected
// buckets a Client's path-info cache is split across. Striping
// avoids a single global lock serializing every concurrent
// QueryPathInfo caller (spec.md §5: "the process-wide path-info cache
// is invalidated en bloc when the store is mutated").
const defaultCacheShardCount = 32

// pathInfoCache is a cache of ValidPathInfo keyed by StorePath,
// sharded by a fast non-cryptographic hash of the path's string form
// so concurrent readers of unrelated paths never contend on the same
// mutex. Each Client holds its own; Clients in the same process do
// not share one.
type pathInfoCache struct {
	shards []cacheShard
}

type cacheShard struct {
	mu      sync.RWMutex
	entries map[string]worker.ValidPathInfo
}

func newPathInfoCache(shardCount int) *pathInfoCache {
	if shardCount <= 0 {
		shardCount = defaultCacheShardCount
	}
	c := &pathInfoCache{shards: make([]cacheShard, shardCount)}
	for i := range c.shards {
		c.shards[i].entries = make(map[string]worker.ValidPathInfo)
	}
	return c
}

// shardFor picks a shard index for key using BLAKE3 as a fast,
// unkeyed hash — no domain separation is needed here since this is
// pure load balancing across buckets, not a security boundary.
func (c *pathInfoCache) shardFor(key string) *cacheShard {
	sum := blake3.Sum256([]byte(key))
	var idx uint64
	for i := 0; i < 8; i++ {
		idx = idx<<8 | uint64(sum[i])
	}
	return &c.shards[idx%uint64(len(c.shards))]
}

func (c *pathInfoCache) get(path worker.StorePath) (worker.ValidPathInfo, bool) {
	shard := c.shardFor(path.String())
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	info, ok := shard.entries[path.String()]
	return info, ok
}

func (c *pathInfoCache) put(info worker.ValidPathInfo) {
	shard := c.shardFor(info.Path.String())
	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.entries[info.Path.String()] = info
}

// invalidateAll clears every shard. Called after any operation that
// mutates the store in a way existing cache entries can no longer be
// trusted to reflect (e.g. CollectGarbage).
func (c *pathInfoCache) invalidateAll() {
	for i := range c.shards {
		c.shards[i].mu.Lock()
		c.shards[i].entries = make(map[string]worker.ValidPathInfo)
		c.shards[i].mu.Unlock()
	}
}
