// Copyright (C) 2023 Andrew Dunstall
//
// Registry is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Registry is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package acm

import (
	"sync"

	"github.com/google/uuid"
)

// WatcherHandle is an opaque handle returned by AddWatcher, used to remove
// exactly that registration later. Handles (not function values) are the
// unit of removal, sidestepping the need for value-equality on closures.
type WatcherHandle struct {
	id  uuid.UUID
	key Key
}

type callbackEntry struct {
	handle   WatcherHandle
	callback func(content string, deleted bool)
}

// subscription is a key, its ordered callbacks, and the last-known
// content hash.
type subscription struct {
	key           Key
	callbacks     []callbackEntry
	lastMD5       string
	assignedShard int
}

// watcherRegistry owns the set of (key) -> subscription mappings plus a
// deterministic, non-rebalancing shard assignment.
//
// A single mutex guards the map and is released before any I/O; mutation
// methods return what the caller (the poller engine) needs without
// re-entering the lock.
type watcherRegistry struct {
	mu            sync.Mutex
	subscriptions map[Key]*subscription
	insertOrder   int
	shardSize     int
}

func newWatcherRegistry(shardSize int) *watcherRegistry {
	if shardSize < 1 {
		shardSize = 3000
	}
	return &watcherRegistry{
		subscriptions: make(map[Key]*subscription),
		shardSize:     shardSize,
	}
}

// Add finds-or-creates the Subscription for key, assigns its shard
// deterministically by insertion order on first creation, and appends cb.
// Duplicate callbacks are allowed: adding the same callback twice means it
// fires twice per change.
func (r *watcherRegistry) Add(key Key, cb func(content string, deleted bool)) (WatcherHandle, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subscriptions[key]
	if !ok {
		sub = &subscription{
			key:           key,
			assignedShard: r.insertOrder / r.shardSize,
		}
		r.insertOrder++
		r.subscriptions[key] = sub
	}

	handle := WatcherHandle{id: uuid.New(), key: key}
	sub.callbacks = append(sub.callbacks, callbackEntry{handle: handle, callback: cb})
	return handle, sub.assignedShard
}

// Remove removes the registration identified by handle. If the
// subscription's callback list becomes empty, the subscription itself is
// removed: a zero-callback subscription is never left live.
func (r *watcherRegistry) Remove(handle WatcherHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subscriptions[handle.key]
	if !ok {
		return
	}
	for i, entry := range sub.callbacks {
		if entry.handle.id == handle.id {
			sub.callbacks = append(sub.callbacks[:i], sub.callbacks[i+1:]...)
			break
		}
	}
	if len(sub.callbacks) == 0 {
		delete(r.subscriptions, handle.key)
	}
}

// RemoveKey removes every callback registered on key (remove_watchers).
func (r *watcherRegistry) RemoveKey(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subscriptions, key)
}

// SnapshotShard returns a stable copy of the subscriptions assigned to
// shard i, for the poller to iterate without holding the registry lock.
func (r *watcherRegistry) SnapshotShard(i int) []*subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*subscription
	for _, sub := range r.subscriptions {
		if sub.assignedShard == i {
			cp := *sub
			cp.callbacks = append([]callbackEntry(nil), sub.callbacks...)
			out = append(out, &cp)
		}
	}
	return out
}

// ShardCount returns 1 + the highest shard index currently populated. The
// client spawns shards from the index Add returns, not from this count.
func (r *watcherRegistry) ShardCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	max := -1
	for _, sub := range r.subscriptions {
		if sub.assignedShard > max {
			max = sub.assignedShard
		}
	}
	return max + 1
}

// updateObserved records the last-known md5 for key after a poll cycle
// observes it as changed, matching whichever subscription struct is live
// in the registry (not the shard snapshot copy).
func (r *watcherRegistry) updateObserved(key Key, md5 string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.subscriptions[key]; ok {
		sub.lastMD5 = md5
	}
}
