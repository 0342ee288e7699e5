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
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherRegistry_Add_AssignsShardByInsertionOrder(t *testing.T) {
	r := newWatcherRegistry(2)

	_, shard0 := r.Add(NewKey("t", "g", "a"), func(string, bool) {})
	_, shard1 := r.Add(NewKey("t", "g", "b"), func(string, bool) {})
	_, shard2 := r.Add(NewKey("t", "g", "c"), func(string, bool) {})

	assert.Equal(t, 0, shard0)
	assert.Equal(t, 0, shard1)
	assert.Equal(t, 1, shard2)
}

// Scenario S6: 4000 subscriptions over a 3000-shard size land 3000 in shard
// 0 and 1000 in shard 1.
func TestWatcherRegistry_ShardBoundary_MatchesShardSize(t *testing.T) {
	r := newWatcherRegistry(3000)
	for i := 0; i < 4000; i++ {
		r.Add(NewKey("t", "g", "d"+strconv.Itoa(i)), func(string, bool) {})
	}
	assert.Len(t, r.SnapshotShard(0), 3000)
	assert.Len(t, r.SnapshotShard(1), 1000)
	assert.Equal(t, 2, r.ShardCount())
}

func TestWatcherRegistry_Add_SameKeyReusesSubscriptionAndShard(t *testing.T) {
	r := newWatcherRegistry(1)
	key := NewKey("t", "g", "d")

	_, shardA := r.Add(key, func(string, bool) {})
	_, shardB := r.Add(key, func(string, bool) {})

	assert.Equal(t, shardA, shardB)
	subs := r.SnapshotShard(shardA)
	require.Len(t, subs, 1)
	assert.Len(t, subs[0].callbacks, 2)
}

func TestWatcherRegistry_Remove_LeavesOtherCallbacksOnKey(t *testing.T) {
	r := newWatcherRegistry(10)
	key := NewKey("t", "g", "d")

	h1, _ := r.Add(key, func(string, bool) {})
	r.Add(key, func(string, bool) {})

	r.Remove(h1)
	subs := r.SnapshotShard(0)
	require.Len(t, subs, 1)
	assert.Len(t, subs[0].callbacks, 1)
}

// A subscription whose callback list empties must never be left live.
func TestWatcherRegistry_Remove_LastCallbackDropsSubscription(t *testing.T) {
	r := newWatcherRegistry(10)
	key := NewKey("t", "g", "d")
	h, _ := r.Add(key, func(string, bool) {})

	r.Remove(h)
	assert.Empty(t, r.SnapshotShard(0))
	assert.Equal(t, 0, r.ShardCount())
}

func TestWatcherRegistry_RemoveKey_DropsAllCallbacks(t *testing.T) {
	r := newWatcherRegistry(10)
	key := NewKey("t", "g", "d")
	r.Add(key, func(string, bool) {})
	r.Add(key, func(string, bool) {})

	r.RemoveKey(key)
	assert.Empty(t, r.SnapshotShard(0))
}

func TestWatcherRegistry_UpdateObserved_SetsLastMD5(t *testing.T) {
	r := newWatcherRegistry(10)
	key := NewKey("t", "g", "d")
	r.Add(key, func(string, bool) {})

	r.updateObserved(key, "abc123")
	subs := r.SnapshotShard(0)
	require.Len(t, subs, 1)
	assert.Equal(t, "abc123", subs[0].lastMD5)
}

func TestWatcherRegistry_SnapshotShard_IsStableCopy(t *testing.T) {
	r := newWatcherRegistry(10)
	key := NewKey("t", "g", "d")
	r.Add(key, func(string, bool) {})

	snap := r.SnapshotShard(0)
	require.Len(t, snap, 1)
	r.Add(NewKey("t", "g", "e"), func(string, bool) {})

	assert.Len(t, snap, 1)
}
