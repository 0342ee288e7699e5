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
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePullingResult_DecodesThenSplitsOnSeparators(t *testing.T) {
	raw := url.QueryEscape("app.yaml" + wordSeparator + "DEFAULT_GROUP" + wordSeparator + "tenant-a" + lineSeparator)
	entries, err := parsePullingResult([]byte(raw))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "app.yaml", entries[0].dataID)
	assert.Equal(t, "DEFAULT_GROUP", entries[0].group)
	assert.Equal(t, "tenant-a", entries[0].tenant)
}

func TestParsePullingResult_EmptyBodyIsNoChange(t *testing.T) {
	entries, err := parsePullingResult(nil)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestParsePullingResult_MultipleLines(t *testing.T) {
	raw := url.QueryEscape(
		"a.yaml" + wordSeparator + "G" + lineSeparator +
			"b.yaml" + wordSeparator + "G" + lineSeparator,
	)
	entries, err := parsePullingResult([]byte(raw))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a.yaml", entries[0].dataID)
	assert.Equal(t, "b.yaml", entries[1].dataID)
}

// Scenario S4: AddWatcher registers a callback, the control plane reports a
// change on the next long-poll, and the callback fires exactly once with
// the new content; the subscription's last-known hash is updated to match.
func TestAddWatcher_FiresOnChange(t *testing.T) {
	const content = "v1"
	var notified atomic.Bool

	mux := http.NewServeMux()
	mux.HandleFunc("/diamond-server/config.co", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(content))
		case http.MethodPost:
			if notified.CompareAndSwap(false, true) {
				line := "app.yaml" + wordSeparator + "DEFAULT_GROUP" + wordSeparator + "tenant-a" + lineSeparator
				w.Write([]byte(url.QueryEscape(line)))
				return
			}
			// No further changes: hold briefly like a real long-poll would.
			time.Sleep(50 * time.Millisecond)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv, WithPullingTimeout(200*time.Millisecond))

	fired := make(chan string, 4)
	c.AddWatcher("app.yaml", "DEFAULT_GROUP", func(content string, deleted bool) {
		if !deleted {
			fired <- content
		}
	})

	select {
	case got := <-fired:
		assert.Equal(t, content, got)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher never fired")
	}

	key := NewKey("tenant-a", "DEFAULT_GROUP", "app.yaml")
	assert.Eventually(t, func() bool {
		subs := c.registry.SnapshotShard(0)
		for _, s := range subs {
			if s.key.Equal(key) {
				return s.lastMD5 == contentMD5(content)
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)
	assert.Len(t, fired, 0, "watcher fired more than once")
}

// A removed watcher's shard must eventually stop polling once its
// subscription set empties out.
func TestRemoveWatcher_ShardStopsPolling(t *testing.T) {
	var polls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/diamond-server/config.co", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			polls.Add(1)
			time.Sleep(20 * time.Millisecond)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv, WithPullingTimeout(50*time.Millisecond))
	handle := c.AddWatcher("app.yaml", "DEFAULT_GROUP", func(string, bool) {})

	assert.Eventually(t, func() bool { return polls.Load() > 0 }, time.Second, 10*time.Millisecond)

	c.RemoveWatcher(handle)
	assert.Eventually(t, func() bool {
		c.shardMu.Lock()
		defer c.shardMu.Unlock()
		return len(c.shards) == 0
	}, time.Second, 10*time.Millisecond)
}

// Regression test for the shard-respawn TOCTOU: removing the only watcher
// on a shard and immediately adding a new one assigned to that same shard
// must not leave the new subscription unpolled, even if the add races the
// old shard goroutine's own exit-and-cleanup.
func TestAddWatcher_ImmediatelyAfterRemove_SameShardKeepsPolling(t *testing.T) {
	var polls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/diamond-server/config.co", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			polls.Add(1)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv, WithPullingTimeout(10*time.Millisecond))
	handle := c.AddWatcher("a.yaml", "DEFAULT_GROUP", func(string, bool) {})
	assert.Eventually(t, func() bool { return polls.Load() > 0 }, time.Second, 5*time.Millisecond)

	before := polls.Load()
	c.RemoveWatcher(handle)
	c.AddWatcher("b.yaml", "DEFAULT_GROUP", func(string, bool) {})

	assert.Eventually(t, func() bool { return polls.Load() > before }, time.Second, 5*time.Millisecond)
}
