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

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/acm-sdk/acm-go/internal/dispatch"
	"github.com/acm-sdk/acm-go/internal/kms"
	"github.com/acm-sdk/acm-go/internal/serverlist"
	"github.com/acm-sdk/acm-go/internal/signer"
	"github.com/acm-sdk/acm-go/internal/snapshot"
	"github.com/acm-sdk/acm-go/internal/transport"
)

// Client fetches, publishes and watches configuration items served by the
// control plane. A Client is safe for concurrent use by multiple
// goroutines.
type Client struct {
	opts *options

	pool       *serverlist.Pool
	transport  *transport.Client
	store      *snapshot.Store
	kms        *kms.Client
	registry   *watcherRegistry
	dispatcher *dispatch.Pool

	logger *zap.Logger

	shardMu sync.Mutex
	shards  map[int]*pollerShard

	closed *atomic.Bool
	wg     sync.WaitGroup
}

// New connects a Client to the given endpoint: either the address-server
// discovery endpoint (default), or a single host[:port] when
// WithStaticServers is set.
func New(endpoint string, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt.apply(o)
	}
	if o.tenant == "" {
		o.tenant = DefaultTenant
	}

	pool := serverlist.New(endpoint, o.tlsEnabled, o.addressMode, o.unitName, o.logger)

	var credSource signer.Source
	switch {
	case o.credSource != nil:
		credSource = o.credSource
	case o.credentials != nil:
		credSource = signer.StaticSource{Credential: *o.credentials}
	default:
		o.authEnabled = false
		credSource = signer.StaticSource{}
	}
	sign := signer.New(credSource)

	transportClient := transport.New(pool, sign, o.authEnabled, o.appName, o.logger)
	store := snapshot.NewOS(o.snapshotBase, o.failoverBase, o.logger)
	kmsClient := kms.New(o.kmsEnabled, o.kmsKeyID, o.kmsEnvelope)

	c := &Client{
		opts:       o,
		pool:       pool,
		transport:  transportClient,
		store:      store,
		kms:        kmsClient,
		registry:   newWatcherRegistry(o.pullingConfigSize),
		dispatcher: dispatch.New(o.callbackWorkerCount, 1024, o.logger),
		logger:     o.logger,
		shards:     make(map[int]*pollerShard),
		closed:     atomic.NewBool(false),
	}

	c.logger.Info("acm client initialized", zap.String("endpoint", endpoint), zap.String("tenant", o.tenant))
	return c, nil
}

// AddWatcher registers cb to fire whenever the server-side value of
// (dataId, group) changes, including once on discovery if the key already
// has a value. deleted is true when the item was removed.
func (c *Client) AddWatcher(dataID, group string, cb func(content string, deleted bool)) WatcherHandle {
	key := NewKey(c.opts.tenant, group, dataID)
	handle, shardIndex := c.registry.Add(key, cb)
	c.ensureShard(shardIndex)
	return handle
}

// AddWatchers registers multiple callbacks on the same key in one call.
func (c *Client) AddWatchers(dataID, group string, cbs []func(content string, deleted bool)) []WatcherHandle {
	handles := make([]WatcherHandle, 0, len(cbs))
	for _, cb := range cbs {
		handles = append(handles, c.AddWatcher(dataID, group, cb))
	}
	return handles
}

// RemoveWatcher removes exactly the registration identified by handle.
func (c *Client) RemoveWatcher(handle WatcherHandle) {
	c.registry.Remove(handle)
}

// RemoveWatchers removes every callback registered on (dataId, group).
func (c *Client) RemoveWatchers(dataID, group string) {
	key := NewKey(c.opts.tenant, group, dataID)
	c.registry.RemoveKey(key)
}

// ensureShard lazily spawns poller shard i if it isn't already running.
// Shards exist lazily and may be respawned after their subscription set
// empties out.
func (c *Client) ensureShard(i int) {
	c.shardMu.Lock()
	defer c.shardMu.Unlock()
	c.ensureShardLocked(i)
}

// ensureShardLocked is ensureShard's body, callable while shardMu is
// already held (the exiting shard goroutine re-enters it to close the
// TOCTOU window between deciding to exit and removing itself from
// c.shards).
func (c *Client) ensureShardLocked(i int) {
	if _, running := c.shards[i]; running {
		return
	}

	shard := newPollerShard(i, c)
	c.shards[i] = shard
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		shard.run()

		c.shardMu.Lock()
		defer c.shardMu.Unlock()
		delete(c.shards, shard.index)

		// A subscription may have landed on this shard in the window
		// between run() observing an empty set and this goroutine
		// taking shardMu; an ensureShard call racing that window would
		// have seen the (stale) entry and skipped spawning a
		// replacement, so recheck here and respawn if needed.
		if !c.closed.Load() && len(c.registry.SnapshotShard(shard.index)) > 0 {
			c.ensureShardLocked(shard.index)
		}
	}()
}

// Close cancels all poller shards, which aborts their in-flight long polls,
// waits for them to exit, then stops the server-list refresher and drains
// and joins the callback dispatcher pool. The wait for the shards has no
// deadline of its own.
func (c *Client) Close() {
	if !c.closed.CAS(false, true) {
		return
	}

	c.shardMu.Lock()
	for _, shard := range c.shards {
		shard.stop()
	}
	c.shardMu.Unlock()

	c.wg.Wait()
	c.pool.Close()
	c.dispatcher.Close()
}
