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

// This file implements the long-poll engine: one background poller per
// shard, driving the long-poll protocol, detecting changes, re-fetching
// values, and handing them to the callback dispatcher.

package acm

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/acm-sdk/acm-go/internal/dispatch"
	"github.com/acm-sdk/acm-go/internal/transport"
)

const (
	wordSeparator = "\x02"
	lineSeparator = "\x01"
)

type pollerShard struct {
	index  int
	client *Client
	ctx    context.Context
	cancel context.CancelFunc
}

func newPollerShard(index int, c *Client) *pollerShard {
	ctx, cancel := context.WithCancel(context.Background())
	return &pollerShard{index: index, client: c, ctx: ctx, cancel: cancel}
}

func (p *pollerShard) stop() {
	p.cancel()
}

// run drives the shard's poll loop until its subscription set empties out
// or the client is closed. Shards are respawned lazily by ensureShard.
func (p *pollerShard) run() {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 60 * time.Second
	bo.MaxElapsedTime = 0

	for {
		if p.ctx.Err() != nil {
			return
		}

		subs := p.client.registry.SnapshotShard(p.index)
		if len(subs) == 0 {
			return
		}

		changed, err := p.pollOnce(subs)
		if err != nil {
			p.client.logger.Warn("poll cycle failed, backing off",
				zap.Int("shard", p.index), zap.Error(err))
			if !p.sleep(bo.NextBackOff()) {
				return
			}
			continue
		}
		bo.Reset()

		for _, ch := range changed {
			p.handleChange(ch, subs)
		}
	}
}

func (p *pollerShard) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-p.ctx.Done():
		return false
	}
}

// changedEntry is a single decoded long-poll response record.
type changedEntry struct {
	dataID string
	group  string
	tenant string
}

func (p *pollerShard) pollOnce(subs []*subscription) ([]changedEntry, error) {
	var payload strings.Builder
	for _, sub := range subs {
		payload.WriteString(sub.key.DataID)
		payload.WriteString(wordSeparator)
		payload.WriteString(sub.key.Group)
		payload.WriteString(wordSeparator)
		payload.WriteString(sub.lastMD5)
		if ns := sub.key.namespace(); ns != "" {
			payload.WriteString(wordSeparator)
			payload.WriteString(ns)
		}
		payload.WriteString(lineSeparator)
	}

	pullingTimeout := p.client.opts.pullingTimeout
	requestTimeout := pullingTimeout + 10*time.Second

	primary := subs[0].key
	resp, err := p.client.transport.Request(
		p.ctx, http.MethodPost, "/diamond-server/config.co",
		nil,
		map[string]string{"Probe-Modify-Request": payload.String()},
		map[string]string{"Long-Pulling-Timeout": strconv.FormatInt(pullingTimeout.Milliseconds(), 10)},
		requestTimeout,
		transport.SigningContext{Tenant: primary.namespace(), Group: primary.Group},
	)
	if err != nil {
		return nil, err
	}
	return parsePullingResult(resp.Body)
}

// parsePullingResult percent-decodes the whole body first, then splits on
// the line separator and each record on the word separator; the
// decode-then-split order is load-bearing.
func parsePullingResult(body []byte) ([]changedEntry, error) {
	if len(body) == 0 {
		return nil, nil
	}
	decoded, err := url.QueryUnescape(string(body))
	if err != nil {
		return nil, err
	}

	var entries []changedEntry
	for _, line := range strings.Split(decoded, lineSeparator) {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, wordSeparator)
		entry := changedEntry{dataID: fields[0]}
		if len(fields) > 1 {
			entry.group = fields[1]
		}
		if len(fields) > 2 {
			entry.tenant = fields[2]
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (p *pollerShard) handleChange(ch changedEntry, subs []*subscription) {
	tenant := ch.tenant
	if tenant == "" {
		tenant = DefaultTenant
	}
	key := Key{Tenant: tenant, Group: ch.group, DataID: ch.dataID}

	var sub *subscription
	for _, s := range subs {
		if s.key.Equal(key) {
			sub = s
			break
		}
	}
	if sub == nil {
		return
	}

	content, err := p.client.getRaw(p.ctx, key, p.client.opts.defaultTimeout, true, true)
	if err != nil {
		if err == ErrConfigNotFound {
			p.client.registry.updateObserved(key, "")
			p.dispatchAll(sub, "", true)
			return
		}
		// Transient failure: leave last_md5 unchanged so the next cycle
		// retries the fetch.
		p.client.logger.Warn("re-fetch after change failed", zap.Object("key", newKeyLogger(key)), zap.Error(err))
		return
	}

	md5 := contentMD5(content)
	p.client.registry.updateObserved(key, md5)

	plain, err := p.client.kms.DecryptIfNeeded(p.ctx, key.Ciphered(), content)
	if err != nil {
		p.client.logger.Error("decrypt on notify failed", zap.Object("key", newKeyLogger(key)), zap.Error(err))
		return
	}
	p.dispatchAll(sub, plain, false)
}

func (p *pollerShard) dispatchAll(sub *subscription, content string, deleted bool) {
	for _, entry := range sub.callbacks {
		cb := entry.callback
		p.client.dispatcher.Submit(dispatch.Job{
			Key: sub.key.String(),
			Callback: func(c string) {
				cb(c, deleted)
			},
			Content: content,
		})
	}
}
