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

// This file implements the config read/write path: composing the server
// pool, signer, transport façade, snapshot/failover store and KMS
// envelope into get/publish/remove/list_all, wrapping each HTTP call with
// a call-then-check-response-then-log shape.

package acm

import (
	"context"
	"crypto/md5" //nolint:gosec // wire protocol dictates MD5 content hashing
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/acm-sdk/acm-go/internal/transport"
)

type getConfig struct {
	timeout    time.Duration
	noSnapshot *bool
}

// GetOption overrides a single Get call's defaults.
type GetOption func(*getConfig)

// WithGetTimeout overrides the client's default_timeout for one call.
func WithGetTimeout(d time.Duration) GetOption {
	return func(c *getConfig) { c.timeout = d }
}

// WithSkipSnapshot overrides the client's no_snapshot setting for one call.
func WithSkipSnapshot(v bool) GetOption {
	return func(c *getConfig) { c.noSnapshot = &v }
}

// Get returns the current value of a config item, following the three-tier
// read path: failover overlay, remote fetch (writing the snapshot on
// success), then snapshot cache. Returns ErrConfigNotFound if the item does
// not exist upstream, or ErrNoServerAvailable if every tier is exhausted.
func (c *Client) Get(ctx context.Context, dataID, group string, opts ...GetOption) (string, error) {
	key := NewKey(c.opts.tenant, group, dataID)
	cfg := getConfig{timeout: c.opts.defaultTimeout}
	if c.opts.noSnapshot {
		cfg.noSnapshot = boolPtr(true)
	}
	for _, o := range opts {
		o(&cfg)
	}
	noSnapshot := c.opts.noSnapshot
	if cfg.noSnapshot != nil {
		noSnapshot = *cfg.noSnapshot
	}

	content, err := c.getRaw(ctx, key, cfg.timeout, noSnapshot, false)
	if err != nil {
		return "", err
	}
	plain, err := c.kms.DecryptIfNeeded(ctx, key.Ciphered(), content)
	if err != nil {
		return "", &DecryptionError{Key: key, Err: err}
	}
	return plain, nil
}

// getRaw implements the read path's priority ladder: failover overlay,
// remote fetch, snapshot cache. skipFailover is used only by the poller
// engine, which bypasses the failover overlay when re-fetching a key it
// has just observed as changed.
func (c *Client) getRaw(ctx context.Context, key Key, timeout time.Duration, noSnapshot, skipFailover bool) (string, error) {
	path := key.path()

	if !skipFailover {
		if content, ok := c.store.ReadFailover(path); ok {
			c.logger.Debug("get: failover hit", zap.Object("key", newKeyLogger(key)))
			return content, nil
		}
	}

	resp, err := c.transport.Request(
		ctx, http.MethodGet, "/diamond-server/config.co",
		map[string]string{"dataId": key.DataID, "group": key.Group, "tenant": key.namespace()},
		nil, nil, timeout,
		transport.SigningContext{Tenant: key.namespace(), Group: key.Group},
	)
	if err == nil {
		content := string(resp.Body)
		c.store.WriteSnapshot(path, content)
		return content, nil
	}

	if httpErr, ok := err.(*transport.HTTPError); ok {
		switch httpErr.Status {
		case http.StatusNotFound:
			c.store.DeleteSnapshot(path)
			return "", ErrConfigNotFound
		case http.StatusForbidden:
			return "", &HTTPError{Status: httpErr.Status, Body: httpErr.Body}
		default:
			if httpErr.Status >= 400 && httpErr.Status < 500 {
				return "", &HTTPError{Status: httpErr.Status, Body: httpErr.Body}
			}
		}
	}

	if noSnapshot {
		return "", ErrNoServerAvailable
	}

	if content, ok := c.store.ReadSnapshot(path); ok {
		c.logger.Debug("get: snapshot fallback hit", zap.Object("key", newKeyLogger(key)))
		return content, nil
	}
	return "", ErrNoServerAvailable
}

// Publish publishes content for a config item, creating it if absent.
// Content must be non-empty; use Remove to delete an item.
func (c *Client) Publish(ctx context.Context, dataID, group, content string, opts ...GetOption) error {
	if content == "" {
		return fmt.Errorf("acm: publish: content must be non-empty, use Remove instead")
	}
	key := NewKey(c.opts.tenant, group, dataID)
	cfg := getConfig{timeout: c.opts.defaultTimeout}
	for _, o := range opts {
		o(&cfg)
	}

	stored, err := c.kms.EncryptIfNeeded(ctx, key.Ciphered(), content)
	if err != nil {
		return &EncryptionError{Key: key, Err: err}
	}

	form := map[string]string{
		"dataId":  key.DataID,
		"group":   key.Group,
		"tenant":  key.namespace(),
		"content": stored,
		"appName": c.opts.appName,
	}
	_, err = c.transport.Request(
		ctx, http.MethodPost, "/diamond-server/basestone.do?method=syncUpdateAll",
		nil, form, nil, cfg.timeout,
		transport.SigningContext{Tenant: key.namespace(), Group: key.Group},
	)
	if err != nil {
		return translateError(err)
	}
	c.logger.Info("published config", zap.Object("key", newKeyLogger(key)))
	return nil
}

// Remove deletes a config item.
func (c *Client) Remove(ctx context.Context, dataID, group string, opts ...GetOption) error {
	key := NewKey(c.opts.tenant, group, dataID)
	cfg := getConfig{timeout: c.opts.defaultTimeout}
	for _, o := range opts {
		o(&cfg)
	}

	form := map[string]string{
		"dataId": key.DataID,
		"group":  key.Group,
		"tenant": key.namespace(),
	}
	_, err := c.transport.Request(
		ctx, http.MethodPost, "/diamond-server/datum.do?method=deleteAllDatums",
		nil, form, nil, cfg.timeout,
		transport.SigningContext{Tenant: key.namespace(), Group: key.Group},
	)
	if err != nil {
		return translateError(err)
	}
	c.logger.Info("removed config", zap.Object("key", newKeyLogger(key)))
	return nil
}

type listPage struct {
	PageItems      []Item `json:"pageItems"`
	PagesAvailable int    `json:"pagesAvailable"`
	TotalCount     int    `json:"totalCount"`
}

// ListPage fetches a single page of config items for the client's
// namespace, with content not included in the summary form used here.
func (c *Client) ListPage(ctx context.Context, page, size int) ([]Item, int, error) {
	tenant := Key{Tenant: c.opts.tenant}.namespace()
	resp, err := c.transport.Request(
		ctx, http.MethodGet, "/diamond-server/basestone.do",
		map[string]string{
			"method":   "getAllConfigByTenant",
			"tenant":   tenant,
			"pageNo":   itoa(page),
			"pageSize": itoa(size),
		},
		nil, nil, c.opts.defaultTimeout,
		transport.SigningContext{Tenant: tenant},
	)
	if err != nil {
		return nil, 0, translateError(err)
	}

	var parsed listPage
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, 0, fmt.Errorf("acm: list: decode page: %w", err)
	}
	return parsed.PageItems, parsed.PagesAvailable, nil
}

// ListAll aggregates every page for the client's namespace, applying
// filter client-side after the full aggregation.
func (c *Client) ListAll(ctx context.Context, filter ListFilter) ([]Item, error) {
	const pageSize = 200

	items, pagesAvailable, err := c.ListPage(ctx, 1, pageSize)
	if err != nil {
		return nil, err
	}
	result := filterItems(items, filter)

	for page := 2; page <= pagesAvailable; page++ {
		items, _, err := c.ListPage(ctx, page, pageSize)
		if err != nil {
			return nil, err
		}
		result = append(result, filterItems(items, filter)...)
	}
	return result, nil
}

func filterItems(items []Item, filter ListFilter) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if filter.match(it) {
			out = append(out, it)
		}
	}
	return out
}

func translateError(err error) error {
	if httpErr, ok := err.(*transport.HTTPError); ok {
		return &HTTPError{Status: httpErr.Status, Body: httpErr.Body}
	}
	// Any other transport error means every server in the pool was tried.
	return fmt.Errorf("%w: %w", ErrNoServerAvailable, err)
}

func contentMD5(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

func boolPtr(v bool) *bool { return &v }

func itoa(i int) string {
	return fmt.Sprintf("%d", i)
}
