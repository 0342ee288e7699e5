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

// Package transport implements the HTTP client façade: a single entry
// point that chooses a server from the pool, signs the request, and
// rotates to the next server on transport failure or 5xx.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	resty "github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/acm-sdk/acm-go/internal/serverlist"
	"github.com/acm-sdk/acm-go/internal/signer"
)

const (
	userAgentFmt  = "ACM-go-%s"
	clientVersion = "1.0.0"
)

// SigningContext carries the tenant/group scope used to compute the
// auth headers for a single call.
type SigningContext struct {
	Tenant string
	Group  string
}

// Response is the decoded result of a successful call.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Client is the HTTP client façade.
type Client struct {
	pool        *serverlist.Pool
	signer      *signer.Signer
	authEnabled bool
	appName     string
	http        *resty.Client
	logger      *zap.Logger
}

func New(pool *serverlist.Pool, sig *signer.Signer, authEnabled bool, appName string, logger *zap.Logger) *Client {
	rc := resty.New()
	rc.SetHeader("User-Agent", fmt.Sprintf(userAgentFmt, clientVersion))
	rc.SetHeader("Accept-Encoding", "gzip,deflate")
	rc.SetHeader("Client-Version", clientVersion)
	rc.SetHeader("Diamond-Client-AppName", appName)
	// Rotation across the pool is driven explicitly by Request below, so
	// resty's own retry machinery is disabled.
	rc.SetRetryCount(0)

	return &Client{
		pool:        pool,
		signer:      sig,
		authEnabled: authEnabled,
		appName:     appName,
		http:        rc,
		logger:      logger,
	}
}

// Request issues method against path, trying successive servers from the
// pool on connection error, timeout, or 5xx, up to len(pool) attempts.
// A 4xx response propagates immediately as *HTTPError (defined below)
// without rotation.
func (c *Client) Request(
	ctx context.Context,
	method, path string,
	query map[string]string,
	form map[string]string,
	headers map[string]string,
	timeout time.Duration,
	sign SigningContext,
) (*Response, error) {
	tries := 0
	total := c.pool.Len()
	if total == 0 {
		total = 1
	}

	for {
		entry, err := c.pool.Current(ctx)
		if err != nil {
			return nil, fmt.Errorf("acm: no server available: %w", err)
		}

		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := c.doOnce(reqCtx, entry.Scheme()+"://"+entry.Addr(), method, path, query, form, headers, sign)
		cancel()

		if err == nil {
			return resp, nil
		}

		if httpErr, ok := err.(*HTTPError); ok {
			if httpErr.Status < 500 {
				return nil, err
			}
		}

		tries++
		total = c.pool.Len()
		if tries >= total {
			c.logger.Error("all servers exhausted", zap.Int("tries", tries))
			return nil, fmt.Errorf("acm: no server available: %w", err)
		}
		c.pool.Rotate()
		c.logger.Warn("server unavailable, rotating", zap.String("server", entry.Addr()), zap.Error(err))
	}
}

func (c *Client) doOnce(
	ctx context.Context,
	baseURL, method, path string,
	query, form, headers map[string]string,
	sign SigningContext,
) (*Response, error) {
	req := c.http.R().SetContext(ctx)
	if query != nil {
		req.SetQueryParams(query)
	}
	if form != nil {
		req.SetFormData(form)
	}
	for k, v := range headers {
		req.SetHeader(k, v)
	}

	if c.authEnabled {
		authHeaders, err := c.signer.Headers(ctx, sign.Tenant, sign.Group)
		if err != nil {
			return nil, fmt.Errorf("acm: sign request: %w", err)
		}
		for k, v := range authHeaders {
			req.SetHeader(k, v)
		}
	}

	var resp *resty.Response
	var err error
	switch method {
	case http.MethodGet:
		resp, err = req.Get(baseURL + path)
	case http.MethodPost:
		resp, err = req.Post(baseURL + path)
	default:
		return nil, fmt.Errorf("acm: unsupported method %s", method)
	}
	if err != nil {
		return nil, fmt.Errorf("acm: transport: %w", err)
	}

	status := resp.StatusCode()
	if status >= 400 {
		return nil, &HTTPError{Status: status, Body: string(resp.Body())}
	}

	return &Response{
		Status: status,
		Header: resp.Header(),
		Body:   resp.Body(),
	}, nil
}

// HTTPError mirrors the root package's HTTPError shape so callers can type-
// assert across the package boundary without importing acm (which would
// create an import cycle); acm.HTTPError is constructed from this at the
// call site.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("acm: http status %d", e.Status)
}
