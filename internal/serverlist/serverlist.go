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

// Package serverlist implements the control-plane server-address pool:
// discovery via an optional address server, and rotation on failure.
package serverlist

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

const (
	addressServerPathFmt = "http://%s:%d/diamond-server/diamond"
	defaultDataPort      = 8080
	addressServerTimeout = 3 * time.Second
	refreshInterval      = 30 * time.Second
)

// Entry is a single control-plane host the pool may route requests to.
type Entry struct {
	Host string
	Port int
	TLS  bool
}

func (e Entry) Equal(o Entry) bool {
	return e.Host == o.Host && e.Port == o.Port && e.TLS == o.TLS
}

func (e Entry) Addr() string {
	return e.Host + ":" + strconv.Itoa(e.Port)
}

func (e Entry) Scheme() string {
	if e.TLS {
		return "https"
	}
	return "http"
}

// Pool resolves and rotates the list of control-plane hosts, tracking the
// current-preferred host.
//
// On first use, if address-server discovery is enabled, the pool issues
// a GET against the configured endpoint and parses one host per line. If
// disabled, the configured endpoint is parsed as a single host[:port] and
// used directly. Discovery is re-run every 30s in the background once
// started.
type Pool struct {
	endpoint    string
	port        int
	tls         bool
	addressMode bool
	unitName    string

	httpClient *http.Client
	logger     *zap.Logger

	mu          sync.Mutex
	entries     []Entry
	index       int
	everFetched bool
	lastFailure map[Entry]time.Time

	refreshOnce sync.Once
	stopCh      chan struct{}
}

func New(endpoint string, tls, addressMode bool, unitName string, logger *zap.Logger) *Pool {
	port := defaultDataPort
	if tls {
		port = 443
	}
	return &Pool{
		endpoint:    endpoint,
		port:        port,
		tls:         tls,
		addressMode: addressMode,
		unitName:    unitName,
		httpClient:  &http.Client{Timeout: addressServerTimeout},
		logger:      logger,
		lastFailure: make(map[Entry]time.Time),
		stopCh:      make(chan struct{}),
	}
}

// Current returns the entry at the current index, discovering the list
// lazily (and starting the background refresher) on first call.
func (p *Pool) Current(ctx context.Context) (Entry, error) {
	p.mu.Lock()
	needsInit := p.entries == nil
	p.mu.Unlock()

	if needsInit {
		if err := p.refresh(ctx); err != nil {
			p.mu.Lock()
			ok := p.everFetched
			p.mu.Unlock()
			if !ok {
				return Entry{}, fmt.Errorf("acm: server pool: %w", err)
			}
		}
		p.refreshOnce.Do(func() {
			if p.addressMode {
				go p.refreshLoop()
			}
		})
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.entries) == 0 {
		return Entry{}, fmt.Errorf("acm: server pool: no server available")
	}
	return p.entries[p.index], nil
}

// Rotate advances the index by one modulo the list length and records a
// failure timestamp against the previously-current entry for diagnostics.
func (p *Pool) Rotate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.entries) == 0 {
		return
	}
	failed := p.entries[p.index]
	p.lastFailure[failed] = time.Now()
	p.index = (p.index + 1) % len(p.entries)
}

// Len reports how many servers are currently known.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Close stops the background discovery refresher.
func (p *Pool) Close() {
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
}

func (p *Pool) refreshLoop() {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), addressServerTimeout)
			if err := p.refresh(ctx); err != nil {
				p.logger.Warn("failed to refresh server list", zap.Error(err))
			}
			cancel()
		}
	}
}

func (p *Pool) refresh(ctx context.Context) error {
	entries, err := p.discover(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		p.logger.Warn("empty server list from discovery, keeping previous list")
		return fmt.Errorf("acm: empty server list")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	previous := Entry{}
	if len(p.entries) > 0 {
		previous = p.entries[p.index]
	}
	p.entries = entries
	p.index = 0
	p.everFetched = true
	for i, e := range entries {
		if e.Equal(previous) {
			p.index = i
			break
		}
	}
	return nil
}

func (p *Pool) discover(ctx context.Context) ([]Entry, error) {
	if !p.addressMode {
		return p.parseStatic(p.endpoint)
	}

	url := fmt.Sprintf(addressServerPathFmt, p.endpoint, p.port)
	if p.unitName != "" {
		url += "?unit=" + p.unitName
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("acm: address server request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("acm: address server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("acm: address server: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("acm: address server: read body: %w", err)
	}

	var entries []Entry
	var parseErrs error
	for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		host, port, err := p.splitHostPort(line)
		if err != nil {
			parseErrs = multierror.Append(parseErrs, err)
			continue
		}
		entries = append(entries, Entry{Host: host, Port: port, TLS: p.tls})
	}
	if len(entries) == 0 && parseErrs != nil {
		return nil, parseErrs
	}
	return entries, nil
}

func (p *Pool) parseStatic(endpoint string) ([]Entry, error) {
	host, port, err := p.splitHostPort(endpoint)
	if err != nil {
		return nil, err
	}
	return []Entry{{Host: host, Port: port, TLS: p.tls}}, nil
}

func (p *Pool) splitHostPort(s string) (string, int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) == 1 {
		return parts[0], p.port, nil
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, fmt.Errorf("acm: bad server address %q: %w", s, err)
	}
	return parts[0], port, nil
}
