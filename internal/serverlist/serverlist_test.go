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

package serverlist

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPool_StaticEndpoint_SingleEntry(t *testing.T) {
	p := New("config.example.com:8848", false, false, "", zap.NewNop())
	defer p.Close()

	entry, err := p.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "config.example.com", entry.Host)
	assert.Equal(t, 8848, entry.Port)
	assert.Equal(t, 1, p.Len())
}

func TestPool_StaticEndpoint_DefaultPort(t *testing.T) {
	p := New("config.example.com", false, false, "", zap.NewNop())
	defer p.Close()

	entry, err := p.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8080, entry.Port)
}

func TestPool_AddressServer_ParsesOneHostPerLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("host-a:8848\nhost-b:8848\n"))
	}))
	defer srv.Close()

	host, port := splitTestServer(t, srv)
	p := New(host, false, true, "", zap.NewNop())
	p.port = port
	defer p.Close()

	entry, err := p.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "host-a", entry.Host)
	assert.Equal(t, 2, p.Len())
}

// Invariant 5: repeated Rotate calls visit every known server exactly once
// per lap before repeating.
func TestPool_Rotate_VisitsEachServerOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("host-a:1\nhost-b:1\nhost-c:1\n"))
	}))
	defer srv.Close()

	host, port := splitTestServer(t, srv)
	p := New(host, false, true, "", zap.NewNop())
	p.port = port
	defer p.Close()

	_, err := p.Current(context.Background())
	require.NoError(t, err)

	seen := make(map[string]int)
	for i := 0; i < 3; i++ {
		e, err := p.Current(context.Background())
		require.NoError(t, err)
		seen[e.Host]++
		p.Rotate()
	}
	assert.Equal(t, map[string]int{"host-a": 1, "host-b": 1, "host-c": 1}, seen)
}

func TestPool_DiscoveryFailure_RetainsPreviousList(t *testing.T) {
	fail := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("host-a:1\n"))
	}))
	defer srv.Close()

	host, port := splitTestServer(t, srv)
	p := New(host, false, true, "", zap.NewNop())
	p.port = port
	defer p.Close()

	entry, err := p.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "host-a", entry.Host)

	fail = true
	err = p.refresh(context.Background())
	assert.Error(t, err)

	entry, err = p.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "host-a", entry.Host)
}

func splitTestServer(t *testing.T, srv *httptest.Server) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}
