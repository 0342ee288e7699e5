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

// Package signer computes per-request HMAC signatures and assembles the
// auth headers the control plane expects.
package signer

import (
	"context"
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // control-plane protocol mandates HMAC-SHA1
	"encoding/base64"
	"strconv"
	"sync"
	"time"
)

// Credential is a (possibly short-lived) access key pair.
type Credential struct {
	AccessKey     string
	SecretKey     string
	SecurityToken string
	Expiry        time.Time // zero value means "does not expire"
}

func (c Credential) expired() bool {
	return !c.Expiry.IsZero() && time.Now().After(c.Expiry.Add(-3*time.Minute))
}

// Source produces credentials, refreshing them when within 3 minutes of
// expiry. A static credential (zero Expiry) is never refreshed.
type Source interface {
	FetchCredential(ctx context.Context) (Credential, error)
}

// StaticSource returns a fixed, non-expiring credential.
type StaticSource struct {
	Credential Credential
}

func (s StaticSource) FetchCredential(ctx context.Context) (Credential, error) {
	return s.Credential, nil
}

// Signer signs outbound requests on behalf of a Source.
type Signer struct {
	source Source

	mu     sync.Mutex
	cached Credential
}

func New(source Source) *Signer {
	return &Signer{source: source}
}

// Headers returns the auth headers for a request context: tenant and group
// scope the signature to the primary listener group when multiple
// listeners are batched into one long-poll request.
func (s *Signer) Headers(ctx context.Context, tenant, group string) (map[string]string, error) {
	cred, err := s.credential(ctx)
	if err != nil {
		return nil, err
	}

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	headers := map[string]string{
		"Spas-AccessKey": cred.AccessKey,
		"Timestamp":      ts,
	}
	if cred.SecurityToken != "" {
		headers["Spas-SecurityToken"] = cred.SecurityToken
	}

	signStr := SignString(tenant, group, ts)
	if signStr != "" {
		mac := hmac.New(sha1.New, []byte(cred.SecretKey))
		mac.Write([]byte(signStr))
		headers["Spas-Signature"] = base64.StdEncoding.EncodeToString(mac.Sum(nil))
	}
	return headers, nil
}

// SignString builds the sign string: "{tenant}+{group}+{timestamp}", or
// "{group}+{timestamp}" when tenant is empty ("{tenant}+{timestamp}" when
// group is empty). When both are empty it returns "" and Headers attaches
// no signature. The separator is a literal '+'. Callers never have their
// strings mutated.
func SignString(tenant, group, timestamp string) string {
	if tenant == "" && group == "" {
		return ""
	}
	var s string
	if tenant != "" {
		s = tenant + "+"
	}
	if group != "" {
		s += group + "+"
	}
	return s + timestamp
}

func (s *Signer) credential(ctx context.Context) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached.AccessKey != "" && !s.cached.expired() {
		return s.cached, nil
	}
	cred, err := s.source.FetchCredential(ctx)
	if err != nil {
		return Credential{}, err
	}
	s.cached = cred
	return cred, nil
}
