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
	"time"

	"go.uber.org/zap"

	"github.com/acm-sdk/acm-go/internal/kms"
	"github.com/acm-sdk/acm-go/internal/signer"
)

type options struct {
	logger *zap.Logger

	tenant string

	credentials *signer.Credential
	credSource  signer.Source
	authEnabled bool

	tlsEnabled  bool
	addressMode bool
	unitName    string

	defaultTimeout      time.Duration
	pullingTimeout      time.Duration
	pullingConfigSize   int
	callbackWorkerCount int

	failoverBase string
	snapshotBase string

	appName    string
	noSnapshot bool

	kmsEnabled  bool
	kmsKeyID    string
	kmsEnvelope kms.Envelope
}

func defaultOptions() *options {
	return &options{
		logger:              zap.NewNop(),
		addressMode:         true,
		defaultTimeout:      3 * time.Second,
		pullingTimeout:      30 * time.Second,
		pullingConfigSize:   3000,
		callbackWorkerCount: 10,
		failoverBase:        "acm-data/data",
		snapshotBase:        "acm-data/snapshot",
		appName:             "ACM-SDK-Go",
	}
}

// Option configures a Client constructed by New.
type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) { f(o) }

// WithLogger sets the structured logging sink. Defaults to a no-op
// logger; there is no process-global debug toggle.
func WithLogger(logger *zap.Logger) Option {
	return optionFunc(func(o *options) { o.logger = logger })
}

// WithNamespace sets the tenant (namespace). Defaults to DefaultTenant.
func WithNamespace(tenant string) Option {
	return optionFunc(func(o *options) { o.tenant = tenant })
}

// WithCredentials configures static access-key/secret-key auth.
func WithCredentials(accessKey, secretKey string) Option {
	return optionFunc(func(o *options) {
		o.credentials = &signer.Credential{AccessKey: accessKey, SecretKey: secretKey}
		o.authEnabled = true
	})
}

// WithRAMRole configures STS/RAM-role based auth: credentials are
// refreshed from source when within 3 minutes of expiry.
func WithRAMRole(source signer.Source) Option {
	return optionFunc(func(o *options) {
		o.credSource = source
		o.authEnabled = true
	})
}

// WithTLS toggles TLS for control-plane connections. Defaults to false.
func WithTLS(enabled bool) Option {
	return optionFunc(func(o *options) { o.tlsEnabled = enabled })
}

// WithStaticServers disables address-server discovery and treats the
// endpoint passed to New as a single host[:port].
func WithStaticServers() Option {
	return optionFunc(func(o *options) { o.addressMode = false })
}

// WithUnitName sets a locality hint forwarded to the address server for
// nearby-server preference.
func WithUnitName(unit string) Option {
	return optionFunc(func(o *options) { o.unitName = unit })
}

// WithTimeout sets the default per-call timeout. Defaults to 3s.
func WithTimeout(d time.Duration) Option {
	return optionFunc(func(o *options) { o.defaultTimeout = d })
}

// WithPullingTimeout sets the long-poll hold duration. Defaults to 30s.
func WithPullingTimeout(d time.Duration) Option {
	return optionFunc(func(o *options) { o.pullingTimeout = d })
}

// WithPullingConfigSize sets the max subscriptions per poller shard.
// Defaults to 3000.
func WithPullingConfigSize(n int) Option {
	return optionFunc(func(o *options) { o.pullingConfigSize = n })
}

// WithCallbackWorkers sets the size of the callback dispatcher pool.
// Defaults to 10.
func WithCallbackWorkers(n int) Option {
	return optionFunc(func(o *options) { o.callbackWorkerCount = n })
}

// WithFailoverBase sets the read-only failover overlay root.
func WithFailoverBase(dir string) Option {
	return optionFunc(func(o *options) { o.failoverBase = dir })
}

// WithSnapshotBase sets the writable snapshot root.
func WithSnapshotBase(dir string) Option {
	return optionFunc(func(o *options) { o.snapshotBase = dir })
}

// WithAppName sets the Diamond-Client-AppName header value.
func WithAppName(name string) Option {
	return optionFunc(func(o *options) { o.appName = name })
}

// WithNoSnapshot disables falling back to the snapshot cache for Get calls
// that don't explicitly override it. A successful remote fetch still
// writes the snapshot.
func WithNoSnapshot(v bool) Option {
	return optionFunc(func(o *options) { o.noSnapshot = v })
}

// WithKMS enables envelope encryption for keys whose dataId carries the
// cipher prefix, using keyID to scope the oracle.
func WithKMS(keyID string, envelope kms.Envelope) Option {
	return optionFunc(func(o *options) {
		o.kmsEnabled = true
		o.kmsKeyID = keyID
		o.kmsEnvelope = envelope
	})
}
