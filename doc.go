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

// Package acm implements a client SDK for a remote key-value
// configuration service (the "control plane").
//
// Applications embed the client to fetch the current value of a named
// configuration item, publish or remove items, and subscribe to change
// notifications fired whenever the server-side value of a watched item
// changes, using the control plane's long-poll protocol.
//
// # Connecting
//
// New connects to an endpoint, which by default is treated as an address
// server used to discover the current set of control-plane hosts:
//
//	client, err := acm.New(
//		"acm.example.com",
//		acm.WithNamespace("prod"),
//		acm.WithCredentials(accessKey, secretKey),
//	)
//	if err != nil {
//		// handle err ...
//	}
//	defer client.Close()
//
// # Reading and writing
//
// Get follows a three-tier read path: a local failover overlay, the
// control plane itself (populating a local snapshot cache on success),
// then the snapshot cache if the control plane is unreachable:
//
//	content, err := client.Get(ctx, "my-service.yaml", "DEFAULT_GROUP")
//	if errors.Is(err, acm.ErrConfigNotFound) {
//		// item does not exist
//	}
//
// Publish and Remove write through to the control plane directly:
//
//	err = client.Publish(ctx, "my-service.yaml", "DEFAULT_GROUP", newContent)
//	err = client.Remove(ctx, "my-service.yaml", "DEFAULT_GROUP")
//
// # Watching for changes
//
// AddWatcher registers a callback that fires whenever the server-side
// value changes, including once on discovery if the item already has a
// value. Callbacks run on a bounded worker pool with per-callback
// isolation; a panicking callback never affects other callbacks:
//
//	handle := client.AddWatcher("my-service.yaml", "DEFAULT_GROUP", func(content string, deleted bool) {
//		if deleted {
//			return
//		}
//		// reload configuration from content ...
//	})
//	defer client.RemoveWatcher(handle)
//
// # Encrypted items
//
// A dataId prefixed with "cipher-" is transparently encrypted on Publish
// and decrypted on Get when KMS envelope encryption is configured via
// WithKMS; the local snapshot always retains the ciphertext.
package acm
