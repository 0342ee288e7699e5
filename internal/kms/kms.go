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

// Package kms implements the envelope-encryption indirection applied to
// configuration keys whose dataId carries the "cipher-" prefix.
//
// The KMS cryptographic service itself is out of scope: it is treated as
// an opaque Envelope oracle. This package only owns the encrypt-on-publish
// / decrypt-on-get wiring around that oracle.
package kms

import "context"

// Envelope is the opaque KMS oracle: Encrypt(plaintext) -> ciphertext and
// Decrypt(ciphertext) -> plaintext, scoped to a key id.
type Envelope interface {
	Encrypt(ctx context.Context, keyID, plaintext string) (string, error)
	Decrypt(ctx context.Context, ciphertext string) (string, error)
}

// Client applies the envelope to ciphered keys and passes through
// everything else untouched.
type Client struct {
	enabled  bool
	keyID    string
	envelope Envelope
}

func New(enabled bool, keyID string, envelope Envelope) *Client {
	return &Client{enabled: enabled, keyID: keyID, envelope: envelope}
}

// Enabled reports whether KMS envelope encryption is configured at all.
func (c *Client) Enabled() bool {
	return c.enabled && c.envelope != nil
}

// EncryptIfNeeded returns the content to store: ciphertext when ciphered
// is true and KMS is enabled, otherwise content unchanged.
func (c *Client) EncryptIfNeeded(ctx context.Context, ciphered bool, content string) (string, error) {
	if !ciphered || !c.Enabled() {
		return content, nil
	}
	return c.envelope.Encrypt(ctx, c.keyID, content)
}

// DecryptIfNeeded returns the plaintext for a caller: decrypted content
// when ciphered is true, KMS is enabled and content is non-empty,
// otherwise content unchanged.
func (c *Client) DecryptIfNeeded(ctx context.Context, ciphered bool, content string) (string, error) {
	if !ciphered || !c.Enabled() || content == "" {
		return content, nil
	}
	return c.envelope.Decrypt(ctx, content)
}
