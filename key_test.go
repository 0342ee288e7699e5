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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewKey_DefaultsGroupAndTenant(t *testing.T) {
	k := NewKey("", "", "my-data-id")
	assert.Equal(t, DefaultTenant, k.Tenant)
	assert.Equal(t, DefaultGroup, k.Group)
}

func TestNewKey_TrimsGroup(t *testing.T) {
	k := NewKey("tenant-a", "  group-a  ", "my-data-id")
	assert.Equal(t, "group-a", k.Group)
}

func TestKey_Equal(t *testing.T) {
	a := NewKey("t", "g", "d")
	b := NewKey("t", "g", "d")
	c := NewKey("t", "g", "other")

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestKey_Ciphered(t *testing.T) {
	assert.True(t, NewKey("t", "g", "cipher-secret").Ciphered())
	assert.False(t, NewKey("t", "g", "plain").Ciphered())
}

func TestKey_Namespace_DefaultTenantMapsToEmpty(t *testing.T) {
	assert.Equal(t, "", NewKey("", "g", "d").namespace())
	assert.Equal(t, "custom", NewKey("custom", "g", "d").namespace())
}
