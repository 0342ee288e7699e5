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

import "strings"

// DefaultGroup is used whenever a caller omits the group.
const DefaultGroup = "DEFAULT_GROUP"

// DefaultTenant is used whenever a caller omits the tenant (namespace).
const DefaultTenant = "DEFAULT_TENANT"

// cipherPrefix marks a dataId as KMS-enveloped.
const cipherPrefix = "cipher-"

// Key identifies a single configuration item by tenant, group and dataId.
//
// Two keys are equal iff all three components match byte-for-byte.
type Key struct {
	Tenant string
	Group  string
	DataID string
}

// NewKey builds a Key, applying the DefaultGroup/DefaultTenant sentinels
// when the caller leaves group or tenant blank.
func NewKey(tenant, group, dataID string) Key {
	if strings.TrimSpace(group) == "" {
		group = DefaultGroup
	} else {
		group = strings.TrimSpace(group)
	}
	if strings.TrimSpace(tenant) == "" {
		tenant = DefaultTenant
	}
	return Key{Tenant: tenant, Group: group, DataID: dataID}
}

// Equal reports whether k and o address the same item.
func (k Key) Equal(o Key) bool {
	return k.Tenant == o.Tenant && k.Group == o.Group && k.DataID == o.DataID
}

// Ciphered reports whether this key's dataId carries the KMS cipher prefix.
func (k Key) Ciphered() bool {
	return strings.HasPrefix(k.DataID, cipherPrefix)
}

// namespace returns the tenant with the DefaultTenant sentinel mapped back
// to "", matching the wire protocol's optional tenant query/form field.
func (k Key) namespace() string {
	if k.Tenant == DefaultTenant {
		return ""
	}
	return k.Tenant
}

// path returns the on-disk path segments for the snapshot/failover store,
// {tenant}/{group}/{dataId}.
func (k Key) path() []string {
	return []string{k.Tenant, k.Group, k.DataID}
}

func (k Key) String() string {
	return k.Tenant + "/" + k.Group + "/" + k.DataID
}
