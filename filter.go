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

// ListFilter narrows the result of ListAll to items matching a group and/or
// a dataId prefix. Filters are applied client-side after the server-side
// page aggregation completes.
type ListFilter struct {
	// Group, if non-empty, must match a page item's group exactly.
	Group string
	// Prefix, if non-empty, must prefix-match a page item's dataId. The
	// match is case-sensitive.
	Prefix string
}

// Item is a single entry returned by ListAll/ListPage.
type Item struct {
	DataID string
	Group  string
}

func (f ListFilter) match(item Item) bool {
	if f.Group != "" && item.Group != f.Group {
		return false
	}
	if f.Prefix != "" && !strings.HasPrefix(item.DataID, f.Prefix) {
		return false
	}
	return true
}
