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
	"go.uber.org/zap/zapcore"
)

// keyLogger lets a Key be passed to zap.Object so log lines stay
// structured instead of interpolated via fmt.
type keyLogger struct {
	key Key
}

func newKeyLogger(k Key) keyLogger {
	return keyLogger{key: k}
}

func (l keyLogger) MarshalLogObject(e zapcore.ObjectEncoder) error {
	e.AddString("tenant", l.key.Tenant)
	e.AddString("group", l.key.Group)
	e.AddString("data_id", l.key.DataID)
	e.AddBool("ciphered", l.key.Ciphered())
	return nil
}
