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

// Package snapshot implements the filesystem-backed key→content cache:
// a writable snapshot root and a read-only failover overlay.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var tempCounter = atomic.NewUint64(0)

// Store is the snapshot/failover store. failoverFS may be nil when no
// failover overlay is configured.
type Store struct {
	snapshotFS afero.Fs
	failoverFS afero.Fs
	logger     *zap.Logger
}

func New(snapshotFS, failoverFS afero.Fs, logger *zap.Logger) *Store {
	return &Store{snapshotFS: snapshotFS, failoverFS: failoverFS, logger: logger}
}

// NewOS builds a Store rooted at the given directories on the local
// filesystem, matching the production deployment shape.
func NewOS(snapshotBase, failoverBase string, logger *zap.Logger) *Store {
	var failoverFS afero.Fs
	if failoverBase != "" {
		failoverFS = afero.NewBasePathFs(afero.NewOsFs(), failoverBase)
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), snapshotBase), failoverFS, logger)
}

// ReadFailover returns the content under the failover root, or ("", false)
// if absent. It never falls through to the snapshot.
func (s *Store) ReadFailover(path []string) (string, bool) {
	if s.failoverFS == nil {
		return "", false
	}
	return read(s.failoverFS, path)
}

// ReadSnapshot returns the content under the snapshot root, or ("", false)
// if absent.
func (s *Store) ReadSnapshot(path []string) (string, bool) {
	return read(s.snapshotFS, path)
}

// WriteSnapshot writes content atomically (temp file + rename) under the
// snapshot root, creating parent directories as needed. Errors are logged
// and swallowed: a snapshot write failure must never fail the caller's Get.
func (s *Store) WriteSnapshot(path []string, content string) {
	dir := filepath.Join(path[:len(path)-1]...)
	file := filepath.Join(path...)
	if dir != "" {
		if err := s.snapshotFS.MkdirAll(dir, 0o755); err != nil {
			s.logger.Error("failed to create snapshot dir", zap.String("dir", dir), zap.Error(err))
			return
		}
	}

	tmp := file + fmt.Sprintf(".tmp-%d-%d", os.Getpid(), tempCounter.Inc())
	f, err := s.snapshotFS.Create(tmp)
	if err != nil {
		s.logger.Error("failed to create snapshot temp file", zap.String("file", tmp), zap.Error(err))
		return
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		_ = s.snapshotFS.Remove(tmp)
		s.logger.Error("failed to write snapshot temp file", zap.String("file", tmp), zap.Error(err))
		return
	}
	if err := f.Close(); err != nil {
		s.logger.Error("failed to close snapshot temp file", zap.String("file", tmp), zap.Error(err))
		return
	}
	if err := s.snapshotFS.Rename(tmp, file); err != nil {
		s.logger.Error("failed to rename snapshot file", zap.String("file", file), zap.Error(err))
	}
}

// DeleteSnapshot unlinks the snapshot file if present; ENOENT is ignored.
func (s *Store) DeleteSnapshot(path []string) {
	file := filepath.Join(path...)
	if err := s.snapshotFS.Remove(file); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to delete snapshot file", zap.String("file", file), zap.Error(err))
	}
}

func read(fs afero.Fs, path []string) (string, bool) {
	file := filepath.Join(path...)
	b, err := afero.ReadFile(fs, file)
	if err != nil {
		return "", false
	}
	return string(b), true
}
