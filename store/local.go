// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package store

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/librarian-project/librarian/config"
	"github.com/librarian-project/librarian/core"
	"github.com/librarian-project/librarian/transfers"
)

// The local POSIX store, the reference store kind. Bytes land in
// staging/<uuid>/<name> while a transfer is live and are moved into the
// storage root on commit. Committed files and directories are normalized
// to group-writable to support multi-user operation.

func init() {
	RegisterStoreType("local", newLocalManager)
}

type localManager struct {
	name    string
	conf    config.StoreConfig
	staging string
	storage string
}

func newLocalManager(name string, conf config.StoreConfig) (Manager, error) {
	staging, err := filepath.Abs(conf.Staging)
	if err != nil {
		return nil, err
	}
	storage, err := filepath.Abs(conf.Storage)
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{staging, storage} {
		if err := os.MkdirAll(dir, 0775); err != nil {
			return nil, fmt.Errorf("couldn't create directory %s for store %s: %w",
				dir, name, err)
		}
	}
	return &localManager{
		name:    name,
		conf:    conf,
		staging: staging,
		storage: storage,
	}, nil
}

func (m *localManager) Name() string {
	return m.name
}

func (m *localManager) FreeSpace() (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(m.storage, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

func (m *localManager) Stage(size int64, name string) (string, string, error) {
	if !m.conf.Enabled {
		return "", "", StoreDisabledError{Store: m.name}
	}
	free, err := m.FreeSpace()
	if err != nil {
		return "", "", err
	}
	if size > free {
		return "", "", StoreFullError{Store: m.name, Requested: size, Available: free}
	}

	id := uuid.New().String()
	path, err := resolveWithin(m.staging, filepath.Join(id, name))
	if err != nil {
		return "", "", PathEscapeError{Store: m.name, Path: name}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0775); err != nil {
		return "", "", err
	}
	return id, path, nil
}

func (m *localManager) Unstage(id string) error {
	dir, err := resolveWithin(m.staging, id)
	if err != nil {
		return PathEscapeError{Store: m.name, Path: id}
	}
	// RemoveAll is a no-op for a missing directory, which makes this
	// idempotent
	return os.RemoveAll(dir)
}

func (m *localManager) Store(name string) (string, error) {
	if !m.conf.Enabled {
		return "", StoreDisabledError{Store: m.name}
	}
	path, err := resolveWithin(m.storage, name)
	if err != nil {
		return "", PathEscapeError{Store: m.name, Path: name}
	}
	if _, err := os.Stat(path); err == nil {
		return "", PathExistsError{Store: m.name, Path: name}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0775); err != nil {
		return "", err
	}
	return path, nil
}

func (m *localManager) Remove(storePath string) error {
	path, err := m.ResolveStorePath(storePath)
	if err != nil {
		return err
	}
	return os.RemoveAll(path)
}

func (m *localManager) Commit(stagingPath, storePath string) error {
	if _, err := m.ResolveStagingPath(stagingPath); err != nil {
		return err
	}
	if _, err := m.ResolveStorePath(storePath); err != nil {
		return err
	}
	if _, err := os.Stat(storePath); err == nil {
		return PathExistsError{Store: m.name, Path: storePath}
	}

	if err := os.Rename(stagingPath, storePath); err != nil {
		// staging and storage may live on different filesystems
		if err := transfers.CopyPath(stagingPath, storePath); err != nil {
			return err
		}
		if err := os.RemoveAll(stagingPath); err != nil {
			return err
		}
	}
	return normalizePermissions(storePath)
}

func (m *localManager) PathInfo(path, algorithm string) (PathInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return PathInfo{}, err
	}

	checksum, err := core.ChecksumPath(path, algorithm)
	if err != nil {
		return PathInfo{}, err
	}

	if info.IsDir() {
		var size int64
		err = filepath.WalkDir(path, func(entryPath string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !entry.IsDir() {
				entryInfo, err := entry.Info()
				if err != nil {
					return err
				}
				size += entryInfo.Size()
			}
			return nil
		})
		if err != nil {
			return PathInfo{}, err
		}
		return PathInfo{Size: size, Checksum: checksum, Type: "directory"}, nil
	}
	return PathInfo{Size: info.Size(), Checksum: checksum, Type: "file"}, nil
}

func (m *localManager) ResolveStagingPath(p string) (string, error) {
	path, err := resolveWithin(m.staging, p)
	if err != nil {
		return "", PathEscapeError{Store: m.name, Path: p}
	}
	return path, nil
}

func (m *localManager) ResolveStorePath(p string) (string, error) {
	path, err := resolveWithin(m.storage, p)
	if err != nil {
		return "", PathEscapeError{Store: m.name, Path: p}
	}
	return path, nil
}

func (m *localManager) TransferOut(storePath, destPath string,
	manager transfers.Manager) error {

	if _, err := m.ResolveStorePath(storePath); err != nil {
		return err
	}
	return manager.Transfer(storePath, destPath)
}

// resolves a possibly-relative path against a root, rejecting results that
// fall outside the root
func resolveWithin(root, p string) (string, error) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)
	if p != root && !strings.HasPrefix(p, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes root %s", p, root)
	}
	return p, nil
}

// makes a committed file or directory tree group-writable
func normalizePermissions(path string) error {
	return filepath.WalkDir(path, func(entryPath string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return os.Chmod(entryPath, 0775)
		}
		return os.Chmod(entryPath, 0664)
	})
}
