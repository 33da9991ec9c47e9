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

	"github.com/librarian-project/librarian/config"
	"github.com/librarian-project/librarian/core"
	"github.com/librarian-project/librarian/transfers"
)

// information about a path on a store
type PathInfo struct {
	// size in bytes (for a directory, the sum over its files)
	Size int64
	// checksum tagged with its algorithm
	Checksum core.Checksum
	// "file" or "directory"
	Type string
}

// This interface is the contract every store kind satisfies. All paths it
// returns are validated to lie inside the store's staging or final root,
// so higher layers never re-check them.
type Manager interface {
	// the store's configured name
	Name() string
	// returns the number of bytes available for new writes
	FreeSpace() (int64, error)
	// allocates an isolated staging area for an upload of the given size,
	// returning a fresh staging id and the absolute path at which the
	// uploader must place its bytes
	Stage(size int64, name string) (string, string, error)
	// removes the staging area with the given id, if present; idempotent
	Unstage(id string) error
	// atomically moves staged bytes into their final location, which must
	// have been reserved by Store and must not yet exist
	Commit(stagingPath, storePath string) error
	// reserves a namespace slot under the store root, creating parent
	// directories; fails if the path already exists
	Store(name string) (string, error)
	// removes a committed path from the store root; idempotent
	Remove(storePath string) error
	// returns the size, checksum, and kind of the named path
	PathInfo(path, algorithm string) (PathInfo, error)
	// resolves a caller-supplied path against the staging root, rejecting
	// paths that escape it
	ResolveStagingPath(p string) (string, error)
	// resolves a caller-supplied path against the final root, rejecting
	// paths that escape it
	ResolveStorePath(p string) (string, error)
	// moves bytes from a committed store path to a destination path using
	// the given synchronous transfer manager
	TransferOut(storePath, destPath string, manager transfers.Manager) error
}

// a function that creates a store manager for a named store
type NewManagerFunc func(name string, conf config.StoreConfig) (Manager, error)

// a registry of store kinds
var factories = make(map[string]NewManagerFunc)

// Registers a factory for the given store kind, making it available to
// NewManager. Tests use this to install fixtures.
func RegisterStoreType(storeType string, factory NewManagerFunc) {
	factories[storeType] = factory
}

// creates a store manager for the named store in the configuration
func NewManager(name string) (Manager, error) {
	conf, found := config.Stores[name]
	if !found {
		return nil, fmt.Errorf("'%s' is not a configured store", name)
	}
	factory, found := factories[conf.StoreType]
	if !found {
		return nil, fmt.Errorf("store '%s' has unknown type '%s'", name, conf.StoreType)
	}
	return factory(name, conf)
}
