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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/librarian-project/librarian/config"
	"github.com/librarian-project/librarian/transfers"
)

// configures a single local store rooted in a temporary directory and
// returns a manager for it
func testStore(t *testing.T) Manager {
	root := t.TempDir()
	conf := fmt.Sprintf(`{
	  "service": {"name": "test-librarian"},
	  "database": {"type": "sqlite", "path": ":memory:"},
	  "stores": {
	    "store1": {
	      "storeType": "local",
	      "ingestable": true,
	      "enabled": true,
	      "staging": "%s/staging",
	      "storage": "%s/storage"
	    }
	  }
	}`, root, root)
	assert.Nil(t, config.Init([]byte(conf)))

	manager, err := NewManager("store1")
	assert.Nil(t, err)
	return manager
}

// tests the stage -> bytes -> store -> commit round trip
func TestStageCommitRoundTrip(t *testing.T) {
	manager := testStore(t)

	id, stagedPath, err := manager.Stage(1024, "obs/a.txt")
	assert.Nil(t, err)
	assert.NotEmpty(t, id)

	// the uploader places its bytes at the staged path
	assert.Nil(t, os.WriteFile(stagedPath, []byte("some observation data"), 0644))

	finalPath, err := manager.Store("obs/a.txt")
	assert.Nil(t, err)
	assert.Nil(t, manager.Commit(stagedPath, finalPath))

	content, err := os.ReadFile(finalPath)
	assert.Nil(t, err)
	assert.Equal(t, "some observation data", string(content))

	// committed files are group-writable
	info, err := os.Stat(finalPath)
	assert.Nil(t, err)
	assert.Equal(t, os.FileMode(0664), info.Mode().Perm())

	// unstaging after commit is a harmless no-op
	assert.Nil(t, manager.Unstage(id))
	assert.Nil(t, manager.Unstage(id))
}

// tests that two stagings of the same name never collide
func TestStagingIsolation(t *testing.T) {
	manager := testStore(t)

	_, path1, err := manager.Stage(10, "obs/a.txt")
	assert.Nil(t, err)
	_, path2, err := manager.Stage(10, "obs/a.txt")
	assert.Nil(t, err)
	assert.NotEqual(t, path1, path2)
}

// tests that reserving an occupied final path fails
func TestStoreRejectsExistingPath(t *testing.T) {
	manager := testStore(t)

	path, err := manager.Store("obs/a.txt")
	assert.Nil(t, err)
	assert.Nil(t, os.WriteFile(path, []byte("x"), 0644))

	_, err = manager.Store("obs/a.txt")
	assert.NotNil(t, err)
	_, isExists := err.(PathExistsError)
	assert.True(t, isExists)
}

// tests that paths escaping the store roots are rejected
func TestPathEscapeRejected(t *testing.T) {
	manager := testStore(t)

	_, err := manager.ResolveStorePath("../../etc/passwd")
	assert.NotNil(t, err)
	_, isEscape := err.(PathEscapeError)
	assert.True(t, isEscape)

	_, err = manager.ResolveStagingPath("/etc/passwd")
	assert.NotNil(t, err)

	_, _, err = manager.Stage(10, "../escape.txt")
	assert.NotNil(t, err)
}

// tests that a store too small for an upload refuses to stage it
func TestStageChecksFreeSpace(t *testing.T) {
	manager := testStore(t)

	free, err := manager.FreeSpace()
	assert.Nil(t, err)
	assert.Greater(t, free, int64(0))

	_, _, err = manager.Stage(free+1, "obs/huge.bin")
	assert.NotNil(t, err)
	_, isFull := err.(StoreFullError)
	assert.True(t, isFull)
}

// tests size, checksum, and kind reporting for files and directories
func TestPathInfo(t *testing.T) {
	manager := testStore(t)

	_, stagedPath, err := manager.Stage(100, "obs/a.txt")
	assert.Nil(t, err)
	assert.Nil(t, os.WriteFile(stagedPath, []byte("0123456789"), 0644))

	info, err := manager.PathInfo(stagedPath, "md5")
	assert.Nil(t, err)
	assert.Equal(t, int64(10), info.Size)
	assert.Equal(t, "file", info.Type)
	assert.Equal(t, "md5", info.Checksum.Algorithm)

	dir := filepath.Dir(stagedPath)
	info, err = manager.PathInfo(dir, "md5")
	assert.Nil(t, err)
	assert.Equal(t, "directory", info.Type)
	assert.Equal(t, int64(10), info.Size)

	_, err = manager.PathInfo(filepath.Join(dir, "missing.txt"), "md5")
	assert.NotNil(t, err)
}

// tests moving committed bytes out of the store with a transfer manager
func TestTransferOut(t *testing.T) {
	manager := testStore(t)

	_, stagedPath, err := manager.Stage(10, "obs/a.txt")
	assert.Nil(t, err)
	assert.Nil(t, os.WriteFile(stagedPath, []byte("payload"), 0644))
	finalPath, err := manager.Store("obs/a.txt")
	assert.Nil(t, err)
	assert.Nil(t, manager.Commit(stagedPath, finalPath))

	dest := filepath.Join(t.TempDir(), "out.txt")
	assert.Nil(t, manager.TransferOut(finalPath, dest, &transfers.LocalManager{}))

	content, err := os.ReadFile(dest)
	assert.Nil(t, err)
	assert.Equal(t, "payload", string(content))
}
