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

package transfers

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/librarian-project/librarian/core"
)

// Local transfer managers move bytes between paths on filesystems both
// sides can see. The synchronous variant serves uploads on shared
// filesystems; the asynchronous variant serves clones between librarians
// that share a filesystem, performing the batch inline when consumed.

// copies a file or directory tree from src to dst, creating parent
// directories as needed
func CopyPath(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0775); err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(src, dst)
	}
	return filepath.WalkDir(src, func(entryPath string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, entryPath)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if entry.IsDir() {
			return os.MkdirAll(target, 0775)
		}
		return copyFile(entryPath, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

//----------------------
// Synchronous variant
//----------------------

type LocalManager struct {
	// hostnames from which the shared filesystem is reachable (empty
	// means anywhere)
	Hostnames []string
}

func (m *LocalManager) Valid() bool {
	if len(m.Hostnames) == 0 {
		return true
	}
	hostname, err := os.Hostname()
	if err != nil {
		return false
	}
	return slices.Contains(m.Hostnames, hostname)
}

func (m *LocalManager) Transfer(src, dst string) error {
	return CopyPath(src, dst)
}

//-----------------------
// Asynchronous variant
//-----------------------

type LocalAsyncManager struct {
	// hostname on which the shared filesystem is mounted (informational;
	// empty means the local host)
	Hostname string `json:"hostname"`
	// set once the batch has been performed
	Complete bool `json:"complete"`
	// set if any file in the batch could not be copied
	Failed bool `json:"failed"`
}

func (m *LocalAsyncManager) Valid() bool {
	return true
}

func (m *LocalAsyncManager) BatchTransfer(pairs []TransferPair) error {
	for _, pair := range pairs {
		if err := CopyPath(pair.Source, pair.Destination); err != nil {
			m.Complete = true
			m.Failed = true
			return fmt.Errorf("couldn't copy %s to %s: %w", pair.Source,
				pair.Destination, err)
		}
	}
	m.Complete = true
	return nil
}

func (m *LocalAsyncManager) Transfer(src, dst string) error {
	return m.BatchTransfer([]TransferPair{{Source: src, Destination: dst}})
}

func (m *LocalAsyncManager) Status() (core.TransferStatus, error) {
	if !m.Complete {
		return core.StatusInitiated, nil
	}
	if m.Failed {
		return core.StatusFailed, nil
	}
	return core.StatusCompleted, nil
}
