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
	"os"
	"os/exec"
	"slices"

	"github.com/librarian-project/librarian/core"
)

// Rsync transfer managers shell out to rsync. The asynchronous variant
// moves the whole batch inline when the queue consumer invokes it and
// reports COMPLETED or FAILED afterward.

// runs a single rsync invocation, preserving permissions and times
func runRsync(src, dst string) error {
	cmd := exec.Command("rsync", "-a", src, dst)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("rsync %s -> %s failed: %s (%w)", src, dst,
			string(output), err)
	}
	return nil
}

//----------------------
// Synchronous variant
//----------------------

type RsyncManager struct {
	// hostnames from which the destination is reachable (empty means
	// anywhere)
	Hostnames []string
}

func (m *RsyncManager) Valid() bool {
	if _, err := exec.LookPath("rsync"); err != nil {
		return false
	}
	if len(m.Hostnames) == 0 {
		return true
	}
	hostname, err := os.Hostname()
	if err != nil {
		return false
	}
	return slices.Contains(m.Hostnames, hostname)
}

func (m *RsyncManager) Transfer(src, dst string) error {
	return runRsync(src, dst)
}

//-----------------------
// Asynchronous variant
//-----------------------

type RsyncAsyncManager struct {
	// the destination host
	Hostname string `json:"hostname"`
	// the user to connect as (empty means the current user)
	Username string `json:"username"`
	// set once the batch has been performed
	Complete bool `json:"complete"`
	// set if any file in the batch could not be moved
	Failed bool `json:"failed"`
}

func (m *RsyncAsyncManager) Valid() bool {
	if m.Hostname == "" {
		return false
	}
	_, err := exec.LookPath("rsync")
	return err == nil
}

// prefixes a remote path with the destination host (and user, if one is
// configured)
func (m *RsyncAsyncManager) remote(path string) string {
	if m.Username != "" {
		return fmt.Sprintf("%s@%s:%s", m.Username, m.Hostname, path)
	}
	return fmt.Sprintf("%s:%s", m.Hostname, path)
}

func (m *RsyncAsyncManager) BatchTransfer(pairs []TransferPair) error {
	for _, pair := range pairs {
		if err := runRsync(pair.Source, m.remote(pair.Destination)); err != nil {
			m.Complete = true
			m.Failed = true
			return err
		}
	}
	m.Complete = true
	return nil
}

func (m *RsyncAsyncManager) Transfer(src, dst string) error {
	return m.BatchTransfer([]TransferPair{{Source: src, Destination: dst}})
}

func (m *RsyncAsyncManager) Status() (core.TransferStatus, error) {
	if !m.Complete {
		return core.StatusInitiated, nil
	}
	if m.Failed {
		return core.StatusFailed, nil
	}
	return core.StatusCompleted, nil
}
