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

	"github.com/librarian-project/librarian/config"
)

// Synchronous transfer managers move bytes between a librarian and a
// local or remote path, returning only on completion. Stores advertise
// them to uploading clients; clients pick one whose hostname requirements
// they satisfy.

type Manager interface {
	// reports whether this manager is usable from the current host
	Valid() bool
	// moves bytes from src to dst, returning on completion
	Transfer(src, dst string) error
}

// creates a synchronous transfer manager from its configuration
func NewManager(conf config.TransferManagerConfig) (Manager, error) {
	switch conf.TransferType {
	case "local":
		return &LocalManager{Hostnames: conf.Hostnames}, nil
	case "rsync":
		return &RsyncManager{Hostnames: conf.Hostnames}, nil
	}
	return nil, fmt.Errorf("unknown transfer manager type: %s", conf.TransferType)
}
