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

package tasks

import (
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/librarian-project/librarian/client"
	"github.com/librarian-project/librarian/core"
	"github.com/librarian-project/librarian/db"
	"github.com/librarian-project/librarian/store"
)

// looks up the named peer and builds an authenticated client for it
func peerClient(gormDB *gorm.DB, name string) (*client.LibrarianClient, error) {
	var librarian db.Librarian
	if err := gormDB.First(&librarian, "name = ?", name).Error; err != nil {
		return nil, fmt.Errorf("unknown librarian: %s", name)
	}
	return client.NewLibrarianClient(librarian)
}

// a per-task cache of store managers; tasks touch the same few stores on
// every tick, and managers are cheap but not free to construct
type storeManagers struct {
	managers map[string]store.Manager
}

func (s *storeManagers) get(name string) (store.Manager, error) {
	if s.managers == nil {
		s.managers = make(map[string]store.Manager)
	}
	if manager, found := s.managers[name]; found {
		return manager, nil
	}
	manager, err := store.NewManager(name)
	if err != nil {
		return nil, err
	}
	s.managers[name] = manager
	return manager, nil
}

// releases an incoming transfer's staging area and marks it FAILED
func failIncomingTransfer(gormDB *gorm.DB, stores *storeManagers,
	transfer *db.IncomingTransfer, reason string) {

	slog.Warn(fmt.Sprintf("Failing incoming transfer %d: %s", transfer.Id, reason))
	if manager, err := stores.get(transfer.StoreName); err == nil {
		if err := manager.Unstage(transfer.StagingName); err != nil {
			slog.Warn(fmt.Sprintf("Couldn't unstage transfer %d: %s", transfer.Id, err))
		}
	}
	if err := db.SetIncomingTransferStatus(gormDB, transfer, core.StatusFailed); err != nil {
		slog.Warn(err.Error())
	}
}

// marks an outgoing transfer FAILED
func failOutgoingTransfer(gormDB *gorm.DB, transfer *db.OutgoingTransfer,
	reason string) {

	slog.Warn(fmt.Sprintf("Failing outgoing transfer %d: %s", transfer.Id, reason))
	if err := db.SetOutgoingTransferStatus(gormDB, transfer, core.StatusFailed); err != nil {
		slog.Warn(err.Error())
	}
}
