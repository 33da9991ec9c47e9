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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/librarian-project/librarian/api"
	"github.com/librarian-project/librarian/config"
	"github.com/librarian-project/librarian/core"
	"github.com/librarian-project/librarian/db"
	"github.com/librarian-project/librarian/ingest"
)

// This task finalizes inbound clones whose bytes have fully landed in
// staging: it ingests each STAGED incoming transfer and acknowledges the
// result to the source peer. The acknowledgement is best-effort; a missed
// callback is repaired by the source's own hypervisor.
type receiveCloneTask struct {
	conf   config.ReceiveCloneConfig
	stores storeManagers
}

func NewReceiveClone(conf config.ReceiveCloneConfig) Task {
	return &receiveCloneTask{conf: conf}
}

func (t *receiveCloneTask) Name() string {
	return "receive-clone"
}

func (t *receiveCloneTask) Run(gormDB *gorm.DB, deadline time.Time) error {
	policy := core.DeletionDisallowed
	if t.conf.DeletionPolicy != "" {
		var err error
		policy, err = core.ParseDeletionPolicy(t.conf.DeletionPolicy)
		if err != nil {
			db.LogError(gormDB, core.SeverityError, core.CategoryConfiguration,
				fmt.Sprintf("clone receiver: %s", err))
			return fmt.Errorf("%w: %s", ErrCancelTask, err)
		}
	}

	query := gormDB.Where("status = ?", core.StatusStaged).
		Order("start_time asc")
	if t.conf.FilesPerRun > 0 {
		query = query.Limit(t.conf.FilesPerRun)
	}
	var staged []db.IncomingTransfer
	if err := query.Find(&staged).Error; err != nil {
		return err
	}

	failures := 0
	for i := range staged {
		if time.Now().After(deadline) {
			slog.Debug(fmt.Sprintf("%s: soft timeout reached, yielding", t.Name()))
			break
		}
		if err := t.receive(gormDB, &staged[i], policy); err != nil {
			failures++
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d staged transfer(s) could not be ingested", failures)
	}
	return nil
}

// ingests one staged transfer and notifies its source of the outcome
func (t *receiveCloneTask) receive(gormDB *gorm.DB,
	transfer *db.IncomingTransfer, policy core.DeletionPolicy) error {

	manager, err := t.stores.get(transfer.StoreName)
	if err != nil {
		db.LogError(gormDB, core.SeverityError, core.CategoryConfiguration,
			fmt.Sprintf("clone receiver: transfer %d names unknown store %s",
				transfer.Id, transfer.StoreName))
		return err
	}

	ingestErr := ingest.Ingest(gormDB, manager, transfer, policy)

	// a STAGED clone whose bytes vanished is failed outright; the source
	// finished sending, so they are not coming back
	var missing ingest.MissingBytesError
	if errors.As(ingestErr, &missing) {
		manager.Unstage(transfer.StagingName)
		if err := db.SetIncomingTransferStatus(gormDB, transfer,
			core.StatusFailed); err != nil {
			slog.Warn(fmt.Sprintf("Couldn't fail transfer %d: %s",
				transfer.Id, err))
		}
	}

	// the source peer is told whether its clone landed; a client upload has
	// no source peer to tell
	if transfer.SourceTransferId != nil && transfer.Source != config.Service.Name {
		peer, err := peerClient(gormDB, transfer.Source)
		if err != nil {
			slog.Warn(fmt.Sprintf("Couldn't reach source %s for transfer %d: %s",
				transfer.Source, transfer.Id, err))
			return ingestErr
		}
		if ingestErr == nil {
			err = peer.CloneComplete(api.CloneCompleteRequest{
				SourceTransferId:      *transfer.SourceTransferId,
				DestinationTransferId: transfer.Id,
				DestinationStoreName:  transfer.StoreName,
			})
		} else {
			err = peer.CloneFail(*transfer.SourceTransferId, transfer.Id,
				ingestErr.Error())
		}
		if err != nil {
			slog.Warn(fmt.Sprintf("Couldn't acknowledge transfer %d to %s: %s",
				transfer.Id, transfer.Source, err))
		}
	}
	return ingestErr
}
