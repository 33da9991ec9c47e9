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

// The send queue consumer and completion checker. The consumer hands each
// reserved batch to its revived async transfer manager; the checker polls
// consumed batches and settles them, driving both sides of every child
// transfer to STAGED or FAILED. Settled batches are written to the
// transfer journal.

package tasks

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/librarian-project/librarian/api"
	"github.com/librarian-project/librarian/core"
	"github.com/librarian-project/librarian/db"
	"github.com/librarian-project/librarian/journal"
	"github.com/librarian-project/librarian/transfers"
)

//-----------
// Consumer
//-----------

type queueConsumerTask struct {
}

func NewQueueConsumer() Task {
	return &queueConsumerTask{}
}

func (t *queueConsumerTask) Name() string {
	return "send-queue-consumer"
}

func (t *queueConsumerTask) Run(gormDB *gorm.DB, deadline time.Time) error {
	for {
		if time.Now().After(deadline) {
			slog.Debug(fmt.Sprintf("%s: soft timeout reached, yielding", t.Name()))
			return nil
		}
		var processed, retry bool
		err := db.ReserveNextQueueItem(gormDB, func(tx *gorm.DB,
			item *db.SendQueueItem) error {
			processed = true
			var err error
			retry, err = consumeItem(tx, item)
			return err
		})
		if err != nil {
			return err
		}
		// an empty queue ends the run; so does a failed batch, since the
		// reservation order would hand the same row right back
		if !processed || retry {
			return nil
		}
	}
}

// starts one reserved batch on its async transfer manager; returns whether
// the batch failed and should be retried on a later run
func consumeItem(tx *gorm.DB, item *db.SendQueueItem) (bool, error) {
	manager, err := transfers.UnmarshalAsyncManager(item.AsyncTransferManager)
	if err != nil {
		// the stored manager state is unusable, so the batch can never start
		db.LogError(tx, core.SeverityCritical, core.CategoryProgramming,
			fmt.Sprintf("send queue item %d has an unreadable transfer manager: %s",
				item.Id, err))
		return false, settleFailedItem(tx, nil, item, "unreadable transfer manager")
	}
	children, err := db.QueueItemTransfers(tx, item)
	if err != nil {
		return false, err
	}

	pairs := make([]transfers.TransferPair, len(children))
	for i, child := range children {
		pairs[i] = transfers.TransferPair{
			Source:      child.SourcePath,
			Destination: child.DestPath,
		}
	}
	if err := manager.BatchTransfer(pairs); err != nil {
		item.Retries++
		if saveErr := tx.Save(item).Error; saveErr != nil {
			return true, saveErr
		}
		slog.Warn(fmt.Sprintf("Send queue item %d failed to start (attempt %d): %s",
			item.Id, item.Retries, err))
		return true, nil
	}

	// the manager may have acquired state (a remote task id) that the
	// checker needs, so it is re-serialized alongside the consumed flag
	state, err := transfers.MarshalAsyncManager(manager)
	if err != nil {
		return false, err
	}
	slog.Info(fmt.Sprintf("Send queue item %d started (%d file(s) to %s)",
		item.Id, len(children), item.DestinationName))
	return false, db.MarkQueueItemConsumed(tx, item, state)
}

//---------------------
// Completion checker
//---------------------

type queueCheckerTask struct {
}

func NewQueueChecker() Task {
	return &queueCheckerTask{}
}

func (t *queueCheckerTask) Name() string {
	return "send-queue-checker"
}

func (t *queueCheckerTask) Run(gormDB *gorm.DB, deadline time.Time) error {
	items, err := db.ConsumedIncompleteQueueItems(gormDB)
	if err != nil {
		return err
	}
	for i := range items {
		if time.Now().After(deadline) {
			slog.Debug(fmt.Sprintf("%s: soft timeout reached, yielding", t.Name()))
			break
		}
		t.checkItem(gormDB, &items[i])
	}
	return nil
}

// polls one consumed batch's async transfer manager and settles the batch
// if it has finished
func (t *queueCheckerTask) checkItem(gormDB *gorm.DB, item *db.SendQueueItem) {
	manager, err := transfers.UnmarshalAsyncManager(item.AsyncTransferManager)
	if err != nil {
		db.LogError(gormDB, core.SeverityCritical, core.CategoryProgramming,
			fmt.Sprintf("send queue item %d has an unreadable transfer manager: %s",
				item.Id, err))
		if err := settleFailedItem(gormDB, nil, item,
			"unreadable transfer manager"); err != nil {
			slog.Error(err.Error())
		}
		return
	}
	status, err := manager.Status()
	if err != nil {
		slog.Warn(fmt.Sprintf("Couldn't poll send queue item %d: %s", item.Id, err))
		return
	}

	switch status {
	case core.StatusCompleted:
		if err := t.settleCompleted(gormDB, item); err != nil {
			slog.Warn(fmt.Sprintf("Couldn't settle send queue item %d: %s",
				item.Id, err))
		}
	case core.StatusFailed:
		children, err := db.QueueItemTransfers(gormDB, item)
		if err != nil {
			slog.Error(err.Error())
			return
		}
		if err := settleFailedItem(gormDB, children, item,
			"asynchronous transfer failed"); err != nil {
			slog.Error(err.Error())
		}
	default:
		// still running; check again next tick
	}
}

// settles a batch whose bytes have all arrived: the destination's
// transfers move to STAGED first, then ours, then the item closes
func (t *queueCheckerTask) settleCompleted(gormDB *gorm.DB,
	item *db.SendQueueItem) error {

	children, err := db.QueueItemTransfers(gormDB, item)
	if err != nil {
		return err
	}
	peer, err := peerClient(gormDB, item.DestinationName)
	if err != nil {
		return err
	}

	remoteIds := make([]int64, 0, len(children))
	for _, child := range children {
		if child.RemoteTransferId != nil {
			remoteIds = append(remoteIds, *child.RemoteTransferId)
		}
	}
	// if the peer misses this update the item stays open for another try
	_, err = peer.CheckinUpdate(api.CheckinUpdateRequest{
		DestinationTransferIds: remoteIds,
		NewStatus:              core.StatusStaged,
	})
	if err != nil {
		return err
	}

	for i := range children {
		if err := db.SetOutgoingTransferStatus(gormDB, &children[i],
			core.StatusStaged); err != nil {
			slog.Warn(err.Error())
		}
	}
	if err := db.MarkQueueItemCompleted(gormDB, item, false); err != nil {
		return err
	}
	slog.Info(fmt.Sprintf("Send queue item %d staged %d file(s) on %s",
		item.Id, len(children), item.DestinationName))
	journalSettledItem(item, children, "succeeded")
	return nil
}

// fails every child of a queue item (with a best-effort callback to the
// destination) and closes the item as failed
func settleFailedItem(gormDB *gorm.DB, children []db.OutgoingTransfer,
	item *db.SendQueueItem, reason string) error {

	if children == nil {
		var err error
		children, err = db.QueueItemTransfers(gormDB, item)
		if err != nil {
			return err
		}
	}
	peer, peerErr := peerClient(gormDB, item.DestinationName)
	for i := range children {
		child := &children[i]
		if peerErr == nil && child.RemoteTransferId != nil {
			if err := peer.CloneFail(child.Id, *child.RemoteTransferId,
				reason); err != nil {
				slog.Warn(err.Error())
			}
		}
		failOutgoingTransfer(gormDB, child, reason)
	}
	if err := db.MarkQueueItemCompleted(gormDB, item, true); err != nil {
		return err
	}
	journalSettledItem(item, children, "failed")
	return nil
}

// writes a settled queue item to the transfer journal
func journalSettledItem(item *db.SendQueueItem,
	children []db.OutgoingTransfer, status string) {

	if !journal.IsOpen() {
		return
	}
	record := journal.Record{
		Id:        uuid.New(),
		Kind:      "send",
		Peer:      item.DestinationName,
		Status:    status,
		StartTime: item.CreatedTime,
		StopTime:  time.Now().UTC(),
		NumFiles:  len(children),
	}
	resources := make([]map[string]any, 0, len(children))
	for _, child := range children {
		record.PayloadSize += child.TransferSize
		resources = append(resources, map[string]any{
			"name":  fmt.Sprintf("transfer-%d", child.Id),
			"path":  child.FileName,
			"bytes": child.TransferSize,
			"hash":  child.TransferChecksum.String(),
		})
	}
	if status == "succeeded" {
		manifest, err := journal.NewManifest(
			fmt.Sprintf("send-queue-item-%d", item.Id), resources)
		if err != nil {
			slog.Warn(fmt.Sprintf("Couldn't build manifest for queue item %d: %s",
				item.Id, err))
		} else {
			record.Manifest = manifest
		}
	}
	if err := journal.RecordTransfer(record); err != nil {
		slog.Warn(fmt.Sprintf("Couldn't journal queue item %d: %s", item.Id, err))
	}
}
