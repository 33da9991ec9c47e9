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
	"path/filepath"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/librarian-project/librarian/api"
	"github.com/librarian-project/librarian/client"
	"github.com/librarian-project/librarian/config"
	"github.com/librarian-project/librarian/core"
	"github.com/librarian-project/librarian/db"
	"github.com/librarian-project/librarian/transfers"
)

// This task pushes recent files to one peer librarian. Each run stages a
// batch on the peer, binds the accepted transfers to a send-queue row,
// and moves both sides to ONGOING; the queue consumer and checker then
// carry the batch the rest of the way.
type sendCloneTask struct {
	conf config.SendCloneConfig
	// files skipped this run (no usable instance), excluded from
	// subsequent batch queries so a run always terminates
	skipped []string
}

func NewSendClone(conf config.SendCloneConfig) Task {
	return &sendCloneTask{conf: conf}
}

func (t *sendCloneTask) Name() string {
	return fmt.Sprintf("send-clone(%s)", t.conf.Destination)
}

func (t *sendCloneTask) Run(gormDB *gorm.DB, deadline time.Time) error {
	peer, err := peerClient(gormDB, t.conf.Destination)
	if err != nil {
		return err
	}
	t.skipped = nil

	batchSize := t.conf.SendBatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	cutoff := time.Now().AddDate(0, 0, -t.conf.AgeInDays)

	for {
		if time.Now().After(deadline) {
			slog.Debug(fmt.Sprintf("%s: soft timeout reached, yielding", t.Name()))
			return nil
		}
		files, err := t.eligibleFiles(gormDB, cutoff, batchSize)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return nil
		}
		progressed, err := t.sendBatch(gormDB, peer, files)
		if err != nil {
			return err
		}
		if !progressed {
			// everything left was skipped; no point querying again
			return nil
		}
	}
}

// selects files younger than the cutoff that neither have a copy at the
// destination nor a live transfer toward it
func (t *sendCloneTask) eligibleFiles(gormDB *gorm.DB, cutoff time.Time,
	limit int) ([]db.File, error) {

	terminal := []core.TransferStatus{
		core.StatusCompleted, core.StatusFailed, core.StatusCancelled,
	}
	query := gormDB.Model(&db.File{}).Preload("Instances").
		Where("create_time >= ?", cutoff).
		Where("NOT EXISTS (SELECT 1 FROM remote_instances WHERE remote_instances.file_name = files.name AND remote_instances.librarian_name = ?)",
			t.conf.Destination).
		Where("NOT EXISTS (SELECT 1 FROM outgoing_transfers WHERE outgoing_transfers.file_name = files.name AND outgoing_transfers.destination_name = ? AND outgoing_transfers.status NOT IN ?)",
			t.conf.Destination, terminal).
		Order("create_time asc").Limit(limit)
	if len(t.skipped) > 0 {
		query = query.Where("name NOT IN ?", t.skipped)
	}

	var files []db.File
	result := query.Find(&files)
	return files, result.Error
}

// stages one batch on the peer and enqueues the accepted transfers
func (t *sendCloneTask) sendBatch(gormDB *gorm.DB, peer *client.LibrarianClient,
	files []db.File) (bool, error) {

	now := time.Now().UTC()
	var uploads []api.CloneStageRequest
	byId := make(map[int64]*db.OutgoingTransfer)

	for i := range files {
		file := &files[i]
		instance := t.pickInstance(file)
		if instance == nil {
			t.skipped = append(t.skipped, file.Name)
			slog.Warn(fmt.Sprintf("%s: no available instance of %s to send",
				t.Name(), file.Name))
			continue
		}
		transfer := &db.OutgoingTransfer{
			Status:           core.StatusInitiated,
			DestinationName:  t.conf.Destination,
			FileName:         file.Name,
			InstanceId:       instance.Id,
			SourcePath:       instance.Path,
			TransferSize:     file.Size,
			TransferChecksum: file.Checksum,
			StartTime:        now,
		}
		if err := gormDB.Create(transfer).Error; err != nil {
			return false, err
		}
		byId[transfer.Id] = transfer
		uploads = append(uploads, api.CloneStageRequest{
			DestinationLocation: file.Name,
			UploadSize:          file.Size,
			UploadChecksum:      file.Checksum,
			UploadName:          filepath.Base(file.Name),
			Uploader:            file.Uploader,
			Source:              config.Service.Name,
			SourceTransferId:    transfer.Id,
		})
	}
	if len(uploads) == 0 {
		return false, nil
	}

	response, err := peer.CloneBatchStage(api.CloneBatchStageRequest{Uploads: uploads})
	if err != nil {
		// the whole batch was turned away; reconcile each transfer
		// individually before giving up on the run
		for _, transfer := range byId {
			t.reconcileRejected(gormDB, peer, transfer)
		}
		return false, fmt.Errorf("batch stage on %s failed: %w",
			t.conf.Destination, err)
	}

	// accepted transfers learn their remote ids and staging destinations;
	// the rest are reconciled against the peer's catalog
	var accepted []*db.OutgoingTransfer
	for _, entry := range response.Uploads {
		transfer, found := byId[entry.SourceTransferId]
		if !found {
			continue
		}
		remoteId := entry.DestinationTransferId
		transfer.RemoteTransferId = &remoteId
		transfer.DestPath = entry.StagingLocation
		if err := gormDB.Save(transfer).Error; err != nil {
			return true, err
		}
		accepted = append(accepted, transfer)
		delete(byId, entry.SourceTransferId)
	}
	for _, transfer := range byId {
		t.reconcileRejected(gormDB, peer, transfer)
	}
	if len(accepted) == 0 {
		return true, nil
	}

	manager := pickAsyncManager(response.AsyncTransferProviders)
	if manager == nil {
		for _, transfer := range accepted {
			if transfer.RemoteTransferId != nil {
				if err := peer.CloneFail(transfer.Id, *transfer.RemoteTransferId,
					"no usable transfer provider"); err != nil {
					slog.Warn(err.Error())
				}
			}
			failOutgoingTransfer(gormDB, transfer, "no usable transfer provider")
		}
		return true, fmt.Errorf("%s advertises no transfer provider usable from this host",
			t.conf.Destination)
	}
	state, err := transfers.MarshalAsyncManager(manager)
	if err != nil {
		return true, err
	}

	item := db.SendQueueItem{
		DestinationName:      t.conf.Destination,
		CreatedTime:          now,
		AsyncTransferManager: state,
	}
	if err := gormDB.Create(&item).Error; err != nil {
		return true, err
	}
	remoteIds := make([]int64, 0, len(accepted))
	for _, transfer := range accepted {
		transfer.SendQueueItemId = &item.Id
		if err := gormDB.Save(transfer).Error; err != nil {
			return true, err
		}
		remoteIds = append(remoteIds, *transfer.RemoteTransferId)
	}

	// both sides move to ONGOING; if the peer misses the update its
	// hypervisor will catch the transfer up later
	_, err = peer.CheckinUpdate(api.CheckinUpdateRequest{
		DestinationTransferIds: remoteIds,
		NewStatus:              core.StatusOngoing,
	})
	if err != nil {
		slog.Warn(fmt.Sprintf("%s: couldn't mark peer transfers ongoing: %s",
			t.Name(), err))
	}
	for _, transfer := range accepted {
		if err := db.SetOutgoingTransferStatus(gormDB, transfer,
			core.StatusOngoing); err != nil {
			slog.Warn(err.Error())
		}
	}
	slog.Info(fmt.Sprintf("%s: queued %d file(s) as send queue item %d",
		t.Name(), len(accepted), item.Id))
	return true, nil
}

// handles a transfer the peer rejected during batch staging: if the peer
// already holds the file with a matching checksum, the copy is recorded
// as a remote instance; otherwise the transfer fails
func (t *sendCloneTask) reconcileRejected(gormDB *gorm.DB,
	peer *client.LibrarianClient, transfer *db.OutgoingTransfer) {

	results, err := peer.SearchFiles(api.SearchFilesRequest{Name: transfer.FileName})
	if err == nil && len(results) > 0 {
		if matches, err := results[0].Checksum.Matches(transfer.TransferChecksum); err == nil && matches {
			remoteStore := ""
			if len(results[0].Instances) > 0 {
				remoteStore = results[0].Instances[0].StoreName
			}
			err := gormDB.Create(&db.RemoteInstance{
				FileName:      transfer.FileName,
				LibrarianName: t.conf.Destination,
				RemoteStoreId: remoteStore,
				CopyTime:      time.Now().UTC(),
				Sender:        config.Service.Name,
			}).Error
			if err != nil {
				slog.Warn(err.Error())
			}
			if err := db.SetOutgoingTransferStatus(gormDB, transfer,
				core.StatusCompleted); err != nil {
				slog.Warn(err.Error())
			}
			slog.Info(fmt.Sprintf("%s already holds %s; recorded a remote instance",
				t.conf.Destination, transfer.FileName))
			return
		}
	}
	failOutgoingTransfer(gormDB, transfer,
		fmt.Sprintf("rejected by %s during staging", t.conf.Destination))
}

// picks an available instance of the file, preferring the configured store
func (t *sendCloneTask) pickInstance(file *db.File) *db.Instance {
	var fallback *db.Instance
	for i := range file.Instances {
		instance := &file.Instances[i]
		if !instance.Available {
			continue
		}
		if instance.StoreName == t.conf.StorePreference {
			return instance
		}
		if fallback == nil {
			fallback = instance
		}
	}
	return fallback
}

// picks the first advertised async transfer provider usable from this
// host, in name order for determinism
func pickAsyncManager(providers map[string]config.AsyncTransferManagerConfig) transfers.AsyncManager {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		manager, err := transfers.NewAsyncManager(providers[name])
		if err == nil && manager.Valid() {
			return manager
		}
	}
	return nil
}
