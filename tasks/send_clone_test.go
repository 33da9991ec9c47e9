package tasks

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/librarian-project/librarian/api"
	"github.com/librarian-project/librarian/config"
	"github.com/librarian-project/librarian/core"
	"github.com/librarian-project/librarian/db"
	"github.com/librarian-project/librarian/transfers"
)

// tests the happy path: a batch is staged on the peer, bound to a send
// queue item, and both sides move to ONGOING
func TestSendCloneStagesBatch(t *testing.T) {
	gormDB := taskSetup(t)
	file, _ := seedInstance(t, gormDB, "store1", "obs/a.txt",
		"some observation data", time.Now().UTC())
	stagingRoot := t.TempDir()

	var updated api.CheckinUpdateRequest
	testPeer(t, gormDB, "peer-a", map[string]http.HandlerFunc{
		"/clone/batch_stage": func(w http.ResponseWriter, r *http.Request) {
			var request api.CloneBatchStageRequest
			assert.Nil(t, json.NewDecoder(r.Body).Decode(&request))
			response := api.CloneBatchStageResponse{
				StoreName: "peer-store",
				AsyncTransferProviders: map[string]config.AsyncTransferManagerConfig{
					"shared": {TransferType: "local"},
				},
			}
			for i, upload := range request.Uploads {
				response.Uploads = append(response.Uploads, api.CloneStageResponse{
					StoreName:             "peer-store",
					StagingLocation:       filepath.Join(stagingRoot, upload.UploadName),
					UploadName:            upload.UploadName,
					DestinationLocation:   upload.DestinationLocation,
					SourceTransferId:      upload.SourceTransferId,
					DestinationTransferId: int64(1000 + i),
				})
			}
			respondJSON(w, response)
		},
		"/checkin/update": func(w http.ResponseWriter, r *http.Request) {
			assert.Nil(t, json.NewDecoder(r.Body).Decode(&updated))
			respondJSON(w, api.CheckinUpdateResponse{})
		},
	})

	task := NewSendClone(config.SendCloneConfig{
		Destination: "peer-a",
		AgeInDays:   7,
	})
	assert.Nil(t, task.Run(gormDB, noDeadline()))

	var transfer db.OutgoingTransfer
	assert.Nil(t, gormDB.First(&transfer, "file_name = ?", file.Name).Error)
	assert.Equal(t, core.StatusOngoing, transfer.Status)
	assert.NotNil(t, transfer.RemoteTransferId)
	assert.Equal(t, int64(1000), *transfer.RemoteTransferId)
	assert.NotNil(t, transfer.SendQueueItemId)
	assert.Equal(t, filepath.Join(stagingRoot, "a.txt"), transfer.DestPath)

	// the peer was told its side is ONGOING
	assert.Equal(t, []int64{1000}, updated.DestinationTransferIds)
	assert.Equal(t, core.StatusOngoing, updated.NewStatus)

	// the queue item revives to a usable local transfer manager
	var item db.SendQueueItem
	assert.Nil(t, gormDB.First(&item, *transfer.SendQueueItemId).Error)
	assert.Equal(t, "peer-a", item.DestinationName)
	assert.False(t, item.Consumed)
	manager, err := transfers.UnmarshalAsyncManager(item.AsyncTransferManager)
	assert.Nil(t, err)
	assert.IsType(t, &transfers.LocalAsyncManager{}, manager)
}

// tests that a rejected batch is reconciled against the peer's catalog: a
// peer that already holds the file yields a remote instance record
func TestSendCloneReconcilesRejection(t *testing.T) {
	gormDB := taskSetup(t)
	file, _ := seedInstance(t, gormDB, "store1", "obs/b.txt",
		"already replicated", time.Now().UTC())

	testPeer(t, gormDB, "peer-a", map[string]http.HandlerFunc{
		"/clone/batch_stage": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			respondJSON(w, api.CloneFailedResponse{
				Reason:          "file already exists",
				SuggestedRemedy: "do not resend",
			})
		},
		"/search/file": func(w http.ResponseWriter, r *http.Request) {
			respondJSON(w, []api.FileResult{{
				Name:     file.Name,
				Size:     file.Size,
				Checksum: file.Checksum,
				Instances: []api.InstanceResult{
					{StoreName: "peer-store", Available: true},
				},
			}})
		},
	})

	task := NewSendClone(config.SendCloneConfig{
		Destination: "peer-a",
		AgeInDays:   7,
	})
	assert.NotNil(t, task.Run(gormDB, noDeadline()))

	var transfer db.OutgoingTransfer
	assert.Nil(t, gormDB.First(&transfer, "file_name = ?", file.Name).Error)
	assert.Equal(t, core.StatusCompleted, transfer.Status)

	var remote db.RemoteInstance
	assert.Nil(t, gormDB.First(&remote, "file_name = ?", file.Name).Error)
	assert.Equal(t, "peer-a", remote.LibrarianName)
	assert.Equal(t, "peer-store", remote.RemoteStoreId)
}

// tests that a file with no available instance is skipped, and that the
// run still terminates
func TestSendCloneSkipsUnavailableInstances(t *testing.T) {
	gormDB := taskSetup(t)
	file, instance := seedInstance(t, gormDB, "store1", "obs/c.txt", "content",
		time.Now().UTC())
	instance.Available = false
	assert.Nil(t, gormDB.Save(instance).Error)

	testPeer(t, gormDB, "peer-a", map[string]http.HandlerFunc{})

	task := NewSendClone(config.SendCloneConfig{
		Destination: "peer-a",
		AgeInDays:   7,
	})
	assert.Nil(t, task.Run(gormDB, noDeadline()))

	var count int64
	assert.Nil(t, gormDB.Model(&db.OutgoingTransfer{}).
		Where("file_name = ?", file.Name).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}
