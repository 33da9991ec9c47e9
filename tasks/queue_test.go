package tasks

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"github.com/librarian-project/librarian/api"
	"github.com/librarian-project/librarian/core"
	"github.com/librarian-project/librarian/db"
	"github.com/librarian-project/librarian/journal"
	"github.com/librarian-project/librarian/transfers"
)

// enqueues one batch bound for peer-a: a local async manager plus one
// child transfer moving the given bytes to destPath
func seedQueueItem(t *testing.T, gormDB *gorm.DB, manager transfers.AsyncManager,
	sourcePath, destPath string, size int64) (*db.SendQueueItem, *db.OutgoingTransfer) {

	state, err := transfers.MarshalAsyncManager(manager)
	assert.Nil(t, err)
	item := db.SendQueueItem{
		DestinationName:      "peer-a",
		CreatedTime:          time.Now().UTC(),
		AsyncTransferManager: state,
	}
	assert.Nil(t, gormDB.Create(&item).Error)

	remoteId := int64(1000)
	checksum, err := core.ChecksumPath(sourcePath, "md5")
	if err != nil {
		checksum = core.Checksum{Algorithm: "md5"}
	}
	transfer := db.OutgoingTransfer{
		Status:           core.StatusOngoing,
		DestinationName:  "peer-a",
		RemoteTransferId: &remoteId,
		FileName:         "obs/a.txt",
		SourcePath:       sourcePath,
		DestPath:         destPath,
		TransferSize:     size,
		TransferChecksum: checksum,
		SendQueueItemId:  &item.Id,
		StartTime:        time.Now().UTC(),
	}
	assert.Nil(t, gormDB.Create(&transfer).Error)
	return &item, &transfer
}

// tests that the consumer reserves a queue item, performs the batch with
// its revived manager, and persists the manager's acquired state
func TestQueueConsumer(t *testing.T) {
	gormDB := taskSetup(t)
	work := t.TempDir()
	sourcePath, err := os.CreateTemp(work, "source-")
	assert.Nil(t, err)
	assert.Nil(t, os.WriteFile(sourcePath.Name(), []byte("payload bytes"), 0644))
	sourcePath.Close()
	destPath := filepath.Join(work, "dest", "a.txt")

	item, _ := seedQueueItem(t, gormDB, &transfers.LocalAsyncManager{},
		sourcePath.Name(), destPath, 13)

	task := NewQueueConsumer()
	assert.Nil(t, task.Run(gormDB, noDeadline()))

	// the bytes moved and the item is consumed but not yet completed
	copied, err := os.ReadFile(destPath)
	assert.Nil(t, err)
	assert.Equal(t, "payload bytes", string(copied))

	assert.Nil(t, gormDB.First(item, item.Id).Error)
	assert.True(t, item.Consumed)
	assert.False(t, item.Completed)

	manager, err := transfers.UnmarshalAsyncManager(item.AsyncTransferManager)
	assert.Nil(t, err)
	status, err := manager.Status()
	assert.Nil(t, err)
	assert.Equal(t, core.StatusCompleted, status)
}

// tests that a batch that cannot start is retried on a later run rather
// than spinning within one
func TestQueueConsumerRetriesFailedStart(t *testing.T) {
	gormDB := taskSetup(t)
	item, transfer := seedQueueItem(t, gormDB, &transfers.LocalAsyncManager{},
		filepath.Join(t.TempDir(), "missing.txt"),
		filepath.Join(t.TempDir(), "dest.txt"), 13)

	task := NewQueueConsumer()
	assert.Nil(t, task.Run(gormDB, noDeadline()))

	assert.Nil(t, gormDB.First(item, item.Id).Error)
	assert.False(t, item.Consumed)
	assert.Equal(t, 1, item.Retries)
	assert.Nil(t, gormDB.First(transfer, transfer.Id).Error)
	assert.Equal(t, core.StatusOngoing, transfer.Status)
}

// tests that the checker settles a finished batch: the peer's transfers
// move to STAGED first, then ours, and the settled batch is journaled
func TestQueueCheckerSettlesCompleted(t *testing.T) {
	gormDB := taskSetup(t)
	assert.Nil(t, journal.Init())
	defer journal.Finalize()

	var updated api.CheckinUpdateRequest
	testPeer(t, gormDB, "peer-a", map[string]http.HandlerFunc{
		"/checkin/update": func(w http.ResponseWriter, r *http.Request) {
			decodeJSON(t, r, &updated)
			respondJSON(w, api.CheckinUpdateResponse{})
		},
	})

	item, transfer := seedQueueItem(t, gormDB,
		&transfers.LocalAsyncManager{Complete: true}, "unused", "unused", 13)
	assert.Nil(t, db.MarkQueueItemConsumed(gormDB, item, item.AsyncTransferManager))

	start := time.Now().UTC()
	task := NewQueueChecker()
	assert.Nil(t, task.Run(gormDB, noDeadline()))

	assert.Equal(t, []int64{1000}, updated.DestinationTransferIds)
	assert.Equal(t, core.StatusStaged, updated.NewStatus)

	assert.Nil(t, gormDB.First(transfer, transfer.Id).Error)
	assert.Equal(t, core.StatusStaged, transfer.Status)
	assert.Nil(t, gormDB.First(item, item.Id).Error)
	assert.True(t, item.Completed)
	assert.False(t, item.Failed)

	records, err := journal.Records(start.Add(-time.Minute), start.Add(time.Minute))
	assert.Nil(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, "send", records[0].Kind)
	assert.Equal(t, "peer-a", records[0].Peer)
	assert.Equal(t, "succeeded", records[0].Status)
	assert.Equal(t, 1, records[0].NumFiles)
	assert.NotNil(t, records[0].Manifest)
}

// tests that the checker fails a dead batch on both sides
func TestQueueCheckerSettlesFailed(t *testing.T) {
	gormDB := taskSetup(t)

	var failed api.CloneFailRequest
	testPeer(t, gormDB, "peer-a", map[string]http.HandlerFunc{
		"/clone/fail": func(w http.ResponseWriter, r *http.Request) {
			decodeJSON(t, r, &failed)
			respondJSON(w, struct{}{})
		},
	})

	item, transfer := seedQueueItem(t, gormDB,
		&transfers.LocalAsyncManager{Complete: true, Failed: true},
		"unused", "unused", 13)
	assert.Nil(t, db.MarkQueueItemConsumed(gormDB, item, item.AsyncTransferManager))

	task := NewQueueChecker()
	assert.Nil(t, task.Run(gormDB, noDeadline()))

	assert.Equal(t, int64(1000), failed.DestinationTransferId)
	assert.Nil(t, gormDB.First(transfer, transfer.Id).Error)
	assert.Equal(t, core.StatusFailed, transfer.Status)
	assert.Nil(t, gormDB.First(item, item.Id).Error)
	assert.True(t, item.Completed)
	assert.True(t, item.Failed)
}

// tests that a finished batch stays open when the peer misses the STAGED
// update, so settlement can be retried
func TestQueueCheckerKeepsItemOnPeerFailure(t *testing.T) {
	gormDB := taskSetup(t)

	// peer-a is never registered, so the checkin update cannot be delivered
	item, transfer := seedQueueItem(t, gormDB,
		&transfers.LocalAsyncManager{Complete: true}, "unused", "unused", 13)
	assert.Nil(t, db.MarkQueueItemConsumed(gormDB, item, item.AsyncTransferManager))

	task := NewQueueChecker()
	assert.Nil(t, task.Run(gormDB, noDeadline()))

	assert.Nil(t, gormDB.First(item, item.Id).Error)
	assert.False(t, item.Completed)
	assert.Nil(t, gormDB.First(transfer, transfer.Id).Error)
	assert.Equal(t, core.StatusOngoing, transfer.Status)
}
