package tasks

import (
	"errors"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"github.com/librarian-project/librarian/api"
	"github.com/librarian-project/librarian/config"
	"github.com/librarian-project/librarian/core"
	"github.com/librarian-project/librarian/db"
	"github.com/librarian-project/librarian/store"
)

// stages clone bytes on store1 and records the matching STAGED transfer
// from the given source peer
func seedStagedClone(t *testing.T, gormDB *gorm.DB, name, content,
	source string, sourceTransferId int64) *db.IncomingTransfer {

	manager, err := store.NewManager("store1")
	assert.Nil(t, err)
	stagingName, stagingPath, err := manager.Stage(int64(len(content)), name)
	assert.Nil(t, err)
	assert.Nil(t, os.WriteFile(stagingPath, []byte(content), 0644))
	checksum, err := core.ChecksumPath(stagingPath, "md5")
	assert.Nil(t, err)

	transfer := db.IncomingTransfer{
		Status:           core.StatusStaged,
		Uploader:         "uploader",
		Source:           source,
		SourceTransferId: &sourceTransferId,
		UploadName:       name,
		TransferSize:     int64(len(content)),
		TransferChecksum: checksum,
		StoreName:        "store1",
		StagingName:      stagingName,
		StagingPath:      stagingPath,
		StorePath:        name,
		StartTime:        time.Now().UTC(),
	}
	assert.Nil(t, gormDB.Create(&transfer).Error)
	return &transfer
}

// tests that a staged clone is ingested with the configured deletion
// policy and acknowledged to its source
func TestReceiveClone(t *testing.T) {
	gormDB := taskSetup(t)
	transfer := seedStagedClone(t, gormDB, "obs/a.txt", "clone payload",
		"peer-a", 42)

	var completed api.CloneCompleteRequest
	testPeer(t, gormDB, "peer-a", map[string]http.HandlerFunc{
		"/clone/complete": func(w http.ResponseWriter, r *http.Request) {
			decodeJSON(t, r, &completed)
			respondJSON(w, struct{}{})
		},
	})

	task := NewReceiveClone(config.ReceiveCloneConfig{
		DeletionPolicy: "ALLOWED",
	})
	assert.Nil(t, task.Run(gormDB, noDeadline()))

	assert.Nil(t, gormDB.First(transfer, transfer.Id).Error)
	assert.Equal(t, core.StatusCompleted, transfer.Status)

	var file db.File
	assert.Nil(t, gormDB.Preload("Instances").
		First(&file, "name = ?", "obs/a.txt").Error)
	assert.Len(t, file.Instances, 1)
	assert.Equal(t, core.DeletionAllowed, file.Instances[0].DeletionPolicy)

	assert.Equal(t, int64(42), completed.SourceTransferId)
	assert.Equal(t, transfer.Id, completed.DestinationTransferId)
	assert.Equal(t, "store1", completed.DestinationStoreName)
}

// tests that a clone whose bytes fail verification is failed and reported
// to its source
func TestReceiveCloneReportsFailure(t *testing.T) {
	gormDB := taskSetup(t)
	transfer := seedStagedClone(t, gormDB, "obs/b.txt", "clone payload",
		"peer-a", 43)
	// corrupt the staged bytes after the checksum was recorded
	assert.Nil(t, os.WriteFile(transfer.StagingPath, []byte("tampered"), 0644))

	var failed api.CloneFailRequest
	testPeer(t, gormDB, "peer-a", map[string]http.HandlerFunc{
		"/clone/fail": func(w http.ResponseWriter, r *http.Request) {
			decodeJSON(t, r, &failed)
			respondJSON(w, struct{}{})
		},
	})

	task := NewReceiveClone(config.ReceiveCloneConfig{})
	assert.NotNil(t, task.Run(gormDB, noDeadline()))

	assert.Nil(t, gormDB.First(transfer, transfer.Id).Error)
	assert.Equal(t, core.StatusFailed, transfer.Status)
	assert.Equal(t, int64(43), failed.SourceTransferId)
	assert.Equal(t, transfer.Id, failed.DestinationTransferId)

	var count int64
	assert.Nil(t, gormDB.Model(&db.File{}).
		Where("name = ?", "obs/b.txt").Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

// tests that a staged clone whose bytes vanished is failed locally and
// reported to its source
func TestReceiveCloneFailsVanishedBytes(t *testing.T) {
	gormDB := taskSetup(t)
	transfer := seedStagedClone(t, gormDB, "obs/gone.txt", "clone payload",
		"peer-a", 44)
	assert.Nil(t, os.Remove(transfer.StagingPath))

	var failed api.CloneFailRequest
	testPeer(t, gormDB, "peer-a", map[string]http.HandlerFunc{
		"/clone/fail": func(w http.ResponseWriter, r *http.Request) {
			decodeJSON(t, r, &failed)
			respondJSON(w, struct{}{})
		},
	})

	task := NewReceiveClone(config.ReceiveCloneConfig{})
	assert.NotNil(t, task.Run(gormDB, noDeadline()))

	assert.Nil(t, gormDB.First(transfer, transfer.Id).Error)
	assert.Equal(t, core.StatusFailed, transfer.Status)
	assert.Equal(t, int64(44), failed.SourceTransferId)

	var count int64
	assert.Nil(t, gormDB.Model(&db.File{}).
		Where("name = ?", "obs/gone.txt").Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

// tests that an invalid deletion policy deschedules the task permanently
func TestReceiveCloneRejectsBadPolicy(t *testing.T) {
	gormDB := taskSetup(t)
	task := NewReceiveClone(config.ReceiveCloneConfig{
		DeletionPolicy: "SOMETIMES",
	})
	err := task.Run(gormDB, noDeadline())
	assert.True(t, errors.Is(err, ErrCancelTask))
}
