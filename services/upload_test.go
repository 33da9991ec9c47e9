package services

import (
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/librarian-project/librarian/api"
	"github.com/librarian-project/librarian/core"
	"github.com/librarian-project/librarian/db"
)

// tests the full stage-write-commit round trip for a client upload
func TestUploadRoundTrip(t *testing.T) {
	service, gormDB := serviceSetup(t)
	content := "the quick brown fox"

	recorder := doPost(t, service, "client", "password", "/upload/stage",
		api.UploadStageRequest{
			DestinationLocation: "obs/fox.txt",
			UploadSize:          int64(len(content)),
			UploadChecksum:      checksumOf(t, content),
			UploadName:          "fox.txt",
		})
	assert.Equal(t, http.StatusCreated, recorder.Code)

	var staged api.UploadStageResponse
	decodeResponse(t, recorder, &staged)
	assert.Equal(t, "store1", staged.StoreName)
	assert.Equal(t, "obs/fox.txt", staged.DestinationLocation)
	assert.Contains(t, staged.TransferProviders, "shared")

	// the client moves the bytes into the staging area out of band
	assert.Nil(t, os.WriteFile(staged.StagingLocation, []byte(content), 0644))

	recorder = doPost(t, service, "client", "password", "/upload/commit",
		api.UploadCommitRequest{
			TransferId:           staged.TransferId,
			TransferProviderName: "shared",
		})
	assert.Equal(t, http.StatusOK, recorder.Code)

	var file db.File
	assert.Nil(t, gormDB.Preload("Instances").
		First(&file, "name = ?", "obs/fox.txt").Error)
	assert.Equal(t, "client", file.Uploader)
	assert.Equal(t, int64(len(content)), file.Size)
	assert.Len(t, file.Instances, 1)
	assert.Equal(t, core.DeletionDisallowed, file.Instances[0].DeletionPolicy)
	assert.True(t, file.Instances[0].Available)

	stored, err := os.ReadFile(file.Instances[0].Path)
	assert.Nil(t, err)
	assert.Equal(t, content, string(stored))

	var transfer db.IncomingTransfer
	assert.Nil(t, gormDB.First(&transfer, staged.TransferId).Error)
	assert.Equal(t, core.StatusCompleted, transfer.Status)
}

// tests that an upload size must be positive and within the configured
// maximum
func TestUploadRejectsBadSizes(t *testing.T) {
	service, _ := serviceSetup(t)

	recorder := doPost(t, service, "client", "password", "/upload/stage",
		api.UploadStageRequest{
			DestinationLocation: "obs/empty.txt",
			UploadSize:          0,
			UploadName:          "empty.txt",
		})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = doPost(t, service, "client", "password", "/upload/stage",
		api.UploadStageRequest{
			DestinationLocation: "obs/huge.txt",
			UploadSize:          2 << 30,
			UploadName:          "huge.txt",
		})
	assert.Equal(t, http.StatusRequestEntityTooLarge, recorder.Code)
}

// tests that a destination name already held by a file is refused
func TestUploadRejectsExistingName(t *testing.T) {
	service, gormDB := serviceSetup(t)
	seedCatalogFile(t, gormDB, "store1", "obs/taken.txt", "already here")

	recorder := doPost(t, service, "client", "password", "/upload/stage",
		api.UploadStageRequest{
			DestinationLocation: "obs/taken.txt",
			UploadSize:          5,
			UploadName:          "taken.txt",
		})
	assert.Equal(t, http.StatusConflict, recorder.Code)
}

// tests that restaging the same bytes for the same destination fails the
// prior in-flight transfer
func TestUploadSupersedesPriorStage(t *testing.T) {
	service, gormDB := serviceSetup(t)
	content := "restaged payload"
	request := api.UploadStageRequest{
		DestinationLocation: "obs/again.txt",
		UploadSize:          int64(len(content)),
		UploadChecksum:      checksumOf(t, content),
		UploadName:          "again.txt",
	}

	recorder := doPost(t, service, "client", "password", "/upload/stage", request)
	assert.Equal(t, http.StatusCreated, recorder.Code)
	var first api.UploadStageResponse
	decodeResponse(t, recorder, &first)

	recorder = doPost(t, service, "client", "password", "/upload/stage", request)
	assert.Equal(t, http.StatusCreated, recorder.Code)
	var second api.UploadStageResponse
	decodeResponse(t, recorder, &second)
	assert.NotEqual(t, first.TransferId, second.TransferId)

	var prior db.IncomingTransfer
	assert.Nil(t, gormDB.First(&prior, first.TransferId).Error)
	assert.Equal(t, core.StatusFailed, prior.Status)
	_, err := os.Stat(first.StagingLocation)
	assert.True(t, os.IsNotExist(err))
}

// tests that committing before the bytes arrive is a 404 that leaves the
// transfer open, so a later commit can still succeed
func TestUploadCommitMissingBytes(t *testing.T) {
	service, gormDB := serviceSetup(t)
	content := "late payload"

	recorder := doPost(t, service, "client", "password", "/upload/stage",
		api.UploadStageRequest{
			DestinationLocation: "obs/late.txt",
			UploadSize:          int64(len(content)),
			UploadChecksum:      checksumOf(t, content),
			UploadName:          "late.txt",
		})
	assert.Equal(t, http.StatusCreated, recorder.Code)
	var staged api.UploadStageResponse
	decodeResponse(t, recorder, &staged)

	// commit with nothing in the staging area
	recorder = doPost(t, service, "client", "password", "/upload/commit",
		api.UploadCommitRequest{TransferId: staged.TransferId})
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	var transfer db.IncomingTransfer
	assert.Nil(t, gormDB.First(&transfer, staged.TransferId).Error)
	assert.False(t, transfer.Status.Terminal())

	// deliver the bytes and retry
	assert.Nil(t, os.WriteFile(staged.StagingLocation, []byte(content), 0644))
	recorder = doPost(t, service, "client", "password", "/upload/commit",
		api.UploadCommitRequest{TransferId: staged.TransferId})
	assert.Equal(t, http.StatusOK, recorder.Code)

	var count int64
	assert.Nil(t, gormDB.Model(&db.File{}).
		Where("name = ?", "obs/late.txt").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

// tests commit error handling: unknown ids, corrupted bytes, and
// already-settled transfers
func TestUploadCommitErrors(t *testing.T) {
	service, gormDB := serviceSetup(t)

	recorder := doPost(t, service, "client", "password", "/upload/commit",
		api.UploadCommitRequest{TransferId: 9999})
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	// stage an upload but deliver the wrong bytes
	content := "expected payload"
	recorder = doPost(t, service, "client", "password", "/upload/stage",
		api.UploadStageRequest{
			DestinationLocation: "obs/corrupt.txt",
			UploadSize:          int64(len(content)),
			UploadChecksum:      checksumOf(t, content),
			UploadName:          "corrupt.txt",
		})
	assert.Equal(t, http.StatusCreated, recorder.Code)
	var staged api.UploadStageResponse
	decodeResponse(t, recorder, &staged)
	assert.Nil(t, os.WriteFile(staged.StagingLocation, []byte("tampered!"), 0644))

	recorder = doPost(t, service, "client", "password", "/upload/commit",
		api.UploadCommitRequest{TransferId: staged.TransferId})
	assert.Equal(t, http.StatusNotAcceptable, recorder.Code)

	var count int64
	assert.Nil(t, gormDB.Model(&db.File{}).
		Where("name = ?", "obs/corrupt.txt").Count(&count).Error)
	assert.Equal(t, int64(0), count)

	// a terminal transfer cannot be committed again
	var transfer db.IncomingTransfer
	assert.Nil(t, gormDB.First(&transfer, staged.TransferId).Error)
	assert.Nil(t, db.SetIncomingTransferStatus(gormDB, &transfer, core.StatusFailed))
	recorder = doPost(t, service, "client", "password", "/upload/commit",
		api.UploadCommitRequest{TransferId: staged.TransferId})
	assert.Equal(t, http.StatusNotAcceptable, recorder.Code)
}
