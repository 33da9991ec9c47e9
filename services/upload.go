package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/librarian-project/librarian/api"
	"github.com/librarian-project/librarian/auth"
	"github.com/librarian-project/librarian/config"
	"github.com/librarian-project/librarian/core"
	"github.com/librarian-project/librarian/db"
	"github.com/librarian-project/librarian/ingest"
	"github.com/librarian-project/librarian/store"
)

type UploadStageOutput struct {
	Body   api.UploadStageResponse `doc:"where to place the staged bytes and how"`
	Status int
}

// handler method for staging a client upload
func (service *librarianService) stageUpload(ctx context.Context,
	input *struct {
		Authorization string                 `header:"authorization"`
		Body          api.UploadStageRequest `doc:"the upload to stage"`
	}) (*UploadStageOutput, error) {

	user, err := service.authorize(input.Authorization, auth.LevelReadAppend)
	if err != nil {
		return nil, err
	}
	request := input.Body

	if request.UploadSize <= 0 {
		return nil, huma.Error400BadRequest(
			fmt.Sprintf("invalid upload size: %d", request.UploadSize))
	}
	if config.Service.MaxUploadSize > 0 &&
		request.UploadSize > config.Service.MaxUploadSize {
		return nil, huma.NewError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("upload of %d bytes exceeds the maximum of %d",
				request.UploadSize, config.Service.MaxUploadSize))
	}

	// a destination name can only ever hold one file
	var count int64
	err = service.db.Model(&db.File{}).
		Where("name = ?", request.DestinationLocation).Count(&count).Error
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, huma.Error409Conflict(
			fmt.Sprintf("a file named %s already exists", request.DestinationLocation))
	}

	// a fresh stage supersedes any prior in-flight transfer for the same
	// bytes and destination
	prior, err := db.FindLiveIncomingTransfer(service.db, request.UploadChecksum,
		request.DestinationLocation)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		service.failIncomingTransfer(prior)
	}

	manager := service.storeForUpload(request.UploadSize)
	if manager == nil {
		return nil, huma.NewError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("no store can accept %d bytes", request.UploadSize))
	}

	stagingName, stagingPath, err := manager.Stage(request.UploadSize,
		request.UploadName)
	if err != nil {
		return nil, err
	}

	uploader := request.Uploader
	if uploader == "" {
		uploader = user.Username
	}
	transfer := db.IncomingTransfer{
		Status:           core.StatusInitiated,
		Uploader:         uploader,
		Source:           config.Service.Name,
		UploadName:       request.UploadName,
		TransferSize:     request.UploadSize,
		TransferChecksum: request.UploadChecksum,
		StoreName:        manager.Name(),
		StagingName:      stagingName,
		StagingPath:      stagingPath,
		StorePath:        request.DestinationLocation,
		StartTime:        time.Now(),
	}
	if err := service.db.Create(&transfer).Error; err != nil {
		manager.Unstage(stagingName)
		return nil, err
	}

	slog.Info(fmt.Sprintf("Staged upload %d (%s, %d bytes) on store %s",
		transfer.Id, request.DestinationLocation, request.UploadSize,
		manager.Name()))
	return &UploadStageOutput{
		Body: api.UploadStageResponse{
			TransferId:          transfer.Id,
			StoreName:           manager.Name(),
			StagingName:         stagingName,
			StagingLocation:     stagingPath,
			UploadName:          request.UploadName,
			DestinationLocation: request.DestinationLocation,
			TransferProviders:   config.Stores[manager.Name()].TransferManagers,
		},
		Status: http.StatusCreated,
	}, nil
}

type UploadCommitOutput struct {
	Status int
}

// handler method for committing a staged upload
func (service *librarianService) commitUpload(ctx context.Context,
	input *struct {
		Authorization string                  `header:"authorization"`
		Body          api.UploadCommitRequest `doc:"the staged transfer to commit"`
	}) (*UploadCommitOutput, error) {

	if _, err := service.authorize(input.Authorization, auth.LevelReadAppend); err != nil {
		return nil, err
	}

	var transfer db.IncomingTransfer
	err := service.db.First(&transfer, "id = ?", input.Body.TransferId).Error
	if err != nil {
		return nil, huma.Error404NotFound(
			fmt.Sprintf("no transfer with id %d", input.Body.TransferId))
	}
	if transfer.Status.Terminal() {
		return nil, huma.Error406NotAcceptable(
			fmt.Sprintf("transfer %d is already %s", transfer.Id, transfer.Status))
	}

	transfer.TransferManagerName = input.Body.TransferProviderName
	// a retried commit finds the transfer already STAGED
	if transfer.Status != core.StatusStaged {
		if err := db.SetIncomingTransferStatus(service.db, &transfer,
			core.StatusStaged); err != nil {
			return nil, huma.Error406NotAcceptable(err.Error())
		}
	}

	manager, found := service.stores[transfer.StoreName]
	if !found {
		return nil, huma.Error500InternalServerError(
			fmt.Sprintf("transfer %d names unknown store %s",
				transfer.Id, transfer.StoreName))
	}

	if err := ingest.Ingest(service.db, manager, &transfer,
		core.DeletionDisallowed); err != nil {
		var missing ingest.MissingBytesError
		if errors.As(err, &missing) {
			return nil, huma.Error404NotFound(err.Error())
		}
		var verification ingest.VerificationError
		if errors.As(err, &verification) {
			return nil, huma.Error406NotAcceptable(err.Error())
		}
		var exists store.PathExistsError
		if errors.As(err, &exists) {
			return nil, huma.Error409Conflict(err.Error())
		}
		return nil, err
	}

	slog.Info(fmt.Sprintf("Committed upload %d as %s", transfer.Id,
		transfer.StorePath))
	return &UploadCommitOutput{Status: http.StatusOK}, nil
}

// marks an incoming transfer FAILED and releases its staging area
func (service *librarianService) failIncomingTransfer(transfer *db.IncomingTransfer) {
	if manager, found := service.stores[transfer.StoreName]; found {
		manager.Unstage(transfer.StagingName)
	}
	if err := db.SetIncomingTransferStatus(service.db, transfer,
		core.StatusFailed); err != nil {
		slog.Warn(fmt.Sprintf("Couldn't fail transfer %d: %s", transfer.Id, err))
	}
}
