package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"gorm.io/gorm"

	"github.com/librarian-project/librarian/api"
	"github.com/librarian-project/librarian/auth"
	"github.com/librarian-project/librarian/config"
	"github.com/librarian-project/librarian/core"
	"github.com/librarian-project/librarian/db"
)

// a clone rejection: carries the structured body the wire protocol
// promises alongside its HTTP status code
type cloneRejectionError struct {
	api.CloneFailedResponse
	status int
}

func (e *cloneRejectionError) Error() string {
	return e.Reason
}

func (e *cloneRejectionError) GetStatus() int {
	return e.status
}

func rejectClone(status int, sourceId, destinationId int64,
	reason, remedy string) *cloneRejectionError {
	return &cloneRejectionError{
		CloneFailedResponse: api.CloneFailedResponse{
			Reason:                reason,
			SuggestedRemedy:       remedy,
			SourceTransferId:      sourceId,
			DestinationTransferId: destinationId,
		},
		status: status,
	}
}

// admits one clone upload: applies the same admission rules as
// upload/stage plus de-duplication against files and live transfers
func (service *librarianService) admitClone(
	request api.CloneStageRequest) (*api.CloneStageResponse, *cloneRejectionError) {

	if request.UploadSize <= 0 {
		return nil, rejectClone(http.StatusBadRequest, request.SourceTransferId, 0,
			fmt.Sprintf("invalid upload size: %d", request.UploadSize),
			"send a positive upload size")
	}

	// if we already hold a file under that name, tell the source so it can
	// reconcile instead of re-sending
	var count int64
	if err := service.db.Model(&db.File{}).
		Where("name = ?", request.DestinationLocation).Count(&count).Error; err != nil {
		return nil, rejectClone(http.StatusInternalServerError,
			request.SourceTransferId, 0, err.Error(), "retry later")
	}
	if count > 0 {
		return nil, rejectClone(http.StatusConflict, request.SourceTransferId, 0,
			fmt.Sprintf("a file named %s already exists", request.DestinationLocation),
			"compare checksums and record a remote instance instead of re-sending")
	}

	// de-duplicate against live transfers for the same bytes
	prior, err := db.FindLiveIncomingTransfer(service.db, request.UploadChecksum,
		request.DestinationLocation)
	if err != nil {
		return nil, rejectClone(http.StatusInternalServerError,
			request.SourceTransferId, 0, err.Error(), "retry later")
	}
	if prior != nil {
		if prior.Status == core.StatusOngoing {
			// bytes are already in flight; the source is double-sending
			return nil, rejectClone(http.StatusTooEarly,
				request.SourceTransferId, prior.Id,
				fmt.Sprintf("transfer %d for %s is already in flight",
					prior.Id, request.DestinationLocation),
				"wait for the in-flight transfer to settle")
		}
		// a stale INITIATED or STAGED record loses to the fresh request
		service.failIncomingTransfer(prior)
		return nil, rejectClone(http.StatusNotAcceptable,
			request.SourceTransferId, prior.Id,
			fmt.Sprintf("superseded stale transfer %d for %s",
				prior.Id, request.DestinationLocation),
			"fail the matching outgoing transfer and restage")
	}

	manager := service.storeForUpload(request.UploadSize)
	if manager == nil {
		return nil, rejectClone(http.StatusRequestEntityTooLarge,
			request.SourceTransferId, 0,
			fmt.Sprintf("no store can accept %d bytes", request.UploadSize),
			"retry when space is available")
	}

	stagingName, stagingPath, err := manager.Stage(request.UploadSize,
		request.UploadName)
	if err != nil {
		return nil, rejectClone(http.StatusInternalServerError,
			request.SourceTransferId, 0, err.Error(), "retry later")
	}

	sourceTransferId := request.SourceTransferId
	transfer := db.IncomingTransfer{
		Status:           core.StatusInitiated,
		Uploader:         request.Uploader,
		Source:           request.Source,
		SourceTransferId: &sourceTransferId,
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
		return nil, rejectClone(http.StatusInternalServerError,
			request.SourceTransferId, 0, err.Error(), "retry later")
	}

	return &api.CloneStageResponse{
		StoreName:              manager.Name(),
		StagingName:            stagingName,
		StagingLocation:        stagingPath,
		UploadName:             request.UploadName,
		DestinationLocation:    request.DestinationLocation,
		SourceTransferId:       request.SourceTransferId,
		DestinationTransferId:  transfer.Id,
		AsyncTransferProviders: config.Stores[manager.Name()].AsyncTransferManagers,
	}, nil
}

type CloneStageOutput struct {
	Body   api.CloneStageResponse `doc:"where the peer should send the bytes"`
	Status int
}

// handler method for staging a single inbound clone from a peer
func (service *librarianService) stageClone(ctx context.Context,
	input *struct {
		Authorization string                `header:"authorization"`
		Body          api.CloneStageRequest `doc:"the clone to stage"`
	}) (*CloneStageOutput, error) {

	user, err := service.authorize(input.Authorization, auth.LevelCallback)
	if err != nil {
		return nil, err
	}
	request := input.Body
	if request.Source == "" {
		request.Source = user.Username
	}

	response, rejection := service.admitClone(request)
	if rejection != nil {
		return nil, rejection
	}
	slog.Info(fmt.Sprintf("Staged clone %d (%s) from peer %s",
		response.DestinationTransferId, response.DestinationLocation,
		request.Source))
	return &CloneStageOutput{Body: *response, Status: http.StatusCreated}, nil
}

type CloneBatchStageOutput struct {
	Body   api.CloneBatchStageResponse `doc:"per-upload staging details"`
	Status int
}

// handler method for staging a batch of inbound clones in one call
func (service *librarianService) batchStageClone(ctx context.Context,
	input *struct {
		Authorization string                     `header:"authorization"`
		Body          api.CloneBatchStageRequest `doc:"the clones to stage"`
	}) (*CloneBatchStageOutput, error) {

	user, err := service.authorize(input.Authorization, auth.LevelCallback)
	if err != nil {
		return nil, err
	}

	var accepted []api.CloneStageResponse
	var dominant *cloneRejectionError
	for _, request := range input.Body.Uploads {
		if request.Source == "" {
			request.Source = user.Username
		}
		response, rejection := service.admitClone(request)
		if rejection != nil {
			// one dominant code represents all rejections: 425 > 409 > 406
			if dominant == nil ||
				rejectionPrecedence(rejection.status) > rejectionPrecedence(dominant.status) {
				dominant = rejection
			}
			continue
		}
		accepted = append(accepted, *response)
	}

	// a batch with no admitted uploads reports the dominant rejection
	if len(accepted) == 0 {
		if dominant == nil {
			dominant = rejectClone(http.StatusBadRequest, 0, 0,
				"empty batch", "send at least one upload")
		}
		return nil, dominant
	}

	response := api.CloneBatchStageResponse{
		StoreName: accepted[0].StoreName,
		Uploads:   accepted,
		// providers are advertised per store; all admitted uploads landed on
		// stores owned by this librarian, so the union is what the source picks
		// from
		AsyncTransferProviders: accepted[0].AsyncTransferProviders,
	}
	slog.Info(fmt.Sprintf("Staged %d of %d clones from peer %s",
		len(accepted), len(input.Body.Uploads), user.Username))
	return &CloneBatchStageOutput{Body: response, Status: http.StatusCreated}, nil
}

func rejectionPrecedence(status int) int {
	switch status {
	case http.StatusTooEarly:
		return 3
	case http.StatusConflict:
		return 2
	case http.StatusNotAcceptable:
		return 1
	}
	return 0
}

// locates an incoming transfer by its destination id and checks that the
// caller is entitled to act on it
func (service *librarianService) incomingTransferFor(user auth.User,
	destinationTransferId int64) (*db.IncomingTransfer, error) {

	var transfer db.IncomingTransfer
	err := service.db.First(&transfer, "id = ?", destinationTransferId).Error
	if err != nil {
		return nil, huma.Error404NotFound(
			fmt.Sprintf("no transfer with id %d", destinationTransferId))
	}
	if transfer.Source != user.Username && !user.Level.AtLeast(auth.LevelAdmin) {
		return nil, huma.Error403Forbidden(
			fmt.Sprintf("transfer %d does not belong to %s",
				transfer.Id, user.Username))
	}
	return &transfer, nil
}

type CloneStatusOutput struct {
	Status int
}

// handler method for marking a staged clone's bytes as in flight
func (service *librarianService) cloneOngoing(ctx context.Context,
	input *struct {
		Authorization string                  `header:"authorization"`
		Body          api.CloneOngoingRequest `doc:"the transfer whose bytes are in flight"`
	}) (*CloneStatusOutput, error) {

	user, err := service.authorize(input.Authorization, auth.LevelCallback)
	if err != nil {
		return nil, err
	}
	transfer, err := service.incomingTransferFor(user, input.Body.DestinationTransferId)
	if err != nil {
		return nil, err
	}
	if transfer.Status != core.StatusInitiated {
		return nil, huma.Error406NotAcceptable(
			fmt.Sprintf("transfer %d is %s, not INITIATED", transfer.Id, transfer.Status))
	}
	if err := db.SetIncomingTransferStatus(service.db, transfer,
		core.StatusOngoing); err != nil {
		return nil, huma.Error406NotAcceptable(err.Error())
	}
	return &CloneStatusOutput{Status: http.StatusOK}, nil
}

// handler method for marking a clone's bytes as fully landed in staging
func (service *librarianService) cloneStaged(ctx context.Context,
	input *struct {
		Authorization string                 `header:"authorization"`
		Body          api.CloneStagedRequest `doc:"the transfer whose bytes have landed"`
	}) (*CloneStatusOutput, error) {

	user, err := service.authorize(input.Authorization, auth.LevelCallback)
	if err != nil {
		return nil, err
	}
	transfer, err := service.incomingTransferFor(user, input.Body.DestinationTransferId)
	if err != nil {
		return nil, err
	}
	if transfer.Status != core.StatusOngoing {
		return nil, huma.Error406NotAcceptable(
			fmt.Sprintf("transfer %d is %s, not ONGOING", transfer.Id, transfer.Status))
	}
	if err := db.SetIncomingTransferStatus(service.db, transfer,
		core.StatusStaged); err != nil {
		return nil, huma.Error406NotAcceptable(err.Error())
	}
	return &CloneStatusOutput{Status: http.StatusOK}, nil
}

// handler method for a destination acknowledging that it has ingested a
// clone this librarian sent; completes our outgoing transfer and records
// the remote instance
func (service *librarianService) cloneComplete(ctx context.Context,
	input *struct {
		Authorization string                   `header:"authorization"`
		Body          api.CloneCompleteRequest `doc:"the completed transfer"`
	}) (*CloneStatusOutput, error) {

	user, err := service.authorize(input.Authorization, auth.LevelCallback)
	if err != nil {
		return nil, err
	}

	var transfer db.OutgoingTransfer
	err = service.db.First(&transfer, "id = ?", input.Body.SourceTransferId).Error
	if err != nil {
		return nil, huma.Error400BadRequest(
			fmt.Sprintf("no outgoing transfer with id %d", input.Body.SourceTransferId))
	}
	if transfer.DestinationName != user.Username &&
		!user.Level.AtLeast(auth.LevelAdmin) {
		return nil, huma.Error400BadRequest(
			fmt.Sprintf("transfer %d is not destined for %s",
				transfer.Id, user.Username))
	}
	if transfer.Status != core.StatusOngoing && transfer.Status != core.StatusStaged {
		return nil, huma.Error406NotAcceptable(
			fmt.Sprintf("transfer %d is %s, not ONGOING or STAGED",
				transfer.Id, transfer.Status))
	}

	// the acknowledgement and the remote instance stand or fall together
	err = service.db.Transaction(func(tx *gorm.DB) error {
		remoteInstance := db.RemoteInstance{
			FileName:      transfer.FileName,
			LibrarianName: transfer.DestinationName,
			RemoteStoreId: input.Body.DestinationStoreName,
			CopyTime:      time.Now(),
			Sender:        config.Service.Name,
		}
		if err := tx.Create(&remoteInstance).Error; err != nil {
			return err
		}
		return db.SetOutgoingTransferStatus(tx, &transfer, core.StatusCompleted)
	})
	if err != nil {
		return nil, huma.Error406NotAcceptable(err.Error())
	}

	slog.Info(fmt.Sprintf("Peer %s confirmed receipt of %s (transfer %d)",
		user.Username, transfer.FileName, transfer.Id))
	return &CloneStatusOutput{Status: http.StatusOK}, nil
}

// handler method for failing an inbound clone
func (service *librarianService) cloneFail(ctx context.Context,
	input *struct {
		Authorization string               `header:"authorization"`
		Body          api.CloneFailRequest `doc:"the transfer to fail"`
	}) (*CloneStatusOutput, error) {

	user, err := service.authorize(input.Authorization, auth.LevelCallback)
	if err != nil {
		return nil, err
	}
	transfer, err := service.incomingTransferFor(user, input.Body.DestinationTransferId)
	if err != nil {
		return nil, err
	}
	if transfer.Status.Terminal() {
		return nil, huma.Error406NotAcceptable(
			fmt.Sprintf("transfer %d is already %s", transfer.Id, transfer.Status))
	}

	slog.Info(fmt.Sprintf("Peer %s failed transfer %d: %s",
		user.Username, transfer.Id, input.Body.Reason))
	service.failIncomingTransfer(transfer)
	return &CloneStatusOutput{Status: http.StatusOK}, nil
}
