package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/librarian-project/librarian/api"
	"github.com/librarian-project/librarian/auth"
	"github.com/librarian-project/librarian/core"
	"github.com/librarian-project/librarian/db"
)

// The checkin endpoints let a peer ask about, and advance, transfers it
// participates in. "Source" ids name our OutgoingTransfers (we are the
// source); "destination" ids name our IncomingTransfers (we are the
// destination). A peer only ever sees transfers it is a party to; anyone
// else gets a null status or an unmodified id, never an error that leaks
// existence.

type CheckinStatusOutput struct {
	Body api.CheckinStatusResponse `doc:"the status of each requested transfer"`
}

// handler method for reporting transfer statuses to a peer
func (service *librarianService) checkinStatus(ctx context.Context,
	input *struct {
		Authorization string                   `header:"authorization"`
		Body          api.CheckinStatusRequest `doc:"the transfers to report on"`
	}) (*CheckinStatusOutput, error) {

	user, err := service.authorize(input.Authorization, auth.LevelCallback)
	if err != nil {
		return nil, err
	}

	response := api.CheckinStatusResponse{
		SourceTransferStatus:      make(map[int64]*core.TransferStatus),
		DestinationTransferStatus: make(map[int64]*core.TransferStatus),
	}

	for _, id := range input.Body.SourceTransferIds {
		response.SourceTransferStatus[id] = nil
		var transfer db.OutgoingTransfer
		if service.db.First(&transfer, "id = ?", id).Error != nil {
			continue
		}
		if transfer.DestinationName == user.Username ||
			user.Level.AtLeast(auth.LevelAdmin) {
			status := transfer.Status
			response.SourceTransferStatus[id] = &status
		}
	}

	for _, id := range input.Body.DestinationTransferIds {
		response.DestinationTransferStatus[id] = nil
		var transfer db.IncomingTransfer
		if service.db.First(&transfer, "id = ?", id).Error != nil {
			continue
		}
		if transfer.Source == user.Username || user.Level.AtLeast(auth.LevelAdmin) {
			status := transfer.Status
			response.DestinationTransferStatus[id] = &status
		}
	}

	return &CheckinStatusOutput{Body: response}, nil
}

type CheckinUpdateOutput struct {
	Body api.CheckinUpdateResponse `doc:"which transfers moved and which did not"`
}

// handler method for a peer advancing transfer statuses; only the
// transitions in the allowed-updates table are ever applied
func (service *librarianService) checkinUpdate(ctx context.Context,
	input *struct {
		Authorization string                   `header:"authorization"`
		Body          api.CheckinUpdateRequest `doc:"the transfers to advance"`
	}) (*CheckinUpdateOutput, error) {

	user, err := service.authorize(input.Authorization, auth.LevelCallback)
	if err != nil {
		return nil, err
	}
	newStatus := input.Body.NewStatus

	response := api.CheckinUpdateResponse{
		ModifiedSourceTransferIds:        []int64{},
		ModifiedDestinationTransferIds:   []int64{},
		UnmodifiedSourceTransferIds:      []int64{},
		UnmodifiedDestinationTransferIds: []int64{},
		Reasons:                          []string{},
	}

	for _, id := range input.Body.SourceTransferIds {
		var transfer db.OutgoingTransfer
		if service.db.First(&transfer, "id = ?", id).Error != nil {
			response.UnmodifiedSourceTransferIds =
				append(response.UnmodifiedSourceTransferIds, id)
			response.Reasons = append(response.Reasons,
				fmt.Sprintf("source transfer %d: unknown", id))
			continue
		}
		if transfer.DestinationName != user.Username &&
			!user.Level.AtLeast(auth.LevelAdmin) {
			response.UnmodifiedSourceTransferIds =
				append(response.UnmodifiedSourceTransferIds, id)
			response.Reasons = append(response.Reasons,
				fmt.Sprintf("source transfer %d: not a party to it", id))
			continue
		}
		if !transfer.Status.CanUpdateTo(newStatus) {
			response.UnmodifiedSourceTransferIds =
				append(response.UnmodifiedSourceTransferIds, id)
			response.Reasons = append(response.Reasons,
				fmt.Sprintf("source transfer %d: %s -> %s is not an allowed update",
					id, transfer.Status, newStatus))
			continue
		}
		if err := db.SetOutgoingTransferStatus(service.db, &transfer,
			newStatus); err != nil {
			response.UnmodifiedSourceTransferIds =
				append(response.UnmodifiedSourceTransferIds, id)
			response.Reasons = append(response.Reasons,
				fmt.Sprintf("source transfer %d: %s", id, err))
			continue
		}
		response.ModifiedSourceTransferIds =
			append(response.ModifiedSourceTransferIds, id)
	}

	for _, id := range input.Body.DestinationTransferIds {
		var transfer db.IncomingTransfer
		if service.db.First(&transfer, "id = ?", id).Error != nil {
			response.UnmodifiedDestinationTransferIds =
				append(response.UnmodifiedDestinationTransferIds, id)
			response.Reasons = append(response.Reasons,
				fmt.Sprintf("destination transfer %d: unknown", id))
			continue
		}
		if transfer.Source != user.Username && !user.Level.AtLeast(auth.LevelAdmin) {
			response.UnmodifiedDestinationTransferIds =
				append(response.UnmodifiedDestinationTransferIds, id)
			response.Reasons = append(response.Reasons,
				fmt.Sprintf("destination transfer %d: not a party to it", id))
			continue
		}
		if !transfer.Status.CanUpdateTo(newStatus) {
			response.UnmodifiedDestinationTransferIds =
				append(response.UnmodifiedDestinationTransferIds, id)
			response.Reasons = append(response.Reasons,
				fmt.Sprintf("destination transfer %d: %s -> %s is not an allowed update",
					id, transfer.Status, newStatus))
			continue
		}
		if err := db.SetIncomingTransferStatus(service.db, &transfer,
			newStatus); err != nil {
			response.UnmodifiedDestinationTransferIds =
				append(response.UnmodifiedDestinationTransferIds, id)
			response.Reasons = append(response.Reasons,
				fmt.Sprintf("destination transfer %d: %s", id, err))
			continue
		}
		// a failed inbound transfer releases its staging area
		if newStatus == core.StatusFailed || newStatus == core.StatusCancelled {
			if manager, found := service.stores[transfer.StoreName]; found {
				manager.Unstage(transfer.StagingName)
			}
		}
		response.ModifiedDestinationTransferIds =
			append(response.ModifiedDestinationTransferIds, id)
	}

	slog.Info(fmt.Sprintf("Checkin from %s: %d of %d transfers moved to %s",
		user.Username,
		len(response.ModifiedSourceTransferIds)+len(response.ModifiedDestinationTransferIds),
		len(input.Body.SourceTransferIds)+len(input.Body.DestinationTransferIds),
		newStatus))
	return &CheckinUpdateOutput{Body: response}, nil
}
