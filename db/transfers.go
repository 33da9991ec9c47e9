package db

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/librarian-project/librarian/core"
)

// All persisted status changes funnel through the helpers below so that no
// transition outside the lattice ever reaches a row.

// moves an incoming transfer to the given status, stamping an end time
// when the status is terminal
func SetIncomingTransferStatus(db *gorm.DB, transfer *IncomingTransfer,
	status core.TransferStatus) error {

	if !transfer.Status.CanTransitionTo(status) {
		return fmt.Errorf("illegal transition %s -> %s for incoming transfer %d",
			transfer.Status, status, transfer.Id)
	}
	transfer.Status = status
	if status.Terminal() {
		now := time.Now().UTC()
		transfer.EndTime = &now
	}
	return db.Save(transfer).Error
}

// moves an outgoing transfer to the given status, stamping an end time
// when the status is terminal
func SetOutgoingTransferStatus(db *gorm.DB, transfer *OutgoingTransfer,
	status core.TransferStatus) error {

	if !transfer.Status.CanTransitionTo(status) {
		return fmt.Errorf("illegal transition %s -> %s for outgoing transfer %d",
			transfer.Status, status, transfer.Id)
	}
	transfer.Status = status
	if status.Terminal() {
		now := time.Now().UTC()
		transfer.EndTime = &now
	}
	return db.Save(transfer).Error
}

// moves a clone transfer to the given status
func SetCloneTransferStatus(db *gorm.DB, transfer *CloneTransfer,
	status core.TransferStatus) error {

	if !transfer.Status.CanTransitionTo(status) {
		return fmt.Errorf("illegal transition %s -> %s for clone transfer %d",
			transfer.Status, status, transfer.Id)
	}
	transfer.Status = status
	if status.Terminal() {
		now := time.Now().UTC()
		transfer.EndTime = &now
	}
	return db.Save(transfer).Error
}

// finds any non-terminal incoming transfer with the given checksum and
// destination; at most one can exist at a time
func FindLiveIncomingTransfer(db *gorm.DB, checksum core.Checksum,
	destination string) (*IncomingTransfer, error) {

	var transfers []IncomingTransfer
	result := db.Where("transfer_checksum = ? AND store_path = ? AND status IN ?",
		checksum, destination,
		[]core.TransferStatus{core.StatusInitiated, core.StatusOngoing, core.StatusStaged}).
		Find(&transfers)
	if result.Error != nil {
		return nil, result.Error
	}
	if len(transfers) == 0 {
		return nil, nil
	}
	return &transfers[0], nil
}
