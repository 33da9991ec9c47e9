// Package ingest moves verified staged bytes into durable storage and
// records them in the catalog. Both the upload commit endpoint and the
// clone receiver task finish their transfers here, so the verification
// rules and the catalog bookkeeping cannot drift apart.
package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/librarian-project/librarian/core"
	"github.com/librarian-project/librarian/db"
	"github.com/librarian-project/librarian/store"
)

// indicates that staged bytes don't match what the uploader promised
type VerificationError struct {
	TransferId int64
	Reason     string
}

func (e VerificationError) Error() string {
	return fmt.Sprintf("verification of transfer %d failed: %s", e.TransferId, e.Reason)
}

// indicates that no bytes have landed in the transfer's staging area
type MissingBytesError struct {
	TransferId  int64
	StagingPath string
}

func (e MissingBytesError) Error() string {
	return fmt.Sprintf("transfer %d has no staged bytes at %s",
		e.TransferId, e.StagingPath)
}

// Finalizes an incoming transfer whose bytes have landed in staging:
// verifies size and checksum against the transfer record, moves the
// bytes into the storage root, and creates the File and Instance rows
// together with the transfer's COMPLETED status in one transaction. The
// new instance carries the given deletion policy.
//
// On any failure the staging area is released and the transfer is marked
// FAILED, so a rejected transfer never leaves bytes behind.
func Ingest(gormDB *gorm.DB, manager store.Manager,
	transfer *db.IncomingTransfer, policy core.DeletionPolicy) error {

	fail := func(err error) error {
		manager.Unstage(transfer.StagingName)
		db.SetIncomingTransferStatus(gormDB, transfer, core.StatusFailed)
		return err
	}

	// verify the staged bytes against the promised size and checksum
	info, err := manager.PathInfo(transfer.StagingPath,
		transfer.TransferChecksum.Algorithm)
	if errors.Is(err, fs.ErrNotExist) {
		// nothing has landed yet; leave the transfer open so the bytes can
		// still be delivered and committed
		return MissingBytesError{TransferId: transfer.Id,
			StagingPath: transfer.StagingPath}
	}
	if err != nil {
		db.LogError(gormDB, core.SeverityError, core.CategoryDataAvailability,
			fmt.Sprintf("staged bytes for transfer %d are unreadable: %s",
				transfer.Id, err))
		return fail(VerificationError{TransferId: transfer.Id,
			Reason: fmt.Sprintf("staged bytes unreadable: %s", err)})
	}
	if info.Size != transfer.TransferSize {
		db.LogError(gormDB, core.SeverityError, core.CategoryDataIntegrity,
			fmt.Sprintf("transfer %d staged %d bytes, expected %d",
				transfer.Id, info.Size, transfer.TransferSize))
		return fail(VerificationError{TransferId: transfer.Id,
			Reason: fmt.Sprintf("size mismatch: staged %d, expected %d",
				info.Size, transfer.TransferSize)})
	}
	matches, err := info.Checksum.Matches(transfer.TransferChecksum)
	if err != nil {
		return fail(VerificationError{TransferId: transfer.Id, Reason: err.Error()})
	}
	if !matches {
		db.LogError(gormDB, core.SeverityError, core.CategoryDataIntegrity,
			fmt.Sprintf("transfer %d checksum mismatch: staged %s, expected %s",
				transfer.Id, info.Checksum, transfer.TransferChecksum))
		return fail(VerificationError{TransferId: transfer.Id,
			Reason: fmt.Sprintf("checksum mismatch: staged %s, expected %s",
				info.Checksum, transfer.TransferChecksum)})
	}

	// reserve the final resting place and move the bytes there before any
	// catalog row claims they exist
	finalPath, err := manager.Store(transfer.StorePath)
	if err != nil {
		return fail(err)
	}
	if err := manager.Commit(transfer.StagingPath, finalPath); err != nil {
		return fail(err)
	}

	// record the file, its instance, and the transfer's completion
	// atomically
	now := time.Now()
	priorStatus := transfer.Status
	err = gormDB.Transaction(func(tx *gorm.DB) error {
		file := db.File{
			Name:       transfer.StorePath,
			CreateTime: now,
			Size:       transfer.TransferSize,
			Checksum:   transfer.TransferChecksum,
			Uploader:   transfer.Uploader,
			Source:     transfer.Source,
		}
		if err := tx.Create(&file).Error; err != nil {
			return err
		}
		instance := db.Instance{
			FileName:       file.Name,
			Path:           finalPath,
			StoreName:      manager.Name(),
			DeletionPolicy: policy,
			CreatedTime:    now,
			Available:      true,
		}
		if err := tx.Create(&instance).Error; err != nil {
			return err
		}
		transfer.Status = core.StatusCompleted
		transfer.EndTime = &now
		return tx.Save(transfer).Error
	})
	if err != nil {
		// the bytes are in place but uncataloged; leave them for the
		// operator rather than deleting data we can't account for
		db.LogError(gormDB, core.SeverityCritical, core.CategoryProgramming,
			fmt.Sprintf("couldn't catalog ingested transfer %d: %s",
				transfer.Id, err))
		// the rolled-back save left COMPLETED in memory; restore the prior
		// status so the failure transition is legal
		transfer.Status = priorStatus
		transfer.EndTime = nil
		if failErr := db.SetIncomingTransferStatus(gormDB, transfer,
			core.StatusFailed); failErr != nil {
			slog.Error(fmt.Sprintf("Couldn't fail uncataloged transfer %d: %s",
				transfer.Id, failErr))
		}
		return err
	}

	manager.Unstage(transfer.StagingName)
	return nil
}
