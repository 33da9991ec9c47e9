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

// The hypervisors reconcile transfer state that has gone stale: transfers
// whose normal driver (a peer callback, the queue checker, a client) never
// arrived. They consult the peer for its view and either catch the local
// record up or fail it, so no transfer stays non-terminal forever.

package tasks

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/librarian-project/librarian/api"
	"github.com/librarian-project/librarian/client"
	"github.com/librarian-project/librarian/config"
	"github.com/librarian-project/librarian/core"
	"github.com/librarian-project/librarian/db"
)

var nonTerminalStatuses = []core.TransferStatus{
	core.StatusInitiated, core.StatusOngoing, core.StatusStaged,
}

//--------------------------------
// Incoming transfer hypervisor
//--------------------------------

type incomingTransferHypervisor struct {
	conf   config.HypervisorConfig
	stores storeManagers
}

func NewIncomingTransferHypervisor(conf config.HypervisorConfig) Task {
	return &incomingTransferHypervisor{conf: conf}
}

func (t *incomingTransferHypervisor) Name() string {
	return "incoming-transfer-hypervisor"
}

func (t *incomingTransferHypervisor) Run(gormDB *gorm.DB, deadline time.Time) error {
	cutoff := time.Now().AddDate(0, 0, -t.conf.AgeInDays)
	var stale []db.IncomingTransfer
	err := gormDB.Where("status IN ? AND start_time < ?",
		nonTerminalStatuses, cutoff).Find(&stale).Error
	if err != nil {
		return err
	}

	// group the clones by source peer so each peer is asked once
	bySource := make(map[string][]*db.IncomingTransfer)
	for i := range stale {
		transfer := &stale[i]
		if transfer.SourceTransferId == nil || transfer.Source == config.Service.Name {
			// a stale client upload has no peer to consult; the client is
			// long gone, so the staging area is reclaimed
			failIncomingTransfer(gormDB, &t.stores, transfer,
				"upload abandoned by its client")
			continue
		}
		bySource[transfer.Source] = append(bySource[transfer.Source], transfer)
	}

	for source, group := range bySource {
		if time.Now().After(deadline) {
			slog.Debug(fmt.Sprintf("%s: soft timeout reached, yielding", t.Name()))
			break
		}
		t.reconcileWithSource(gormDB, source, group)
	}
	return nil
}

// asks one source peer for its view of a group of stale clones and applies
// the reconciliation rules to each
func (t *incomingTransferHypervisor) reconcileWithSource(gormDB *gorm.DB,
	source string, group []*db.IncomingTransfer) {

	peer, err := peerClient(gormDB, source)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s: %s", t.Name(), err))
		return
	}
	ids := make([]int64, len(group))
	for i, transfer := range group {
		ids[i] = *transfer.SourceTransferId
	}
	response, err := peer.CheckinStatus(api.CheckinStatusRequest{
		SourceTransferIds: ids,
	})
	if err != nil {
		slog.Warn(fmt.Sprintf("%s: couldn't query %s: %s", t.Name(), source, err))
		return
	}

	for _, transfer := range group {
		peerStatus := response.SourceTransferStatus[*transfer.SourceTransferId]
		t.reconcile(gormDB, transfer, peerStatus)
	}
}

// applies the reconciliation rule for one stale clone given the source
// peer's view of its side of the transfer
func (t *incomingTransferHypervisor) reconcile(gormDB *gorm.DB,
	transfer *db.IncomingTransfer, peerStatus *core.TransferStatus) {

	fail := func(reason string) {
		failIncomingTransfer(gormDB, &t.stores, transfer, reason)
	}
	catchUp := func(status core.TransferStatus) {
		slog.Info(fmt.Sprintf("Catching incoming transfer %d up to %s",
			transfer.Id, status))
		if err := db.SetIncomingTransferStatus(gormDB, transfer, status); err != nil {
			slog.Warn(err.Error())
		}
	}

	switch {
	case peerStatus == nil:
		fail(fmt.Sprintf("source %s does not know this transfer", transfer.Source))
	case *peerStatus == core.StatusCompleted:
		// the source cannot complete before we ingest; its record is wrong
		fail("source reports COMPLETED for a transfer we never ingested")
	case peerStatus.Terminal():
		fail(fmt.Sprintf("source reports %s", *peerStatus))
	case *peerStatus == transfer.Status:
		// the owner of the current stage will move it along
	case *peerStatus == core.StatusStaged &&
		(transfer.Status == core.StatusInitiated || transfer.Status == core.StatusOngoing):
		catchUp(core.StatusStaged)
	case *peerStatus == core.StatusOngoing && transfer.Status == core.StatusInitiated:
		catchUp(core.StatusOngoing)
	case *peerStatus == core.StatusInitiated && transfer.Status == core.StatusOngoing:
		fail("this transfer ran ahead of its source")
	}
}

//--------------------------------
// Outgoing transfer hypervisor
//--------------------------------

type outgoingTransferHypervisor struct {
	conf config.HypervisorConfig
}

func NewOutgoingTransferHypervisor(conf config.HypervisorConfig) Task {
	return &outgoingTransferHypervisor{conf: conf}
}

func (t *outgoingTransferHypervisor) Name() string {
	return "outgoing-transfer-hypervisor"
}

func (t *outgoingTransferHypervisor) Run(gormDB *gorm.DB, deadline time.Time) error {
	cutoff := time.Now().AddDate(0, 0, -t.conf.AgeInDays)
	var stale []db.OutgoingTransfer
	err := gormDB.Where("status IN ? AND start_time < ?",
		nonTerminalStatuses, cutoff).Find(&stale).Error
	if err != nil {
		return err
	}

	byDestination := make(map[string][]*db.OutgoingTransfer)
	for i := range stale {
		transfer := &stale[i]
		byDestination[transfer.DestinationName] =
			append(byDestination[transfer.DestinationName], transfer)
	}

	for destination, group := range byDestination {
		if time.Now().After(deadline) {
			slog.Debug(fmt.Sprintf("%s: soft timeout reached, yielding", t.Name()))
			break
		}
		peer, err := peerClient(gormDB, destination)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s: %s", t.Name(), err))
			continue
		}
		for _, transfer := range group {
			// the destination's catalog is the ground truth: either it has
			// the file with the right checksum, or the transfer is dead
			results, err := peer.SearchFiles(api.SearchFilesRequest{
				Name: transfer.FileName,
			})
			if err == nil && len(results) > 0 {
				matches, matchErr := results[0].Checksum.Matches(transfer.TransferChecksum)
				if matchErr == nil && matches {
					t.recordArrival(gormDB, transfer, results[0])
					continue
				}
				failOutgoingTransfer(gormDB, transfer,
					fmt.Sprintf("%s holds %s with a different checksum",
						destination, transfer.FileName))
				continue
			}
			if isNotFound(err) || (err == nil && len(results) == 0) {
				failOutgoingTransfer(gormDB, transfer,
					fmt.Sprintf("%s never received %s", destination, transfer.FileName))
				continue
			}
			// the peer is unreachable; try again next run
			slog.Warn(fmt.Sprintf("%s: couldn't query %s: %s",
				t.Name(), destination, err))
		}
	}
	return nil
}

// records that the destination holds the transferred file and completes
// the transfer
func (t *outgoingTransferHypervisor) recordArrival(gormDB *gorm.DB,
	transfer *db.OutgoingTransfer, result api.FileResult) {

	remoteStore := ""
	if len(result.Instances) > 0 {
		remoteStore = result.Instances[0].StoreName
	}
	err := gormDB.Create(&db.RemoteInstance{
		FileName:      transfer.FileName,
		LibrarianName: transfer.DestinationName,
		RemoteStoreId: remoteStore,
		CopyTime:      time.Now().UTC(),
		Sender:        config.Service.Name,
	}).Error
	if err != nil {
		slog.Warn(err.Error())
		return
	}
	if err := db.SetOutgoingTransferStatus(gormDB, transfer,
		core.StatusCompleted); err != nil {
		slog.Warn(err.Error())
	}
	slog.Info(fmt.Sprintf("Outgoing transfer %d reconciled: %s holds %s",
		transfer.Id, transfer.DestinationName, transfer.FileName))
}

//-------------------------------------
// Duplicate remote instance pruning
//-------------------------------------

type duplicateRemoteInstanceHypervisor struct {
	conf config.HypervisorConfig
}

func NewDuplicateRemoteInstanceHypervisor(conf config.HypervisorConfig) Task {
	return &duplicateRemoteInstanceHypervisor{conf: conf}
}

func (t *duplicateRemoteInstanceHypervisor) Name() string {
	return "duplicate-remote-instance-hypervisor"
}

// Deduplicates remote instance records per (file, librarian), keeping the
// earliest. A peer holds one logical replica of a file no matter how many
// of its stores carry the bytes, so duplicates would inflate the replica
// counts that gate rolling deletion.
func (t *duplicateRemoteInstanceHypervisor) Run(gormDB *gorm.DB,
	deadline time.Time) error {

	var remotes []db.RemoteInstance
	err := gormDB.Order("copy_time asc, id asc").Find(&remotes).Error
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	pruned := 0
	for _, remote := range remotes {
		key := remote.FileName + "\x00" + remote.LibrarianName
		if !seen[key] {
			seen[key] = true
			continue
		}
		if err := gormDB.Delete(&db.RemoteInstance{}, remote.Id).Error; err != nil {
			return err
		}
		pruned++
	}
	if pruned > 0 {
		slog.Info(fmt.Sprintf("Pruned %d duplicate remote instance record(s)", pruned))
	}
	return nil
}

// reports whether a peer call failed with HTTP 404
func isNotFound(err error) bool {
	var httpErr client.PeerHTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound
}
