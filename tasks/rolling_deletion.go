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

package tasks

import (
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/librarian-project/librarian/config"
	"github.com/librarian-project/librarian/core"
	"github.com/librarian-project/librarian/db"
	"github.com/librarian-project/librarian/store"
)

// This task reclaims space on one store by retiring aged instances whose
// files are sufficiently replicated elsewhere. An instance is touched only
// after every peer holding a copy has been asked to re-verify it; too few
// verified downstream copies always blocks the retirement.
type rollingDeletionTask struct {
	conf    config.RollingDeletionConfig
	manager store.Manager
}

func NewRollingDeletion(conf config.RollingDeletionConfig) Task {
	return &rollingDeletionTask{conf: conf}
}

func (t *rollingDeletionTask) Name() string {
	return fmt.Sprintf("rolling-deletion(%s)", t.conf.Store)
}

func (t *rollingDeletionTask) Run(gormDB *gorm.DB, deadline time.Time) error {
	if t.manager == nil {
		manager, err := store.NewManager(t.conf.Store)
		if err != nil {
			db.LogError(gormDB, core.SeverityError, core.CategoryConfiguration,
				fmt.Sprintf("rolling deletion: %s", err))
			return fmt.Errorf("%w: %s", ErrCancelTask,
				UnknownStoreError{Store: t.conf.Store})
		}
		t.manager = manager
	}

	cutoff := time.Now().AddDate(0, 0, -t.conf.AgeInDays)
	var instances []db.Instance
	err := gormDB.Where("store_name = ? AND available = ? AND created_time < ?",
		t.conf.Store, true, cutoff).Find(&instances).Error
	if err != nil {
		return err
	}

	blocked := 0
	for i := range instances {
		if time.Now().After(deadline) {
			slog.Debug(fmt.Sprintf("%s: soft timeout reached, yielding", t.Name()))
			break
		}
		retired, err := t.retire(gormDB, &instances[i])
		if err != nil {
			slog.Warn(fmt.Sprintf("%s: %s", t.Name(), err))
			blocked++
		} else if !retired {
			blocked++
		}
	}
	if blocked > 0 {
		return fmt.Errorf("%d aged instance(s) on store %s could not be retired",
			blocked, t.conf.Store)
	}
	return nil
}

// retires one instance if its replication requirements are met, reporting
// whether it was retired
func (t *rollingDeletionTask) retire(gormDB *gorm.DB,
	instance *db.Instance) (bool, error) {

	if instance.DeletionPolicy == core.DeletionDisallowed && !t.conf.ForceDeletion {
		return false, nil
	}

	var file db.File
	err := gormDB.Preload("RemoteInstances").
		First(&file, "name = ?", instance.FileName).Error
	if err != nil {
		return false, err
	}

	matching, allMatch, err := t.downstreamCopies(gormDB, &file)
	if err != nil {
		return false, err
	}
	if matching < t.conf.NumberOfRemoteCopies {
		slog.Info(fmt.Sprintf("%s: %s has %d verified downstream cop(ies), need %d",
			t.Name(), file.Name, matching, t.conf.NumberOfRemoteCopies))
		return false, nil
	}
	if t.conf.VerifyDownstreamChecksums && !allMatch {
		db.LogError(gormDB, core.SeverityWarning, core.CategoryDataIntegrity,
			fmt.Sprintf("a downstream copy of %s failed verification; keeping instance %d",
				file.Name, instance.Id))
		return false, nil
	}

	if t.conf.MarkUnavailable {
		instance.Available = false
		if err := gormDB.Save(instance).Error; err != nil {
			return false, err
		}
		slog.Info(fmt.Sprintf("%s: marked instance %d of %s unavailable",
			t.Name(), instance.Id, file.Name))
		return true, nil
	}

	if err := t.manager.Remove(instance.Path); err != nil {
		return false, err
	}
	if err := gormDB.Delete(&db.Instance{}, instance.Id).Error; err != nil {
		return false, err
	}
	slog.Info(fmt.Sprintf("%s: deleted instance %d of %s",
		t.Name(), instance.Id, file.Name))
	return true, nil
}

// asks every peer holding a copy of the file to validate it, returning the
// number of copies whose checksum verified and whether every reported copy
// verified
func (t *rollingDeletionTask) downstreamCopies(gormDB *gorm.DB,
	file *db.File) (int, bool, error) {

	peers := make(map[string]bool)
	for _, remote := range file.RemoteInstances {
		peers[remote.LibrarianName] = true
	}

	matching := 0
	allMatch := true
	for peerName := range peers {
		peer, err := peerClient(gormDB, peerName)
		if err != nil {
			return 0, false, err
		}
		validations, err := peer.ValidateFile(file.Name)
		if err != nil {
			// an unreachable peer might still hold a good copy; without its
			// answer the instance cannot be retired safely
			return 0, false, fmt.Errorf("couldn't validate %s on %s: %w",
				file.Name, peerName, err)
		}
		for _, validation := range validations {
			if validation.ComputedSameChecksum {
				matching++
			} else {
				allMatch = false
			}
		}
	}
	return matching, allMatch, nil
}
