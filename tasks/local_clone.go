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
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/librarian-project/librarian/config"
	"github.com/librarian-project/librarian/core"
	"github.com/librarian-project/librarian/db"
	"github.com/librarian-project/librarian/store"
	"github.com/librarian-project/librarian/transfers"
)

// This task copies recent files from one local store to another, giving
// each file a second local instance. Every copy is tracked by a
// CloneTransfer row so an operator can see what moved and what failed; a
// failed copy never blocks the rest of the run.
type createLocalCloneTask struct {
	conf   config.CreateLocalCloneConfig
	stores storeManagers
	// destinations found too full, dropped for the lifetime of this task
	disabled map[string]bool
}

func NewCreateLocalClone(conf config.CreateLocalCloneConfig) Task {
	return &createLocalCloneTask{conf: conf, disabled: make(map[string]bool)}
}

func (t *createLocalCloneTask) Name() string {
	return fmt.Sprintf("create-local-clone(%s)", t.conf.From)
}

func (t *createLocalCloneTask) Run(gormDB *gorm.DB, deadline time.Time) error {
	source, err := t.stores.get(t.conf.From)
	if err != nil {
		db.LogError(gormDB, core.SeverityError, core.CategoryConfiguration,
			fmt.Sprintf("local cloner: %s", err))
		return fmt.Errorf("%w: %s", ErrCancelTask,
			UnknownStoreError{Store: t.conf.From})
	}

	cutoff := time.Now().AddDate(0, 0, -t.conf.AgeInDays)
	query := gormDB.
		Joins("JOIN files ON files.name = instances.file_name").
		Where("instances.store_name = ? AND instances.available = ? AND files.create_time >= ?",
			t.conf.From, true, cutoff).
		Where("NOT EXISTS (SELECT 1 FROM instances other WHERE other.file_name = instances.file_name AND other.store_name IN ?)",
			t.conf.To)
	if t.conf.FilesPerRun > 0 {
		query = query.Limit(t.conf.FilesPerRun)
	}
	var instances []db.Instance
	if err := query.Find(&instances).Error; err != nil {
		return err
	}

	failures := 0
	for i := range instances {
		if time.Now().After(deadline) {
			slog.Debug(fmt.Sprintf("%s: soft timeout reached, yielding", t.Name()))
			break
		}
		if err := t.cloneInstance(gormDB, source, &instances[i]); err != nil {
			slog.Warn(fmt.Sprintf("%s: couldn't clone %s: %s",
				t.Name(), instances[i].FileName, err))
			failures++
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d file(s) could not be cloned from store %s",
			failures, t.conf.From)
	}
	return nil
}

// copies one instance's bytes to the first viable destination store,
// verifying the copy before it is committed and cataloged
func (t *createLocalCloneTask) cloneInstance(gormDB *gorm.DB,
	source store.Manager, instance *db.Instance) error {

	var file db.File
	if err := gormDB.First(&file, "name = ?", instance.FileName).Error; err != nil {
		return err
	}

	destName, dest := t.pickDestination(gormDB, file.Size)
	if dest == nil {
		return fmt.Errorf("no destination store can hold %s (%d bytes)",
			file.Name, file.Size)
	}
	mover := firstSyncManager(destName)
	if mover == nil {
		return fmt.Errorf("store %s has no usable transfer manager", destName)
	}

	clone := db.CloneTransfer{
		Status:           core.StatusInitiated,
		FileName:         file.Name,
		SourceStore:      t.conf.From,
		DestinationStore: destName,
		StartTime:        time.Now().UTC(),
	}
	if err := gormDB.Create(&clone).Error; err != nil {
		return err
	}
	fail := func(err error) error {
		if statusErr := db.SetCloneTransferStatus(gormDB, &clone,
			core.StatusFailed); statusErr != nil {
			slog.Warn(statusErr.Error())
		}
		return err
	}

	stagingName, stagingPath, err := dest.Stage(file.Size, file.Name)
	if err != nil {
		return fail(err)
	}
	clone.StagingPath = stagingPath
	release := func() { dest.Unstage(stagingName) }

	if err := db.SetCloneTransferStatus(gormDB, &clone, core.StatusOngoing); err != nil {
		release()
		return fail(err)
	}
	if err := source.TransferOut(instance.Path, stagingPath, mover); err != nil {
		release()
		return fail(err)
	}

	// the copy must verify before it is committed
	info, err := dest.PathInfo(stagingPath, file.Checksum.Algorithm)
	if err != nil {
		release()
		return fail(err)
	}
	matches, err := info.Checksum.Matches(file.Checksum)
	if err != nil || !matches || info.Size != file.Size {
		db.LogError(gormDB, core.SeverityError, core.CategoryDataIntegrity,
			fmt.Sprintf("clone of %s to store %s is corrupt: have %s (%d bytes), expected %s (%d bytes)",
				file.Name, destName, info.Checksum, info.Size, file.Checksum, file.Size))
		release()
		return fail(fmt.Errorf("cloned bytes for %s failed verification", file.Name))
	}
	if err := db.SetCloneTransferStatus(gormDB, &clone, core.StatusStaged); err != nil {
		release()
		return fail(err)
	}

	destPath, err := dest.Store(file.Name)
	if err != nil {
		release()
		return fail(err)
	}
	if err := dest.Commit(stagingPath, destPath); err != nil {
		release()
		return fail(err)
	}
	clone.DestinationPath = destPath

	err = gormDB.Create(&db.Instance{
		FileName:       file.Name,
		Path:           destPath,
		StoreName:      destName,
		DeletionPolicy: instance.DeletionPolicy,
		CreatedTime:    time.Now().UTC(),
		Available:      true,
	}).Error
	if err != nil {
		return fail(err)
	}
	if err := db.SetCloneTransferStatus(gormDB, &clone, core.StatusCompleted); err != nil {
		return fail(err)
	}
	dest.Unstage(stagingName)
	return nil
}

// picks the first configured destination that is enabled and has room,
// optionally disabling destinations found too full
func (t *createLocalCloneTask) pickDestination(gormDB *gorm.DB,
	size int64) (string, store.Manager) {

	for _, name := range t.conf.To {
		if t.disabled[name] {
			continue
		}
		conf, found := config.Stores[name]
		if !found || !conf.Enabled {
			continue
		}
		manager, err := t.stores.get(name)
		if err != nil {
			db.LogError(gormDB, core.SeverityError, core.CategoryConfiguration,
				fmt.Sprintf("local cloner: %s", err))
			continue
		}
		free, err := manager.FreeSpace()
		if err != nil {
			slog.Warn(fmt.Sprintf("Couldn't determine free space on store %s: %s",
				name, err))
			continue
		}
		if free < size {
			if t.conf.DisableStoreOnFull {
				t.disabled[name] = true
				db.LogError(gormDB, core.SeverityWarning, core.CategoryStoreFull,
					fmt.Sprintf("store %s is too full to clone into; disabling it", name))
			}
			continue
		}
		return name, manager
	}
	return "", nil
}

// returns the first synchronous transfer manager of the named store that
// is usable from this host
func firstSyncManager(storeName string) transfers.Manager {
	conf, found := config.Stores[storeName]
	if !found {
		return nil
	}
	names := make([]string, 0, len(conf.TransferManagers))
	for name := range conf.TransferManagers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		manager, err := transfers.NewManager(conf.TransferManagers[name])
		if err == nil && manager.Valid() {
			return manager
		}
	}
	return nil
}
