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

// This task recomputes the checksums of recently created instances on one
// store and records any divergence as a CorruptFile row. A mismatch never
// mutates the instance itself; deciding what to do about corruption is an
// operator's job.
type checkIntegrityTask struct {
	conf    config.CheckIntegrityConfig
	manager store.Manager
}

func NewCheckIntegrity(conf config.CheckIntegrityConfig) Task {
	return &checkIntegrityTask{conf: conf}
}

func (t *checkIntegrityTask) Name() string {
	return fmt.Sprintf("check-integrity(%s)", t.conf.Store)
}

func (t *checkIntegrityTask) Run(gormDB *gorm.DB, deadline time.Time) error {
	if t.manager == nil {
		manager, err := store.NewManager(t.conf.Store)
		if err != nil {
			db.LogError(gormDB, core.SeverityError, core.CategoryConfiguration,
				fmt.Sprintf("integrity checker: %s", err))
			return fmt.Errorf("%w: %s", ErrCancelTask,
				UnknownStoreError{Store: t.conf.Store})
		}
		t.manager = manager
	}

	cutoff := time.Now().AddDate(0, 0, -t.conf.AgeInDays)
	var instances []db.Instance
	err := gormDB.Joins("JOIN files ON files.name = instances.file_name").
		Where("instances.store_name = ? AND files.create_time >= ?",
			t.conf.Store, cutoff).
		Find(&instances).Error
	if err != nil {
		return err
	}

	failures := 0
	for i := range instances {
		if time.Now().After(deadline) {
			slog.Debug(fmt.Sprintf("%s: soft timeout reached, yielding", t.Name()))
			break
		}
		if !t.verify(gormDB, &instances[i]) {
			failures++
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d instance(s) on store %s failed verification",
			failures, t.conf.Store)
	}
	return nil
}

// checks one instance's bytes against its File's recorded size and
// checksum, reporting whether they verify
func (t *checkIntegrityTask) verify(gormDB *gorm.DB, instance *db.Instance) bool {
	var file db.File
	if err := gormDB.First(&file, "name = ?", instance.FileName).Error; err != nil {
		db.LogError(gormDB, core.SeverityError, core.CategoryProgramming,
			fmt.Sprintf("instance %d has no file record: %s", instance.Id, err))
		return false
	}

	info, err := t.manager.PathInfo(instance.Path, file.Checksum.Algorithm)
	if err != nil {
		db.LogError(gormDB, core.SeverityError, core.CategoryDataAvailability,
			fmt.Sprintf("instance %d of %s is unreadable: %s",
				instance.Id, file.Name, err))
		return false
	}

	matches, err := info.Checksum.Matches(file.Checksum)
	if err == nil && matches && info.Size == file.Size {
		return true
	}
	t.recordCorruption(gormDB, &file, instance, info)
	return false
}

// creates a CorruptFile marker for the instance, or increments the count
// on an existing one
func (t *checkIntegrityTask) recordCorruption(gormDB *gorm.DB, file *db.File,
	instance *db.Instance, info store.PathInfo) {

	db.LogError(gormDB, core.SeverityError, core.CategoryDataIntegrity,
		fmt.Sprintf("instance %d of %s is corrupt: have %s (%d bytes), expected %s (%d bytes)",
			instance.Id, file.Name, info.Checksum, info.Size, file.Checksum, file.Size))

	now := time.Now().UTC()
	var corrupt db.CorruptFile
	err := gormDB.First(&corrupt,
		"file_name = ? AND instance_id = ?", file.Name, instance.Id).Error
	if err == nil {
		corrupt.Count++
		corrupt.CorruptSize = info.Size
		corrupt.CorruptChecksum = info.Checksum
		corrupt.CorruptTime = now
		if err := gormDB.Save(&corrupt).Error; err != nil {
			slog.Error(err.Error())
		}
		return
	}
	err = gormDB.Create(&db.CorruptFile{
		FileName:        file.Name,
		InstanceId:      instance.Id,
		CorruptSize:     info.Size,
		CorruptChecksum: info.Checksum,
		CorruptTime:     now,
		Count:           1,
	}).Error
	if err != nil {
		slog.Error(err.Error())
	}
}
