package tasks

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/librarian-project/librarian/config"
	"github.com/librarian-project/librarian/core"
	"github.com/librarian-project/librarian/db"
)

// tests that a recent file gains a verified second instance on the
// destination store
func TestCreateLocalClone(t *testing.T) {
	gormDB := taskSetup(t)
	file, source := seedInstance(t, gormDB, "store1", "obs/a.txt",
		"some observation data", time.Now().UTC())

	task := NewCreateLocalClone(config.CreateLocalCloneConfig{
		From:      "store1",
		To:        []string{"store2"},
		AgeInDays: 7,
	})
	assert.Nil(t, task.Run(gormDB, noDeadline()))

	var clone db.Instance
	assert.Nil(t, gormDB.First(&clone,
		"file_name = ? AND store_name = ?", file.Name, "store2").Error)
	assert.True(t, clone.Available)
	assert.Equal(t, source.DeletionPolicy, clone.DeletionPolicy)

	copied, err := os.ReadFile(clone.Path)
	assert.Nil(t, err)
	assert.Equal(t, "some observation data", string(copied))

	var record db.CloneTransfer
	assert.Nil(t, gormDB.First(&record, "file_name = ?", file.Name).Error)
	assert.Equal(t, core.StatusCompleted, record.Status)
	assert.NotNil(t, record.EndTime)
}

// tests that a file already present on the destination is left alone
func TestCreateLocalCloneIdempotent(t *testing.T) {
	gormDB := taskSetup(t)
	seedInstance(t, gormDB, "store1", "obs/b.txt", "content", time.Now().UTC())

	task := NewCreateLocalClone(config.CreateLocalCloneConfig{
		From:      "store1",
		To:        []string{"store2"},
		AgeInDays: 7,
	})
	assert.Nil(t, task.Run(gormDB, noDeadline()))
	assert.Nil(t, task.Run(gormDB, noDeadline()))

	var count int64
	assert.Nil(t, gormDB.Model(&db.Instance{}).
		Where("store_name = ?", "store2").Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Nil(t, gormDB.Model(&db.CloneTransfer{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

// tests that files older than the age window are not cloned
func TestCreateLocalCloneSkipsOldFiles(t *testing.T) {
	gormDB := taskSetup(t)
	seedInstance(t, gormDB, "store1", "obs/old.txt", "ancient content",
		time.Now().UTC().AddDate(0, 0, -30))

	task := NewCreateLocalClone(config.CreateLocalCloneConfig{
		From:      "store1",
		To:        []string{"store2"},
		AgeInDays: 7,
	})
	assert.Nil(t, task.Run(gormDB, noDeadline()))

	var count int64
	assert.Nil(t, gormDB.Model(&db.Instance{}).
		Where("store_name = ?", "store2").Count(&count).Error)
	assert.Equal(t, int64(0), count)
}
