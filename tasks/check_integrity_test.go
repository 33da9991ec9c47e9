package tasks

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/librarian-project/librarian/config"
	"github.com/librarian-project/librarian/db"
)

// tests that a pristine instance passes verification and leaves no
// corruption markers behind
func TestCheckIntegrityClean(t *testing.T) {
	gormDB := taskSetup(t)
	seedInstance(t, gormDB, "store1", "obs/a.txt", "some observation data",
		time.Now().UTC())

	task := NewCheckIntegrity(config.CheckIntegrityConfig{
		Store:     "store1",
		AgeInDays: 7,
	})
	assert.Nil(t, task.Run(gormDB, noDeadline()))

	var count int64
	assert.Nil(t, gormDB.Model(&db.CorruptFile{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

// tests that tampered bytes yield a CorruptFile marker whose count grows
// with each run, without touching the instance itself
func TestCheckIntegrityCorruption(t *testing.T) {
	gormDB := taskSetup(t)
	file, instance := seedInstance(t, gormDB, "store1", "obs/b.txt",
		"original content", time.Now().UTC())

	assert.Nil(t, os.WriteFile(instance.Path, []byte("tampered content"), 0644))

	task := NewCheckIntegrity(config.CheckIntegrityConfig{
		Store:     "store1",
		AgeInDays: 7,
	})
	assert.NotNil(t, task.Run(gormDB, noDeadline()))

	var corrupt db.CorruptFile
	assert.Nil(t, gormDB.First(&corrupt,
		"file_name = ? AND instance_id = ?", file.Name, instance.Id).Error)
	assert.Equal(t, 1, corrupt.Count)

	// a second run increments the marker instead of duplicating it
	assert.NotNil(t, task.Run(gormDB, noDeadline()))
	var markers []db.CorruptFile
	assert.Nil(t, gormDB.Find(&markers).Error)
	assert.Len(t, markers, 1)
	assert.Equal(t, 2, markers[0].Count)

	// the instance is untouched; corruption response is an operator's call
	var after db.Instance
	assert.Nil(t, gormDB.First(&after, instance.Id).Error)
	assert.True(t, after.Available)
}

// tests that a missing file is recorded as an availability problem, not
// corruption
func TestCheckIntegrityMissingFile(t *testing.T) {
	gormDB := taskSetup(t)
	_, instance := seedInstance(t, gormDB, "store1", "obs/c.txt", "content",
		time.Now().UTC())
	assert.Nil(t, os.Remove(instance.Path))

	task := NewCheckIntegrity(config.CheckIntegrityConfig{
		Store:     "store1",
		AgeInDays: 7,
	})
	assert.NotNil(t, task.Run(gormDB, noDeadline()))

	var count int64
	assert.Nil(t, gormDB.Model(&db.CorruptFile{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)

	recorded, err := db.SearchErrors(gormDB, db.ErrorSearchCriteria{})
	assert.Nil(t, err)
	assert.NotEmpty(t, recorded)
}

// tests that a task configured with an unknown store deschedules itself
func TestCheckIntegrityUnknownStore(t *testing.T) {
	gormDB := taskSetup(t)
	task := NewCheckIntegrity(config.CheckIntegrityConfig{Store: "no-such-store"})
	err := task.Run(gormDB, noDeadline())
	assert.True(t, errors.Is(err, ErrCancelTask))
}
