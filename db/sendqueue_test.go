package db

// These tests exercise send-queue reservation and the consumed/completed
// flag machinery.

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"github.com/librarian-project/librarian/core"
)

func queueItem(t *testing.T, db *gorm.DB, priority int, created time.Time) *SendQueueItem {
	item := SendQueueItem{
		Priority:        priority,
		DestinationName: "peer-b",
		CreatedTime:     created,
	}
	assert.Nil(t, db.Create(&item).Error)
	return &item
}

// tests that reservation picks the highest-priority, oldest-created item
func TestQueueReservationOrder(t *testing.T) {
	db := testDB(t)

	now := time.Now().UTC()
	low := queueItem(t, db, 0, now.Add(-2*time.Hour))
	highNewer := queueItem(t, db, 10, now.Add(-1*time.Hour))
	highOlder := queueItem(t, db, 10, now.Add(-3*time.Hour))

	var reserved []int64
	for i := 0; i < 3; i++ {
		err := ReserveNextQueueItem(db, func(tx *gorm.DB, item *SendQueueItem) error {
			reserved = append(reserved, item.Id)
			return MarkQueueItemConsumed(tx, item, "{}")
		})
		assert.Nil(t, err)
	}
	assert.Equal(t, []int64{highOlder.Id, highNewer.Id, low.Id}, reserved)

	// everything is consumed now, so reservation finds nothing
	called := false
	err := ReserveNextQueueItem(db, func(tx *gorm.DB, item *SendQueueItem) error {
		called = true
		return nil
	})
	assert.Nil(t, err)
	assert.False(t, called)
}

// tests that completed items never come back from either selection
func TestQueueCompletion(t *testing.T) {
	db := testDB(t)

	item := queueItem(t, db, 0, time.Now().UTC())
	assert.Nil(t, MarkQueueItemConsumed(db, item, `{"type":"local"}`))
	assert.NotNil(t, item.ConsumedTime)

	pending, err := ConsumedIncompleteQueueItems(db)
	assert.Nil(t, err)
	assert.Equal(t, 1, len(pending))
	assert.Equal(t, `{"type":"local"}`, pending[0].AsyncTransferManager)

	assert.Nil(t, MarkQueueItemCompleted(db, item, true))
	pending, err = ConsumedIncompleteQueueItems(db)
	assert.Nil(t, err)
	assert.Equal(t, 0, len(pending))

	var fetched SendQueueItem
	assert.Nil(t, db.First(&fetched, item.Id).Error)
	assert.True(t, fetched.Failed)
	assert.NotNil(t, fetched.CompletedTime)
}

// tests that a queue item finds its child transfers
func TestQueueItemTransfers(t *testing.T) {
	db := testDB(t)

	item := queueItem(t, db, 0, time.Now().UTC())
	for _, name := range []string{"obs/a.txt", "obs/b.txt"} {
		transfer := OutgoingTransfer{
			Status:          core.StatusInitiated,
			DestinationName: "peer-b",
			FileName:        name,
			SendQueueItemId: &item.Id,
			StartTime:       time.Now().UTC(),
		}
		assert.Nil(t, db.Create(&transfer).Error)
	}

	transfers, err := QueueItemTransfers(db, item)
	assert.Nil(t, err)
	assert.Equal(t, 2, len(transfers))
}
