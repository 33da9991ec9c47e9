package db

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// The send queue is the concurrency choke point for outbound batches:
// multiple consumer runs are permitted because reservation uses a
// skip-locked row lock, guaranteeing at most one consumer per row. SQLite
// has no row locks, but its single-writer lock provides the same
// at-most-one guarantee, so the locking clause is applied only on
// PostgreSQL.

// reserves the next consumable queue item (highest priority first, oldest
// first within a priority) and marks the reservation by invoking fn within
// the reserving transaction; returns nil without calling fn if the queue
// has no consumable items
func ReserveNextQueueItem(db *gorm.DB, fn func(tx *gorm.DB, item *SendQueueItem) error) error {
	return db.Transaction(func(tx *gorm.DB) error {
		query := tx.Where("consumed = ? AND completed = ?", false, false).
			Order("priority desc, created_time asc")
		if tx.Dialector.Name() == "postgres" {
			query = query.Clauses(clause.Locking{
				Strength: clause.LockingStrengthUpdate,
				Options:  clause.LockingOptionsSkipLocked,
			})
		}

		var item SendQueueItem
		if result := query.First(&item); result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return nil
			}
			return result.Error
		}
		return fn(tx, &item)
	})
}

// marks a queue item consumed, persisting the (possibly mutated) async
// transfer manager state alongside
func MarkQueueItemConsumed(db *gorm.DB, item *SendQueueItem, managerState string) error {
	now := time.Now().UTC()
	item.Consumed = true
	item.ConsumedTime = &now
	item.AsyncTransferManager = managerState
	return db.Save(item).Error
}

// marks a queue item completed, optionally as failed
func MarkQueueItemCompleted(db *gorm.DB, item *SendQueueItem, failed bool) error {
	now := time.Now().UTC()
	item.Completed = true
	item.CompletedTime = &now
	item.Failed = failed
	return db.Save(item).Error
}

// fetches the outgoing transfers bound to a queue item
func QueueItemTransfers(db *gorm.DB, item *SendQueueItem) ([]OutgoingTransfer, error) {
	var transfers []OutgoingTransfer
	result := db.Where("send_queue_item_id = ?", item.Id).Find(&transfers)
	return transfers, result.Error
}

// fetches queue items that have been handed to their async transfer
// manager but whose completion has not yet been observed
func ConsumedIncompleteQueueItems(db *gorm.DB) ([]SendQueueItem, error) {
	var items []SendQueueItem
	result := db.Where("consumed = ? AND completed = ?", true, false).
		Order("created_time asc").Find(&items)
	return items, result.Error
}
