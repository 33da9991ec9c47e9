package db

import (
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"gorm.io/gorm"

	"github.com/librarian-project/librarian/core"
)

// Records a durable diagnostic and logs it to the structured log. Callers
// use this for anything an administrator should be able to find after the
// fact; transient chatter stays in the log alone.
func LogError(db *gorm.DB, severity core.ErrorSeverity,
	category core.ErrorCategory, message string) {

	caller := "unknown"
	if _, file, line, ok := runtime.Caller(1); ok {
		caller = fmt.Sprintf("%s:%d", file, line)
	}

	switch severity {
	case core.SeverityInfo:
		slog.Info(message)
	case core.SeverityWarning:
		slog.Warn(message)
	default:
		slog.Error(message)
	}

	result := db.Create(&Error{
		Severity:   severity,
		Category:   category,
		Message:    message,
		Caller:     caller,
		RaisedTime: time.Now().UTC(),
	})
	if result.Error != nil {
		slog.Error(fmt.Sprintf("Couldn't record error in database: %s", result.Error))
	}
}

// criteria for searching durable diagnostics; zero-valued fields are
// ignored
type ErrorSearchCriteria struct {
	Id              int64
	Severity        *core.ErrorSeverity
	Category        *core.ErrorCategory
	RaisedAfter     *time.Time
	RaisedBefore    *time.Time
	IncludeCleared  bool
	MaxResults      int
}

// fetches diagnostic records matching the given criteria, newest first
func SearchErrors(db *gorm.DB, criteria ErrorSearchCriteria) ([]Error, error) {
	query := db.Model(&Error{})
	if criteria.Id != 0 {
		query = query.Where("id = ?", criteria.Id)
	}
	if criteria.Severity != nil {
		query = query.Where("severity = ?", *criteria.Severity)
	}
	if criteria.Category != nil {
		query = query.Where("category = ?", *criteria.Category)
	}
	if criteria.RaisedAfter != nil {
		query = query.Where("raised_time >= ?", *criteria.RaisedAfter)
	}
	if criteria.RaisedBefore != nil {
		query = query.Where("raised_time <= ?", *criteria.RaisedBefore)
	}
	if !criteria.IncludeCleared {
		query = query.Where("cleared = ?", false)
	}
	if criteria.MaxResults > 0 {
		query = query.Limit(criteria.MaxResults)
	}

	var errors []Error
	result := query.Order("raised_time desc").Find(&errors)
	return errors, result.Error
}

// marks the diagnostic with the given id as cleared
func ClearError(db *gorm.DB, id int64) error {
	var record Error
	if result := db.First(&record, id); result.Error != nil {
		return result.Error
	}
	now := time.Now().UTC()
	record.Cleared = true
	record.ClearedTime = &now
	return db.Save(&record).Error
}
