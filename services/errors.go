package services

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/librarian-project/librarian/api"
	"github.com/librarian-project/librarian/auth"
	"github.com/librarian-project/librarian/core"
	"github.com/librarian-project/librarian/db"
)

// Operators triage the librarian's durable error records through these
// two admin endpoints.

type ErrorSearchOutput struct {
	Body []api.ErrorResult `doc:"matching error records, newest first"`
}

// handler method for searching recorded errors
func (service *librarianService) searchErrors(ctx context.Context,
	input *struct {
		Authorization string                 `header:"authorization"`
		Body          api.ErrorSearchRequest `doc:"the search criteria"`
	}) (*ErrorSearchOutput, error) {

	if _, err := service.authorize(input.Authorization, auth.LevelAdmin); err != nil {
		return nil, err
	}
	request := input.Body

	criteria := db.ErrorSearchCriteria{
		Id:             request.Id,
		RaisedAfter:    request.RaisedAfter,
		RaisedBefore:   request.RaisedBefore,
		IncludeCleared: request.IncludeCleared,
		MaxResults:     request.MaxResults,
	}
	if request.Severity != "" {
		severity, err := core.ParseErrorSeverity(request.Severity)
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
		criteria.Severity = &severity
	}
	if request.Category != "" {
		category, err := core.ParseErrorCategory(request.Category)
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
		criteria.Category = &category
	}

	records, err := db.SearchErrors(service.db, criteria)
	if err != nil {
		return nil, err
	}
	results := make([]api.ErrorResult, len(records))
	for i, record := range records {
		results[i] = api.ErrorResult{
			Id:          record.Id,
			Severity:    record.Severity,
			Category:    record.Category,
			Message:     record.Message,
			Caller:      record.Caller,
			RaisedTime:  record.RaisedTime,
			Cleared:     record.Cleared,
			ClearedTime: record.ClearedTime,
		}
	}
	return &ErrorSearchOutput{Body: results}, nil
}

type ErrorClearOutput struct {
	Status int
}

// handler method for clearing a recorded error
func (service *librarianService) clearError(ctx context.Context,
	input *struct {
		Authorization string                `header:"authorization"`
		Body          api.ErrorClearRequest `doc:"the error to clear"`
	}) (*ErrorClearOutput, error) {

	if _, err := service.authorize(input.Authorization, auth.LevelAdmin); err != nil {
		return nil, err
	}
	if err := db.ClearError(service.db, input.Body.Id); err != nil {
		return nil, huma.Error404NotFound(
			fmt.Sprintf("no error with id %d", input.Body.Id))
	}
	return &ErrorClearOutput{Status: http.StatusOK}, nil
}
