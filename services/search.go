package services

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/danielgtaylor/huma/v2"

	"github.com/librarian-project/librarian/api"
	"github.com/librarian-project/librarian/auth"
	"github.com/librarian-project/librarian/config"
	"github.com/librarian-project/librarian/db"
)

type SearchFilesOutput struct {
	Body []api.FileResult `doc:"matching files, newest first"`
}

// handler method for searching the file catalog
func (service *librarianService) searchFiles(ctx context.Context,
	input *struct {
		Authorization string                 `header:"authorization"`
		Body          api.SearchFilesRequest `doc:"the search criteria"`
	}) (*SearchFilesOutput, error) {

	if _, err := service.authorize(input.Authorization, auth.LevelReadOnly); err != nil {
		return nil, err
	}
	request := input.Body

	// the server's cap always applies, even to greedy requests
	maxResults := config.Service.MaxSearchResults
	if request.MaxResults > 0 && request.MaxResults < maxResults {
		maxResults = request.MaxResults
	}

	var nameRegex *regexp.Regexp
	if request.NameRegex != "" {
		var err error
		nameRegex, err = regexp.Compile(request.NameRegex)
		if err != nil {
			return nil, huma.Error400BadRequest(
				fmt.Sprintf("invalid name regex: %s", err))
		}
	}

	query := service.db.Model(&db.File{}).
		Preload("Instances").Preload("RemoteInstances").
		Order("create_time desc")
	if request.Name != "" {
		query = query.Where("name = ?", request.Name)
	}
	if request.Uploader != "" {
		query = query.Where("uploader = ?", request.Uploader)
	}
	if request.Source != "" {
		query = query.Where("source = ?", request.Source)
	}
	if request.CreateTimeStart != nil {
		query = query.Where("create_time >= ?", *request.CreateTimeStart)
	}
	if request.CreateTimeEnd != nil {
		query = query.Where("create_time <= ?", *request.CreateTimeEnd)
	}
	// regex matching happens here rather than in SQL, so the cap can only
	// be applied after filtering
	if nameRegex == nil {
		query = query.Limit(maxResults)
	}

	var files []db.File
	if err := query.Find(&files).Error; err != nil {
		return nil, err
	}

	results := make([]api.FileResult, 0, len(files))
	for _, file := range files {
		if nameRegex != nil && !nameRegex.MatchString(file.Name) {
			continue
		}
		if len(results) == maxResults {
			break
		}
		results = append(results, fileResult(file))
	}

	if len(results) == 0 {
		return nil, huma.Error404NotFound("no matching files")
	}
	slog.Info(fmt.Sprintf("File search returned %d result(s)", len(results)))
	return &SearchFilesOutput{Body: results}, nil
}

// converts a catalog row into its wire form
func fileResult(file db.File) api.FileResult {
	result := api.FileResult{
		Name:            file.Name,
		CreateTime:      file.CreateTime,
		Size:            file.Size,
		Checksum:        file.Checksum,
		Uploader:        file.Uploader,
		Source:          file.Source,
		Instances:       make([]api.InstanceResult, len(file.Instances)),
		RemoteInstances: make([]api.RemoteInstanceResult, len(file.RemoteInstances)),
	}
	for i, instance := range file.Instances {
		result.Instances[i] = api.InstanceResult{
			Id:             instance.Id,
			Path:           instance.Path,
			StoreName:      instance.StoreName,
			DeletionPolicy: instance.DeletionPolicy,
			CreatedTime:    instance.CreatedTime,
			Available:      instance.Available,
		}
	}
	for i, remote := range file.RemoteInstances {
		result.RemoteInstances[i] = api.RemoteInstanceResult{
			Id:            remote.Id,
			LibrarianName: remote.LibrarianName,
			RemoteStoreId: remote.RemoteStoreId,
			CopyTime:      remote.CopyTime,
		}
	}
	return result
}
