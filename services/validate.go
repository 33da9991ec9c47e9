package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/danielgtaylor/huma/v2"

	"github.com/librarian-project/librarian/api"
	"github.com/librarian-project/librarian/auth"
	"github.com/librarian-project/librarian/config"
	"github.com/librarian-project/librarian/core"
	"github.com/librarian-project/librarian/db"
)

// number of peers queried concurrently during validation
const validationWorkers = 4

type ValidateFileOutput struct {
	Body []api.FileValidation `doc:"one validation per local instance and per peer copy"`
}

// handler method for validating every known copy of a file, local and
// remote; peers holding remote instances are queried with a bounded
// worker pool so one slow peer delays, but never starves, the rest
func (service *librarianService) validateFile(ctx context.Context,
	input *struct {
		Authorization string                  `header:"authorization"`
		Body          api.ValidateFileRequest `doc:"the file to validate"`
	}) (*ValidateFileOutput, error) {

	if _, err := service.authorize(input.Authorization, auth.LevelReadOnly); err != nil {
		return nil, err
	}

	var file db.File
	err := service.db.Preload("Instances").Preload("RemoteInstances").
		First(&file, "name = ?", input.Body.FileName).Error
	if err != nil {
		return nil, huma.Error404NotFound(
			fmt.Sprintf("no file named %s", input.Body.FileName))
	}

	validations := make([]api.FileValidation, 0,
		len(file.Instances)+len(file.RemoteInstances))

	// local instances are checked inline
	for _, instance := range file.Instances {
		validation := api.FileValidation{
			Librarian:        config.Service.Name,
			Store:            instance.StoreName,
			InstanceId:       instance.Id,
			OriginalChecksum: file.Checksum,
			OriginalSize:     file.Size,
		}
		manager, found := service.stores[instance.StoreName]
		if !found {
			db.LogError(service.db, core.SeverityError, core.CategoryConfiguration,
				fmt.Sprintf("instance %d names unknown store %s",
					instance.Id, instance.StoreName))
			validations = append(validations, validation)
			continue
		}
		info, err := manager.PathInfo(instance.Path, file.Checksum.Algorithm)
		if err != nil {
			slog.Warn(fmt.Sprintf("Couldn't read instance %d of %s: %s",
				instance.Id, file.Name, err))
			validations = append(validations, validation)
			continue
		}
		validation.CurrentChecksum = info.Checksum
		validation.CurrentSize = info.Size
		matches, err := info.Checksum.Matches(file.Checksum)
		validation.ComputedSameChecksum = err == nil && matches &&
			info.Size == file.Size
		validations = append(validations, validation)
	}

	// each peer holding a remote instance reports on its own copies
	peers := make(map[string]bool)
	for _, remote := range file.RemoteInstances {
		peers[remote.LibrarianName] = true
	}

	var mutex sync.Mutex
	var waitGroup sync.WaitGroup
	semaphore := make(chan struct{}, validationWorkers)
	for peerName := range peers {
		waitGroup.Add(1)
		go func(peerName string) {
			defer waitGroup.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			peer, err := service.peerClient(peerName)
			if err != nil {
				slog.Warn(fmt.Sprintf("Couldn't reach peer %s for validation: %s",
					peerName, err))
				return
			}
			peerValidations, err := peer.ValidateFile(file.Name)
			if err != nil {
				slog.Warn(fmt.Sprintf("Peer %s couldn't validate %s: %s",
					peerName, file.Name, err))
				return
			}
			mutex.Lock()
			validations = append(validations, peerValidations...)
			mutex.Unlock()
		}(peerName)
	}
	waitGroup.Wait()

	return &ValidateFileOutput{Body: validations}, nil
}
