package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"github.com/librarian-project/librarian/api"
	"github.com/librarian-project/librarian/core"
	"github.com/librarian-project/librarian/db"
	"github.com/librarian-project/librarian/libtest"
)

// stands up a canned peer librarian serving the given handlers and
// registers it under the given name
func registerTestPeer(t *testing.T, gormDB *gorm.DB, name string,
	handlers map[string]http.HandlerFunc) {

	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			if handler, found := handlers[r.URL.Path]; found {
				handler(w, r)
				return
			}
			w.WriteHeader(http.StatusNotFound)
		}))
	t.Cleanup(server.Close)
	assert.Nil(t, libtest.RegisterPeer(gormDB, name, server.URL, name, "password"))
}

// tests searching the catalog by exact name and by regex
func TestSearchFiles(t *testing.T) {
	service, gormDB := serviceSetup(t)
	seedCatalogFile(t, gormDB, "store1", "obs/alpha.txt", "alpha content")
	seedCatalogFile(t, gormDB, "store1", "obs/beta.txt", "beta content")
	seedCatalogFile(t, gormDB, "store1", "img/gamma.png", "gamma content")

	recorder := doPost(t, service, "client", "password", "/search/file",
		api.SearchFilesRequest{Name: "obs/alpha.txt"})
	assert.Equal(t, http.StatusOK, recorder.Code)
	var results []api.FileResult
	decodeResponse(t, recorder, &results)
	assert.Len(t, results, 1)
	assert.Equal(t, "obs/alpha.txt", results[0].Name)
	assert.Len(t, results[0].Instances, 1)
	assert.True(t, results[0].Instances[0].Available)

	recorder = doPost(t, service, "client", "password", "/search/file",
		api.SearchFilesRequest{NameRegex: "^obs/"})
	assert.Equal(t, http.StatusOK, recorder.Code)
	decodeResponse(t, recorder, &results)
	assert.Len(t, results, 2)

	recorder = doPost(t, service, "client", "password", "/search/file",
		api.SearchFilesRequest{NameRegex: "^obs/", MaxResults: 1})
	assert.Equal(t, http.StatusOK, recorder.Code)
	decodeResponse(t, recorder, &results)
	assert.Len(t, results, 1)

	recorder = doPost(t, service, "client", "password", "/search/file",
		api.SearchFilesRequest{NameRegex: "["})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

// tests that validation checks local bytes against the catalog and folds
// in reports from peers holding remote copies
func TestValidateFile(t *testing.T) {
	service, gormDB := serviceSetup(t)
	file, _ := seedCatalogFile(t, gormDB, "store1", "obs/checked.txt", "pristine")
	assert.Nil(t, gormDB.Create(&db.RemoteInstance{
		FileName:      file.Name,
		LibrarianName: "peer-a",
	}).Error)

	registerTestPeer(t, gormDB, "peer-a", map[string]http.HandlerFunc{
		"/validate/file": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode([]api.FileValidation{{
				Librarian:            "peer-a",
				Store:                "peer-store",
				ComputedSameChecksum: true,
			}})
		},
	})

	recorder := doPost(t, service, "client", "password", "/validate/file",
		api.ValidateFileRequest{FileName: "obs/checked.txt"})
	assert.Equal(t, http.StatusOK, recorder.Code)

	var validations []api.FileValidation
	decodeResponse(t, recorder, &validations)
	assert.Len(t, validations, 2)

	byLibrarian := make(map[string]api.FileValidation)
	for _, validation := range validations {
		byLibrarian[validation.Librarian] = validation
	}
	local := byLibrarian["test-librarian"]
	assert.Equal(t, "store1", local.Store)
	assert.True(t, local.ComputedSameChecksum)
	assert.True(t, byLibrarian["peer-a"].ComputedSameChecksum)
}

// tests that corruption on disk shows up as a checksum mismatch
func TestValidateFileDetectsCorruption(t *testing.T) {
	service, gormDB := serviceSetup(t)
	_, instance := seedCatalogFile(t, gormDB, "store1", "obs/rotten.txt",
		"original bytes")
	assert.Nil(t, os.WriteFile(instance.Path, []byte("bit-rotted"), 0644))

	recorder := doPost(t, service, "client", "password", "/validate/file",
		api.ValidateFileRequest{FileName: "obs/rotten.txt"})
	assert.Equal(t, http.StatusOK, recorder.Code)

	var validations []api.FileValidation
	decodeResponse(t, recorder, &validations)
	assert.Len(t, validations, 1)
	assert.False(t, validations[0].ComputedSameChecksum)
	assert.NotEqual(t, validations[0].OriginalChecksum.Hex,
		validations[0].CurrentChecksum.Hex)
}

// tests that validating an unknown file is a 404
func TestValidateUnknownFile(t *testing.T) {
	service, _ := serviceSetup(t)
	recorder := doPost(t, service, "client", "password", "/validate/file",
		api.ValidateFileRequest{FileName: "obs/nothing.txt"})
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

// tests the admin error triage endpoints: search, clear, and the cleared
// filter
func TestErrorEndpoints(t *testing.T) {
	service, gormDB := serviceSetup(t)
	db.LogError(gormDB, core.SeverityError, core.CategoryDataIntegrity,
		"checksum mismatch on obs/a.txt")
	db.LogError(gormDB, core.SeverityWarning, core.CategoryTransfer,
		"peer-a unreachable")

	recorder := doPost(t, service, "admin", "password", "/errors/search",
		api.ErrorSearchRequest{})
	assert.Equal(t, http.StatusOK, recorder.Code)
	var results []api.ErrorResult
	decodeResponse(t, recorder, &results)
	assert.Len(t, results, 2)

	recorder = doPost(t, service, "admin", "password", "/errors/clear",
		api.ErrorClearRequest{Id: results[0].Id})
	assert.Equal(t, http.StatusOK, recorder.Code)

	recorder = doPost(t, service, "admin", "password", "/errors/search",
		api.ErrorSearchRequest{})
	assert.Equal(t, http.StatusOK, recorder.Code)
	decodeResponse(t, recorder, &results)
	assert.Len(t, results, 1)

	recorder = doPost(t, service, "admin", "password", "/errors/search",
		api.ErrorSearchRequest{IncludeCleared: true})
	assert.Equal(t, http.StatusOK, recorder.Code)
	decodeResponse(t, recorder, &results)
	assert.Len(t, results, 2)

	recorder = doPost(t, service, "admin", "password", "/errors/clear",
		api.ErrorClearRequest{Id: 9999})
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}
