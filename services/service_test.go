package services

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"github.com/librarian-project/librarian/api"
	"github.com/librarian-project/librarian/auth"
	"github.com/librarian-project/librarian/core"
	"github.com/librarian-project/librarian/db"
	"github.com/librarian-project/librarian/libtest"
	"github.com/librarian-project/librarian/store"
)

// configures a two-store test librarian, opens an in-memory database, and
// builds a service around it; "client", "peer-a", and "admin" can all
// authenticate with the password "password"
func serviceSetup(t *testing.T) (*librarianService, *gorm.DB) {
	assert.Nil(t, libtest.InitService("test-librarian", t.TempDir()))
	gormDB, err := db.Open()
	assert.Nil(t, err)

	auth.InjectTestUser("client", "password", auth.LevelReadAppend)
	auth.InjectTestUser("peer-a", "password", auth.LevelCallback)
	auth.InjectTestUser("peer-b", "password", auth.LevelCallback)
	auth.InjectTestUser("admin", "password", auth.LevelAdmin)

	svc, err := NewLibrarianService(gormDB)
	assert.Nil(t, err)
	return svc.(*librarianService), gormDB
}

// posts a JSON body to the service's router as the given user
func doPost(t *testing.T, service *librarianService, username, password,
	path string, body any) *httptest.ResponseRecorder {

	payload, err := json.Marshal(body)
	assert.Nil(t, err)
	request := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	request.Header.Set("Content-Type", "application/json")
	request.SetBasicAuth(username, password)
	recorder := httptest.NewRecorder()
	service.Router.ServeHTTP(recorder, request)
	return recorder
}

func decodeResponse(t *testing.T, recorder *httptest.ResponseRecorder, v any) {
	assert.Nil(t, json.Unmarshal(recorder.Body.Bytes(), v))
}

// computes the checksum a client would declare for the given content
func checksumOf(t *testing.T, content string) core.Checksum {
	path := filepath.Join(t.TempDir(), "checksum-input")
	assert.Nil(t, os.WriteFile(path, []byte(content), 0644))
	checksum, err := core.ChecksumPath(path, "md5")
	assert.Nil(t, err)
	return checksum
}

// places content on the named store and catalogs it as a File with one
// available Instance
func seedCatalogFile(t *testing.T, gormDB *gorm.DB, storeName, name,
	content string) (*db.File, *db.Instance) {

	manager, err := store.NewManager(storeName)
	assert.Nil(t, err)
	path, err := manager.Store(name)
	assert.Nil(t, err)
	assert.Nil(t, os.WriteFile(path, []byte(content), 0644))
	info, err := manager.PathInfo(path, "md5")
	assert.Nil(t, err)

	file := db.File{
		Name:       name,
		CreateTime: time.Now().UTC(),
		Size:       info.Size,
		Checksum:   info.Checksum,
		Uploader:   "uploader",
		Source:     "test-librarian",
	}
	assert.Nil(t, gormDB.Create(&file).Error)
	instance := db.Instance{
		FileName:       name,
		Path:           path,
		StoreName:      storeName,
		DeletionPolicy: core.DeletionAllowed,
		CreatedTime:    time.Now().UTC(),
		Available:      true,
	}
	assert.Nil(t, gormDB.Create(&instance).Error)
	return &file, &instance
}

// tests that the root endpoint answers without authorization
func TestGetRoot(t *testing.T) {
	service, _ := serviceSetup(t)

	request := httptest.NewRequest(http.MethodGet, "/", nil)
	recorder := httptest.NewRecorder()
	service.Router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusOK, recorder.Code)
	var info ServiceInfoResponse
	decodeResponse(t, recorder, &info)
	assert.Equal(t, "test-librarian", info.Name)
	assert.Equal(t, core.Version, info.Version)
	assert.Equal(t, "/docs", info.Documentation)
}

// tests that ping answers authenticated callers and refuses bad
// credentials
func TestPing(t *testing.T) {
	service, _ := serviceSetup(t)

	recorder := doPost(t, service, "peer-a", "password", "/ping", struct{}{})
	assert.Equal(t, http.StatusOK, recorder.Code)
	var pong api.PingResponse
	decodeResponse(t, recorder, &pong)
	assert.Equal(t, "test-librarian", pong.Name)

	recorder = doPost(t, service, "peer-a", "wrong", "/ping", struct{}{})
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)

	recorder = doPost(t, service, "stranger", "password", "/ping", struct{}{})
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

// tests that hearing from a registered peer stamps its last_heard time
func TestAuthorizeNotesPeerContact(t *testing.T) {
	service, gormDB := serviceSetup(t)
	assert.Nil(t, libtest.RegisterPeer(gormDB, "peer-a",
		"http://localhost:8080", "peer-a", "password"))

	recorder := doPost(t, service, "peer-a", "password", "/ping", struct{}{})
	assert.Equal(t, http.StatusOK, recorder.Code)

	var librarian db.Librarian
	assert.Nil(t, gormDB.First(&librarian, "name = ?", "peer-a").Error)
	assert.NotNil(t, librarian.LastHeard)
}

// tests that endpoints demand their authorization level
func TestAuthorizationLevels(t *testing.T) {
	service, _ := serviceSetup(t)

	// a read-append client cannot use admin endpoints
	recorder := doPost(t, service, "client", "password", "/errors/search",
		api.ErrorSearchRequest{})
	assert.Equal(t, http.StatusForbidden, recorder.Code)

	// a read-only user cannot use the peer callback endpoints
	auth.InjectTestUser("reader", "password", auth.LevelReadOnly)
	recorder = doPost(t, service, "reader", "password", "/clone/ongoing",
		api.CloneOngoingRequest{DestinationTransferId: 1})
	assert.Equal(t, http.StatusForbidden, recorder.Code)

	// nor stage uploads
	recorder = doPost(t, service, "reader", "password", "/upload/stage",
		api.UploadStageRequest{})
	assert.Equal(t, http.StatusForbidden, recorder.Code)
}
