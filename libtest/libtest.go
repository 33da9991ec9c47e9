// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// This package contains testing utilities for the librarian.
package libtest

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fernet/fernet-go"
	"gorm.io/gorm"

	"github.com/librarian-project/librarian/auth"
	"github.com/librarian-project/librarian/config"
	"github.com/librarian-project/librarian/db"
)

// Enables DEBUG log messages for the librarian's structured log (slog).
func EnableDebugLogging() {
	logLevel := new(slog.LevelVar)
	logLevel.Set(slog.LevelDebug)
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(h))
}

// A fernet key generated once per test process, used as the service
// secret so peer credentials can be round-tripped through the database.
var TestSecret string

func init() {
	var key fernet.Key
	if err := key.Generate(); err != nil {
		panic(err)
	}
	TestSecret = key.Encode()
}

// Returns a JSON configuration for a single test librarian rooted at the
// given directory: two local stores (store1 ingestable, store2 not), an
// in-memory SQLite database, and local transfer managers on both stores.
func ServiceConfig(name, root string) string {
	return fmt.Sprintf(`{
	  "service": {
	    "name": "%s",
	    "port": 8080,
	    "maxUploadSize": 1073741824,
	    "dataDirectory": "%s",
	    "secret": "%s"
	  },
	  "database": {"type": "sqlite", "path": ":memory:"},
	  "stores": {
	    "store1": {
	      "storeType": "local",
	      "ingestable": true,
	      "enabled": true,
	      "staging": "%s/store1/staging",
	      "storage": "%s/store1/storage",
	      "transferManagers": {
	        "shared": {"transferType": "local"}
	      },
	      "asyncTransferManagers": {
	        "shared": {"transferType": "local"}
	      }
	    },
	    "store2": {
	      "storeType": "local",
	      "enabled": true,
	      "staging": "%s/store2/staging",
	      "storage": "%s/store2/storage",
	      "transferManagers": {
	        "shared": {"transferType": "local"}
	      }
	    }
	  }
	}`, name, root, TestSecret, root, root, root, root)
}

// Initializes the global configuration for a test librarian rooted at the
// given directory, creating the staging and storage directories of its
// stores.
func InitService(name, root string) error {
	if err := config.Init([]byte(ServiceConfig(name, root))); err != nil {
		return err
	}
	for _, store := range config.Stores {
		for _, dir := range []string{store.Staging, store.Storage} {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return err
			}
		}
	}
	return nil
}

// Records a peer librarian reachable at the given base URL (typically an
// httptest server), encrypting its basic auth credentials with the test
// secret.
func RegisterPeer(gormDB *gorm.DB, name, baseURL, username, password string) error {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(parsed.Port())
	if err != nil {
		return fmt.Errorf("peer base URL %s has no port", baseURL)
	}
	authenticator, err := auth.EncryptPeerCredentials(username, password, TestSecret)
	if err != nil {
		return err
	}
	librarian := db.Librarian{
		Name:             name,
		Url:              fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Hostname()),
		Port:             port,
		Authenticator:    authenticator,
		TransfersEnabled: true,
	}
	return gormDB.Create(&librarian).Error
}

// Creates a file with the given content beneath the given directory,
// creating parent directories as needed, and returns its absolute path.
func WriteTestFile(dir, name, content string) (string, error) {
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", err
	}
	return path, nil
}
