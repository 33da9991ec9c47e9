package config

// These tests verify that we can properly configure the librarian with
// JSON input.
import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

// a valid config (the file format is JSON, parsed by the YAML reader)
const VALID_CONFIG string = `
{
  "service": {
    "name": "test-librarian",
    "description": "a librarian for testing",
    "port": 8080,
    "maxConnections": 100,
    "maxUploadSize": 1073741824,
    "dataDirectory": "${TEST_DATA_DIR}"
  },
  "database": {
    "type": "sqlite",
    "path": ":memory:"
  },
  "stores": {
    "store1": {
      "storeType": "local",
      "ingestable": true,
      "enabled": true,
      "staging": "/tmp/librarian/staging",
      "storage": "/tmp/librarian/storage",
      "transferManagers": {
        "local": {"transferType": "local"}
      },
      "asyncTransferManagers": {
        "rsync": {"transferType": "rsync", "hostname": "librarian.example.org"}
      }
    }
  },
  "tasks": {
    "pollInterval": 500,
    "sendClone": [
      {"period": 60, "softTimeout": 30, "destination": "peer-b",
       "ageInDays": 7, "sendBatchSize": 32}
    ]
  }
}
`

// tests whether config.Init reports an error for blank input
func TestInitRejectsBlankInput(t *testing.T) {
	b := []byte("")
	err := Init(b)
	assert.NotNil(t, err, "Blank config didn't trigger an error.")
}

// tests whether config.Init accepts a valid config and expands environment
// variables within it
func TestInitAcceptsValidInput(t *testing.T) {
	os.Setenv("TEST_DATA_DIR", "/tmp/librarian/data")
	err := Init([]byte(VALID_CONFIG))
	assert.Nil(t, err)
	assert.Equal(t, "test-librarian", Service.Name)
	assert.Equal(t, "/tmp/librarian/data", Service.DataDirectory)
	assert.Equal(t, "sqlite", Database.Type)
	assert.Equal(t, 1, len(Stores))
	assert.True(t, Stores["store1"].Ingestable)
	assert.Equal(t, "local", Stores["store1"].TransferManagers["local"].TransferType)
	assert.Equal(t, "rsync", Stores["store1"].AsyncTransferManagers["rsync"].TransferType)
	assert.Equal(t, 1, len(Tasks.SendClone))
	assert.Equal(t, "peer-b", Tasks.SendClone[0].Destination)
	assert.Equal(t, 60, Tasks.SendClone[0].Period)
}

// tests whether config.Init reports an error for an invalid port
func TestInitRejectsBadPort(t *testing.T) {
	conf := `{"service": {"name": "x", "port": -1},
	          "database": {"type": "sqlite", "path": ":memory:"},
	          "stores": {"s": {"storeType": "local", "staging": "/a", "storage": "/b"}}}`
	err := Init([]byte(conf))
	assert.NotNil(t, err, "Config with bad port didn't trigger an error.")
}

// tests whether config.Init reports an error when no stores are defined
func TestInitRejectsMissingStores(t *testing.T) {
	conf := `{"service": {"name": "x"},
	          "database": {"type": "sqlite", "path": ":memory:"}}`
	err := Init([]byte(conf))
	assert.NotNil(t, err, "Config without stores didn't trigger an error.")
}

// tests whether config.Init reports an error for a bad database section
func TestInitRejectsBadDatabase(t *testing.T) {
	conf := `{"service": {"name": "x"},
	          "database": {"type": "postgres"},
	          "stores": {"s": {"storeType": "local", "staging": "/a", "storage": "/b"}}}`
	err := Init([]byte(conf))
	assert.NotNil(t, err, "Incomplete postgres config didn't trigger an error.")
}
