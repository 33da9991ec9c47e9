package core

import (
	"fmt"
	"time"

	"github.com/librarian-project/librarian/config"
)

// the librarian's version, reported by the root endpoint
var MajorVersion = 0
var MinorVersion = 1
var PatchVersion = 0

var Version = fmt.Sprintf("%d.%d.%d", MajorVersion, MinorVersion, PatchVersion)

// guards against double initialization
var initialized = false

// when this process came up
var startTime time.Time

// Initializes the librarian's process-wide state and parses the given
// configuration data. Safe to call more than once; only the first call
// starts the uptime clock.
func Init(configData []byte) error {

	if !initialized {
		startTime = time.Now()
		initialized = true
	}
	return config.Init(configData)
}

// Returns the number of seconds this process has been running.
func Uptime() float64 {
	return time.Since(startTime).Seconds()
}
