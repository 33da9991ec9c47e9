package config

import (
	"fmt"
)

// a type with service configuration parameters
type serviceConfig struct {
	// the name by which this librarian is known to its peers
	Name string `json:"name" yaml:"name"`
	// a human-readable description reported by the ping endpoint
	Description string `json:"description" yaml:"description"`
	// Port on which the service listens.
	Port int `json:"port" yaml:"port"`
	// Maximum number of allowed incoming connections.
	MaxConnections int `json:"maxConnections" yaml:"maxConnections"`
	// Maximum size in bytes of a single staged upload (0 means unlimited).
	MaxUploadSize int64 `json:"maxUploadSize" yaml:"maxUploadSize"`
	// Maximum number of results returned by a file search.
	MaxSearchResults int `json:"maxSearchResults" yaml:"maxSearchResults"`
	// algorithm used when computing checksums of local files
	ChecksumAlgorithm string `json:"checksumAlgorithm" yaml:"checksumAlgorithm"`
	// directory in which the service keeps its local state (transfer
	// journal, encrypted user records)
	DataDirectory string `json:"dataDirectory" yaml:"dataDirectory"`
	// base64-encoded fernet key used to encrypt peer authenticators
	Secret string `json:"secret" yaml:"secret"`
	// timeout in seconds applied to outbound calls to peers
	PeerTimeout int `json:"peerTimeout" yaml:"peerTimeout"`
}

// This helper validates the given service parameters, returning an
// error indicating success or failure.
func validateServiceParameters(params serviceConfig) error {
	if params.Name == "" {
		return fmt.Errorf("No service name was provided!")
	}
	if params.Port < 0 || params.Port > 65535 {
		return fmt.Errorf("Invalid port: %d (must be 0-65535)", params.Port)
	}
	if params.MaxConnections <= 0 {
		return fmt.Errorf("Invalid maxConnections: %d (must be positive)",
			params.MaxConnections)
	}
	if params.MaxUploadSize < 0 {
		return fmt.Errorf("Invalid maxUploadSize: %d (must be non-negative)",
			params.MaxUploadSize)
	}
	if params.MaxSearchResults <= 0 {
		return fmt.Errorf("Invalid maxSearchResults: %d (must be positive)",
			params.MaxSearchResults)
	}
	return nil
}
