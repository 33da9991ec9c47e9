package config

import (
	"fmt"
)

// configuration for a single named store
type StoreConfig struct {
	// the kind of store ("local" is the reference implementation)
	StoreType string `json:"storeType" yaml:"storeType"`
	// whether the store accepts client uploads
	Ingestable bool `json:"ingestable" yaml:"ingestable"`
	// whether the store accepts new writes at all
	Enabled bool `json:"enabled" yaml:"enabled"`
	// root directory for in-flight staged bytes
	Staging string `json:"staging" yaml:"staging"`
	// root directory for committed files
	Storage string `json:"storage" yaml:"storage"`
	// synchronous transfer managers, advertised to uploading clients
	TransferManagers map[string]TransferManagerConfig `json:"transferManagers" yaml:"transferManagers"`
	// asynchronous transfer managers, advertised to cloning peers
	AsyncTransferManagers map[string]AsyncTransferManagerConfig `json:"asyncTransferManagers" yaml:"asyncTransferManagers"`
}

// configuration for a synchronous transfer manager
type TransferManagerConfig struct {
	// the kind of manager ("local" or "rsync")
	TransferType string `json:"transferType" yaml:"transferType"`
	// hostnames on which this manager is usable (empty means anywhere)
	Hostnames []string `json:"hostnames" yaml:"hostnames"`
}

// configuration for an asynchronous transfer manager; the fields used
// depend on the manager's type
type AsyncTransferManagerConfig struct {
	// the kind of manager ("local", "rsync", "globus", or "s3")
	TransferType string `json:"transferType" yaml:"transferType"`

	// local and rsync parameters
	Hostname string `json:"hostname" yaml:"hostname"`
	Username string `json:"username" yaml:"username"`

	// Globus parameters
	CollectionId string `json:"collectionId" yaml:"collectionId"`
	ClientId     string `json:"clientId" yaml:"clientId"`
	ClientSecret string `json:"clientSecret" yaml:"clientSecret"`

	// S3 parameters
	Bucket          string `json:"bucket" yaml:"bucket"`
	Region          string `json:"region" yaml:"region"`
	Endpoint        string `json:"endpoint" yaml:"endpoint"`
	AccessKeyId     string `json:"accessKeyId" yaml:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey" yaml:"secretAccessKey"`
}

func validateStoreParameters(name string, params StoreConfig) error {
	if params.StoreType == "" {
		return fmt.Errorf("Store %s has no storeType!", name)
	}
	if params.Staging == "" || params.Storage == "" {
		return fmt.Errorf("Store %s needs both staging and storage directories!", name)
	}
	for managerName, manager := range params.TransferManagers {
		if manager.TransferType == "" {
			return fmt.Errorf("Transfer manager %s on store %s has no transferType!",
				managerName, name)
		}
	}
	for managerName, manager := range params.AsyncTransferManagers {
		if manager.TransferType == "" {
			return fmt.Errorf("Async transfer manager %s on store %s has no transferType!",
				managerName, name)
		}
	}
	return nil
}
