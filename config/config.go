package config

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// global config variables
var Service serviceConfig
var Database databaseConfig
var Stores map[string]StoreConfig
var Auth authConfig
var Tasks tasksConfig

// This struct performs the unmarshalling from the config file and then
// copies its fields to the globals above. The file itself is JSON, which
// the YAML parser accepts directly.
type configFile struct {
	Service  serviceConfig          `json:"service" yaml:"service"`
	Database databaseConfig         `json:"database" yaml:"database"`
	Stores   map[string]StoreConfig `json:"stores" yaml:"stores"`
	Auth     authConfig             `json:"auth" yaml:"auth"`
	Tasks    tasksConfig            `json:"tasks" yaml:"tasks"`
}

// This helper reads configuration data, returning an error indicating
// success or failure. All environment variables of the form ${ENV_VAR} are
// expanded.
func readConfig(bytes []byte) error {
	// Before we do anything else, expand any provided environment variables.
	bytes = []byte(os.ExpandEnv(string(bytes)))

	var conf configFile
	conf.Service.Port = 8080
	conf.Service.MaxConnections = 100
	conf.Service.MaxSearchResults = 64
	conf.Service.ChecksumAlgorithm = "md5"
	conf.Database.Type = "sqlite"
	conf.Tasks.PollInterval = 60000
	err := yaml.Unmarshal(bytes, &conf)
	if err != nil {
		log.Printf("Couldn't parse configuration data: %s\n", err)
		return err
	}

	// copy the config data into place
	Service = conf.Service
	Database = conf.Database
	Stores = conf.Stores
	Auth = conf.Auth
	Tasks = conf.Tasks

	return err
}

// This helper validates the configuration, returning an error that
// indicates success or failure.
func validateConfig() error {
	err := validateServiceParameters(Service)
	if err != nil {
		return err
	}

	err = validateDatabaseParameters(Database)
	if err != nil {
		return err
	}

	// Were we given any stores?
	if len(Stores) == 0 {
		return fmt.Errorf("No stores were provided!")
	}
	for name, store := range Stores {
		if err = validateStoreParameters(name, store); err != nil {
			return err
		}
	}
	return nil
}

// Initializes the librarian configuration using the given byte data.
func Init(configData []byte) error {

	// Read the configuration from our config file.
	err := readConfig(configData)
	if err != nil {
		return err
	}

	// Validate the configuration.
	err = validateConfig()
	return err
}
