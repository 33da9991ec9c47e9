package config

import (
	"fmt"
)

// a type with metadata database configuration parameters; the librarian
// runs on SQLite for single-node deployments and tests, and on PostgreSQL
// when multiple consumers must share the send queue
type databaseConfig struct {
	// "sqlite" or "postgres"
	Type string `json:"type" yaml:"type"`

	// SQLite parameters
	Path string `json:"path" yaml:"path"`

	// PostgreSQL parameters
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	Name         string `json:"name" yaml:"name"`
	User         string `json:"user" yaml:"user"`
	Password     string `json:"password" yaml:"password"`
	SSLMode      string `json:"sslMode" yaml:"sslMode"`
	MaxOpenConns int    `json:"maxOpenConns" yaml:"maxOpenConns"`
	MaxIdleConns int    `json:"maxIdleConns" yaml:"maxIdleConns"`
}

// returns the PostgreSQL connection string for the configuration
func (c databaseConfig) DSN() string {
	port := c.Port
	if port == 0 {
		port = 5432
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, port, c.User, c.Password, c.Name, sslMode)
}

func validateDatabaseParameters(params databaseConfig) error {
	switch params.Type {
	case "sqlite":
		if params.Path == "" {
			return fmt.Errorf("No SQLite database path was provided!")
		}
	case "postgres":
		if params.Host == "" || params.Name == "" || params.User == "" {
			return fmt.Errorf("PostgreSQL requires host, name, and user settings!")
		}
	default:
		return fmt.Errorf("Invalid database type: %s", params.Type)
	}
	return nil
}
