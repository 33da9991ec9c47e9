package config

// a type with authentication configuration parameters
type authConfig struct {
	// path to the fernet-encrypted user records file; if empty, the file
	// "users.dat" in the service data directory is used
	UserFile string `json:"userFile" yaml:"userFile"`
	// base64-encoded fernet key used to decrypt the user records file
	Key string `json:"key" yaml:"key"`
	// interval in seconds at which the user records file is reread
	// (0 disables rereading)
	RereadInterval int `json:"rereadInterval" yaml:"rereadInterval"`
}
