package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig      = "NETANALYZER_CONFIG"
	EnvAPIURL      = "NETANALYZER_API_URL"
	EnvCredentials = "NETANALYZER_CREDENTIALS"
	// EnvUsername and EnvPassword are read by the login paths only; they
	// never reach Config.
	EnvUsername = "NETANALYZER_USERNAME"
	EnvPassword = "NETANALYZER_PASSWORD"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath      string // NETANALYZER_CONFIG: override config file path
	APIURL          string // NETANALYZER_API_URL: override api.base_url
	CredentialsFile string // NETANALYZER_CREDENTIALS: override auth.credentials_file
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:      os.Getenv(EnvConfig),
		APIURL:          os.Getenv(EnvAPIURL),
		CredentialsFile: os.Getenv(EnvCredentials),
	}
}
