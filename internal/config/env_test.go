package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadEnvOverrides(t *testing.T) {
	t.Setenv(EnvConfig, "/etc/netanalyzer.toml")
	t.Setenv(EnvAPIURL, "https://env.example.com/api/v1/")
	t.Setenv(EnvCredentials, "/run/creds.json")

	assert.Equal(t, EnvOverrides{
		ConfigPath:      "/etc/netanalyzer.toml",
		APIURL:          "https://env.example.com/api/v1/",
		CredentialsFile: "/run/creds.json",
	}, ReadEnvOverrides())
}

func TestReadEnvOverrides_Empty(t *testing.T) {
	t.Setenv(EnvConfig, "")
	t.Setenv(EnvAPIURL, "")
	t.Setenv(EnvCredentials, "")

	assert.Equal(t, EnvOverrides{}, ReadEnvOverrides())
}
