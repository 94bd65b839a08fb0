package bridge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfiguration() *Configuration {
	return &Configuration{
		ListenAddress:          "localhost:8585",
		MatrixServerURL:        "https://matrix.example.com",
		MatrixASToken:          "as-token",
		MatrixServerDomain:     "example.com",
		SlackVerificationToken: "vtok",
	}
}

func TestValidateConfiguration(t *testing.T) {
	testCases := []struct {
		name        string
		mutate      func(*Configuration)
		expectError string
	}{
		{
			name:   "valid",
			mutate: func(*Configuration) {},
		},
		{
			name:        "missing listen address",
			mutate:      func(c *Configuration) { c.ListenAddress = "" },
			expectError: "listen address",
		},
		{
			name:        "missing matrix server URL",
			mutate:      func(c *Configuration) { c.MatrixServerURL = "" },
			expectError: "Matrix server URL",
		},
		{
			name:        "missing AS token",
			mutate:      func(c *Configuration) { c.MatrixASToken = "" },
			expectError: "token",
		},
		{
			name:        "missing server domain",
			mutate:      func(c *Configuration) { c.MatrixServerDomain = "" },
			expectError: "domain",
		},
		{
			name:        "missing verification token",
			mutate:      func(c *Configuration) { c.SlackVerificationToken = "" },
			expectError: "verification token",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			config := validTestConfiguration()
			tc.mutate(config)

			err := validateConfiguration(config)
			if tc.expectError == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.expectError)
			}
		})
	}
}

func TestLoadConfiguration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
listen_address = "localhost:8585"
matrix_server_url = "https://matrix.example.com"
matrix_as_token = "as-token"
matrix_server_domain = "example.com"
slack_verification_token = "vtok"
ghost_username_prefix = "slackbridge_"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	config, err := LoadConfiguration(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:8585", config.ListenAddress)
	assert.Equal(t, "slackbridge_", config.GetGhostUsernamePrefix())
}

func TestLoadConfigurationRejectsIncomplete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`listen_address = "localhost:8585"`), 0o600))

	_, err := LoadConfiguration(path)
	require.Error(t, err)
}

func TestGetGhostUsernamePrefixDefault(t *testing.T) {
	config := &Configuration{}
	assert.Equal(t, DefaultGhostUsernamePrefix, config.GetGhostUsernamePrefix())
}

func TestConfigurationClone(t *testing.T) {
	config := validTestConfiguration()
	clone := config.Clone()
	clone.ListenAddress = "localhost:9999"
	assert.Equal(t, "localhost:8585", config.ListenAddress)
}
