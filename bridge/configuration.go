package bridge

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// DefaultGhostUsernamePrefix is the default localpart prefix for Slack-originated ghost users
const DefaultGhostUsernamePrefix = "slack_"

// Configuration captures the bridge's external configuration, loaded from a
// TOML file at startup.
//
// The bridge is inherently concurrent (webhook deliveries arrive in
// parallel), so access to the active configuration goes through
// getConfiguration, which returns a struct treated as immutable.
type Configuration struct {
	ListenAddress          string `toml:"listen_address"`
	MatrixServerURL        string `toml:"matrix_server_url"`
	MatrixASToken          string `toml:"matrix_as_token"`
	MatrixServerDomain     string `toml:"matrix_server_domain"`
	SlackAPIURL            string `toml:"slack_api_url"` // empty means the public Slack API
	SlackVerificationToken string `toml:"slack_verification_token"`
	AdminSecret            string `toml:"admin_secret"`
	PostgresDSN            string `toml:"postgres_dsn"`
	GhostUsernamePrefix    string `toml:"ghost_username_prefix"`
}

// Clone shallow copies the configuration.
func (c *Configuration) Clone() *Configuration {
	var clone = *c
	return &clone
}

// GetGhostUsernamePrefix returns the localpart prefix to use for ghost users
func (c *Configuration) GetGhostUsernamePrefix() string {
	if c.GhostUsernamePrefix == "" {
		return DefaultGhostUsernamePrefix
	}
	return c.GhostUsernamePrefix
}

// LoadConfiguration reads and validates a TOML configuration file.
func LoadConfiguration(path string) (*Configuration, error) {
	var config Configuration
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, errors.Wrap(err, "failed to load configuration file")
	}

	if err := validateConfiguration(&config); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return &config, nil
}

// validateConfiguration checks that required configuration fields are present
func validateConfiguration(config *Configuration) error {
	if config.ListenAddress == "" {
		return errors.New("listen address is required")
	}
	if config.MatrixServerURL == "" {
		return errors.New("Matrix server URL is required")
	}
	if config.MatrixASToken == "" {
		return errors.New("Matrix Application Service token is required")
	}
	if config.MatrixServerDomain == "" {
		return errors.New("Matrix server domain is required")
	}
	if config.SlackVerificationToken == "" {
		return errors.New("Slack verification token is required")
	}
	return nil
}

// getConfiguration retrieves the active configuration under lock, making it
// safe to use concurrently. The struct returned is considered immutable.
func (b *Bridge) getConfiguration() *Configuration {
	b.configurationLock.RLock()
	defer b.configurationLock.RUnlock()

	if b.configuration == nil {
		return &Configuration{}
	}

	return b.configuration
}
