package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Init writes an example configuration file to configPath.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	example := Default()
	example.GitHub.ClientID = "${GITHUB_CLIENT_ID}"
	example.GitHub.ClientSecret = "${GITHUB_CLIENT_SECRET}"
	example.GitHub.WebhookSecret = "${GITHUB_WEBHOOK_SECRET}"
	example.Auth.JWTSecret = "${JWT_SECRET}"

	data, err := yaml.Marshal(example)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
