package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"devauth/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/devauth"
	configFileName = "config.yaml"

	// EnvServerURL overrides client.serverURL.
	EnvServerURL = "DEVAUTH_SERVER_URL"
	// EnvClientID overrides client.clientID.
	EnvClientID = "DEVAUTH_CLIENT_ID"
)

func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// ConfigFilePath returns the path of config.yaml inside configPath.
func ConfigFilePath(configPath string) string {
	return filepath.Join(configPath, configFileName)
}

// LoadConfig loads config.yaml from configPath over the defaults and applies
// environment overrides. A missing file is not an error.
func LoadConfig(configPath string) (Config, error) {
	config, err := loadFile(configPath)
	if err != nil {
		return Config{}, err
	}
	applyEnv(&config)
	resolvePaths(&config, configPath)
	return config, nil
}

func loadFile(configPath string) (Config, error) {
	configFilePath := ConfigFilePath(configPath)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Debug("Config", "No config.yaml found at %s, using defaults", configFilePath)
			return config, nil
		}
		return Config{}, fmt.Errorf("error reading config from %s: %w", configFilePath, err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
	}
	logging.Debug("Config", "Loaded configuration from %s", configFilePath)
	return config, nil
}

func applyEnv(config *Config) {
	if v := os.Getenv(EnvServerURL); v != "" {
		config.Client.ServerURL = v
	}
	if v := os.Getenv(EnvClientID); v != "" {
		config.Client.ClientID = v
	}
}

func resolvePaths(config *Config, configPath string) {
	if config.Client.CredentialsFile == "" {
		config.Client.CredentialsFile = filepath.Join(configPath, DefaultCredentialsFileName)
	}
}
