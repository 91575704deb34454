package main

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// CLIConfig is the persistent CLI configuration. Subject and company
// sessions are stored separately so one CLI can drive both sides of
// the protocol.
type CLIConfig struct {
	Address      string `yaml:"address"`
	UserToken    string `yaml:"user_token"`
	CompanyToken string `yaml:"company_token"`
	ClientID     string `yaml:"client_id"`
	SecretKey    string `yaml:"secret_key"`
}

var cfg CLIConfig

func configPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".datavault", "config.yaml")
}

func loadConfig() {
	cfg = CLIConfig{
		Address: "http://127.0.0.1:8300",
	}
	data, err := os.ReadFile(configPath())
	if err != nil {
		return // use defaults
	}
	yaml.Unmarshal(data, &cfg) //nolint:errcheck
}

func saveConfig() error {
	path := configPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
