package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"shadeledger/crypto"

	"github.com/BurntSushi/toml"
)

// Config drives the shaded daemon: where state lives, where the RPC listens
// and which address administers the ledger.
type Config struct {
	RPCAddress   string `toml:"RPCAddress"`
	DataDir      string `toml:"DataDir"`
	AdminAddress string `toml:"AdminAddress"`
	NetworkName  string `toml:"NetworkName"`
	LogFile      string `toml:"LogFile"`
	LogFileSize  int    `toml:"LogFileSizeMB"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = "127.0.0.1:8645"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./shade-data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "shade-local"
	}
	if cfg.LogFileSize <= 0 {
		cfg.LogFileSize = 100
	}
}

// Validate checks the fields that cannot be defaulted.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AdminAddress) == "" {
		return fmt.Errorf("config: AdminAddress is required")
	}
	if _, err := c.Admin(); err != nil {
		return fmt.Errorf("config: invalid AdminAddress: %w", err)
	}
	return nil
}

// Admin decodes the configured administrator address.
func (c *Config) Admin() (crypto.Address, error) {
	return crypto.DecodeAddress(strings.TrimSpace(c.AdminAddress))
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("config: wrote default config to %s; set AdminAddress and restart", path)
}
