package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for tanglestore.
type Config struct {
	DeviceID string       `toml:"device_id"`
	BaseDir  string       `toml:"base_dir"`
	LogDir   string       `toml:"log_dir"`
	Store    KVConfig     `toml:"store"`
	Crypto   CryptoConfig `toml:"crypto"`
	Sync     SyncConfig   `toml:"sync"`
}

// KVConfig represents configuration for the host key-value store backend.
// This uses a tagged union pattern - the Type field determines which other
// fields are relevant.
type KVConfig struct {
	Type string `toml:"type"` // "memory", "filesystem", or "s3"
	Name string `toml:"name"`

	// Filesystem-specific fields (only used when Type == "filesystem")
	Root string `toml:"root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket       string `toml:"s3_bucket,omitempty"`
	S3Prefix       string `toml:"s3_prefix,omitempty"`
	S3Region       string `toml:"s3_region,omitempty"`
	S3BaseEndpoint string `toml:"s3_base_endpoint,omitempty"`
	S3AccessKey    string `toml:"s3_access_key,omitempty"`
	S3SecretKey    string `toml:"s3_secret_key,omitempty"`
}

// CryptoConfig selects the crypto provider implementation.
type CryptoConfig struct {
	Type string `toml:"type"` // "aesgcm" (default) or "test"
}

// SyncConfig holds defaults for the event sync engine.
type SyncConfig struct {
	Relays         []string `toml:"relays"`
	PublishTimeout int      `toml:"publish_timeout_seconds"`
}

// NewConfig creates a new Config with the provided values and defaults.
func NewConfig(deviceID, baseDir string) *Config {
	return &Config{
		DeviceID: deviceID,
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		Store: KVConfig{
			Type: "filesystem",
			Name: "local",
			Root: filepath.Join(baseDir, "store"),
		},
		Crypto: CryptoConfig{Type: "aesgcm"},
	}
}

// ReadFromFile reads configuration from the given path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	return Read(f)
}

// Read decodes TOML configuration from r.
func Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if cfg.DeviceID == "" {
		return nil, fmt.Errorf("config is missing device_id")
	}
	if cfg.LogDir == "" && cfg.BaseDir != "" {
		cfg.LogDir = filepath.Join(cfg.BaseDir, "log")
	}
	return &cfg, nil
}

// Init writes cfg to path, failing if a config file already exists.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	return Write(f, cfg)
}

// Write encodes cfg as TOML to w.
func Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return nil
}
