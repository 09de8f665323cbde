package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for drivemirror.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	LogLevel   string           `toml:"log_level"` // "debug", "info", "warn" or "error"
	Database   DatabaseConfig   `toml:"database"`
	Drive      DriveConfig      `toml:"drive"`
	Encryption EncryptionConfig `toml:"encryption"`
}

// DatabaseConfig represents configuration for the mirror database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// DriveConfig represents configuration for the remote file service.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DriveConfig struct {
	Type string `toml:"type"` // "google" or "memory"

	// Google-specific fields (only used when Type == "google")
	CredentialsPath   string  `toml:"credentials_path,omitempty"`
	Subject           string  `toml:"subject,omitempty"`  // user impersonated through domain-wide delegation
	Endpoint          string  `toml:"endpoint,omitempty"` // overrides the API base URL
	RequestsPerSecond float64 `toml:"requests_per_second,omitempty"`
	Burst             int     `toml:"burst,omitempty"`

	// Memory-specific fields (only used when Type == "memory")
	SeedPath string `toml:"seed_path,omitempty"` // YAML listing served by the memory drive

	PageSize int `toml:"page_size"`
}

// EncryptionConfig holds paths to the age key pair used for mirror snapshots.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
	Armor          bool   `toml:"armor"` // PEM-armored snapshots
}

const (
	DefaultPageSize          = 1000
	DefaultRequestsPerSecond = 10
	DefaultBurst             = 10
	DefaultLogLevel          = "info"
)

// NewConfig creates a Config rooted at baseDir with default values.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: DefaultLogLevel,
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Drive: DriveConfig{
			Type:              "google",
			CredentialsPath:   filepath.Join(baseDir, "credentials.json"),
			RequestsPerSecond: DefaultRequestsPerSecond,
			Burst:             DefaultBurst,
			PageSize:          DefaultPageSize,
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "drivemirror.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "drivemirror.key"),
		},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "sqlite":
		if c.Database.DataDir == "" {
			return fmt.Errorf("database: data_dir required for sqlite database")
		}
	case "memory":
	default:
		return fmt.Errorf("database: unknown type %q", c.Database.Type)
	}

	switch c.Drive.Type {
	case "google":
		if c.Drive.CredentialsPath == "" {
			return fmt.Errorf("drive: credentials_path required for google drive")
		}
		if c.Drive.RequestsPerSecond < 0 || c.Drive.Burst < 0 {
			return fmt.Errorf("drive: requests_per_second and burst must not be negative")
		}
	case "memory":
	default:
		return fmt.Errorf("drive: unknown type %q", c.Drive.Type)
	}
	if c.Drive.PageSize < 0 {
		return fmt.Errorf("drive: page_size must not be negative")
	}

	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level: unknown level %q", c.LogLevel)
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The config may name credentials; keep it private to the user.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to path. An existing file is never overwritten.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
