package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ConfigHelpers provides convenient access to global configuration
type ConfigHelpers struct {
	config *GlobalConfig
}

// NewConfigHelpers creates a new config helpers instance
func NewConfigHelpers(config *GlobalConfig) *ConfigHelpers {
	return &ConfigHelpers{config: config}
}

// Workers returns the number of concurrent prefetch workers
func (c *ConfigHelpers) Workers() int {
	if c.config.Workers < 1 {
		return 1
	}
	return c.config.Workers
}

// CacheDir returns the absolute cache directory, or "" when the session
// should derive it from the target directory.
func (c *ConfigHelpers) CacheDir() (string, error) {
	if c.config.CacheDir == "" {
		return "", nil
	}
	return filepath.Abs(c.config.CacheDir)
}

// WorkDir returns the absolute path to the work directory
func (c *ConfigHelpers) WorkDir() (string, error) {
	return filepath.Abs(c.config.WorkDir)
}

// TempDir returns the temporary directory path
func (c *ConfigHelpers) TempDir() string {
	if c.config.TempDir == "" {
		return os.TempDir()
	}
	return c.config.TempDir
}

// HTTPTimeout returns the idle limit of a transfer and the total limit of an
// index page request.
func (c *ConfigHelpers) HTTPTimeout() time.Duration {
	return c.config.Timeout()
}

// LogLevel returns the configured log level
func (c *ConfigHelpers) LogLevel() string {
	return c.config.Logging.Level
}

// IsDebugMode returns true if debug logging is enabled
func (c *ConfigHelpers) IsDebugMode() bool {
	return c.config.Logging.Level == "debug"
}

// ReportDir returns where fetch reports are written, relative to base when not absolute.
func (c *ConfigHelpers) ReportDir(base string) string {
	dir := c.config.Logging.ReportDir
	if dir == "" {
		dir = "logs"
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(base, dir)
}

// ProvisionerConfig loads the provisioning policy, preferring an override
// file named in the settings over the embedded document.
func (c *ConfigHelpers) ProvisionerConfig() (*Config, error) {
	if c.config.ProvisionerConfig != "" {
		return LoadFile(c.config.ProvisionerConfig)
	}
	return Load()
}

// CreateTempDir ensures a temp subdirectory exists
func (c *ConfigHelpers) CreateTempDir(subdir string) (string, error) {
	tempDir := filepath.Join(c.TempDir(), subdir)
	if err := CreateDirIfNotExists(tempDir); err != nil {
		return "", fmt.Errorf("creating temp directory: %w", err)
	}
	return tempDir, nil
}

// CreateDirIfNotExists creates dir and its parents when missing.
func CreateDirIfNotExists(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}
