package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/open-edge-platform/pyenv-composer/internal/config/validate"
	"github.com/open-edge-platform/pyenv-composer/internal/utils/logger"
	yamlv3 "gopkg.in/yaml.v3"
	"sigs.k8s.io/yaml"
)

// Environment variables overriding the settings file.
const (
	EnvWorkers      = "PYENV_COMPOSER_WORKERS"
	EnvCacheDir     = "PYENV_COMPOSER_CACHE_DIR"
	EnvWorkDir      = "PYENV_COMPOSER_WORK_DIR"
	EnvLogLevel     = "PYENV_COMPOSER_LOG_LEVEL"
	EnvHTTPTimeout  = "PYENV_COMPOSER_HTTP_TIMEOUT"
	EnvProvisioner  = "PYENV_COMPOSER_PROVISIONER_CONFIG"
	DefaultSettings = "pyenv-composer.yml"
)

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	ReportDir string `yaml:"report_dir"`
}

// GlobalConfig holds runtime settings of the tool, separate from the
// provisioning policy shipped in the binary.
type GlobalConfig struct {
	Workers           int           `yaml:"workers"`
	CacheDir          string        `yaml:"cache_dir"`
	WorkDir           string        `yaml:"work_dir"`
	TempDir           string        `yaml:"temp_dir"`
	HTTPTimeout       string        `yaml:"http_timeout"`
	ProvisionerConfig string        `yaml:"provisioner_config"`
	Logging           LoggingConfig `yaml:"logging"`
}

var (
	globalMu sync.RWMutex
	global   = DefaultGlobalConfig()
)

// DefaultGlobalConfig returns the settings used when no file is present.
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		Workers:     4,
		WorkDir:     ".",
		HTTPTimeout: DefaultHTTPTimeout.String(),
		Logging: LoggingConfig{
			Level:     "info",
			ReportDir: "logs",
		},
	}
}

// LoadGlobalConfig reads settings from path (optional when it is the default
// name and missing), then applies .env and environment overrides.
func LoadGlobalConfig(path string) (*GlobalConfig, error) {
	log := logger.Logger()
	cfg := DefaultGlobalConfig()

	if path == "" {
		path = DefaultSettings
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		jsonData, err := yaml.YAMLToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("converting %s to JSON: %w", path, err)
		}
		if err := validate.ValidateSettingsJSON(jsonData); err != nil {
			return nil, fmt.Errorf("validating %s: %w", path, err)
		}
		if err := yamlv3.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		log.Debugf("loaded settings from %s", path)
	case os.IsNotExist(err) && path == DefaultSettings:
		log.Debugf("no %s found, using defaults", path)
	default:
		return nil, fmt.Errorf("reading settings %s: %w", path, err)
	}

	if err := godotenv.Load(); err != nil {
		log.Debugf("no .env file found, using process environment")
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *GlobalConfig) applyEnv() error {
	if v := os.Getenv(EnvWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid %s %q", EnvWorkers, v)
		}
		c.Workers = n
	}
	if v := os.Getenv(EnvCacheDir); v != "" {
		c.CacheDir = v
	}
	if v := os.Getenv(EnvWorkDir); v != "" {
		c.WorkDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvHTTPTimeout); v != "" {
		c.HTTPTimeout = v
	}
	if v := os.Getenv(EnvProvisioner); v != "" {
		c.ProvisionerConfig = v
	}
	if _, err := time.ParseDuration(c.HTTPTimeout); err != nil {
		return fmt.Errorf("invalid http timeout %q: %w", c.HTTPTimeout, err)
	}
	return nil
}

// DefaultHTTPTimeout applies when http_timeout is unset or unparseable.
const DefaultHTTPTimeout = 60 * time.Second

// Timeout returns the parsed HTTP timeout.
func (c *GlobalConfig) Timeout() time.Duration {
	d, err := time.ParseDuration(c.HTTPTimeout)
	if err != nil {
		return DefaultHTTPTimeout
	}
	return d
}

// SetGlobal replaces the process-wide settings.
func SetGlobal(c *GlobalConfig) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = c
}

// Global returns the process-wide settings.
func Global() *GlobalConfig {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}
