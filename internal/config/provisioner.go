package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/open-edge-platform/pyenv-composer/internal/config/validate"
	yamlv3 "gopkg.in/yaml.v3"
	"sigs.k8s.io/yaml"
)

//go:embed data/provisioner.yml
var embeddedProvisioner []byte

// DefaultPrompt is the activation prompt prefix when the document sets none.
const DefaultPrompt = "PYENV "

// ErrNotFound is returned when the configuration has no entry for a key.
var ErrNotFound = errors.New("not found")

// ConfigError reports a structurally invalid provisioning document.
type ConfigError struct {
	Source string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid provisioning config %s: %v", e.Source, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Mirror is one package index endpoint.
type Mirror struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// BaseURL returns the mirror URL with exactly one trailing slash.
func (m Mirror) BaseURL() string {
	return strings.TrimRight(m.URL, "/") + "/"
}

// PackageURL joins the mirror base with a canonical project name,
// e.g. https://pypi.org/simple + numpy -> https://pypi.org/simple/numpy/.
func (m Mirror) PackageURL(canonicalName string) string {
	return m.BaseURL() + canonicalName + "/"
}

// DistSource is one downloadable interpreter build for a platform.
type DistSource struct {
	PythonVersion string `yaml:"python_version"`
	PlatformTag   string `yaml:"platform_tag"`
	Version       string `yaml:"version"`
	URL           string `yaml:"url"`
	Checksum      string `yaml:"checksum"`
	SignatureURL  string `yaml:"signature_url,omitempty"`
}

// Digest splits the checksum into algorithm and lowercase hex value.
// A bare hex value is taken as sha256.
func (d DistSource) Digest() (string, string) {
	algo, value, found := strings.Cut(d.Checksum, ":")
	if !found {
		return "sha256", strings.ToLower(d.Checksum)
	}
	return strings.ToLower(algo), strings.ToLower(value)
}

// Branding holds the strings written into the generated environment.
type Branding struct {
	Prompt string `yaml:"prompt"`
}

// Config is the immutable provisioning policy.
type Config struct {
	SchemaVersion int          `yaml:"schema_version"`
	Pip           string       `yaml:"pip_version"`
	MirrorList    []Mirror     `yaml:"mirrors"`
	Python        []DistSource `yaml:"python"`
	Keyring       string       `yaml:"keyring,omitempty"`
	Branding      Branding     `yaml:"branding"`
}

// Load parses and validates the provisioning document embedded in the binary.
func Load() (*Config, error) {
	return parseProvisioner("embedded", embeddedProvisioner)
}

// LoadFile parses and validates a provisioning document from disk, for
// installers that override the embedded policy.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Source: path, Err: err}
	}
	return parseProvisioner(path, data)
}

func parseProvisioner(source string, data []byte) (*Config, error) {
	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, &ConfigError{Source: source, Err: fmt.Errorf("converting YAML to JSON: %w", err)}
	}
	if err := validate.ValidateProvisionerJSON(jsonData); err != nil {
		return nil, &ConfigError{Source: source, Err: err}
	}

	var cfg Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigError{Source: source, Err: fmt.Errorf("decoding YAML: %w", err)}
	}

	seen := make(map[string]bool, len(cfg.Python))
	for _, src := range cfg.Python {
		key := src.PythonVersion + "/" + src.PlatformTag
		if seen[key] {
			return nil, &ConfigError{Source: source,
				Err: fmt.Errorf("duplicate interpreter source for python %s on %s", src.PythonVersion, src.PlatformTag)}
		}
		seen[key] = true
	}

	if cfg.Branding.Prompt == "" {
		cfg.Branding.Prompt = DefaultPrompt
	}
	return &cfg, nil
}

// PipVersion returns the pinned pip version.
func (c *Config) PipVersion() string {
	return c.Pip
}

// Mirrors returns the index mirrors in configured order.
func (c *Config) Mirrors() []Mirror {
	out := make([]Mirror, len(c.MirrorList))
	copy(out, c.MirrorList)
	return out
}

// DistributionSource returns the interpreter build for a version tag such as
// "3.11" on a platform tag such as "win_amd64".
func (c *Config) DistributionSource(pythonVersion, platformTag string) (DistSource, error) {
	var platforms []string
	for _, src := range c.Python {
		if src.PythonVersion != pythonVersion {
			continue
		}
		if src.PlatformTag == platformTag {
			return src, nil
		}
		platforms = append(platforms, src.PlatformTag)
	}
	if len(platforms) > 0 {
		return DistSource{}, fmt.Errorf("interpreter source for python %s on %s (available on %s): %w",
			pythonVersion, platformTag, strings.Join(platforms, ", "), ErrNotFound)
	}
	return DistSource{}, fmt.Errorf("interpreter source for python %s on %s: %w", pythonVersion, platformTag, ErrNotFound)
}
