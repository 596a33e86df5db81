package provision

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
)

// Directory names below the target directory.
const (
	VenvDirName        = "venv"
	CacheDirName       = "packages"
	InterpreterDirName = "python"
	ReportDirName      = "logs"
)

// Session is the state of one provisioning attempt. It is passed by value
// from phase to phase; only the phase currently running owns it.
type Session struct {
	ID             string
	TargetDir      string
	DataDir        string
	VenvDir        string
	CacheDir       string
	InterpreterDir string

	// Filled in once the platform is detected.
	PythonVersion string
	PlatformTag   string

	Phase Phase
}

// SessionOption adjusts a session while it is created.
type SessionOption func(*Session)

// WithCacheDir places the artifact cache outside the target directory.
func WithCacheDir(dir string) SessionOption {
	return func(s *Session) {
		if dir != "" {
			s.CacheDir = dir
		}
	}
}

// NewSession derives every path of a provisioning run from targetDir.
// dataDir holds the pinned requirements files shipped with the installer.
func NewSession(targetDir, dataDir string, opts ...SessionOption) (Session, error) {
	target, err := filepath.Abs(targetDir)
	if err != nil {
		return Session{}, fmt.Errorf("resolving target directory %s: %w", targetDir, err)
	}
	data, err := filepath.Abs(dataDir)
	if err != nil {
		return Session{}, fmt.Errorf("resolving data directory %s: %w", dataDir, err)
	}

	s := Session{
		ID:             uuid.NewString(),
		TargetDir:      target,
		DataDir:        data,
		VenvDir:        filepath.Join(target, VenvDirName),
		CacheDir:       filepath.Join(target, CacheDirName),
		InterpreterDir: filepath.Join(target, InterpreterDirName),
		Phase:          PhaseInit,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.CacheDir, err = filepath.Abs(s.CacheDir); err != nil {
		return Session{}, fmt.Errorf("resolving cache directory: %w", err)
	}
	return s, nil
}

// RequirementsFileName is the pinned list for an interpreter and platform,
// e.g. requirements-3.11-win_amd64.txt.
func RequirementsFileName(pythonVersion, platformTag string) string {
	return fmt.Sprintf("requirements-%s-%s.txt", pythonVersion, platformTag)
}

// RequirementsFile returns the pinned list for the detected platform.
func (s Session) RequirementsFile() string {
	return filepath.Join(s.DataDir, RequirementsFileName(s.PythonVersion, s.PlatformTag))
}
