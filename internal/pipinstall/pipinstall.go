package pipinstall

import (
	"context"
	"errors"
	"fmt"

	"github.com/open-edge-platform/pyenv-composer/internal/requirement"
	"github.com/open-edge-platform/pyenv-composer/internal/utils/logger"
	"github.com/open-edge-platform/pyenv-composer/internal/utils/shell"
)

// InstallError carries the failing pip invocation's streams verbatim.
type InstallError struct {
	Cmd      string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *InstallError) Error() string {
	msg := fmt.Sprintf("offline install failed (exit code %d)", e.ExitCode)
	if e.Stderr != "" {
		msg += ":\n" + e.Stderr
	}
	return msg
}

func (e *InstallError) Unwrap() error { return e.Err }

// Request is one offline installation into a virtual environment.
type Request struct {
	Python           string // venv interpreter
	CacheDir         string // --find-links directory
	RequirementsFile string
	PipVersion       string // empty skips the pip upgrade
	Bootstrap        []requirement.Requirement
}

// Installer runs pip against the local artifact cache only.
type Installer struct {
	// Exec runs pip; nil means shell.Default.
	Exec shell.Executor
}

// Install upgrades pip from the cache when a version is pinned, then installs
// the requirements file together with the bootstrap packages.
func (i *Installer) Install(ctx context.Context, req Request) error {
	log := logger.Logger()

	if req.PipVersion != "" {
		log.Infof("installing pip %s from %s", req.PipVersion, req.CacheDir)
		if err := i.pip(ctx, req, "pip=="+req.PipVersion); err != nil {
			return err
		}
	}

	args := []string{"-r", req.RequirementsFile}
	for _, b := range req.Bootstrap {
		args = append(args, b.String())
	}
	log.Infof("installing requirements from %s", req.RequirementsFile)
	return i.pip(ctx, req, args...)
}

// Args returns the full pip command line for packages.
func Args(req Request, packages ...string) []string {
	args := []string{"-m", "pip", "install", "--no-index", "--find-links", req.CacheDir}
	return append(args, packages...)
}

func (i *Installer) pip(ctx context.Context, req Request, packages ...string) error {
	exec := i.Exec
	if exec == nil {
		exec = shell.Default
	}

	args := Args(req, packages...)
	res, err := exec.Run(ctx, "", nil, req.Python, args...)
	if err == nil {
		return nil
	}

	ie := &InstallError{
		Cmd:      shell.FormatCmd(req.Python, args...),
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		Err:      err,
	}
	var exitErr *shell.ExitError
	if errors.As(err, &exitErr) {
		ie.ExitCode = exitErr.Code
	} else if ie.ExitCode == 0 {
		ie.ExitCode = -1
	}
	return ie
}
