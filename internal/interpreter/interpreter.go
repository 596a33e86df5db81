package interpreter

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/open-edge-platform/pyenv-composer/internal/config"
	"github.com/open-edge-platform/pyenv-composer/internal/download"
	"github.com/open-edge-platform/pyenv-composer/internal/pkgindex"
	"github.com/open-edge-platform/pyenv-composer/internal/utils/logger"
	"github.com/open-edge-platform/pyenv-composer/internal/utils/shell"
)

// Fetcher downloads one artifact into a directory.
type Fetcher interface {
	Fetch(ctx context.Context, target pkgindex.DownloadTarget, destDir string, onProgress download.ProgressFunc) (string, error)
}

// Request describes where the interpreter and its environment go.
type Request struct {
	Source     config.DistSource
	CacheDir   string // archive download location
	InstallDir string // extraction root of the base interpreter
	VenvDir    string
	OnProgress download.ProgressFunc
}

// VenvError reports a failed virtual environment creation. The partial
// environment has already been removed.
type VenvError struct {
	Dir string
	Err error
}

func (e *VenvError) Error() string {
	return fmt.Sprintf("creating virtual environment %s: %v", e.Dir, e.Err)
}

func (e *VenvError) Unwrap() error { return e.Err }

// Installer provisions a base interpreter and a virtual environment on top of it.
type Installer struct {
	Fetcher Fetcher
	// Keyring holds armored public keys for sources with a signature_url.
	Keyring string
	// Exec runs the interpreter; nil means shell.Default.
	Exec shell.Executor
	// GOOS selects the on-disk layout; empty means the host.
	GOOS string
}

// Ensure makes VenvDir a working environment. It is a no-op when the
// environment already has an interpreter. A failed venv creation removes
// VenvDir so the next run starts over.
func (i *Installer) Ensure(ctx context.Context, req Request) error {
	log := logger.Logger()

	layout := VenvLayout(req.VenvDir, i.GOOS)
	if fileExists(layout.Python()) {
		log.Infof("virtual environment already present at %s", req.VenvDir)
		return nil
	}

	base := BaseInterpreter(req.InstallDir, i.GOOS)
	if !fileExists(base) {
		if err := i.install(ctx, req); err != nil {
			return err
		}
		if !fileExists(base) {
			return fmt.Errorf("interpreter %s missing after extracting python %s", base, req.Source.Version)
		}
	}

	log.Infof("creating virtual environment %s", req.VenvDir)
	if _, err := i.executor().Run(ctx, "", nil, base, "-m", "venv", req.VenvDir); err != nil {
		if rmErr := os.RemoveAll(req.VenvDir); rmErr != nil {
			log.Warnf("failed to remove partial environment %s: %v", req.VenvDir, rmErr)
		}
		return &VenvError{Dir: req.VenvDir, Err: err}
	}
	return nil
}

func (i *Installer) install(ctx context.Context, req Request) error {
	log := logger.Logger()

	target, err := distTarget(req.Source)
	if err != nil {
		return err
	}

	log.Infof("downloading python %s from %s", req.Source.Version, target.URL)
	archive, err := i.Fetcher.Fetch(ctx, target, req.CacheDir, req.OnProgress)
	if err != nil {
		return fmt.Errorf("downloading python %s: %w", req.Source.Version, err)
	}

	if req.Source.SignatureURL != "" {
		sigTarget := pkgindex.DownloadTarget{
			Name:     "python-signature",
			Filename: filepath.Base(archive) + sigSuffix(req.Source.SignatureURL),
			URL:      req.Source.SignatureURL,
		}
		sigPath, err := i.Fetcher.Fetch(ctx, sigTarget, req.CacheDir, nil)
		if err != nil {
			return fmt.Errorf("downloading signature: %w", err)
		}
		signer, err := VerifySignature(archive, sigPath, i.Keyring)
		if err != nil {
			return err
		}
		log.Infof("python %s signed by %s", req.Source.Version, signer)
	}

	log.Infof("extracting %s to %s", filepath.Base(archive), req.InstallDir)
	return i.extractInto(archive, req)
}

// extractInto unpacks archive next to InstallDir and renames it into place
// only once the base interpreter is present.
func (i *Installer) extractInto(archive string, req Request) error {
	parent := filepath.Dir(req.InstallDir)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", parent, err)
	}
	staging, err := os.MkdirTemp(parent, "."+filepath.Base(req.InstallDir)+"-*")
	if err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := Extract(archive, staging); err != nil {
		return fmt.Errorf("extracting python %s: %w", req.Source.Version, err)
	}
	if !fileExists(BaseInterpreter(staging, i.GOOS)) {
		return fmt.Errorf("archive %s has no %s interpreter for python %s",
			filepath.Base(archive), filepath.Base(BaseInterpreter(staging, i.GOOS)), req.Source.Version)
	}
	if err := os.RemoveAll(req.InstallDir); err != nil {
		return fmt.Errorf("clearing %s: %w", req.InstallDir, err)
	}
	if err := os.Rename(staging, req.InstallDir); err != nil {
		return fmt.Errorf("moving interpreter into %s: %w", req.InstallDir, err)
	}
	return nil
}

// distTarget turns a configured source into a checksum-gated download.
func distTarget(src config.DistSource) (pkgindex.DownloadTarget, error) {
	u, err := url.Parse(src.URL)
	if err != nil {
		return pkgindex.DownloadTarget{}, fmt.Errorf("invalid interpreter URL %q: %w", src.URL, err)
	}
	algo, digest := src.Digest()
	return pkgindex.DownloadTarget{
		Name:     "python",
		Version:  src.Version,
		Filename: path.Base(u.Path),
		URL:      src.URL,
		Algo:     algo,
		Digests:  []string{digest},
	}, nil
}

func sigSuffix(sigURL string) string {
	if ext := path.Ext(sigURL); ext == ".asc" || ext == ".sig" {
		return ext
	}
	return ".sig"
}

func (i *Installer) executor() shell.Executor {
	if i.Exec != nil {
		return i.Exec
	}
	return shell.Default
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
