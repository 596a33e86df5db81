package provision

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/open-edge-platform/pyenv-composer/internal/cache"
	"github.com/open-edge-platform/pyenv-composer/internal/config"
	"github.com/open-edge-platform/pyenv-composer/internal/download"
	"github.com/open-edge-platform/pyenv-composer/internal/interpreter"
	"github.com/open-edge-platform/pyenv-composer/internal/patcher"
	"github.com/open-edge-platform/pyenv-composer/internal/pipinstall"
	"github.com/open-edge-platform/pyenv-composer/internal/pkgindex"
	"github.com/open-edge-platform/pyenv-composer/internal/requirement"
	"github.com/open-edge-platform/pyenv-composer/internal/utils/logger"
	"github.com/open-edge-platform/pyenv-composer/internal/utils/system"
)

// Resolver picks the artifact satisfying a requirement.
type Resolver interface {
	Resolve(ctx context.Context, req requirement.Requirement, mirrors []config.Mirror) (pkgindex.DownloadTarget, error)
}

// InterpreterInstaller makes sure a virtual environment exists.
type InterpreterInstaller interface {
	Ensure(ctx context.Context, req interpreter.Request) error
}

// PackageInstaller installs the cached artifacts into the environment.
type PackageInstaller interface {
	Install(ctx context.Context, req pipinstall.Request) error
}

// EnvironmentPatcher customizes a finished environment.
type EnvironmentPatcher interface {
	Apply(venvDir string) error
}

// Provisioner drives a Session through every phase. Collaborators left nil
// get their default implementation once the platform is known.
type Provisioner struct {
	Config  *config.Config
	Status  StatusUpdate
	Decider Decider
	HTTP    *http.Client
	// GOOS selects the environment layout; empty means the host.
	GOOS string
	// ReportDir receives the fetch report; empty means <target>/logs.
	ReportDir string
	// Timeout is the idle limit of a transfer and the total limit of an
	// index page request. Zero disables both.
	Timeout time.Duration

	Detect func() (system.PlatformInfo, error)
	// Bootstrap lists the packages installed next to the pinned file; nil
	// means requirement.BootstrapPackages.
	Bootstrap func() ([]requirement.Requirement, error)

	Resolver    Resolver
	Fetcher     interpreter.Fetcher
	Interpreter InterpreterInstaller
	Installer   PackageInstaller
	Patcher     EnvironmentPatcher
}

// result is the single message type of the control loop. On failure phase
// is the phase that was being entered.
type result struct {
	session   Session
	phase     Phase
	index     int
	reqs      []requirement.Requirement
	bootstrap []requirement.Requirement
	artifact  string
	err       error
	retryable bool
}

type step func(ctx context.Context, s Session) result

// run holds the collaborators and loop-owned state of one Run call.
type run struct {
	p       *Provisioner
	status  StatusUpdate
	decider Decider
	results chan result

	resolver    Resolver
	fetcher     interpreter.Fetcher
	interpreter InterpreterInstaller
	installer   PackageInstaller
	patcher     EnvironmentPatcher
	index       *cache.Index

	reqs      []requirement.Requirement
	bootstrap []requirement.Requirement
	report    logger.StringListReport
}

// Run provisions s and returns it in its terminal phase. Each phase runs in
// its own goroutine; results come back over one channel and at most one
// phase is in flight. Download failures and interpreter fetch failures are
// offered to the Decider, everything else fails the run.
func (p *Provisioner) Run(ctx context.Context, s Session) (Session, error) {
	log := logger.Logger()

	if p.Config == nil {
		return s, errors.New("provisioner has no configuration")
	}
	r := &run{
		p:           p,
		status:      p.Status,
		decider:     p.Decider,
		results:     make(chan result, 1),
		resolver:    p.Resolver,
		fetcher:     p.Fetcher,
		interpreter: p.Interpreter,
		installer:   p.Installer,
		patcher:     p.Patcher,
	}
	if r.status == nil {
		r.status = discardStatus{}
	}
	if r.decider == nil {
		r.decider = AlwaysAbandon
	}
	defer r.close()

	log.Infof("Starting provisioning session %s in %s", s.ID, s.TargetDir)
	s.Phase = PhaseInit
	r.spawn(ctx, s, r.detectPlatform)

	for {
		res := <-r.results
		s = res.session

		if res.err == nil && ctx.Err() != nil {
			res.err = ctx.Err()
		}
		if res.err != nil {
			if res.retryable && ctx.Err() == nil && r.decide(ctx, res) == Retry {
				r.spawn(ctx, s, r.retryStep(res))
				continue
			}
			return r.fail(s, res.err)
		}

		s.Phase = res.phase
		log.Debugf("session %s entered %s", s.ID, s.Phase)

		switch res.phase {
		case PhasePlatformDetected:
			if err := r.setup(s); err != nil {
				return r.fail(s, err)
			}
			r.spawn(ctx, s, r.ensureInterpreter)

		case PhaseInterpreterReady:
			r.spawn(ctx, s, r.loadRequirements)

		case PhaseRequirementsResolved:
			r.reqs, r.bootstrap = res.reqs, res.bootstrap
			r.report = logger.StringListReport{Title: s.PythonVersion + "-" + s.PlatformTag}
			if len(r.reqs) == 0 {
				s = r.allDownloaded(ctx, s)
				continue
			}
			r.spawn(ctx, s, r.download(0))

		case PhaseDownloading:
			r.report.Add(res.artifact)
			done := res.index + 1
			r.status.Message(fmt.Sprintf("Downloaded %s (%d/%d, %.0f%%)",
				res.artifact, done, len(r.reqs), float64(done)/float64(len(r.reqs))*100))
			if done < len(r.reqs) {
				r.spawn(ctx, s, r.download(done))
				continue
			}
			s = r.allDownloaded(ctx, s)

		case PhaseOfflineInstalled:
			r.spawn(ctx, s, r.patch)

		case PhasePatched:
			s.Phase = PhaseDone
			log.Infof("Provisioning session %s completed", s.ID)
			r.status.Message("Python environment ready in " + s.VenvDir)
			return s, nil

		case PhaseInit, PhaseAllDownloaded, PhaseDone, PhaseFailed:
			return r.fail(s, fmt.Errorf("unexpected transition to %s", res.phase))
		}
	}
}

func (r *run) spawn(ctx context.Context, s Session, fn step) {
	go func() {
		r.results <- fn(ctx, s)
	}()
}

// retryStep repeats the failed step. Only downloads and the interpreter
// phase are retryable.
func (r *run) retryStep(res result) step {
	if res.phase == PhaseDownloading {
		return r.download(res.index)
	}
	return r.ensureInterpreter
}

func (r *run) decide(ctx context.Context, res result) Decision {
	log := logger.Logger()

	f := Failure{Phase: res.phase, Index: res.index, Total: len(r.reqs), Err: res.err}
	if res.phase == PhaseDownloading {
		f.Requirement = r.reqs[res.index].String()
	}
	log.Errorf("%s", f)
	r.status.Message(f.String())

	d := r.decider.Decide(ctx, f)
	log.Infof("User chose to %s", d)
	return d
}

func (r *run) fail(s Session, err error) (Session, error) {
	log := logger.Logger()

	s.Phase = PhaseFailed
	log.Errorf("Provisioning session %s failed: %v", s.ID, err)
	r.status.Message("Provisioning failed: " + err.Error())
	return s, err
}

func (r *run) close() {
	if r.index != nil {
		if err := r.index.Close(); err != nil {
			logger.Logger().Warnf("failed to close cache index: %v", err)
		}
	}
}

// setup builds the default collaborators for the detected platform. The cache
// index stays open until Run returns.
func (r *run) setup(s Session) error {
	cfg := r.p.Config

	if r.fetcher == nil {
		idx, err := cache.Open(s.CacheDir)
		if err != nil {
			return err
		}
		r.index = idx
		m := download.NewManager(r.p.HTTP, idx)
		m.IdleTimeout = r.p.Timeout
		r.fetcher = m
	}
	if r.resolver == nil {
		client := pkgindex.NewClient(r.p.HTTP, pkgindex.Target{
			PythonVersion: s.PythonVersion,
			PlatformTag:   s.PlatformTag,
		})
		client.Timeout = r.p.Timeout
		if src, err := cfg.DistributionSource(s.PythonVersion, s.PlatformTag); err == nil {
			client.InterpreterVersion = src.Version
		}
		r.resolver = client
	}
	if r.interpreter == nil {
		r.interpreter = &interpreter.Installer{Fetcher: r.fetcher, Keyring: cfg.Keyring, GOOS: r.p.GOOS}
	}
	if r.installer == nil {
		r.installer = &pipinstall.Installer{}
	}
	if r.patcher == nil {
		r.patcher = &patcher.Patcher{Prompt: cfg.Branding.Prompt, PythonVersion: s.PythonVersion, GOOS: r.p.GOOS}
	}
	return nil
}

func (r *run) detectPlatform(ctx context.Context, s Session) result {
	r.status.Message("Detecting platform")

	detect := r.p.Detect
	if detect == nil {
		detect = system.Detect
	}
	info, err := detect()
	if err != nil {
		return result{session: s, phase: PhasePlatformDetected, err: err}
	}
	s.PythonVersion = info.PythonVersion
	s.PlatformTag = info.PlatformTag

	if err := os.MkdirAll(s.CacheDir, 0755); err != nil {
		return result{session: s, phase: PhasePlatformDetected,
			err: fmt.Errorf("creating package cache %s: %w", s.CacheDir, err)}
	}
	return result{session: s, phase: PhasePlatformDetected}
}

func (r *run) ensureInterpreter(ctx context.Context, s Session) result {
	src, err := r.p.Config.DistributionSource(s.PythonVersion, s.PlatformTag)
	if err != nil {
		return result{session: s, phase: PhaseInterpreterReady, err: err}
	}

	r.status.Message(fmt.Sprintf("Preparing Python %s", src.Version))
	err = r.interpreter.Ensure(ctx, interpreter.Request{
		Source:     src,
		CacheDir:   s.CacheDir,
		InstallDir: s.InterpreterDir,
		VenvDir:    s.VenvDir,
		OnProgress: r.status.UpdateDownloading,
	})
	if err != nil {
		var venvErr *interpreter.VenvError
		return result{session: s, phase: PhaseInterpreterReady, err: err, retryable: !errors.As(err, &venvErr)}
	}
	return result{session: s, phase: PhaseInterpreterReady}
}

// loadRequirements reads the pinned file and builds the download list: the
// pinned requirements whose markers hold for the session, the bootstrap
// packages and pip itself.
func (r *run) loadRequirements(ctx context.Context, s Session) result {
	fail := func(err error) result {
		return result{session: s, phase: PhaseRequirementsResolved, err: err}
	}

	path := s.RequirementsFile()
	if _, err := os.Stat(path); err != nil {
		return fail(fmt.Errorf("no pinned requirements for python %s on %s: %w", s.PythonVersion, s.PlatformTag, err))
	}
	r.status.Message("Reading " + filepath.Base(path))

	reqs, err := requirement.ExtractRequirements(path)
	if err != nil {
		return fail(err)
	}
	reqs, skipped, err := requirement.Select(reqs, r.markerEnv(s))
	if err != nil {
		return fail(fmt.Errorf("evaluating markers in %s: %w", filepath.Base(path), err))
	}
	for _, req := range skipped {
		logger.Logger().Infof("Skipping %s: marker %q does not hold on %s", req.Name, req.Marker, s.PlatformTag)
	}
	bootstrapPackages := r.p.Bootstrap
	if bootstrapPackages == nil {
		bootstrapPackages = requirement.BootstrapPackages
	}
	bootstrap, err := bootstrapPackages()
	if err != nil {
		return fail(err)
	}
	downloads := append(reqs, bootstrap...)
	if v := r.p.Config.PipVersion(); v != "" {
		pip, err := requirement.PipRequirement(v)
		if err != nil {
			return fail(err)
		}
		downloads = append(downloads, pip)
	}

	logger.Logger().Infof("%d artifacts to download for %s", len(downloads), filepath.Base(path))
	return result{session: s, phase: PhaseRequirementsResolved, reqs: downloads, bootstrap: bootstrap}
}

// markerEnv describes the session interpreter, using the full version of its
// distribution when one is configured.
func (r *run) markerEnv(s Session) requirement.MarkerEnv {
	version := s.PythonVersion
	if src, err := r.p.Config.DistributionSource(s.PythonVersion, s.PlatformTag); err == nil {
		version = src.Version
	}
	return requirement.NewMarkerEnv(version, s.PlatformTag)
}

// download fetches the i-th artifact. Failures carry the index so that a
// retry targets the same requirement.
func (r *run) download(i int) step {
	return func(ctx context.Context, s Session) result {
		req := r.reqs[i]
		n := len(r.reqs)
		fail := func(err error) result {
			return result{
				session:   s,
				phase:     PhaseDownloading,
				index:     i,
				err:       &download.DownloadError{Index: i, Requirement: req.String(), Err: err},
				retryable: true,
			}
		}

		r.status.Message(fmt.Sprintf("Downloading %s (%d/%d)", req.Name, i+1, n))
		target, err := r.resolver.Resolve(ctx, req, r.p.Config.Mirrors())
		if err != nil {
			return fail(err)
		}
		path, err := r.fetcher.Fetch(ctx, target, s.CacheDir, func(snap download.Snapshot) {
			snap.Index, snap.Total = i, n
			r.status.UpdateDownloading(snap)
		})
		if err != nil {
			return fail(err)
		}
		return result{session: s, phase: PhaseDownloading, index: i, artifact: filepath.Base(path)}
	}
}

// allDownloaded writes the fetch report and starts the offline install.
func (r *run) allDownloaded(ctx context.Context, s Session) Session {
	log := logger.Logger()

	s.Phase = PhaseAllDownloaded
	dir := r.p.ReportDir
	if dir == "" {
		dir = filepath.Join(s.TargetDir, ReportDirName)
	}
	if path, err := r.report.WriteTo(dir); err != nil {
		log.Warnf("failed to write fetch report: %v", err)
	} else {
		log.Infof("Fetch report written to %s", path)
	}

	r.spawn(ctx, s, r.install)
	return s
}

func (r *run) install(ctx context.Context, s Session) result {
	r.status.Message("Installing packages from " + s.CacheDir)
	err := r.installer.Install(ctx, pipinstall.Request{
		Python:           interpreter.VenvLayout(s.VenvDir, r.p.GOOS).Python(),
		CacheDir:         s.CacheDir,
		RequirementsFile: s.RequirementsFile(),
		PipVersion:       r.p.Config.PipVersion(),
		Bootstrap:        r.bootstrap,
	})
	return result{session: s, phase: PhaseOfflineInstalled, err: err}
}

func (r *run) patch(ctx context.Context, s Session) result {
	r.status.Message("Customizing environment")
	return result{session: s, phase: PhasePatched, err: r.patcher.Apply(s.VenvDir)}
}
