package main

import (
	"fmt"
	"path/filepath"

	"github.com/open-edge-platform/pyenv-composer/internal/cache"
	"github.com/open-edge-platform/pyenv-composer/internal/config"
	"github.com/open-edge-platform/pyenv-composer/internal/download"
	"github.com/open-edge-platform/pyenv-composer/internal/pkgindex"
	"github.com/open-edge-platform/pyenv-composer/internal/provision"
	"github.com/open-edge-platform/pyenv-composer/internal/requirement"
	"github.com/open-edge-platform/pyenv-composer/internal/utils/logger"
	"github.com/open-edge-platform/pyenv-composer/internal/utils/network"
	"github.com/open-edge-platform/pyenv-composer/internal/utils/system"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

// Fetch command flags
var (
	fetchRequirements string
	fetchDataDir      string
	fetchCacheDir     string
	fetchJobs         int
	fetchPython       string
	fetchPlatform     string
	fetchMirrors      []string
)

// Replaced in tests.
var (
	detectPlatform    = system.Detect
	bootstrapPackages = requirement.BootstrapPackages
)

func createFetchCommand() *cobra.Command {
	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Prefetch the pinned packages into a cache directory",
		Long: `Fetch resolves every pinned requirement, the bootstrap packages and the
configured pip version against the index mirrors and downloads them into the
cache directory with several concurrent transfers. The cache can later be
handed to install with --cache for an offline installation.`,
		Args: cobra.NoArgs,
		RunE: executeFetch,
	}

	fetchCmd.Flags().StringVar(&fetchRequirements, "requirements", "",
		"Requirements file (default <data-dir>/requirements-<python>-<platform>.txt)")
	fetchCmd.Flags().StringVar(&fetchDataDir, "data-dir", "data",
		"Directory holding the pinned requirements files")
	fetchCmd.Flags().StringVar(&fetchCacheDir, "cache", "",
		"Cache directory (default from settings, else ./packages)")
	fetchCmd.Flags().IntVar(&fetchJobs, "jobs", 0,
		"Concurrent downloads (default from settings)")
	fetchCmd.Flags().StringVar(&fetchPython, "python", "",
		"Interpreter version tag to select artifacts for (default detected)")
	fetchCmd.Flags().StringVar(&fetchPlatform, "platform", "",
		"Wheel platform tag to select artifacts for (default detected)")
	fetchCmd.Flags().StringSliceVar(&fetchMirrors, "mirror", nil,
		"Index URL to use instead of the configured mirrors (repeatable)")
	return fetchCmd
}

func executeFetch(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	helpers := config.NewConfigHelpers(config.Global())

	cfg, err := helpers.ProvisionerConfig()
	if err != nil {
		return err
	}

	target, err := fetchTarget()
	if err != nil {
		return err
	}

	path := fetchRequirements
	if path == "" {
		path = filepath.Join(fetchDataDir, provision.RequirementsFileName(target.PythonVersion, target.PlatformTag))
	}
	interpreterVersion := target.PythonVersion
	if src, err := cfg.DistributionSource(target.PythonVersion, target.PlatformTag); err == nil {
		interpreterVersion = src.Version
	}
	reqs, err := downloadList(path, cfg.PipVersion(), requirement.NewMarkerEnv(interpreterVersion, target.PlatformTag))
	if err != nil {
		return err
	}

	mirrors := cfg.Mirrors()
	if len(fetchMirrors) > 0 {
		mirrors = mirrors[:0]
		for i, u := range fetchMirrors {
			mirrors = append(mirrors, config.Mirror{Name: fmt.Sprintf("mirror-%d", i+1), URL: u})
		}
	}

	httpClient := network.NewSecureHTTPClient(0)
	client := pkgindex.NewClient(httpClient, target)
	client.Timeout = helpers.HTTPTimeout()
	client.InterpreterVersion = interpreterVersion

	var (
		targets []pkgindex.DownloadTarget
		errs    error
	)
	for _, req := range reqs {
		t, err := client.Resolve(cmd.Context(), req, mirrors)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		targets = append(targets, t)
	}
	if errs != nil {
		return fmt.Errorf("resolving %s: %w", filepath.Base(path), errs)
	}

	cacheDir, err := fetchCache(helpers)
	if err != nil {
		return err
	}
	if err := config.CreateDirIfNotExists(cacheDir); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	idx, err := cache.Open(cacheDir)
	if err != nil {
		return err
	}
	defer idx.Close()

	jobs := fetchJobs
	if jobs < 1 {
		jobs = helpers.Workers()
	}
	log.Infof("Fetching %d artifacts into %s with %d workers", len(targets), cacheDir, jobs)

	download.ProgressOutput = cmd.ErrOrStderr()
	manager := download.NewManager(httpClient, idx)
	manager.IdleTimeout = helpers.HTTPTimeout()
	if err := manager.FetchAll(cmd.Context(), targets, cacheDir, jobs); err != nil {
		return err
	}

	report := logger.StringListReport{Title: target.PythonVersion + "-" + target.PlatformTag}
	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		if !seen[t.Filename] {
			seen[t.Filename] = true
			report.Add(t.Filename)
		}
	}
	if reportPath, err := report.WriteTo(helpers.ReportDir(cacheDir)); err != nil {
		log.Warnf("failed to write fetch report: %v", err)
	} else {
		log.Infof("Fetch report written to %s", reportPath)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Fetched %d artifacts into %s\n", len(seen), cacheDir)
	return nil
}

// fetchTarget uses the flags when both are given and detects the rest.
func fetchTarget() (pkgindex.Target, error) {
	target := pkgindex.Target{PythonVersion: fetchPython, PlatformTag: fetchPlatform}
	if target.PythonVersion != "" && target.PlatformTag != "" {
		return target, nil
	}
	info, err := detectPlatform()
	if err != nil {
		return pkgindex.Target{}, err
	}
	if target.PythonVersion == "" {
		target.PythonVersion = info.PythonVersion
	}
	if target.PlatformTag == "" {
		target.PlatformTag = info.PlatformTag
	}
	return target, nil
}

func fetchCache(helpers *config.ConfigHelpers) (string, error) {
	if fetchCacheDir != "" {
		return filepath.Abs(fetchCacheDir)
	}
	dir, err := helpers.CacheDir()
	if err != nil || dir != "" {
		return dir, err
	}
	return filepath.Abs(provision.CacheDirName)
}

// downloadList is the pinned file, minus requirements whose markers do not
// hold in env, followed by the bootstrap packages and pip.
func downloadList(path, pipVersion string, env requirement.MarkerEnv) ([]requirement.Requirement, error) {
	reqs, err := requirement.ExtractRequirements(path)
	if err != nil {
		return nil, err
	}
	reqs, skipped, err := requirement.Select(reqs, env)
	if err != nil {
		return nil, fmt.Errorf("evaluating markers in %s: %w", filepath.Base(path), err)
	}
	for _, req := range skipped {
		logger.Logger().Debugf("Skipping %s: marker %q does not hold", req.Name, req.Marker)
	}
	bootstrap, err := bootstrapPackages()
	if err != nil {
		return nil, err
	}
	reqs = append(reqs, bootstrap...)
	if pipVersion != "" {
		pip, err := requirement.PipRequirement(pipVersion)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, pip)
	}
	return reqs, nil
}
