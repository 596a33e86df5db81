package main

import (
	"fmt"

	"github.com/open-edge-platform/pyenv-composer/internal/config"
	"github.com/open-edge-platform/pyenv-composer/internal/interpreter"
	"github.com/open-edge-platform/pyenv-composer/internal/provision"
	"github.com/open-edge-platform/pyenv-composer/internal/utils/logger"
	"github.com/open-edge-platform/pyenv-composer/internal/utils/network"
	"github.com/spf13/cobra"
)

// Install command flags
var (
	installTarget   string
	installDataDir  string
	installCacheDir string
	installRetries  int
)

// runProvisioner is replaced in tests.
var runProvisioner = func(cmd *cobra.Command, p *provision.Provisioner, s provision.Session) (provision.Session, error) {
	return p.Run(cmd.Context(), s)
}

func createInstallCommand() *cobra.Command {
	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Provision the Python environment into a target directory",
		Long: `Install detects the platform, fetches the interpreter and every pinned
package of requirements-<python>-<platform>.txt from the data directory into
the package cache, installs them offline into <target>/venv and patches the
generated environment. A failed download asks whether to retry.`,
		Args: cobra.NoArgs,
		RunE: executeInstall,
	}

	installCmd.Flags().StringVar(&installTarget, "target", "",
		"Directory that receives the interpreter, cache and virtual environment")
	installCmd.Flags().StringVar(&installDataDir, "data-dir", "data",
		"Directory holding the pinned requirements files")
	installCmd.Flags().StringVar(&installCacheDir, "cache", "",
		"Package cache directory (default <target>/packages)")
	installCmd.Flags().IntVar(&installRetries, "yes-retry", 0,
		"Retry failed downloads this many times before asking")
	_ = installCmd.MarkFlagRequired("target")
	return installCmd
}

func executeInstall(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	helpers := config.NewConfigHelpers(config.Global())

	cfg, err := helpers.ProvisionerConfig()
	if err != nil {
		return err
	}

	cacheDir := installCacheDir
	if cacheDir == "" {
		if cacheDir, err = helpers.CacheDir(); err != nil {
			return fmt.Errorf("resolving cache directory: %w", err)
		}
	}
	session, err := provision.NewSession(installTarget, installDataDir, provision.WithCacheDir(cacheDir))
	if err != nil {
		return err
	}
	log.Infof("Session %s: target %s, cache %s", session.ID, session.TargetDir, session.CacheDir)

	out := cmd.ErrOrStderr()
	p := &provision.Provisioner{
		Config:    cfg,
		Status:    newBarStatus(out),
		Decider:   newPromptDecider(cmd.InOrStdin(), out, installRetries),
		HTTP:      network.NewSecureHTTPClient(0),
		ReportDir: helpers.ReportDir(session.TargetDir),
		Timeout:   helpers.HTTPTimeout(),
	}

	s, err := runProvisioner(cmd, p, session)
	if err != nil {
		return fmt.Errorf("provisioning %s: %w", s.TargetDir, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Environment ready. Activate with: %s\n",
		interpreter.VenvLayout(s.VenvDir, "").ActivateScript())
	return nil
}
