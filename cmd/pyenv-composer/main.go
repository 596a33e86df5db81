package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/open-edge-platform/pyenv-composer/internal/config"
	"github.com/open-edge-platform/pyenv-composer/internal/utils/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Version information, set at build time
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	CommitSHA = "unknown"
)

// Global flags
var (
	configFile string
	logLevel   string
	verbose    bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := createRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

// createRootCommand builds the command tree
func createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pyenv-composer",
		Short: "Provisions an offline-installed Python environment",
		Long: `pyenv-composer detects the host platform, downloads a checksum-verified
Python interpreter and the pinned packages for that platform into a local
cache, installs them into a virtual environment without network access and
applies the environment branding.`,
		Version:       fmt.Sprintf("%s (built %s, commit %s)", Version, BuildDate, CommitSHA),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Settings file (default "+config.DefaultSettings+" when present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")

	rootCmd.AddCommand(createInstallCommand())
	rootCmd.AddCommand(createFetchCommand())
	rootCmd.AddCommand(createProbeCommand())
	rootCmd.AddCommand(createCheckCommand())
	rootCmd.AddCommand(createConfigCommand())

	attachLoggingHooks(rootCmd)
	return rootCmd
}

// attachLoggingHooks gives every subcommand a hook that loads the settings and
// initializes the logger before it runs.
func attachLoggingHooks(root *cobra.Command) {
	for _, cmd := range root.Commands() {
		cmd.PersistentPreRunE = initSettings
	}
}

func initSettings(cmd *cobra.Command, _ []string) error {
	settings, err := config.LoadGlobalConfig(configFile)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	if lvl := resolveRequestedLogLevel(cmd); lvl != "" {
		settings.Logging.Level = lvl
	}
	if err := logger.Init(settings.Logging.Level); err != nil {
		return err
	}
	config.SetGlobal(settings)
	logger.Logger().Debugf("settings: workers=%d cache=%q work=%q timeout=%s",
		settings.Workers, settings.CacheDir, settings.WorkDir, settings.Timeout())
	return nil
}

// resolveRequestedLogLevel returns the level asked for on the command line:
// --log-level wins, --verbose means debug, otherwise "".
func resolveRequestedLogLevel(cmd *cobra.Command) string {
	if logLevel != "" {
		return logLevel
	}
	if cmd == nil {
		return ""
	}
	if boolFlagSet(cmd.Flags(), "verbose") {
		return "debug"
	}
	return ""
}

// boolFlagSet reports whether a boolean flag was explicitly set to true.
func boolFlagSet(fs *pflag.FlagSet, name string) bool {
	f := fs.Lookup(name)
	if f == nil || !f.Changed {
		return false
	}
	v, err := fs.GetBool(name)
	return err == nil && v
}
