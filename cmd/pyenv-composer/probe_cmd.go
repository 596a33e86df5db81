package main

import (
	"errors"
	"fmt"

	"github.com/open-edge-platform/pyenv-composer/internal/config"
	"github.com/open-edge-platform/pyenv-composer/internal/provision"
	"github.com/spf13/cobra"
)

// createProbeCommand creates the probe subcommand
func createProbeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Show the detected platform and the files it selects",
		Args:  cobra.NoArgs,
		RunE:  executeProbe,
	}
}

func executeProbe(cmd *cobra.Command, args []string) error {
	info, err := detectPlatform()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "OS:                %s %d (%s)\n", info.OSName, info.OSMajor, info.Arch)
	fmt.Fprintf(out, "Python:            %s\n", info.PythonVersion)
	fmt.Fprintf(out, "Platform tag:      %s\n", info.PlatformTag)
	fmt.Fprintf(out, "Requirements file: %s\n", provision.RequirementsFileName(info.PythonVersion, info.PlatformTag))

	cfg, err := config.NewConfigHelpers(config.Global()).ProvisionerConfig()
	if err != nil {
		return err
	}
	src, err := cfg.DistributionSource(info.PythonVersion, info.PlatformTag)
	if errors.Is(err, config.ErrNotFound) {
		fmt.Fprintf(out, "Interpreter:       unsupported host (%v)\n", err)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Interpreter:       %s from %s\n", src.Version, src.URL)
	return nil
}
