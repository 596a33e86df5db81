package main

import (
	"fmt"

	"github.com/open-edge-platform/pyenv-composer/internal/config"
	"github.com/spf13/cobra"
	yamlv3 "gopkg.in/yaml.v3"
)

// createConfigCommand creates the config subcommand
func createConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective settings and provisioning policy",
		Args:  cobra.NoArgs,
		RunE:  executeConfig,
	}
}

func executeConfig(cmd *cobra.Command, args []string) error {
	settings := config.Global()
	cfg, err := config.NewConfigHelpers(settings).ProvisionerConfig()
	if err != nil {
		return err
	}

	doc := struct {
		Settings    *config.GlobalConfig `yaml:"settings"`
		Provisioner *config.Config       `yaml:"provisioner"`
	}{settings, cfg}

	enc := yamlv3.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return enc.Close()
}
