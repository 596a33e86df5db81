package main

import (
	"errors"
	"fmt"

	"github.com/open-edge-platform/pyenv-composer/internal/requirement"
	"github.com/spf13/cobra"
)

// createCheckCommand creates the check subcommand
func createCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check FILE",
		Short: "Validate a pinned requirements file",
		Long: `Check parses every line of a requirements file and reports all
malformed lines at once, with their line numbers.`,
		Args: cobra.ExactArgs(1),
		RunE: executeCheck,
	}
}

func executeCheck(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	reqs, err := requirement.ExtractRequirements(args[0])
	var pe *requirement.ParseError
	if errors.As(err, &pe) {
		for _, l := range pe.Lines {
			fmt.Fprintf(out, "%s:%d: %q: %v\n", args[0], l.Line, l.Text, l.Err)
		}
		return fmt.Errorf("%d malformed lines in %s", len(pe.Lines), args[0])
	}
	if err != nil {
		return err
	}

	unpinned := 0
	for _, r := range reqs {
		if _, ok := r.Pinned(); !ok && r.URL == "" {
			unpinned++
			fmt.Fprintf(out, "%s:%d: %s is not pinned to one version\n", args[0], r.Line, r.CanonicalName())
		}
	}
	fmt.Fprintf(out, "%d requirements OK", len(reqs))
	if unpinned > 0 {
		fmt.Fprintf(out, " (%d not pinned)", unpinned)
	}
	fmt.Fprintln(out)
	return nil
}
