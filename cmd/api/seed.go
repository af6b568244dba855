package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fleetflow/broker-comms/internal/seed"
)

func newSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed data commands",
	}

	cmd.AddCommand(newSeedValidateCmd())
	return cmd
}

func newSeedValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a seed file, or the embedded default, for errors",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runSeedValidate(cmd, path)
		},
	}
}

func runSeedValidate(cmd *cobra.Command, path string) error {
	out := cmd.OutOrStdout()

	data, err := seed.Load(path)
	if err != nil {
		return err
	}
	warnings, err := data.Validate()
	for _, w := range warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	if err != nil {
		return fmt.Errorf("seed data invalid: %w", err)
	}

	source := path
	if source == "" {
		source = "embedded default"
	}
	fmt.Fprintf(out, "%s: %d templates, %d threads, %d rules\n",
		source, len(data.Templates), len(data.Threads), len(data.Rules))
	return nil
}
