package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/telbridge/internal/config"
	"github.com/mattjoyce/telbridge/internal/doctor"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(newConfigCheckCmd(), newConfigPathCmd())
	return cmd
}

func newConfigCheckCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and its environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			explicit, _ := cmd.Flags().GetString("config")
			path, err := config.Discover(explicit)
			if err != nil {
				return err
			}
			// Read, not Load: doctor reports validation errors alongside the rest.
			cfg, err := config.Read(path)
			if err != nil {
				return err
			}
			result := doctor.New(cfg).Validate()

			out := cmd.OutOrStdout()
			if jsonOut {
				data, err := doctor.FormatJSON(result)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, data)
			} else {
				fmt.Fprintf(out, "Config: %s\n", cfg.Path)
				fmt.Fprintf(out, "BLAKE3: %s\n", cfg.Fingerprint)
				fmt.Fprint(out, doctor.FormatHuman(result))
			}
			if !result.Valid {
				return &exitError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file that would be loaded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			explicit, _ := cmd.Flags().GetString("config")
			path, err := config.Discover(explicit)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}
