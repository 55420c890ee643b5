package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/telbridge/internal/permission"
)

func newPermissionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permission",
		Short: "Grant, revoke and list OS-level permissions",
		Long: `Changes the permission grants the dispatcher reads. Works with the sqlite and
redis backends; the static backend is edited in the config file.`,
	}
	cmd.AddCommand(
		newPermissionSetCmd("grant", "Grant a permission", "granted", true),
		newPermissionSetCmd("revoke", "Revoke a permission", "revoked", false),
		newPermissionListCmd(),
	)
	return cmd
}

func newPermissionSetCmd(use, short, done string, granted bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <PERMISSION>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, ok := permission.Known(args[0])
			if !ok {
				return fmt.Errorf("unknown permission %q (known: SEND_SMS, CALL_PHONE)", args[0])
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, cleanup, err := openPermissionStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := store.Set(cmd.Context(), p, granted); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", p, done)
			return nil
		},
	}
}

func newPermissionListCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored permission grants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, cleanup, err := openPermissionStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			grants, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), grants)
			}
			if len(grants) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No permissions stored; every permission is denied.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PERMISSION\tGRANTED\tUPDATED")
			for _, g := range grants {
				fmt.Fprintf(tw, "%s\t%t\t%s\n", g.Permission, g.Granted, formatWhen(g.UpdatedAt))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func formatWhen(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
