package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/telbridge/internal/audit"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the invocation log",
	}

	var (
		limit   int
		jsonOut bool
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent command invocations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			db, err := openState(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			entries, err := audit.New(db, nil).List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No invocations recorded.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "WHEN\tREQUEST\tCOMMAND\tOUTCOME\tCODE\tTARGET\tMS")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
					formatWhen(e.CreatedAt), e.RequestID, e.Command, e.Outcome,
					orDash(string(e.Code)), orDash(e.TargetHash), e.DurationMS)
			}
			return tw.Flush()
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "Maximum number of entries")
	list.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	cmd.AddCommand(list)
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
