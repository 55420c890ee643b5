package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/telbridge/internal/dispatch"
	"github.com/mattjoyce/telbridge/internal/outbox"
)

func newOutboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect queued text messages",
	}
	cmd.AddCommand(newOutboxListCmd(), newOutboxShowCmd())
	return cmd
}

func newOutboxListCmd() *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recent outbox messages",
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

			ob := outbox.New(db)
			msgs, err := ob.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), redactMessages(msgs))
			}
			if len(msgs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Outbox is empty.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tATTEMPT\tTO\tCREATED\tLAST ERROR")
			for _, m := range msgs {
				lastErr := "-"
				if m.LastError != nil {
					lastErr = *m.LastError
				}
				fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\t%s\n",
					m.ID, m.Status, m.Attempt, m.MaxAttempts,
					dispatch.Fingerprint(m.Destination), formatWhen(m.CreatedAt), lastErr)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of messages")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newOutboxShowCmd() *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "show <message-id>",
		Short: "Show one outbox message",
		Args:  cobra.ExactArgs(1),
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

			msg, err := outbox.New(db).Get(cmd.Context(), args[0])
			if errors.Is(err, outbox.ErrNotFound) {
				return fmt.Errorf("outbox message %q not found", args[0])
			}
			if err != nil {
				return err
			}
			if !reveal {
				msg = redactMessages([]*outbox.Message{msg})[0]
			}
			return writeJSON(cmd.OutOrStdout(), msg)
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print destination and body in clear")
	return cmd
}

// redactMessages replaces destinations and bodies with fingerprints.
func redactMessages(msgs []*outbox.Message) []*outbox.Message {
	out := make([]*outbox.Message, len(msgs))
	for i, m := range msgs {
		c := *m
		c.Destination = dispatch.Fingerprint(m.Destination)
		c.Body = dispatch.Fingerprint(m.Body)
		out[i] = &c
	}
	return out
}
