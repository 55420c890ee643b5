package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/telbridge/internal/config"
)

// exitError carries a process exit status without printing anything more.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "telbridge",
		Short:         "Bridge app commands to the phone platform",
		Long:          `telbridge dispatches sendSms and callNumber requests from HTTP or stdio to a platform helper.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags (available to all commands)
	root.PersistentFlags().String("config", "", "Path to configuration file (default: discovered)")

	root.AddCommand(
		newServeCmd(),
		newInvokeCmd(),
		newPermissionCmd(),
		newOutboxCmd(),
		newAuditCmd(),
		newMonitorCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the command tree against os.Args and exits with its status.
func Execute() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.Execute()
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	fmt.Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
	return 1
}

// loadConfig resolves --config (or discovery) and loads the file.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	explicit, _ := cmd.Flags().GetString("config")
	path, err := config.Discover(explicit)
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}
