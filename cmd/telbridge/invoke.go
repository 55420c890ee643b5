package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/telbridge/internal/api"
	"github.com/mattjoyce/telbridge/internal/dispatch"
	"github.com/mattjoyce/telbridge/internal/log"
	"github.com/mattjoyce/telbridge/internal/protocol"
)

func newInvokeCmd() *cobra.Command {
	var (
		argFlags []string
		id       string
		remote   string
		apiKey   string
	)
	cmd := &cobra.Command{
		Use:   "invoke <command>",
		Short: "Resolve one command and print the response",
		Long: `Builds the configured dispatcher and resolves a single command, printing the
response envelope as JSON. Use --arg name=value for strings and --arg name:=<json>
for raw JSON values. With --remote the command is sent to a running service instead.`,
		Example: `  telbridge invoke sendSms --arg number=+15550001111 --arg message=hello
  telbridge invoke callNumber --arg number=112
  telbridge invoke callNumber --arg number:=null`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arguments, err := parseArgFlags(argFlags)
			if err != nil {
				return err
			}
			if id == "" {
				id = uuid.NewString()
			}
			if remote != "" {
				log.SetupWithOptions(log.Options{Level: "warn", Stderr: true})
				log.WithRequest(id).Debug("invoking remotely", "command", args[0], "remote", remote)
				resp, err := api.NewClient(remote, apiKey).Invoke(cmd.Context(), &protocol.Request{
					ID:        id,
					Command:   args[0],
					Arguments: arguments,
				})
				if err != nil {
					return err
				}
				return printResponse(cmd, resp)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			// stdout carries the response.
			log.SetupWithOptions(log.Options{
				Level:  cfg.Service.LogLevel,
				Format: cfg.Service.LogFormat,
				Stderr: true,
			})

			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			log.WithRequest(id).Debug("invoking locally", "command", args[0], "config", cfg.Path)
			ctx := dispatch.WithRequestID(cmd.Context(), id)
			return printResponse(cmd, protocol.FromResult(id, a.dispatcher.Handle(ctx, args[0], arguments)))
		},
	}
	cmd.Flags().StringArrayVar(&argFlags, "arg", nil, "Command argument as name=value or name:=<json> (repeatable)")
	cmd.Flags().StringVar(&id, "id", "", "Request ID (default: random UUID)")
	cmd.Flags().StringVar(&remote, "remote", "", "Base URL of a running telbridge to send the command to")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Bearer token for --remote")
	return cmd
}

// printResponse writes the envelope; any non-success outcome exits with status 2.
func printResponse(cmd *cobra.Command, resp *protocol.Response) error {
	if err := protocol.EncodeResponse(cmd.OutOrStdout(), resp); err != nil {
		return err
	}
	if !resp.OK {
		return &exitError{code: 2}
	}
	return nil
}

// parseArgFlags turns repeated --arg values into an argument map. "name=value"
// yields a string; "name:=json" decodes value as JSON.
func parseArgFlags(flags []string) (map[string]any, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(flags))
	for _, f := range flags {
		eq := strings.IndexByte(f, '=')
		if eq <= 0 {
			return nil, fmt.Errorf("invalid --arg %q: want name=value", f)
		}
		name, value := f[:eq], f[eq+1:]

		if strings.HasSuffix(name, ":") {
			name = strings.TrimSuffix(name, ":")
			if name == "" {
				return nil, fmt.Errorf("invalid --arg %q: empty name", f)
			}
			var v any
			if err := json.Unmarshal([]byte(value), &v); err != nil {
				return nil, fmt.Errorf("invalid --arg %q: %w", f, err)
			}
			out[name] = v
			continue
		}
		out[name] = value
	}
	return out, nil
}
