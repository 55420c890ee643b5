package main

import (
	"net"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/telbridge/internal/auth"
	"github.com/mattjoyce/telbridge/internal/config"
	"github.com/mattjoyce/telbridge/internal/tui"
)

func newMonitorCmd() *cobra.Command {
	var (
		apiURL string
		apiKey string
	)
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Live view of invocations from a running service",
		Long: `Connects to /events and /healthz of a running telbridge and renders a live table.
--url and --api-key default to the configured API listen address and key.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiURL == "" || apiKey == "" {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				if apiURL == "" {
					apiURL = baseURL(cfg.API.Listen)
				}
				if apiKey == "" {
					apiKey = monitorKey(cfg)
				}
			}
			return tui.Run(cmd.Context(), strings.TrimRight(apiURL, "/"), apiKey)
		},
	}
	cmd.Flags().StringVar(&apiURL, "url", "", "Base URL of the telbridge API")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Bearer token with the events:ro scope")
	return cmd
}

// baseURL turns a listen address into a URL a local client can dial.
func baseURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// monitorKey picks the legacy key, else the first token that can read events.
func monitorKey(cfg *config.Config) string {
	if cfg.API.Auth.APIKey != "" {
		return cfg.API.Auth.APIKey
	}
	for _, t := range cfg.AuthTokens() {
		for _, s := range t.Scopes {
			if s == auth.ScopeAll || s == auth.ScopeEventsRO {
				return t.Token
			}
		}
	}
	return ""
}
