package main

import (
	"rtbridge/cmd/internal/app"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the browser relay",
		Long: `Run the HTTP server: /ws relays browser sessions upstream, /sessions/{id}/events
pages the session journal, and /healthz, /readyz and /metrics serve operators.

Configuration comes from RTB_* environment variables and an optional .env file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Run(cmd.Context())
		},
	}
}
