package main

import (
	"rtbridge/cmd/internal/rtclient"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rtbridge",
		Short: "Realtime speech API client and browser relay",
		Long: `rtbridge talks to the Azure OpenAI or OpenAI realtime API over WebSocket.

"serve" runs the relay that lets browsers reach the API without holding the
key. "session" opens one conversation from the terminal.`,
		Version: rtclient.Version,
		// errors are ours to report, not usage mistakes
		SilenceUsage: true,
	}
	root.SetVersionTemplate(`{{printf "rtbridge version %s\n" .Version}}`)

	root.AddCommand(newServeCmd())
	root.AddCommand(newSessionCmd())
	root.AddCommand(newHashKeyCmd())
	return root
}
