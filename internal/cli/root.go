package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/ashik1291/customer-live-chat-system/internal/cli.version=1.2.3"
	version = "1.4.0"
	logo    = "\n" +
		"       _           _      _\n" +
		"   ___| |__   __ _| |_ __| |\n" +
		"  / __| '_ \\ / _` | __/ _` |\n" +
		" | (__| | | | (_| | || (_| |\n" +
		"  \\___|_| |_|\\__,_|\\__\\__,_|\n"
)

var rootCmd = &cobra.Command{
	Use:   "chatd",
	Short: "chatd - live customer support chat coordinator",
	Long:  color.CyanString(logo) + "\nCoordination core for live customer support chat: queueing, claims, leases, messaging.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
