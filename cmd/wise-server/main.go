// Wise-server bridges a serial console to browsers over WebSocket.
//
// It serves a ttyd-compatible terminal page, relays the UART to every
// connected session and keeps the wireless link up.
//
// Usage:
//
//	wise-server serve [flags]
//
// See 'wise-server --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/wise/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var configPath string

var rootCmd = &cobra.Command{
	Use:   "wise-server",
	Short: "Wi-Se serial console bridge",
	Long: `Wi-Se exposes a serial port as a terminal in the browser.

Clients speak the ttyd protocol over a WebSocket at /ws. Every connected
terminal sees the UART output and may type into it. The line settings can be
changed at runtime through /stty.

Settings are read from a YAML file; see 'wise-server init-config'.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: search user and system locations)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkConfigCmd)
	rootCmd.AddCommand(initConfigCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("wise-server %s\n", version.Full())
	},
}
