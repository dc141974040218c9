// Wise-cfg controls Wi-Se bridges from another machine.
//
// It finds bridges over mDNS, reads and changes the UART line settings,
// fetches the session token and opens an interactive console.
//
// Usage:
//
//	wise-cfg [command] [flags]
//
// See 'wise-cfg --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/wise/internal/client"
	"github.com/muurk/wise/internal/ui"
	"github.com/muurk/wise/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.NewFailureResult("Command failed", err, client.Hint(err)).Render())
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "wise-cfg",
	Short: "Wi-Se bridge utility",
	Long: `A command line client for Wi-Se serial console bridges.

Without --device the bridge is located over mDNS; this works when exactly
one bridge answers, or the one named with --name.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("wise-cfg %s\n", version.Full())
	},
}
