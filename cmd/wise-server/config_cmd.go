package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/wise/internal/config"
	"github.com/muurk/wise/internal/uart"
)

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the config file and list serial ports",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Configuration is valid.")
		fmt.Fprintf(out, "  Hostname:  %s\n", cfg.Hostname)
		fmt.Fprintf(out, "  Link:      %s\n", cfg.WiFi.Mode)
		fmt.Fprintf(out, "  Listen:    %s:%d (tls: %v)\n", cfg.HTTP.Listen, cfg.HTTP.Port, cfg.HTTP.TLS.Enabled())
		fmt.Fprintf(out, "  Auth:      %v\n", cfg.HTTP.BasicAuth != nil)
		fmt.Fprintf(out, "  UART:      %s %s\n", cfg.UART.Port, cfg.UART.Term())

		ports, err := uart.AvailablePorts()
		if err != nil {
			fmt.Fprintf(out, "\nCould not list serial ports: %v\n", err)
			return nil
		}
		fmt.Fprintln(out, "\nSerial ports:")
		if len(ports) == 0 {
			fmt.Fprintln(out, "  (none found)")
		}
		for _, p := range ports {
			marker := " "
			if p == cfg.UART.Port {
				marker = "*"
			}
			fmt.Fprintf(out, "  %s %s\n", marker, p)
		}
		return nil
	},
}

var forceInit bool

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write a config file with the default settings",
	Example: `  # Write to the user config location
  wise-server init-config

  # Write a system-wide file
  sudo wise-server init-config --config /etc/wise/config.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			dir, err := config.GetConfigDir()
			if err != nil {
				return err
			}
			path = dir + string(os.PathSeparator) + "config.yaml"
		}

		if _, err := os.Stat(path); err == nil && !forceInit {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

func init() {
	initConfigCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing file")
}
