package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/muurk/wise/internal/client"
	"github.com/muurk/wise/internal/discovery"
	"github.com/muurk/wise/internal/logging"
	"github.com/muurk/wise/internal/uart"
	"github.com/muurk/wise/internal/ui"
)

// Connection flags
var (
	deviceHost  string
	bridgeName  string
	devicePort  int
	username    string
	password    string
	timeout     time.Duration
	logLevel    string
	jsonOutput  bool
	scanTimeout time.Duration
)

func init() {
	rootCmd.PersistentFlags().StringVar(&deviceHost, "device", "", "Bridge host or IP (skips discovery)")
	rootCmd.PersistentFlags().StringVar(&bridgeName, "name", "", "mDNS instance or host name of the bridge")
	rootCmd.PersistentFlags().IntVar(&devicePort, "port", 80, "Bridge HTTP port")
	rootCmd.PersistentFlags().StringVar(&username, "user", "", "HTTP Basic username")
	rootCmd.PersistentFlags().StringVar(&password, "password", "", "HTTP Basic password")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", client.DefaultTimeout, "Request timeout")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return logging.Initialize(logLevel)
	}

	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(sttyCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(consoleCmd)
}

// newClient resolves the bridge address. --device wins; otherwise the
// bridge is found over mDNS, by --name when given.
func newClient(ctx context.Context) (*client.Client, error) {
	host, port := deviceHost, devicePort
	if host == "" {
		b, err := locate(ctx)
		if err != nil {
			return nil, err
		}
		host, port = b.IP, b.Port
		fmt.Fprintln(os.Stderr, ui.NoticeStyle.Render("Using "+b.String()))
	}

	c := client.NewClient(host, port)
	c.SetTimeout(timeout)
	if username != "" {
		c.SetAuth(username, password)
	}
	return c, nil
}

func locate(ctx context.Context) (*discovery.Bridge, error) {
	if bridgeName != "" {
		return discovery.NewScanner().Find(ctx, bridgeName)
	}

	bridges, err := discovery.QuickScan(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovery failed: %w", err)
	}
	switch len(bridges) {
	case 0:
		return nil, fmt.Errorf("no bridge found on the network; pass --device")
	case 1:
		return bridges[0], nil
	default:
		return nil, fmt.Errorf("%d bridges found; pick one with --name or --device (see 'wise-cfg discover')", len(bridges))
	}
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find bridges on the local network",
	Example: `  wise-cfg discover
  wise-cfg discover --scan-timeout 10s`,
	RunE: func(cmd *cobra.Command, args []string) error {
		scanner := discovery.NewScanner()
		scanner.Timeout = scanTimeout

		fmt.Printf("Scanning for bridges (%s)...\n\n", scanTimeout)
		bridges, err := scanner.Scan(cmd.Context())
		if err != nil {
			return err
		}
		if len(bridges) == 0 {
			fmt.Println("No bridges found.")
			fmt.Println(ui.HintStyle.Render("Check that mdns.enabled is set in the bridge config and that you are on the same network."))
			return nil
		}

		fmt.Println(ui.TitleStyle.Render(fmt.Sprintf("Found %d bridge(s)", len(bridges))))
		for _, b := range bridges {
			fmt.Println()
			fmt.Println(ui.RenderDetails([]ui.Detail{
				{Key: "Name", Value: b.Instance},
				{Key: "Address", Value: b.Address()},
				{Key: "UART", Value: strconv.Itoa(b.UART)},
				{Key: "Version", Value: b.Version},
				{Key: "Terminal", Value: b.BaseURL() + "/"},
			}))
		}
		return nil
	},
}

func init() {
	discoverCmd.Flags().DurationVar(&scanTimeout, "scan-timeout", discovery.DefaultScanTimeout, "How long to listen for answers")
}

var (
	sttyBaud   int
	sttyBits   int
	sttyParity string
	sttyStop   int
)

var sttyCmd = &cobra.Command{
	Use:   "stty",
	Short: "Show or change the UART line settings",
	Long: `Without flags, print the current settings. With flags, change only the
given settings; the bridge rejects the whole update if any value is invalid.`,
	Example: `  wise-cfg stty --device 192.168.4.1
  wise-cfg stty --baud 9600
  wise-cfg stty --bits 7 --parity even --stop 2`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := sttyRequest(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout+discovery.DefaultScanTimeout)
		defer cancel()

		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		cfg, err := c.Stty(ctx, req)
		if err != nil {
			return err
		}
		return printTerminal(cfg, !req.IsZero())
	},
}

func init() {
	sttyCmd.Flags().IntVar(&sttyBaud, "baud", 0, "Baud rate")
	sttyCmd.Flags().IntVar(&sttyBits, "bits", 0, "Data bits (5-8)")
	sttyCmd.Flags().StringVar(&sttyParity, "parity", "", "Parity (none, even, odd)")
	sttyCmd.Flags().IntVar(&sttyStop, "stop", 0, "Stop bits (1 or 2)")
	sttyCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the result as JSON")
}

// sttyRequest builds a request from the flags that were actually set.
func sttyRequest(cmd *cobra.Command) (client.SttyRequest, error) {
	var req client.SttyRequest
	flags := cmd.Flags()
	if flags.Changed("baud") {
		req.BaudRate = &sttyBaud
	}
	if flags.Changed("bits") {
		req.Bits = &sttyBits
	}
	if flags.Changed("parity") {
		p, err := uart.ParseParity(sttyParity)
		if err != nil {
			return req, err
		}
		v := int(p)
		req.Parity = &v
	}
	if flags.Changed("stop") {
		req.Stop = &sttyStop
	}
	return req, nil
}

func printTerminal(cfg uart.Config, changed bool) error {
	if jsonOutput {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	title := "Terminal settings"
	if changed {
		title = "Terminal reconfigured"
	}
	fmt.Println(ui.NewSuccessResult(title,
		ui.Detail{Key: "Baud rate", Value: strconv.Itoa(cfg.BaudRate)},
		ui.Detail{Key: "Data bits", Value: strconv.Itoa(cfg.Bits)},
		ui.Detail{Key: "Parity", Value: cfg.Parity.String()},
		ui.Detail{Key: "Stop bits", Value: strconv.Itoa(cfg.Stop)},
		ui.Detail{Key: "Frame", Value: cfg.Frame()},
	).Render())
	return nil
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print the WebSocket session token",
	Long: `Print the token a terminal client must send before the bridge accepts
input. It is empty when the bridge has no HTTP authentication.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout+discovery.DefaultScanTimeout)
		defer cancel()

		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		token, err := c.Token(ctx)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Open an interactive terminal on the bridge UART",
	Long: `Attach this terminal to the bridge. Keystrokes go to the UART and its
output is printed here. Press Ctrl-] to leave.`,
	RunE: runConsole,
}

func runConsole(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	console, err := c.DialConsole(ctx)
	if err != nil {
		return err
	}
	console.OnTitle = func(title string) {
		// xterm window title
		fmt.Fprintf(os.Stdout, "\x1b]0;%s\x07", title)
	}

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("failed to enter raw mode: %w", err)
		}
		defer func() { _ = term.Restore(fd, state) }()

		if cols, rows, err := term.GetSize(fd); err == nil {
			_ = console.Resize(cols, rows)
		}
	}

	fmt.Fprint(os.Stderr, "Connected. Press Ctrl-] to leave.\r\n")
	err = console.Run(ctx, os.Stdin, os.Stdout)
	fmt.Fprint(os.Stderr, "\r\nDisconnected.\r\n")
	return err
}
