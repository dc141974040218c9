package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/wise/internal/bridge"
	"github.com/muurk/wise/internal/config"
	"github.com/muurk/wise/internal/discovery"
	"github.com/muurk/wise/internal/firewall"
	"github.com/muurk/wise/internal/httpmsg"
	"github.com/muurk/wise/internal/leds"
	"github.com/muurk/wise/internal/link"
	"github.com/muurk/wise/internal/logging"
	"github.com/muurk/wise/internal/protocol"
	"github.com/muurk/wise/internal/server"
	"github.com/muurk/wise/internal/uart"
	"github.com/muurk/wise/internal/version"
)

var (
	logLevel string
	port     int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bridge",
	Long: `Bring the network link up, open the UART and serve terminals until
interrupted.

SIGINT or SIGTERM closes every session and exits.`,
	Example: `  # Run with the default config search path
  wise-server serve

  # Explicit config and verbose logging
  wise-server serve --config /etc/wise/config.yaml --log-level debug

  # Override the HTTP port
  wise-server serve --port 8080`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	serveCmd.Flags().IntVar(&port, "port", 0, "HTTP port; overrides the config file")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.HTTP.Port = port
	}
	if logLevel == "" {
		logLevel = cfg.LogLevel
	}
	if err := logging.Initialize(logLevel); err != nil {
		return err
	}
	defer logging.Sync()

	logging.Info("Starting Wi-Se", zap.String("version", version.Full()), zap.String("hostname", cfg.Hostname))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	driver, err := leds.NewDriver(cfg.LEDs.Driver, cfg.LEDs.SysfsRoot, cfg.LEDs.Names)
	if err != nil {
		return err
	}
	panel := leds.NewPanel(driver, cfg.LEDs.BlinkDuration)

	supervisor, err := newSupervisor(cfg, panel)
	if err != nil {
		return err
	}
	if err := supervisor.Up(ctx); err != nil {
		return fmt.Errorf("failed to bring the link up: %w", err)
	}
	go func() {
		if err := supervisor.Run(ctx); err != nil && ctx.Err() == nil {
			logging.Error("Link supervisor stopped", zap.Error(err))
		}
	}()

	term := cfg.UART.Term()
	uartPort, err := uart.Open(cfg.UART.Port, term, cfg.UART.ReadTimeout)
	if err != nil {
		return err
	}
	defer uartPort.Close()
	logging.LogStty(term.BaudRate, term.Bits, term.Parity.String(), term.Stop)

	b, err := newBridge(cfg, uartPort, panel)
	if err != nil {
		return err
	}

	sc, err := serverConfig(cfg)
	if err != nil {
		return err
	}
	if sc.TLS != nil {
		logging.Info("TLS Configuration", zap.Any("tls_info", server.GetTLSInfo(sc.TLS)))
	}
	srv := server.New(sc, b)
	if err := srv.Listen(); err != nil {
		return err
	}

	if cfg.MDNS.Enabled {
		adv, err := discovery.Advertise(ctx, cfg.Hostname, cfg.HTTP.Port, version.Version, cfg.UART.ID)
		if err != nil {
			logging.Warn("mDNS advertisement failed", zap.Error(err))
		} else {
			defer adv.Shutdown()
		}
	}

	return srv.Serve(ctx)
}

func newSupervisor(cfg *config.Config, panel *leds.Panel) (*link.Supervisor, error) {
	mode, err := link.ParseMode(cfg.WiFi.Mode)
	if err != nil {
		return nil, err
	}
	return link.New(newRadio(cfg), link.Options{Mode: mode, Panel: panel}), nil
}

// newRadio builds the command radio, keeping the built-in commands for
// any the config leaves empty.
func newRadio(cfg *config.Config) *link.CommandRadio {
	radio := link.NewCommandRadio(link.RadioParams{
		Interface: cfg.WiFi.Interface,
		SSID:      cfg.WiFi.SSID,
		Key:       cfg.WiFi.Key,
		Hostname:  cfg.Hostname,
		AuthMode:  cfg.WiFi.AuthMode,
		Channel:   cfg.WiFi.Channel,
		Hidden:    cfg.WiFi.Hidden,
	})
	cmds := cfg.WiFi.Commands
	if cmds.Associate != "" {
		radio.AssociateCommand = cmds.Associate
	}
	if cmds.Deactivate != "" {
		radio.DeactivateCommand = cmds.Deactivate
	}
	if cmds.AccessPoint != "" {
		radio.AccessPointCommand = cmds.AccessPoint
	}
	radio.ConnectedCommand = cmds.Connected
	return radio
}

// newBridge creates the bridge; a session token is only issued when HTTP
// Basic authentication protects /token.
func newBridge(cfg *config.Config, port uart.Port, panel *leds.Panel) (*bridge.Bridge, error) {
	var token string
	if cfg.HTTP.BasicAuth != nil {
		var err error
		if token, err = bridge.NewToken(); err != nil {
			return nil, err
		}
	}

	return bridge.New(port, cfg.UART.Term(), bridge.Options{
		Hostname:      cfg.Hostname,
		UARTID:        cfg.UART.ID,
		Token:         token,
		Preferences:   cfg.TtydPreferences,
		PingInterval:  cfg.WebSocket.PingInterval,
		ClientTimeout: cfg.WebSocket.ClientTimeout,
		MaxClients:    cfg.WebSocket.MaxClients,
		Panel:         panel,
	})
}

func serverConfig(cfg *config.Config) (server.Config, error) {
	sc := server.Config{
		Host:      cfg.HTTP.Listen,
		Port:      cfg.HTTP.Port,
		Realm:     cfg.Hostname,
		Filter:    firewall.Filter{PrivateOnly: cfg.HTTP.PrivateNetsOnly},
		WebSocket: protocol.Options{MaxMessageSize: cfg.WebSocket.MaxMessageSize},
	}
	if ba := cfg.HTTP.BasicAuth; ba != nil {
		sc.BasicAuth = httpmsg.NewBasicAuth(ba.Username, ba.Password, cfg.Hostname)
	}
	if cfg.HTTP.TLS.Enabled() {
		tlsConfig, err := server.NewTLSConfig(cfg.HTTP.TLS.CertFile, cfg.HTTP.TLS.KeyFile)
		if err != nil {
			return server.Config{}, err
		}
		sc.TLS = tlsConfig
	}
	return sc, nil
}
