package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/muurk/wise/internal/config"
	"github.com/muurk/wise/internal/link"
	"github.com/muurk/wise/internal/uart"
)

func TestNewRadioOverrides(t *testing.T) {
	cfg := config.Default()
	cfg.WiFi.Interface = "wlan1"
	cfg.WiFi.Commands.Associate = "wpa_cli -i {{.Interface}} reconnect"
	cfg.WiFi.Commands.Connected = "true"

	r := newRadio(cfg)
	if r.AssociateCommand != cfg.WiFi.Commands.Associate {
		t.Errorf("AssociateCommand = %q", r.AssociateCommand)
	}
	if r.DeactivateCommand != link.DefaultDeactivateCommand {
		t.Errorf("DeactivateCommand = %q, want default", r.DeactivateCommand)
	}
	if r.ConnectedCommand != "true" || r.Params.Interface != "wlan1" {
		t.Errorf("radio = %+v", r)
	}
}

func TestNewBridgeToken(t *testing.T) {
	cfg := config.Default()
	port := uart.NewLoopback(0)
	defer port.Close()

	b, err := newBridge(cfg, port, nil)
	if err != nil {
		t.Fatal(err)
	}
	if b.Token() != "" {
		t.Errorf("Token() = %q without basic auth, want empty", b.Token())
	}
	b.Close()

	cfg.HTTP.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "pw"}
	b, err = newBridge(cfg, port, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if len(b.Token()) != 16 {
		t.Errorf("Token() = %q, want 16 characters", b.Token())
	}
}

func TestServerConfig(t *testing.T) {
	cfg := config.Default()
	cfg.HTTP.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "pw"}

	sc, err := serverConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !sc.BasicAuth.Enabled() || !sc.Filter.PrivateOnly || sc.Port != 80 || sc.Realm != "Wi_Se" {
		t.Errorf("serverConfig() = %+v", sc)
	}
	if sc.TLS != nil {
		t.Error("TLS enabled without certificate files")
	}

	cfg.HTTP.TLS = config.TLSConfig{CertFile: "/nonexistent/cert.pem", KeyFile: "/nonexistent/key.pem"}
	if _, err := serverConfig(cfg); err == nil {
		t.Error("serverConfig() should fail for missing certificate files")
	}
}

func TestInitAndCheckConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	configPath = path
	defer func() { configPath = "" }()

	var out bytes.Buffer
	initConfigCmd.SetOut(&out)
	if err := initConfigCmd.RunE(initConfigCmd, nil); err != nil {
		t.Fatalf("init-config error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}
	if err := initConfigCmd.RunE(initConfigCmd, nil); err == nil {
		t.Error("init-config overwrote an existing file without --force")
	}

	out.Reset()
	checkConfigCmd.SetOut(&out)
	if err := checkConfigCmd.RunE(checkConfigCmd, nil); err != nil {
		t.Fatalf("check-config error = %v", err)
	}
	if !strings.Contains(out.String(), "Configuration is valid.") || !strings.Contains(out.String(), "loopback 115200 8N1") {
		t.Errorf("check-config output:\n%s", out.String())
	}
}
