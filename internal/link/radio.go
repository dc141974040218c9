package link

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/muurk/wise/internal/logging"
	"go.uber.org/zap"
)

// Default commands, NetworkManager flavoured. Each argument is a template
// rendered with RadioParams.
const (
	DefaultAssociateCommand   = "nmcli device wifi connect {{.SSID}} password {{.Key}} ifname {{.Interface}}"
	DefaultDeactivateCommand  = "nmcli device disconnect {{.Interface}}"
	DefaultAccessPointCommand = "nmcli device wifi hotspot ifname {{.Interface}} ssid {{.SSID}} password {{.Key}} channel {{.Channel}}"

	DefaultCommandTimeout = 30 * time.Second
	DefaultSysfsNetRoot   = "/sys/class/net"
)

// RadioParams are the values available to command templates.
type RadioParams struct {
	Interface string
	SSID      string
	Key       string
	Hostname  string
	AuthMode  string
	Channel   int
	Hidden    bool
}

// CommandRadio drives the wireless interface through external commands.
// Commands are split on whitespace first and each argument is then rendered
// as a text/template, so values containing spaces stay one argument.
type CommandRadio struct {
	Params RadioParams

	AssociateCommand   string
	DeactivateCommand  string
	AccessPointCommand string

	// ConnectedCommand, when set, decides connectivity by its exit status.
	// Otherwise the interface's operstate under SysfsNetRoot is read.
	ConnectedCommand string
	SysfsNetRoot     string

	Timeout time.Duration

	// run executes a command; tests replace it.
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewCommandRadio returns a radio using the default nmcli commands.
func NewCommandRadio(params RadioParams) *CommandRadio {
	return &CommandRadio{
		Params:             params,
		AssociateCommand:   DefaultAssociateCommand,
		DeactivateCommand:  DefaultDeactivateCommand,
		AccessPointCommand: DefaultAccessPointCommand,
		SysfsNetRoot:       DefaultSysfsNetRoot,
		Timeout:            DefaultCommandTimeout,
	}
}

func (r *CommandRadio) Associate(ctx context.Context) error {
	return r.exec(ctx, "associate", r.AssociateCommand)
}

func (r *CommandRadio) Deactivate(ctx context.Context) error {
	return r.exec(ctx, "deactivate", r.DeactivateCommand)
}

func (r *CommandRadio) StartAccessPoint(ctx context.Context) error {
	return r.exec(ctx, "access_point", r.AccessPointCommand)
}

// Connected reports whether the interface is operationally up.
func (r *CommandRadio) Connected(ctx context.Context) (bool, error) {
	if r.ConnectedCommand != "" {
		err := r.exec(ctx, "connected", r.ConnectedCommand)
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		return err == nil, err
	}

	root := r.SysfsNetRoot
	if root == "" {
		root = DefaultSysfsNetRoot
	}
	data, err := os.ReadFile(filepath.Join(root, r.Params.Interface, "operstate"))
	if err != nil {
		return false, fmt.Errorf("failed to read link state of %s: %w", r.Params.Interface, err)
	}
	return strings.TrimSpace(string(data)) == "up", nil
}

// Render expands a command template into argv.
func (r *CommandRadio) Render(command string) ([]string, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, errors.New("empty command")
	}

	argv := make([]string, 0, len(fields))
	for i, field := range fields {
		tmpl, err := template.New(fmt.Sprintf("arg%d", i)).Option("missingkey=error").Parse(field)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %q: %w", field, err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, r.Params); err != nil {
			return nil, fmt.Errorf("failed to execute template %q: %w", field, err)
		}
		argv = append(argv, buf.String())
	}
	return argv, nil
}

func (r *CommandRadio) exec(ctx context.Context, what, command string) error {
	if command == "" {
		return nil
	}
	argv, err := r.Render(command)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	run := r.run
	if run == nil {
		run = runCommand
	}

	// argv may carry the network key; only the program name is logged.
	logging.Debug("Running radio command", zap.String("action", what), zap.String("program", argv[0]))

	out, err := run(ctx, argv[0], argv[1:]...)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%s: %s timed out after %s", what, argv[0], timeout)
		}
		return fmt.Errorf("%s: %s failed: %w (output: %s)", what, argv[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}
