package link

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/muurk/wise/internal/leds"
	"github.com/muurk/wise/internal/logging"
	"go.uber.org/zap"
)

// Mode selects how the link is brought up.
type Mode string

const (
	// ModeStation joins an existing network and keeps it joined.
	ModeStation Mode = "sta"
	// ModeAccessPoint hosts a network once.
	ModeAccessPoint Mode = "ap"
	// ModeNone leaves networking to the host.
	ModeNone Mode = "none"
)

// ParseMode accepts sta, ap or none.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeStation, ModeAccessPoint, ModeNone:
		return m, nil
	default:
		return "", fmt.Errorf("unknown wifi mode %q (expected sta, ap or none)", s)
	}
}

// State of the wireless link.
type State int

const (
	StateDown State = iota
	StateAssociating
	StateUp
)

func (s State) String() string {
	switch s {
	case StateDown:
		return "down"
	case StateAssociating:
		return "associating"
	case StateUp:
		return "up"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Radio is the wireless interface the supervisor drives.
type Radio interface {
	Associate(ctx context.Context) error
	Connected(ctx context.Context) (bool, error)
	Deactivate(ctx context.Context) error
	StartAccessPoint(ctx context.Context) error
}

// Defaults for Options.
const (
	DefaultPollInterval     = 500 * time.Millisecond
	DefaultReassociateEvery = 10
	DefaultCheckInterval    = time.Second
	DefaultRestartDelay     = time.Second
)

// initialPollCount offsets the poll counter so the first re-association
// happens after five polls rather than ten.
const initialPollCount = 5

// Options configures a Supervisor. Zero durations select the defaults.
type Options struct {
	Mode             Mode
	PollInterval     time.Duration
	ReassociateEvery int
	CheckInterval    time.Duration
	RestartDelay     time.Duration
	Panel            *leds.Panel
}

// Supervisor brings the link up and keeps it up.
type Supervisor struct {
	radio Radio
	opts  Options

	mu      sync.Mutex
	state   State
	retries int64
}

// New returns a supervisor in StateDown.
func New(radio Radio, opts Options) *Supervisor {
	if opts.Mode == "" {
		opts.Mode = ModeStation
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ReassociateEvery <= 0 {
		opts.ReassociateEvery = DefaultReassociateEvery
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = DefaultCheckInterval
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = DefaultRestartDelay
	}
	return &Supervisor{radio: radio, opts: opts}
}

// State returns the current link state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Retries returns how many association attempts have been made in total.
func (s *Supervisor) Retries() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retries
}

func (s *Supervisor) setState(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	retries := s.retries
	s.mu.Unlock()

	switch to {
	case StateUp:
		s.opts.Panel.Set(leds.Status, false)
		s.opts.Panel.Set(leds.WiFi, true)
	default:
		s.opts.Panel.Set(leds.Status, true)
		s.opts.Panel.Set(leds.WiFi, false)
	}

	if from != to {
		logging.LogLinkState(string(s.opts.Mode), from.String(), to.String(), retries)
	}
}

func (s *Supervisor) associate(ctx context.Context) {
	s.mu.Lock()
	s.retries++
	s.mu.Unlock()

	if err := s.radio.Associate(ctx); err != nil {
		logging.Warn("Association attempt failed", zap.Error(err))
	}
}

func (s *Supervisor) connected(ctx context.Context) bool {
	ok, err := s.radio.Connected(ctx)
	if err != nil {
		logging.Debug("Link check failed", zap.Error(err))
		return false
	}
	return ok
}

// Up blocks until the link is usable. In station mode it associates and
// polls, re-issuing the association every ReassociateEvery-th poll. It only
// fails when ctx ends or, in access-point mode, when the AP cannot start.
func (s *Supervisor) Up(ctx context.Context) error {
	switch s.opts.Mode {
	case ModeNone:
		s.setState(StateUp)
		return nil

	case ModeAccessPoint:
		s.setState(StateAssociating)
		if err := s.radio.StartAccessPoint(ctx); err != nil {
			s.setState(StateDown)
			return fmt.Errorf("failed to start access point: %w", err)
		}
		s.setState(StateUp)
		return nil
	}

	s.setState(StateAssociating)
	s.associate(ctx)

	if !s.connected(ctx) {
		s.associate(ctx)
		count := initialPollCount
		for !s.connected(ctx) {
			count++
			if count%s.opts.ReassociateEvery == 0 {
				s.associate(ctx)
			}
			s.opts.Panel.Blink(leds.WiFi)
			if err := sleep(ctx, s.opts.PollInterval); err != nil {
				return err
			}
		}
	}

	s.setState(StateUp)
	return nil
}

// Run watches a station link and restarts it when it drops. It returns only
// when ctx ends. In access-point and none modes it returns immediately.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.opts.Mode != ModeStation {
		return nil
	}

	ticker := time.NewTicker(s.opts.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if s.connected(ctx) {
			continue
		}

		logging.Warn("Link lost, restarting radio")
		s.setState(StateDown)
		if err := s.radio.Deactivate(ctx); err != nil {
			logging.Warn("Failed to deactivate radio", zap.Error(err))
		}
		if err := sleep(ctx, s.opts.RestartDelay); err != nil {
			return err
		}
		if err := s.Up(ctx); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
