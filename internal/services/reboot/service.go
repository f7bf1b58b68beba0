// Package reboot drives a single device from "reboot requested" to
// "confirmed back online".
package reboot

import (
	"context"
	"fmt"
	"time"

	"github.com/fgeck/unifi-reboot/internal/inventory"
	"github.com/fgeck/unifi-reboot/internal/models"
	"github.com/rs/zerolog"
)

// Status messages shown while a device is still offline.
const (
	MessageSlow  = "This may take 1-2 minutes..."
	MessageStare = "It really doesn't help to stare..."
)

// DefaultPollInterval is the delay between status polls.
const DefaultPollInterval = 15 * time.Second

// Poll counts after which the status message changes.
const (
	slowAfterPolls  = 2
	stareAfterPolls = 4
)

// State is the position of one device in the reboot lifecycle.
type State int

// Reboot states.
const (
	StateRequested State = iota
	StatePolling
	StateConfirmed
	StateFailed
	StateDryRunSkipped
)

func (s State) String() string {
	switch s {
	case StateRequested:
		return "requested"
	case StatePolling:
		return "polling"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	case StateDryRunSkipped:
		return "dry-run-skipped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Reporter receives title updates for one device task.
type Reporter func(status models.EventStatus, title string)

// DeviceLister fetches a fresh device snapshot of a site.
type DeviceLister interface {
	Devices(ctx context.Context, site string) ([]models.Device, error)
}

// Service defines the interface for rebooting one device.
type Service interface {
	Reboot(ctx context.Context, device models.Device, report Reporter) models.RebootResult
}

// Impl implements the reboot Service interface.
type Impl struct {
	lister    DeviceLister
	commander Commander
	site      string
	settings  models.RebootSettings
	dryRun    bool
	logger    zerolog.Logger
}

// New creates a new reboot service.
func New(
	logger zerolog.Logger,
	lister DeviceLister,
	commander Commander,
	site string,
	settings models.RebootSettings,
	dryRun bool,
) *Impl {
	if settings.PollInterval <= 0 {
		settings.PollInterval = DefaultPollInterval
	}
	return &Impl{
		lister:    lister,
		commander: commander,
		site:      site,
		settings:  settings,
		dryRun:    dryRun,
		logger:    logger,
	}
}

// machine tracks one device through the reboot states.
type machine struct {
	state  State
	title  string
	report Reporter
	logger zerolog.Logger
}

func (m *machine) transition(to State) {
	m.logger.Debug().Stringer("from", m.state).Stringer("to", to).Msg("state change")
	m.state = to
}

// show publishes a running title unless it is already displayed.
func (m *machine) show(title string) {
	if title == m.title {
		return
	}
	m.title = title
	m.report(models.StatusRunning, title)
}

// Reboot issues the reboot command for device and waits until the controller
// reports it online again, the wait is exhausted or ctx is cancelled.
func (s *Impl) Reboot(ctx context.Context, device models.Device, report Reporter) models.RebootResult {
	start := time.Now()
	name := device.DisplayName()
	logger := s.logger.With().Str("mac", device.MAC).Str("device", name).Logger()

	if report == nil {
		report = func(models.EventStatus, string) {}
	}

	m := &machine{state: StateRequested, report: report, logger: logger}
	result := models.RebootResult{MAC: device.MAC, Name: name}

	fail := func(err error) models.RebootResult {
		m.transition(StateFailed)
		result.Outcome = models.OutcomeFailed
		result.Error = err
		result.Duration = time.Since(start)
		logger.Error().Err(err).Int("polls", result.Polls).Msg("device reboot failed")
		report(models.StatusFailed, fmt.Sprintf("%s: %v", name, err))
		return result
	}

	m.show(name)

	if s.dryRun {
		logger.Info().Dur("delay", s.settings.DryRunDelay).Msg("dry run, simulating reboot")
		if err := sleep(ctx, s.settings.DryRunDelay); err != nil {
			return fail(err)
		}
		m.transition(StateDryRunSkipped)
		result.Outcome = models.OutcomeDryRunSkipped
		result.Duration = time.Since(start)
		report(models.StatusSkipped, name+" (dry run)")
		return result
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	logger.Info().Msg("requesting reboot")
	if err := s.commander.Reboot(ctx, device); err != nil {
		return fail(&models.RebootCommandError{MAC: device.MAC, Name: name, Err: err})
	}
	result.Commanded = true

	m.transition(StatePolling)
	polls, err := s.waitOnline(ctx, device, m)
	result.Polls = polls
	if err != nil {
		return fail(err)
	}

	m.transition(StateConfirmed)
	result.Outcome = models.OutcomeSucceeded
	result.Duration = time.Since(start)
	logger.Info().Int("polls", polls).Dur("duration", result.Duration).Msg("device back online")
	report(models.StatusSucceeded, name)
	return result
}

// waitOnline polls the controller every PollInterval until the device state
// is online. It returns the number of polls made.
func (s *Impl) waitOnline(ctx context.Context, device models.Device, m *machine) (int, error) {
	start := time.Now()
	interval := s.settings.PollInterval

	var deadline <-chan time.Time
	if s.settings.Timeout > 0 {
		deadlineTimer := time.NewTimer(s.settings.Timeout)
		defer deadlineTimer.Stop()
		deadline = deadlineTimer.C
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	polls, failures := 0, 0
	for {
		select {
		case <-ctx.Done():
			return polls, errWaitCancelled(ctx)
		case <-deadline:
			return polls, &models.RebootTimeoutError{MAC: device.MAC, Polls: polls, Elapsed: time.Since(start)}
		case <-ticker.C:
		}

		polls++
		devices, err := s.lister.Devices(ctx, s.site)
		switch {
		case err != nil && ctx.Err() != nil:
			return polls, errWaitCancelled(ctx)
		case err != nil:
			failures++
			m.logger.Warn().Err(err).Int("poll", polls).Int("consecutive_failures", failures).Msg("status poll failed")
			if failures > s.settings.MaxPollErrors {
				return polls, &models.PollFetchError{MAC: device.MAC, Attempts: failures, Err: err}
			}
		default:
			failures = 0
			if d, ok := inventory.NewIndex(devices).Find(device.MAC); ok && d.Online() {
				return polls, nil
			}
			m.logger.Debug().Int("poll", polls).Msg("device not online yet")
		}

		switch {
		case polls > stareAfterPolls:
			m.show(MessageStare)
		case polls > slowAfterPolls:
			m.show(MessageSlow)
		}

		if s.settings.MaxPolls > 0 && polls >= s.settings.MaxPolls {
			return polls, &models.RebootTimeoutError{MAC: device.MAC, Polls: polls, Elapsed: time.Since(start)}
		}
	}
}

func errWaitCancelled(ctx context.Context) error {
	return fmt.Errorf("cancelled while waiting for the device to come back online: %w", ctx.Err())
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
