// Package runner orchestrates the reboot workflow.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fgeck/unifi-reboot/internal/inventory"
	"github.com/fgeck/unifi-reboot/internal/models"
	"github.com/fgeck/unifi-reboot/internal/pipeline"
	"github.com/fgeck/unifi-reboot/internal/services/reboot"
	"github.com/fgeck/unifi-reboot/internal/services/ssh"
	"github.com/fgeck/unifi-reboot/internal/services/telegram"
	"github.com/fgeck/unifi-reboot/internal/services/unifi"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Service defines the interface for the reboot runner.
type Service interface {
	Run(ctx context.Context, cfg models.RebootConfig, events chan<- models.ProgressEvent) (*models.RunSummary, error)
	ListDevices(ctx context.Context, cfg models.RebootConfig, events chan<- models.ProgressEvent) ([]models.Device, error)
}

// Impl implements the runner Service interface.
type Impl struct {
	controller  unifi.Service
	sshSvc      ssh.Service
	telegramSvc telegram.Service
	logger      zerolog.Logger
}

// New creates a new runner service talking to the configured controller.
func New(logger zerolog.Logger, cfg models.ControllerConfig) *Impl {
	return &Impl{
		controller:  unifi.New(logger, cfg),
		sshSvc:      ssh.New(logger),
		telegramSvc: telegram.New(logger),
		logger:      logger,
	}
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	controller unifi.Service,
	sshSvc ssh.Service,
	telegramSvc telegram.Service,
) *Impl {
	return &Impl{
		controller:  controller,
		sshSvc:      sshSvc,
		telegramSvc: telegramSvc,
		logger:      logger,
	}
}

// run is the shared context of one pipeline run.
type run struct {
	cfg      models.RebootConfig
	logger   zerolog.Logger
	loggedIn bool
	devices  []models.Device
	summary  *models.RunSummary
}

// Run executes the complete reboot workflow: login, inventory, reboot-all.
func (s *Impl) Run(ctx context.Context, cfg models.RebootConfig, events chan<- models.ProgressEvent) (*models.RunSummary, error) {
	r := s.newRun(cfg)

	r.logger.Info().
		Str("site", cfg.Controller.Site).
		Strs("types", cfg.Selection).
		Bool("dry_run", cfg.DryRun).
		Msg("starting reboot run")

	if cfg.Reboot.Unbounded() && !cfg.DryRun {
		r.logger.Warn().Msg("no timeout or poll limit set, devices that never come back online block the run")
	}

	defer s.logout(r)

	p := pipeline.New(r.logger,
		s.loginStage(r),
		s.loadInventoryStage(r),
		s.rebootAllStage(r),
	)
	err := p.Run(ctx, events)

	r.summary.Duration = time.Since(r.summary.StartTime)
	if err != nil {
		r.summary.Error = err
		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) {
			r.summary.FailedStage = stageErr.Stage
		}
	}

	if cfg.Telegram != nil {
		s.sendNotification(ctx, *cfg.Telegram, r.summary)
	}

	if err != nil {
		return r.summary, err
	}

	r.logger.Info().
		Int("devices", len(r.summary.Results)).
		Dur("duration", r.summary.Duration).
		Msg("reboot run completed successfully")

	return r.summary, nil
}

// ListDevices logs in and returns the selected devices without rebooting
// anything.
func (s *Impl) ListDevices(ctx context.Context, cfg models.RebootConfig, events chan<- models.ProgressEvent) ([]models.Device, error) {
	r := s.newRun(cfg)
	defer s.logout(r)

	p := pipeline.New(r.logger, s.loginStage(r), s.loadInventoryStage(r))
	if err := p.Run(ctx, events); err != nil {
		return nil, err
	}
	return r.devices, nil
}

func (s *Impl) newRun(cfg models.RebootConfig) *run {
	runID := uuid.NewString()
	return &run{
		cfg:    cfg,
		logger: s.logger.With().Str("run_id", runID).Logger(),
		summary: &models.RunSummary{
			RunID:     runID,
			Site:      cfg.Controller.Site,
			DryRun:    cfg.DryRun,
			StartTime: time.Now(),
		},
	}
}

func (s *Impl) loginStage(r *run) pipeline.Stage {
	return pipeline.Stage{
		ID:    models.StageLogin,
		Title: "Logging in",
		Run: func(ctx context.Context, rep *pipeline.Reporter) error {
			c := r.cfg.Controller
			if err := s.controller.Login(ctx, c.Username, c.Password); err != nil {
				r.logger.Error().Err(err).Str("host", c.Host).Msg("login failed")
				return &models.AuthenticationError{Username: c.Username, Err: err}
			}
			r.loggedIn = true
			r.logger.Info().Str("host", c.Host).Int("port", c.Port).Msg("logged in")
			rep.Title("Logged in")
			return nil
		},
	}
}

func (s *Impl) loadInventoryStage(r *run) pipeline.Stage {
	return pipeline.Stage{
		ID:    models.StageLoadInventory,
		Title: "Loading devices",
		Run: func(ctx context.Context, rep *pipeline.Reporter) error {
			sel := inventory.NewSelection(r.cfg.Selection...)
			if sel.Empty() {
				return errors.New("no device types selected")
			}

			site := r.cfg.Controller.Site
			all, err := s.controller.Devices(ctx, site)
			if err != nil {
				r.logger.Error().Err(err).Str("site", site).Msg("loading devices failed")
				return &models.InventoryFetchError{Site: site, Err: err}
			}

			r.devices = inventory.Filter(all, sel)
			r.summary.Discovered = len(r.devices)

			r.logger.Info().
				Int("total", len(all)).
				Int("selected", len(r.devices)).
				Msg("devices discovered")
			rep.Title(plural(len(r.devices), "device") + " discovered")
			return nil
		},
	}
}

func (s *Impl) rebootAllStage(r *run) pipeline.Stage {
	verb := "Rebooting"
	if r.cfg.DryRun {
		verb = "Simulating reboot of"
	}

	return pipeline.Stage{
		ID:    models.StageRebootAll,
		Title: verb + " devices",
		Run: func(ctx context.Context, rep *pipeline.Reporter) error {
			devices := r.devices
			if len(devices) == 0 {
				rep.Title("No devices to reboot")
				return nil
			}
			rep.Title(fmt.Sprintf("%s %s", verb, plural(len(devices), "device")))

			commander, err := s.commander(r.cfg)
			if err != nil {
				return err
			}
			rebooter := reboot.New(r.logger, s.controller, commander, r.cfg.Controller.Site, r.cfg.Reboot, r.cfg.DryRun)

			results := s.rebootDevices(ctx, r, rebooter, rep)
			r.summary.Results = results

			var errs []error
			done, failed, cancelled, aborted := 0, 0, 0, 0
			for _, res := range results {
				switch res.Outcome {
				case models.OutcomeSucceeded, models.OutcomeDryRunSkipped:
					done++
				case models.OutcomeAborted:
					aborted++
					errs = append(errs, fmt.Errorf("%s: aborted before the reboot command", res.Name))
				case models.OutcomeCancelled:
					cancelled++
					errs = append(errs, fmt.Errorf("%s: %w", res.Name, res.Error))
				default:
					failed++
					errs = append(errs, fmt.Errorf("%s: %w", res.Name, res.Error))
				}
			}

			past := "Rebooted"
			if r.cfg.DryRun {
				past = "Simulated reboot of"
			}
			if len(errs) > 0 {
				rep.Title(fmt.Sprintf("%s %d of %s", past, done, plural(len(results), "device")))
				msg := fmt.Sprintf("%d of %s failed to reboot", failed, plural(len(results), "device"))
				if cancelled > 0 {
					msg += fmt.Sprintf(", %d cancelled while waiting", cancelled)
				}
				if aborted > 0 {
					msg += fmt.Sprintf(", %d aborted", aborted)
				}
				return fmt.Errorf("%s: %w", msg, errors.Join(errs...))
			}

			rep.Title(fmt.Sprintf("%s %s", past, plural(done, "device")))
			return nil
		},
	}
}

// rebootDevices runs one reboot task per device and returns the results in
// device order. With FailFast the first failure cancels the remaining tasks:
// tasks that had not sent the reboot command end aborted, tasks already
// waiting for their device end cancelled.
func (s *Impl) rebootDevices(ctx context.Context, r *run, rebooter reboot.Service, rep *pipeline.Reporter) []models.RebootResult {
	devices := r.devices
	results := make([]models.RebootResult, len(devices))

	var g *errgroup.Group
	gctx := ctx
	if r.cfg.Reboot.FailFast {
		g, gctx = errgroup.WithContext(ctx)
	} else {
		g = &errgroup.Group{}
	}
	if r.cfg.Reboot.Concurrency > 0 {
		g.SetLimit(r.cfg.Reboot.Concurrency)
	}

	for i, d := range devices {
		results[i] = models.RebootResult{MAC: d.MAC, Name: d.DisplayName(), Outcome: models.OutcomeAborted}
		rep.Task(d.MAC, models.StatusPending, d.DisplayName())
	}

	for i, d := range devices {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i].Error = err
				rep.Task(d.MAC, models.StatusSkipped, d.DisplayName()+" (aborted)")
				return nil
			}

			res := rebooter.Reboot(gctx, d, func(status models.EventStatus, title string) {
				rep.Task(d.MAC, status, title)
			})

			if res.Outcome == models.OutcomeFailed && errors.Is(res.Error, context.Canceled) && ctx.Err() == nil {
				res.Outcome = models.OutcomeCancelled
				if !res.Commanded {
					res.Outcome = models.OutcomeAborted
				}
			}

			results[i] = res

			if res.Outcome == models.OutcomeFailed && r.cfg.Reboot.FailFast {
				r.logger.Warn().Str("mac", d.MAC).Msg("fail-fast: stopping the remaining devices")
				return res.Error
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		r.logger.Warn().Err(err).Msg("fail-fast stopped the remaining devices")
	}
	return results
}

func (s *Impl) commander(cfg models.RebootConfig) (reboot.Commander, error) {
	if cfg.Reboot.Via != models.RebootViaSSH {
		return &reboot.ControllerCommander{Client: s.controller, Site: cfg.Controller.Site}, nil
	}

	if cfg.SSH == nil {
		return nil, fmt.Errorf("ssh reboot requested without ssh settings")
	}
	sshCfg := *cfg.SSH

	// Load private key once for all devices
	if sshCfg.PrivateKey == nil && sshCfg.KeyPath != "" {
		key, err := os.ReadFile(sshCfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH key: %w", err)
		}
		sshCfg.PrivateKey = key
	}

	return &reboot.SSHCommander{SSH: s.sshSvc, Config: sshCfg}, nil
}

func (s *Impl) logout(r *run) {
	if !r.loggedIn {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.controller.Logout(ctx); err != nil {
		r.logger.Debug().Err(err).Msg("logout failed")
	}
}

func (s *Impl) sendNotification(ctx context.Context, cfg models.TelegramConfig, summary *models.RunSummary) {
	msg := models.TelegramMessage{
		Success:    summary.Error == nil,
		RunID:      summary.RunID,
		Site:       summary.Site,
		DryRun:     summary.DryRun,
		StartTime:  summary.StartTime,
		Duration:   summary.Duration,
		Discovered: summary.Discovered,
		Rebooted:   summary.Count(models.OutcomeSucceeded),
		Simulated:  summary.Count(models.OutcomeDryRunSkipped),
		Failed:     summary.Count(models.OutcomeFailed),
		Cancelled:  summary.Count(models.OutcomeCancelled),
		Aborted:    summary.Count(models.OutcomeAborted),
	}

	for _, res := range summary.Results {
		switch res.Outcome {
		case models.OutcomeFailed:
			msg.FailedDevices = append(msg.FailedDevices, res.Name)
		case models.OutcomeCancelled:
			msg.FailedDevices = append(msg.FailedDevices, res.Name+" (rebooted, not confirmed online)")
		}
	}

	if summary.Error != nil {
		msg.FailedStep = summary.FailedStage
		msg.ErrorMessage = summary.Error.Error()
	}

	// The run context may already be cancelled; the notification still goes out.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}

	result, err := s.telegramSvc.SendNotification(ctx, cfg, msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to send Telegram notification")
		return
	}
	if result.Error != nil {
		s.logger.Error().Err(result.Error).Msg("failed to send Telegram notification")
		return
	}

	s.logger.Info().Msg("Telegram notification sent")
}

// plural formats a count with a noun, e.g. "1 device", "3 devices".
func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
