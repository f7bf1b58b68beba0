package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/fgeck/unifi-reboot/internal/models"
	"github.com/fgeck/unifi-reboot/internal/progress"
	"github.com/fgeck/unifi-reboot/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reboot the selected devices",
	Long: `Execute the complete reboot workflow:
1. Log in to the controller
2. Load the device inventory and keep the selected device types
3. Reboot every selected device and wait until it is back online
4. Send a Telegram summary (if configured)

With --dry-run no reboot command is sent; each device is reported after
--dry-run-delay instead.`,
	RunE: runReboot,
}

func runReboot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log.Info().
		Str("host", cfg.Controller.Host).
		Int("port", cfg.Controller.Port).
		Str("site", cfg.Controller.Site).
		Strs("types", cfg.Selection).
		Bool("dry_run", cfg.DryRun).
		Str("via", cfg.Reboot.Via).
		Msg("configuration loaded")

	ctx, cancel := signalContext()
	defer cancel()

	events, wait := startProgress(cmd.OutOrStdout())
	summary, err := runner.New(log.Logger, cfg.Controller).Run(ctx, *cfg, events)
	close(events)
	wait()

	if err != nil {
		log.Error().Err(err).Msg("reboot run failed")
		return err
	}

	log.Info().
		Str("run_id", summary.RunID).
		Int("rebooted", summary.Count(models.OutcomeSucceeded)).
		Int("simulated", summary.Count(models.OutcomeDryRunSkipped)).
		Dur("duration", summary.Duration).
		Msg("reboot run completed successfully")

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Done")
	return nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

// startProgress starts the goroutine draining progress events. The caller
// closes the returned channel and then calls wait.
func startProgress(out io.Writer) (chan<- models.ProgressEvent, func()) {
	events := make(chan models.ProgressEvent, 64)
	done := make(chan struct{})

	go func() {
		defer close(done)
		if jsonOutput {
			progress.Log(log.Logger, events)
			return
		}
		progress.NewRenderer(out, color.NoColor).Run(events)
	}()

	return events, func() { <-done }
}
