package main

import (
	"fmt"
	"strings"

	"github.com/fgeck/unifi-reboot/internal/models"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Resolve flags, environment and config file, validate the result and print a summary without contacting the controller.`,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprint(out, summarize(cfg))
	return nil
}

func summarize(cfg *models.RebootConfig) string {
	var b strings.Builder

	b.WriteString("Configuration is valid!\n\n")
	b.WriteString("Controller:\n")
	fmt.Fprintf(&b, "  Host: %s\n", cfg.Controller.Host)
	fmt.Fprintf(&b, "  Port: %d\n", cfg.Controller.Port)
	fmt.Fprintf(&b, "  Username: %s\n", cfg.Controller.Username)
	fmt.Fprintf(&b, "  Site: %s\n", cfg.Controller.Site)
	fmt.Fprintf(&b, "  Verify TLS: %v\n", cfg.Controller.VerifyTLS)
	b.WriteString("\nSelection:\n")
	fmt.Fprintf(&b, "  Types: %s\n", strings.Join(cfg.Selection, ", "))
	fmt.Fprintf(&b, "  Dry run: %v\n", cfg.DryRun)

	r := cfg.Reboot
	b.WriteString("\nReboot:\n")
	fmt.Fprintf(&b, "  Via: %s\n", r.Via)
	fmt.Fprintf(&b, "  Poll interval: %s\n", r.PollInterval)
	fmt.Fprintf(&b, "  Timeout: %s\n", limit(r.Timeout.String(), r.Timeout == 0))
	fmt.Fprintf(&b, "  Max polls: %s\n", limit(fmt.Sprint(r.MaxPolls), r.MaxPolls == 0))
	fmt.Fprintf(&b, "  Max poll errors: %d\n", r.MaxPollErrors)
	fmt.Fprintf(&b, "  Concurrency: %s\n", limit(fmt.Sprint(r.Concurrency), r.Concurrency == 0))
	fmt.Fprintf(&b, "  Fail fast: %v\n", r.FailFast)
	if cfg.DryRun {
		fmt.Fprintf(&b, "  Dry run delay: %s\n", r.DryRunDelay)
	}

	b.WriteString("\nOptional Features:\n")
	fmt.Fprintf(&b, "  SSH: %v\n", cfg.SSH != nil)
	fmt.Fprintf(&b, "  Telegram: %v\n", cfg.Telegram != nil)

	if cfg.SSH != nil {
		b.WriteString("\nSSH Configuration:\n")
		fmt.Fprintf(&b, "  Username: %s\n", cfg.SSH.Username)
		fmt.Fprintf(&b, "  Port: %d\n", cfg.SSH.Port)
		fmt.Fprintf(&b, "  Key: %s\n", cfg.SSH.KeyPath)
	}

	if cfg.Telegram != nil {
		b.WriteString("\nTelegram Configuration:\n")
		fmt.Fprintf(&b, "  Chat ID: %s\n", cfg.Telegram.ChatID)
		b.WriteString("  Bot Token: (configured)\n")
	}

	return b.String()
}

func limit(value string, unbounded bool) string {
	if unbounded {
		return "unlimited"
	}
	return value
}
