// Package models contains the data structures used throughout unifi-reboot.
package models

import "time"

// Reboot transports.
const (
	RebootViaController = "controller"
	RebootViaSSH        = "ssh"
)

// RebootConfig holds the complete configuration for a reboot run.
type RebootConfig struct {
	Controller ControllerConfig
	Selection  []string // device type tags, never empty after validation
	DryRun     bool
	Reboot     RebootSettings
	SSH        *SSHConfig      // nil unless Reboot.Via is "ssh"
	Telegram   *TelegramConfig // nil if not configured
}

// ControllerConfig holds the controller connection settings.
type ControllerConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	Site      string
	VerifyTLS bool
}

// RebootSettings controls how each device is rebooted and confirmed.
type RebootSettings struct {
	Via           string        // "controller" (default) or "ssh"
	PollInterval  time.Duration // delay between status polls
	Timeout       time.Duration // max wait per device, 0 = no limit
	MaxPolls      int           // max polls per device, 0 = no limit
	MaxPollErrors int           // consecutive poll errors tolerated
	Concurrency   int           // parallel device tasks, 0 = all at once
	FailFast      bool          // abort devices not yet started on first failure
	DryRunDelay   time.Duration // simulated reboot duration
}

// Unbounded reports whether the per-device wait has no limit at all.
func (s RebootSettings) Unbounded() bool {
	return s.Timeout == 0 && s.MaxPolls == 0
}
