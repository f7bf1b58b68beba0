package models

import "time"

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// TelegramMessage holds the data for a reboot run notification.
type TelegramMessage struct {
	Success   bool
	RunID     string
	Site      string
	DryRun    bool
	StartTime time.Time
	Duration  time.Duration

	// Device stats.
	Discovered    int
	Rebooted      int
	Simulated     int
	Failed        int
	Cancelled     int // rebooted but not confirmed online
	Aborted       int
	FailedDevices []string

	// Error info (if failed).
	ErrorMessage string
	FailedStep   string
}

// TelegramResult holds the result of a Telegram notification.
type TelegramResult struct {
	MessageSent bool
	Error       error
}
