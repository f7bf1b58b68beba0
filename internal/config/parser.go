// Package config provides flag, environment and configuration file parsing.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fgeck/unifi-reboot/internal/inventory"
	"github.com/fgeck/unifi-reboot/internal/models"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. UNIFI_DRY_RUN.
const EnvPrefix = "UNIFI"

// Configuration keys. Each key doubles as the flag name.
const (
	KeyHost             = "host"
	KeyPort             = "port"
	KeyUsername         = "username"
	KeyPassword         = "password"
	KeySite             = "site"
	KeyVerifyTLS        = "verify-tls"
	KeyTypes            = "types"
	KeyAccessPoints     = "access-points"
	KeySecurityGateways = "security-gateways"
	KeySwitches         = "switches"
	KeyDryRun           = "dry-run"
	KeyPollInterval     = "poll-interval"
	KeyTimeout          = "timeout"
	KeyMaxPolls         = "max-polls"
	KeyMaxPollErrors    = "max-poll-errors"
	KeyConcurrency      = "concurrency"
	KeyFailFast         = "fail-fast"
	KeyDryRunDelay      = "dry-run-delay"
	KeyRebootVia        = "reboot-via"
	KeySSHUser          = "ssh-user"
	KeySSHKey           = "ssh-key"
	KeySSHPort          = "ssh-port"
	KeyTelegramToken    = "telegram-token"
	KeyTelegramChat     = "telegram-chat"
)

// Defaults.
const (
	DefaultHost          = "127.0.0.1"
	DefaultPort          = 8443
	DefaultSite          = "default"
	DefaultType          = models.DeviceTypeAccessPoint
	DefaultPollInterval  = 15 * time.Second
	DefaultTimeout       = 10 * time.Minute
	DefaultMaxPollErrors = 3
	DefaultDryRunDelay   = 2 * time.Second
	DefaultSSHUser       = "root"
	DefaultSSHPort       = 22
)

var defaults = map[string]any{
	KeyHost:          DefaultHost,
	KeyPort:          DefaultPort,
	KeySite:          DefaultSite,
	KeyPollInterval:  DefaultPollInterval,
	KeyTimeout:       DefaultTimeout,
	KeyMaxPollErrors: DefaultMaxPollErrors,
	KeyDryRunDelay:   DefaultDryRunDelay,
	KeyRebootVia:     models.RebootViaController,
	KeySSHUser:       DefaultSSHUser,
	KeySSHPort:       DefaultSSHPort,
}

// RegisterFlags defines the controller, selection and reboot flags on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	// Controller
	fs.StringP(KeyHost, "h", DefaultHost, "controller hostname or IP")
	fs.IntP(KeyPort, "P", DefaultPort, "controller port")
	fs.StringP(KeyUsername, "u", "", "controller admin username (required)")
	fs.StringP(KeyPassword, "p", "", "controller admin password (required)")
	fs.StringP(KeySite, "s", DefaultSite, "controller site identifier")
	fs.Bool(KeyVerifyTLS, false, "verify the controller TLS certificate")

	// Selection
	fs.StringSliceP(KeyTypes, "t", nil, "device type tags to reboot (default uap when no type flag is given)")
	fs.Bool(KeyAccessPoints, false, "reboot access points (uap)")
	fs.Bool(KeySecurityGateways, false, "reboot security gateways (ugw)")
	fs.Bool(KeySwitches, false, "reboot switches (usw)")

	// Reboot
	fs.Bool(KeyDryRun, false, "simulate the reboot without touching any device")
	fs.Duration(KeyPollInterval, DefaultPollInterval, "delay between device status polls")
	fs.Duration(KeyTimeout, DefaultTimeout, "max wait per device (0 = no limit)")
	fs.Int(KeyMaxPolls, 0, "max status polls per device (0 = no limit)")
	fs.Int(KeyMaxPollErrors, DefaultMaxPollErrors, "consecutive poll errors tolerated per device")
	fs.Int(KeyConcurrency, 0, "devices rebooted in parallel (0 = all)")
	fs.Bool(KeyFailFast, false, "abort remaining devices on the first failure")
	fs.Duration(KeyDryRunDelay, DefaultDryRunDelay, "simulated reboot duration in dry-run mode")
	fs.String(KeyRebootVia, models.RebootViaController, "reboot transport: controller or ssh")

	// SSH
	fs.String(KeySSHUser, DefaultSSHUser, "SSH username for reboot-via ssh")
	fs.String(KeySSHKey, "", "SSH private key path for reboot-via ssh")
	fs.Int(KeySSHPort, DefaultSSHPort, "SSH port for reboot-via ssh")

	// Notification
	fs.String(KeyTelegramToken, "", "Telegram bot token for the run summary")
	fs.String(KeyTelegramChat, "", "Telegram chat id for the run summary")
}

// Parser resolves the configuration from flags, environment and an optional
// YAML file. Precedence: flag > env > file > default.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	return &Parser{v: v}
}

// BindFlags binds every flag in fs to its configuration key.
func (p *Parser) BindFlags(fs *pflag.FlagSet) error {
	if err := p.v.BindPFlags(fs); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	return nil
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) error {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	return nil
}

// LoadReader loads configuration from a string (useful for testing).
func (p *Parser) LoadReader(content string) error {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	return nil
}

// Parse builds the run configuration from everything loaded so far.
func (p *Parser) Parse() *models.RebootConfig {
	cfg := &models.RebootConfig{
		Controller: models.ControllerConfig{
			Host:      strings.TrimSpace(p.v.GetString(KeyHost)),
			Port:      p.v.GetInt(KeyPort),
			Username:  p.v.GetString(KeyUsername),
			Password:  p.v.GetString(KeyPassword),
			Site:      strings.TrimSpace(p.v.GetString(KeySite)),
			VerifyTLS: p.v.GetBool(KeyVerifyTLS),
		},
		Selection: p.selection(),
		DryRun:    p.v.GetBool(KeyDryRun),
		Reboot: models.RebootSettings{
			Via:           strings.ToLower(strings.TrimSpace(p.v.GetString(KeyRebootVia))),
			PollInterval:  p.v.GetDuration(KeyPollInterval),
			Timeout:       p.v.GetDuration(KeyTimeout),
			MaxPolls:      p.v.GetInt(KeyMaxPolls),
			MaxPollErrors: p.v.GetInt(KeyMaxPollErrors),
			Concurrency:   p.v.GetInt(KeyConcurrency),
			FailFast:      p.v.GetBool(KeyFailFast),
			DryRunDelay:   p.v.GetDuration(KeyDryRunDelay),
		},
	}

	if cfg.Reboot.Via == models.RebootViaSSH {
		cfg.SSH = &models.SSHConfig{
			Port:     p.v.GetInt(KeySSHPort),
			Username: p.v.GetString(KeySSHUser),
			KeyPath:  p.v.GetString(KeySSHKey),
		}
	}

	token, chat := p.v.GetString(KeyTelegramToken), p.v.GetString(KeyTelegramChat)
	if token != "" || chat != "" {
		cfg.Telegram = &models.TelegramConfig{BotToken: token, ChatID: chat}
	}

	return cfg
}

// selection merges --types with the shorthand flags. The default type only
// applies when none of them was given.
func (p *Parser) selection() []string {
	types := p.v.GetStringSlice(KeyTypes)
	explicit := p.v.IsSet(KeyTypes)

	shorthands := []struct {
		key string
		tag string
	}{
		{KeyAccessPoints, models.DeviceTypeAccessPoint},
		{KeySecurityGateways, models.DeviceTypeSecurityGateway},
		{KeySwitches, models.DeviceTypeSwitch},
	}
	for _, s := range shorthands {
		if p.v.GetBool(s.key) {
			types = append(types, s.tag)
			explicit = true
		}
	}

	if !explicit {
		types = []string{DefaultType}
	}
	return inventory.NewSelection(types...).Types()
}

// Validate performs validation on the resolved configuration.
//
//nolint:gocyclo // one check per setting
func Validate(cfg *models.RebootConfig) error {
	if cfg == nil {
		return errors.New("configuration is nil")
	}

	c := cfg.Controller
	if c.Host == "" {
		return errors.New("host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.Port)
	}
	if c.Username == "" {
		return errors.New("username is required")
	}
	if c.Password == "" {
		return errors.New("password is required")
	}
	if c.Site == "" {
		return errors.New("site is required")
	}

	if len(cfg.Selection) == 0 {
		return errors.New("at least one device type must be selected")
	}

	r := cfg.Reboot
	switch r.Via {
	case models.RebootViaController, models.RebootViaSSH:
	default:
		return fmt.Errorf("invalid reboot-via %q: must be %q or %q", r.Via, models.RebootViaController, models.RebootViaSSH)
	}
	if r.PollInterval <= 0 {
		return fmt.Errorf("invalid poll-interval %s: must be positive", r.PollInterval)
	}
	for _, n := range []struct {
		key   string
		value int64
	}{
		{KeyTimeout, int64(r.Timeout)},
		{KeyMaxPolls, int64(r.MaxPolls)},
		{KeyMaxPollErrors, int64(r.MaxPollErrors)},
		{KeyConcurrency, int64(r.Concurrency)},
		{KeyDryRunDelay, int64(r.DryRunDelay)},
	} {
		if n.value < 0 {
			return fmt.Errorf("%s must not be negative", n.key)
		}
	}

	if r.Via == models.RebootViaSSH {
		if cfg.SSH == nil || (cfg.SSH.KeyPath == "" && len(cfg.SSH.PrivateKey) == 0) {
			return fmt.Errorf("%s is required when reboot-via is ssh", KeySSHKey)
		}
		if cfg.SSH.Username == "" {
			return fmt.Errorf("%s is required when reboot-via is ssh", KeySSHUser)
		}
		if cfg.SSH.Port < 1 || cfg.SSH.Port > 65535 {
			return fmt.Errorf("invalid %s %d: must be between 1 and 65535", KeySSHPort, cfg.SSH.Port)
		}
	}

	if cfg.Telegram != nil {
		if cfg.Telegram.BotToken == "" {
			return fmt.Errorf("%s is required when %s is set", KeyTelegramToken, KeyTelegramChat)
		}
		if cfg.Telegram.ChatID == "" {
			return fmt.Errorf("%s is required when %s is set", KeyTelegramChat, KeyTelegramToken)
		}
	}

	return nil
}
