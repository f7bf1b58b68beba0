package main

import (
	"os"
	"strings"

	"github.com/fgeck/unifi-reboot/internal/config"
	"github.com/fgeck/unifi-reboot/internal/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	verbose    bool
	quiet      bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "unifi-reboot",
	Short: "Reboot UniFi network devices through their controller",
	Long: `unifi-reboot logs in to a UniFi Network controller and reboots the selected
devices (access points by default), waiting for each one to come back online.

Every flag can also be set through a UNIFI_<FLAG> environment variable
(e.g. UNIFI_DRY_RUN=true, UNIFI_TYPES="uap usw"), a .env file, or a YAML
config file passed with --config.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	SilenceUsage: true,
	Version:      Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "optional YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	for _, cmd := range []*cobra.Command{runCmd, devicesCmd, validateCmd} {
		config.RegisterFlags(cmd.Flags())
		rootCmd.AddCommand(cmd)
	}
}

func setupLogging() {
	// Set output format
	if jsonOutput {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set log level
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// loadConfig resolves and validates the configuration for cmd from its
// flags, the environment, an optional .env file and the --config file.
func loadConfig(cmd *cobra.Command) (*models.RebootConfig, error) {
	if path, err := config.LoadDotEnv("."); err != nil {
		log.Warn().Err(err).Msg("failed to load .env file")
	} else if path != "" {
		log.Debug().Str("dotenv", path).Msg("loaded .env file")
	}

	parser := config.NewParser()
	if err := parser.BindFlags(cmd.Flags()); err != nil {
		return nil, err
	}

	if configFile != "" {
		if err := parser.LoadFile(configFile); err != nil {
			log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
			return nil, err
		}
	}

	cfg := parser.Parse()
	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return nil, err
	}

	return cfg, nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
