package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/fgeck/unifi-reboot/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the devices a run would reboot",
	Long:  `Log in to the controller and list the selected devices without rebooting anything.`,
	RunE:  listDevices,
}

func listDevices(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	events, wait := startProgress(cmd.ErrOrStderr())
	devices, err := runner.New(log.Logger, cfg.Controller).ListDevices(ctx, *cfg, events)
	close(events)
	wait()

	if err != nil {
		log.Error().Err(err).Msg("failed to list devices")
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tMAC\tTYPE\tMODEL\tIP\tSTATE")
	for _, d := range devices {
		state := "offline"
		if d.Online() {
			state = "online"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", d.DisplayName(), d.MAC, d.Type, d.Model, d.IP, state)
	}
	return w.Flush()
}
