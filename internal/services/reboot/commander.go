package reboot

import (
	"context"
	"fmt"

	"github.com/fgeck/unifi-reboot/internal/models"
	"github.com/fgeck/unifi-reboot/internal/services/ssh"
)

// Commander issues the reboot command for one device.
type Commander interface {
	Reboot(ctx context.Context, device models.Device) error
}

// ControllerRebooter is the controller call used by ControllerCommander.
type ControllerRebooter interface {
	Reboot(ctx context.Context, site, mac string) error
}

// ControllerCommander reboots devices through the controller API.
type ControllerCommander struct {
	Client ControllerRebooter
	Site   string
}

// Reboot implements Commander.
func (c *ControllerCommander) Reboot(ctx context.Context, device models.Device) error {
	return c.Client.Reboot(ctx, c.Site, device.MAC)
}

// SSHCommander reboots devices by logging into them over SSH.
type SSHCommander struct {
	SSH    ssh.Service
	Config models.SSHConfig
}

// Reboot implements Commander.
func (c *SSHCommander) Reboot(ctx context.Context, device models.Device) error {
	result, err := c.SSH.Reboot(ctx, c.Config, device.IP)
	if err != nil {
		return err
	}
	if result.Error != nil {
		return result.Error
	}
	if !result.CommandRun {
		return fmt.Errorf("reboot command was not run on %s", device.IP)
	}
	return nil
}
