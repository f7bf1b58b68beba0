package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/fgeck/unifi-reboot/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock implementations.
type mockController struct {
	mu          sync.Mutex
	loginCalls  int
	logoutCalls int
	deviceCalls int
	rebooted    []string

	loginFunc   func(ctx context.Context, username, password string) error
	devicesFunc func(ctx context.Context, site string) ([]models.Device, error)
	rebootFunc  func(ctx context.Context, site, mac string) error
}

func (m *mockController) Login(ctx context.Context, username, password string) error {
	m.mu.Lock()
	m.loginCalls++
	m.mu.Unlock()
	if m.loginFunc != nil {
		return m.loginFunc(ctx, username, password)
	}
	return nil
}

func (m *mockController) Logout(ctx context.Context) error {
	m.mu.Lock()
	m.logoutCalls++
	m.mu.Unlock()
	return nil
}

func (m *mockController) Devices(ctx context.Context, site string) ([]models.Device, error) {
	m.mu.Lock()
	m.deviceCalls++
	m.mu.Unlock()
	if m.devicesFunc != nil {
		return m.devicesFunc(ctx, site)
	}
	return fleet(), nil
}

func (m *mockController) Reboot(ctx context.Context, site, mac string) error {
	m.mu.Lock()
	m.rebooted = append(m.rebooted, mac)
	m.mu.Unlock()
	if m.rebootFunc != nil {
		return m.rebootFunc(ctx, site, mac)
	}
	return nil
}

func (m *mockController) counts() (login, devices, reboots int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loginCalls, m.deviceCalls, len(m.rebooted)
}

type mockSSHService struct {
	mu    sync.Mutex
	hosts []string
}

func (m *mockSSHService) Reboot(ctx context.Context, cfg models.SSHConfig, host string) (*models.SSHResult, error) {
	m.mu.Lock()
	m.hosts = append(m.hosts, host)
	m.mu.Unlock()
	return &models.SSHResult{CommandRun: true}, nil
}

type mockTelegramService struct {
	sendFunc func(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error)
}

func (m *mockTelegramService) SendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error) {
	if m.sendFunc != nil {
		return m.sendFunc(ctx, cfg, msg)
	}
	return &models.TelegramResult{MessageSent: true}, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// fleet returns 3 online access points and 2 online switches.
func fleet() []models.Device {
	return []models.Device{
		{MAC: "aa:00:00:00:00:01", Name: "ap-kitchen", Type: "uap", IP: "10.0.0.11", State: 1},
		{MAC: "aa:00:00:00:00:02", Name: "sw-core", Type: "usw", IP: "10.0.0.2", State: 1},
		{MAC: "aa:00:00:00:00:03", Name: "ap-office", Type: "uap", IP: "10.0.0.12", State: 1},
		{MAC: "aa:00:00:00:00:04", Name: "sw-garage", Type: "usw", IP: "10.0.0.3", State: 1},
		{MAC: "aa:00:00:00:00:05", Name: "ap-garden", Type: "uap", IP: "10.0.0.13", State: 1},
	}
}

func accessPoints(n int) []models.Device {
	out := make([]models.Device, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, models.Device{
			MAC:   fmt.Sprintf("bb:00:00:00:00:%02d", i),
			Name:  fmt.Sprintf("ap-%d", i),
			Type:  "uap",
			State: 1,
		})
	}
	return out
}

func minimalConfig() models.RebootConfig {
	return models.RebootConfig{
		Controller: models.ControllerConfig{
			Host:     "127.0.0.1",
			Port:     8443,
			Username: "admin",
			Password: "secret",
			Site:     "default",
		},
		Selection: []string{"uap"},
		Reboot: models.RebootSettings{
			Via:           models.RebootViaController,
			PollInterval:  time.Millisecond,
			Timeout:       5 * time.Second,
			MaxPollErrors: 3,
			DryRunDelay:   time.Millisecond,
		},
	}
}

// runCollect runs the workflow and returns every progress event.
func runCollect(t *testing.T, svc *Impl, cfg models.RebootConfig) (*models.RunSummary, []models.ProgressEvent, error) {
	t.Helper()
	events := make(chan models.ProgressEvent, 16)
	done := make(chan []models.ProgressEvent)
	go func() {
		var got []models.ProgressEvent
		for e := range events {
			got = append(got, e)
		}
		done <- got
	}()

	summary, err := svc.Run(context.Background(), cfg, events)
	close(events)
	return summary, <-done, err
}

func stageTitles(events []models.ProgressEvent, stage string) []string {
	var out []string
	for _, e := range events {
		if e.Stage == stage && e.Task == "" {
			out = append(out, e.Title)
		}
	}
	return out
}

func TestRun_Success_RebootsSelectedDevices(t *testing.T) {
	controller := &mockController{}
	svc := NewWithServices(testLogger(), controller, &mockSSHService{}, &mockTelegramService{})

	summary, events, err := runCollect(t, svc, minimalConfig())

	require.NoError(t, err)
	assert.Equal(t, 3, summary.Discovered)
	assert.Equal(t, 3, summary.Count(models.OutcomeSucceeded))
	assert.NotEmpty(t, summary.RunID)
	assert.ElementsMatch(t, []string{"aa:00:00:00:00:01", "aa:00:00:00:00:03", "aa:00:00:00:00:05"}, controller.rebooted)

	assert.Contains(t, stageTitles(events, models.StageLogin), "Logged in")
	assert.Contains(t, stageTitles(events, models.StageLoadInventory), "3 devices discovered")
	assert.Contains(t, stageTitles(events, models.StageRebootAll), "Rebooted 3 devices")

	// Results keep controller order.
	require.Len(t, summary.Results, 3)
	assert.Equal(t, "ap-kitchen", summary.Results[0].Name)
	assert.Equal(t, "ap-office", summary.Results[1].Name)
	assert.Equal(t, "ap-garden", summary.Results[2].Name)
	assert.Equal(t, 1, controller.logoutCalls)
}

func TestRun_LoginFailure_NoFurtherCalls(t *testing.T) {
	controller := &mockController{
		loginFunc: func(ctx context.Context, username, password string) error {
			return errors.New("api.err.Invalid")
		},
	}
	svc := NewWithServices(testLogger(), controller, &mockSSHService{}, &mockTelegramService{})

	summary, events, err := runCollect(t, svc, minimalConfig())

	require.Error(t, err)
	var authErr *models.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "admin", authErr.Username)
	assert.Equal(t, models.StageLogin, summary.FailedStage)

	login, devices, reboots := controller.counts()
	assert.Equal(t, 1, login)
	assert.Equal(t, 0, devices)
	assert.Equal(t, 0, reboots)
	assert.Equal(t, 0, controller.logoutCalls)

	for _, e := range events {
		if e.Stage != models.StageLogin {
			assert.Equal(t, models.StatusSkipped, e.Status)
		}
	}
}

func TestRun_InventoryFailure(t *testing.T) {
	controller := &mockController{
		devicesFunc: func(ctx context.Context, site string) ([]models.Device, error) {
			return nil, errors.New("status 500")
		},
	}
	svc := NewWithServices(testLogger(), controller, &mockSSHService{}, &mockTelegramService{})

	summary, _, err := runCollect(t, svc, minimalConfig())

	var invErr *models.InventoryFetchError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, "default", invErr.Site)
	assert.Equal(t, models.StageLoadInventory, summary.FailedStage)
	_, _, reboots := controller.counts()
	assert.Equal(t, 0, reboots)
	assert.Equal(t, 1, controller.logoutCalls)
}

func TestRun_DryRun_NoRebootCommands(t *testing.T) {
	controller := &mockController{}
	svc := NewWithServices(testLogger(), controller, &mockSSHService{}, &mockTelegramService{})

	cfg := minimalConfig()
	cfg.DryRun = true

	summary, events, err := runCollect(t, svc, cfg)

	require.NoError(t, err)
	_, devices, reboots := controller.counts()
	assert.Equal(t, 0, reboots)
	assert.Equal(t, 1, devices, "only the inventory fetch, no polling")
	assert.Equal(t, 3, summary.Count(models.OutcomeDryRunSkipped))
	assert.Contains(t, stageTitles(events, models.StageRebootAll), "Simulated reboot of 3 devices")
}

func TestRun_OneOfFiveFails_OthersComplete(t *testing.T) {
	devices := accessPoints(5)
	controller := &mockController{
		devicesFunc: func(ctx context.Context, site string) ([]models.Device, error) {
			return devices, nil
		},
		rebootFunc: func(ctx context.Context, site, mac string) error {
			if mac == "bb:00:00:00:00:03" {
				return errors.New("api.err.DeviceBusy")
			}
			return nil
		},
	}
	svc := NewWithServices(testLogger(), controller, &mockSSHService{}, &mockTelegramService{})

	summary, events, err := runCollect(t, svc, minimalConfig())

	require.Error(t, err)
	var cmdErr *models.RebootCommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "bb:00:00:00:00:03", cmdErr.MAC)
	assert.Contains(t, err.Error(), "1 of 5 devices failed to reboot")
	assert.Contains(t, err.Error(), "ap-3")

	assert.Equal(t, 4, summary.Count(models.OutcomeSucceeded))
	assert.Equal(t, 1, summary.Count(models.OutcomeFailed))
	assert.Equal(t, models.StageRebootAll, summary.FailedStage)
	assert.Contains(t, stageTitles(events, models.StageRebootAll), "Rebooted 4 of 5 devices")
}

func TestRun_FailFast_AbortsDevicesNotStarted(t *testing.T) {
	devices := accessPoints(5)
	controller := &mockController{
		devicesFunc: func(ctx context.Context, site string) ([]models.Device, error) {
			return devices, nil
		},
		rebootFunc: func(ctx context.Context, site, mac string) error {
			if mac == "bb:00:00:00:00:02" {
				return errors.New("api.err.DeviceBusy")
			}
			return nil
		},
	}
	svc := NewWithServices(testLogger(), controller, &mockSSHService{}, &mockTelegramService{})

	cfg := minimalConfig()
	cfg.Reboot.FailFast = true
	cfg.Reboot.Concurrency = 1

	summary, _, err := runCollect(t, svc, cfg)

	require.Error(t, err)
	assert.Equal(t, []string{"bb:00:00:00:00:01", "bb:00:00:00:00:02"}, controller.rebooted)
	require.Len(t, summary.Results, 5)
	assert.Equal(t, models.OutcomeSucceeded, summary.Results[0].Outcome)
	assert.Equal(t, models.OutcomeFailed, summary.Results[1].Outcome)
	for _, res := range summary.Results[2:] {
		assert.Equal(t, models.OutcomeAborted, res.Outcome, res.Name)
	}
	assert.Contains(t, err.Error(), "1 of 5 devices failed to reboot, 3 aborted")
}

func TestRun_FailFast_InFlightDevicesAreCancelledNotAborted(t *testing.T) {
	offline := accessPoints(3)
	for i := range offline {
		offline[i].State = 0
	}
	controller := &mockController{
		devicesFunc: func(ctx context.Context, site string) ([]models.Device, error) {
			return offline, nil
		},
		rebootFunc: func(ctx context.Context, site, mac string) error {
			if mac == "bb:00:00:00:00:02" {
				time.Sleep(20 * time.Millisecond)
				return errors.New("api.err.DeviceBusy")
			}
			return nil
		},
	}
	var sent models.TelegramMessage
	telegramSvc := &mockTelegramService{
		sendFunc: func(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error) {
			sent = msg
			return &models.TelegramResult{MessageSent: true}, nil
		},
	}
	svc := NewWithServices(testLogger(), controller, &mockSSHService{}, telegramSvc)

	cfg := minimalConfig()
	cfg.Reboot.FailFast = true
	cfg.Reboot.Concurrency = 0
	cfg.Telegram = &models.TelegramConfig{BotToken: "123:ABC", ChatID: "-100"}

	summary, _, err := runCollect(t, svc, cfg)

	require.Error(t, err)
	assert.ElementsMatch(t, []string{"bb:00:00:00:00:01", "bb:00:00:00:00:02", "bb:00:00:00:00:03"}, controller.rebooted)
	assert.Contains(t, err.Error(), "1 of 3 devices failed to reboot, 2 cancelled while waiting")
	assert.NotContains(t, err.Error(), "aborted")

	require.Len(t, summary.Results, 3)
	assert.Equal(t, models.OutcomeFailed, summary.Results[1].Outcome)
	for _, i := range []int{0, 2} {
		res := summary.Results[i]
		assert.Equal(t, models.OutcomeCancelled, res.Outcome, res.Name)
		assert.True(t, res.Commanded, res.Name)
		assert.Positive(t, res.Polls, res.Name)
		assert.Contains(t, res.Error.Error(), "cancelled while waiting for the device to come back online")
	}
	assert.Equal(t, 0, summary.Count(models.OutcomeAborted))

	assert.Equal(t, 1, sent.Failed)
	assert.Equal(t, 2, sent.Cancelled)
	assert.Equal(t, 0, sent.Aborted)
	assert.ElementsMatch(t, []string{
		"ap-1 (rebooted, not confirmed online)",
		"ap-2",
		"ap-3 (rebooted, not confirmed online)",
	}, sent.FailedDevices)
}

func TestRun_WarnsOnUnboundedWait(t *testing.T) {
	var buf bytes.Buffer
	svc := NewWithServices(zerolog.New(&buf), &mockController{}, &mockSSHService{}, &mockTelegramService{})

	cfg := minimalConfig()
	cfg.Reboot.Timeout = 0
	cfg.Reboot.MaxPolls = 0

	_, _, err := runCollect(t, svc, cfg)

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "no timeout or poll limit set")
}

func TestRun_EmptySelection(t *testing.T) {
	controller := &mockController{}
	svc := NewWithServices(testLogger(), controller, &mockSSHService{}, &mockTelegramService{})

	cfg := minimalConfig()
	cfg.Selection = []string{" , "}

	summary, _, err := runCollect(t, svc, cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no device types selected")
	assert.Equal(t, models.StageLoadInventory, summary.FailedStage)
	_, devices, _ := controller.counts()
	assert.Equal(t, 0, devices)
}

func TestRun_ZeroSelectedDevices(t *testing.T) {
	controller := &mockController{}
	svc := NewWithServices(testLogger(), controller, &mockSSHService{}, &mockTelegramService{})

	cfg := minimalConfig()
	cfg.Selection = []string{"ugw"}

	summary, events, err := runCollect(t, svc, cfg)

	require.NoError(t, err)
	assert.Equal(t, 0, summary.Discovered)
	assert.Contains(t, stageTitles(events, models.StageLoadInventory), "0 devices discovered")
	assert.Contains(t, stageTitles(events, models.StageRebootAll), "No devices to reboot")
}

func TestRun_SingleDeviceTitle(t *testing.T) {
	controller := &mockController{
		devicesFunc: func(ctx context.Context, site string) ([]models.Device, error) {
			return accessPoints(1), nil
		},
	}
	svc := NewWithServices(testLogger(), controller, &mockSSHService{}, &mockTelegramService{})

	_, events, err := runCollect(t, svc, minimalConfig())

	require.NoError(t, err)
	assert.Contains(t, stageTitles(events, models.StageLoadInventory), "1 device discovered")
	assert.Contains(t, stageTitles(events, models.StageRebootAll), "Rebooted 1 device")
}

func TestRun_TaskEventsPerDevice(t *testing.T) {
	svc := NewWithServices(testLogger(), &mockController{}, &mockSSHService{}, &mockTelegramService{})

	_, events, err := runCollect(t, svc, minimalConfig())

	require.NoError(t, err)
	perTask := map[string][]models.EventStatus{}
	for _, e := range events {
		if e.Task != "" {
			assert.Equal(t, models.StageRebootAll, e.Stage)
			perTask[e.Task] = append(perTask[e.Task], e.Status)
		}
	}
	require.Len(t, perTask, 3)
	for mac, statuses := range perTask {
		assert.Equal(t, models.StatusPending, statuses[0], mac)
		assert.Equal(t, models.StatusSucceeded, statuses[len(statuses)-1], mac)
	}
}

func TestRun_RebootViaSSH(t *testing.T) {
	controller := &mockController{}
	sshSvc := &mockSSHService{}
	svc := NewWithServices(testLogger(), controller, sshSvc, &mockTelegramService{})

	cfg := minimalConfig()
	cfg.Reboot.Via = models.RebootViaSSH
	cfg.SSH = &models.SSHConfig{Port: 22, Username: "admin", PrivateKey: []byte("key")}

	_, _, err := runCollect(t, svc, cfg)

	require.NoError(t, err)
	assert.Empty(t, controller.rebooted)
	assert.ElementsMatch(t, []string{"10.0.0.11", "10.0.0.12", "10.0.0.13"}, sshSvc.hosts)
}

func TestRun_RebootViaSSH_MissingKeyFile(t *testing.T) {
	sshSvc := &mockSSHService{}
	svc := NewWithServices(testLogger(), &mockController{}, sshSvc, &mockTelegramService{})

	cfg := minimalConfig()
	cfg.Reboot.Via = models.RebootViaSSH
	cfg.SSH = &models.SSHConfig{Port: 22, Username: "admin", KeyPath: "/nonexistent/id_ed25519"}

	_, _, err := runCollect(t, svc, cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read SSH key")
	assert.Empty(t, sshSvc.hosts)
}

func TestRun_WithTelegram_Success(t *testing.T) {
	var sent models.TelegramMessage
	telegramSvc := &mockTelegramService{
		sendFunc: func(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error) {
			sent = msg
			return &models.TelegramResult{MessageSent: true}, nil
		},
	}
	svc := NewWithServices(testLogger(), &mockController{}, &mockSSHService{}, telegramSvc)

	cfg := minimalConfig()
	cfg.Telegram = &models.TelegramConfig{BotToken: "123:ABC", ChatID: "-100"}

	summary, _, err := runCollect(t, svc, cfg)

	require.NoError(t, err)
	assert.True(t, sent.Success)
	assert.Equal(t, summary.RunID, sent.RunID)
	assert.Equal(t, 3, sent.Discovered)
	assert.Equal(t, 3, sent.Rebooted)
	assert.Empty(t, sent.FailedStep)
}

func TestRun_WithTelegram_Failure(t *testing.T) {
	var sent models.TelegramMessage
	telegramSvc := &mockTelegramService{
		sendFunc: func(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error) {
			sent = msg
			return &models.TelegramResult{Error: errors.New("telegram down")}, nil
		},
	}
	controller := &mockController{
		rebootFunc: func(ctx context.Context, site, mac string) error {
			if mac == "aa:00:00:00:00:03" {
				return errors.New("rejected")
			}
			return nil
		},
	}
	svc := NewWithServices(testLogger(), controller, &mockSSHService{}, telegramSvc)

	cfg := minimalConfig()
	cfg.Telegram = &models.TelegramConfig{BotToken: "123:ABC", ChatID: "-100"}

	_, _, err := runCollect(t, svc, cfg)

	require.Error(t, err)
	assert.False(t, sent.Success)
	assert.Equal(t, models.StageRebootAll, sent.FailedStep)
	assert.Equal(t, 2, sent.Rebooted)
	assert.Equal(t, 1, sent.Failed)
	assert.Equal(t, []string{"ap-office"}, sent.FailedDevices)
	assert.Contains(t, sent.ErrorMessage, "rejected")
}

func TestRun_ContextCancelled(t *testing.T) {
	controller := &mockController{
		devicesFunc: func(ctx context.Context, site string) ([]models.Device, error) {
			d := fleet()
			d[0].State = 0
			d[2].State = 0
			d[4].State = 0
			return d, nil
		},
	}
	svc := NewWithServices(testLogger(), controller, &mockSSHService{}, &mockTelegramService{})

	cfg := minimalConfig()
	cfg.Reboot.Timeout = 0

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	summary, err := svc.Run(ctx, cfg, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 3, summary.Count(models.OutcomeFailed))
}

func TestListDevices(t *testing.T) {
	controller := &mockController{}
	svc := NewWithServices(testLogger(), controller, &mockSSHService{}, &mockTelegramService{})

	cfg := minimalConfig()
	cfg.Selection = []string{"usw"}

	devices, err := svc.ListDevices(context.Background(), cfg, nil)

	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "sw-core", devices[0].Name)
	assert.Equal(t, "sw-garage", devices[1].Name)
	_, _, reboots := controller.counts()
	assert.Equal(t, 0, reboots)
	assert.Equal(t, 1, controller.logoutCalls)
}

func TestPlural(t *testing.T) {
	assert.Equal(t, "0 devices", plural(0, "device"))
	assert.Equal(t, "1 device", plural(1, "device"))
	assert.Equal(t, "3 devices", plural(3, "device"))
}
