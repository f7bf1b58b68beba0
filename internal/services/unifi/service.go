// Package unifi provides a client for the UniFi controller management API.
package unifi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/fgeck/unifi-reboot/internal/models"
	"github.com/rs/zerolog"
)

// ErrNotLoggedIn is returned by calls made before a successful Login.
var ErrNotLoggedIn = errors.New("not logged in")

// Service defines the interface for controller operations.
type Service interface {
	Login(ctx context.Context, username, password string) error
	Logout(ctx context.Context) error
	Devices(ctx context.Context, site string) ([]models.Device, error)
	Reboot(ctx context.Context, site, mac string) error
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the controller Service interface.
type Impl struct {
	httpClient HTTPClient
	logger     zerolog.Logger
	baseURL    string

	mu      sync.RWMutex
	cookies []*http.Cookie
	csrf    string
}

// New creates a new controller client for the configured host and port.
func New(logger zerolog.Logger, cfg models.ControllerConfig) *Impl {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		InsecureSkipVerify: !cfg.VerifyTLS, //nolint:gosec // controllers ship self-signed certificates
	}

	return &Impl{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
		logger:  logger,
		baseURL: BaseURL(cfg.Host, cfg.Port),
	}
}

// NewWithClient creates a new controller client with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient, baseURL string) *Impl {
	return &Impl{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
	}
}

// BaseURL returns the controller URL for host and port.
func BaseURL(host string, port int) string {
	return "https://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// meta is the status block of every controller response.
type meta struct {
	RC  string `json:"rc"`
	Msg string `json:"msg"`
}

type envelope struct {
	Meta meta            `json:"meta"`
	Data json.RawMessage `json:"data"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type devmgrRequest struct {
	Cmd string `json:"cmd"`
	MAC string `json:"mac"`
}

// Login authenticates and keeps the session cookie for later calls.
func (s *Impl) Login(ctx context.Context, username, password string) error {
	s.logger.Debug().Str("user", username).Str("controller", s.baseURL).Msg("logging in")

	resp, err := s.send(ctx, http.MethodPost, "/api/login", loginRequest{Username: username, Password: password}, false)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if _, err := decode(resp); err != nil {
		return err
	}

	cookies := resp.Cookies()
	if len(cookies) == 0 {
		return fmt.Errorf("controller returned no session cookie")
	}

	s.mu.Lock()
	s.cookies = cookies
	s.csrf = resp.Header.Get("X-Csrf-Token")
	s.mu.Unlock()

	s.logger.Debug().Int("cookies", len(cookies)).Msg("session established")
	return nil
}

// Logout ends the session. Calling it without a session is a no-op.
func (s *Impl) Logout(ctx context.Context) error {
	if !s.loggedIn() {
		return nil
	}

	resp, err := s.send(ctx, http.MethodPost, "/api/logout", struct{}{}, true)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	s.mu.Lock()
	s.cookies = nil
	s.csrf = ""
	s.mu.Unlock()

	_, err = decode(resp)
	return err
}

// Devices returns a fresh snapshot of every device of a site.
func (s *Impl) Devices(ctx context.Context, site string) ([]models.Device, error) {
	resp, err := s.send(ctx, http.MethodGet, "/api/s/"+url.PathEscape(site)+"/stat/device", nil, true)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := decode(resp)
	if err != nil {
		return nil, err
	}

	var devices []models.Device
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &devices); err != nil {
			return nil, fmt.Errorf("failed to decode devices: %w", err)
		}
	}

	s.logger.Debug().Str("site", site).Int("devices", len(devices)).Msg("devices fetched")
	return devices, nil
}

// Reboot asks the controller to restart the device with the given MAC.
func (s *Impl) Reboot(ctx context.Context, site, mac string) error {
	s.logger.Debug().Str("site", site).Str("mac", mac).Msg("sending restart command")

	resp, err := s.send(ctx, http.MethodPost, "/api/s/"+url.PathEscape(site)+"/cmd/devmgr",
		devmgrRequest{Cmd: "restart", MAC: mac}, true)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	_, err = decode(resp)
	return err
}

func (s *Impl) loggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cookies) > 0
}

func (s *Impl) send(ctx context.Context, method, path string, body any, authenticated bool) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if authenticated {
		s.mu.RLock()
		cookies, csrf := s.cookies, s.csrf
		s.mu.RUnlock()

		if len(cookies) == 0 {
			return nil, ErrNotLoggedIn
		}
		for _, c := range cookies {
			req.AddCookie(c)
		}
		if csrf != "" {
			req.Header.Set("X-Csrf-Token", csrf)
		}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return resp, nil
}

// decode checks the HTTP status and the meta block and returns the data field.
func decode(resp *http.Response) (json.RawMessage, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	jsonErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if jsonErr == nil && env.Meta.Msg != "" {
			return nil, fmt.Errorf("controller returned status %d: %s", resp.StatusCode, env.Meta.Msg)
		}
		return nil, fmt.Errorf("controller returned status %d", resp.StatusCode)
	}
	if jsonErr != nil {
		return nil, fmt.Errorf("failed to decode response: %w", jsonErr)
	}
	if env.Meta.RC != "ok" {
		msg := env.Meta.Msg
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("controller rejected request: %s", msg)
	}

	return env.Data, nil
}
