package models

import (
	"fmt"
	"time"
)

// AuthenticationError is returned when the controller rejects the login.
type AuthenticationError struct {
	Username string
	Err      error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("login as %q failed: %v", e.Username, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// InventoryFetchError is returned when the device list cannot be loaded.
type InventoryFetchError struct {
	Site string
	Err  error
}

func (e *InventoryFetchError) Error() string {
	return fmt.Sprintf("loading devices of site %q failed: %v", e.Site, e.Err)
}

func (e *InventoryFetchError) Unwrap() error { return e.Err }

// RebootCommandError is returned when a reboot request for one device is
// rejected.
type RebootCommandError struct {
	MAC  string
	Name string
	Err  error
}

func (e *RebootCommandError) Error() string {
	return fmt.Sprintf("reboot of %s (%s) rejected: %v", e.Name, e.MAC, e.Err)
}

func (e *RebootCommandError) Unwrap() error { return e.Err }

// PollFetchError is returned once status polling for a device has failed more
// often in a row than allowed.
type PollFetchError struct {
	MAC      string
	Attempts int
	Err      error
}

func (e *PollFetchError) Error() string {
	return fmt.Sprintf("status of %s unavailable after %d attempt(s): %v", e.MAC, e.Attempts, e.Err)
}

func (e *PollFetchError) Unwrap() error { return e.Err }

// RebootTimeoutError is returned when a device did not come back online
// within the configured wait.
type RebootTimeoutError struct {
	MAC     string
	Polls   int
	Elapsed time.Duration
}

func (e *RebootTimeoutError) Error() string {
	return fmt.Sprintf("%s not back online after %d poll(s) in %s", e.MAC, e.Polls, e.Elapsed.Round(time.Second))
}
