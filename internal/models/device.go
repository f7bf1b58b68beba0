package models

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Device type tags as reported by the controller.
const (
	DeviceTypeAccessPoint     = "uap"
	DeviceTypeSecurityGateway = "ugw"
	DeviceTypeSwitch          = "usw"
)

// StateOnline is the controller state code of a connected device.
const StateOnline = 1

// Device is one controller-managed network device as seen in a single
// inventory snapshot.
type Device struct {
	ID    string    `json:"_id"`
	MAC   string    `json:"mac"`
	Name  string    `json:"name"`
	Type  string    `json:"type"`
	Model string    `json:"model"`
	IP    string    `json:"ip"`
	State StateCode `json:"state"`
}

// Online reports whether the device is connected to the controller.
func (d Device) Online() bool {
	return int(d.State) == StateOnline
}

// DisplayName returns the device name, or its MAC when unnamed.
func (d Device) DisplayName() string {
	if strings.TrimSpace(d.Name) != "" {
		return d.Name
	}
	return d.MAC
}

// StateCode is the integer device state. Some controller versions send it as
// a string, so both encodings are accepted.
type StateCode int

// UnmarshalJSON implements json.Unmarshaler.
func (s *StateCode) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*s = StateCode(n)
		return nil
	}

	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	n, err := strconv.Atoi(strings.TrimSpace(str))
	if err != nil {
		// Unparseable states are never "online".
		*s = StateCode(-1)
		return nil //nolint:nilerr // unknown state is not a decode failure
	}
	*s = StateCode(n)
	return nil
}
