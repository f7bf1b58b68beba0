// Package inventory narrows a controller device list down to the devices
// selected for a run.
package inventory

import (
	"sort"
	"strings"

	"github.com/fgeck/unifi-reboot/internal/models"
)

// Selection is an immutable set of device type tags.
type Selection struct {
	types map[string]struct{}
}

// NewSelection builds a selection from type tags. Each argument may itself be
// a whitespace or comma delimited list ("uap usw").
func NewSelection(types ...string) Selection {
	s := Selection{types: make(map[string]struct{})}
	for _, t := range types {
		for _, tag := range strings.FieldsFunc(t, isSeparator) {
			s.types[strings.ToLower(tag)] = struct{}{}
		}
	}
	return s
}

func isSeparator(r rune) bool {
	return r == ',' || r == ' ' || r == '\t' || r == '\n'
}

// Contains reports whether the device type tag is selected.
func (s Selection) Contains(deviceType string) bool {
	_, ok := s.types[strings.ToLower(strings.TrimSpace(deviceType))]
	return ok
}

// Empty reports whether no type is selected.
func (s Selection) Empty() bool {
	return len(s.types) == 0
}

// Types returns the selected tags in sorted order.
func (s Selection) Types() []string {
	out := make([]string, 0, len(s.types))
	for t := range s.types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Filter returns the devices whose type is selected, in their original order.
// A MAC seen twice in the snapshot keeps its first occurrence.
func Filter(devices []models.Device, sel Selection) []models.Device {
	out := make([]models.Device, 0, len(devices))
	seen := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		if !sel.Contains(d.Type) {
			continue
		}
		key := normalizeMAC(d.MAC)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, d)
	}
	return out
}

// Index maps each device of a snapshot by MAC. Lookups with Find are
// case-insensitive.
type Index map[string]models.Device

// NewIndex builds an Index from a snapshot.
func NewIndex(devices []models.Device) Index {
	idx := make(Index, len(devices))
	for _, d := range devices {
		key := normalizeMAC(d.MAC)
		if _, ok := idx[key]; !ok {
			idx[key] = d
		}
	}
	return idx
}

// Find returns the device with the given MAC.
func (idx Index) Find(mac string) (models.Device, bool) {
	d, ok := idx[normalizeMAC(mac)]
	return d, ok
}

func normalizeMAC(mac string) string {
	return strings.ToLower(strings.TrimSpace(mac))
}
