// Package device maps logical input device kinds to evdev event numbers.
package device

import (
	"encoding/json"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"
)

// Kind classifies an input device.
type Kind int

const (
	KindNone Kind = iota
	KindKeyboard
	KindMouse
	KindTouchscreen
	KindTrackpad
)

// String returns the display name used in verbose device dumps.
func (k Kind) String() string {
	switch k {
	case KindKeyboard:
		return "Keyboard"
	case KindMouse:
		return "Mouse"
	case KindTouchscreen:
		return "Touch"
	case KindTrackpad:
		return "Trackpad"
	}
	return "Unknown"
}

// MarshalJSON encodes the kind as its lower-case selector name.
func (k Kind) MarshalJSON() ([]byte, error) {
	switch k {
	case KindKeyboard:
		return json.Marshal("keyboard")
	case KindMouse:
		return json.Marshal("mouse")
	case KindTouchscreen:
		return json.Marshal("touchscreen")
	case KindTrackpad:
		return json.Marshal("trackpad")
	}
	return json.Marshal("none")
}

// UnmarshalJSON accepts the lower-case selector names.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "keyboard":
		*k = KindKeyboard
	case "mouse":
		*k = KindMouse
	case "touchscreen":
		*k = KindTouchscreen
	case "trackpad":
		*k = KindTrackpad
	default:
		return fmt.Errorf("unknown device kind %q", name)
	}
	return nil
}

// Mapping ties one event device to its kind. Relevance ranks devices of the
// same kind in discovery order, starting at 1.
type Mapping struct {
	EventNumber int  `json:"event_number"`
	Relevance   int  `json:"relevance"`
	Kind        Kind `json:"device_kind"`
}

// List is the device mapping table, sorted by (event_number, relevance).
type List []Mapping

// Sort orders the table by (event_number, relevance) ascending.
func (l List) Sort() {
	sort.Slice(l, func(i, j int) bool {
		if l[i].EventNumber != l[j].EventNumber {
			return l[i].EventNumber < l[j].EventNumber
		}
		return l[i].Relevance < l[j].Relevance
	})
}

// EventIDFor returns the event number of the first entry of the given kind,
// or -1 when the table has none.
func (l List) EventIDFor(kind Kind) int {
	for _, mapping := range l {
		if mapping.Kind == kind {
			return mapping.EventNumber
		}
	}
	return -1
}

// Log prints one line per mapped device.
func (l List) Log() {
	for _, mapping := range l {
		log.Infof("'%s' event on id '%d'", mapping.Kind, mapping.EventNumber)
	}
}

// UinputDevices is the fixed table for the uinput backend: the three virtual
// devices are addressed by identity rather than by event number.
func UinputDevices() List {
	devices := List{
		{EventNumber: 0, Relevance: 1, Kind: KindMouse},
		{EventNumber: 1, Relevance: 1, Kind: KindKeyboard},
		{EventNumber: 2, Relevance: 1, Kind: KindTouchscreen},
	}
	devices.Sort()
	return devices
}
