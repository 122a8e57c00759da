// Package config holds the immutable runtime configuration of the daemon.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/iamOgunyinka/qadx/internal/device"
)

// DefaultPort is the TCP port the daemon binds when -p is not given.
const DefaultPort = 3465

// InputType selects the input-injection backend.
type InputType int

const (
	InputUinput InputType = iota
	InputEvdev
)

// ScreenType selects the screen-capture backend.
type ScreenType int

const (
	ScreenKMS ScreenType = iota
	ScreenILM
)

// RuntimeConfig is assembled once in main and never mutated afterwards.
type RuntimeConfig struct {
	// Port is the TCP port the acceptor binds on 0.0.0.0.
	Port int `json:"port"`

	// InputBackend selects uinput or evdev injection.
	InputBackend InputType `json:"input_backend"`

	// ScreenBackend selects the KMS or ILM capture path.
	ScreenBackend ScreenType `json:"screen_backend"`

	// KMSCards are the candidate card nodes under /dev/dri, probed in order.
	KMSCards []string `json:"kms_backend_cards,omitempty"`

	// KMSFormatRGB selects RGB byte order for captured pixels instead of BGR.
	KMSFormatRGB bool `json:"kms_format_rgb"`

	// Devices maps device kinds to event numbers; nil when discovery found
	// nothing, in which case clients must pass explicit event ids.
	Devices device.List `json:"devices,omitempty"`

	// Verbose enables debug logging.
	Verbose bool `json:"verbose"`
}

// ParseInputType validates the -i selector.
func ParseInputType(value string) (InputType, error) {
	switch strings.ToLower(value) {
	case "uinput":
		return InputUinput, nil
	case "evdev":
		return InputEvdev, nil
	}
	return 0, fmt.Errorf("invalid input type given: %q", value)
}

// ParseScreenType validates the -s selector.
func ParseScreenType(value string) (ScreenType, error) {
	switch strings.ToLower(value) {
	case "kms":
		return ScreenKMS, nil
	case "ilm":
		return ScreenILM, nil
	}
	return 0, fmt.Errorf("invalid screen backend selected: %q", value)
}

// DefaultKMSCards enumerates every node under /dev/dri whose name begins
// with "card", sorted by file name.
func DefaultKMSCards() []string {
	entries, err := os.ReadDir("/dev/dri")
	if err != nil {
		return nil
	}

	var cards []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "card") {
			cards = append(cards, entry.Name())
		}
	}
	return cards
}
