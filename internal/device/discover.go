package device

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
)

const procInputDevices = "/proc/bus/input/devices"

// guessKind classifies a device by substrings of its lower-cased name.
func guessKind(name string) Kind {
	name = strings.ToLower(name)
	switch {
	case strings.Contains(name, "keyboard"):
		return KindKeyboard
	case strings.Contains(name, "mouse"):
		return KindMouse
	case strings.Contains(name, "touchpad"):
		return KindTrackpad
	case strings.Contains(name, "touchinput"):
		return KindTouchscreen
	}
	return KindNone
}

// fieldValue extracts the value of a `X: Key=Value` line, stripping quotes.
func fieldValue(line string) string {
	_, value, found := strings.Cut(line, "=")
	if !found {
		return ""
	}
	value = strings.TrimSpace(value)
	value = strings.Trim(value, `"`)
	return strings.TrimSpace(value)
}

// eventNumber pulls K out of the trailing `inputK` sysfs path segment.
func eventNumber(sysfs string) (int, bool) {
	segments := strings.Split(sysfs, "/")
	last := segments[len(segments)-1]
	if !strings.HasPrefix(last, "input") {
		return 0, false
	}
	id, err := strconv.Atoi(strings.TrimPrefix(last, "input"))
	if err != nil {
		return 0, false
	}
	return id, true
}

// ParseDevices scans a /proc/bus/input/devices listing and builds the device
// mapping table. Devices whose names match no known kind are ignored. The
// result is sorted; it is empty when nothing was recognized.
func ParseDevices(r io.Reader) List {
	var (
		devices   List
		name      string
		sysfs     string
		relevance = make(map[Kind]int)
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "N:") {
			name = fieldValue(line)
		} else if strings.HasPrefix(line, "S:") {
			sysfs = fieldValue(line)
		}

		if name == "" || sysfs == "" {
			continue
		}
		if id, ok := eventNumber(sysfs); ok {
			if kind := guessKind(name); kind != KindNone {
				relevance[kind]++
				devices = append(devices, Mapping{
					EventNumber: id,
					Relevance:   relevance[kind],
					Kind:        kind,
				})
			}
		}
		name = ""
		sysfs = ""
	}

	devices.Sort()
	return devices
}

// Discover reads the kernel's input device listing. A nil table means no
// recognizable device was found and clients must name events explicitly.
func Discover() (List, error) {
	f, err := os.Open(procInputDevices)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	devices := ParseDevices(f)
	if len(devices) == 0 {
		return nil, nil
	}
	return devices, nil
}
