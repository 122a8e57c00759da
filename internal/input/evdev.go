package input

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Evdev injects events by opening /dev/input/eventN read-write for the
// duration of each call. The descriptor is closed on every return path.
type Evdev struct{}

// NewEvdev returns the evdev injection backend.
func NewEvdev() *Evdev {
	return &Evdev{}
}

func openEventDevice(event int) (int, error) {
	location := fmt.Sprintf("/dev/input/event%d", event)
	fd, err := unix.Open(location, unix.O_RDWR, 0)
	if err != nil {
		return -1, fmt.Errorf("could not open file %s: %w", location, err)
	}
	return fd, nil
}

// Move reports a multi-touch position and commits it.
func (e *Evdev) Move(x, y, event int) error {
	fd, err := openEventDevice(event)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	w := NewWriter(fd)
	if err := w.PositionMT(int32(x), int32(y)); err != nil {
		return err
	}
	return w.Syn()
}

// Button starts or ends a touch contact depending on value.
func (e *Evdev) Button(value, event int) error {
	fd, err := openEventDevice(event)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	tracking := int32(trackingID)
	if value == 0 {
		tracking = -1
	}

	w := NewWriter(fd)
	if err := w.Tracking(tracking); err != nil {
		return err
	}
	if err := w.Button(int32(value)); err != nil {
		return err
	}
	return w.Syn()
}

// Touch performs a full press-hold-release at (x, y).
func (e *Evdev) Touch(x, y, duration, event int) error {
	fd, err := openEventDevice(event)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	return SendTouch(NewWriter(fd), int32(x), int32(y), int32(duration))
}

// Swipe drags a contact between the two positions.
func (e *Evdev) Swipe(x, y, x2, y2, velocity, event int) error {
	fd, err := openEventDevice(event)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	return SendSwipe(NewWriter(fd), int32(x), int32(y), int32(x2), int32(y2), int32(velocity))
}

// Key presses and releases a key code.
func (e *Evdev) Key(key, event int) error {
	fd, err := openEventDevice(event)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	w := NewWriter(fd)
	if err := w.Key(int32(key)); err != nil {
		return err
	}
	return w.Syn()
}

// Text types the key codes in order.
func (e *Evdev) Text(keyCodes []int32, event int) error {
	fd, err := openEventDevice(event)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	return SendText(NewWriter(fd), keyCodes)
}
