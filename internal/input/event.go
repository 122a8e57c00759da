// Package input provides the kernel input-event writer and the evdev and
// uinput injection backends used by the request handlers.
package input

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/lunixbochs/struc"
	"golang.org/x/sys/unix"
)

// inputEvent mirrors struct input_event on 64-bit platforms. Timestamps are
// left zeroed; the kernel fills them in on delivery.
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

var packOptions = &struc.Options{Order: binary.LittleEndian}

// Writer emits input_event records to an open event device descriptor.
// A sequence of records is committed by a trailing SYN_REPORT.
type Writer struct {
	fd int
}

// NewWriter wraps an already-open event device file descriptor.
func NewWriter(fd int) Writer {
	return Writer{fd: fd}
}

func (w Writer) write(typ, code uint16, value int32) error {
	ev := inputEvent{Type: typ, Code: code, Value: value}
	var buf bytes.Buffer
	if err := struc.PackWithOptions(&buf, &ev, packOptions); err != nil {
		return fmt.Errorf("pack input event: %w", err)
	}
	if _, err := unix.Write(w.fd, buf.Bytes()); err != nil {
		return fmt.Errorf("write input event: %w", err)
	}
	return nil
}

// Syn commits all preceding records with an EV_SYN/SYN_REPORT.
func (w Writer) Syn() error {
	return w.write(evSyn, synReport, 0)
}

// Button reports BTN_TOUCH with the given value, 1 for down and 0 for up.
func (w Writer) Button(value int32) error {
	return w.write(evKey, btnTouch, value)
}

// Key presses and releases the given key code.
func (w Writer) Key(code int32) error {
	if err := w.write(evKey, uint16(code), 1); err != nil {
		return err
	}
	return w.write(evKey, uint16(code), 0)
}

// Pressure reports ABS_MT_PRESSURE.
func (w Writer) Pressure(value int32) error {
	return w.write(evAbs, absMtPressure, value)
}

// Major reports the touch contact size on both ABS_MT_TOUCH_MAJOR and
// ABS_MT_WIDTH_MAJOR.
func (w Writer) Major(value int32) error {
	if err := w.write(evAbs, absMtTouchMajor, value); err != nil {
		return err
	}
	return w.write(evAbs, absMtWidthMajor, value)
}

// PositionAbs reports a single-touch position on ABS_X/ABS_Y.
func (w Writer) PositionAbs(x, y int32) error {
	if err := w.write(evAbs, absX, x); err != nil {
		return err
	}
	return w.write(evAbs, absY, y)
}

// PositionMT reports a multi-touch position on ABS_MT_POSITION_X/_Y.
func (w Writer) PositionMT(x, y int32) error {
	if err := w.write(evAbs, absMtPositionX, x); err != nil {
		return err
	}
	return w.write(evAbs, absMtPositionY, y)
}

// PositionRel reports relative motion on REL_X/REL_Y.
func (w Writer) PositionRel(x, y int32) error {
	if err := w.write(evRel, relX, x); err != nil {
		return err
	}
	return w.write(evRel, relY, y)
}

// Tracking reports ABS_MT_TRACKING_ID; -1 ends the touch contact.
func (w Writer) Tracking(value int32) error {
	return w.write(evAbs, absMtTrackingID, value)
}
