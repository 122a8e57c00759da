package input

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/lunixbochs/struc"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// ErrEventNotFound is returned when the event id does not select one of the
// three virtual devices.
var ErrEventNotFound = errors.New("event not found")

const (
	uinputPath    = "/dev/uinput"
	vendorID      = 0x1234
	productID     = 0x5678
	absAxisMax    = 32767
	absPressureMax = 100
)

// virtualDevice is one long-lived uinput device. The mutex serializes whole
// gestures so two sessions cannot interleave multi-record sequences on the
// same device node.
type virtualDevice struct {
	mu     sync.Mutex
	fd     int
	name   string
	broken bool
}

func (d *virtualDevice) run(op func(w Writer) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.broken || d.fd < 0 {
		return fmt.Errorf("virtual device %q is unusable", d.name)
	}
	if err := op(NewWriter(d.fd)); err != nil {
		d.broken = true
		return fmt.Errorf("%s: %w", d.name, err)
	}
	return nil
}

// Uinput owns three virtual devices created at startup: a mouse, a keyboard
// and a touchscreen. Event ids route to them by identity: 0=mouse,
// 1=keyboard, 2=touchscreen. The descriptors stay open until Close.
type Uinput struct {
	mouse       *virtualDevice
	keyboard    *virtualDevice
	touchscreen *virtualDevice
}

// NewUinput registers the three virtual devices with the kernel.
func NewUinput() (*Uinput, error) {
	mouseFD, err := createMouse()
	if err != nil {
		return nil, fmt.Errorf("create virtual mouse: %w", err)
	}
	keyboardFD, err := createKeyboard()
	if err != nil {
		unix.Close(mouseFD)
		return nil, fmt.Errorf("create virtual keyboard: %w", err)
	}
	touchFD, err := createTouchscreen()
	if err != nil {
		unix.Close(mouseFD)
		unix.Close(keyboardFD)
		return nil, fmt.Errorf("create virtual touchscreen: %w", err)
	}

	return &Uinput{
		mouse:       &virtualDevice{fd: mouseFD, name: "QAD mouse device"},
		keyboard:    &virtualDevice{fd: keyboardFD, name: "QAD keyboard device"},
		touchscreen: &virtualDevice{fd: touchFD, name: "QAD touchinput device"},
	}, nil
}

// Close destroys the virtual devices. The daemon never calls it, so the
// devices stay registered until the process exits.
func (u *Uinput) Close() {
	for _, d := range []*virtualDevice{u.mouse, u.keyboard, u.touchscreen} {
		d.mu.Lock()
		if d.fd >= 0 {
			unix.Close(d.fd)
			d.fd = -1
		}
		d.mu.Unlock()
	}
}

func (u *Uinput) device(event int) (*virtualDevice, error) {
	switch event {
	case 0:
		return u.mouse, nil
	case 1:
		return u.keyboard, nil
	case 2:
		return u.touchscreen, nil
	}
	return nil, ErrEventNotFound
}

// Move reports a multi-touch position on the routed device.
func (u *Uinput) Move(x, y, event int) error {
	dev, err := u.device(event)
	if err != nil {
		return err
	}
	return dev.run(func(w Writer) error {
		if err := w.PositionMT(int32(x), int32(y)); err != nil {
			return err
		}
		return w.Syn()
	})
}

// Button starts or ends a touch contact depending on value.
func (u *Uinput) Button(value, event int) error {
	dev, err := u.device(event)
	if err != nil {
		return err
	}

	tracking := int32(trackingID)
	if value == 0 {
		tracking = -1
	}
	return dev.run(func(w Writer) error {
		if err := w.Tracking(tracking); err != nil {
			return err
		}
		if err := w.Button(int32(value)); err != nil {
			return err
		}
		return w.Syn()
	})
}

// Touch performs a full press-hold-release at (x, y).
func (u *Uinput) Touch(x, y, duration, event int) error {
	dev, err := u.device(event)
	if err != nil {
		return err
	}
	return dev.run(func(w Writer) error {
		return SendTouch(w, int32(x), int32(y), int32(duration))
	})
}

// Swipe drags a contact between the two positions.
func (u *Uinput) Swipe(x, y, x2, y2, velocity, event int) error {
	dev, err := u.device(event)
	if err != nil {
		return err
	}
	return dev.run(func(w Writer) error {
		return SendSwipe(w, int32(x), int32(y), int32(x2), int32(y2), int32(velocity))
	})
}

// Key presses and releases a key code.
func (u *Uinput) Key(key, event int) error {
	dev, err := u.device(event)
	if err != nil {
		return err
	}
	return dev.run(func(w Writer) error {
		if err := w.Key(int32(key)); err != nil {
			return err
		}
		return w.Syn()
	})
}

// Text types the key codes in order.
func (u *Uinput) Text(keyCodes []int32, event int) error {
	dev, err := u.device(event)
	if err != nil {
		return err
	}
	return dev.run(func(w Writer) error {
		return SendText(w, keyCodes)
	})
}

func devIoctl(fd int, req uintptr, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, arg)
	if errno != 0 {
		return errno
	}
	return nil
}

func setBit(fd int, req uintptr, bit int) error {
	return devIoctl(fd, req, uintptr(bit))
}

func openUinput() (int, error) {
	return unix.Open(uinputPath, unix.O_WRONLY|unix.O_NONBLOCK, 0)
}

func deviceSetup(fd int, name string) error {
	var setup uinputSetup
	setup.ID = inputID{BusType: busUSB, Vendor: vendorID, Product: productID}
	copy(setup.Name[:], name)

	if err := devIoctl(fd, uiDevSetup, uintptr(unsafe.Pointer(&setup))); err != nil {
		return fmt.Errorf("UI_DEV_SETUP: %w", err)
	}
	if err := devIoctl(fd, uiDevCreate, 0); err != nil {
		return fmt.Errorf("UI_DEV_CREATE: %w", err)
	}
	return nil
}

func createMouse() (int, error) {
	fd, err := openUinput()
	if err != nil {
		return -1, err
	}

	steps := []func() error{
		func() error { return setBit(fd, uiSetEvBit, int(evKey)) },
		func() error { return setBit(fd, uiSetKeyBit, int(btnLeft)) },
		func() error { return setBit(fd, uiSetKeyBit, int(btnRight)) },
		func() error { return setBit(fd, uiSetEvBit, int(evRel)) },
		func() error { return setBit(fd, uiSetRelBit, int(relX)) },
		func() error { return setBit(fd, uiSetRelBit, int(relY)) },
		func() error { return deviceSetup(fd, "QAD mouse device") },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			unix.Close(fd)
			return -1, err
		}
	}
	return fd, nil
}

func createKeyboard() (int, error) {
	fd, err := openUinput()
	if err != nil {
		return -1, err
	}

	if err := setBit(fd, uiSetEvBit, int(evKey)); err != nil {
		unix.Close(fd)
		return -1, err
	}
	for code := keyEsc; code <= keyRight; code++ {
		if err := setBit(fd, uiSetKeyBit, code); err != nil {
			unix.Close(fd)
			return -1, err
		}
	}
	if err := deviceSetup(fd, "QAD keyboard device"); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func createTouchscreen() (int, error) {
	fd, err := openUinput()
	if err != nil {
		return -1, err
	}

	absBits := []uint16{
		absMtPressure, absMtTrackingID, absMtPositionX, absMtPositionY,
		absX, absY, absMtSlot,
	}
	if err := setBit(fd, uiSetEvBit, int(evAbs)); err != nil {
		unix.Close(fd)
		return -1, err
	}
	for _, bit := range absBits {
		if err := setBit(fd, uiSetAbsBit, int(bit)); err != nil {
			unix.Close(fd)
			return -1, err
		}
	}
	if err := setBit(fd, uiSetEvBit, int(evKey)); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := setBit(fd, uiSetKeyBit, int(btnTouch)); err != nil {
		unix.Close(fd)
		return -1, err
	}

	// The touchscreen carries per-axis ranges, so it goes through the
	// legacy uinput_user_dev record instead of UI_DEV_SETUP.
	var setup uinputUserDev
	setup.ID = inputID{BusType: busUSB, Vendor: vendorID, Product: productID}
	copy(setup.Name[:], "QAD touchinput device")
	for _, axis := range []uint16{absX, absY, absMtPositionX, absMtPositionY} {
		setup.AbsMin[axis] = 0
		setup.AbsMax[axis] = absAxisMax
	}
	setup.AbsMin[absMtPressure] = 0
	setup.AbsMax[absMtPressure] = absPressureMax

	var buf bytes.Buffer
	if err := struc.PackWithOptions(&buf, &setup, packOptions); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("pack uinput_user_dev: %w", err)
	}
	if _, err := unix.Write(fd, buf.Bytes()); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("write uinput_user_dev: %w", err)
	}
	if err := devIoctl(fd, uiDevCreate, 0); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("UI_DEV_CREATE: %w", err)
	}

	log.Debugf("registered virtual touchscreen on %s", uinputPath)
	return fd, nil
}
