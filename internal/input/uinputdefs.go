package input

// Constants and structures from the Linux input/uinput kernel ABI.
// Ref: input-event-codes.h, input.h, uinput.h

const (
	evSyn uint16 = 0x00
	evKey uint16 = 0x01
	evRel uint16 = 0x02
	evAbs uint16 = 0x03

	synReport uint16 = 0x00

	btnLeft  uint16 = 0x110
	btnRight uint16 = 0x111
	btnTouch uint16 = 0x14a

	relX uint16 = 0x00
	relY uint16 = 0x01

	absX            uint16 = 0x00
	absY            uint16 = 0x01
	absMtSlot       uint16 = 0x2f
	absMtTouchMajor uint16 = 0x30
	absMtWidthMajor uint16 = 0x32
	absMtPositionX  uint16 = 0x35
	absMtPositionY  uint16 = 0x36
	absMtTrackingID uint16 = 0x39
	absMtPressure   uint16 = 0x3a

	keyEsc   = 1
	keyRight = 106

	busUSB uint16 = 0x03
)

// ioctl encoding, ref: ioctl.h
const (
	iocNone  = 0x0
	iocWrite = 0x1

	iocNrshift   = 0
	iocTypeshift = iocNrshift + 8
	iocSizeshift = iocTypeshift + 8
	iocDirshift  = iocSizeshift + 14
)

func ioc(dir, t, nr, size int) uintptr {
	return uintptr(dir<<iocDirshift | t<<iocTypeshift | nr<<iocNrshift | size<<iocSizeshift)
}

func iow(t, nr, size int) uintptr { return ioc(iocWrite, t, nr, size) }

// Ref: uinput.h
const (
	uinputMaxNameSize = 80
	absCnt            = 0x40
)

var (
	uiSetEvBit  = iow('U', 100, 4)
	uiSetKeyBit = iow('U', 101, 4)
	uiSetRelBit = iow('U', 102, 4)
	uiSetAbsBit = iow('U', 103, 4)
	uiDevSetup  = iow('U', 3, 92) // sizeof(struct uinput_setup)
	uiDevCreate = ioc(iocNone, 'U', 1, 0)
)

// inputID mirrors struct input_id.
type inputID struct {
	BusType uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

// uinputSetup mirrors struct uinput_setup, consumed by UI_DEV_SETUP.
type uinputSetup struct {
	ID            inputID
	Name          [uinputMaxNameSize]byte
	FFEffectsMax  uint32
}

// uinputUserDev mirrors struct uinput_user_dev, the legacy setup record
// written directly to /dev/uinput. It is the only way to hand the kernel
// per-axis ranges without the ABS setup ioctl.
type uinputUserDev struct {
	Name         [uinputMaxNameSize]byte
	ID           inputID
	FFEffectsMax uint32
	AbsMax       [absCnt]int32
	AbsMin       [absCnt]int32
	AbsFuzz      [absCnt]int32
	AbsFlat      [absCnt]int32
}
