// Package screen provides the KMS framebuffer capture backend and the
// page-flip streamer that keeps a freshest-frame cache for screenshots.
package screen

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Structures and ioctl numbers from the DRM mode-setting kernel ABI.
// Ref: drm.h, drm_mode.h

const (
	drmIoctlBase = 'd'

	drmCapDumbBuffer = 0x1

	drmModeConnected = 1

	drmModePageFlipEvent = 0x01

	drmEventFlipComplete = 0x02
)

// drmModeInfo mirrors struct drm_mode_modeinfo.
type drmModeInfo struct {
	Clock      uint32
	HDisplay   uint16
	HSyncStart uint16
	HSyncEnd   uint16
	HTotal     uint16
	HSkew      uint16
	VDisplay   uint16
	VSyncStart uint16
	VSyncEnd   uint16
	VTotal     uint16
	VScan      uint16
	VRefresh   uint32
	Flags      uint32
	Type       uint32
	Name       [32]byte
}

// drmModeCrtc mirrors struct drm_mode_crtc.
type drmModeCrtc struct {
	SetConnectorsPtr uint64
	CountConnectors  uint32
	CrtcID           uint32
	FBID             uint32
	X                uint32
	Y                uint32
	GammaSize        uint32
	ModeValid        uint32
	Mode             drmModeInfo
}

// drmModeCardRes mirrors struct drm_mode_card_res.
type drmModeCardRes struct {
	FBIDPtr         uint64
	CrtcIDPtr       uint64
	ConnectorIDPtr  uint64
	EncoderIDPtr    uint64
	CountFBs        uint32
	CountCrtcs      uint32
	CountConnectors uint32
	CountEncoders   uint32
	MinWidth        uint32
	MaxWidth        uint32
	MinHeight       uint32
	MaxHeight       uint32
}

// drmModeGetConnector mirrors struct drm_mode_get_connector.
type drmModeGetConnector struct {
	EncodersPtr     uint64
	ModesPtr        uint64
	PropsPtr        uint64
	PropValuesPtr   uint64
	CountModes      uint32
	CountProps      uint32
	CountEncoders   uint32
	EncoderID       uint32
	ConnectorID     uint32
	ConnectorType   uint32
	ConnectorTypeID uint32
	Connection      uint32
	MMWidth         uint32
	MMHeight        uint32
	Subpixel        uint32
	Pad             uint32
}

// drmModeGetEncoder mirrors struct drm_mode_get_encoder.
type drmModeGetEncoder struct {
	EncoderID      uint32
	EncoderType    uint32
	CrtcID         uint32
	PossibleCrtcs  uint32
	PossibleClones uint32
}

// drmModeFBCmd mirrors struct drm_mode_fb_cmd.
type drmModeFBCmd struct {
	FBID   uint32
	Width  uint32
	Height uint32
	Pitch  uint32
	BPP    uint32
	Depth  uint32
	Handle uint32
}

// drmModeCreateDumb mirrors struct drm_mode_create_dumb.
type drmModeCreateDumb struct {
	Height uint32
	Width  uint32
	BPP    uint32
	Flags  uint32
	Handle uint32
	Pitch  uint32
	Size   uint64
}

// drmModeMapDumb mirrors struct drm_mode_map_dumb.
type drmModeMapDumb struct {
	Handle uint32
	Pad    uint32
	Offset uint64
}

// drmModeDestroyDumb mirrors struct drm_mode_destroy_dumb.
type drmModeDestroyDumb struct {
	Handle uint32
}

// drmModeCrtcPageFlip mirrors struct drm_mode_crtc_page_flip.
type drmModeCrtcPageFlip struct {
	CrtcID   uint32
	FBID     uint32
	Flags    uint32
	Reserved uint32
	UserData uint64
}

// drmGetCapability mirrors struct drm_get_cap.
type drmGetCapability struct {
	Capability uint64
	Value      uint64
}

const (
	iocRead  = 0x2
	iocWrite = 0x1

	iocNrshift   = 0
	iocTypeshift = iocNrshift + 8
	iocSizeshift = iocTypeshift + 8
	iocDirshift  = iocSizeshift + 14
)

func ioc(dir, t, nr, size int) uintptr {
	return uintptr(dir<<iocDirshift | t<<iocTypeshift | nr<<iocNrshift | size<<iocSizeshift)
}

func drmIOWR(nr, size int) uintptr { return ioc(iocRead|iocWrite, drmIoctlBase, nr, size) }
func drmIO(nr int) uintptr         { return ioc(0, drmIoctlBase, nr, 0) }

var (
	drmIoctlGetCap           = drmIOWR(0x0c, int(unsafe.Sizeof(drmGetCapability{})))
	drmIoctlSetMaster        = drmIO(0x1e)
	drmIoctlDropMaster       = drmIO(0x1f)
	drmIoctlModeGetResources = drmIOWR(0xA0, int(unsafe.Sizeof(drmModeCardRes{})))
	drmIoctlModeGetCrtc      = drmIOWR(0xA1, int(unsafe.Sizeof(drmModeCrtc{})))
	drmIoctlModeSetCrtc      = drmIOWR(0xA2, int(unsafe.Sizeof(drmModeCrtc{})))
	drmIoctlModeGetEncoder   = drmIOWR(0xA6, int(unsafe.Sizeof(drmModeGetEncoder{})))
	drmIoctlModeGetConnector = drmIOWR(0xA7, int(unsafe.Sizeof(drmModeGetConnector{})))
	drmIoctlModeGetFB        = drmIOWR(0xAD, int(unsafe.Sizeof(drmModeFBCmd{})))
	drmIoctlModeAddFB        = drmIOWR(0xAE, int(unsafe.Sizeof(drmModeFBCmd{})))
	drmIoctlModeRmFB         = drmIOWR(0xAF, 4)
	drmIoctlModePageFlip     = drmIOWR(0xB0, int(unsafe.Sizeof(drmModeCrtcPageFlip{})))
	drmIoctlModeCreateDumb   = drmIOWR(0xB2, int(unsafe.Sizeof(drmModeCreateDumb{})))
	drmIoctlModeMapDumb      = drmIOWR(0xB3, int(unsafe.Sizeof(drmModeMapDumb{})))
	drmIoctlModeDestroyDumb  = drmIOWR(0xB4, int(unsafe.Sizeof(drmModeDestroyDumb{})))
)

// drmIoctl issues one DRM ioctl, retrying on EINTR and EAGAIN the way
// libdrm's drmIoctl wrapper does.
func drmIoctl(fd int, req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
		if errno == 0 {
			return nil
		}
		if errno == unix.EINTR || errno == unix.EAGAIN {
			continue
		}
		return errno
	}
}

func drmGetCap(fd int, capability uint64) (uint64, error) {
	arg := drmGetCapability{Capability: capability}
	if err := drmIoctl(fd, drmIoctlGetCap, unsafe.Pointer(&arg)); err != nil {
		return 0, err
	}
	return arg.Value, nil
}

func drmSetMaster(fd int) error {
	return drmIoctl(fd, drmIoctlSetMaster, nil)
}

func drmDropMaster(fd int) error {
	return drmIoctl(fd, drmIoctlDropMaster, nil)
}

// drmResources holds the object id arrays reported by GETRESOURCES.
type drmResources struct {
	Crtcs      []uint32
	Connectors []uint32
	Encoders   []uint32
}

// drmGetResources performs the two-call GETRESOURCES dance: first for the
// counts, then again with arrays for the kernel to fill.
func drmGetResources(fd int) (*drmResources, error) {
	var res drmModeCardRes
	if err := drmIoctl(fd, drmIoctlModeGetResources, unsafe.Pointer(&res)); err != nil {
		return nil, fmt.Errorf("DRM_IOCTL_MODE_GETRESOURCES: %w", err)
	}

	out := &drmResources{}
	if res.CountCrtcs > 0 {
		out.Crtcs = make([]uint32, res.CountCrtcs)
		res.CrtcIDPtr = uint64(uintptr(unsafe.Pointer(&out.Crtcs[0])))
	}
	if res.CountConnectors > 0 {
		out.Connectors = make([]uint32, res.CountConnectors)
		res.ConnectorIDPtr = uint64(uintptr(unsafe.Pointer(&out.Connectors[0])))
	}
	if res.CountEncoders > 0 {
		out.Encoders = make([]uint32, res.CountEncoders)
		res.EncoderIDPtr = uint64(uintptr(unsafe.Pointer(&out.Encoders[0])))
	}
	res.FBIDPtr = 0
	res.CountFBs = 0

	if err := drmIoctl(fd, drmIoctlModeGetResources, unsafe.Pointer(&res)); err != nil {
		return nil, fmt.Errorf("DRM_IOCTL_MODE_GETRESOURCES: %w", err)
	}
	out.Crtcs = out.Crtcs[:min(len(out.Crtcs), int(res.CountCrtcs))]
	out.Connectors = out.Connectors[:min(len(out.Connectors), int(res.CountConnectors))]
	out.Encoders = out.Encoders[:min(len(out.Encoders), int(res.CountEncoders))]
	return out, nil
}

func drmGetCrtc(fd int, crtcID uint32) (*drmModeCrtc, error) {
	crtc := drmModeCrtc{CrtcID: crtcID}
	if err := drmIoctl(fd, drmIoctlModeGetCrtc, unsafe.Pointer(&crtc)); err != nil {
		return nil, fmt.Errorf("DRM_IOCTL_MODE_GETCRTC %d: %w", crtcID, err)
	}
	return &crtc, nil
}

func drmSetCrtc(fd int, crtcID, fbID, connectorID uint32, mode *drmModeInfo) error {
	connectors := []uint32{connectorID}
	crtc := drmModeCrtc{
		SetConnectorsPtr: uint64(uintptr(unsafe.Pointer(&connectors[0]))),
		CountConnectors:  1,
		CrtcID:           crtcID,
		FBID:             fbID,
		ModeValid:        1,
		Mode:             *mode,
	}
	if err := drmIoctl(fd, drmIoctlModeSetCrtc, unsafe.Pointer(&crtc)); err != nil {
		return fmt.Errorf("DRM_IOCTL_MODE_SETCRTC: %w", err)
	}
	return nil
}

// drmConnector is a connector together with its mode list.
type drmConnector struct {
	drmModeGetConnector
	Modes    []drmModeInfo
	Encoders []uint32
}

func drmGetConnector(fd int, connectorID uint32) (*drmConnector, error) {
	conn := drmModeGetConnector{ConnectorID: connectorID}
	if err := drmIoctl(fd, drmIoctlModeGetConnector, unsafe.Pointer(&conn)); err != nil {
		return nil, fmt.Errorf("DRM_IOCTL_MODE_GETCONNECTOR %d: %w", connectorID, err)
	}

	out := &drmConnector{}
	if conn.CountModes > 0 {
		out.Modes = make([]drmModeInfo, conn.CountModes)
		conn.ModesPtr = uint64(uintptr(unsafe.Pointer(&out.Modes[0])))
	}
	if conn.CountEncoders > 0 {
		out.Encoders = make([]uint32, conn.CountEncoders)
		conn.EncodersPtr = uint64(uintptr(unsafe.Pointer(&out.Encoders[0])))
	}
	conn.CountProps = 0
	conn.PropsPtr = 0
	conn.PropValuesPtr = 0

	if err := drmIoctl(fd, drmIoctlModeGetConnector, unsafe.Pointer(&conn)); err != nil {
		return nil, fmt.Errorf("DRM_IOCTL_MODE_GETCONNECTOR %d: %w", connectorID, err)
	}
	out.drmModeGetConnector = conn
	out.Modes = out.Modes[:min(len(out.Modes), int(conn.CountModes))]
	out.Encoders = out.Encoders[:min(len(out.Encoders), int(conn.CountEncoders))]
	return out, nil
}

func drmGetEncoder(fd int, encoderID uint32) (*drmModeGetEncoder, error) {
	enc := drmModeGetEncoder{EncoderID: encoderID}
	if err := drmIoctl(fd, drmIoctlModeGetEncoder, unsafe.Pointer(&enc)); err != nil {
		return nil, fmt.Errorf("DRM_IOCTL_MODE_GETENCODER %d: %w", encoderID, err)
	}
	return &enc, nil
}

func drmGetFB(fd int, fbID uint32) (*drmModeFBCmd, error) {
	fb := drmModeFBCmd{FBID: fbID}
	if err := drmIoctl(fd, drmIoctlModeGetFB, unsafe.Pointer(&fb)); err != nil {
		return nil, fmt.Errorf("DRM_IOCTL_MODE_GETFB %d: %w", fbID, err)
	}
	return &fb, nil
}

func drmAddFB(fd int, width, height uint32, depth, bpp uint8, pitch, handle uint32) (uint32, error) {
	fb := drmModeFBCmd{
		Width:  width,
		Height: height,
		Pitch:  pitch,
		BPP:    uint32(bpp),
		Depth:  uint32(depth),
		Handle: handle,
	}
	if err := drmIoctl(fd, drmIoctlModeAddFB, unsafe.Pointer(&fb)); err != nil {
		return 0, fmt.Errorf("DRM_IOCTL_MODE_ADDFB: %w", err)
	}
	return fb.FBID, nil
}

func drmRmFB(fd int, fbID uint32) error {
	return drmIoctl(fd, drmIoctlModeRmFB, unsafe.Pointer(&fbID))
}

func drmCreateDumb(fd int, width, height, bpp uint32) (*drmModeCreateDumb, error) {
	dumb := drmModeCreateDumb{Height: height, Width: width, BPP: bpp}
	if err := drmIoctl(fd, drmIoctlModeCreateDumb, unsafe.Pointer(&dumb)); err != nil {
		return nil, fmt.Errorf("DRM_IOCTL_MODE_CREATE_DUMB: %w", err)
	}
	return &dumb, nil
}

func drmMapDumb(fd int, handle uint32) (uint64, error) {
	arg := drmModeMapDumb{Handle: handle}
	if err := drmIoctl(fd, drmIoctlModeMapDumb, unsafe.Pointer(&arg)); err != nil {
		return 0, fmt.Errorf("DRM_IOCTL_MODE_MAP_DUMB: %w", err)
	}
	return arg.Offset, nil
}

func drmDestroyDumb(fd int, handle uint32) error {
	arg := drmModeDestroyDumb{Handle: handle}
	return drmIoctl(fd, drmIoctlModeDestroyDumb, unsafe.Pointer(&arg))
}

func drmPageFlip(fd int, crtcID, fbID uint32) error {
	arg := drmModeCrtcPageFlip{CrtcID: crtcID, FBID: fbID, Flags: drmModePageFlipEvent}
	if err := drmIoctl(fd, drmIoctlModePageFlip, unsafe.Pointer(&arg)); err != nil {
		return fmt.Errorf("DRM_IOCTL_MODE_PAGE_FLIP: %w", err)
	}
	return nil
}

// drmReadEvents drains pending events from the card fd and reports whether a
// page-flip completion was among them.
func drmReadEvents(fd int) (flipDone bool, err error) {
	buf := make([]byte, 1024)
	n, err := unix.Read(fd, buf)
	if err != nil {
		return false, err
	}

	for off := 0; off+8 <= n; {
		eventType := binary.LittleEndian.Uint32(buf[off:])
		length := int(binary.LittleEndian.Uint32(buf[off+4:]))
		if length < 8 || off+length > n {
			break
		}
		if eventType == drmEventFlipComplete {
			flipDone = true
		}
		off += length
	}
	return flipDone, nil
}
