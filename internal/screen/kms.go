package screen

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const driDirectory = "/dev/dri"

// crtcInfo is one scan-out pipeline as reported by the card.
type crtcInfo struct {
	ID        uint32
	ModeValid bool
}

// usable reports whether the CRTC currently drives a display mode.
func (c crtcInfo) usable() bool { return c.ModeValid }

// KMS captures the framebuffer of a DRM card through dumb-buffer mapping.
type KMS struct {
	card  string
	rgb   bool
	cache *FrameCache
}

// NewKMS probes the candidate cards in order and selects the first one whose
// usable CRTC yields a successful capture.
func NewKMS(cards []string, rgb bool) (*KMS, error) {
	for _, name := range cards {
		card := filepath.Join(driDirectory, name)
		screenID := 2
		if info, ok := findUsableScreen(card); ok {
			screenID = int(info.ID)
		}

		if _, err := grabFromCard(card, screenID, rgb); err != nil {
			log.Debugf("card %s not suitable: %v", card, err)
			continue
		}
		log.Infof("selected KMS card %s", card)
		return &KMS{card: card, rgb: rgb, cache: NewFrameCache()}, nil
	}
	return nil, errors.New("no suitable KMS card found")
}

// Card returns the selected card node path.
func (k *KMS) Card() string { return k.card }

// Cache returns the freshest-frame cache shared with the page-flip streamer.
func (k *KMS) Cache() *FrameCache { return k.cache }

// listScreenInfo enumerates the card's CRTCs.
func listScreenInfo(card string) ([]crtcInfo, error) {
	fd, err := unix.Open(card, unix.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", card, err)
	}
	defer unix.Close(fd)

	resources, err := drmGetResources(fd)
	if err != nil {
		return nil, fmt.Errorf("getting display config for %s: %w", card, err)
	}

	screens := make([]crtcInfo, 0, len(resources.Crtcs))
	for _, id := range resources.Crtcs {
		crtc, err := drmGetCrtc(fd, id)
		if err != nil {
			log.Warnf("error getting CRTC '%d': %v", id, err)
			continue
		}
		screens = append(screens, crtcInfo{ID: crtc.CrtcID, ModeValid: crtc.ModeValid != 0})
	}
	return screens, nil
}

// formatScreenList renders the CRTC table, one line per CRTC.
func formatScreenList(screens []crtcInfo) string {
	var reply strings.Builder
	for _, screen := range screens {
		valid := 0
		if screen.ModeValid {
			valid = 1
		}
		fmt.Fprintf(&reply, "CRTC: ID=%d, mode_valid=%d\n", screen.ID, valid)
	}
	return reply.String()
}

// findUsableScreen returns the first CRTC with a valid mode.
func findUsableScreen(card string) (crtcInfo, bool) {
	screens, err := listScreenInfo(card)
	if err != nil {
		return crtcInfo{}, false
	}
	for _, screen := range screens {
		if screen.usable() {
			return screen, true
		}
	}
	return crtcInfo{}, false
}

// ListScreens describes every CRTC of the selected card.
func (k *KMS) ListScreens() (string, error) {
	screens, err := listScreenInfo(k.card)
	if err != nil {
		return "", err
	}
	return formatScreenList(screens), nil
}

// GrabFrameBuffer captures the framebuffer scanning out on the given CRTC.
// When the page-flip streamer has a cached frame it is served instead of
// touching the card, whatever screenID is given; the cache is refreshed on
// every completed page flip, or once per second by the fallback sampler.
func (k *KMS) GrabFrameBuffer(screenID int) (*ImageData, error) {
	if frame, ok := k.cache.Snapshot(); ok {
		return encodePNG(frame.Pixels, frame.Width, frame.Height, frame.Pitch, frame.BPP, k.rgb)
	}
	return grabFromCard(k.card, screenID, k.rgb)
}

// grabFromCard maps the CRTC's current framebuffer and encodes it. Every
// acquisition is released on all return paths.
func grabFromCard(card string, screenID int, rgb bool) (*ImageData, error) {
	fd, err := unix.Open(card, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", card, err)
	}
	defer unix.Close(fd)

	crtc, err := drmGetCrtc(fd, uint32(screenID))
	if err != nil {
		return nil, fmt.Errorf("error getting CRTC '%d': %w", screenID, err)
	}

	fb, err := drmGetFB(fd, crtc.FBID)
	if err != nil {
		return nil, err
	}

	offset, err := drmMapDumb(fd, fb.Handle)
	if err != nil {
		return nil, err
	}

	size := int(fb.Pitch) * int(fb.Height)
	pixels, err := unix.Mmap(fd, int64(offset), size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("unable to map memory using mmap: %w", err)
	}
	defer unix.Munmap(pixels)

	return encodePNG(pixels, int(fb.Width), int(fb.Height), int(fb.Pitch), int(fb.BPP), rgb)
}
