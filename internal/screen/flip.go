package screen

import (
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Frame is one raw captured framebuffer.
type Frame struct {
	Pixels []byte
	Width  int
	Height int
	Pitch  int
	BPP    int
}

// FrameCache publishes the freshest completed frame to screenshot handlers.
// Writers and readers both take the lock; readers receive a snapshot that is
// never mutated afterwards.
type FrameCache struct {
	mu    sync.Mutex
	frame *Frame
}

// NewFrameCache returns an empty cache.
func NewFrameCache() *FrameCache {
	return &FrameCache{}
}

// Publish stores a copy of the frame as the freshest capture.
func (c *FrameCache) Publish(frame *Frame) {
	pixels := make([]byte, len(frame.Pixels))
	copy(pixels, frame.Pixels)
	stored := *frame
	stored.Pixels = pixels

	c.mu.Lock()
	c.frame = &stored
	c.mu.Unlock()
}

// Snapshot returns the freshest frame, if any.
func (c *FrameCache) Snapshot() (*Frame, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frame == nil {
		return nil, false
	}
	return c.frame, true
}

// dumbFrame is one mapped scan-out buffer of the streamer.
type dumbFrame struct {
	pixels         []byte
	size           uint64
	handle         uint32
	fbID           uint32
	pitch          uint32
	hasPendingFlip bool
}

// streamer owns the double-buffered page-flip pipeline of one card. At any
// instant one frame scans out and the other is the last completed flip
// target; activeIndex alternates on every completed flip event.
type streamer struct {
	fd          int
	crtcID      uint32
	connectorID uint32
	width       uint32
	height      uint32
	mode        drmModeInfo
	frames      [2]*dumbFrame
	activeIndex int
	cache       *FrameCache
}

const streamKeepAlive = 10 * time.Minute

// StartStreamer brings up the page-flip streamer for the KMS card and runs
// it on its own goroutine forever. Any bring-up failure, or a failure that
// stops the running streamer, degrades to a time-based sampler with the same
// external contract: the freshest frame is always readable from the cache.
func (k *KMS) StartStreamer() {
	s, err := newStreamer(k.card, k.cache)
	if err != nil {
		log.Errorf("page-flip streamer unavailable on %s: %v", k.card, err)
		go k.runSampler()
		return
	}
	go func() {
		s.run()
		log.Errorf("page-flip streamer on %s stopped; falling back to sampling", k.card)
		k.runSampler()
	}()
}

// runSampler re-captures the card periodically without page-flips.
func (k *KMS) runSampler() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		screenID := 2
		if info, ok := findUsableScreen(k.card); ok {
			screenID = int(info.ID)
		}
		frame, err := captureRawFrame(k.card, screenID)
		if err != nil {
			log.Debugf("sampler capture failed: %v", err)
			continue
		}
		k.cache.Publish(frame)
	}
}

// captureRawFrame maps the CRTC's framebuffer and copies it out.
func captureRawFrame(card string, screenID int) (*Frame, error) {
	fd, err := unix.Open(card, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", card, err)
	}
	defer unix.Close(fd)

	crtc, err := drmGetCrtc(fd, uint32(screenID))
	if err != nil {
		return nil, err
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
	mapped, err := unix.Mmap(fd, int64(offset), size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("unable to map memory using mmap: %w", err)
	}
	defer unix.Munmap(mapped)

	pixels := make([]byte, size)
	copy(pixels, mapped)
	return &Frame{
		Pixels: pixels,
		Width:  int(fb.Width),
		Height: int(fb.Height),
		Pitch:  int(fb.Pitch),
		BPP:    int(fb.BPP),
	}, nil
}

// newStreamer performs the full bring-up: connector association, dumb-buffer
// creation, the initial mode set under DRM master, and the first flip.
func newStreamer(card string, cache *FrameCache) (*streamer, error) {
	fd, err := unix.Open(card, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("cannot open '%s': %w", card, err)
	}

	hasDumb, err := drmGetCap(fd, drmCapDumbBuffer)
	if err != nil || hasDumb == 0 {
		unix.Close(fd)
		return nil, errors.New("DRM device does not have the capability to create dumb buffers")
	}

	s := &streamer{fd: fd, cache: cache}
	if err := s.associateConnectorWithCrtc(); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := s.createFrameBuffers(); err != nil {
		s.teardown()
		return nil, err
	}

	if err := drmSetMaster(fd); err != nil {
		s.teardown()
		return nil, fmt.Errorf("unable to switch to master mode: %w", err)
	}
	if err := drmSetCrtc(fd, s.crtcID, s.frames[0].fbID, s.connectorID, &s.mode); err != nil {
		drmDropMaster(fd)
		s.teardown()
		return nil, fmt.Errorf("unable to set crtc mode on buffer: %w", err)
	}
	if err := drmDropMaster(fd); err != nil {
		s.teardown()
		return nil, fmt.Errorf("unable to drop from master mode: %w", err)
	}

	if err := drmPageFlip(fd, s.crtcID, s.frames[0].fbID); err != nil {
		s.teardown()
		return nil, err
	}
	s.frames[0].hasPendingFlip = true

	log.Infof("page-flip streamer on %s: crtc=%d connector=%d %dx%d",
		card, s.crtcID, s.connectorID, s.width, s.height)
	return s, nil
}

// associateConnectorWithCrtc picks a connected connector with at least one
// mode and the CRTC driving it, preferring the connector's current encoder
// and falling back to any encoder/CRTC pair allowed by possible_crtcs.
func (s *streamer) associateConnectorWithCrtc() error {
	resources, err := drmGetResources(s.fd)
	if err != nil {
		return err
	}

	for _, connectorID := range resources.Connectors {
		connector, err := drmGetConnector(s.fd, connectorID)
		if err != nil {
			continue
		}
		if connector.Connection != drmModeConnected || len(connector.Modes) == 0 {
			continue
		}

		s.width = uint32(connector.Modes[0].HDisplay)
		s.height = uint32(connector.Modes[0].VDisplay)
		s.mode = connector.Modes[0]

		if connector.EncoderID != 0 {
			if encoder, err := drmGetEncoder(s.fd, connector.EncoderID); err == nil && encoder.CrtcID != 0 {
				if crtc, err := drmGetCrtc(s.fd, encoder.CrtcID); err == nil && crtc.ModeValid != 0 {
					s.crtcID = encoder.CrtcID
					s.connectorID = connector.ConnectorID
					return nil
				}
			}
		}

		for _, encoderID := range connector.Encoders {
			encoder, err := drmGetEncoder(s.fd, encoderID)
			if err != nil {
				continue
			}
			for index, crtcID := range resources.Crtcs {
				if encoder.PossibleCrtcs&(1<<uint(index)) == 0 {
					continue
				}
				if crtc, err := drmGetCrtc(s.fd, crtcID); err == nil && crtc.ModeValid != 0 {
					s.crtcID = crtcID
					s.connectorID = connector.ConnectorID
					return nil
				}
			}
		}
	}
	return errors.New("no connected connector with a usable CRTC")
}

// createFrameBuffers allocates, registers and maps the two dumb buffers.
func (s *streamer) createFrameBuffers() error {
	for i := range s.frames {
		dumb, err := drmCreateDumb(s.fd, s.width, s.height, 32)
		if err != nil {
			return err
		}

		frame := &dumbFrame{
			size:   dumb.Size,
			handle: dumb.Handle,
			pitch:  dumb.Pitch,
		}
		s.frames[i] = frame

		fbID, err := drmAddFB(s.fd, s.width, s.height, 24, 32, dumb.Pitch, dumb.Handle)
		if err != nil {
			return fmt.Errorf("unable to add frame buffer: %w", err)
		}
		frame.fbID = fbID

		offset, err := drmMapDumb(s.fd, dumb.Handle)
		if err != nil {
			return fmt.Errorf("unable to map frame buffer: %w", err)
		}

		pixels, err := unix.Mmap(s.fd, int64(offset), int(dumb.Size),
			unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			return fmt.Errorf("unable to map memory using mmap: %w", err)
		}
		frame.pixels = pixels
		for j := range pixels {
			pixels[j] = 0
		}
	}
	return nil
}

// run waits on the card descriptor for flip completions. The wait re-arms
// itself every ten minutes so the pipeline never goes fully idle on displays
// that stop posting events.
func (s *streamer) run() {
	for {
		ready, err := s.waitReadable(streamKeepAlive)
		if err != nil {
			log.Errorf("page-flip wait failed: %v", err)
			s.teardown()
			return
		}
		if !ready {
			continue
		}

		flipDone, err := drmReadEvents(s.fd)
		if err != nil {
			log.Errorf("reading drm events: %v", err)
			s.teardown()
			return
		}
		if !flipDone {
			continue
		}
		if err := s.onPageFlip(); err != nil {
			log.Errorf("page flip: %v", err)
			s.teardown()
			return
		}
	}
}

// waitReadable blocks until the card fd is readable or the timeout lapses.
func (s *streamer) waitReadable(timeout time.Duration) (bool, error) {
	for {
		var readSet unix.FdSet
		readSet.Set(s.fd)
		tv := unix.NsecToTimeval(timeout.Nanoseconds())
		n, err := unix.Select(s.fd+1, &readSet, nil, nil, &tv)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, err
		}
		return n > 0, nil
	}
}

// onPageFlip records the completed flip, publishes the now-visible frame and
// queues the next flip into the hidden buffer.
func (s *streamer) onPageFlip() error {
	s.frames[s.activeIndex].hasPendingFlip = false
	s.activeIndex ^= 1

	visible := s.frames[s.activeIndex^1]
	s.cache.Publish(&Frame{
		Pixels: visible.pixels,
		Width:  int(s.width),
		Height: int(s.height),
		Pitch:  int(visible.pitch),
		BPP:    32,
	})

	next := s.frames[s.activeIndex]
	if err := drmPageFlip(s.fd, s.crtcID, next.fbID); err != nil {
		return err
	}
	next.hasPendingFlip = true
	return nil
}

// teardown releases both buffers and the card descriptor.
func (s *streamer) teardown() {
	for _, frame := range s.frames {
		if frame == nil {
			continue
		}
		if frame.pixels != nil {
			unix.Munmap(frame.pixels)
			frame.pixels = nil
		}
		if frame.fbID != 0 {
			drmRmFB(s.fd, frame.fbID)
		}
		if frame.handle != 0 {
			drmDestroyDumb(s.fd, frame.handle)
		}
	}
	if s.fd >= 0 {
		unix.Close(s.fd)
		s.fd = -1
	}
}
