package screen

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/png"
)

// Encoding identifies the container format of a captured frame.
type Encoding int

const (
	EncodingPNG Encoding = iota
	EncodingBMP
)

// ImageData is one encoded screenshot.
type ImageData struct {
	Bytes    []byte
	Encoding Encoding
}

// Extension returns the file extension for the encoding.
func (d *ImageData) Extension() string {
	if d.Encoding == EncodingBMP {
		return ".bmp"
	}
	return ".png"
}

// ContentType returns the MIME type for the encoding.
func (d *ImageData) ContentType() string {
	if d.Encoding == EncodingBMP {
		return "image/bmp"
	}
	return "image/png"
}

// Screen captures frames from a display pipeline. Exactly one instance
// exists per process and is shared by all sessions.
type Screen interface {
	// ListScreens describes every CRTC, one line each.
	ListScreens() (string, error)

	// GrabFrameBuffer captures the framebuffer scanning out on the given
	// screen and returns it encoded.
	GrabFrameBuffer(screenID int) (*ImageData, error)
}

// encodePNG compresses a mapped framebuffer into a PNG. The source rows are
// pitch bytes apart; 32 bpp pixels are stored X8R8G8B8 in little-endian
// order, so byte order is B,G,R,X unless rgb is set.
func encodePNG(pixels []byte, width, height, pitch, bpp int, rgb bool) (*ImageData, error) {
	if bpp != 24 && bpp != 32 {
		return nil, fmt.Errorf("unsupported bits per pixel: %d", bpp)
	}

	bytesPerPixel := bpp / 8
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		row := pixels[y*pitch:]
		for x := 0; x < width; x++ {
			src := row[x*bytesPerPixel:]
			dst := img.Pix[y*img.Stride+x*4:]
			if rgb || bpp == 24 {
				dst[0], dst[1], dst[2] = src[0], src[1], src[2]
			} else {
				dst[0], dst[1], dst[2] = src[2], src[1], src[0]
			}
			dst[3] = 0xff
		}
	}

	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return &ImageData{Bytes: buf.Bytes(), Encoding: EncodingPNG}, nil
}

// bmpHeader is the combined file and info header of a 32 bpp BMP.
type bmpHeader struct {
	Type            uint16
	Size            uint32
	Reserved1       uint16
	Reserved2       uint16
	Offset          uint32
	HeaderSize      uint32
	Width           int32
	Height          int32
	Planes          uint16
	BPP             uint16
	Compression     uint32
	ImageSize       uint32
	XResolution     int32
	YResolution     int32
	Colors          uint32
	ImportantColors uint32
}

const bmpHeaderSize = 54

// encodeBMP wraps raw 32 bpp rows in a BMP container without converting the
// pixel data.
func encodeBMP(raw []byte, width, height, stride int) (*ImageData, error) {
	imageSize := stride * height
	if len(raw) < imageSize {
		return nil, fmt.Errorf("image buffer truncated: have %d bytes, need %d", len(raw), imageSize)
	}

	header := bmpHeader{
		Type:       0x4d42,
		Size:       uint32(bmpHeaderSize + imageSize),
		Offset:     bmpHeaderSize,
		HeaderSize: bmpHeaderSize - 14,
		Width:      int32(width),
		Height:     int32(height),
		Planes:     1,
		BPP:        32,
		ImageSize:  uint32(imageSize),
	}

	var buf bytes.Buffer
	buf.Grow(bmpHeaderSize + imageSize)
	if err := binary.Write(&buf, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("encode bmp header: %w", err)
	}
	buf.Write(raw[:imageSize])
	return &ImageData{Bytes: buf.Bytes(), Encoding: EncodingBMP}, nil
}
