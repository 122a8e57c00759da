package screen

import (
	"bytes"
	"encoding/binary"
	"image/png"
	"testing"
)

// The capture harness buffer: 2x1 pixels, pitch 8, 32 bpp.
var harnessPixels = []byte{0xDE, 0xAD, 0xBE, 0xEF, 0xCA, 0xFE, 0xBA, 0xBE}

func TestEncodePNGBGROrder(t *testing.T) {
	image, err := encodePNG(harnessPixels, 2, 1, 8, 32, false)
	if err != nil {
		t.Fatalf("encodePNG: %v", err)
	}
	if image.Encoding != EncodingPNG {
		t.Fatalf("encoding = %v, want PNG", image.Encoding)
	}

	decoded, err := png.Decode(bytes.NewReader(image.Bytes))
	if err != nil {
		t.Fatalf("decoding the produced PNG: %v", err)
	}
	if decoded.Bounds().Dx() != 2 || decoded.Bounds().Dy() != 1 {
		t.Fatalf("decoded bounds = %v, want 2x1", decoded.Bounds())
	}

	// Default is BGR source order: bytes B,G,R,X per pixel.
	r, g, b, _ := decoded.At(0, 0).RGBA()
	if byte(r>>8) != 0xBE || byte(g>>8) != 0xAD || byte(b>>8) != 0xDE {
		t.Errorf("pixel 0 = (%02x, %02x, %02x), want (be, ad, de)", r>>8, g>>8, b>>8)
	}
	r, g, b, _ = decoded.At(1, 0).RGBA()
	if byte(r>>8) != 0xBA || byte(g>>8) != 0xFE || byte(b>>8) != 0xCA {
		t.Errorf("pixel 1 = (%02x, %02x, %02x), want (ba, fe, ca)", r>>8, g>>8, b>>8)
	}
}

func TestEncodePNGRGBOrder(t *testing.T) {
	image, err := encodePNG(harnessPixels, 2, 1, 8, 32, true)
	if err != nil {
		t.Fatalf("encodePNG: %v", err)
	}

	decoded, err := png.Decode(bytes.NewReader(image.Bytes))
	if err != nil {
		t.Fatalf("decoding the produced PNG: %v", err)
	}

	r, g, b, _ := decoded.At(0, 0).RGBA()
	if byte(r>>8) != 0xDE || byte(g>>8) != 0xAD || byte(b>>8) != 0xBE {
		t.Errorf("pixel 0 = (%02x, %02x, %02x), want (de, ad, be)", r>>8, g>>8, b>>8)
	}
}

func TestEncodePNGHonorsPitch(t *testing.T) {
	// One pixel per row, pitch 8: the second half of each row is padding.
	pixels := []byte{
		0x11, 0x22, 0x33, 0x00, 0xAA, 0xBB, 0xCC, 0xDD,
		0x44, 0x55, 0x66, 0x00, 0xEE, 0xFF, 0x00, 0x11,
	}
	image, err := encodePNG(pixels, 1, 2, 8, 32, false)
	if err != nil {
		t.Fatalf("encodePNG: %v", err)
	}

	decoded, err := png.Decode(bytes.NewReader(image.Bytes))
	if err != nil {
		t.Fatalf("decoding the produced PNG: %v", err)
	}
	r, g, b, _ := decoded.At(0, 1).RGBA()
	if byte(r>>8) != 0x66 || byte(g>>8) != 0x55 || byte(b>>8) != 0x44 {
		t.Errorf("row 1 pixel = (%02x, %02x, %02x), want (66, 55, 44)", r>>8, g>>8, b>>8)
	}
}

func TestEncodePNGRejectsOddDepth(t *testing.T) {
	if _, err := encodePNG(harnessPixels, 2, 1, 8, 16, false); err == nil {
		t.Error("16 bpp should be rejected")
	}
}

func TestEncodeBMP(t *testing.T) {
	image, err := encodeBMP(harnessPixels, 2, 1, 8)
	if err != nil {
		t.Fatalf("encodeBMP: %v", err)
	}
	if image.Encoding != EncodingBMP {
		t.Fatalf("encoding = %v, want BMP", image.Encoding)
	}
	if len(image.Bytes) != bmpHeaderSize+8 {
		t.Fatalf("BMP length = %d, want %d", len(image.Bytes), bmpHeaderSize+8)
	}

	if image.Bytes[0] != 'B' || image.Bytes[1] != 'M' {
		t.Error("BMP magic missing")
	}
	if size := binary.LittleEndian.Uint32(image.Bytes[2:]); size != uint32(bmpHeaderSize+8) {
		t.Errorf("declared size = %d, want %d", size, bmpHeaderSize+8)
	}
	if !bytes.Equal(image.Bytes[bmpHeaderSize:], harnessPixels) {
		t.Error("pixel payload was altered")
	}
}

func TestEncodeBMPTruncatedBuffer(t *testing.T) {
	if _, err := encodeBMP(harnessPixels[:4], 2, 1, 8); err == nil {
		t.Error("a truncated buffer should be rejected")
	}
}

func TestFormatScreenList(t *testing.T) {
	listing := formatScreenList([]crtcInfo{
		{ID: 42, ModeValid: true},
		{ID: 43, ModeValid: false},
	})
	want := "CRTC: ID=42, mode_valid=1\nCRTC: ID=43, mode_valid=0\n"
	if listing != want {
		t.Errorf("listing = %q, want %q", listing, want)
	}

	if formatScreenList(nil) != "" {
		t.Error("an empty CRTC table should produce an empty listing")
	}
}

func TestImageDataMetadata(t *testing.T) {
	pngData := &ImageData{Encoding: EncodingPNG}
	if pngData.Extension() != ".png" || pngData.ContentType() != "image/png" {
		t.Errorf("png metadata = (%s, %s)", pngData.Extension(), pngData.ContentType())
	}
	bmpData := &ImageData{Encoding: EncodingBMP}
	if bmpData.Extension() != ".bmp" || bmpData.ContentType() != "image/bmp" {
		t.Errorf("bmp metadata = (%s, %s)", bmpData.Extension(), bmpData.ContentType())
	}
}

func TestFrameCache(t *testing.T) {
	cache := NewFrameCache()
	if _, ok := cache.Snapshot(); ok {
		t.Fatal("an empty cache should have no snapshot")
	}

	source := &Frame{Pixels: []byte{1, 2, 3, 4}, Width: 1, Height: 1, Pitch: 4, BPP: 32}
	cache.Publish(source)

	frame, ok := cache.Snapshot()
	if !ok {
		t.Fatal("published frame not visible")
	}
	if !bytes.Equal(frame.Pixels, source.Pixels) {
		t.Errorf("snapshot pixels = %v, want %v", frame.Pixels, source.Pixels)
	}

	// The cache holds a copy, not the caller's buffer.
	source.Pixels[0] = 0xFF
	if frame.Pixels[0] == 0xFF {
		t.Error("snapshot aliases the published buffer")
	}

	var nilCache *FrameCache
	if _, ok := nilCache.Snapshot(); ok {
		t.Error("a nil cache should have no snapshot")
	}
}
