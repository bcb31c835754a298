package fingerprint

import (
	"bytes"
	"image"
	"image/color"
	"testing"
)

func TestResizeImage_SmallImageUnchanged(t *testing.T) {
	data := encodeJPEG(t, createTestImage(100, 100, color.White))

	result, err := ResizeImage(data, 2000)
	if err != nil {
		t.Fatalf("ResizeImage failed: %v", err)
	}
	if !bytes.Equal(result, data) {
		t.Error("image within bounds should be returned unchanged")
	}
}

func TestResizeImage_DownscalesLandscape(t *testing.T) {
	data := encodeJPEG(t, createTestImage(2400, 1200, color.RGBA{10, 120, 200, 255}))

	result, err := ResizeImage(data, 2000)
	if err != nil {
		t.Fatalf("ResizeImage failed: %v", err)
	}

	img, _, err := image.Decode(bytes.NewReader(result))
	if err != nil {
		t.Fatalf("failed to decode resized image: %v", err)
	}
	if img.Bounds().Dx() != 2000 || img.Bounds().Dy() != 1000 {
		t.Errorf("resized to %dx%d, want 2000x1000", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestResizeImage_DownscalesPortrait(t *testing.T) {
	data := encodeJPEG(t, createTestImage(1200, 2400, color.RGBA{10, 120, 200, 255}))

	result, err := ResizeImage(data, 2000)
	if err != nil {
		t.Fatalf("ResizeImage failed: %v", err)
	}

	img, _, err := image.Decode(bytes.NewReader(result))
	if err != nil {
		t.Fatalf("failed to decode resized image: %v", err)
	}
	if img.Bounds().Dx() != 1000 || img.Bounds().Dy() != 2000 {
		t.Errorf("resized to %dx%d, want 1000x2000", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestResizeImage_InvalidData(t *testing.T) {
	if _, err := ResizeImage([]byte("not an image"), 2000); err == nil {
		t.Error("expected error for undecodable data")
	}
}
