package fingerprint

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func createTestImage(width, height int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func faceJSON(t *testing.T, resp faceResponse) []byte {
	t.Helper()
	body, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("failed to marshal response: %v", err)
	}
	return body
}

func TestDetectAndEmbed_MapsFaces(t *testing.T) {
	response := faceResponse{
		FacesCount: 2,
		Faces: []faceDetection{
			{FaceIndex: 0, Dim: 4, Embedding: []float32{1, 0, 0, 0}, BBox: []float64{10, 10, 60, 60}, DetScore: 0.98},
			{FaceIndex: 1, Dim: 4, Embedding: []float32{0, 1, 0, 0}, BBox: []float64{80, 20, 120, 70}, DetScore: 0.91},
		},
		Model: "buffalo_l",
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write(faceJSON(t, response))
	}))
	defer server.Close()

	client := NewClient(server.URL, "buffalo_l", time.Second)
	faces, err := client.DetectAndEmbed(context.Background(), encodeJPEG(t, createTestImage(50, 50, color.White)))
	if err != nil {
		t.Fatalf("DetectAndEmbed failed: %v", err)
	}

	if len(faces) != 2 {
		t.Fatalf("got %d faces, want 2", len(faces))
	}
	if faces[0].FaceIndex != 0 || faces[1].FaceIndex != 1 {
		t.Errorf("face indexes = %d,%d, want 0,1", faces[0].FaceIndex, faces[1].FaceIndex)
	}
	if faces[0].Model != "buffalo_l" || faces[1].Model != "buffalo_l" {
		t.Error("model from the response should be carried on every face")
	}
	if faces[1].DetScore != 0.91 {
		t.Errorf("det score = %v, want 0.91", faces[1].DetScore)
	}
	if len(faces[0].Embedding) != 4 || faces[0].Embedding[0] != 1 {
		t.Errorf("embedding not mapped: %v", faces[0].Embedding)
	}
}

func TestDetectAndEmbed_ZeroFacesIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(faceJSON(t, faceResponse{FacesCount: 0, Faces: []faceDetection{}, Model: "buffalo_l"}))
	}))
	defer server.Close()

	client := NewClient(server.URL, "buffalo_l", time.Second)
	faces, err := client.DetectAndEmbed(context.Background(), encodeJPEG(t, createTestImage(50, 50, color.White)))
	if err != nil {
		t.Fatalf("zero faces should not be an error: %v", err)
	}
	if faces == nil || len(faces) != 0 {
		t.Errorf("faces = %v, want empty slice", faces)
	}
}

func TestDetectAndEmbed_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, "buffalo_l", time.Second)
	_, err := client.DetectAndEmbed(context.Background(), encodeJPEG(t, createTestImage(50, 50, color.White)))
	if err == nil {
		t.Fatal("expected error for a 500 response")
	}
}

func TestDetectAndEmbed_SendsMIMETypedMultipart(t *testing.T) {
	var gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file part: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		gotContentType = header.Header.Get("Content-Type")
		w.Write(faceJSON(t, faceResponse{Model: "buffalo_l"}))
	}))
	defer server.Close()

	client := NewClient(server.URL, "buffalo_l", time.Second)
	if _, err := client.DetectAndEmbed(context.Background(), encodeJPEG(t, createTestImage(50, 50, color.White))); err != nil {
		t.Fatalf("DetectAndEmbed failed: %v", err)
	}
	if gotContentType != "image/jpeg" {
		t.Errorf("part content type = %q, want image/jpeg", gotContentType)
	}
}

func TestDetectAndEmbed_DownscalesLargeUploads(t *testing.T) {
	var uploadedWidth, uploadedHeight int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		img, _, err := image.Decode(file)
		if err != nil {
			http.Error(w, "bad image", http.StatusBadRequest)
			return
		}
		uploadedWidth = img.Bounds().Dx()
		uploadedHeight = img.Bounds().Dy()
		w.Write(faceJSON(t, faceResponse{Model: "buffalo_l"}))
	}))
	defer server.Close()

	client := NewClient(server.URL, "buffalo_l", 5*time.Second)
	large := encodeJPEG(t, createTestImage(2400, 1200, color.RGBA{200, 180, 160, 255}))
	if _, err := client.DetectAndEmbed(context.Background(), large); err != nil {
		t.Fatalf("DetectAndEmbed failed: %v", err)
	}

	if uploadedWidth != 2000 || uploadedHeight != 1000 {
		t.Errorf("uploaded image = %dx%d, want downscaled 2000x1000", uploadedWidth, uploadedHeight)
	}
}

func TestDetectAndEmbed_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, "buffalo_l", time.Second)
	img := encodeJPEG(t, createTestImage(50, 50, color.White))
	ctx := context.Background()

	for i := 0; i < breakerConsecutiveFailures; i++ {
		if _, err := client.DetectAndEmbed(ctx, img); err == nil {
			t.Fatalf("call %d should have failed", i+1)
		}
	}

	_, err := client.DetectAndEmbed(ctx, img)
	if !IsCircuitOpen(err) {
		t.Fatalf("err = %v, want open circuit after %d failures", err, breakerConsecutiveFailures)
	}
	if got := hits.Load(); got != breakerConsecutiveFailures {
		t.Errorf("server hits = %d, want %d (open circuit must not reach the sidecar)", got, breakerConsecutiveFailures)
	}
}

func TestDetectMIMEType(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected string
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46}, "image/jpeg"},
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, "image/png"},
		{"gif", []byte{0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x00, 0x00}, "image/gif"},
		{"webp", []byte{0x52, 0x49, 0x46, 0x46, 0x00, 0x00, 0x00, 0x00, 0x57, 0x45, 0x42, 0x50}, "image/webp"},
		{"too short", []byte{0xFF, 0xD8}, "application/octet-stream"},
		{"unknown", []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}, "application/octet-stream"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := detectMIMEType(tc.data); got != tc.expected {
				t.Errorf("detectMIMEType = %q, want %q", got, tc.expected)
			}
		})
	}
}
