// Package fingerprint talks to the face embedding sidecar: it uploads an
// image and gets back one embedding vector per detected face.
package fingerprint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
)

const (
	defaultSidecarURL = "http://localhost:8000"
	defaultModel      = "buffalo_l"
	defaultTimeout    = 60 * time.Second

	// Images above this dimension are downscaled before upload. Detection
	// quality is unaffected and the sidecar stops choking on 50MP scans.
	maxUploadDim = 2000

	breakerConsecutiveFailures = 5
	breakerOpenTimeout         = 30 * time.Second
)

// FaceVector is one detected face and its embedding.
type FaceVector struct {
	FaceIndex int
	Dim       int
	Embedding []float32
	BBox      []float64 // [x1, y1, x2, y2] in raw pixel coordinates
	DetScore  float64
	Model     string
}

// faceDetection is the wire form of a single detected face.
type faceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"`
	DetScore  float64   `json:"det_score"`
}

// faceResponse is the wire form of the face embedding endpoint response.
type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Client computes face embeddings using the embedding sidecar.
type Client struct {
	baseURL string
	model   string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]FaceVector]
}

// NewClient creates a sidecar client. The timeout bounds each embedding
// call; a circuit breaker fails fast once the sidecar stops answering.
func NewClient(baseURL, model string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultSidecarURL
	}
	if model == "" {
		model = defaultModel
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	settings := gobreaker.Settings{
		Name:        "detect-embed",
		MaxRequests: 1,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			// A call the caller cancelled says nothing about sidecar health.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("embedding sidecar circuit %s: %s -> %s", name, from.String(), to.String())
		},
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[[]FaceVector](settings),
	}
}

// Model returns the model name being used.
func (c *Client) Model() string {
	return c.model
}

// DetectAndEmbed uploads an image and returns one vector per detected face.
// Zero faces is a valid result: an empty slice and a nil error.
func (c *Client) DetectAndEmbed(ctx context.Context, imageData []byte) ([]FaceVector, error) {
	upload := imageData
	if resized, err := ResizeImage(imageData, maxUploadDim); err == nil {
		upload = resized
	}
	// On a decode failure the original bytes go up unchanged and the
	// sidecar reports its own error.

	return c.breaker.Execute(func() ([]FaceVector, error) {
		return c.postFaceEmbed(ctx, upload)
	})
}

// IsCircuitOpen reports whether an error means the sidecar circuit is open
// and calls are being rejected without reaching it.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// postFaceEmbed posts the image as a multipart form to the face endpoint.
// The part carries an explicit Content-Type from magic byte detection; the
// sidecar rejects octet-stream uploads.
func (c *Client) postFaceEmbed(ctx context.Context, imageData []byte) ([]FaceVector, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed/face", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sidecar error (status %d): %s", resp.StatusCode, string(body))
	}

	var faceResp faceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	faces := make([]FaceVector, 0, len(faceResp.Faces))
	for _, f := range faceResp.Faces {
		faces = append(faces, FaceVector{
			FaceIndex: f.FaceIndex,
			Dim:       f.Dim,
			Embedding: f.Embedding,
			BBox:      f.BBox,
			DetScore:  f.DetScore,
			Model:     faceResp.Model,
		})
	}
	return faces, nil
}

// detectMIMEType detects the MIME type from image data
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// GIF: 47 49 46 38
	if data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x38 {
		return "image/gif"
	}
	// WebP: 52 49 46 46 ... 57 45 42 50
	if len(data) >= 12 && data[0] == 0x52 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x46 &&
		data[8] == 0x57 && data[9] == 0x45 && data[10] == 0x42 && data[11] == 0x50 {
		return "image/webp"
	}
	return "application/octet-stream"
}
