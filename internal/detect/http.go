package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/banshee-data/footfall.report/internal/httputil"
)

// PersonClass is the detector class counted by the pipeline.
const PersonClass = "person"

// HTTPDetector posts JPEG frames to a detection service exposing
// POST /detect and GET /health.
type HTTPDetector struct {
	endpoint string
	client   httputil.Doer
	classes  string
	quality  int
}

type detectionJSON struct {
	Class      string    `json:"class"`
	ClassID    int       `json:"class_id"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"` // [x1, y1, x2, y2]
}

type detectResponse struct {
	Detections      []detectionJSON `json:"detections"`
	Count           int             `json:"count"`
	InferenceTimeMs float64         `json:"inference_time_ms"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status       string `json:"status"`
	Device       string `json:"device"`
	GPUAvailable bool   `json:"gpu_available"`
	ModelLoaded  bool   `json:"model_loaded"`
}

// NewHTTPDetector returns a detector for the service at endpoint. A zero
// timeout uses 15s.
func NewHTTPDetector(endpoint string, timeout time.Duration) *HTTPDetector {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPDetector{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
		classes:  PersonClass,
		quality:  85,
	}
}

// WithClient replaces the HTTP client. A nil client is ignored.
func (d *HTTPDetector) WithClient(c httputil.Doer) *HTTPDetector {
	if c != nil {
		d.client = c
	}
	return d
}

// Detect encodes frame as JPEG, posts it and returns the person detections
// at or above confidence.
func (d *HTTPDetector) Detect(ctx context.Context, frame image.Image, confidence float64) ([]Detection, error) {
	var img bytes.Buffer
	if err := jpeg.Encode(&img, frame, &jpeg.Options{Quality: d.quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fw, err := w.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(img.Bytes()); err != nil {
		return nil, err
	}
	if err := w.WriteField("conf_threshold", fmt.Sprintf("%.3f", confidence)); err != nil {
		return nil, err
	}
	if err := w.WriteField("classes_filter", d.classes); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"/detect", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detect request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("detect returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode detect response: %w", err)
	}

	bounds := frame.Bounds()
	dets := make([]Detection, 0, len(result.Detections))
	for _, r := range result.Detections {
		if r.Class != PersonClass || r.Confidence < confidence || len(r.BBox) != 4 {
			continue
		}
		box := image.Rect(int(r.BBox[0]), int(r.BBox[1]), int(r.BBox[2]), int(r.BBox[3])).Intersect(bounds)
		if box.Empty() {
			continue
		}
		dets = append(dets, Detection{Box: box, Confidence: r.Confidence, Class: r.Class})
	}
	return dets, nil
}

// Health queries GET /health.
func (d *HTTPDetector) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	var h HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("decode health response: %w", err)
	}
	return &h, nil
}

// Ready reports whether the service answered and has its model loaded.
func (d *HTTPDetector) Ready(ctx context.Context) bool {
	h, err := d.Health(ctx)
	return err == nil && h.ModelLoaded
}
