// Package inference talks to an external model server that hosts the
// trained segmentation, regression and saliency networks.
package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/menta2k/nailscan/pkg/imgproc"
	"github.com/menta2k/nailscan/pkg/prediction"
	"github.com/menta2k/nailscan/pkg/processing"
	"github.com/menta2k/nailscan/pkg/types"
)

// DefaultTimeout bounds requests whose context has no deadline.
const DefaultTimeout = 60 * time.Second

// Client implements segmentation.MaskPredictor, prediction.Model and
// explain.HeatmapBackend over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	processor  *processing.Processor
	// Layer names the convolutional layer used for saliency maps.
	Layer string
}

type imageRequest struct {
	Image    string    `json:"image"`
	Features []float64 `json:"features,omitempty"`
	Layer    string    `json:"layer,omitempty"`
}

// planeResponse is a row-major float map.
type planeResponse struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Values []float64 `json:"values"`
}

type predictResponse struct {
	Hb    float64   `json:"hb"`
	Probs []float64 `json:"probs"`
}

// HealthResponse is returned by the /health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Trained bool   `json:"trained"`
	Version string `json:"version,omitempty"`
}

func NewClient(serverURL string) (*Client, error) {
	if serverURL == "" {
		serverURL = "http://localhost:8500"
	}
	if !strings.HasPrefix(serverURL, "http://") && !strings.HasPrefix(serverURL, "https://") {
		return nil, fmt.Errorf("invalid inference server URL %q", serverURL)
	}
	return &Client{
		baseURL:    strings.TrimSuffix(serverURL, "/"),
		httpClient: &http.Client{Timeout: 2 * DefaultTimeout},
		processor:  processing.NewProcessor(),
		Layer:      "last_conv",
	}, nil
}

// Health queries the server status.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	body, err := c.send(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return nil, err
	}
	var h HealthResponse
	if err := json.Unmarshal(body, &h); err != nil {
		return nil, fmt.Errorf("failed to parse health response: %w", err)
	}
	return &h, nil
}

// Ready reports whether the server is up and serving trained weights.
func (c *Client) Ready(ctx context.Context) bool {
	h, err := c.Health(ctx)
	return err == nil && h.Status == "ok" && h.Trained
}

// PredictMask returns the nail-bed probability map for img.
func (c *Client) PredictMask(ctx context.Context, img *image.NRGBA) (*imgproc.Plane, error) {
	req, err := c.imageRequest(img, nil, "")
	if err != nil {
		return nil, err
	}
	var resp planeResponse
	if err := c.post(ctx, "/segment", req, &resp); err != nil {
		return nil, err
	}
	return resp.plane()
}

// Forward runs one stochastic pass of the hemoglobin model.
func (c *Client) Forward(ctx context.Context, roi *image.NRGBA, input [types.ModelInputSize]float64) (prediction.PassResult, error) {
	req, err := c.imageRequest(roi, input[:], "")
	if err != nil {
		return prediction.PassResult{}, err
	}
	var resp predictResponse
	if err := c.post(ctx, "/predict", req, &resp); err != nil {
		return prediction.PassResult{}, err
	}
	if len(resp.Probs) != len(types.Stages) {
		return prediction.PassResult{}, fmt.Errorf("expected %d class probabilities, got %d", len(types.Stages), len(resp.Probs))
	}
	r := prediction.PassResult{Hb: resp.Hb}
	copy(r.Probs[:], resp.Probs)
	return r, nil
}

// Heatmap requests a gradient-weighted activation map.
func (c *Client) Heatmap(ctx context.Context, roi *image.NRGBA, input [types.ModelInputSize]float64) (*imgproc.Plane, error) {
	req, err := c.imageRequest(roi, input[:], c.Layer)
	if err != nil {
		return nil, err
	}
	var resp planeResponse
	if err := c.post(ctx, "/heatmap", req, &resp); err != nil {
		return nil, err
	}
	return resp.plane()
}

func (c *Client) imageRequest(img image.Image, features []float64, layer string) (imageRequest, error) {
	data, err := c.processor.Encode(img, "png", 0)
	if err != nil {
		return imageRequest{}, fmt.Errorf("failed to encode image: %w", err)
	}
	return imageRequest{
		Image:    base64.StdEncoding.EncodeToString(data),
		Features: features,
		Layer:    layer,
	}, nil
}

func (r planeResponse) plane() (*imgproc.Plane, error) {
	if r.Width <= 0 || r.Height <= 0 || len(r.Values) != r.Width*r.Height {
		return nil, fmt.Errorf("malformed map: %dx%d with %d values", r.Width, r.Height, len(r.Values))
	}
	return &imgproc.Plane{Width: r.Width, Height: r.Height, Pix: r.Values}, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload, out any) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	body, err := c.send(ctx, http.MethodPost, endpoint, jsonData)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", endpoint, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
