// Package segmentation locates the nail bed in a preprocessed image and cuts
// out a fixed-size region of interest around it.
package segmentation

import (
	"context"
	"fmt"
	"image"
	"math"

	"go.uber.org/zap"

	"github.com/menta2k/nailscan/pkg/imgproc"
	"github.com/menta2k/nailscan/pkg/types"
)

// MaskPredictor returns a probability map in [0,1] with the same size as img.
type MaskPredictor interface {
	PredictMask(ctx context.Context, img *image.NRGBA) (*imgproc.Plane, error)
}

// Config holds the mask cleanup and ROI parameters
type Config struct {
	Threshold   float64
	OpenKernel  int
	CloseKernel int
	Padding     int
	ROISize     int
	// FallbackFraction sizes the centered crop used when the mask is empty,
	// relative to the shorter image side.
	FallbackFraction float64
	MaxOverlap       float64
}

// DefaultConfig returns the parameters used with 512px inputs.
func DefaultConfig() Config {
	return Config{
		Threshold:        0.5,
		OpenKernel:       5,
		CloseKernel:      7,
		Padding:          10,
		ROISize:          256,
		FallbackFraction: 0.5,
		MaxOverlap:       0.95,
	}
}

// Result is the output of Segment. Mask is aligned with ROI and may be
// empty when the centered fallback was used.
type Result struct {
	ROI    *image.NRGBA
	Mask   *imgproc.Mask
	Report types.SegmentationReport
}

// Segmenter turns probability masks into a ROI
type Segmenter struct {
	config    Config
	predictor MaskPredictor
	logger    *zap.Logger
}

// New creates a Segmenter with default configuration backed by the color
// heuristic predictor
func New() *Segmenter {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a Segmenter with custom configuration
func NewWithConfig(config Config) *Segmenter {
	return &Segmenter{
		config:    config,
		predictor: PseudoMaskPredictor{},
		logger:    zap.NewNop(),
	}
}

// SetPredictor replaces the mask predictor
func (s *Segmenter) SetPredictor(p MaskPredictor) {
	if p != nil {
		s.predictor = p
	}
}

func (s *Segmenter) SetLogger(l *zap.Logger) {
	if l != nil {
		s.logger = l
	}
}

// Segment predicts a mask, keeps its largest cleaned component and extracts
// the padded bounding box as a square ROI. An empty mask falls back to a
// centered crop, so the ROI is never empty.
func (s *Segmenter) Segment(ctx context.Context, img *image.NRGBA) (*Result, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("cannot segment an empty image")
	}

	prob, err := s.predictor.PredictMask(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("mask prediction failed: %w", err)
	}
	if prob == nil {
		return nil, fmt.Errorf("mask predictor returned no mask")
	}
	if prob.Width != w || prob.Height != h {
		return nil, fmt.Errorf("mask is %dx%d, image is %dx%d", prob.Width, prob.Height, w, h)
	}
	if !prob.Finite() {
		return nil, fmt.Errorf("mask contains non-finite probabilities")
	}

	mask := CleanMask(imgproc.Threshold(prob, s.config.Threshold), s.config.OpenKernel, s.config.CloseKernel)
	coverage := mask.Coverage()

	path := types.PathPrimary
	rect, ok := mask.BoundingBox()
	if ok {
		rect = image.Rect(
			rect.Min.X-s.config.Padding, rect.Min.Y-s.config.Padding,
			rect.Max.X+s.config.Padding, rect.Max.Y+s.config.Padding,
		).Intersect(image.Rect(0, 0, w, h))
	} else {
		rect = centerSquare(w, h, s.config.FallbackFraction)
		path = types.PathFallbackCenterCrop
		s.logger.Warn("segmentation mask is empty, using center crop",
			zap.String("path", string(path)))
	}

	roi, roiMask := FitSquare(img, mask, rect, s.config.ROISize)

	report := types.SegmentationReport{
		OverlapEstimate: math.Min(2*coverage, s.config.MaxOverlap),
		Coverage:        coverage,
		ROI:             types.Rect{X: rect.Min.X, Y: rect.Min.Y, W: rect.Dx(), H: rect.Dy()},
		Path:            path,
	}
	s.logger.Info("nail bed segmented",
		zap.String("path", string(path)),
		zap.Float64("coverage", coverage),
		zap.Any("roi", report.ROI))
	return &Result{ROI: roi, Mask: roiMask, Report: report}, nil
}

// CleanMask removes speckle, keeps the largest 8-connected component and
// smooths its boundary.
func CleanMask(m *imgproc.Mask, openSize, closeSize int) *imgproc.Mask {
	m = imgproc.Open(m, imgproc.EllipseKernel(openSize))
	m = imgproc.LargestComponent(m)
	return imgproc.Close(m, imgproc.EllipseKernel(closeSize))
}

func centerSquare(w, h int, fraction float64) image.Rectangle {
	side := max(int(float64(min(w, h))*fraction), 1)
	x := w/2 - side/2
	y := h/2 - side/2
	return image.Rect(x, y, x+side, y+side)
}
