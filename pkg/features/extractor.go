// Package features computes the color, texture and vascular descriptors of a
// nail-bed ROI.
package features

import (
	"context"
	"errors"
	"fmt"
	"image"

	"go.uber.org/zap"

	"github.com/menta2k/nailscan/pkg/imgproc"
	"github.com/menta2k/nailscan/pkg/types"
)

// ErrNonFinite is returned when a feature evaluates to NaN or infinity.
var ErrNonFinite = errors.New("feature vector contains non-finite values")

// Config holds the descriptor parameters
type Config struct {
	GLCMLevels int

	LBPPoints int
	LBPRadius float64

	FrangiSigmas     []float64
	FrangiBeta       float64
	VesselPercentile float64
	OrientationBins  int
}

// DefaultConfig returns the descriptor parameters for 256px ROIs.
func DefaultConfig() Config {
	return Config{
		GLCMLevels:       16,
		LBPPoints:        24,
		LBPRadius:        3,
		FrangiSigmas:     []float64{1, 2, 3, 4},
		FrangiBeta:       0.5,
		VesselPercentile: 90,
		OrientationBins:  18,
	}
}

// Extractor computes feature vectors
type Extractor struct {
	config Config
	logger *zap.Logger
}

// New creates an Extractor with default configuration
func New() *Extractor {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates an Extractor with custom configuration
func NewWithConfig(config Config) *Extractor {
	return &Extractor{config: config, logger: zap.NewNop()}
}

func (e *Extractor) SetLogger(l *zap.Logger) {
	if l != nil {
		e.logger = l
	}
}

// Extract computes all 21 features. Color statistics are restricted to the
// mask when it has any set pixel; texture and vascular descriptors always use
// the whole ROI.
func (e *Extractor) Extract(ctx context.Context, roi *image.NRGBA, mask *imgproc.Mask) (types.FeatureVector, error) {
	var fv types.FeatureVector
	b := roi.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return fv, fmt.Errorf("cannot extract features from an empty ROI")
	}
	if mask != nil && (mask.Width != w || mask.Height != h) {
		mask = mask.ResizeNearest(w, h)
	}

	fv.Color = Color(roi, mask)

	gray := imgproc.Gray(roi)
	contrast, homogeneity, energy, entropy := GLCM(gray, e.config.GLCMLevels)
	fv.Texture = types.TextureFeatures{
		GLCMContrast:    contrast,
		GLCMHomogeneity: homogeneity,
		GLCMEnergy:      energy,
		GLCMEntropy:     entropy,
		LBPUniformity:   LBPUniformity(gray, e.config.LBPPoints, e.config.LBPRadius),
		FFTHighFreq:     imgproc.HighFrequencyPower(gray),
	}

	if err := ctx.Err(); err != nil {
		return fv, err
	}

	fv.Vascular = e.vascular(imgproc.Channel(roi, 1))

	if !fv.Finite() {
		e.logger.Error("non-finite features", zap.Any("features", fv.Values()))
		return fv, ErrNonFinite
	}
	e.logger.Debug("features extracted",
		zap.Float64("mean_L", fv.Color.MeanL),
		zap.Float64("ratio_R_G", fv.Color.RatioRG),
		zap.Float64("vessel_density", fv.Vascular.Density))
	return fv, nil
}
