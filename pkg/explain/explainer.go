// Package explain attributes a prediction to its input features and renders
// a saliency overlay on the ROI.
package explain

import (
	"context"
	"image"

	"go.uber.org/zap"

	"github.com/menta2k/nailscan/pkg/imgproc"
	"github.com/menta2k/nailscan/pkg/types"
)

// HeatmapBackend produces gradient-weighted activation maps from a trained
// model. The map may have any size and is rescaled to the ROI.
type HeatmapBackend interface {
	Ready(ctx context.Context) bool
	Heatmap(ctx context.Context, roi *image.NRGBA, input [types.ModelInputSize]float64) (*imgproc.Plane, error)
}

// Config holds the explainer parameters
type Config struct {
	MinImportance   float64
	TopFeatures     int
	InterpretTop    int
	OverlayAlpha    float64
	BlurKernel      int
	MinCenterWeight float64
	Gamma           float64
}

// DefaultConfig returns the default explainer parameters.
func DefaultConfig() Config {
	return Config{
		MinImportance:   0.01,
		TopFeatures:     5,
		InterpretTop:    3,
		OverlayAlpha:    0.5,
		BlurKernel:      15,
		MinCenterWeight: 0.3,
		Gamma:           0.8,
	}
}

// Result carries the attribution and the rendered overlay.
type Result struct {
	Attribution types.Attribution
	Heatmap     *imgproc.Plane
	Overlay     *image.NRGBA
}

// Explainer produces attributions and overlays
type Explainer struct {
	config  Config
	backend HeatmapBackend
	logger  *zap.Logger
}

// New creates an Explainer with default configuration
func New() *Explainer {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates an Explainer with custom configuration
func NewWithConfig(config Config) *Explainer {
	return &Explainer{config: config, logger: zap.NewNop()}
}

// SetBackend installs a trained heatmap backend.
func (e *Explainer) SetBackend(b HeatmapBackend) {
	e.backend = b
}

func (e *Explainer) SetLogger(l *zap.Logger) {
	if l != nil {
		e.logger = l
	}
}

// Explain ranks the features and renders the saliency overlay. Heatmap
// failures degrade to simpler maps and never fail the call.
func (e *Explainer) Explain(ctx context.Context, roi *image.NRGBA, fv types.FeatureVector, pred types.Prediction) (*Result, error) {
	ranked := Attribute(fv, e.config.MinImportance)
	attr := types.Attribution{
		TopFeatures:    ranked[:min(e.config.TopFeatures, len(ranked))],
		AllFeatures:    ranked,
		Interpretation: Interpret(ranked, e.config.InterpretTop),
		Method:         MethodFormula,
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hm, path := e.heatmap(ctx, roi, fv)
	attr.HeatmapPath = path

	fields := []zap.Field{zap.String("heatmap_path", string(path)), zap.Int("features", len(ranked))}
	if len(ranked) > 0 {
		fields = append(fields, zap.String("top_feature", ranked[0].Name))
	}
	if pred.Hb != nil {
		fields = append(fields, zap.Float64("hb", *pred.Hb))
	}
	e.logger.Info("explanation generated", fields...)

	return &Result{
		Attribution: attr,
		Heatmap:     hm,
		Overlay:     Overlay(roi, hm, e.config.OverlayAlpha),
	}, nil
}

// heatmap walks the chain: trained backend, color approximation, centered
// blob.
func (e *Explainer) heatmap(ctx context.Context, roi *image.NRGBA, fv types.FeatureVector) (*imgproc.Plane, types.Path) {
	b := roi.Bounds()
	if e.backend != nil && e.backend.Ready(ctx) {
		hm, err := e.backend.Heatmap(ctx, roi, fv.ModelInput())
		if err == nil && hm != nil && hm.Width > 0 && hm.Height > 0 && hm.Finite() {
			return Resize(hm, b.Dx(), b.Dy()), types.PathPrimary
		}
		e.logger.Warn("heatmap backend failed, using approximation", zap.Error(err))
	}

	hm, err := ApproximateHeatmap(roi, e.config.BlurKernel, e.config.MinCenterWeight, e.config.Gamma)
	if err == nil {
		return hm, types.PathFallbackApproximation
	}
	e.logger.Warn("heatmap approximation failed, using centered blob",
		zap.String("path", string(types.PathFallbackBlob)), zap.Error(err))
	return BlobHeatmap(b.Dx(), b.Dy()), types.PathFallbackBlob
}
