// Package preprocess normalizes a validated photo so that lighting and skin
// tone affect downstream features as little as possible.
package preprocess

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/menta2k/nailscan/pkg/colorspace"
	"github.com/menta2k/nailscan/pkg/imgproc"
	"github.com/menta2k/nailscan/pkg/types"
)

// Config holds the normalization parameters
type Config struct {
	TargetSize int
	Seed       int64

	WhiteBalanceGain float64

	// glare: bright and unsaturated, both on the 8-bit scale
	GlareMinValue      float64
	GlareMaxSaturation float64
	GlareMinCoverage   float64
	InpaintRadius      int

	ToneClusters    int
	BorderFraction  int
	MinBorderPixels int
	ClusterSamples  int
	ClusterRestarts int

	TargetLightness float64
	MinScale        float64
	MaxScale        float64

	CLAHEClip  float64
	CLAHETiles int
}

// DefaultConfig returns the normalization used for 512px analysis.
func DefaultConfig() Config {
	return Config{
		TargetSize:         512,
		Seed:               42,
		WhiteBalanceGain:   1.1,
		GlareMinValue:      200,
		GlareMaxSaturation: 50,
		GlareMinCoverage:   0.01,
		InpaintRadius:      3,
		ToneClusters:       5,
		BorderFraction:     10,
		MinBorderPixels:    100,
		ClusterSamples:     4096,
		ClusterRestarts:    10,
		TargetLightness:    180,
		MinScale:           0.7,
		MaxScale:           1.3,
		CLAHEClip:          2.0,
		CLAHETiles:         8,
	}
}

// Preprocessor runs the normalization chain
type Preprocessor struct {
	config Config
	logger *zap.Logger
}

// New creates a Preprocessor with default configuration
func New() *Preprocessor {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a Preprocessor with custom configuration
func NewWithConfig(config Config) *Preprocessor {
	return &Preprocessor{config: config, logger: zap.NewNop()}
}

func (p *Preprocessor) SetLogger(l *zap.Logger) {
	if l != nil {
		p.logger = l
	}
}

// Process center-crops to a square, resizes to the target size, then applies
// white balance, glare removal, tone normalization and local contrast
// equalization. The result is always TargetSize x TargetSize.
func (p *Preprocessor) Process(ctx context.Context, img image.Image) (*image.NRGBA, types.PreprocessingReport, error) {
	var report types.PreprocessingReport
	b := img.Bounds()
	side := min(b.Dx(), b.Dy())
	if side == 0 {
		return nil, report, fmt.Errorf("cannot preprocess an empty image")
	}

	square := imaging.CropCenter(img, side, side)
	out := imaging.Resize(square, p.config.TargetSize, p.config.TargetSize, imaging.Lanczos)

	out = p.whiteBalance(out)

	glare := p.glareMask(out)
	report.GlareCoverage = glare.Coverage()
	if report.GlareCoverage > p.config.GlareMinCoverage {
		out = imgproc.Inpaint(out, glare, p.config.InpaintRadius)
		report.GlareInpainted = true
		p.logger.Debug("glare inpainted", zap.Float64("coverage", report.GlareCoverage))
	}

	if err := ctx.Err(); err != nil {
		return nil, report, err
	}

	lab := colorspace.ToLab(out)
	cluster, mean := p.toneCluster(lab)
	report.ToneCluster = cluster
	report.LabMean = mean

	report.ScalingFactor = p.normalizeTone(lab, mean[0])

	lab.L = imgproc.CLAHE(&imgproc.Plane{Width: lab.Width, Height: lab.Height, Pix: lab.L}, p.config.CLAHEClip, p.config.CLAHETiles).Pix

	p.logger.Info("image preprocessed",
		zap.Int("tone_cluster", cluster),
		zap.Float64("scaling_factor", report.ScalingFactor),
		zap.Float64("glare_coverage", report.GlareCoverage))
	return lab.ToNRGBA(), report, nil
}

// whiteBalance pulls the average chroma toward neutral, weighted by
// lightness so that shadows are corrected less than highlights.
func (p *Preprocessor) whiteBalance(img *image.NRGBA) *image.NRGBA {
	lab := colorspace.ToLab(img)
	mean := lab.Mean(nil)
	gain := p.config.WhiteBalanceGain
	for i := range lab.L {
		weight := lab.L[i] / 255 * gain
		lab.A[i] = clamp(lab.A[i]-(mean[1]-128)*weight, 0, 255)
		lab.B[i] = clamp(lab.B[i]-(mean[2]-128)*weight, 0, 255)
	}
	return lab.ToNRGBA()
}

// glareMask marks specular highlights: very bright pixels with little
// saturation.
func (p *Preprocessor) glareMask(img *image.NRGBA) *imgproc.Mask {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	m := imgproc.NewMask(w, h)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			_, s, v := colorspace.RGBToHSV(row[x*4], row[x*4+1], row[x*4+2])
			m.Pix[y*w+x] = v*255 >= p.config.GlareMinValue && s*255 <= p.config.GlareMaxSaturation
		}
	}
	return m
}

// toneCluster estimates skin tone from the image border, where the finger
// skin rather than the nail dominates, and matches the mean to one of the
// tone clusters.
func (p *Preprocessor) toneCluster(lab *colorspace.LabImage) (int, [3]float64) {
	w, h := lab.Width, lab.Height
	border := w / max(p.config.BorderFraction, 1)

	var idx []int
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < border || x >= w-border || y < border || y >= h-border {
				idx = append(idx, y*w+x)
			}
		}
	}
	if len(idx) < p.config.MinBorderPixels {
		idx = idx[:0]
		for i := range lab.L {
			idx = append(idx, i)
		}
	}

	points := make([][3]float64, len(idx))
	for i, j := range idx {
		points[i] = [3]float64{lab.L[j], lab.A[j], lab.B[j]}
	}
	mean := lab.Mean(idx)

	km := KMeans{
		K:          p.config.ToneClusters,
		Seed:       p.config.Seed,
		Restarts:   p.config.ClusterRestarts,
		MaxIter:    100,
		MaxSamples: p.config.ClusterSamples,
	}
	centroids := km.Fit(points)
	if len(centroids) == 0 {
		return 0, mean
	}
	return centroids.Nearest(mean), mean
}

// normalizeTone scales lightness toward the target, within bounds, and
// returns the factor used.
func (p *Preprocessor) normalizeTone(lab *colorspace.LabImage, meanL float64) float64 {
	factor := clamp(p.config.TargetLightness/(meanL+1e-6), p.config.MinScale, p.config.MaxScale)
	for i := range lab.L {
		lab.L[i] = clamp(math.Round(lab.L[i]*factor), 0, 255)
	}
	return factor
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
