// Package quality scores an image for sharpness, exposure and contrast and
// decides whether it is fit for analysis.
package quality

import (
	"context"
	"fmt"
	"image"

	"go.uber.org/zap"

	"github.com/menta2k/nailscan/pkg/imgproc"
	"github.com/menta2k/nailscan/pkg/types"
)

// Config holds the quality thresholds. Brightness is on the 8-bit gray scale.
type Config struct {
	MinSharpness  float64
	MinBrightness float64
	MaxBrightness float64
	MinContrast   float64
	// ClipHigh, ClipLow and ClipRatio drive the clipped highlight/shadow warning.
	ClipHigh  uint8
	ClipLow   uint8
	ClipRatio float64
}

// DefaultConfig returns thresholds for phone camera close-ups.
func DefaultConfig() Config {
	return Config{
		MinSharpness:  30,
		MinBrightness: 50,
		MaxBrightness: 220,
		MinContrast:   15,
		ClipHigh:      250,
		ClipLow:       5,
		ClipRatio:     0.05,
	}
}

// Controller assesses image quality
type Controller struct {
	config Config
	logger *zap.Logger
}

// New creates a Controller with default thresholds
func New() *Controller {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a Controller with custom thresholds
func NewWithConfig(config Config) *Controller {
	return &Controller{config: config, logger: zap.NewNop()}
}

func (c *Controller) SetLogger(l *zap.Logger) {
	if l != nil {
		c.logger = l
	}
}

// Assess computes the metrics and the pass decision. Every failing rule adds
// its own reason.
func (c *Controller) Assess(ctx context.Context, img *image.NRGBA) (types.QualityReport, error) {
	gray := imgproc.Gray(img)
	if len(gray.Pix) == 0 {
		return types.QualityReport{}, fmt.Errorf("cannot assess an empty image")
	}

	lap := imgproc.Laplacian(gray)
	report := types.QualityReport{
		Sharpness:  lap.Variance(),
		Brightness: gray.Mean(),
		Contrast:   lap.Std(),
	}
	if err := ctx.Err(); err != nil {
		return types.QualityReport{}, err
	}
	report.MotionBlur = imgproc.HighFrequencyPower(gray)

	cfg := c.config
	reasons := []string{}
	if report.Sharpness < cfg.MinSharpness {
		reasons = append(reasons, fmt.Sprintf(
			"Image too blurry (sharpness: %.1f, minimum: %.1f). Please retake with steady hand and ensure focus.",
			report.Sharpness, cfg.MinSharpness))
	}
	if report.Brightness < cfg.MinBrightness {
		reasons = append(reasons, fmt.Sprintf(
			"Image too dark (brightness: %.1f, minimum: %.1f). Please retake in better lighting.",
			report.Brightness, cfg.MinBrightness))
	} else if report.Brightness > cfg.MaxBrightness {
		reasons = append(reasons, fmt.Sprintf(
			"Image too bright/overexposed (brightness: %.1f, maximum: %.1f). Please reduce lighting or adjust camera exposure.",
			report.Brightness, cfg.MaxBrightness))
	}
	if report.Contrast < cfg.MinContrast {
		reasons = append(reasons, fmt.Sprintf(
			"Image has low contrast (contrast: %.1f, minimum: %.1f). Please ensure good lighting and avoid shadows.",
			report.Contrast, cfg.MinContrast))
	}
	report.FailReasons = reasons
	report.Pass = len(reasons) == 0
	report.Warnings = c.saturationWarnings(img)

	c.logger.Info("quality assessed",
		zap.Bool("pass", report.Pass),
		zap.Float64("sharpness", report.Sharpness),
		zap.Float64("brightness", report.Brightness),
		zap.Float64("contrast", report.Contrast))
	return report, nil
}

// saturationWarnings flags clipped highlights or shadows over all channels.
// They are advisory and never fail the image.
func (c *Controller) saturationWarnings(img *image.NRGBA) []string {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	var high, low int
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w*4; x++ {
			if x%4 == 3 {
				continue
			}
			switch v := row[x]; {
			case v > c.config.ClipHigh:
				high++
			case v < c.config.ClipLow:
				low++
			}
		}
	}

	total := float64(w * h * 3)
	if total == 0 {
		return nil
	}
	highRatio, lowRatio := float64(high)/total, float64(low)/total

	var warnings []string
	if highRatio > c.config.ClipRatio {
		warnings = append(warnings, fmt.Sprintf("Clipped highlights in %.1f%% of the image. Avoid direct flash or strong reflections.", highRatio*100))
	}
	if lowRatio > c.config.ClipRatio {
		warnings = append(warnings, fmt.Sprintf("Clipped shadows in %.1f%% of the image. Add more even lighting.", lowRatio*100))
	}
	if len(warnings) > 0 {
		c.logger.Warn("image saturation detected",
			zap.Float64("highlights", highRatio), zap.Float64("shadows", lowRatio))
	}
	return warnings
}
