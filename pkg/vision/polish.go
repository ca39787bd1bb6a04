package vision

import (
	"fmt"
	"image"
	"math"

	"github.com/menta2k/nailscan/pkg/colorspace"
	"github.com/menta2k/nailscan/pkg/types"
)

// PolishConfig holds the thresholds of the nail-polish confounder check.
type PolishConfig struct {
	RegionStart float64 // fraction of width/height where the analysed center starts
	RegionEnd   float64

	HighSaturation float64

	DarkSaturation float64
	DarkStd        float64
	DarkValue      float64

	HueSaturation    float64
	MinBiologicalHue float64

	NeonValue      float64
	NeonSaturation float64

	UniformSaturation float64
	UniformStd        float64
}

// DefaultPolishConfig returns the thresholds tuned for fingertip close-ups.
func DefaultPolishConfig() PolishConfig {
	return PolishConfig{
		RegionStart:       0.3,
		RegionEnd:         0.7,
		HighSaturation:    0.4,
		DarkSaturation:    0.15,
		DarkStd:           0.05,
		DarkValue:         0.3,
		HueSaturation:     0.25,
		MinBiologicalHue:  0.3,
		NeonValue:         0.85,
		NeonSaturation:    0.5,
		UniformSaturation: 0.35,
		UniformStd:        0.08,
	}
}

// PolishDetector flags painted nails from the color statistics of the
// image center.
type PolishDetector struct {
	config PolishConfig
}

// NewPolishDetector creates a detector with default thresholds
func NewPolishDetector() *PolishDetector {
	return &PolishDetector{config: DefaultPolishConfig()}
}

// NewPolishDetectorWithConfig creates a detector with custom thresholds
func NewPolishDetectorWithConfig(config PolishConfig) *PolishDetector {
	return &PolishDetector{config: config}
}

// biological hue band of nail beds, in degrees
func isBiologicalHue(h float64) bool {
	return (h >= 0 && h <= 30) || (h >= 330 && h <= 360)
}

// Metrics computes the color statistics of the central region.
func (d *PolishDetector) Metrics(img *image.NRGBA) (types.ConfounderMetrics, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	x0 := int(float64(width) * d.config.RegionStart)
	x1 := int(float64(width) * d.config.RegionEnd)
	y0 := int(float64(height) * d.config.RegionStart)
	y1 := int(float64(height) * d.config.RegionEnd)
	n := (x1 - x0) * (y1 - y0)
	if n <= 0 {
		return types.ConfounderMetrics{}, fmt.Errorf("analysis region is empty for %dx%d image", width, height)
	}

	var sumS, sumS2, sumV float64
	bio := 0
	for y := y0; y < y1; y++ {
		row := img.Pix[y*img.Stride:]
		for x := x0; x < x1; x++ {
			h, s, v := colorspace.RGBToHSV(row[x*4], row[x*4+1], row[x*4+2])
			sumS += s
			sumS2 += s * s
			sumV += v
			if isBiologicalHue(h) {
				bio++
			}
		}
	}

	count := float64(n)
	meanS := sumS / count
	return types.ConfounderMetrics{
		MeanSaturation:  meanS,
		StdSaturation:   math.Sqrt(math.Max(0, sumS2/count-meanS*meanS)),
		MeanValue:       sumV / count,
		BiologicalRatio: float64(bio) / count,
	}, nil
}

// Detect runs every threshold rule. All matching rules contribute a reason
// and the confidence is the highest among them.
func (d *PolishDetector) Detect(img *image.NRGBA) (types.ConfounderResult, error) {
	m, err := d.Metrics(img)
	if err != nil {
		return types.ConfounderResult{}, err
	}

	cfg := d.config
	result := types.ConfounderResult{Metrics: m, Path: types.PathPrimary}
	flag := func(reason string, confidence float64) {
		result.Detected = true
		result.Reasons = append(result.Reasons, reason)
		result.Confidence = math.Max(result.Confidence, confidence)
	}

	if m.MeanSaturation > cfg.HighSaturation {
		flag(fmt.Sprintf("high saturation (%.2f)", m.MeanSaturation), m.MeanSaturation)
	}
	if m.MeanSaturation < cfg.DarkSaturation && m.StdSaturation < cfg.DarkStd && m.MeanValue < cfg.DarkValue {
		flag(fmt.Sprintf("dark uniform color (V=%.2f)", m.MeanValue), 0.7)
	}
	if m.MeanSaturation > cfg.HueSaturation && m.BiologicalRatio < cfg.MinBiologicalHue {
		flag(fmt.Sprintf("non-biological hue (bio_ratio=%.2f)", m.BiologicalRatio), 0.8)
	}
	if m.MeanValue > cfg.NeonValue && m.MeanSaturation > cfg.NeonSaturation {
		flag(fmt.Sprintf("bright neon color (V=%.2f, S=%.2f)", m.MeanValue, m.MeanSaturation), 0.9)
	}
	if m.MeanSaturation > cfg.UniformSaturation && m.StdSaturation < cfg.UniformStd {
		flag(fmt.Sprintf("uniform high saturation (std=%.2f)", m.StdSaturation), 0.75)
	}
	return result, nil
}
