package vision

import (
	"image"

	"github.com/menta2k/nailscan/pkg/colorspace"
)

// SkinDetector estimates how much of an image is covered by skin-colored
// pixels. It is the fallback used when no hand landmark detector answers.
type SkinDetector struct {
	config SkinConfig
}

// SkinConfig holds the color ranges used for skin classification. Hue is in
// degrees, saturation and value in [0,1], chroma in 8-bit units.
type SkinConfig struct {
	HueMax      float64
	SatMin      float64
	ValMin      float64
	CrMin       float64
	CrMax       float64
	CbMin       float64
	CbMax       float64
	MinCoverage float64
}

// DefaultSkinConfig returns the ranges for typical skin under white light.
func DefaultSkinConfig() SkinConfig {
	return SkinConfig{
		HueMax:      40,
		SatMin:      20.0 / 255,
		ValMin:      70.0 / 255,
		CrMin:       133,
		CrMax:       173,
		CbMin:       77,
		CbMax:       127,
		MinCoverage: 0.15,
	}
}

// New creates a new SkinDetector with default configuration
func New() *SkinDetector {
	return &SkinDetector{config: DefaultSkinConfig()}
}

// NewWithConfig creates a new SkinDetector with custom configuration
func NewWithConfig(config SkinConfig) *SkinDetector {
	return &SkinDetector{config: config}
}

// Region represents a rectangular region of interest
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
	Score  float64
}

// Center returns the center point of the region
func (r Region) Center() (int, int) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Area returns the area of the region
func (r Region) Area() int {
	return r.Width * r.Height
}

// SkinResult is the outcome of a skin coverage scan.
type SkinResult struct {
	Detected bool
	Coverage float64
	Region   Region
}

// IsSkin classifies one pixel. A pixel is skin when it falls in the HSV
// range or in the YCrCb range.
func (d *SkinDetector) IsSkin(r, g, b uint8) bool {
	h, s, v := colorspace.RGBToHSV(r, g, b)
	if h <= d.config.HueMax && s >= d.config.SatMin && v >= d.config.ValMin {
		return true
	}
	_, cr, cb := colorspace.RGBToYCrCb(r, g, b)
	return cr >= d.config.CrMin && cr <= d.config.CrMax &&
		cb >= d.config.CbMin && cb <= d.config.CbMax
}

// Detect measures skin coverage. The returned region bounds all skin pixels
// and scores with the coverage.
func (d *SkinDetector) Detect(img *image.NRGBA) SkinResult {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return SkinResult{}
	}

	minX, minY, maxX, maxY := width, height, -1, -1
	count := 0
	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < width; x++ {
			if !d.IsSkin(row[x*4], row[x*4+1], row[x*4+2]) {
				continue
			}
			count++
			minX, minY = min(minX, x), min(minY, y)
			maxX, maxY = max(maxX, x), max(maxY, y)
		}
	}

	coverage := float64(count) / float64(width*height)
	result := SkinResult{
		Detected: coverage >= d.config.MinCoverage,
		Coverage: coverage,
	}
	if count > 0 {
		result.Region = Region{
			X:      minX,
			Y:      minY,
			Width:  maxX - minX + 1,
			Height: maxY - minY + 1,
			Score:  coverage,
		}
	}
	return result
}
