package vision

import (
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestImage fills an image with a single color
func createTestImage(width, height int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

var (
	skinColor  = color.NRGBA{R: 210, G: 170, B: 150, A: 255}
	grayColor  = color.NRGBA{R: 128, G: 128, B: 128, A: 255}
	blueColor  = color.NRGBA{R: 40, G: 60, B: 220, A: 255}
	blackColor = color.NRGBA{R: 20, G: 20, B: 20, A: 255}
	neonPink   = color.NRGBA{R: 250, G: 20, B: 150, A: 255}
)

func TestNew(t *testing.T) {
	detector := New()
	if detector == nil {
		t.Fatal("New() returned nil")
	}
	if detector.config.MinCoverage != 0.15 {
		t.Errorf("Expected min coverage 0.15, got %f", detector.config.MinCoverage)
	}
}

func TestNewWithConfig(t *testing.T) {
	cfg := DefaultSkinConfig()
	cfg.MinCoverage = 0.5
	detector := NewWithConfig(cfg)
	if detector.config.MinCoverage != 0.5 {
		t.Errorf("Expected min coverage 0.5, got %f", detector.config.MinCoverage)
	}
}

func TestIsSkin(t *testing.T) {
	d := New()
	assert.True(t, d.IsSkin(skinColor.R, skinColor.G, skinColor.B))
	assert.False(t, d.IsSkin(grayColor.R, grayColor.G, grayColor.B))
	assert.False(t, d.IsSkin(blueColor.R, blueColor.G, blueColor.B))
}

func TestDetectSkinCoverage(t *testing.T) {
	d := New()

	full := d.Detect(createTestImage(64, 64, skinColor))
	assert.True(t, full.Detected)
	assert.InDelta(t, 1.0, full.Coverage, 1e-9)
	assert.Equal(t, Region{X: 0, Y: 0, Width: 64, Height: 64, Score: 1}, full.Region)

	none := d.Detect(createTestImage(64, 64, grayColor))
	assert.False(t, none.Detected)
	assert.Equal(t, 0.0, none.Coverage)

	// a skin patch covering a quarter of the frame
	img := createTestImage(64, 64, grayColor)
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.SetNRGBA(x, y, skinColor)
		}
	}
	part := d.Detect(img)
	assert.True(t, part.Detected)
	assert.InDelta(t, 0.25, part.Coverage, 1e-9)
	cx, cy := part.Region.Center()
	assert.Equal(t, 16, cx)
	assert.Equal(t, 16, cy)
	assert.Equal(t, 1024, part.Region.Area())
}

func TestPolishNaturalNail(t *testing.T) {
	d := NewPolishDetector()
	res, err := d.Detect(createTestImage(100, 100, skinColor))
	require.NoError(t, err)
	assert.False(t, res.Detected)
	assert.Empty(t, res.Reasons)
	assert.InDelta(t, 1.0, res.Metrics.BiologicalRatio, 1e-9)
}

func TestPolishRules(t *testing.T) {
	d := NewPolishDetector()

	blue, err := d.Detect(createTestImage(100, 100, blueColor))
	require.NoError(t, err)
	assert.True(t, blue.Detected)
	assert.Contains(t, strings.Join(blue.Reasons, ", "), "non-biological hue")
	assert.GreaterOrEqual(t, blue.Confidence, 0.8)

	dark, err := d.Detect(createTestImage(100, 100, blackColor))
	require.NoError(t, err)
	assert.True(t, dark.Detected)
	assert.Contains(t, dark.Reasons[0], "dark uniform color")

	neon, err := d.Detect(createTestImage(100, 100, neonPink))
	require.NoError(t, err)
	assert.True(t, neon.Detected)
	assert.Contains(t, strings.Join(neon.Reasons, ", "), "bright neon color")
	assert.InDelta(t, 0.92, neon.Confidence, 0.01)
}

func TestPolishOnlyLooksAtCenter(t *testing.T) {
	img := createTestImage(100, 100, blueColor)
	for y := 30; y < 70; y++ {
		for x := 30; x < 70; x++ {
			img.SetNRGBA(x, y, skinColor)
		}
	}
	res, err := NewPolishDetector().Detect(img)
	require.NoError(t, err)
	assert.False(t, res.Detected)
}

func TestPolishEmptyRegion(t *testing.T) {
	_, err := NewPolishDetector().Detect(image.NewNRGBA(image.Rect(0, 0, 1, 1)))
	assert.Error(t, err)
}
