package validation

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/nailscan/pkg/types"
	"github.com/menta2k/nailscan/pkg/vision"
)

var (
	skin = color.NRGBA{R: 210, G: 170, B: 150, A: 255}
	gray = color.NRGBA{R: 128, G: 128, B: 128, A: 255}
	blue = color.NRGBA{R: 40, G: 60, B: 220, A: 255}
)

type stubHands struct {
	hands []types.Hand
	err   error
	calls int
}

func (s *stubHands) DetectHands(ctx context.Context, img image.Image) (types.HandDetection, error) {
	s.calls++
	return types.HandDetection{Hands: s.hands}, s.err
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func requireReason(t *testing.T, err error, reason Reason) *ValidationError {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
	assert.Equal(t, reason, verr.Reason)
	return verr
}

func TestRejectsExtension(t *testing.T) {
	_, err := New().Validate(context.Background(), []byte("GIF89a"), "nail.gif")
	verr := requireReason(t, err, ReasonExtension)
	assert.Contains(t, verr.Message, "Invalid file extension: .gif")
}

func TestRejectsSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxUploadBytes = 1024
	data := encodePNG(t, imaging.New(600, 600, skin))
	data = append(data, make([]byte, 2048)...)

	_, err := NewWithConfig(cfg).Validate(context.Background(), data, "nail.png")
	verr := requireReason(t, err, ReasonSize)
	assert.Contains(t, verr.Message, "File too large")
}

func TestRejectsUndecodable(t *testing.T) {
	_, err := New().Validate(context.Background(), []byte("definitely not a png"), "nail.png")
	requireReason(t, err, ReasonDecode)
}

func TestRejectsLowResolution(t *testing.T) {
	data := encodePNG(t, imaging.New(256, 256, skin))
	_, err := New().Validate(context.Background(), data, "nail.png")
	verr := requireReason(t, err, ReasonResolution)
	assert.Equal(t, "Image resolution too low: 256x256. Minimum: 512x512", verr.Message)
}

func TestRejectsOversizedPixelCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPixels = 600 * 600
	hands := &stubHands{hands: []types.Hand{{Confidence: 0.9}}}
	g := NewWithConfig(cfg)
	g.SetHandDetector(hands)

	// a flat image compresses to a few kilobytes, well under the byte limit
	data := encodePNG(t, imaging.New(800, 700, skin))
	require.Less(t, int64(len(data)), cfg.MaxUploadBytes)

	_, err := g.Validate(context.Background(), data, "nail.png")
	verr := requireReason(t, err, ReasonResolution)
	assert.Equal(t, "Image resolution too high: 800x700 (0.6 MP). Maximum: 0.4 MP", verr.Message)
	assert.Zero(t, hands.calls, "rejected before decoding")
}

func TestRejectsImageWithoutHand(t *testing.T) {
	hands := &stubHands{}
	g := New()
	g.SetHandDetector(hands)

	_, err := g.Validate(context.Background(), encodePNG(t, imaging.New(512, 512, gray)), "nail.png")
	verr := requireReason(t, err, ReasonNoSubject)
	assert.Equal(t, NoHandMessage, verr.Message)
	assert.Equal(t, 1, hands.calls)
}

func TestSkinFallbackWithoutDetector(t *testing.T) {
	res, err := New().Validate(context.Background(), encodePNG(t, imaging.New(512, 512, skin)), "nail.PNG")
	require.NoError(t, err)
	assert.Equal(t, types.PathFallbackSkin, res.Subject.Path)
	assert.InDelta(t, 1.0, res.Subject.SkinCoverage, 1e-9)
	assert.Equal(t, "png", res.Format)
	assert.Equal(t, 512, res.Image.Bounds().Dx())
	assert.False(t, res.Confounder.Detected)
}

func TestSkinFallbackOnDetectorError(t *testing.T) {
	g := New()
	g.SetHandDetector(&stubHands{err: errors.New("model offline")})

	res, err := g.Validate(context.Background(), encodePNG(t, imaging.New(512, 512, skin)), "nail.png")
	require.NoError(t, err)
	assert.Equal(t, types.PathFallbackSkin, res.Subject.Path)
	assert.Equal(t, "skin_detection", res.Subject.Method)
}

func TestLandmarkDetection(t *testing.T) {
	g := New()
	g.SetHandDetector(&stubHands{hands: []types.Hand{
		{Confidence: 0.5, Box: types.Box{X: 0.1, Y: 0.1, W: 0.5, H: 0.5}},
		{Confidence: 0.6},
	}})

	res, err := g.Validate(context.Background(), encodeJPEG(t, imaging.New(512, 512, skin)), "nail.jpg")
	require.NoError(t, err)
	assert.Equal(t, types.PathPrimary, res.Subject.Path)
	assert.Equal(t, "landmarks", res.Subject.Method)
	assert.Equal(t, 2, res.Subject.Count)
	assert.InDelta(t, 0.55, res.Subject.Confidence, 1e-9)
	assert.Contains(t, res.Subject.Warning, "low confidence")
	assert.Contains(t, res.Subject.Warning, "Multiple hands detected")
	assert.Equal(t, "jpeg", res.Format)
}

func TestRejectsNailPolish(t *testing.T) {
	img := imaging.New(512, 512, skin)
	for y := 160; y < 360; y++ {
		for x := 160; x < 360; x++ {
			img.SetNRGBA(x, y, blue)
		}
	}
	g := New()
	g.SetHandDetector(&stubHands{hands: []types.Hand{{Confidence: 0.9}}})

	_, err := g.Validate(context.Background(), encodePNG(t, img), "nail.png")
	verr := requireReason(t, err, ReasonConfounder)
	assert.Contains(t, verr.Message, "non-biological hue")
}

func TestConfounderFailsOpen(t *testing.T) {
	polish := vision.DefaultPolishConfig()
	polish.RegionStart, polish.RegionEnd = 0.5, 0.5
	g := New()
	g.SetPolishDetector(vision.NewPolishDetectorWithConfig(polish))

	res, err := g.Validate(context.Background(), encodePNG(t, imaging.New(512, 512, skin)), "nail.png")
	require.NoError(t, err)
	assert.Equal(t, types.PathFailOpen, res.Confounder.Path)
}

func TestRejectsTruncatedJPEG(t *testing.T) {
	img := imaging.New(512, 512, skin)
	for y := 0; y < 512; y++ {
		for x := 0; x < 512; x++ {
			if (x/8+y/8)%2 == 0 {
				img.SetNRGBA(x, y, color.NRGBA{R: 230, G: 190, B: 170, A: 255})
			}
		}
	}
	data := encodeJPEG(t, img)
	data = data[:len(data)/2]

	_, err := New().Validate(context.Background(), data, "nail.jpg")
	requireReason(t, err, ReasonIntegrity)
}

func TestHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Validate(ctx, encodePNG(t, imaging.New(512, 512, skin)), "nail.png")
	assert.ErrorIs(t, err, context.Canceled)
}
