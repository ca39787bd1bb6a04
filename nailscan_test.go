package nailscan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/nailscan/pkg/drift"
	"github.com/menta2k/nailscan/pkg/imgproc"
	"github.com/menta2k/nailscan/pkg/prediction"
	"github.com/menta2k/nailscan/pkg/types"
	"github.com/menta2k/nailscan/pkg/validation"
)

type stubHands struct {
	hands []types.Hand
}

func (s stubHands) DetectHands(ctx context.Context, img image.Image) (types.HandDetection, error) {
	return types.HandDetection{Hands: s.hands}, nil
}

var oneHand = stubHands{hands: []types.Hand{{Confidence: 0.9, Box: types.Box{X: 0.2, Y: 0.2, W: 0.6, H: 0.6}}}}

// alternatingModel returns widely spread passes so the uncertainty gate
// always fires.
type alternatingModel struct {
	i int
}

func (m *alternatingModel) Forward(ctx context.Context, roi *image.NRGBA, input [types.ModelInputSize]float64) (prediction.PassResult, error) {
	m.i++
	hb := 1.0
	if m.i%2 == 0 {
		hb = 20
	}
	return prediction.PassResult{Hb: hb, Probs: [4]float64{0.25, 0.25, 0.25, 0.25}}, nil
}

type failingMasks struct{}

func (failingMasks) PredictMask(ctx context.Context, img *image.NRGBA) (*imgproc.Plane, error) {
	return nil, errors.New("model weights missing at /srv/models/unet.pt")
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// createTestImage returns a sharp, well lit skin-toned fingertip stand-in: a
// fine checkerboard of two shades around the same hue.
func createTestImage(size int) *image.NRGBA {
	light := color.NRGBA{R: 240, G: 200, B: 180, A: 255}
	dark := color.NRGBA{R: 180, G: 140, B: 120, A: 255}
	img := imaging.New(size, size, light)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if (x+y)%2 == 1 {
				img.SetNRGBA(x, y, dark)
			}
		}
	}
	return img
}

func TestNew(t *testing.T) {
	p := New()
	require.NotNil(t, p)
	assert.Equal(t, Version, p.VersionInfo().Pipeline)
	assert.Equal(t, ModelVersion, p.VersionInfo().Model)
	assert.Equal(t, "1.0.0", GetVersion())
}

func TestRejectsImageWithoutHand(t *testing.T) {
	p := New()
	p.SetHandDetector(stubHands{})

	gray := imaging.New(512, 512, color.NRGBA{R: 128, G: 128, B: 128, A: 255})
	res, err := p.Run(context.Background(), "scan-a", encodePNG(t, gray), "hand.png")
	assert.Nil(t, res)

	var verr *validation.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, validation.ReasonNoSubject, verr.Reason)
	assert.Equal(t, validation.NoHandMessage, p.PublicMessage(err))
	assert.False(t, errors.Is(err, ErrInternal))
}

func TestFullScan(t *testing.T) {
	monitor := drift.New()
	p := New()
	p.SetHandDetector(oneHand)
	p.SetDriftMonitor(monitor)

	res, err := p.Run(context.Background(), "scan-b", encodePNG(t, createTestImage(512)), "thumb.png")
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, "scan-b", res.ScanID)
	assert.False(t, res.Timestamp.IsZero())
	assert.Equal(t, types.PathPrimary, res.Subject.Path)
	assert.True(t, res.QualityPass)
	assert.Empty(t, res.Quality.FailReasons)

	require.NotNil(t, res.Preprocessing)
	assert.GreaterOrEqual(t, res.Preprocessing.ToneCluster, 0)
	assert.LessOrEqual(t, res.Preprocessing.ToneCluster, 4)
	assert.GreaterOrEqual(t, res.Preprocessing.ScalingFactor, 0.7)
	assert.LessOrEqual(t, res.Preprocessing.ScalingFactor, 1.3)
	assert.True(t, strings.HasPrefix(res.Preprocessing.OriginalImage, "data:image/jpeg;base64,"))

	require.NotNil(t, res.Segmentation)
	assert.Positive(t, res.Segmentation.ROI.W)
	assert.Positive(t, res.Segmentation.ROI.H)
	assert.True(t, strings.HasPrefix(res.Segmentation.ROIImage, "data:image/jpeg;base64,"))
	require.NotNil(t, res.ROI)
	assert.Equal(t, 256, res.ROI.Bounds().Dx())

	require.NotNil(t, res.Features)
	assert.True(t, res.Features.Finite())
	require.NotNil(t, res.Prediction)
	assert.Equal(t, 10, res.Prediction.Passes)
	if res.Prediction.HasEstimate() {
		require.NotNil(t, res.Explanation)
		assert.Equal(t, "formula_based", res.Explanation.Method)
		assert.True(t, strings.HasPrefix(res.Explanation.Overlay, "data:image/png;base64,"))
	}

	assert.Equal(t, 1, monitor.Samples("mean_L"))
	for _, stage := range []string{"validation", "quality", "preprocess", "segmentation", "features", "prediction"} {
		assert.Contains(t, res.Timings, stage)
	}

	_, err = json.Marshal(res)
	assert.NoError(t, err)
}

func TestGeneratesScanID(t *testing.T) {
	opts := DefaultOptions()
	opts.Artifacts = false
	p := NewWithConfig(opts)
	p.SetHandDetector(oneHand)

	res, err := p.Run(context.Background(), "", encodePNG(t, createTestImage(512)), "thumb.png")
	require.NoError(t, err)
	assert.Len(t, res.ScanID, 36)
	assert.Empty(t, res.Preprocessing.OriginalImage)
}

func TestUncertainScanWithholdsEstimate(t *testing.T) {
	p := New()
	p.SetHandDetector(oneHand)
	p.SetModel(&alternatingModel{}, "stub")

	res, err := p.Run(context.Background(), "scan-c", encodePNG(t, createTestImage(512)), "thumb.png")
	require.NoError(t, err)
	require.NotNil(t, res.Prediction)

	pred := res.Prediction
	assert.Equal(t, types.FlagRetakeOrLabConfirm, pred.UncertaintyFlag)
	assert.Greater(t, pred.Uncertainty, 0.7)
	assert.Nil(t, pred.Hb)
	assert.Nil(t, pred.Interval)
	assert.Nil(t, pred.Stage)
	assert.Nil(t, pred.Risk)
	assert.Nil(t, res.Explanation)
	assert.Equal(t, "stub", res.Version.Model)
}

func TestQualityFailureStopsScan(t *testing.T) {
	p := New()
	p.SetHandDetector(oneHand)

	flat := imaging.New(512, 512, color.NRGBA{R: 210, G: 170, B: 150, A: 255})
	res, err := p.Run(context.Background(), "scan-q", encodePNG(t, flat), "thumb.png")
	require.NoError(t, err)

	assert.False(t, res.QualityPass)
	assert.NotEmpty(t, res.Quality.FailReasons)
	assert.Nil(t, res.Preprocessing)
	assert.Nil(t, res.Segmentation)
	assert.Nil(t, res.Features)
	assert.Nil(t, res.Prediction)
}

func TestInternalErrorsAreMasked(t *testing.T) {
	p := New()
	p.SetHandDetector(oneHand)
	p.SetMaskPredictor(failingMasks{}, "")

	res, err := p.Run(context.Background(), "scan-e", encodePNG(t, createTestImage(512)), "thumb.png")
	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInternal))
	assert.Contains(t, err.Error(), "segmentation")

	msg := p.PublicMessage(err)
	assert.Equal(t, internalMessage, msg)
	assert.NotContains(t, msg, "/srv/models")
}

func TestRunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New()
	_, err := p.Run(ctx, "scan-x", encodePNG(t, createTestImage(512)), "thumb.png")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrInternal))
}

func TestPublicMessageNil(t *testing.T) {
	assert.Empty(t, New().PublicMessage(nil))
}

func BenchmarkRun(b *testing.B) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, createTestImage(512)); err != nil {
		b.Fatal(err)
	}
	opts := DefaultOptions()
	opts.Artifacts = false
	p := NewWithConfig(opts)
	p.SetHandDetector(oneHand)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.Run(context.Background(), "bench", buf.Bytes(), "thumb.png"); err != nil {
			b.Fatal(err)
		}
	}
}
