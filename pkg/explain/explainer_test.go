package explain

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/nailscan/pkg/imgproc"
	"github.com/menta2k/nailscan/pkg/types"
)

func features(l, rg, vd, r, lbp float64) types.FeatureVector {
	return types.FeatureVector{
		Color:    types.ColorFeatures{MeanL: l, RatioRG: rg, MeanR: r},
		Texture:  types.TextureFeatures{LBPUniformity: lbp},
		Vascular: types.VascularFeatures{Density: vd},
	}
}

func TestAttributeSumsToOne(t *testing.T) {
	for _, fv := range []types.FeatureVector{
		features(180, 1.2, 0.3, 190, 0.9),
		features(40, 0.9, 0.05, 100, 0.1),
		features(61, 1.06, 0.16, 151, 0.51),
	} {
		ranked := Attribute(fv, 0.01)
		require.NotEmpty(t, ranked)
		var sum float64
		for i, f := range ranked {
			sum += f.Importance
			assert.Greater(t, f.Importance, 0.0)
			assert.InDelta(t, f.Importance*100, f.Contribution, 1e-9)
			if i > 0 {
				assert.GreaterOrEqual(t, ranked[i-1].Importance, f.Importance)
			}
		}
		assert.InDelta(t, 1.0, sum, 1e-6)
	}
}

func TestAttributeDropsNegligibleFeatures(t *testing.T) {
	ranked := Attribute(features(300, 1.05, 0.15, 150, 1), 0.01)
	require.Len(t, ranked, 1)
	assert.Equal(t, types.InputMeanL, ranked[0].Index)
	assert.Equal(t, "L* (Lightness)", ranked[0].Name)
	assert.InDelta(t, 1.0, ranked[0].Importance, 1e-12)
	assert.Equal(t, 300.0, ranked[0].Value)
}

func TestAttributeAtReferenceIsEmpty(t *testing.T) {
	assert.Empty(t, Attribute(features(60, 1.05, 0.15, 150, 0.5), 0.01))
	assert.Equal(t, "No significant features identified.", Interpret(nil, 3))
}

func TestInterpretation(t *testing.T) {
	ranked := Attribute(features(180, 1.2, 0.15, 150, 0.5), 0.01)
	require.Len(t, ranked, 2)

	text := Interpret(ranked, 3)
	assert.Contains(t, text, "The prediction was primarily influenced by 2 features:")
	assert.Contains(t, text, "1. **L* (Lightness)** (88.9% contribution, value: 180.00)")
	assert.Contains(t, text, "2. **R/G Ratio** (11.1% contribution, value: 1.20)")
	assert.Contains(t, text, "L* lightness is the primary indicator")
	assert.Contains(t, text, "red/green color ratio")
	assert.NotContains(t, text, "vessel density")
}

type stubBackend struct {
	ready bool
	hm    *imgproc.Plane
	err   error
}

func (s stubBackend) Ready(ctx context.Context) bool { return s.ready }

func (s stubBackend) Heatmap(ctx context.Context, roi *image.NRGBA, input [types.ModelInputSize]float64) (*imgproc.Plane, error) {
	return s.hm, s.err
}

func testROI() *image.NRGBA {
	return imaging.New(64, 64, color.NRGBA{R: 190, G: 120, B: 110, A: 255})
}

func TestExplainHeatmapChain(t *testing.T) {
	fv := features(150, 1.3, 0.2, 190, 0.7)
	small := imgproc.NewPlane(8, 8)
	small.Pix[27] = 1

	cases := []struct {
		name    string
		backend HeatmapBackend
		want    types.Path
	}{
		{"no backend", nil, types.PathFallbackApproximation},
		{"not ready", stubBackend{ready: false, hm: small}, types.PathFallbackApproximation},
		{"backend error", stubBackend{ready: true, err: errors.New("no conv layer")}, types.PathFallbackApproximation},
		{"trained backend", stubBackend{ready: true, hm: small}, types.PathPrimary},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := New()
			e.SetBackend(tc.backend)
			res, err := e.Explain(context.Background(), testROI(), fv, types.Prediction{})
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Attribution.HeatmapPath)
			assert.Equal(t, MethodFormula, res.Attribution.Method)
			assert.LessOrEqual(t, len(res.Attribution.TopFeatures), 5)
			assert.Equal(t, image.Rect(0, 0, 64, 64), res.Overlay.Bounds())
			assert.Equal(t, 64, res.Heatmap.Width)
		})
	}
}

func TestExplainFallsBackToBlob(t *testing.T) {
	e := New()
	e.SetBackend(stubBackend{ready: true, err: errors.New("no conv layer")})

	empty := image.NewNRGBA(image.Rect(0, 0, 0, 0))
	res, err := e.Explain(context.Background(), empty, features(150, 1.3, 0.2, 190, 0.7), types.Prediction{})
	require.NoError(t, err)
	assert.Equal(t, types.PathFallbackBlob, res.Attribution.HeatmapPath)
	assert.Equal(t, 0, res.Heatmap.Width)
	assert.True(t, res.Overlay.Bounds().Empty())
	assert.NotEmpty(t, res.Attribution.TopFeatures)
}

func TestApproximateHeatmapIsCenterWeighted(t *testing.T) {
	hm, err := ApproximateHeatmap(testROI(), 15, 0.3, 0.8)
	require.NoError(t, err)
	lo, hi := hm.MinMax()
	assert.InDelta(t, 0, lo, 1e-9)
	assert.InDelta(t, 1, hi, 1e-9)
	assert.Greater(t, hm.At(32, 32), hm.At(0, 0))
}

func TestBlobHeatmap(t *testing.T) {
	hm := BlobHeatmap(40, 40)
	assert.Equal(t, 1.0, hm.At(20, 20))
	assert.Less(t, hm.At(0, 0), 0.1)
}

func TestResizeAndJet(t *testing.T) {
	p := imgproc.NewPlane(2, 2)
	for i := range p.Pix {
		p.Pix[i] = 0.5
	}
	r := Resize(p, 8, 8)
	assert.Equal(t, 8, r.Width)
	for _, v := range r.Pix {
		assert.InDelta(t, 0.5, v, 1e-3)
	}

	assert.Equal(t, color.NRGBA{R: 128, G: 255, B: 128, A: 255}, jet(0.5))
	assert.Equal(t, color.NRGBA{R: 0, G: 0, B: 128, A: 255}, jet(0))
	assert.Equal(t, color.NRGBA{R: 128, G: 0, B: 0, A: 255}, jet(1))
}

func TestOverlayBlends(t *testing.T) {
	roi := imaging.New(4, 4, color.NRGBA{A: 255})
	out := Overlay(roi, imgproc.NewPlane(4, 4), 0.5)
	// jet(0) is dark blue, half of it over black
	assert.Equal(t, color.NRGBA{R: 0, G: 0, B: 64, A: 255}, out.NRGBAAt(1, 1))
}
