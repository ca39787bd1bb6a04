package prediction

import (
	"context"
	"errors"
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/nailscan/pkg/types"
)

// sequenceModel replays a fixed list of passes.
type sequenceModel struct {
	passes []PassResult
	i      int
	err    error
}

func (s *sequenceModel) Forward(ctx context.Context, roi *image.NRGBA, input [types.ModelInputSize]float64) (PassResult, error) {
	if s.err != nil {
		return PassResult{}, s.err
	}
	r := s.passes[s.i%len(s.passes)]
	s.i++
	return r, nil
}

func normalPass(hb float64) PassResult {
	return PassResult{Hb: hb, Probs: [4]float64{0.8, 0.1, 0.05, 0.05}}
}

func TestStageThresholds(t *testing.T) {
	p := New()
	cases := map[float64]types.Stage{
		13.0: types.StageNormal,
		12.0: types.StageNormal,
		11.5: types.StageMild,
		11.0: types.StageMild,
		10.9: types.StageModerate,
		8.0:  types.StageModerate,
		7.9:  types.StageSevere,
	}
	for hb, want := range cases {
		assert.Equal(t, want, p.Stage(hb), "hb=%v", hb)
	}
}

func TestAggregateConfidentPrediction(t *testing.T) {
	p := New()
	pred, err := p.Aggregate([]PassResult{normalPass(12), normalPass(13), normalPass(14)})
	require.NoError(t, err)

	require.True(t, pred.HasEstimate())
	assert.InDelta(t, 13, *pred.Hb, 1e-9)
	// sample standard deviation of 12, 13, 14 is 1
	assert.InDelta(t, 1/(13+1e-6), pred.Uncertainty, 1e-9)
	assert.InDelta(t, 13-1.959964, pred.Interval[0], 1e-5)
	assert.InDelta(t, 13+1.959964, pred.Interval[1], 1e-5)
	assert.Equal(t, types.StageNormal, *pred.Stage)
	assert.InDelta(t, 0.2, *pred.Risk, 1e-9)
	assert.Empty(t, pred.UncertaintyFlag)
	assert.Equal(t, 3, pred.Passes)
}

func TestIntervalIsClamped(t *testing.T) {
	p := New()
	for _, c := range []struct{ mean, std float64 }{{1, 5}, {19, 5}, {0.5, 100}, {25, 0.1}} {
		lo, hi := p.Interval(c.mean, c.std)
		assert.GreaterOrEqual(t, lo, 0.0)
		assert.LessOrEqual(t, hi, 20.0)
		assert.LessOrEqual(t, lo, hi)
	}
}

func TestUncertaintyGateWithholdsEstimate(t *testing.T) {
	p := New()
	pred, err := p.Aggregate([]PassResult{normalPass(1), normalPass(20), normalPass(2), normalPass(19)})
	require.NoError(t, err)

	assert.Greater(t, pred.Uncertainty, 0.7)
	assert.Equal(t, types.FlagRetakeOrLabConfirm, pred.UncertaintyFlag)
	assert.Contains(t, pred.Message, "Model is not confident")
	assert.Nil(t, pred.Hb)
	assert.Nil(t, pred.Interval)
	assert.Nil(t, pred.Stage)
	assert.Nil(t, pred.Risk)
	assert.False(t, pred.HasEstimate())
}

func TestUncertaintyBounds(t *testing.T) {
	assert.Equal(t, 1.0, Uncertainty(0, 1))
	assert.Equal(t, 1.0, Uncertainty(-3, 0))
	assert.Equal(t, 1.0, Uncertainty(1, 50))
	assert.Equal(t, 0.0, Uncertainty(12, 0))
}

func TestSinglePassHasZeroSpread(t *testing.T) {
	pred, err := New().Aggregate([]PassResult{normalPass(11.5)})
	require.NoError(t, err)
	assert.Equal(t, 0.0, pred.Uncertainty)
	assert.Equal(t, [2]float64{11.5, 11.5}, *pred.Interval)
	assert.Equal(t, types.StageMild, *pred.Stage)
}

func TestAggregateRejectsBadPasses(t *testing.T) {
	_, err := New().Aggregate(nil)
	assert.Error(t, err)

	tests := []struct {
		name string
		pass PassResult
	}{
		{"nan hb", PassResult{Hb: math.NaN(), Probs: [4]float64{1, 0, 0, 0}}},
		{"nan prob", PassResult{Hb: 13, Probs: [4]float64{math.NaN(), 0.1, 0.1, 0.1}}},
		{"negative prob", PassResult{Hb: 13, Probs: [4]float64{1.2, -0.2, 0, 0}}},
		{"does not sum to one", PassResult{Hb: 13, Probs: [4]float64{0.5, 0.1, 0.1, 0.1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred, err := New().Aggregate([]PassResult{normalPass(13), tt.pass, normalPass(13)})
			assert.Error(t, err)
			assert.False(t, pred.HasEstimate())
		})
	}
}

func TestPredictRunsConfiguredPasses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Passes = 5
	model := &sequenceModel{passes: []PassResult{normalPass(12.5)}}
	p := NewWithConfig(cfg)
	p.SetModel(model)

	pred, err := p.Predict(context.Background(), nil, types.FeatureVector{})
	require.NoError(t, err)
	assert.Equal(t, 5, model.i)
	assert.Equal(t, 5, pred.Passes)
}

func TestPredictSurfacesModelErrors(t *testing.T) {
	p := New()
	p.SetModel(&sequenceModel{err: errors.New("inference backend unavailable")})
	_, err := p.Predict(context.Background(), nil, types.FeatureVector{})
	assert.ErrorContains(t, err, "inference backend unavailable")
}

func TestFeatureModel(t *testing.T) {
	fv := types.FeatureVector{
		Color:    types.ColorFeatures{MeanL: 60, RatioRG: 1.05, MeanR: 150},
		Texture:  types.TextureFeatures{LBPUniformity: 1},
		Vascular: types.VascularFeatures{Density: 0.15},
	}
	m := NewFeatureModel(1)
	hb, spread := m.Estimate(fv.ModelInput())
	assert.InDelta(t, 14, hb, 1e-9)
	assert.InDelta(t, 0.6, spread, 1e-9)

	// very light nail beds saturate at the lower bound
	fv.Color.MeanL = 250
	hb, _ = m.Estimate(fv.ModelInput())
	assert.Equal(t, 8.0, hb)

	p := New()
	p.SetModel(NewFeatureModel(7))
	a, err := p.Predict(context.Background(), nil, fv)
	require.NoError(t, err)
	p.SetModel(NewFeatureModel(7))
	b, err := p.Predict(context.Background(), nil, fv)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
