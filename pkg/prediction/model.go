package prediction

import (
	"context"
	"image"
	"math/rand"
	"sync"

	"github.com/menta2k/nailscan/pkg/types"
)

// stageProbabilities are the class distributions reported by FeatureModel
// for each stage of its own estimate.
var stageProbabilities = map[types.Stage][4]float64{
	types.StageNormal:   {0.75, 0.15, 0.08, 0.02},
	types.StageMild:     {0.25, 0.55, 0.15, 0.05},
	types.StageModerate: {0.10, 0.25, 0.55, 0.10},
	types.StageSevere:   {0.05, 0.10, 0.30, 0.55},
}

// FeatureModel is a closed-form stand-in for a trained network. It maps
// lightness, red/green ratio, vessel density and mean red linearly to a
// hemoglobin value and perturbs each pass with Gaussian noise whose spread
// shrinks as the texture becomes more uniform.
type FeatureModel struct {
	mu     sync.Mutex
	rng    *rand.Rand
	stages Config
}

// NewFeatureModel creates a model whose noise sequence is fixed by seed.
func NewFeatureModel(seed int64) *FeatureModel {
	return &FeatureModel{
		rng:    rand.New(rand.NewSource(seed)),
		stages: DefaultConfig(),
	}
}

// Estimate returns the noise-free hemoglobin value and the noise spread.
func (m *FeatureModel) Estimate(input [types.ModelInputSize]float64) (hb, spread float64) {
	l := input[types.InputMeanL]
	rg := input[types.InputRatioRG]
	vd := input[types.InputVesselDensity]
	r := input[types.InputMeanR]
	lbp := input[types.InputLBPUniformity]

	hb = 14 - (l-60)/20*2 + (rg-1.05)/0.15*1.5 + (vd-0.15)/0.1*0.8 + (r-150)/50*0.5
	hb = clamp(hb, 8, 18)
	spread = 0.6 + (1-clamp(lbp, 0, 1))*0.4
	return hb, spread
}

func (m *FeatureModel) Forward(ctx context.Context, roi *image.NRGBA, input [types.ModelInputSize]float64) (PassResult, error) {
	if err := ctx.Err(); err != nil {
		return PassResult{}, err
	}
	hb, spread := m.Estimate(input)

	m.mu.Lock()
	noise := m.rng.NormFloat64() * spread
	m.mu.Unlock()

	hb += noise
	stage := stageOf(hb, m.stages)
	return PassResult{Hb: hb, Probs: stageProbabilities[stage]}, nil
}
