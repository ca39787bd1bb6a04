// Package prediction turns a feature vector into a hemoglobin estimate with
// a Monte-Carlo uncertainty bound and an anemia stage.
package prediction

import (
	"context"
	"fmt"
	"image"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/menta2k/nailscan/pkg/types"
)

// PassResult is the output of one stochastic forward pass.
type PassResult struct {
	Hb    float64
	Probs [4]float64
}

// Model is a stochastic hemoglobin regressor and stage classifier. Each call
// to Forward may return a different result for the same input.
type Model interface {
	Forward(ctx context.Context, roi *image.NRGBA, input [types.ModelInputSize]float64) (PassResult, error)
}

// Config holds the prediction parameters
type Config struct {
	Passes               int
	UncertaintyThreshold float64
	ConfidenceLevel      float64

	// stage thresholds in g/dL, checked from the highest down
	NormalThreshold   float64
	MildThreshold     float64
	ModerateThreshold float64

	MinHb float64
	MaxHb float64

	// Seed fixes the noise of the default feature model.
	Seed int64
}

// DefaultConfig returns WHO-style staging with 10 passes.
func DefaultConfig() Config {
	return Config{
		Passes:               10,
		UncertaintyThreshold: 0.7,
		ConfidenceLevel:      0.95,
		NormalThreshold:      12,
		MildThreshold:        11,
		ModerateThreshold:    8,
		MinHb:                0,
		MaxHb:                20,
		Seed:                 42,
	}
}

const cvEpsilon = 1e-6

// Predictor runs the model repeatedly and aggregates the passes
type Predictor struct {
	config Config
	model  Model
	logger *zap.Logger
}

// New creates a Predictor with default configuration backed by the
// closed-form feature model
func New() *Predictor {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a Predictor with custom configuration
func NewWithConfig(config Config) *Predictor {
	return &Predictor{
		config: config,
		model:  NewFeatureModel(config.Seed),
		logger: zap.NewNop(),
	}
}

// SetModel replaces the model
func (p *Predictor) SetModel(m Model) {
	if m != nil {
		p.model = m
	}
}

func (p *Predictor) SetLogger(l *zap.Logger) {
	if l != nil {
		p.logger = l
	}
}

// Predict runs the configured number of forward passes and aggregates them.
// A failed pass fails the whole prediction.
func (p *Predictor) Predict(ctx context.Context, roi *image.NRGBA, fv types.FeatureVector) (types.Prediction, error) {
	input := fv.ModelInput()
	passes := make([]PassResult, 0, p.config.Passes)
	for i := 0; i < p.config.Passes; i++ {
		if err := ctx.Err(); err != nil {
			return types.Prediction{}, err
		}
		r, err := p.model.Forward(ctx, roi, input)
		if err != nil {
			return types.Prediction{}, fmt.Errorf("forward pass %d: %w", i+1, err)
		}
		passes = append(passes, r)
	}
	return p.Aggregate(passes)
}

// Aggregate computes the mean estimate, its uncertainty and, unless the
// uncertainty gate fires, the interval, stage and risk.
func (p *Predictor) Aggregate(passes []PassResult) (types.Prediction, error) {
	n := len(passes)
	if n == 0 {
		return types.Prediction{}, fmt.Errorf("no forward passes to aggregate")
	}

	hbs := make([]float64, n)
	normal := make([]float64, n)
	for i, r := range passes {
		if !finite(r.Hb) {
			return types.Prediction{}, fmt.Errorf("pass %d returned non-finite hemoglobin %v", i+1, r.Hb)
		}
		if err := checkProbs(r.Probs); err != nil {
			return types.Prediction{}, fmt.Errorf("pass %d: %w", i+1, err)
		}
		hbs[i] = r.Hb
		normal[i] = r.Probs[0]
	}

	mean := stat.Mean(hbs, nil)
	std := 0.0
	if n > 1 {
		std = stat.StdDev(hbs, nil)
	}
	uncertainty := Uncertainty(mean, std)

	pred := types.Prediction{Uncertainty: uncertainty, Passes: n}
	if uncertainty > p.config.UncertaintyThreshold {
		pred.UncertaintyFlag = types.FlagRetakeOrLabConfirm
		pred.Message = fmt.Sprintf("Model is not confident (uncertainty: %.2f). "+
			"Please retake the image with better quality or confirm with a lab test.", uncertainty)
		p.logger.Warn("prediction withheld",
			zap.Float64("uncertainty", uncertainty),
			zap.Float64("threshold", p.config.UncertaintyThreshold))
		return pred, nil
	}

	lo, hi := p.Interval(mean, std)
	stage := p.Stage(mean)
	risk := clamp(1-stat.Mean(normal, nil), 0, 1)

	pred.Hb = &mean
	pred.Interval = &[2]float64{lo, hi}
	pred.Stage = &stage
	pred.Risk = &risk

	p.logger.Info("prediction complete",
		zap.Float64("hb", mean),
		zap.Float64("ci_low", lo),
		zap.Float64("ci_high", hi),
		zap.String("stage", string(stage)),
		zap.Float64("risk", risk))
	return pred, nil
}

// probTolerance bounds how far a class distribution may sum away from 1.
const probTolerance = 1e-3

func checkProbs(probs [4]float64) error {
	sum := 0.0
	for _, v := range probs {
		if !finite(v) || v < 0 || v > 1 {
			return fmt.Errorf("invalid class probabilities %v", probs)
		}
		sum += v
	}
	if math.Abs(sum-1) > probTolerance {
		return fmt.Errorf("class probabilities sum to %.4f", sum)
	}
	return nil
}

// Uncertainty is the coefficient of variation capped to [0,1]. A
// non-positive mean is maximally uncertain.
func Uncertainty(mean, std float64) float64 {
	if mean <= 0 {
		return 1
	}
	return clamp(std/(mean+cvEpsilon), 0, 1)
}

// Interval returns the two-sided normal confidence interval, with both
// bounds clamped to the physiological range.
func (p *Predictor) Interval(mean, std float64) (float64, float64) {
	z := distuv.UnitNormal.Quantile((1 + p.config.ConfidenceLevel) / 2)
	margin := z * std
	return clamp(mean-margin, p.config.MinHb, p.config.MaxHb),
		clamp(mean+margin, p.config.MinHb, p.config.MaxHb)
}

// Stage maps a hemoglobin value to a severity category.
func (p *Predictor) Stage(hb float64) types.Stage {
	return stageOf(hb, p.config)
}

func stageOf(hb float64, c Config) types.Stage {
	switch {
	case hb >= c.NormalThreshold:
		return types.StageNormal
	case hb >= c.MildThreshold:
		return types.StageMild
	case hb >= c.ModerateThreshold:
		return types.StageModerate
	default:
		return types.StageSevere
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
