// Package nailscan estimates blood hemoglobin from a single nail-bed photo.
//
// A scan runs a fixed sequence of stages, each producing a report and the
// payload for the next one:
//
//  1. Upload gate (pkg/validation): format, size, resolution, integrity,
//     hand presence and nail polish checks
//  2. Quality control (pkg/quality): sharpness, brightness, contrast, blur
//  3. Fairness preprocessing (pkg/preprocess): white balance, glare removal,
//     skin tone normalization, CLAHE
//  4. Segmentation (pkg/segmentation): nail-bed mask and 256px ROI
//  5. Features (pkg/features): color, texture and vascular descriptors
//  6. Prediction (pkg/prediction): Monte-Carlo hemoglobin estimate with an
//     uncertainty gate and anemia staging
//  7. Explanation (pkg/explain): feature attribution and saliency overlay
//
// A drift monitor (pkg/drift) watches the feature stream on the side.
//
// Basic usage:
//
//	pipeline := nailscan.New()
//	result, err := pipeline.Run(ctx, "", data, "thumb.jpg")
//	var verr *validation.ValidationError
//	switch {
//	case errors.As(err, &verr):
//		fmt.Println("rejected:", verr.Message)
//	case err != nil:
//		fmt.Println(pipeline.PublicMessage(err))
//	case !result.QualityPass:
//		fmt.Println("retake:", result.Quality.FailReasons)
//	case !result.Prediction.HasEstimate():
//		fmt.Println(result.Prediction.Message)
//	default:
//		fmt.Printf("Hb %.1f g/dL (%s)\n", *result.Prediction.Hb, *result.Prediction.Stage)
//	}
//
// The result is a screening estimate and never a diagnosis. An absent
// estimate means the scan was inconclusive, not that hemoglobin is zero.
package nailscan

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"
	"github.com/mdobak/go-xerrors"
	"go.uber.org/zap"

	"github.com/menta2k/nailscan/pkg/drift"
	"github.com/menta2k/nailscan/pkg/explain"
	"github.com/menta2k/nailscan/pkg/features"
	"github.com/menta2k/nailscan/pkg/prediction"
	"github.com/menta2k/nailscan/pkg/preprocess"
	"github.com/menta2k/nailscan/pkg/processing"
	"github.com/menta2k/nailscan/pkg/quality"
	"github.com/menta2k/nailscan/pkg/segmentation"
	"github.com/menta2k/nailscan/pkg/types"
	"github.com/menta2k/nailscan/pkg/validation"
	"github.com/menta2k/nailscan/pkg/vision"
)

// Version of the nailscan pipeline
const Version = "1.0.0"

// Component versions reported with every scan.
const (
	PreprocessVersion = "fairness-v1"
	SegmenterVersion  = "pseudo-mask-v1"
	ModelVersion      = "feature-model-v1"
)

// ErrInternal marks failures that are not the caller's fault. The wrapped
// detail is for logs only.
var ErrInternal = errors.New("internal error")

// internalMessage is what callers may show for ErrInternal failures.
const internalMessage = "An internal error occurred while analyzing the image. Please try again later."

// Options configures every stage of a Pipeline.
type Options struct {
	Gate         validation.Config
	Skin         vision.SkinConfig
	Polish       vision.PolishConfig
	Quality      quality.Config
	Preprocess   preprocess.Config
	Segmentation segmentation.Config
	Features     features.Config
	Prediction   prediction.Config
	Explain      explain.Config

	// Artifacts enables the base64 image artifacts in the result.
	Artifacts bool
}

// DefaultOptions returns the default configuration of every stage.
func DefaultOptions() Options {
	return Options{
		Gate:         validation.DefaultConfig(),
		Skin:         vision.DefaultSkinConfig(),
		Polish:       vision.DefaultPolishConfig(),
		Quality:      quality.DefaultConfig(),
		Preprocess:   preprocess.DefaultConfig(),
		Segmentation: segmentation.DefaultConfig(),
		Features:     features.DefaultConfig(),
		Prediction:   prediction.DefaultConfig(),
		Explain:      explain.DefaultConfig(),
		Artifacts:    true,
	}
}

// ScanResult is the structured outcome of one scan. Stages after a failed
// quality check are skipped and their fields stay nil.
type ScanResult struct {
	ScanID        string                     `json:"scan_id"`
	Timestamp     time.Time                  `json:"timestamp"`
	Version       types.VersionInfo          `json:"version"`
	Subject       types.SubjectPresenceInfo  `json:"subject"`
	Confounder    types.ConfounderResult     `json:"confounder"`
	Quality       types.QualityReport        `json:"quality"`
	QualityPass   bool                       `json:"quality_pass"`
	Preprocessing *types.PreprocessingReport `json:"preprocessing,omitempty"`
	Segmentation  *types.SegmentationReport  `json:"segmentation,omitempty"`
	Features      *types.FeatureVector       `json:"features,omitempty"`
	Prediction    *types.Prediction          `json:"prediction,omitempty"`
	Explanation   *types.Attribution         `json:"explanation,omitempty"`
	Drift         []drift.Score              `json:"drift,omitempty"`
	// Timings are per-stage durations in milliseconds.
	Timings map[string]float64 `json:"timings_ms"`

	// ROI is kept for callers that render their own artifacts.
	ROI *image.NRGBA `json:"-"`
}

// Pipeline runs scans. It is safe for concurrent use as long as the
// injected collaborators are.
type Pipeline struct {
	options      Options
	gate         *validation.Gate
	quality      *quality.Controller
	preprocessor *preprocess.Preprocessor
	segmenter    *segmentation.Segmenter
	extractor    *features.Extractor
	predictor    *prediction.Predictor
	explainer    *explain.Explainer
	drift        *drift.Monitor
	processor    *processing.Processor
	version      types.VersionInfo
	logger       *zap.Logger
}

// New creates a Pipeline with default configuration
func New() *Pipeline {
	return NewWithConfig(DefaultOptions())
}

// NewWithConfig creates a Pipeline with custom configuration
func NewWithConfig(opts Options) *Pipeline {
	gate := validation.NewWithConfig(opts.Gate)
	gate.SetSkinDetector(vision.NewWithConfig(opts.Skin))
	gate.SetPolishDetector(vision.NewPolishDetectorWithConfig(opts.Polish))

	return &Pipeline{
		options:      opts,
		gate:         gate,
		quality:      quality.NewWithConfig(opts.Quality),
		preprocessor: preprocess.NewWithConfig(opts.Preprocess),
		segmenter:    segmentation.NewWithConfig(opts.Segmentation),
		extractor:    features.NewWithConfig(opts.Features),
		predictor:    prediction.NewWithConfig(opts.Prediction),
		explainer:    explain.NewWithConfig(opts.Explain),
		processor:    processing.NewProcessor(),
		version: types.VersionInfo{
			Pipeline:   Version,
			Preprocess: PreprocessVersion,
			Segmenter:  SegmenterVersion,
			Model:      ModelVersion,
		},
		logger: zap.NewNop(),
	}
}

// SetHandDetector installs the primary hand detector of the upload gate.
func (p *Pipeline) SetHandDetector(d validation.HandDetector) {
	p.gate.SetHandDetector(d)
}

// SetMaskPredictor replaces the segmentation mask predictor.
func (p *Pipeline) SetMaskPredictor(m segmentation.MaskPredictor, version string) {
	p.segmenter.SetPredictor(m)
	if version != "" {
		p.version.Segmenter = version
	}
}

// SetModel replaces the hemoglobin model.
func (p *Pipeline) SetModel(m prediction.Model, version string) {
	p.predictor.SetModel(m)
	if version != "" {
		p.version.Model = version
	}
}

// SetHeatmapBackend installs a trained saliency backend.
func (p *Pipeline) SetHeatmapBackend(b explain.HeatmapBackend) {
	p.explainer.SetBackend(b)
}

// SetDriftMonitor attaches a drift monitor. One monitor is usually shared by
// all pipelines of a process.
func (p *Pipeline) SetDriftMonitor(m *drift.Monitor) {
	p.drift = m
}

// SetLogger sets the logger of the pipeline and of every stage.
func (p *Pipeline) SetLogger(l *zap.Logger) {
	if l == nil {
		return
	}
	p.logger = l
	p.gate.SetLogger(l.Named("validation"))
	p.quality.SetLogger(l.Named("quality"))
	p.preprocessor.SetLogger(l.Named("preprocess"))
	p.segmenter.SetLogger(l.Named("segmentation"))
	p.extractor.SetLogger(l.Named("features"))
	p.predictor.SetLogger(l.Named("prediction"))
	p.explainer.SetLogger(l.Named("explain"))
}

// Run scans one upload. Input rejections are returned as
// *validation.ValidationError, failed quality checks and withheld estimates
// are normal results, and everything else unexpected wraps ErrInternal.
// An empty scanID is replaced by a random one.
func (p *Pipeline) Run(ctx context.Context, scanID string, data []byte, filename string) (*ScanResult, error) {
	if scanID == "" {
		scanID = uuid.New().String()
	}
	log := p.logger.With(zap.String("scan_id", scanID))
	result := &ScanResult{
		ScanID:    scanID,
		Timestamp: time.Now().UTC(),
		Version:   p.version,
		Timings:   make(map[string]float64),
	}
	timer := func(stage string) func() {
		start := time.Now()
		return func() {
			result.Timings[stage] = float64(time.Since(start).Microseconds()) / 1000
		}
	}

	done := timer("validation")
	upload, err := p.gate.Validate(ctx, data, filename)
	done()
	if err != nil {
		var verr *validation.ValidationError
		if errors.As(err, &verr) {
			log.Info("upload rejected", zap.String("reason", string(verr.Reason)))
			return nil, verr
		}
		return nil, p.fail(log, "validation", err)
	}
	result.Subject = upload.Subject
	result.Confounder = upload.Confounder

	done = timer("quality")
	qr, err := p.quality.Assess(ctx, upload.Image)
	done()
	if err != nil {
		return nil, p.fail(log, "quality", err)
	}
	result.Quality = qr
	result.QualityPass = qr.Pass
	if !qr.Pass {
		log.Info("quality check failed", zap.Strings("reasons", qr.FailReasons))
		return result, nil
	}

	done = timer("preprocess")
	normalized, prep, err := p.preprocessor.Process(ctx, upload.Image)
	done()
	if err != nil {
		return nil, p.fail(log, "preprocess", err)
	}

	done = timer("segmentation")
	seg, err := p.segmenter.Segment(ctx, normalized)
	done()
	if err != nil {
		return nil, p.fail(log, "segmentation", err)
	}
	result.ROI = seg.ROI

	done = timer("features")
	fv, err := p.extractor.Extract(ctx, seg.ROI, seg.Mask)
	done()
	if err != nil {
		return nil, p.fail(log, "features", err)
	}
	result.Features = &fv

	if p.drift != nil {
		result.Drift = p.drift.Update(fv.Values())
	}

	done = timer("prediction")
	pred, err := p.predictor.Predict(ctx, seg.ROI, fv)
	done()
	if err != nil {
		return nil, p.fail(log, "prediction", err)
	}
	result.Prediction = &pred

	var overlay *image.NRGBA
	if pred.HasEstimate() {
		done = timer("explain")
		exp, err := p.explainer.Explain(ctx, seg.ROI, fv, pred)
		done()
		if err != nil {
			return nil, p.fail(log, "explain", err)
		}
		result.Explanation = &exp.Attribution
		overlay = exp.Overlay
	}

	segReport := seg.Report
	if p.options.Artifacts {
		done = timer("artifacts")
		err := p.attachArtifacts(upload.Image, normalized, seg, overlay, &prep, &segReport, result.Explanation)
		done()
		if err != nil {
			return nil, p.fail(log, "artifacts", err)
		}
	}
	result.Preprocessing = &prep
	result.Segmentation = &segReport

	fields := []zap.Field{
		zap.Bool("estimate", pred.HasEstimate()),
		zap.Float64("uncertainty", pred.Uncertainty),
		zap.String("roi_path", string(segReport.Path)),
	}
	if pred.HasEstimate() {
		fields = append(fields, zap.Float64("hb", *pred.Hb), zap.String("stage", string(*pred.Stage)))
	}
	log.Info("scan completed", fields...)
	return result, nil
}

// attachArtifacts renders the data-URI images into the reports.
func (p *Pipeline) attachArtifacts(original, normalized *image.NRGBA, seg *segmentation.Result, overlay *image.NRGBA,
	prep *types.PreprocessingReport, segReport *types.SegmentationReport, attr *types.Attribution) error {
	var err error
	if prep.OriginalImage, err = p.processor.EncodeDataURI(original, "jpeg"); err != nil {
		return fmt.Errorf("original image: %w", err)
	}
	if prep.PreprocessedImage, err = p.processor.EncodeDataURI(normalized, "jpeg"); err != nil {
		return fmt.Errorf("preprocessed image: %w", err)
	}
	if segReport.ROIImage, err = p.processor.EncodeDataURI(seg.ROI, "jpeg"); err != nil {
		return fmt.Errorf("roi image: %w", err)
	}
	if seg.Mask != nil && seg.Mask.Width > 0 {
		if segReport.MaskImage, err = p.processor.EncodeDataURI(seg.Mask.ToGray(), "png"); err != nil {
			return fmt.Errorf("mask image: %w", err)
		}
	}
	if attr != nil && overlay != nil {
		if attr.Overlay, err = p.processor.EncodeDataURI(overlay, "png"); err != nil {
			return fmt.Errorf("overlay image: %w", err)
		}
	}
	return nil
}

// fail logs a stage failure and hides its detail from the caller.
// Cancellation is passed through untouched.
func (p *Pipeline) fail(log *zap.Logger, stage string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		log.Info("scan cancelled", zap.String("stage", stage), zap.Error(err))
		return err
	}
	wrapped := xerrors.New(fmt.Errorf("%w: %s: %w", ErrInternal, stage, err))
	log.Error("scan failed", zap.String("stage", stage), zap.Error(wrapped))
	return wrapped
}

// PublicMessage returns the text that may be shown to the end user for an
// error returned by Run.
func (p *Pipeline) PublicMessage(err error) string {
	var verr *validation.ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		return verr.Message
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "The analysis was cancelled."
	default:
		return internalMessage
	}
}

// VersionInfo returns the component versions reported with each scan.
func (p *Pipeline) VersionInfo() types.VersionInfo {
	return p.version
}

// GetVersion returns the version of the nailscan pipeline
func GetVersion() string {
	return Version
}
