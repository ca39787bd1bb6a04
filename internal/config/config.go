package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/menta2k/nailscan"
	"github.com/menta2k/nailscan/pkg/drift"
	"github.com/menta2k/nailscan/pkg/explain"
	"github.com/menta2k/nailscan/pkg/prediction"
	"github.com/menta2k/nailscan/pkg/preprocess"
	"github.com/menta2k/nailscan/pkg/quality"
	"github.com/menta2k/nailscan/pkg/segmentation"
	"github.com/menta2k/nailscan/pkg/validation"
	"github.com/menta2k/nailscan/pkg/vision"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "NAILSCAN_"

// Hand detector backends.
const (
	BackendNone     = "none"
	BackendOllama   = "ollama"
	BackendLlamaCpp = "llamacpp"
)

// Config holds the application configuration
type Config struct {
	Upload       UploadConfig       `json:"upload"`
	Quality      QualityConfig      `json:"quality"`
	Preprocess   PreprocessConfig   `json:"preprocess"`
	Segmentation SegmentationConfig `json:"segmentation"`
	Prediction   PredictionConfig   `json:"prediction"`
	Explain      ExplainConfig      `json:"explain"`
	Drift        DriftConfig        `json:"drift"`
	Polish       PolishConfig       `json:"polish"`
	Backend      BackendConfig      `json:"backend"`
	Output       OutputConfig       `json:"output"`
	Log          LogConfig          `json:"log"`
}

// UploadConfig holds the upload gate limits
type UploadConfig struct {
	MaxSizeMB         float64  `json:"max_size_mb"`
	MinResolution     int      `json:"min_resolution"`
	MaxPixels         int64    `json:"max_pixels"`
	AllowedExtensions []string `json:"allowed_extensions"`
	CheckConfounder   bool     `json:"check_confounder"`
}

// QualityConfig holds the quality control thresholds
type QualityConfig struct {
	MinSharpness  float64 `json:"min_sharpness"`
	MinBrightness float64 `json:"min_brightness"`
	MaxBrightness float64 `json:"max_brightness"`
	MinContrast   float64 `json:"min_contrast"`
}

// PreprocessConfig holds the fairness normalization parameters
type PreprocessConfig struct {
	TargetSize       int     `json:"target_size"`
	Seed             int64   `json:"seed"`
	GlareMinCoverage float64 `json:"glare_min_coverage"`
	CLAHEClip        float64 `json:"clahe_clip"`
	CLAHETiles       int     `json:"clahe_tiles"`
	TargetLightness  float64 `json:"target_lightness"`
	MinScale         float64 `json:"min_scale"`
	MaxScale         float64 `json:"max_scale"`
}

// SegmentationConfig holds the mask cleanup and ROI parameters
type SegmentationConfig struct {
	Threshold   float64 `json:"threshold"`
	Padding     int     `json:"padding"`
	OpenKernel  int     `json:"open_kernel"`
	CloseKernel int     `json:"close_kernel"`
	ROISize     int     `json:"roi_size"`
}

// PredictionConfig holds the Monte-Carlo and staging parameters
type PredictionConfig struct {
	Passes               int     `json:"passes"`
	UncertaintyThreshold float64 `json:"uncertainty_threshold"`
	ConfidenceLevel      float64 `json:"confidence_level"`
	NormalThreshold      float64 `json:"anemia_threshold_normal"`
	MildThreshold        float64 `json:"anemia_threshold_mild"`
	ModerateThreshold    float64 `json:"anemia_threshold_moderate"`
	Seed                 int64   `json:"seed"`
}

// ExplainConfig holds the attribution and overlay parameters
type ExplainConfig struct {
	MinImportance float64 `json:"min_importance"`
	TopFeatures   int     `json:"top_features"`
	OverlayAlpha  float64 `json:"overlay_alpha"`
}

// DriftConfig holds the drift window parameters
type DriftConfig struct {
	Window     int     `json:"window"`
	MinSamples int     `json:"min_samples"`
	Threshold  float64 `json:"threshold"`
}

// PolishConfig holds the nail polish heuristics
type PolishConfig struct {
	HighSaturation    float64 `json:"high_saturation"`
	DarkSaturation    float64 `json:"dark_saturation"`
	DarkStd           float64 `json:"dark_std"`
	DarkValue         float64 `json:"dark_value"`
	HueSaturation     float64 `json:"hue_saturation"`
	MinBiologicalHue  float64 `json:"min_biological_hue_ratio"`
	NeonValue         float64 `json:"neon_value"`
	NeonSaturation    float64 `json:"neon_saturation"`
	UniformSaturation float64 `json:"uniform_saturation"`
	UniformStd        float64 `json:"uniform_std"`
}

// BackendConfig selects the external models
type BackendConfig struct {
	// HandDetector is one of none, ollama or llamacpp.
	HandDetector string `json:"hand_detector"`
	VisionURL    string `json:"vision_url"`
	VisionModel  string `json:"vision_model"`
	// InferenceURL points at a model server for masks, passes and heatmaps.
	// Empty keeps the built-in models.
	InferenceURL string `json:"inference_url"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	OutputDir string `json:"output_dir"`
	Format    string `json:"format"`
	Quality   int    `json:"quality"`
	Lossless  bool   `json:"lossless"`
	Artifacts bool   `json:"artifacts"`
	Database  string `json:"database"`
}

// LogConfig holds logger settings
type LogConfig struct {
	File       string `json:"file"`
	Production bool   `json:"production"`
	Debug      bool   `json:"debug"`
}

// Default returns a configuration with default values
func Default() *Config {
	gate := validation.DefaultConfig()
	qc := quality.DefaultConfig()
	prep := preprocess.DefaultConfig()
	seg := segmentation.DefaultConfig()
	pred := prediction.DefaultConfig()
	exp := explain.DefaultConfig()
	dr := drift.DefaultConfig()
	polish := vision.DefaultPolishConfig()

	return &Config{
		Upload: UploadConfig{
			MaxSizeMB:         float64(gate.MaxUploadBytes) / (1024 * 1024),
			MinResolution:     gate.MinResolution,
			MaxPixels:         gate.MaxPixels,
			AllowedExtensions: gate.AllowedExtensions,
			CheckConfounder:   gate.CheckConfounder,
		},
		Quality: QualityConfig{
			MinSharpness:  qc.MinSharpness,
			MinBrightness: qc.MinBrightness,
			MaxBrightness: qc.MaxBrightness,
			MinContrast:   qc.MinContrast,
		},
		Preprocess: PreprocessConfig{
			TargetSize:       prep.TargetSize,
			Seed:             prep.Seed,
			GlareMinCoverage: prep.GlareMinCoverage,
			CLAHEClip:        prep.CLAHEClip,
			CLAHETiles:       prep.CLAHETiles,
			TargetLightness:  prep.TargetLightness,
			MinScale:         prep.MinScale,
			MaxScale:         prep.MaxScale,
		},
		Segmentation: SegmentationConfig{
			Threshold:   seg.Threshold,
			Padding:     seg.Padding,
			OpenKernel:  seg.OpenKernel,
			CloseKernel: seg.CloseKernel,
			ROISize:     seg.ROISize,
		},
		Prediction: PredictionConfig{
			Passes:               pred.Passes,
			UncertaintyThreshold: pred.UncertaintyThreshold,
			ConfidenceLevel:      pred.ConfidenceLevel,
			NormalThreshold:      pred.NormalThreshold,
			MildThreshold:        pred.MildThreshold,
			ModerateThreshold:    pred.ModerateThreshold,
			Seed:                 pred.Seed,
		},
		Explain: ExplainConfig{
			MinImportance: exp.MinImportance,
			TopFeatures:   exp.TopFeatures,
			OverlayAlpha:  exp.OverlayAlpha,
		},
		Drift: DriftConfig{
			Window:     dr.Window,
			MinSamples: dr.MinSamples,
			Threshold:  dr.Threshold,
		},
		Polish: PolishConfig{
			HighSaturation:    polish.HighSaturation,
			DarkSaturation:    polish.DarkSaturation,
			DarkStd:           polish.DarkStd,
			DarkValue:         polish.DarkValue,
			HueSaturation:     polish.HueSaturation,
			MinBiologicalHue:  polish.MinBiologicalHue,
			NeonValue:         polish.NeonValue,
			NeonSaturation:    polish.NeonSaturation,
			UniformSaturation: polish.UniformSaturation,
			UniformStd:        polish.UniformStd,
		},
		Backend: BackendConfig{
			HandDetector: BackendNone,
			VisionURL:    "http://localhost:11434",
			VisionModel:  "qwen2.5vl:7b",
		},
		Output: OutputConfig{
			OutputDir: "./output",
			Format:    "jpg",
			Quality:   90,
			Artifacts: true,
		},
	}
}

// LoadFromFile loads configuration from a JSON file. Missing fields keep
// their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv loads the given .env files (".env" when none are named, missing
// files are ignored) and overrides the configuration from NAILSCAN_*
// variables. Variables already set in the environment win over the files.
func (c *Config) ApplyEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load env file: %w", err)
	}

	overrides := []struct {
		name  string
		apply func(string) error
	}{
		{"MAX_UPLOAD_MB", setFloat(&c.Upload.MaxSizeMB)},
		{"MIN_RESOLUTION", setInt(&c.Upload.MinResolution)},
		{"MAX_PIXELS", setInt64(&c.Upload.MaxPixels)},
		{"MIN_SHARPNESS", setFloat(&c.Quality.MinSharpness)},
		{"MIN_BRIGHTNESS", setFloat(&c.Quality.MinBrightness)},
		{"MAX_BRIGHTNESS", setFloat(&c.Quality.MaxBrightness)},
		{"MIN_CONTRAST", setFloat(&c.Quality.MinContrast)},
		{"TARGET_SIZE", setInt(&c.Preprocess.TargetSize)},
		{"ROI_SIZE", setInt(&c.Segmentation.ROISize)},
		{"SEED", setInt64(&c.Preprocess.Seed)},
		{"MC_PASSES", setInt(&c.Prediction.Passes)},
		{"UNCERTAINTY_THRESHOLD", setFloat(&c.Prediction.UncertaintyThreshold)},
		{"CONFIDENCE_LEVEL", setFloat(&c.Prediction.ConfidenceLevel)},
		{"ANEMIA_THRESHOLD_NORMAL", setFloat(&c.Prediction.NormalThreshold)},
		{"ANEMIA_THRESHOLD_MILD", setFloat(&c.Prediction.MildThreshold)},
		{"ANEMIA_THRESHOLD_MODERATE", setFloat(&c.Prediction.ModerateThreshold)},
		{"DRIFT_WINDOW", setInt(&c.Drift.Window)},
		{"DRIFT_THRESHOLD", setFloat(&c.Drift.Threshold)},
		{"HAND_DETECTOR", setString(&c.Backend.HandDetector)},
		{"VISION_URL", setString(&c.Backend.VisionURL)},
		{"VISION_MODEL", setString(&c.Backend.VisionModel)},
		{"INFERENCE_URL", setString(&c.Backend.InferenceURL)},
		{"OUTPUT_DIR", setString(&c.Output.OutputDir)},
		{"DATABASE", setString(&c.Output.Database)},
		{"LOG_FILE", setString(&c.Log.File)},
		{"LOG_PRODUCTION", setBool(&c.Log.Production)},
		{"LOG_DEBUG", setBool(&c.Log.Debug)},
	}
	for _, o := range overrides {
		v, ok := os.LookupEnv(EnvPrefix + o.name)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := o.apply(strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, o.name, err)
		}
	}
	return nil
}

func setFloat(dst *float64) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseFloat(s, 64)
		if err == nil {
			*dst = v
		}
		return err
	}
}

func setInt(dst *int) func(string) error {
	return func(s string) error {
		v, err := strconv.Atoi(s)
		if err == nil {
			*dst = v
		}
		return err
	}
}

func setInt64(dst *int64) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			*dst = v
		}
		return err
	}
}

func setBool(dst *bool) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseBool(s)
		if err == nil {
			*dst = v
		}
		return err
	}
}

func setString(dst *string) func(string) error {
	return func(s string) error {
		*dst = s
		return nil
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Upload.MaxSizeMB <= 0 {
		return fmt.Errorf("upload.max_size_mb must be positive")
	}

	if c.Upload.MinResolution < 1 {
		return fmt.Errorf("upload.min_resolution must be positive")
	}

	if c.Upload.MaxPixels < 0 || (c.Upload.MaxPixels > 0 && c.Upload.MaxPixels < int64(c.Upload.MinResolution)*int64(c.Upload.MinResolution)) {
		return fmt.Errorf("upload.max_pixels must be 0 or at least min_resolution squared")
	}

	if len(c.Upload.AllowedExtensions) == 0 {
		return fmt.Errorf("upload.allowed_extensions cannot be empty")
	}

	if c.Quality.MinBrightness < 0 || c.Quality.MaxBrightness > 255 || c.Quality.MinBrightness >= c.Quality.MaxBrightness {
		return fmt.Errorf("quality brightness range must satisfy 0 <= min < max <= 255")
	}

	if c.Preprocess.TargetSize < 1 || c.Segmentation.ROISize < 1 {
		return fmt.Errorf("preprocess.target_size and segmentation.roi_size must be positive")
	}

	for _, k := range []struct {
		name string
		size int
	}{{"open_kernel", c.Segmentation.OpenKernel}, {"close_kernel", c.Segmentation.CloseKernel}} {
		if k.size < 1 || k.size%2 == 0 {
			return fmt.Errorf("segmentation.%s must be an odd size >= 1, got %d", k.name, k.size)
		}
	}

	if c.Preprocess.MinScale <= 0 || c.Preprocess.MinScale > c.Preprocess.MaxScale {
		return fmt.Errorf("preprocess scale range must satisfy 0 < min <= max")
	}

	if c.Segmentation.Threshold < 0 || c.Segmentation.Threshold > 1 {
		return fmt.Errorf("segmentation.threshold must be between 0 and 1")
	}

	if c.Prediction.Passes < 1 {
		return fmt.Errorf("prediction.passes must be at least 1")
	}

	if c.Prediction.UncertaintyThreshold < 0 || c.Prediction.UncertaintyThreshold > 1 {
		return fmt.Errorf("prediction.uncertainty_threshold must be between 0 and 1")
	}

	if c.Prediction.ConfidenceLevel <= 0 || c.Prediction.ConfidenceLevel >= 1 {
		return fmt.Errorf("prediction.confidence_level must be between 0 and 1 exclusive")
	}

	p := c.Prediction
	if !(p.NormalThreshold > p.MildThreshold && p.MildThreshold > p.ModerateThreshold) {
		return fmt.Errorf("anemia thresholds must be strictly descending (normal > mild > moderate)")
	}

	if c.Explain.OverlayAlpha < 0 || c.Explain.OverlayAlpha > 1 {
		return fmt.Errorf("explain.overlay_alpha must be between 0 and 1")
	}

	if c.Drift.Window < 1 || c.Drift.MinSamples < 1 || c.Drift.MinSamples > c.Drift.Window {
		return fmt.Errorf("drift.min_samples must be between 1 and drift.window")
	}

	switch c.Backend.HandDetector {
	case BackendNone, BackendOllama, BackendLlamaCpp:
	default:
		return fmt.Errorf("backend.hand_detector must be one of %s, %s, %s",
			BackendNone, BackendOllama, BackendLlamaCpp)
	}

	switch strings.ToLower(c.Output.Format) {
	case "jpg", "jpeg", "png", "webp":
	default:
		return fmt.Errorf("output.format must be jpg, png or webp")
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}

	return nil
}

// PipelineOptions maps the configuration onto the stage configurations.
// Parameters not exposed here keep their stage defaults.
func (c *Config) PipelineOptions() nailscan.Options {
	opts := nailscan.DefaultOptions()

	opts.Gate.MaxUploadBytes = int64(c.Upload.MaxSizeMB * 1024 * 1024)
	opts.Gate.MinResolution = c.Upload.MinResolution
	opts.Gate.MaxPixels = c.Upload.MaxPixels
	opts.Gate.AllowedExtensions = c.Upload.AllowedExtensions
	opts.Gate.CheckConfounder = c.Upload.CheckConfounder

	opts.Quality.MinSharpness = c.Quality.MinSharpness
	opts.Quality.MinBrightness = c.Quality.MinBrightness
	opts.Quality.MaxBrightness = c.Quality.MaxBrightness
	opts.Quality.MinContrast = c.Quality.MinContrast

	opts.Preprocess.TargetSize = c.Preprocess.TargetSize
	opts.Preprocess.Seed = c.Preprocess.Seed
	opts.Preprocess.GlareMinCoverage = c.Preprocess.GlareMinCoverage
	opts.Preprocess.CLAHEClip = c.Preprocess.CLAHEClip
	opts.Preprocess.CLAHETiles = c.Preprocess.CLAHETiles
	opts.Preprocess.TargetLightness = c.Preprocess.TargetLightness
	opts.Preprocess.MinScale = c.Preprocess.MinScale
	opts.Preprocess.MaxScale = c.Preprocess.MaxScale

	opts.Segmentation.Threshold = c.Segmentation.Threshold
	opts.Segmentation.Padding = c.Segmentation.Padding
	opts.Segmentation.OpenKernel = c.Segmentation.OpenKernel
	opts.Segmentation.CloseKernel = c.Segmentation.CloseKernel
	opts.Segmentation.ROISize = c.Segmentation.ROISize

	opts.Prediction.Passes = c.Prediction.Passes
	opts.Prediction.UncertaintyThreshold = c.Prediction.UncertaintyThreshold
	opts.Prediction.ConfidenceLevel = c.Prediction.ConfidenceLevel
	opts.Prediction.NormalThreshold = c.Prediction.NormalThreshold
	opts.Prediction.MildThreshold = c.Prediction.MildThreshold
	opts.Prediction.ModerateThreshold = c.Prediction.ModerateThreshold
	opts.Prediction.Seed = c.Prediction.Seed

	opts.Explain.MinImportance = c.Explain.MinImportance
	opts.Explain.TopFeatures = c.Explain.TopFeatures
	opts.Explain.OverlayAlpha = c.Explain.OverlayAlpha

	pc := c.Polish
	opts.Polish.HighSaturation = pc.HighSaturation
	opts.Polish.DarkSaturation = pc.DarkSaturation
	opts.Polish.DarkStd = pc.DarkStd
	opts.Polish.DarkValue = pc.DarkValue
	opts.Polish.HueSaturation = pc.HueSaturation
	opts.Polish.MinBiologicalHue = pc.MinBiologicalHue
	opts.Polish.NeonValue = pc.NeonValue
	opts.Polish.NeonSaturation = pc.NeonSaturation
	opts.Polish.UniformSaturation = pc.UniformSaturation
	opts.Polish.UniformStd = pc.UniformStd

	opts.Artifacts = c.Output.Artifacts
	return opts
}

// DriftMonitor builds a monitor with the configured window and the default
// baselines.
func (c *Config) DriftMonitor() *drift.Monitor {
	return drift.NewWithConfig(drift.Config{
		Window:     c.Drift.Window,
		MinSamples: c.Drift.MinSamples,
		Threshold:  c.Drift.Threshold,
	}, drift.DefaultBaselines())
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "nailscan", "config.json")
}
