package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8.0, cfg.Upload.MaxSizeMB)
	assert.Equal(t, 512, cfg.Upload.MinResolution)
	assert.Equal(t, 10, cfg.Prediction.Passes)
	assert.Equal(t, 0.7, cfg.Prediction.UncertaintyThreshold)
	assert.Equal(t, 12.0, cfg.Prediction.NormalThreshold)
	assert.Equal(t, 100, cfg.Drift.Window)
	assert.Equal(t, BackendNone, cfg.Backend.HandDetector)
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := Default()
	cfg.Prediction.Passes = 25
	cfg.Backend.HandDetector = BackendOllama
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadKeepsDefaultsForMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"quality": {"min_sharpness": 50}}`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 50.0, cfg.Quality.MinSharpness)
	assert.Equal(t, 15.0, cfg.Quality.MinContrast)
	assert.Equal(t, 256, cfg.Segmentation.ROISize)
}

func TestLoadErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0644))
	_, err = LoadFromFile(path)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no extensions", func(c *Config) { c.Upload.AllowedExtensions = nil }},
		{"brightness range", func(c *Config) { c.Quality.MinBrightness = 230 }},
		{"scale range", func(c *Config) { c.Preprocess.MinScale = 2 }},
		{"max pixels below min resolution", func(c *Config) { c.Upload.MaxPixels = 1000 }},
		{"zero open kernel", func(c *Config) { c.Segmentation.OpenKernel = 0 }},
		{"even close kernel", func(c *Config) { c.Segmentation.CloseKernel = 6 }},
		{"zero passes", func(c *Config) { c.Prediction.Passes = 0 }},
		{"confidence", func(c *Config) { c.Prediction.ConfidenceLevel = 1 }},
		{"thresholds order", func(c *Config) { c.Prediction.MildThreshold = 13 }},
		{"drift samples", func(c *Config) { c.Drift.MinSamples = 500 }},
		{"backend", func(c *Config) { c.Backend.HandDetector = "mediapipe" }},
		{"format", func(c *Config) { c.Output.Format = "gif" }},
		{"quality", func(c *Config) { c.Output.Quality = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("NAILSCAN_MC_PASSES", "20")
	t.Setenv("NAILSCAN_UNCERTAINTY_THRESHOLD", "0.5")
	t.Setenv("NAILSCAN_HAND_DETECTOR", "llamacpp")
	t.Setenv("NAILSCAN_LOG_PRODUCTION", "true")
	t.Setenv("NAILSCAN_MIN_CONTRAST", " ")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(filepath.Join(t.TempDir(), "missing.env")))
	assert.Equal(t, 20, cfg.Prediction.Passes)
	assert.Equal(t, 0.5, cfg.Prediction.UncertaintyThreshold)
	assert.Equal(t, BackendLlamaCpp, cfg.Backend.HandDetector)
	assert.True(t, cfg.Log.Production)
	assert.Equal(t, 15.0, cfg.Quality.MinContrast)
}

func TestApplyEnvReadsDotEnv(t *testing.T) {
	// registered so the variable is restored once the file has set it
	t.Setenv("NAILSCAN_VISION_MODEL", "")
	require.NoError(t, os.Unsetenv("NAILSCAN_VISION_MODEL"))
	t.Setenv("NAILSCAN_DRIFT_WINDOW", "50")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("NAILSCAN_VISION_MODEL=llava:13b\nNAILSCAN_DRIFT_WINDOW=10\n"), 0644))

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(path))
	assert.Equal(t, "llava:13b", cfg.Backend.VisionModel)
	assert.Equal(t, 50, cfg.Drift.Window, "process environment wins over the file")
}

func TestApplyEnvRejectsBadNumbers(t *testing.T) {
	t.Setenv("NAILSCAN_MC_PASSES", "ten")
	err := Default().ApplyEnv(filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorContains(t, err, "NAILSCAN_MC_PASSES")
}

func TestPipelineOptions(t *testing.T) {
	cfg := Default()
	cfg.Upload.MaxSizeMB = 2
	cfg.Prediction.Passes = 5
	cfg.Polish.NeonValue = 0.9
	cfg.Output.Artifacts = false

	opts := cfg.PipelineOptions()
	assert.Equal(t, int64(2*1024*1024), opts.Gate.MaxUploadBytes)
	assert.Equal(t, int64(40_000_000), opts.Gate.MaxPixels)
	assert.Equal(t, 5, opts.Prediction.Passes)
	assert.Equal(t, 0.9, opts.Polish.NeonValue)
	assert.Equal(t, 0.3, opts.Polish.RegionStart)
	assert.False(t, opts.Artifacts)
	assert.Equal(t, 18, opts.Features.OrientationBins)
}

func TestDriftMonitor(t *testing.T) {
	cfg := Default()
	cfg.Drift.MinSamples = 1
	m := cfg.DriftMonitor()
	scores := m.Update(map[string]float64{"mean_L": 180})
	require.Len(t, scores, 1)
	assert.False(t, scores[0].Drifting)
}

func TestGetConfigPath(t *testing.T) {
	assert.Equal(t, "config.json", filepath.Base(GetConfigPath()))
}
