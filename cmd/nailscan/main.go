package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/menta2k/nailscan"
	"github.com/menta2k/nailscan/internal/config"
	"github.com/menta2k/nailscan/internal/logger"
	"github.com/menta2k/nailscan/internal/utils"
	"github.com/menta2k/nailscan/pkg/client"
	"github.com/menta2k/nailscan/pkg/detection"
	"github.com/menta2k/nailscan/pkg/inference"
	"github.com/menta2k/nailscan/pkg/llamacpp"
	"github.com/menta2k/nailscan/pkg/ollama"
	"github.com/menta2k/nailscan/pkg/processing"
	"github.com/menta2k/nailscan/pkg/store"
	"github.com/menta2k/nailscan/pkg/types"
	"github.com/menta2k/nailscan/pkg/validation"
)

func main() {
	var in, outDir, configPath, backend, visionURL, model, inferenceURL, dbPath, ext, scanID string
	var quality int
	var lossless, debug, writeConfig, checkVision bool
	var timeout time.Duration

	flag.StringVar(&in, "in", "", "input image path, URL or directory of uploads (jpg/png)")
	flag.StringVar(&outDir, "out", "", "output directory (default from config)")
	flag.StringVar(&configPath, "config", "", "config file (default ~/.config/nailscan/config.json when present)")
	flag.StringVar(&backend, "backend", "", "hand detector: none, ollama or llamacpp")
	flag.StringVar(&visionURL, "url", "", "vision server URL for the hand detector")
	flag.StringVar(&model, "model", "", "vision model name")
	flag.StringVar(&inferenceURL, "inference", "", "model server URL for masks, predictions and heatmaps")
	flag.StringVar(&dbPath, "db", "", "SQLite database to record the scan in")
	flag.StringVar(&scanID, "id", "", "scan identifier (random when empty)")

	flag.StringVar(&ext, "ext", "", "artifact format: jpg|png|webp")
	flag.IntVar(&quality, "quality", 0, "JPEG/WebP artifact quality (1-100)")
	flag.BoolVar(&lossless, "lossless", false, "WebP lossless mode for artifacts")
	flag.BoolVar(&debug, "debug", false, "write debug overlays and enable debug logging")
	flag.BoolVar(&checkVision, "check-vision", false, "ask the vision model to describe -in and exit")
	flag.BoolVar(&writeConfig, "write-config", false, "write the effective configuration to -config and exit")
	flag.DurationVar(&timeout, "timeout", 2*time.Minute, "overall scan timeout")

	flag.Parse()

	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatal(err)
	}
	override(&cfg.Output.OutputDir, outDir)
	override(&cfg.Backend.HandDetector, backend)
	override(&cfg.Backend.VisionURL, visionURL)
	override(&cfg.Backend.VisionModel, model)
	override(&cfg.Backend.InferenceURL, inferenceURL)
	override(&cfg.Output.Database, dbPath)
	override(&cfg.Output.Format, ext)
	if quality > 0 {
		cfg.Output.Quality = quality
	}
	if lossless {
		cfg.Output.Lossless = true
	}
	if debug {
		cfg.Log.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	if writeConfig {
		path := configPath
		if path == "" {
			path = config.GetConfigPath()
		}
		if err := cfg.SaveToFile(path); err != nil {
			log.Fatal(err)
		}
		log.Printf("wrote %s", path)
		return
	}

	if in == "" {
		log.Fatalf("usage: %s -in thumb.jpg|URL|dir [-backend none|ollama|llamacpp] [-url server_url] [-inference model_server_url] [-db scans.db] [-out outdir] [-ext jpg|png|webp] [-debug]", filepath.Base(os.Args[0]))
	}

	zl := logger.New(logger.Options{FilePath: cfg.Log.File, Production: cfg.Log.Production, Debug: cfg.Log.Debug})
	defer zl.Sync()

	if err := utils.EnsureDir(cfg.Output.OutputDir); err != nil {
		zl.Fatal("cannot create output directory", zap.Error(err))
	}

	pipeline := nailscan.NewWithConfig(cfg.PipelineOptions())
	pipeline.SetLogger(zl)
	pipeline.SetDriftMonitor(cfg.DriftMonitor())

	hands, err := configureBackends(pipeline, cfg)
	if err != nil {
		zl.Fatal("cannot configure backends", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	processor := processing.NewProcessor()
	if checkVision {
		if hands == nil {
			zl.Fatal("-check-vision needs -backend ollama or llamacpp")
		}
		answer, err := describe(ctx, hands, processor, in)
		if err != nil {
			zl.Fatal("vision check failed", zap.Error(err))
		}
		fmt.Println(answer)
		return
	}

	inputs := []string{in}
	if utils.DirExists(in) {
		if inputs, err = utils.ListUploadFiles(in); err != nil {
			zl.Fatal("cannot list uploads", zap.String("dir", in), zap.Error(err))
		}
		scanID = ""
		zl.Info("batch scan", zap.String("dir", in), zap.Int("files", len(inputs)))
	}

	failed := 0
	for _, source := range inputs {
		id := scanID
		if id == "" && len(inputs) > 1 {
			id = utils.ScanIDFromPath(source)
		}
		if err := scan(ctx, zl, pipeline, processor, cfg, source, id, debug); err != nil {
			failed++
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// scan runs one upload through the pipeline and writes its outputs.
func scan(ctx context.Context, zl *zap.Logger, pipeline *nailscan.Pipeline, processor *processing.Processor,
	cfg *config.Config, source, scanID string, debug bool) error {
	data, filename, err := processor.ReadSource(ctx, source)
	if err != nil {
		zl.Error("cannot read input", zap.String("source", source), zap.Error(err))
		return err
	}
	zl.Debug("upload read", zap.String("source", source), zap.String("size", utils.FormatFileSize(int64(len(data)))))

	result, err := pipeline.Run(ctx, scanID, data, filename)
	if err != nil {
		var verr *validation.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(os.Stderr, "%s: rejected (%s): %s\n", source, verr.Reason, verr.Message)
			return err
		}
		zl.Error("scan failed", zap.String("source", source), zap.Error(err))
		fmt.Fprintf(os.Stderr, "%s: %s\n", source, pipeline.PublicMessage(err))
		return err
	}

	if err := writeResult(processor, cfg, result, debug); err != nil {
		zl.Error("cannot write results", zap.Error(err))
	}

	if cfg.Output.Database != "" {
		if err := record(ctx, cfg.Output.Database, result); err != nil {
			zl.Error("cannot record scan", zap.String("db", cfg.Output.Database), zap.Error(err))
		} else {
			zl.Info("scan recorded", zap.String("db", cfg.Output.Database), zap.String("scan_id", result.ScanID))
		}
	}

	printSummary(source, result)
	return nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// loadConfig reads the named file, or the default path when it exists, and
// then applies environment overrides.
func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	switch {
	case path != "":
		loaded, err := config.LoadFromFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		if loaded != nil {
			cfg = loaded
		}
	case utils.FileExists(config.GetConfigPath()):
		loaded, err := config.LoadFromFile(config.GetConfigPath())
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// configureBackends installs the configured remote backends and returns the
// vision hand detector, nil when none is configured.
func configureBackends(p *nailscan.Pipeline, cfg *config.Config) (*detection.Detector, error) {
	var visionClient client.VisionClient
	var err error
	switch cfg.Backend.HandDetector {
	case config.BackendOllama:
		visionClient, err = ollama.NewClient(cfg.Backend.VisionURL)
	case config.BackendLlamaCpp:
		visionClient, err = llamacpp.NewClient(cfg.Backend.VisionURL)
	}
	if err != nil {
		return nil, fmt.Errorf("hand detector client: %w", err)
	}
	var hands *detection.Detector
	if visionClient != nil {
		hands = detection.NewDetector(visionClient, cfg.Backend.VisionModel)
		p.SetHandDetector(hands)
	}

	if cfg.Backend.InferenceURL == "" {
		return hands, nil
	}
	remote, err := inference.NewClient(cfg.Backend.InferenceURL)
	if err != nil {
		return nil, fmt.Errorf("inference client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := remote.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("inference server unreachable: %w", err)
	}
	version := "remote-" + health.Version
	p.SetMaskPredictor(remote, version)
	p.SetModel(remote, version)
	p.SetHeatmapBackend(remote)
	return hands, nil
}

// describe asks the vision model what it sees in source.
func describe(ctx context.Context, hands *detection.Detector, processor *processing.Processor, source string) (string, error) {
	data, _, err := processor.ReadSource(ctx, source)
	if err != nil {
		return "", err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("cannot decode %s: %w", source, err)
	}
	return hands.CheckVision(ctx, img)
}

func writeResult(processor *processing.Processor, cfg *config.Config, result *nailscan.ScanResult, debug bool) error {
	outDir := cfg.Output.OutputDir
	ext := strings.ToLower(cfg.Output.Format)

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	jsonPath := utils.ArtifactPath(outDir, result.ScanID, "result", "json")
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return err
	}
	log.Printf("wrote %s", jsonPath)

	save := func(name string, img image.Image, format string) {
		path := utils.ArtifactPath(outDir, result.ScanID, name, format)
		if err := processor.SaveImage(img, path, format, cfg.Output.Quality, cfg.Output.Lossless); err != nil {
			log.Printf("save %s failed: %v", name, err)
			return
		}
		log.Printf("wrote %s", path)
	}
	decodeAndSave := func(name, uri, format string) image.Image {
		if uri == "" {
			return nil
		}
		img, err := processor.DecodeDataURI(uri)
		if err != nil {
			log.Printf("decode %s failed: %v", name, err)
			return nil
		}
		save(name, img, format)
		return img
	}

	if result.ROI != nil {
		save("roi", result.ROI, ext)
	}
	if seg := result.Segmentation; seg != nil {
		decodeAndSave("mask", seg.MaskImage, "png")
	}
	if exp := result.Explanation; exp != nil {
		decodeAndSave("saliency", exp.Overlay, ext)
	}

	if !debug {
		return nil
	}
	if prep := result.Preprocessing; prep != nil && result.Segmentation != nil {
		if img, err := processor.DecodeDataURI(prep.PreprocessedImage); err == nil {
			b := img.Bounds()
			roi := processing.RectToBox(result.Segmentation.ROI, b.Dx(), b.Dy())
			save("debug_roi", processor.CreateDebugOverlay(img, roi, nil), "png")
		}
		if img, err := processor.DecodeDataURI(prep.OriginalImage); err == nil {
			save("debug_hand", processor.CreateDebugOverlay(img, types.Box{}, result.Subject.Box), "png")
		}
	}
	return nil
}

func record(ctx context.Context, dsn string, result *nailscan.ScanResult) error {
	db, err := store.Open(dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	r := store.Record{
		ID:          result.ScanID,
		CreatedAt:   result.Timestamp,
		Status:      "quality_failed",
		QualityPass: result.QualityPass,
		Payload:     payload,
	}
	if pred := result.Prediction; pred != nil {
		r.Status = "inconclusive"
		r.Uncertainty = pred.Uncertainty
		if pred.HasEstimate() {
			r.Status = "complete"
			r.Hb = pred.Hb
			r.Stage = string(*pred.Stage)
		}
	}
	return db.Save(ctx, r)
}

func printSummary(source string, result *nailscan.ScanResult) {
	fmt.Printf("%s: scan %s\n", source, result.ScanID)
	if !result.QualityPass {
		fmt.Println("quality check failed:")
		for _, r := range result.Quality.FailReasons {
			fmt.Printf("  - %s\n", r)
		}
		return
	}
	pred := result.Prediction
	if pred == nil {
		return
	}
	if !pred.HasEstimate() {
		fmt.Printf("inconclusive: %s\n", pred.Message)
		return
	}
	fmt.Printf("hemoglobin %.1f g/dL (CI %.1f-%.1f), stage %s, risk %.2f, uncertainty %.2f\n",
		*pred.Hb, pred.Interval[0], pred.Interval[1], *pred.Stage, *pred.Risk, pred.Uncertainty)
	if exp := result.Explanation; exp != nil {
		fmt.Println(exp.Interpretation)
	}
	for _, s := range result.Drift {
		if s.Drifting {
			fmt.Printf("warning: feature %s is drifting (score %.2f)\n", s.Feature, s.Score)
		}
	}
	fmt.Println("This is a screening estimate, not a diagnosis.")
}
