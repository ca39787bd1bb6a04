// Package validation is the upload gate: it turns raw upload bytes into a
// decoded image, or rejects them with a user-facing reason.
package validation

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/menta2k/nailscan/internal/utils"
	"github.com/menta2k/nailscan/pkg/types"
	"github.com/menta2k/nailscan/pkg/vision"
)

// Reason classifies why an upload was rejected.
type Reason string

const (
	ReasonExtension  Reason = "extension"
	ReasonSize       Reason = "size"
	ReasonDecode     Reason = "decode"
	ReasonResolution Reason = "resolution"
	ReasonNoSubject  Reason = "no_subject"
	ReasonConfounder Reason = "confounder"
	ReasonIntegrity  Reason = "integrity"
)

// NoHandMessage is shown when neither detector finds a hand.
const NoHandMessage = "No hand detected in the image. Please upload a clear image showing your hand or fingers. Ensure good lighting and that your hand is clearly visible."

// ValidationError is an input rejection. Message is safe to show to users.
type ValidationError struct {
	Reason  Reason
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func reject(reason Reason, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// HandDetector finds hands in a decoded image.
type HandDetector interface {
	DetectHands(ctx context.Context, img image.Image) (types.HandDetection, error)
}

// Config holds the upload limits
type Config struct {
	MaxUploadBytes    int64
	MinResolution     int
	// MaxPixels caps width*height before full decode. Zero disables it.
	MaxPixels         int64
	AllowedExtensions []string
	AllowedFormats    []string
	// LowConfidence triggers a warning on accepted hands below it.
	LowConfidence   float64
	MinFingertips   int
	CheckConfounder bool
}

// DefaultConfig returns the limits for phone camera uploads.
func DefaultConfig() Config {
	return Config{
		MaxUploadBytes:    8 * 1024 * 1024,
		MinResolution:     512,
		MaxPixels:         40_000_000,
		AllowedExtensions: []string{"jpg", "jpeg", "png"},
		AllowedFormats:    []string{"jpeg", "png"},
		LowConfidence:     0.6,
		MinFingertips:     3,
		CheckConfounder:   true,
	}
}

// Result is an accepted upload.
type Result struct {
	Image      *image.NRGBA
	Format     string
	Width      int
	Height     int
	Subject    types.SubjectPresenceInfo
	Confounder types.ConfounderResult
}

// Gate validates uploads
type Gate struct {
	config Config
	hands  HandDetector
	skin   *vision.SkinDetector
	polish *vision.PolishDetector
	logger *zap.Logger
}

// New creates a Gate with default configuration
func New() *Gate {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a Gate with custom configuration
func NewWithConfig(config Config) *Gate {
	return &Gate{
		config: config,
		skin:   vision.New(),
		polish: vision.NewPolishDetector(),
		logger: zap.NewNop(),
	}
}

// SetHandDetector installs the primary hand detector. Without one the gate
// relies on skin coverage alone.
func (g *Gate) SetHandDetector(d HandDetector) {
	g.hands = d
}

func (g *Gate) SetSkinDetector(d *vision.SkinDetector) {
	g.skin = d
}

func (g *Gate) SetPolishDetector(d *vision.PolishDetector) {
	g.polish = d
}

func (g *Gate) SetLogger(l *zap.Logger) {
	if l != nil {
		g.logger = l
	}
}

// Validate runs the checks in order and stops at the first failure:
// extension, size, decodability, resolution, hand presence, nail polish,
// integrity.
func (g *Gate) Validate(ctx context.Context, data []byte, filename string) (*Result, error) {
	if !utils.HasExtension(filename, g.config.AllowedExtensions) {
		ext := utils.GetFileExtension(filename)
		return nil, reject(ReasonExtension, "Invalid file extension: .%s. Allowed: %s",
			ext, "."+strings.Join(g.config.AllowedExtensions, ", ."))
	}

	if int64(len(data)) > g.config.MaxUploadBytes {
		return nil, reject(ReasonSize, "File too large: %.2f MB. Maximum: %g MB",
			utils.Megabytes(int64(len(data))), utils.Megabytes(g.config.MaxUploadBytes))
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, reject(ReasonDecode, "Cannot read image file: %v", err)
	}
	if !g.formatAllowed(format) {
		return nil, reject(ReasonDecode, "Invalid MIME type: image/%s", format)
	}

	if pixels := int64(cfg.Width) * int64(cfg.Height); g.config.MaxPixels > 0 && pixels > g.config.MaxPixels {
		return nil, reject(ReasonResolution, "Image resolution too high: %dx%d (%.1f MP). Maximum: %.1f MP",
			cfg.Width, cfg.Height, float64(pixels)/1e6, float64(g.config.MaxPixels)/1e6)
	}
	if cfg.Width < g.config.MinResolution || cfg.Height < g.config.MinResolution {
		return nil, reject(ReasonResolution, "Image resolution too low: %dx%d. Minimum: %dx%d",
			cfg.Width, cfg.Height, g.config.MinResolution, g.config.MinResolution)
	}

	decoded, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, reject(ReasonIntegrity, "Corrupted or unreadable image: %v", err)
	}
	img := imaging.Clone(decoded)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	subject := g.detectSubject(ctx, img)
	if !subject.Detected {
		return nil, &ValidationError{Reason: ReasonNoSubject, Message: NoHandMessage}
	}

	result := &Result{
		Image:   img,
		Format:  format,
		Width:   cfg.Width,
		Height:  cfg.Height,
		Subject: subject,
	}

	if g.config.CheckConfounder {
		result.Confounder = g.checkConfounder(img)
		if result.Confounder.Detected {
			return nil, reject(ReasonConfounder,
				"Nail polish or artificial nail color detected (%s). Please remove nail polish and retake the image.",
				strings.Join(result.Confounder.Reasons, ", "))
		}
	}

	if err := verifyIntegrity(data, cfg); err != nil {
		return nil, reject(ReasonIntegrity, "Corrupted or unreadable image: %v", err)
	}

	g.logger.Info("upload validated",
		zap.String("filename", filename),
		zap.String("format", format),
		zap.Int("width", cfg.Width),
		zap.Int("height", cfg.Height),
		zap.String("subject_path", string(subject.Path)))
	return result, nil
}

func (g *Gate) formatAllowed(format string) bool {
	for _, f := range g.config.AllowedFormats {
		if strings.EqualFold(f, format) {
			return true
		}
	}
	return false
}

// detectSubject asks the landmark detector first and falls back to skin
// coverage when it fails or finds nothing.
func (g *Gate) detectSubject(ctx context.Context, img *image.NRGBA) types.SubjectPresenceInfo {
	if g.hands != nil {
		det, err := g.hands.DetectHands(ctx, img)
		switch {
		case err != nil:
			g.logger.Warn("hand detector failed, using skin detection",
				zap.String("path", string(types.PathFallbackSkin)), zap.Error(err))
		case len(det.Hands) > 0:
			return g.landmarkInfo(det)
		default:
			g.logger.Info("hand detector found no hands, using skin detection")
		}
	}

	skin := g.skin.Detect(img)
	info := types.SubjectPresenceInfo{
		Detected:     skin.Detected,
		Confidence:   skin.Coverage,
		Method:       "skin_detection",
		Path:         types.PathFallbackSkin,
		SkinCoverage: skin.Coverage,
	}
	if skin.Detected {
		info.Count = 1
		b := img.Bounds()
		info.Box = &types.Box{
			X: float64(skin.Region.X) / float64(b.Dx()),
			Y: float64(skin.Region.Y) / float64(b.Dy()),
			W: float64(skin.Region.Width) / float64(b.Dx()),
			H: float64(skin.Region.Height) / float64(b.Dy()),
		}
		if skin.Coverage < g.config.LowConfidence {
			info.Warning = "Hand detected by skin color only. For best results, ensure your fingertips are clearly visible."
		}
	}
	return info
}

func (g *Gate) landmarkInfo(det types.HandDetection) types.SubjectPresenceInfo {
	var sum float64
	for _, h := range det.Hands {
		sum += h.Confidence
	}
	first := det.Hands[0]
	box := first.Box
	info := types.SubjectPresenceInfo{
		Detected:       true,
		Confidence:     sum / float64(len(det.Hands)),
		Count:          len(det.Hands),
		Method:         "landmarks",
		Path:           types.PathPrimary,
		VisibleFingers: len(first.Fingertips),
		Box:            &box,
	}

	var warnings []string
	if info.Confidence < g.config.LowConfidence {
		warnings = append(warnings, "Hand detected but with low confidence. Please ensure your hand is clearly visible and well-lit.")
	}
	if info.Count > 1 {
		warnings = append(warnings, "Multiple hands detected. Using the first detected hand for analysis.")
	}
	if len(first.Fingertips) > 0 && len(first.Fingertips) < g.config.MinFingertips {
		warnings = append(warnings, fmt.Sprintf("Only %d fingertips visible. Please show at least %d fingers.",
			len(first.Fingertips), g.config.MinFingertips))
	}
	info.Warning = strings.Join(warnings, " ")
	return info
}

// checkConfounder runs the polish detector and never fails the upload on
// its own errors.
func (g *Gate) checkConfounder(img *image.NRGBA) (result types.ConfounderResult) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Warn("nail polish check panicked, accepting image",
				zap.String("path", string(types.PathFailOpen)), zap.Any("panic", r))
			result = types.ConfounderResult{Path: types.PathFailOpen}
		}
	}()

	res, err := g.polish.Detect(img)
	if err != nil {
		g.logger.Warn("nail polish check failed, accepting image",
			zap.String("path", string(types.PathFailOpen)), zap.Error(err))
		return types.ConfounderResult{Path: types.PathFailOpen}
	}
	if res.Detected {
		g.logger.Warn("nail polish detected", zap.Strings("reasons", res.Reasons), zap.Float64("confidence", res.Confidence))
	}
	return res
}

// verifyIntegrity decodes the whole stream again and checks it matches the
// header, which catches truncated files.
func verifyIntegrity(data []byte, cfg image.Config) error {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return err
	}
	b := img.Bounds()
	if b.Dx() != cfg.Width || b.Dy() != cfg.Height {
		return fmt.Errorf("decoded size %dx%d does not match header %dx%d", b.Dx(), b.Dy(), cfg.Width, cfg.Height)
	}
	return nil
}
