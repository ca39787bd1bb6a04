package detection

import (
	"context"
	"image"
	"sort"

	"github.com/menta2k/nailscan/pkg/client"
	"github.com/menta2k/nailscan/pkg/processing"
	"github.com/menta2k/nailscan/pkg/types"
)

// VisionCheckPrompt asks for a plain description, to confirm the model
// receives the image at all.
const VisionCheckPrompt = `What do you see in this image? Describe it briefly.`

// DefaultPrompt asks a vision model to locate hands and fingertips.
const DefaultPrompt = `You are a hand and fingertip locator for close-up medical photos.

Return JSON only:
{
  "hands": [
    {
      "confidence": 0.0,
      "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0},
      "fingertips": [{"x": 0.0, "y": 0.0}]
    }
  ]
}

HARD RULES
- All coordinates are normalized to [0,1] (NOT pixels).
- One entry per visible hand, most prominent hand first. At most 2 hands.
- The box must tightly include the hand or the visible fingers.
- List a fingertip only when the nail of that finger is visible.
- Confidence is how sure you are that the box contains a real human hand.
- If no hand or finger is visible, return {"hands": []}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// MaxHands caps the number of hands reported.
const MaxHands = 2

// Detector locates hands using a vision model
type Detector struct {
	client    client.VisionClient
	processor *processing.Processor
	model     string
	prompt    string
	maxDim    int
}

// NewDetector creates a new detector with a vision client
func NewDetector(client client.VisionClient, model string) *Detector {
	return &Detector{
		client:    client,
		processor: processing.NewProcessor(),
		model:     model,
		prompt:    DefaultPrompt,
		maxDim:    768,
	}
}

// SetPrompt replaces the default prompt.
func (d *Detector) SetPrompt(prompt string) {
	d.prompt = prompt
}

// DetectHands sends the image to the vision model and returns the hands it
// reports, most confident first.
func (d *Detector) DetectHands(ctx context.Context, img image.Image) (types.HandDetection, error) {
	imgB64, err := d.processor.PrepareImageForModel(img, "jpg", d.maxDim, 85)
	if err != nil {
		return types.HandDetection{}, err
	}

	result, err := d.client.DetectHands(ctx, d.model, d.prompt, imgB64)
	if err != nil {
		return types.HandDetection{}, err
	}
	return normalizeDetection(*result), nil
}

// CheckVision sends img with VisionCheckPrompt and returns the answer.
func (d *Detector) CheckVision(ctx context.Context, img image.Image) (string, error) {
	imgB64, err := d.processor.PrepareImageForModel(img, "jpg", d.maxDim, 85)
	if err != nil {
		return "", err
	}
	return d.client.SimpleQuery(ctx, d.model, VisionCheckPrompt, imgB64)
}

// normalizeDetection clamps coordinates, drops empty hands and keeps the
// most confident ones.
func normalizeDetection(in types.HandDetection) types.HandDetection {
	hands := make([]types.Hand, 0, len(in.Hands))
	for _, h := range in.Hands {
		h.Confidence = clamp(h.Confidence, 0, 1)
		if h.Confidence == 0 {
			continue
		}
		h.Box = normalizeBox(h.Box)
		tips := h.Fingertips[:0]
		for _, p := range h.Fingertips {
			tips = append(tips, types.Point{X: clamp(p.X, 0, 1), Y: clamp(p.Y, 0, 1)})
		}
		h.Fingertips = tips
		hands = append(hands, h)
	}

	sort.SliceStable(hands, func(i, j int) bool {
		return hands[i].Confidence > hands[j].Confidence
	})
	if len(hands) > MaxHands {
		hands = hands[:MaxHands]
	}
	return types.HandDetection{Hands: hands}
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeBox ensures box coordinates are within [0,1] bounds
func normalizeBox(b types.Box) types.Box {
	x := clamp(b.X, 0, 1)
	y := clamp(b.Y, 0, 1)
	return types.Box{
		X: x,
		Y: y,
		W: clamp(b.W, 0, 1-x),
		H: clamp(b.H, 0, 1-y),
	}
}
