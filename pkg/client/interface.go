package client

import (
	"context"

	"github.com/menta2k/nailscan/pkg/types"
)

// VisionClient is a multimodal model backend able to locate hands.
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	DetectHands(ctx context.Context, model, prompt, imgB64 string) (*types.HandDetection, error)
}
