package segmentation

import (
	"context"
	"image"

	"github.com/menta2k/nailscan/pkg/colorspace"
	"github.com/menta2k/nailscan/pkg/imgproc"
)

// PseudoMaskPredictor marks pale, moderately bright pixels in the central
// half of the image. It stands in for a trained network.
type PseudoMaskPredictor struct{}

const (
	pseudoMaxSaturation = 80.0 / 255
	pseudoMinValue      = 80.0 / 255
)

func (PseudoMaskPredictor) PredictMask(ctx context.Context, img *image.NRGBA) (*imgproc.Plane, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	p := imgproc.NewPlane(w, h)
	for y := h / 4; y < 3*h/4; y++ {
		row := img.Pix[y*img.Stride:]
		for x := w / 4; x < 3*w/4; x++ {
			_, s, v := colorspace.RGBToHSV(row[x*4], row[x*4+1], row[x*4+2])
			if s <= pseudoMaxSaturation && v >= pseudoMinValue {
				p.Pix[y*w+x] = 1
			}
		}
	}
	return p, nil
}
