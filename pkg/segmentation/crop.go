package segmentation

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/menta2k/nailscan/pkg/imgproc"
)

// FitSquare crops rect out of img, scales it so the longer side equals size
// while preserving the aspect ratio, and centers it on a black square
// canvas. The mask goes through the same crop, scale and offset.
func FitSquare(img *image.NRGBA, mask *imgproc.Mask, rect image.Rectangle, size int) (*image.NRGBA, *imgproc.Mask) {
	rect = rect.Intersect(img.Bounds())
	cw, ch := rect.Dx(), rect.Dy()

	scale := float64(size) / float64(max(cw, ch))
	nw := max(int(float64(cw)*scale), 1)
	nh := max(int(float64(ch)*scale), 1)
	ox := (size - nw) / 2
	oy := (size - nh) / 2

	cropped := imaging.Crop(img, rect)
	resized := imaging.Resize(cropped, nw, nh, imaging.Lanczos)
	canvas := imaging.New(size, size, color.NRGBA{A: 255})
	canvas = imaging.Paste(canvas, resized, image.Pt(ox, oy))

	var roiMask *imgproc.Mask
	if mask != nil {
		roiMask = mask.Crop(rect).ResizeNearest(nw, nh).PasteAt(size, size, ox, oy)
	}
	return canvas, roiMask
}
