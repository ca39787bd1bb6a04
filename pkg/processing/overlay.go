package processing

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"

	"github.com/menta2k/nailscan/pkg/types"
)

var (
	handColor   = color.NRGBA{0, 255, 0, 255}
	roiColor    = color.NRGBA{255, 204, 0, 255}
	centerColor = color.NRGBA{0, 170, 255, 255}
)

// RectToBox converts a pixel rectangle to a normalized box.
func RectToBox(r types.Rect, w, h int) types.Box {
	if w <= 0 || h <= 0 {
		return types.Box{}
	}
	fw, fh := float64(w), float64(h)
	return types.Box{X: float64(r.X) / fw, Y: float64(r.Y) / fh, W: float64(r.W) / fw, H: float64(r.H) / fh}
}

// CreateDebugOverlay outlines the segmented region and, when known, the
// hand box on a copy of img, and marks the image center.
func (p *Processor) CreateDebugOverlay(img image.Image, roi types.Box, hand *types.Box) *image.NRGBA {
	out := imaging.Clone(img)
	b := out.Bounds()
	stroke := max(2, min(b.Dx(), b.Dy())/250)

	if hand != nil {
		outline(out, boxRect(*hand, b), stroke, handColor)
	}
	outline(out, boxRect(roi, b), stroke, roiColor)

	c := image.Pt(b.Dx()/2, b.Dy()/2)
	fill(out, image.Rect(c.X-6, c.Y, c.X+6, c.Y+1), centerColor)
	fill(out, image.Rect(c.X, c.Y-6, c.X+1, c.Y+6), centerColor)
	return out
}

// boxRect maps a normalized box onto b. Empty boxes map to an empty rect.
func boxRect(box types.Box, b image.Rectangle) image.Rectangle {
	if box.W <= 0 || box.H <= 0 {
		return image.Rectangle{}
	}
	px := func(v float64, n int) int {
		return int(min(max(v, 0), 1)*float64(n) + 0.5)
	}
	r := image.Rect(px(box.X, b.Dx()), px(box.Y, b.Dy()), px(box.X+box.W, b.Dx()), px(box.Y+box.H, b.Dy()))
	return r.Intersect(b)
}

func outline(img *image.NRGBA, r image.Rectangle, stroke int, c color.NRGBA) {
	if r.Empty() {
		return
	}
	fill(img, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+stroke), c)
	fill(img, image.Rect(r.Min.X, r.Max.Y-stroke, r.Max.X, r.Max.Y), c)
	fill(img, image.Rect(r.Min.X, r.Min.Y, r.Min.X+stroke, r.Max.Y), c)
	fill(img, image.Rect(r.Max.X-stroke, r.Min.Y, r.Max.X, r.Max.Y), c)
}

func fill(img *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	draw.Draw(img, r, image.NewUniform(c), image.Point{}, draw.Src)
}
