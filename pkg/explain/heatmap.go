package explain

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"

	"github.com/menta2k/nailscan/pkg/colorspace"
	"github.com/menta2k/nailscan/pkg/imgproc"
)

// ApproximateHeatmap builds a saliency map from color cues alone: red
// intensity, saturation, darkness and red/green ratio, blurred, weighted
// toward the center and gamma corrected. The result is in [0,1].
func ApproximateHeatmap(roi *image.NRGBA, blurKernel int, minCenterWeight, gamma float64) (*imgproc.Plane, error) {
	b := roi.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("empty ROI")
	}

	lab := colorspace.ToLab(roi)
	hm := imgproc.NewPlane(w, h)
	for y := 0; y < h; y++ {
		row := roi.Pix[y*roi.Stride:]
		for x := 0; x < w; x++ {
			r8, g8, b8 := row[x*4], row[x*4+1], row[x*4+2]
			_, s, _ := colorspace.RGBToHSV(r8, g8, b8)
			r, g := float64(r8)/255, float64(g8)/255
			rg := math.Min(math.Max(r/(g+1e-6)/2, 0), 1)
			dark := 1 - lab.L[y*w+x]/255
			hm.Pix[y*w+x] = 0.5*r + 0.3*s + 0.45*dark + 0.32*rg
		}
	}
	if !hm.NormalizeMax() {
		return nil, fmt.Errorf("approximation heatmap has no positive response")
	}
	hm = imgproc.GaussianBlurKernel(hm, blurKernel)

	cx, cy := float64(w/2), float64(h/2)
	maxDist := math.Hypot(cx, cy)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			weight := 1.0
			if maxDist > 0 {
				weight = 1 - math.Hypot(float64(x)-cx, float64(y)-cy)/maxDist
			}
			weight = math.Min(math.Max(weight, minCenterWeight), 1)
			i := y*w + x
			hm.Pix[i] = math.Pow(math.Max(hm.Pix[i]*weight, 0), gamma)
		}
	}
	hm.NormalizeMinMax()
	if !hm.Finite() {
		return nil, fmt.Errorf("approximation heatmap is not finite")
	}
	return hm, nil
}

// BlobHeatmap is a centered Gaussian with sigma a quarter of the shorter side.
func BlobHeatmap(w, h int) *imgproc.Plane {
	hm := imgproc.NewPlane(w, h)
	sigma := float64(min(w, h)) / 4
	if sigma == 0 {
		return hm
	}
	cx, cy := float64(w/2), float64(h/2)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			hm.Pix[y*w+x] = math.Exp(-(dx*dx + dy*dy) / (2 * sigma * sigma))
		}
	}
	return hm
}

// Resize scales a [0,1] heatmap to w x h with bilinear sampling.
func Resize(hm *imgproc.Plane, w, h int) *imgproc.Plane {
	if hm.Width == w && hm.Height == h {
		return hm
	}
	src := image.NewGray16(image.Rect(0, 0, hm.Width, hm.Height))
	for i, v := range hm.Pix {
		src.Pix[2*i], src.Pix[2*i+1] = toGray16(v)
	}
	dst := image.NewGray16(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	out := imgproc.NewPlane(w, h)
	for i := range out.Pix {
		out.Pix[i] = float64(uint16(dst.Pix[2*i])<<8|uint16(dst.Pix[2*i+1])) / 0xffff
	}
	return out
}

func toGray16(v float64) (uint8, uint8) {
	u := uint16(math.Round(math.Min(math.Max(v, 0), 1) * 0xffff))
	return uint8(u >> 8), uint8(u)
}

// jet maps [0,1] to the blue-cyan-yellow-red color scale.
func jet(v float64) color.NRGBA {
	v = math.Min(math.Max(v, 0), 1)
	ch := func(center float64) uint8 {
		return uint8(math.Round(math.Min(math.Max(1.5-math.Abs(4*v-center), 0), 1) * 255))
	}
	return color.NRGBA{R: ch(3), G: ch(2), B: ch(1), A: 255}
}

// Overlay blends a jet-colored heatmap over roi at the given opacity.
func Overlay(roi *image.NRGBA, hm *imgproc.Plane, alpha float64) *image.NRGBA {
	b := roi.Bounds()
	w, h := b.Dx(), b.Dy()
	hm = Resize(hm, w, h)

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		src := roi.Pix[y*roi.Stride:]
		dst := out.Pix[y*out.Stride:]
		for x := 0; x < w; x++ {
			c := jet(hm.Pix[y*w+x])
			heat := [3]uint8{c.R, c.G, c.B}
			for k := 0; k < 3; k++ {
				v := (1-alpha)*float64(src[x*4+k]) + alpha*float64(heat[k])
				dst[x*4+k] = uint8(math.Round(math.Min(math.Max(v, 0), 255)))
			}
			dst[x*4+3] = 255
		}
	}
	return out
}
