// Package colorspace converts 8-bit RGB pixels to the perceptual spaces the
// pipeline works in. Lab values follow the 8-bit convention used throughout
// the project: L in [0,255], a and b offset by 128.
package colorspace

import (
	"image"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// RGBToLab converts an 8-bit RGB triple to 8-bit-scaled Lab.
func RGBToLab(r, g, b uint8) (float64, float64, float64) {
	c := colorful.Color{R: float64(r) / 255, G: float64(g) / 255, B: float64(b) / 255}
	l, a, bb := c.Lab()
	return l * 255, a*100 + 128, bb*100 + 128
}

// LabToRGB converts 8-bit-scaled Lab back to clamped 8-bit RGB.
func LabToRGB(l, a, b float64) (uint8, uint8, uint8) {
	c := colorful.Lab(l/255, (a-128)/100, (b-128)/100)
	return c.Clamped().RGB255()
}

// RGBToHSV returns hue in degrees [0,360) and saturation, value in [0,1].
func RGBToHSV(r, g, b uint8) (float64, float64, float64) {
	c := colorful.Color{R: float64(r) / 255, G: float64(g) / 255, B: float64(b) / 255}
	return c.Hsv()
}

// RGBToYCrCb uses the full-range BT.601 coefficients with chroma offset 128.
func RGBToYCrCb(r, g, b uint8) (float64, float64, float64) {
	y := Luma(r, g, b)
	cr := (float64(r)-y)*0.713 + 128
	cb := (float64(b)-y)*0.564 + 128
	return y, cr, cb
}

// Luma is the BT.601 gray value of an RGB triple.
func Luma(r, g, b uint8) float64 {
	return 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
}

// LabImage holds one image in planar 8-bit-scaled Lab.
type LabImage struct {
	Width  int
	Height int
	L      []float64
	A      []float64
	B      []float64
}

// ToLab converts an NRGBA image to planar Lab.
func ToLab(img *image.NRGBA) *LabImage {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	lab := &LabImage{
		Width:  w,
		Height: h,
		L:      make([]float64, w*h),
		A:      make([]float64, w*h),
		B:      make([]float64, w*h),
	}

	cache := make(map[[3]uint8][3]float64)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			key := [3]uint8{row[x*4], row[x*4+1], row[x*4+2]}
			v, ok := cache[key]
			if !ok {
				l, a, b := RGBToLab(key[0], key[1], key[2])
				v = [3]float64{l, a, b}
				cache[key] = v
			}
			i := y*w + x
			lab.L[i], lab.A[i], lab.B[i] = v[0], v[1], v[2]
		}
	}
	return lab
}

// ToNRGBA converts the Lab planes back to an opaque NRGBA image.
func (lab *LabImage) ToNRGBA() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, lab.Width, lab.Height))
	for i := range lab.L {
		r, g, b := LabToRGB(clamp255(lab.L[i]), clamp255(lab.A[i]), clamp255(lab.B[i]))
		img.Pix[i*4] = r
		img.Pix[i*4+1] = g
		img.Pix[i*4+2] = b
		img.Pix[i*4+3] = 255
	}
	return img
}

// Mean returns the per-channel mean over the given pixel indices, or over the
// whole image when idx is empty.
func (lab *LabImage) Mean(idx []int) [3]float64 {
	var sum [3]float64
	if len(idx) == 0 {
		for i := range lab.L {
			sum[0] += lab.L[i]
			sum[1] += lab.A[i]
			sum[2] += lab.B[i]
		}
		n := float64(len(lab.L))
		if n == 0 {
			return sum
		}
		return [3]float64{sum[0] / n, sum[1] / n, sum[2] / n}
	}
	for _, i := range idx {
		sum[0] += lab.L[i]
		sum[1] += lab.A[i]
		sum[2] += lab.B[i]
	}
	n := float64(len(idx))
	return [3]float64{sum[0] / n, sum[1] / n, sum[2] / n}
}

func clamp255(v float64) float64 {
	return math.Max(0, math.Min(255, v))
}
