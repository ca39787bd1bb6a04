// Package imgproc holds the numeric image primitives shared by the pipeline
// stages: float planes, linear filters, frequency analysis, binary
// morphology and contrast equalization.
package imgproc

import (
	"image"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Plane is a single-channel float image stored row-major.
type Plane struct {
	Width  int
	Height int
	Pix    []float64
}

// NewPlane allocates a zeroed plane.
func NewPlane(w, h int) *Plane {
	return &Plane{Width: w, Height: h, Pix: make([]float64, w*h)}
}

func (p *Plane) At(x, y int) float64 {
	return p.Pix[y*p.Width+x]
}

func (p *Plane) Set(x, y int, v float64) {
	p.Pix[y*p.Width+x] = v
}

func (p *Plane) Clone() *Plane {
	c := NewPlane(p.Width, p.Height)
	copy(c.Pix, p.Pix)
	return c
}

// Mean returns the mean of all samples.
func (p *Plane) Mean() float64 {
	if len(p.Pix) == 0 {
		return 0
	}
	return stat.Mean(p.Pix, nil)
}

// Variance returns the population variance of all samples.
func (p *Plane) Variance() float64 {
	if len(p.Pix) == 0 {
		return 0
	}
	return stat.PopVariance(p.Pix, nil)
}

// Std returns the population standard deviation of all samples.
func (p *Plane) Std() float64 {
	return math.Sqrt(p.Variance())
}

// MinMax returns the smallest and largest sample.
func (p *Plane) MinMax() (float64, float64) {
	if len(p.Pix) == 0 {
		return 0, 0
	}
	return floats.Min(p.Pix), floats.Max(p.Pix)
}

// NormalizeMax divides every sample by the maximum. A plane whose maximum is
// not positive is left untouched and false is returned.
func (p *Plane) NormalizeMax() bool {
	_, hi := p.MinMax()
	if hi <= 0 || math.IsNaN(hi) || math.IsInf(hi, 0) {
		return false
	}
	floats.Scale(1/hi, p.Pix)
	return true
}

// NormalizeMinMax rescales samples to [0,1]. A constant plane becomes zero.
func (p *Plane) NormalizeMinMax() {
	lo, hi := p.MinMax()
	span := hi - lo
	for i, v := range p.Pix {
		if span <= 0 {
			p.Pix[i] = 0
			continue
		}
		p.Pix[i] = (v - lo) / span
	}
}

// Finite reports whether all samples are finite.
func (p *Plane) Finite() bool {
	for _, v := range p.Pix {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Gray converts an NRGBA image to an 8-bit-quantized BT.601 gray plane.
func Gray(img *image.NRGBA) *Plane {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	p := NewPlane(w, h)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			r, g, bb := float64(row[x*4]), float64(row[x*4+1]), float64(row[x*4+2])
			p.Pix[y*w+x] = math.Round(0.299*r + 0.587*g + 0.114*bb)
		}
	}
	return p
}

// Channel extracts channel c (0=R, 1=G, 2=B) as a plane in [0,255].
func Channel(img *image.NRGBA, c int) *Plane {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	p := NewPlane(w, h)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			p.Pix[y*w+x] = float64(row[x*4+c])
		}
	}
	return p
}

// ToGray renders a plane with values in [0,1] as an 8-bit gray image.
func (p *Plane) ToGray() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, p.Width, p.Height))
	for i, v := range p.Pix {
		img.Pix[i] = uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
	}
	return img
}

// Percentile returns the q-th percentile (0-100) of values using linear
// interpolation between closest ranks.
func Percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return stat.Quantile(q/100, stat.LinInterp, sorted, nil)
}
