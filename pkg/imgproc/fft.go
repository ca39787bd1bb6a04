package imgproc

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// FFT2 returns the 2-D discrete Fourier transform of a plane, row-major.
func FFT2(p *Plane) []complex128 {
	w, h := p.Width, p.Height
	out := make([]complex128, w*h)
	for i, v := range p.Pix {
		out[i] = complex(v, 0)
	}

	rowFFT := fourier.NewCmplxFFT(w)
	row := make([]complex128, w)
	for y := 0; y < h; y++ {
		rowFFT.Coefficients(row, out[y*w:(y+1)*w])
		copy(out[y*w:(y+1)*w], row)
	}

	colFFT := fourier.NewCmplxFFT(h)
	col := make([]complex128, h)
	coef := make([]complex128, h)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			col[y] = out[y*w+x]
		}
		colFFT.Coefficients(coef, col)
		for y := 0; y < h; y++ {
			out[y*w+x] = coef[y]
		}
	}
	return out
}

// HighFrequencyPower is the mean spectral magnitude outside a centered disc
// of radius min(w,h)/4 in the zero-frequency-centered spectrum.
func HighFrequencyPower(p *Plane) float64 {
	w, h := p.Width, p.Height
	if w == 0 || h == 0 {
		return 0
	}
	spectrum := FFT2(p)

	radius := min(w, h) / 4
	cx, cy := w/2, h/2
	var sum float64
	var n int
	for v := 0; v < h; v++ {
		// position of frequency row v after shifting zero to the center
		sy := (v + h/2) % h
		for u := 0; u < w; u++ {
			sx := (u + w/2) % w
			dx, dy := sx-cx, sy-cy
			if dx*dx+dy*dy <= radius*radius {
				continue
			}
			sum += cmplx.Abs(spectrum[v*w+u])
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	if math.IsNaN(mean) || math.IsInf(mean, 0) {
		return 0
	}
	return mean
}
