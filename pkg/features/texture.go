package features

import (
	"math"

	"github.com/menta2k/nailscan/pkg/imgproc"
)

// glcmOffsets are the (dy, dx) neighbours at 0, 45, 90 and 135 degrees.
var glcmOffsets = [4][2]int{{0, 1}, {-1, 1}, {-1, 0}, {-1, -1}}

// GLCM quantizes an 8-bit gray plane to the given number of levels and
// returns contrast, homogeneity, energy and entropy of the symmetric
// normalized co-occurrence matrices at distance 1, averaged over four angles.
func GLCM(gray *imgproc.Plane, levels int) (contrast, homogeneity, energy, entropy float64) {
	w, h := gray.Width, gray.Height
	step := 256 / levels
	q := make([]int, len(gray.Pix))
	for i, v := range gray.Pix {
		q[i] = min(int(v)/step, levels-1)
	}

	m := make([]float64, levels*levels)
	for _, off := range glcmOffsets {
		clear(m)
		var total float64
		for y := 0; y < h; y++ {
			ny := y + off[0]
			if ny < 0 || ny >= h {
				continue
			}
			for x := 0; x < w; x++ {
				nx := x + off[1]
				if nx < 0 || nx >= w {
					continue
				}
				i, j := q[y*w+x], q[ny*w+nx]
				m[i*levels+j]++
				m[j*levels+i]++
				total += 2
			}
		}
		if total == 0 {
			continue
		}

		var asm float64
		for i := 0; i < levels; i++ {
			for j := 0; j < levels; j++ {
				p := m[i*levels+j] / total
				d := float64(i - j)
				contrast += p * d * d
				homogeneity += p / (1 + d*d)
				asm += p * p
				entropy -= p * math.Log2(p+1e-10)
			}
		}
		energy += math.Sqrt(asm)
	}

	n := float64(len(glcmOffsets))
	return contrast / n, homogeneity / n, energy / n, entropy / n
}

// LBPUniformity computes rotation-invariant uniform local binary patterns
// with bilinear sampling on a circle of the given radius, and returns the
// sum of squares of the normalized pattern histogram.
func LBPUniformity(gray *imgproc.Plane, points int, radius float64) float64 {
	w, h := gray.Width, gray.Height
	if w == 0 || h == 0 {
		return 0
	}

	dy := make([]float64, points)
	dx := make([]float64, points)
	for p := 0; p < points; p++ {
		a := 2 * math.Pi * float64(p) / float64(points)
		dy[p] = round5(-radius * math.Sin(a))
		dx[p] = round5(radius * math.Cos(a))
	}

	hist := make([]float64, points+2)
	bits := make([]bool, points)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			center := gray.Pix[y*w+x]
			for p := 0; p < points; p++ {
				bits[p] = bilinear(gray, float64(y)+dy[p], float64(x)+dx[p]) >= center
			}
			changes := 0
			for p := 0; p < points-1; p++ {
				if bits[p] != bits[p+1] {
					changes++
				}
			}
			code := points + 1
			if changes <= 2 {
				code = 0
				for _, b := range bits {
					if b {
						code++
					}
				}
			}
			hist[code]++
		}
	}

	n := float64(w * h)
	var u float64
	for _, c := range hist {
		d := c / n
		u += d * d
	}
	return u
}

// bilinear samples p at a fractional position; samples outside are zero.
func bilinear(p *imgproc.Plane, r, c float64) float64 {
	at := func(y, x int) float64 {
		if y < 0 || y >= p.Height || x < 0 || x >= p.Width {
			return 0
		}
		return p.Pix[y*p.Width+x]
	}
	r0, c0 := math.Floor(r), math.Floor(c)
	fr, fc := r-r0, c-c0
	y0, x0 := int(r0), int(c0)
	top := (1-fc)*at(y0, x0) + fc*at(y0, x0+1)
	bottom := (1-fc)*at(y0+1, x0) + fc*at(y0+1, x0+1)
	return (1-fr)*top + fr*bottom
}

func round5(v float64) float64 {
	return math.Round(v*1e5) / 1e5
}
