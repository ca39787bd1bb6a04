package imgproc

import "math"

// reflect101 mirrors an out-of-range index without repeating the edge sample.
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

// Convolve3x3 applies a 3x3 kernel with mirrored borders.
func Convolve3x3(p *Plane, k [3][3]float64) *Plane {
	out := NewPlane(p.Width, p.Height)
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			var sum float64
			for ky := -1; ky <= 1; ky++ {
				sy := reflect101(y+ky, p.Height)
				for kx := -1; kx <= 1; kx++ {
					sx := reflect101(x+kx, p.Width)
					sum += k[ky+1][kx+1] * p.Pix[sy*p.Width+sx]
				}
			}
			out.Pix[y*p.Width+x] = sum
		}
	}
	return out
}

// Laplacian is the 4-neighbour second derivative.
func Laplacian(p *Plane) *Plane {
	return Convolve3x3(p, [3][3]float64{
		{0, 1, 0},
		{1, -4, 1},
		{0, 1, 0},
	})
}

// Sobel returns the horizontal and vertical 3x3 Sobel responses.
func Sobel(p *Plane) (*Plane, *Plane) {
	gx := Convolve3x3(p, [3][3]float64{
		{-1, 0, 1},
		{-2, 0, 2},
		{-1, 0, 1},
	})
	gy := Convolve3x3(p, [3][3]float64{
		{-1, -2, -1},
		{0, 0, 0},
		{1, 2, 1},
	})
	return gx, gy
}

// GaussianKernel builds a normalized 1-D kernel of the given radius.
func GaussianKernel(sigma float64, radius int) []float64 {
	k := make([]float64, 2*radius+1)
	var sum float64
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		k[i+radius] = v
		sum += v
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// GaussianBlur smooths a plane with a separable Gaussian truncated at
// three standard deviations.
func GaussianBlur(p *Plane, sigma float64) *Plane {
	if sigma <= 0 {
		return p.Clone()
	}
	radius := int(math.Ceil(3 * sigma))
	return SeparableFilter(p, GaussianKernel(sigma, radius))
}

// GaussianBlurKernel smooths with an odd kernel size, deriving sigma the
// same way common imaging toolkits do when only the size is given.
func GaussianBlurKernel(p *Plane, ksize int) *Plane {
	sigma := 0.3*(float64(ksize-1)*0.5-1) + 0.8
	return SeparableFilter(p, GaussianKernel(sigma, ksize/2))
}

// SeparableFilter applies the same 1-D kernel along rows then columns.
func SeparableFilter(p *Plane, k []float64) *Plane {
	radius := len(k) / 2
	tmp := NewPlane(p.Width, p.Height)
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			var sum float64
			for i, kv := range k {
				sx := reflect101(x+i-radius, p.Width)
				sum += kv * p.Pix[y*p.Width+sx]
			}
			tmp.Pix[y*p.Width+x] = sum
		}
	}
	out := NewPlane(p.Width, p.Height)
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			var sum float64
			for i, kv := range k {
				sy := reflect101(y+i-radius, p.Height)
				sum += kv * tmp.Pix[sy*p.Width+x]
			}
			out.Pix[y*p.Width+x] = sum
		}
	}
	return out
}

// Gradient returns central-difference derivatives along x and y, using
// one-sided differences on the borders.
func Gradient(p *Plane) (*Plane, *Plane) {
	dx := NewPlane(p.Width, p.Height)
	dy := NewPlane(p.Width, p.Height)
	w, h := p.Width, p.Height
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			switch {
			case w == 1:
			case x == 0:
				dx.Pix[i] = p.Pix[i+1] - p.Pix[i]
			case x == w-1:
				dx.Pix[i] = p.Pix[i] - p.Pix[i-1]
			default:
				dx.Pix[i] = (p.Pix[i+1] - p.Pix[i-1]) / 2
			}
			switch {
			case h == 1:
			case y == 0:
				dy.Pix[i] = p.Pix[i+w] - p.Pix[i]
			case y == h-1:
				dy.Pix[i] = p.Pix[i] - p.Pix[i-w]
			default:
				dy.Pix[i] = (p.Pix[i+w] - p.Pix[i-w]) / 2
			}
		}
	}
	return dx, dy
}
