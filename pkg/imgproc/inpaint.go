package imgproc

import (
	"image"
	"math"
)

// Inpaint fills the masked pixels of img from their surroundings. Pixels are
// filled in order of distance from the mask boundary, each one taking the
// inverse-distance weighted mean of already known pixels within radius.
func Inpaint(img *image.NRGBA, m *Mask, radius int) *image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		copy(out.Pix[y*out.Stride:y*out.Stride+w*4], img.Pix[y*img.Stride:y*img.Stride+w*4])
	}
	if m.Count() == 0 {
		return out
	}

	known := make([]bool, w*h)
	for i, v := range m.Pix {
		known[i] = !v
	}

	// narrow band: unknown pixels touching a known one
	band := make([]int, 0)
	queued := make([]bool, w*h)
	for i, v := range m.Pix {
		if v && hasKnownNeighbour(known, w, h, i) {
			band = append(band, i)
			queued[i] = true
		}
	}

	for len(band) > 0 {
		next := make([]int, 0, len(band))
		for _, i := range band {
			fillPixel(out, known, w, h, i, radius)
		}
		for _, i := range band {
			known[i] = true
		}
		for _, i := range band {
			x, y := i%w, i/w
			for _, d := range [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
				nx, ny := x+d[0], y+d[1]
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if !known[j] && !queued[j] {
					queued[j] = true
					next = append(next, j)
				}
			}
		}
		band = next
	}
	return out
}

func hasKnownNeighbour(known []bool, w, h, i int) bool {
	x, y := i%w, i/w
	for _, d := range [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
		nx, ny := x+d[0], y+d[1]
		if nx >= 0 && ny >= 0 && nx < w && ny < h && known[ny*w+nx] {
			return true
		}
	}
	return false
}

func fillPixel(img *image.NRGBA, known []bool, w, h, i, radius int) {
	x, y := i%w, i/w
	var sum [3]float64
	var weight float64
	for dy := -radius; dy <= radius; dy++ {
		ny := y + dy
		if ny < 0 || ny >= h {
			continue
		}
		for dx := -radius; dx <= radius; dx++ {
			nx := x + dx
			if nx < 0 || nx >= w || (dx == 0 && dy == 0) {
				continue
			}
			d2 := float64(dx*dx + dy*dy)
			if d2 > float64(radius*radius) || !known[ny*w+nx] {
				continue
			}
			wt := 1 / math.Sqrt(d2)
			o := ny*img.Stride + nx*4
			sum[0] += wt * float64(img.Pix[o])
			sum[1] += wt * float64(img.Pix[o+1])
			sum[2] += wt * float64(img.Pix[o+2])
			weight += wt
		}
	}
	if weight == 0 {
		return
	}
	o := y*img.Stride + x*4
	for c := 0; c < 3; c++ {
		img.Pix[o+c] = uint8(math.Round(sum[c] / weight))
	}
	img.Pix[o+3] = 255
}
