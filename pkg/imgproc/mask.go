package imgproc

import (
	"image"
	"math"
)

// Mask is a binary image stored row-major.
type Mask struct {
	Width  int
	Height int
	Pix    []bool
}

func NewMask(w, h int) *Mask {
	return &Mask{Width: w, Height: h, Pix: make([]bool, w*h)}
}

// Threshold marks samples strictly greater than t.
func Threshold(p *Plane, t float64) *Mask {
	m := NewMask(p.Width, p.Height)
	for i, v := range p.Pix {
		m.Pix[i] = v > t
	}
	return m
}

func (m *Mask) At(x, y int) bool {
	return m.Pix[y*m.Width+x]
}

// Count returns the number of set pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Pix {
		if v {
			n++
		}
	}
	return n
}

// Coverage is the fraction of set pixels.
func (m *Mask) Coverage() float64 {
	if len(m.Pix) == 0 {
		return 0
	}
	return float64(m.Count()) / float64(len(m.Pix))
}

// Indices lists the offsets of set pixels.
func (m *Mask) Indices() []int {
	idx := make([]int, 0, m.Count())
	for i, v := range m.Pix {
		if v {
			idx = append(idx, i)
		}
	}
	return idx
}

// BoundingBox returns the tight bounds of the set pixels.
func (m *Mask) BoundingBox() (image.Rectangle, bool) {
	minX, minY := m.Width, m.Height
	maxX, maxY := -1, -1
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if !m.Pix[y*m.Width+x] {
				continue
			}
			minX = min(minX, x)
			minY = min(minY, y)
			maxX = max(maxX, x)
			maxY = max(maxY, y)
		}
	}
	if maxX < 0 {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}

// Crop copies the pixels inside r.
func (m *Mask) Crop(r image.Rectangle) *Mask {
	r = r.Intersect(image.Rect(0, 0, m.Width, m.Height))
	out := NewMask(r.Dx(), r.Dy())
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			out.Pix[y*out.Width+x] = m.Pix[(y+r.Min.Y)*m.Width+x+r.Min.X]
		}
	}
	return out
}

// ResizeNearest scales the mask to w x h with nearest-neighbour sampling.
func (m *Mask) ResizeNearest(w, h int) *Mask {
	out := NewMask(w, h)
	if m.Width == 0 || m.Height == 0 {
		return out
	}
	for y := 0; y < h; y++ {
		sy := min(m.Height-1, int(float64(y)*float64(m.Height)/float64(h)))
		for x := 0; x < w; x++ {
			sx := min(m.Width-1, int(float64(x)*float64(m.Width)/float64(w)))
			out.Pix[y*w+x] = m.Pix[sy*m.Width+sx]
		}
	}
	return out
}

// PasteAt returns a w x h mask with m placed at offset (ox, oy).
func (m *Mask) PasteAt(w, h, ox, oy int) *Mask {
	out := NewMask(w, h)
	for y := 0; y < m.Height; y++ {
		ty := y + oy
		if ty < 0 || ty >= h {
			continue
		}
		for x := 0; x < m.Width; x++ {
			tx := x + ox
			if tx < 0 || tx >= w {
				continue
			}
			out.Pix[ty*w+tx] = m.Pix[y*m.Width+x]
		}
	}
	return out
}

// ToGray renders set pixels white.
func (m *Mask) ToGray() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for i, v := range m.Pix {
		if v {
			img.Pix[i] = 255
		}
	}
	return img
}

// Kernel is a structuring element.
type Kernel struct {
	Size int
	On   []bool
}

// EllipseKernel builds an elliptical structuring element of odd size,
// rasterized the same way the usual morphology toolkits do it.
func EllipseKernel(size int) Kernel {
	k := Kernel{Size: size, On: make([]bool, size*size)}
	r := size / 2
	c := size / 2
	invR2 := 0.0
	if r > 0 {
		invR2 = 1 / float64(r*r)
	}
	for i := 0; i < size; i++ {
		dy := i - r
		if dy < -r || dy > r {
			continue
		}
		dx := int(math.Round(float64(c) * math.Sqrt(float64(r*r-dy*dy)*invR2)))
		j1 := max(c-dx, 0)
		j2 := min(c+dx+1, size)
		for j := j1; j < j2; j++ {
			k.On[i*size+j] = true
		}
	}
	return k
}

// Erode keeps a pixel only when every kernel position inside the image is
// set. Positions outside the image do not count against it.
func Erode(m *Mask, k Kernel) *Mask {
	return morph(m, k, true)
}

// Dilate sets a pixel when any kernel position inside the image is set.
func Dilate(m *Mask, k Kernel) *Mask {
	return morph(m, k, false)
}

// Open is erosion followed by dilation.
func Open(m *Mask, k Kernel) *Mask {
	return Dilate(Erode(m, k), k)
}

// Close is dilation followed by erosion.
func Close(m *Mask, k Kernel) *Mask {
	return Erode(Dilate(m, k), k)
}

func morph(m *Mask, k Kernel, erode bool) *Mask {
	out := NewMask(m.Width, m.Height)
	r := k.Size / 2
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			result := erode
			for ky := 0; ky < k.Size && result == erode; ky++ {
				sy := y + ky - r
				if sy < 0 || sy >= m.Height {
					continue
				}
				for kx := 0; kx < k.Size; kx++ {
					if !k.On[ky*k.Size+kx] {
						continue
					}
					sx := x + kx - r
					if sx < 0 || sx >= m.Width {
						continue
					}
					v := m.Pix[sy*m.Width+sx]
					if erode && !v {
						result = false
						break
					}
					if !erode && v {
						result = true
						break
					}
				}
			}
			out.Pix[y*m.Width+x] = result
		}
	}
	return out
}

// LargestComponent keeps only the largest 8-connected component. Ties go to
// the component found first in raster order.
func LargestComponent(m *Mask) *Mask {
	labels := make([]int, len(m.Pix))
	best, bestArea := 0, 0
	next := 1
	stack := make([]int, 0, 64)
	for start, v := range m.Pix {
		if !v || labels[start] != 0 {
			continue
		}
		label := next
		next++
		area := 0
		labels[start] = label
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			area++
			x, y := i%m.Width, i/m.Width
			for dy := -1; dy <= 1; dy++ {
				ny := y + dy
				if ny < 0 || ny >= m.Height {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					nx := x + dx
					if nx < 0 || nx >= m.Width {
						continue
					}
					j := ny*m.Width + nx
					if m.Pix[j] && labels[j] == 0 {
						labels[j] = label
						stack = append(stack, j)
					}
				}
			}
		}
		if area > bestArea {
			best, bestArea = label, area
		}
	}

	out := NewMask(m.Width, m.Height)
	if best == 0 {
		return out
	}
	for i, l := range labels {
		out.Pix[i] = l == best
	}
	return out
}

// DistanceTransform returns, for each set pixel, the Euclidean distance to
// the nearest unset pixel. The area outside the image counts as unset.
func DistanceTransform(m *Mask) *Plane {
	w, h := m.Width+2, m.Height+2
	const inf = 1e20
	f := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			inside := x > 0 && y > 0 && x < w-1 && y < h-1 && m.Pix[(y-1)*m.Width+x-1]
			if inside {
				f[y*w+x] = inf
			}
		}
	}

	col := make([]float64, h)
	d := make([]float64, max(w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			col[y] = f[y*w+x]
		}
		edt1D(col, d[:h])
		for y := 0; y < h; y++ {
			f[y*w+x] = d[y]
		}
	}
	row := make([]float64, w)
	for y := 0; y < h; y++ {
		copy(row, f[y*w:(y+1)*w])
		edt1D(row, d[:w])
		copy(f[y*w:(y+1)*w], d[:w])
	}

	out := NewPlane(m.Width, m.Height)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			out.Pix[y*m.Width+x] = math.Sqrt(f[(y+1)*w+x+1])
		}
	}
	return out
}

// edt1D is the lower-envelope squared distance transform of Felzenszwalb
// and Huttenlocher.
func edt1D(f, d []float64) {
	n := len(f)
	v := make([]int, n)
	z := make([]float64, n+1)
	k := 0
	v[0] = 0
	z[0] = math.Inf(-1)
	z[1] = math.Inf(1)
	for q := 1; q < n; q++ {
		s := ((f[q] + float64(q*q)) - (f[v[k]] + float64(v[k]*v[k]))) / float64(2*q-2*v[k])
		for s <= z[k] {
			k--
			s = ((f[q] + float64(q*q)) - (f[v[k]] + float64(v[k]*v[k]))) / float64(2*q-2*v[k])
		}
		k++
		v[k] = q
		z[k] = s
		z[k+1] = math.Inf(1)
	}
	k = 0
	for q := 0; q < n; q++ {
		for z[k+1] < float64(q) {
			k++
		}
		dq := float64(q - v[k])
		d[q] = dq*dq + f[v[k]]
	}
}
