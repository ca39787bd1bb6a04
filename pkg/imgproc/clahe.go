package imgproc

import "math"

// CLAHE equalizes an 8-bit-valued plane with contrast-limited adaptive
// histogram equalization over a tiles x tiles grid. Values are rounded and
// clamped to [0,255] before equalization.
func CLAHE(p *Plane, clipLimit float64, tiles int) *Plane {
	w, h := p.Width, p.Height
	if w == 0 || h == 0 || tiles < 1 {
		return p.Clone()
	}
	tilesX := min(tiles, w)
	tilesY := min(tiles, h)
	tileW := int(math.Ceil(float64(w) / float64(tilesX)))
	tileH := int(math.Ceil(float64(h) / float64(tilesY)))

	src := make([]uint8, w*h)
	for i, v := range p.Pix {
		src[i] = uint8(math.Max(0, math.Min(255, math.Round(v))))
	}

	luts := make([][256]float64, tilesX*tilesY)
	for ty := 0; ty < tilesY; ty++ {
		for tx := 0; tx < tilesX; tx++ {
			x0, y0 := tx*tileW, ty*tileH
			x1, y1 := min(x0+tileW, w), min(y0+tileH, h)
			luts[ty*tilesX+tx] = tileLUT(src, w, x0, y0, x1, y1, clipLimit)
		}
	}

	out := NewPlane(w, h)
	for y := 0; y < h; y++ {
		gy := (float64(y)+0.5)/float64(tileH) - 0.5
		ty0 := int(math.Floor(gy))
		fy := gy - float64(ty0)
		ty1 := min(ty0+1, tilesY-1)
		ty0 = max(ty0, 0)
		for x := 0; x < w; x++ {
			gx := (float64(x)+0.5)/float64(tileW) - 0.5
			tx0 := int(math.Floor(gx))
			fx := gx - float64(tx0)
			tx1 := min(tx0+1, tilesX-1)
			tx0 = max(tx0, 0)

			v := src[y*w+x]
			top := (1-fx)*luts[ty0*tilesX+tx0][v] + fx*luts[ty0*tilesX+tx1][v]
			bottom := (1-fx)*luts[ty1*tilesX+tx0][v] + fx*luts[ty1*tilesX+tx1][v]
			out.Pix[y*w+x] = math.Round((1-fy)*top + fy*bottom)
		}
	}
	return out
}

func tileLUT(src []uint8, stride, x0, y0, x1, y1 int, clipLimit float64) [256]float64 {
	var hist [256]int
	area := (x1 - x0) * (y1 - y0)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			hist[src[y*stride+x]]++
		}
	}

	var lut [256]float64
	if area == 0 {
		for i := range lut {
			lut[i] = float64(i)
		}
		return lut
	}

	if clipLimit > 0 {
		limit := max(int(clipLimit*float64(area)/256), 1)
		excess := 0
		for i := range hist {
			if hist[i] > limit {
				excess += hist[i] - limit
				hist[i] = limit
			}
		}
		bonus := excess / 256
		residual := excess - bonus*256
		for i := range hist {
			hist[i] += bonus
		}
		if residual > 0 {
			step := max(256/residual, 1)
			for i := 0; i < 256 && residual > 0; i += step {
				hist[i]++
				residual--
			}
		}
	}

	scale := 255.0 / float64(area)
	sum := 0
	for i := range hist {
		sum += hist[i]
		lut[i] = math.Min(255, math.Round(float64(sum)*scale))
	}
	return lut
}
