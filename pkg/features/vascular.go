package features

import (
	"math"

	"github.com/menta2k/nailscan/pkg/imgproc"
	"github.com/menta2k/nailscan/pkg/types"
)

func (e *Extractor) vascular(green *imgproc.Plane) types.VascularFeatures {
	response := Frangi(green, e.config.FrangiSigmas, e.config.FrangiBeta)
	threshold := imgproc.Percentile(response.Pix, e.config.VesselPercentile)
	vessels := imgproc.Threshold(response, threshold)

	var f types.VascularFeatures
	f.Density = vessels.Coverage()

	idx := vessels.Indices()
	if len(idx) == 0 {
		return f
	}

	dist := imgproc.DistanceTransform(vessels)
	var sum float64
	for _, i := range idx {
		sum += dist.Pix[i]
	}
	f.Thickness = sum / float64(len(idx))

	gx, gy := imgproc.Sobel(green)
	f.OrientationEntropy = orientationEntropy(gx, gy, idx, e.config.OrientationBins)
	return f
}

// Frangi enhances bright tubular structures. The Hessian at each scale is
// taken from a Gaussian-smoothed copy and normalized by sigma squared; the
// response is the maximum over scales.
func Frangi(p *imgproc.Plane, sigmas []float64, beta float64) *imgproc.Plane {
	out := imgproc.NewPlane(p.Width, p.Height)
	gamma := 0.0
	for _, sigma := range sigmas {
		smooth := imgproc.GaussianBlur(p, sigma)
		dx, dy := imgproc.Gradient(smooth)
		dxx, dxy := imgproc.Gradient(dx)
		_, dyy := imgproc.Gradient(dy)

		s2 := sigma * sigma
		l1 := make([]float64, len(p.Pix))
		l2 := make([]float64, len(p.Pix))
		norm := make([]float64, len(p.Pix))
		maxNorm := 0.0
		for i := range p.Pix {
			a, b, c := dxx.Pix[i]*s2, dxy.Pix[i]*s2, dyy.Pix[i]*s2
			mid := (a + c) / 2
			r := math.Sqrt((a-c)*(a-c)/4 + b*b)
			e1, e2 := mid-r, mid+r
			if math.Abs(e1) > math.Abs(e2) {
				e1, e2 = e2, e1
			}
			l1[i], l2[i] = e1, e2
			norm[i] = math.Sqrt(e1*e1 + e2*e2)
			maxNorm = math.Max(maxNorm, norm[i])
		}
		if gamma == 0 {
			gamma = maxNorm / 2
			if gamma == 0 {
				gamma = 1
			}
		}

		for i := range p.Pix {
			// bright ridges have a strongly negative cross-section curvature
			if l2[i] >= 0 {
				continue
			}
			rb := l1[i] / l2[i]
			v := math.Exp(-rb*rb/(2*beta*beta)) * (1 - math.Exp(-norm[i]*norm[i]/(2*gamma*gamma)))
			out.Pix[i] = math.Max(out.Pix[i], v)
		}
	}
	return out
}

// orientationEntropy is the Shannon entropy (bits) of the density histogram
// of gradient directions over the given pixels.
func orientationEntropy(gx, gy *imgproc.Plane, idx []int, bins int) float64 {
	hist := make([]float64, bins)
	width := 2 * math.Pi / float64(bins)
	for _, i := range idx {
		theta := math.Atan2(gy.Pix[i], gx.Pix[i])
		b := min(int((theta+math.Pi)/width), bins-1)
		hist[max(b, 0)]++
	}

	n := float64(len(idx))
	var entropy float64
	for _, c := range hist {
		d := c/(n*width) + 1e-10
		entropy -= d * math.Log2(d)
	}
	return entropy
}
