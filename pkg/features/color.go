package features

import (
	"image"

	"gonum.org/v1/gonum/stat"

	"github.com/menta2k/nailscan/pkg/colorspace"
	"github.com/menta2k/nailscan/pkg/imgproc"
	"github.com/menta2k/nailscan/pkg/types"
)

const ratioEpsilon = 1e-6

// Color returns Lab and RGB statistics over the set pixels of mask, or over
// the whole image when mask is nil or empty.
func Color(img *image.NRGBA, mask *imgproc.Mask) types.ColorFeatures {
	lab := colorspace.ToLab(img)
	n := lab.Width * lab.Height

	var idx []int
	if mask != nil && len(mask.Pix) == n {
		idx = mask.Indices()
	}
	if len(idx) == 0 {
		idx = make([]int, n)
		for i := range idx {
			idx[i] = i
		}
	}

	var channels [6][]float64
	for c := range channels {
		channels[c] = make([]float64, len(idx))
	}
	for k, i := range idx {
		x, y := i%lab.Width, i/lab.Width
		off := y*img.Stride + x*4
		channels[0][k] = lab.L[i]
		channels[1][k] = lab.A[i]
		channels[2][k] = lab.B[i]
		channels[3][k] = float64(img.Pix[off])
		channels[4][k] = float64(img.Pix[off+1])
		channels[5][k] = float64(img.Pix[off+2])
	}

	var f types.ColorFeatures
	f.MeanL, f.StdL = stat.PopMeanStdDev(channels[0], nil)
	f.MeanA, f.StdA = stat.PopMeanStdDev(channels[1], nil)
	f.MeanB, f.StdB = stat.PopMeanStdDev(channels[2], nil)
	f.MeanR = stat.Mean(channels[3], nil)
	f.MeanG = stat.Mean(channels[4], nil)
	f.MeanBlue = stat.Mean(channels[5], nil)

	f.RatioRG = f.MeanR / (f.MeanG + ratioEpsilon)
	f.RatioRB = f.MeanR / (f.MeanBlue + ratioEpsilon)
	f.RatioAL = f.MeanA / (f.MeanL + ratioEpsilon)
	return f
}
