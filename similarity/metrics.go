package similarity

import (
	"bytes"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"imgcompare/types"
)

const (
	dataRange = 255.0

	ssimWindow = 3
	ssimK1     = 0.01
	ssimK2     = 0.03

	nmiBins = 100
)

// PixelEqual returns 1 when both buffers are identical and 0 otherwise.
// Images of different shape are simply unequal.
func PixelEqual(a, b types.Image) (float64, error) {
	if a.SameShape(b) && bytes.Equal(a.Pix, b.Pix) {
		return 1, nil
	}
	return 0, nil
}

// MeanAbsoluteError is the mean of |a-b| over all samples
func MeanAbsoluteError(a, b types.Image) (float64, error) {
	if err := checkShapes(a, b); err != nil {
		return 0, err
	}
	var sum float64
	for i := range a.Pix {
		sum += math.Abs(float64(a.Pix[i]) - float64(b.Pix[i]))
	}
	return sum / float64(len(a.Pix)), nil
}

// MeanSquaredError is the mean of (a-b)^2 over all samples
func MeanSquaredError(a, b types.Image) (float64, error) {
	if err := checkShapes(a, b); err != nil {
		return 0, err
	}
	return mse(a.Pix, b.Pix), nil
}

func mse(a, b []uint8) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum / float64(len(a))
}

// NormalizedRootMSE divides the RMSE by the euclidean norm of the reference
// image a, scaled by the sample count
func NormalizedRootMSE(a, b types.Image) (float64, error) {
	if err := checkShapes(a, b); err != nil {
		return 0, err
	}
	var energy float64
	for _, v := range a.Pix {
		energy += float64(v) * float64(v)
	}
	denom := math.Sqrt(energy / float64(len(a.Pix)))
	if denom == 0 {
		return 0, fmt.Errorf("%w: reference image is all zeros", types.ErrDegenerateInput)
	}
	return math.Sqrt(mse(a.Pix, b.Pix)) / denom, nil
}

// PeakSignalNoiseRatio uses the 8-bit data range. Identical images give +Inf.
func PeakSignalNoiseRatio(a, b types.Image) (float64, error) {
	if err := checkShapes(a, b); err != nil {
		return 0, err
	}
	m := mse(a.Pix, b.Pix)
	if m == 0 {
		return math.Inf(1), nil
	}
	return 10 * math.Log10(dataRange*dataRange/m), nil
}

// StructuralSimilarity computes the mean SSIM over the flattened buffers using
// a uniform window of 3 samples. The one-sample border where the window does
// not fit is excluded from the mean.
func StructuralSimilarity(a, b types.Image) (float64, error) {
	if err := checkShapes(a, b); err != nil {
		return 0, err
	}
	n := len(a.Pix)
	if n < ssimWindow {
		return 0, fmt.Errorf("%w: %d samples is smaller than the SSIM window", types.ErrDegenerateInput, n)
	}

	c1 := (ssimK1 * dataRange) * (ssimK1 * dataRange)
	c2 := (ssimK2 * dataRange) * (ssimK2 * dataRange)
	covNorm := float64(ssimWindow) / float64(ssimWindow-1)
	pad := (ssimWindow - 1) / 2

	var total float64
	for i := pad; i < n-pad; i++ {
		var ux, uy, uxx, uyy, uxy float64
		for k := i - pad; k <= i+pad; k++ {
			x, y := float64(a.Pix[k]), float64(b.Pix[k])
			ux += x
			uy += y
			uxx += x * x
			uyy += y * y
			uxy += x * y
		}
		ux /= ssimWindow
		uy /= ssimWindow
		uxx /= ssimWindow
		uyy /= ssimWindow
		uxy /= ssimWindow

		vx := covNorm * (uxx - ux*ux)
		vy := covNorm * (uyy - uy*uy)
		vxy := covNorm * (uxy - ux*uy)

		num := (2*ux*uy + c1) * (2*vxy + c2)
		den := (ux*ux + uy*uy + c1) * (vx + vy + c2)
		total += num / den
	}
	return total / float64(n-2*pad), nil
}

// NormalizedMutualInformation returns (H(a)+H(b))/H(a,b) computed on a joint
// histogram with 100 bins per axis spanning each image's own value range.
// The result lies in [1, 2].
func NormalizedMutualInformation(a, b types.Image) (float64, error) {
	if err := checkShapes(a, b); err != nil {
		return 0, err
	}

	binA := binner(a.Pix)
	binB := binner(b.Pix)

	joint := make([]int, nmiBins*nmiBins)
	margA := make([]int, nmiBins)
	margB := make([]int, nmiBins)
	for i := range a.Pix {
		x, y := binA(a.Pix[i]), binB(b.Pix[i])
		joint[x*nmiBins+y]++
		margA[x]++
		margB[y]++
	}
	total := float64(len(a.Pix))

	hJoint := jointEntropy(joint, total)
	if hJoint == 0 {
		return 0, fmt.Errorf("%w: both images are constant", types.ErrDegenerateInput)
	}
	return (stat.Entropy(probabilities(margA, total)) + stat.Entropy(probabilities(margB, total))) / hJoint, nil
}

// jointEntropy sums the cells (x, y) and (y, x) as one pair, so the result
// does not depend on which image indexes the rows
func jointEntropy(joint []int, total float64) float64 {
	var h float64
	for x := 0; x < nmiBins; x++ {
		h += entropyTerm(joint[x*nmiBins+x], total)
		for y := x + 1; y < nmiBins; y++ {
			h += entropyTerm(joint[x*nmiBins+y], total) + entropyTerm(joint[y*nmiBins+x], total)
		}
	}
	return h
}

func entropyTerm(count int, total float64) float64 {
	if count == 0 {
		return 0
	}
	p := float64(count) / total
	return -p * math.Log(p)
}

func probabilities(counts []int, total float64) []float64 {
	p := make([]float64, len(counts))
	for i, c := range counts {
		p[i] = float64(c) / total
	}
	return p
}

// binner maps a sample to one of nmiBins equal-width bins over [min, max]
func binner(pix []uint8) func(uint8) int {
	lo, hi := pix[0], pix[0]
	for _, v := range pix {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if lo == hi {
		return func(uint8) int { return 0 }
	}
	width := float64(hi-lo) / nmiBins
	return func(v uint8) int {
		idx := int(float64(v-lo) / width)
		if idx >= nmiBins {
			idx = nmiBins - 1
		}
		return idx
	}
}
