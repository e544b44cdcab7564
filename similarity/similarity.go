// Package similarity provides the pixel-level comparison strategies that can be
// plugged into the comparison engine. Every strategy maps two images of
// identical shape to a single scalar and has no side effects.
package similarity

import (
	"fmt"
	"math"
	"sort"

	"imgcompare/types"
)

// Func compares two canonical images
type Func func(a, b types.Image) (float64, error)

// Strategy is one entry of the closed strategy catalogue
type Strategy struct {
	Name string
	Fn   Func

	// Symmetric is true when Fn(a, b) == Fn(b, a) for all valid inputs
	Symmetric bool

	// Best is the value produced for two identical images
	Best float64

	// HigherIsSimilar tells whether larger values mean more similar images
	HigherIsSimilar bool
}

// Compare applies the strategy
func (s Strategy) Compare(a, b types.Image) (float64, error) {
	return s.Fn(a, b)
}

var (
	Pix2Pix = Strategy{Name: "pix2pix", Fn: PixelEqual, Symmetric: true, Best: 1, HigherIsSimilar: true}
	MAE     = Strategy{Name: "mae", Fn: MeanAbsoluteError, Symmetric: true, Best: 0}
	MSE     = Strategy{Name: "mse", Fn: MeanSquaredError, Symmetric: true, Best: 0}
	NRMSE   = Strategy{Name: "nrmse", Fn: NormalizedRootMSE, Symmetric: false, Best: 0}
	SSIM    = Strategy{Name: "ssim", Fn: StructuralSimilarity, Symmetric: true, Best: 1, HigherIsSimilar: true}
	PSNR    = Strategy{Name: "psnr", Fn: PeakSignalNoiseRatio, Symmetric: true, Best: math.Inf(1), HigherIsSimilar: true}
	NMI     = Strategy{Name: "nmi", Fn: NormalizedMutualInformation, Symmetric: true, Best: 2, HigherIsSimilar: true}
)

var catalogue = map[string]Strategy{
	Pix2Pix.Name: Pix2Pix,
	MAE.Name:     MAE,
	MSE.Name:     MSE,
	NRMSE.Name:   NRMSE,
	SSIM.Name:    SSIM,
	PSNR.Name:    PSNR,
	NMI.Name:     NMI,
}

// Parse resolves a strategy by name
func Parse(name string) (Strategy, error) {
	s, ok := catalogue[name]
	if !ok {
		return Strategy{}, fmt.Errorf("%w: %q (available: %v)", types.ErrInvalidStrategy, name, Names())
	}
	return s, nil
}

// All returns every strategy sorted by name
func All() []Strategy {
	out := make([]Strategy, 0, len(catalogue))
	for _, s := range catalogue {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the registered strategy names sorted
func Names() []string {
	all := All()
	names := make([]string, len(all))
	for i, s := range all {
		names[i] = s.Name
	}
	return names
}

func checkShapes(a, b types.Image) error {
	if !a.SameShape(b) || len(a.Pix) != len(b.Pix) {
		return fmt.Errorf("%w: %s vs %s", types.ErrDimensionMismatch, a.ShapeString(), b.ShapeString())
	}
	if len(a.Pix) == 0 {
		return fmt.Errorf("%w: empty image", types.ErrDegenerateInput)
	}
	return nil
}
