// Package imghash provides the OpenCV img_hash implementations of the hash
// strategies known to hashcmp.
package imghash

import (
	"fmt"

	"gocv.io/x/gocv"
	"gocv.io/x/gocv/contrib"

	"imgcompare/hashcmp"
	"imgcompare/imageprocessor"
	"imgcompare/types"
)

// Hasher adapts one contrib img_hash algorithm to hashcmp.Hasher. The
// underlying OpenCV objects are stateless for compute/compare, so a Hasher
// can be shared between goroutines.
type Hasher struct {
	name hashcmp.Name
	impl contrib.ImgHashBase
}

// New returns the hasher for a strategy name
func New(name hashcmp.Name) (*Hasher, error) {
	var impl contrib.ImgHashBase

	switch name {
	case hashcmp.Average:
		impl = contrib.AverageHash{}
	case hashcmp.PHash:
		impl = contrib.PHash{}
	case hashcmp.MarrHildreth:
		impl = contrib.NewMarrHildrethHash()
	case hashcmp.RadialVariance:
		impl = contrib.NewRadialVarianceHash()
	case hashcmp.BlockMean:
		impl = contrib.BlockMeanHash{Mode: contrib.BlockMeanHashMode0}
	case hashcmp.ColorMoment:
		impl = contrib.ColorMomentHash{}
	default:
		return nil, fmt.Errorf("%w: hash %q", types.ErrInvalidStrategy, name)
	}

	return &Hasher{name: name, impl: impl}, nil
}

// NewRegistry returns a registry holding all six strategies
func NewRegistry() (*hashcmp.Registry, error) {
	reg := hashcmp.NewRegistry()
	for _, name := range hashcmp.Names() {
		h, err := New(name)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(name, h); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Compute hashes a canonical image
func (h *Hasher) Compute(img types.Image) (hashcmp.Code, error) {
	src, err := imageprocessor.ToMat(img)
	if err != nil {
		return hashcmp.Code{}, err
	}
	defer src.Close()

	out := gocv.NewMat()
	defer out.Close()

	h.impl.Compute(src, &out)
	if out.Empty() {
		return hashcmp.Code{}, fmt.Errorf("%s hash produced no output for %s image", h.name, img.ShapeString())
	}

	depth := hashcmp.Depth8U
	if out.Type() == gocv.MatTypeCV64F {
		depth = hashcmp.Depth64F
	}

	return hashcmp.Code{
		Strategy: h.name,
		Rows:     out.Rows(),
		Cols:     out.Cols(),
		Depth:    depth,
		Data:     out.ToBytes(),
	}, nil
}

// Compare returns the strategy-specific distance between two codes
func (h *Hasher) Compare(a, b hashcmp.Code) (float64, error) {
	if a.Strategy != h.name {
		return 0, fmt.Errorf("%w: %s code given to %s hasher", types.ErrIncompatibleCodes, a.Strategy, h.name)
	}
	if err := hashcmp.Compatible(a, b); err != nil {
		return 0, err
	}

	ma, err := codeToMat(a)
	if err != nil {
		return 0, err
	}
	defer ma.Close()

	mb, err := codeToMat(b)
	if err != nil {
		return 0, err
	}
	defer mb.Close()

	return h.impl.Compare(ma, mb), nil
}

func codeToMat(c hashcmp.Code) (gocv.Mat, error) {
	matType := gocv.MatTypeCV8U
	if c.Depth == hashcmp.Depth64F {
		matType = gocv.MatTypeCV64F
	}
	return gocv.NewMatFromBytes(c.Rows, c.Cols, matType, c.Data)
}
