// Package hashcmp compares image collections through perceptual hashes. The
// set of hash strategies is closed; implementations are supplied through a
// Registry so the engine never depends on a particular hashing backend.
package hashcmp

import (
	"encoding/hex"
	"fmt"
	"sort"

	"imgcompare/types"
)

// Name identifies one of the supported hash strategies
type Name string

const (
	Average        Name = "average"
	PHash          Name = "p"
	MarrHildreth   Name = "marr_hildreth"
	RadialVariance Name = "radial_variance"
	BlockMean      Name = "block_mean"
	ColorMoment    Name = "color_moment"
)

var known = map[Name]bool{
	Average:        true,
	PHash:          true,
	MarrHildreth:   true,
	RadialVariance: true,
	BlockMean:      true,
	ColorMoment:    true,
}

// Names returns all strategy names sorted
func Names() []Name {
	names := make([]Name, 0, len(known))
	for n := range known {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// ParseName resolves a strategy name
func ParseName(s string) (Name, error) {
	n := Name(s)
	if !known[n] {
		return "", fmt.Errorf("%w: hash %q (available: %v)", types.ErrInvalidStrategy, s, Names())
	}
	return n, nil
}

// Depth is the element type of a hash code
type Depth int

const (
	Depth8U Depth = iota
	Depth64F
)

// Code is the hash of one image. It is only comparable with codes produced by
// the same strategy.
type Code struct {
	Strategy Name
	Rows     int
	Cols     int
	Depth    Depth
	Data     []byte
}

// String returns the hexadecimal form of the code
func (c Code) String() string {
	return hex.EncodeToString(c.Data)
}

// Compatible fails with types.ErrIncompatibleCodes when a and b come from
// different strategies or have different layouts
func Compatible(a, b Code) error {
	if a.Strategy != b.Strategy {
		return fmt.Errorf("%w: %s vs %s", types.ErrIncompatibleCodes, a.Strategy, b.Strategy)
	}
	if a.Rows != b.Rows || a.Cols != b.Cols || a.Depth != b.Depth || len(a.Data) != len(b.Data) {
		return fmt.Errorf("%w: %s codes of shape %dx%d and %dx%d",
			types.ErrIncompatibleCodes, a.Strategy, a.Rows, a.Cols, b.Rows, b.Cols)
	}
	return nil
}

// Hasher computes and compares codes for one strategy. Lower distances mean
// more similar images.
type Hasher interface {
	Compute(img types.Image) (Code, error)
	Compare(a, b Code) (float64, error)
}

// Registry maps strategy names to their implementation
type Registry struct {
	hashers map[Name]Hasher
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{hashers: make(map[Name]Hasher)}
}

// Register adds the implementation for a known strategy name
func (r *Registry) Register(name Name, h Hasher) error {
	if !known[name] {
		return fmt.Errorf("%w: hash %q", types.ErrInvalidStrategy, name)
	}
	if h == nil {
		return fmt.Errorf("%w: hash %q has no implementation", types.ErrInvalidStrategy, name)
	}
	r.hashers[name] = h
	return nil
}

// Lookup resolves a name to its hasher
func (r *Registry) Lookup(name string) (Name, Hasher, error) {
	n, err := ParseName(name)
	if err != nil {
		return "", nil, err
	}
	h, ok := r.hashers[n]
	if !ok {
		return "", nil, fmt.Errorf("%w: hash %q is not registered", types.ErrInvalidStrategy, name)
	}
	return n, h, nil
}

// Registered returns the names with an implementation, sorted
func (r *Registry) Registered() []Name {
	var names []Name
	for _, n := range Names() {
		if _, ok := r.hashers[n]; ok {
			names = append(names, n)
		}
	}
	return names
}
