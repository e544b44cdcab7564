// Package retrieval indexes local feature descriptors of a dataset and finds,
// for a query image, the most similar other image by descriptor voting.
package retrieval

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"imgcompare/logging"
	"imgcompare/metrics"
	"imgcompare/signalhandler"
	"imgcompare/types"
)

// DefaultThreshold is the similarity a vote must exceed to be retained
const DefaultThreshold = 0.9

// Extractor yields the local descriptors of an image
type Extractor interface {
	Extract(img types.Image) ([][]float32, error)
}

// Options defines the options for building an index
type Options struct {
	// Workers bounds concurrent extractions. Zero picks a default.
	Workers int
	// MaxDescriptors is a hard limit on the store size. Zero means unlimited.
	MaxDescriptors int
	// Threshold is the vote threshold used by queries. Zero picks DefaultThreshold.
	Threshold float64
	Logger    *logging.Logger
}

// Index is the descriptor store. Vectors are unit length and stored row-major
// in one growable slice with a parallel label per row. It is read-only once
// Build returns.
type Index struct {
	dim       int
	data      []float64
	labels    []int
	names     []string
	threshold float64

	// Complete is false when Build was cancelled before every image was seen
	Complete bool
}

// ImageFailure records an image that contributes no descriptors
type ImageFailure struct {
	Index int
	Name  string
	Err   error
}

func (f ImageFailure) Error() string {
	return fmt.Sprintf("image %d (%s): %v", f.Index, f.Name, f.Err)
}

func (f ImageFailure) Unwrap() error {
	return f.Err
}

// BuildReport summarizes an indexing run
type BuildReport struct {
	Images      int
	Indexed     int
	Descriptors int
	Failures    []ImageFailure
}

type extraction struct {
	vectors []float64
	count   int
	dim     int
	err     error
}

// Build extracts and indexes descriptors of images. Extraction runs on a
// bounded pool; results are appended strictly in image order, so the store
// does not depend on the number of workers. Images whose extraction fails are
// listed in the report and skipped. Exceeding opts.MaxDescriptors is fatal.
func Build(ctx context.Context, images []types.ImageRecord, ext Extractor, opts Options) (*Index, *BuildReport, error) {
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = signalhandler.GetOptimalProcs()
	}
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}

	for _, r := range images {
		if err := r.Image.Validate(); err != nil {
			return nil, nil, fmt.Errorf("image %s: %w", r.Path, err)
		}
	}

	idx := &Index{names: types.Identities(images), threshold: threshold}
	report := &BuildReport{Images: len(images)}
	results := make([]extraction, len(images))

	var g errgroup.Group
	g.SetLimit(workers)

	launched := 0
	var cancelErr error
	for i := range images {
		if err := ctx.Err(); err != nil {
			cancelErr = err
			break
		}
		g.Go(func() error {
			results[i] = extract(ext, images[i].Image)
			return nil
		})
		launched++
	}
	_ = g.Wait()

	for i := 0; i < launched; i++ {
		res := results[i]
		if res.err == nil && idx.dim != 0 && res.dim != idx.dim {
			res.err = fmt.Errorf("%w: descriptor dimension %d, index holds %d", types.ErrDimensionMismatch, res.dim, idx.dim)
		}
		if res.err != nil {
			f := ImageFailure{Index: i, Name: images[i].Name, Err: res.err}
			report.Failures = append(report.Failures, f)
			metrics.ExtractionFailuresTotal.Inc()
			log.Printf(logging.TagFail, "%v", f)
			continue
		}

		if opts.MaxDescriptors > 0 && len(idx.labels)+res.count > opts.MaxDescriptors {
			return idx, report, fmt.Errorf("%w: image %s adds %d descriptors to %d, limit %d",
				types.ErrCapacityExceeded, images[i].Name, res.count, len(idx.labels), opts.MaxDescriptors)
		}

		idx.dim = res.dim
		idx.data = append(idx.data, res.vectors...)
		for k := 0; k < res.count; k++ {
			idx.labels = append(idx.labels, i)
		}
		report.Indexed++
		report.Descriptors += res.count
		metrics.DescriptorsIndexedTotal.Add(float64(res.count))
		log.Debug("image %d (%s): %d descriptors", i, images[i].Name, res.count)
	}

	if cancelErr != nil {
		log.Printf(logging.TagWarning, "indexing cancelled after %d/%d images", launched, len(images))
		return idx, report, types.Incomplete(cancelErr)
	}

	idx.Complete = true
	log.Printf(logging.TagDone, "%d descriptors extracted from %d images", report.Descriptors, report.Images)
	if len(report.Failures) > 0 {
		log.Printf(logging.TagWarning, "%d images contributed no descriptors", len(report.Failures))
	}
	return idx, report, nil
}

// extract runs the extractor and normalizes every descriptor to unit length
func extract(ext Extractor, img types.Image) (res extraction) {
	defer func() {
		if r := recover(); r != nil {
			res = extraction{err: fmt.Errorf("%w: extractor panicked: %v", types.ErrDescriptorExtraction, r)}
		}
	}()

	desc, err := ext.Extract(img)
	if err != nil {
		return extraction{err: fmt.Errorf("%w: %w", types.ErrDescriptorExtraction, err)}
	}
	if len(desc) == 0 {
		return extraction{err: fmt.Errorf("%w: no descriptors", types.ErrDescriptorExtraction)}
	}

	dim := len(desc[0])
	if dim == 0 {
		return extraction{err: fmt.Errorf("%w: empty descriptor", types.ErrDescriptorExtraction)}
	}

	vectors := make([]float64, 0, len(desc)*dim)
	for k, d := range desc {
		if len(d) != dim {
			return extraction{err: fmt.Errorf("%w: descriptor %d has dimension %d, expected %d", types.ErrDimensionMismatch, k, len(d), dim)}
		}
		v := make([]float64, dim)
		for c, x := range d {
			v[c] = float64(x)
		}
		norm := floats.Norm(v, 2)
		if norm == 0 {
			return extraction{err: fmt.Errorf("%w: descriptor %d has zero norm", types.ErrDegenerateInput, k)}
		}
		floats.Scale(1/norm, v)
		vectors = append(vectors, v...)
	}

	return extraction{vectors: vectors, count: len(desc), dim: dim}
}

// Len returns the number of stored descriptors
func (idx *Index) Len() int {
	return len(idx.labels)
}

// Dim returns the descriptor dimension, zero for an empty index
func (idx *Index) Dim() int {
	return idx.dim
}

// NumImages returns the number of images the index was built over
func (idx *Index) NumImages() int {
	return len(idx.names)
}

// Name returns the identity of image i
func (idx *Index) Name(i int) string {
	return idx.names[i]
}

// Label returns the owning image of descriptor k
func (idx *Index) Label(k int) int {
	return idx.labels[k]
}

// Vector returns a copy of descriptor k
func (idx *Index) Vector(k int) []float64 {
	v := make([]float64, idx.dim)
	copy(v, idx.data[k*idx.dim:(k+1)*idx.dim])
	return v
}

// Threshold returns the vote threshold used by queries
func (idx *Index) Threshold() float64 {
	return idx.threshold
}
