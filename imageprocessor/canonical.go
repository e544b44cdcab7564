package imageprocessor

import (
	"context"
	"fmt"
	"image"
	"path/filepath"

	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"

	"imgcompare/logging"
	"imgcompare/metrics"
	"imgcompare/signalhandler"
	"imgcompare/types"
)

// Policy decides the canonical shape of a decoded image. One policy is used
// for a whole dataset so that every record of a call shares its shape rules.
type Policy interface {
	Name() string
	// Target returns the output size for an input of w x h
	Target(w, h int) (int, int)
	Interpolation() gocv.InterpolationFlags
}

// PolicySquare resizes every image to Size x Size. Used by the pixel metric
// matrices, which need identical shapes across both datasets.
type PolicySquare struct {
	Size int
}

func (p PolicySquare) Name() string { return fmt.Sprintf("square-%d", p.Size) }

func (p PolicySquare) Target(w, h int) (int, int) { return p.Size, p.Size }

func (p PolicySquare) Interpolation() gocv.InterpolationFlags { return gocv.InterpolationCubic }

// PolicyFixedWidth resizes to Width and scales the height to keep the aspect
// ratio, rounding down. Used by descriptor retrieval; shapes differ between
// images.
type PolicyFixedWidth struct {
	Width int
}

func (p PolicyFixedWidth) Name() string { return fmt.Sprintf("width-%d", p.Width) }

func (p PolicyFixedWidth) Target(w, h int) (int, int) {
	nh := h * p.Width / w
	if nh < 1 {
		nh = 1
	}
	return p.Width, nh
}

func (p PolicyFixedWidth) Interpolation() gocv.InterpolationFlags { return gocv.InterpolationLinear }

// PolicyNative keeps the decoded size. Used by perceptual hashes, which
// normalize their input themselves.
type PolicyNative struct{}

func (PolicyNative) Name() string { return "native" }

func (PolicyNative) Target(w, h int) (int, int) { return w, h }

func (PolicyNative) Interpolation() gocv.InterpolationFlags { return gocv.InterpolationLinear }

// LoaderOptions defines the options for batch loading
type LoaderOptions struct {
	Workers  int
	Logger   *logging.Logger
	Echo     bool
	Registry *ImageLoaderRegistry
}

// Loader turns files into canonical image records
type Loader struct {
	policy   Policy
	registry *ImageLoaderRegistry
	workers  int
	log      *logging.Logger
	echo     bool
}

// LoadFailure records a file that could not be loaded
type LoadFailure struct {
	Path string
	Err  error
}

// LoadReport summarizes a batch load
type LoadReport struct {
	Requested int
	Loaded    int
	Failures  []LoadFailure
}

// NewLoader creates a loader applying the given policy
func NewLoader(policy Policy, opts LoaderOptions) *Loader {
	workers := opts.Workers
	if workers <= 0 {
		workers = signalhandler.GetOptimalProcs()
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	registry := opts.Registry
	if registry == nil {
		registry = NewImageLoaderRegistry()
	}
	return &Loader{policy: policy, registry: registry, workers: workers, log: log, echo: opts.Echo}
}

// Policy returns the canonicalization policy of the loader
func (l *Loader) Policy() Policy {
	return l.policy
}

// Load decodes and canonicalizes one file
func (l *Loader) Load(path string) (types.ImageRecord, error) {
	if l.echo {
		l.log.Print(logging.TagCreate, "Loading image "+path, true)
	}

	mat, err := l.registry.LoadImage(path)
	if err != nil {
		return types.ImageRecord{}, err
	}
	defer mat.Close()

	img, err := l.Canonicalize(mat)
	if err != nil {
		return types.ImageRecord{}, fmt.Errorf("%s: %w", path, err)
	}

	return types.ImageRecord{Path: path, Name: filepath.Base(path), Image: img}, nil
}

// Canonicalize resizes a decoded Mat according to the policy and copies it
// into a canonical image
func (l *Loader) Canonicalize(mat gocv.Mat) (types.Image, error) {
	w, h := l.policy.Target(mat.Cols(), mat.Rows())
	if w <= 0 || h <= 0 {
		return types.Image{}, fmt.Errorf("%w: policy %s gives %dx%d", types.ErrImageLoad, l.policy.Name(), w, h)
	}
	if w == mat.Cols() && h == mat.Rows() {
		return FromMat(mat)
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(mat, &resized, image.Pt(w, h), 0, 0, l.policy.Interpolation())

	return FromMat(resized)
}

// LoadAll loads paths on a bounded pool and returns the loaded records in
// input order. Files that fail are logged, skipped and listed in the report.
// On cancellation the records loaded so far are returned with an error
// wrapping types.ErrIncomplete.
func (l *Loader) LoadAll(ctx context.Context, paths []string) ([]types.ImageRecord, *LoadReport, error) {
	report := &LoadReport{Requested: len(paths)}

	type result struct {
		rec types.ImageRecord
		err error
	}
	results := make([]result, len(paths))

	var g errgroup.Group
	g.SetLimit(l.workers)

	launched := 0
	var cancelErr error
	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			cancelErr = err
			break
		}
		g.Go(func() error {
			rec, err := l.Load(p)
			results[i] = result{rec: rec, err: err}
			return nil
		})
		launched++
	}
	_ = g.Wait()

	records := make([]types.ImageRecord, 0, launched)
	for i := 0; i < launched; i++ {
		if err := results[i].err; err != nil {
			report.Failures = append(report.Failures, LoadFailure{Path: paths[i], Err: err})
			metrics.ImagesLoadedTotal.WithLabelValues("failed").Inc()
			l.log.Printf(logging.TagFail, "%v", err)
			continue
		}
		records = append(records, results[i].rec)
		metrics.ImagesLoadedTotal.WithLabelValues("ok").Inc()
	}
	report.Loaded = len(records)

	if cancelErr != nil {
		return records, report, types.Incomplete(cancelErr)
	}
	if len(report.Failures) > 0 {
		l.log.Printf(logging.TagWarning, "%d of %d images could not be loaded", len(report.Failures), len(paths))
	}
	l.log.Printf(logging.TagDone, "%d images loaded (%s)", report.Loaded, l.policy.Name())
	return records, report, nil
}
