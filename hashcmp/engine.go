package hashcmp

import (
	"context"
	"fmt"
	"sync"

	"imgcompare/compare"
	"imgcompare/logging"
	"imgcompare/metrics"
	"imgcompare/signalhandler"
	"imgcompare/types"
)

// Options defines the options for hash comparisons
type Options struct {
	Workers int
	Logger  *logging.Logger
	Echo    bool
}

// Engine runs best-match searches and full distance matrices
type Engine struct {
	registry *Registry
	grid     *compare.Engine
	workers  int
	log      *logging.Logger
	echo     bool
}

// Match is the best candidate found for one query image. Found is false when
// no candidate was eligible; Err is set when the query image itself could not
// be hashed.
type Match struct {
	Query     string
	Candidate string
	Distance  float64
	Found     bool
	Err       error
}

// HashFailure records an image that was omitted because hashing failed
type HashFailure struct {
	Dataset int
	Index   int
	Name    string
	Err     error
}

func (f HashFailure) Error() string {
	return fmt.Sprintf("dataset %d image %d (%s): %v", f.Dataset, f.Index, f.Name, f.Err)
}

func (f HashFailure) Unwrap() error {
	return f.Err
}

// Report lists the omissions of a hash run
type Report struct {
	HashFailures    []HashFailure
	CompareFailures int
}

// Failed returns the total number of omitted images and failed comparisons
func (r *Report) Failed() int {
	return len(r.HashFailures) + r.CompareFailures
}

// BestMatchResult holds one Match per query image, in query order
type BestMatchResult struct {
	Strategy Name
	Matches  []Match
	Report   Report
	Complete bool
}

// NewEngine creates a hash engine backed by the registry
func NewEngine(registry *Registry, opts Options) *Engine {
	workers := opts.Workers
	if workers <= 0 {
		workers = signalhandler.GetOptimalProcs()
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Engine{
		registry: registry,
		grid:     compare.NewEngine(compare.Options{Workers: workers, Logger: log, Echo: opts.Echo}),
		workers:  workers,
		log:      log,
		echo:     opts.Echo,
	}
}

type hashed struct {
	code Code
	err  error
}

// FindBestMatches finds, for every image of d1, the image of d2 with the
// smallest hash distance. Candidates are scanned in d2 order and a later
// candidate replaces the current one only when strictly closer, so the first
// minimum wins. With excludeIdentical, candidates named like the query are
// skipped.
func (e *Engine) FindBestMatches(ctx context.Context, d1, d2 []types.ImageRecord, name string, excludeIdentical bool) (*BestMatchResult, error) {
	strategy, h, err := e.registry.Lookup(name)
	if err != nil {
		return nil, err
	}

	if err := validate(d1, d2); err != nil {
		return nil, err
	}

	res := &BestMatchResult{Strategy: strategy, Matches: make([]Match, 0, len(d1))}

	codes1, err := e.hashAll(ctx, strategy, h, 1, d1, &res.Report)
	if err != nil {
		return res, err
	}
	codes2, err := e.hashAll(ctx, strategy, h, 2, d2, &res.Report)
	if err != nil {
		return res, err
	}

	for i, q := range d1 {
		if err := ctx.Err(); err != nil {
			e.log.Printf(logging.TagWarning, "%s: cancelled after %d/%d queries", strategy, i, len(d1))
			return res, types.Incomplete(err)
		}

		m := Match{Query: q.Name}
		if codes1[i].err != nil {
			m.Err = codes1[i].err
			res.Matches = append(res.Matches, m)
			continue
		}

		for j, c := range d2 {
			if excludeIdentical && c.Name == q.Name {
				continue
			}
			if codes2[j].err != nil {
				continue
			}

			d, err := h.Compare(codes1[i].code, codes2[j].code)
			if err != nil {
				res.Report.CompareFailures++
				e.log.Debug("%s: compare %s with %s: %v", strategy, q.Name, c.Name, err)
				continue
			}
			if e.echo {
				e.log.Print(logging.TagLog, fmt.Sprintf("Compare [%s - %s]:", q.Name, c.Name), true)
				e.log.Print(logging.TagNone, fmt.Sprintf("%v", d), false)
			}
			if !m.Found || d < m.Distance {
				m.Candidate = c.Name
				m.Distance = d
				m.Found = true
			}
		}

		if !m.Found {
			e.log.Debug("%s: no eligible candidate for %s", strategy, q.Name)
		}
		res.Matches = append(res.Matches, m)
	}

	res.Complete = true
	e.summarize(strategy, &res.Report)
	return res, nil
}

// FullMatrix computes the distance between every pair of images without
// exclusion. Images whose hash failed are omitted: their cells are Absent
// and carry the hashing error, and they are listed in the report.
func (e *Engine) FullMatrix(ctx context.Context, d1, d2 []types.ImageRecord, name string) (*types.Matrix, *Report, error) {
	strategy, h, err := e.registry.Lookup(name)
	if err != nil {
		return nil, nil, err
	}

	if err := validate(d1, d2); err != nil {
		return nil, nil, err
	}

	report := &Report{}
	codes1, err := e.hashAll(ctx, strategy, h, 1, d1, report)
	if err != nil {
		return types.NewMatrix(types.Identities(d1), types.Identities(d2)), report, err
	}
	codes2, err := e.hashAll(ctx, strategy, h, 2, d2, report)
	if err != nil {
		return types.NewMatrix(types.Identities(d1), types.Identities(d2)), report, err
	}

	var mu sync.Mutex
	m, err := e.grid.Grid(ctx, string(strategy), types.Identities(d1), types.Identities(d2), func(i, j int) types.Cell {
		if codes1[i].err != nil {
			return types.Cell{Absent: true, Err: codes1[i].err}
		}
		if codes2[j].err != nil {
			return types.Cell{Absent: true, Err: codes2[j].err}
		}
		d, err := h.Compare(codes1[i].code, codes2[j].code)
		if err != nil {
			mu.Lock()
			report.CompareFailures++
			mu.Unlock()
		}
		return types.Cell{Value: d, Err: err}
	})
	if err != nil {
		return m, report, err
	}

	e.summarize(strategy, report)
	return m, report, nil
}

// hashAll computes the code of every record once on a bounded pool. Failed
// images are recorded in the report and keep their error in the returned
// slot.
func (e *Engine) hashAll(ctx context.Context, strategy Name, h Hasher, dataset int, records []types.ImageRecord, report *Report) ([]hashed, error) {
	out := make([]hashed, len(records))

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, e.workers)

	for i := range records {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return out, types.Incomplete(err)
		}

		wg.Add(1)
		semaphore <- struct{}{}

		go func(i int) {
			defer wg.Done()
			defer func() { <-semaphore }()
			out[i] = computeCode(strategy, h, records[i].Image)
		}(i)
	}
	wg.Wait()

	for i, r := range records {
		if out[i].err == nil {
			continue
		}
		f := HashFailure{Dataset: dataset, Index: i, Name: r.Name, Err: out[i].err}
		out[i].err = f
		report.HashFailures = append(report.HashFailures, f)
		metrics.HashFailuresTotal.WithLabelValues(string(strategy)).Inc()
		e.log.Printf(logging.TagFail, "%s: skipping %s: %v", strategy, r.Name, f.Err)
	}
	return out, nil
}

func computeCode(strategy Name, h Hasher, img types.Image) (res hashed) {
	defer func() {
		if r := recover(); r != nil {
			res = hashed{err: fmt.Errorf("hash panicked: %v", r)}
		}
	}()

	code, err := h.Compute(img)
	if err != nil {
		return hashed{err: err}
	}
	if code.Strategy == "" {
		code.Strategy = strategy
	}
	return hashed{code: code}
}

func (e *Engine) summarize(strategy Name, r *Report) {
	if r.Failed() == 0 {
		return
	}
	e.log.Printf(logging.TagWarning, "%s: %d images could not be hashed, %d comparisons failed",
		strategy, len(r.HashFailures), r.CompareFailures)
}

func validate(datasets ...[]types.ImageRecord) error {
	for _, records := range datasets {
		for _, r := range records {
			if err := r.Image.Validate(); err != nil {
				return fmt.Errorf("image %s: %w", r.Path, err)
			}
		}
	}
	return nil
}

// Answers converts the matches for export and storage
func (r *BestMatchResult) Answers() []types.Answer {
	out := make([]types.Answer, len(r.Matches))
	for i, m := range r.Matches {
		out[i] = types.Answer{Query: m.Query, Candidate: m.Candidate, Score: m.Distance, Found: m.Found, Err: m.Err}
	}
	return out
}
