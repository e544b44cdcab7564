// Package compare computes similarity matrices between two ordered image
// collections with any pure strategy function.
package compare

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"imgcompare/logging"
	"imgcompare/metrics"
	"imgcompare/signalhandler"
	"imgcompare/similarity"
	"imgcompare/types"
)

// Options defines the options for matrix computation
type Options struct {
	// Workers bounds the goroutines used for one row. Zero picks a default.
	Workers int
	// Logger receives progress and echo output. Nil discards it.
	Logger *logging.Logger
	// Echo prints every compared pair and its value
	Echo bool
	// Progress periodically prints the number of finished rows
	Progress bool
}

// Engine runs matrix computations. It holds no per-call state and can be
// shared between goroutines.
type Engine struct {
	workers  int
	log      *logging.Logger
	echo     bool
	progress bool
}

// CellFunc produces the cell at (row, col)
type CellFunc func(row, col int) types.Cell

// NewEngine creates an engine with the given options
func NewEngine(opts Options) *Engine {
	workers := opts.Workers
	if workers <= 0 {
		workers = signalhandler.GetOptimalProcs()
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Engine{workers: workers, log: log, echo: opts.Echo, progress: opts.Progress}
}

// Workers returns the size of the per-row worker pool
func (e *Engine) Workers() int {
	return e.workers
}

// ComputeMatrix compares every image of images1 with every image of images2.
// Cell [i][j] holds s(images1[i], images2[j]). A failing pair does not stop
// the computation; its cell carries a *types.CellError instead of a value.
func (e *Engine) ComputeMatrix(ctx context.Context, images1, images2 []types.ImageRecord, s similarity.Strategy) (*types.Matrix, error) {
	if s.Fn == nil {
		return nil, fmt.Errorf("%w: strategy %q has no function", types.ErrInvalidStrategy, s.Name)
	}
	if err := validateRecords(images1); err != nil {
		return nil, err
	}
	if err := validateRecords(images2); err != nil {
		return nil, err
	}

	return e.Grid(ctx, s.Name, types.Identities(images1), types.Identities(images2), func(i, j int) types.Cell {
		v, err := s.Fn(images1[i].Image, images2[j].Image)
		return types.Cell{Value: v, Err: err}
	})
}

// ComputeMatrixByName resolves the strategy name first and fails before any
// work when the name is unknown
func (e *Engine) ComputeMatrixByName(ctx context.Context, images1, images2 []types.ImageRecord, name string) (*types.Matrix, error) {
	s, err := similarity.Parse(name)
	if err != nil {
		return nil, err
	}
	return e.ComputeMatrix(ctx, images1, images2, s)
}

// Grid fills a len(rowIDs) x len(colIDs) matrix by calling cell for every pair.
// Rows run one after another; the cells of a row run on a bounded pool and are
// collected in column order before the row is appended. The context is checked
// before each row. On cancellation the finished rows are returned together
// with an error wrapping types.ErrIncomplete.
func (e *Engine) Grid(ctx context.Context, label string, rowIDs, colIDs []string, cell CellFunc) (*types.Matrix, error) {
	startTime := time.Now()
	m := types.NewMatrix(rowIDs, colIDs)

	var tracker *ProgressTracker
	if e.progress {
		tracker = NewProgressTracker(e.log, label, len(rowIDs))
		defer tracker.Stop()
	}

	for i := range rowIDs {
		if err := ctx.Err(); err != nil {
			metrics.MatrixIncompleteTotal.WithLabelValues(label).Inc()
			e.log.Printf(logging.TagWarning, "%s: cancelled after %d/%d rows", label, i, len(rowIDs))
			return m, types.Incomplete(err)
		}

		row := make([]types.Cell, len(colIDs))
		var wg sync.WaitGroup
		semaphore := make(chan struct{}, e.workers)

		for j := range colIDs {
			wg.Add(1)
			semaphore <- struct{}{}

			go func(j int) {
				defer wg.Done()
				defer func() { <-semaphore }()
				row[j] = runCell(i, j, cell)
			}(j)
		}
		wg.Wait()

		e.recordRow(label, i, m, row)
		m.Cells = append(m.Cells, row)
		if tracker != nil {
			tracker.RowDone()
		}
	}

	m.Complete = true
	metrics.MatrixDurationSeconds.WithLabelValues(label).Observe(time.Since(startTime).Seconds())

	cells := int64(len(rowIDs) * len(colIDs))
	if failed := m.FailureCount(); failed > 0 {
		e.log.Printf(logging.TagWarning, "%s: %s of %s cells failed", label, humanize.Comma(int64(failed)), humanize.Comma(cells))
	} else {
		e.log.Printf(logging.TagDone, "%s: %s cells in %v", label, humanize.Comma(cells), time.Since(startTime).Round(time.Millisecond))
	}
	return m, nil
}

// runCell calls the cell function and turns errors and panics into a
// *types.CellError carrying the coordinate
func runCell(i, j int, cell CellFunc) (c types.Cell) {
	defer func() {
		if r := recover(); r != nil {
			c = types.Cell{
				Value: math.NaN(),
				Err:   &types.CellError{Row: i, Col: j, Err: fmt.Errorf("strategy panicked: %v\n%s", r, debug.Stack())},
			}
		}
	}()

	c = cell(i, j)
	if c.Err != nil {
		if _, ok := c.Err.(*types.CellError); !ok {
			c.Err = &types.CellError{Row: i, Col: j, Err: c.Err}
		}
		c.Value = math.NaN()
	}
	return c
}

func (e *Engine) recordRow(label string, i int, m *types.Matrix, row []types.Cell) {
	var ok, failed float64
	for j, c := range row {
		if c.Err != nil {
			failed++
			e.log.Debug("%s: %v", label, c.Err)
		} else {
			ok++
		}
		if e.echo {
			e.log.Print(logging.TagLog, fmt.Sprintf("Compare [%s - %s]:", m.RowIDs[i], m.ColIDs[j]), true)
			if c.Err != nil {
				e.log.Print(logging.TagFail, c.Err.Error(), false)
			} else {
				e.log.Print(logging.TagNone, fmt.Sprintf("%v", c.Value), false)
			}
		}
	}
	metrics.CellsComputedTotal.WithLabelValues(label, "ok").Add(ok)
	metrics.CellsComputedTotal.WithLabelValues(label, "failed").Add(failed)
}

func validateRecords(records []types.ImageRecord) error {
	for _, r := range records {
		if err := r.Image.Validate(); err != nil {
			return fmt.Errorf("image %s: %w", r.Path, err)
		}
	}
	return nil
}
