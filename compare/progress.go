package compare

import (
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"imgcompare/logging"
)

// ProgressTracker tracks finished rows of a matrix computation
type ProgressTracker struct {
	log       *logging.Logger
	label     string
	total     int
	processed int
	started   time.Time
	ticker    *time.Ticker
	done      chan struct{}
	stopOnce  sync.Once
	mu        sync.Mutex
}

// NewProgressTracker starts a tracker that reports every 500ms
func NewProgressTracker(log *logging.Logger, label string, total int) *ProgressTracker {
	tracker := &ProgressTracker{
		log:     log,
		label:   label,
		total:   total,
		started: time.Now(),
		ticker:  time.NewTicker(500 * time.Millisecond),
		done:    make(chan struct{}),
	}

	go tracker.displayProgress()

	return tracker
}

// RowDone records one finished row
func (p *ProgressTracker) RowDone() {
	p.mu.Lock()
	p.processed++
	p.mu.Unlock()
}

// Processed returns the number of finished rows
func (p *ProgressTracker) Processed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processed
}

func (p *ProgressTracker) displayProgress() {
	for {
		select {
		case <-p.done:
			return
		case <-p.ticker.C:
			p.log.Printf(logging.TagStatus, "%s: %d/%d rows (started %s)",
				p.label, p.Processed(), p.total, humanize.Time(p.started))
		}
	}
}

// Stop ends the progress display. It is safe to call more than once.
func (p *ProgressTracker) Stop() {
	p.stopOnce.Do(func() {
		p.ticker.Stop()
		close(p.done)
	})
}
