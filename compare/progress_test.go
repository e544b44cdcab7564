package compare

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"imgcompare/logging"
)

func TestProgressTrackerCountsConcurrentRows(t *testing.T) {
	tracker := NewProgressTracker(logging.Discard(), "mse", 40)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.RowDone()
		}()
	}
	wg.Wait()

	assert.Equal(t, 40, tracker.Processed())
	tracker.Stop()
	tracker.Stop()
}
