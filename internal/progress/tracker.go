package progress

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Tracker renders migration progress on the terminal.
type Tracker struct {
	bar       *progressbar.ProgressBar
	enabled   bool
	current   atomic.Int64
	startTime time.Time
}

// New creates a tracker. When enabled is false all methods are no-ops
// except the final summary line, which keeps non-interactive runs
// (cron, CI) readable.
func New(enabled bool) *Tracker {
	return &Tracker{
		enabled:   enabled,
		startTime: time.Now(),
	}
}

// SetTotal sets the total number of rows to migrate and starts the bar.
func (t *Tracker) SetTotal(total int64) {
	if !t.enabled {
		return
	}
	t.bar = progressbar.NewOptions64(
		total,
		progressbar.OptionSetDescription("Migrating"),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("rows"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Add increments the row counter.
func (t *Tracker) Add(n int64) {
	t.current.Add(n)
	if t.bar != nil {
		t.bar.Add64(n)
	}
}

// Current returns the rows counted so far.
func (t *Tracker) Current() int64 {
	return t.current.Load()
}

// Finish closes the bar and prints a throughput summary.
func (t *Tracker) Finish() {
	if t.bar != nil {
		t.bar.Finish()
		fmt.Println()
	}

	elapsed := time.Since(t.startTime)
	if elapsed <= 0 || t.current.Load() == 0 {
		return
	}
	rowsPerSec := float64(t.current.Load()) / elapsed.Seconds()
	fmt.Printf("Migrated %d rows in %s (%.0f rows/sec)\n",
		t.current.Load(), elapsed.Round(time.Second), rowsPerSec)
}
