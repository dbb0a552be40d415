package trainer

import (
	"fmt"
	"io"
	"time"
)

// Timer measures one training run's wall-clock time. Start must precede
// Report; there is no baseline otherwise. Single run, no locking.
type Timer struct {
	start time.Time
}

func (t *Timer) Start() {
	t.start = time.Now()
}

func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// Report prints "<label> = X.XXX sec" to w and returns the elapsed time.
func (t *Timer) Report(w io.Writer, label string) time.Duration {
	elapsed := time.Since(t.start)
	fmt.Fprintf(w, "%s = %.3f sec\n", label, elapsed.Seconds())
	return elapsed
}
