package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/raphaelgruber/ingestor/internal/ingest"
)

// plainReporter prints one line per event for logs and pipes.
// Registry updates are printed only when the percentage changes.
type plainReporter struct {
	w           io.Writer
	lastPercent int
	now         func() time.Time
}

func newPlainReporter(w io.Writer) *plainReporter {
	return &plainReporter{w: w, lastPercent: -1, now: time.Now}
}

// Observe implements ingest.Observer.
func (r *plainReporter) Observe(ev ingest.Event) {
	ts := r.now().Format("15:04:05")
	switch ev.Kind {
	case ingest.EventBatchStarted:
		b := ev.Batch
		fmt.Fprintf(r.w, "%s batch %d/%d uploading %d files (%s) starting with %s\n",
			ts, b.Index+1, b.Total, b.Items, humanize.Bytes(uint64(b.Bytes)), b.Name)

	case ingest.EventBatchFinished:
		b := ev.Batch
		line := fmt.Sprintf("%s batch %d/%d sent: %d accepted", ts, b.Index+1, b.Total, b.Accepted)
		if b.Unsubmitted > 0 {
			line += fmt.Sprintf(", %d unsubmitted", b.Unsubmitted)
		}
		if b.Congested {
			line += " (backend busy)"
		}
		fmt.Fprintln(r.w, line)

	case ingest.EventRegistryUpdated:
		if ev.Progress == nil || ev.Progress.Percent == r.lastPercent {
			return
		}
		r.lastPercent = ev.Progress.Percent
		p := ev.Progress
		fmt.Fprintf(r.w, "%s progress %d%% (%d/%d jobs finished, %d processing)\n",
			ts, p.Percent, p.Terminal, p.Accepted, p.Pending)

	case ingest.EventAnomaly:
		fmt.Fprintf(r.w, "%s warning: %s\n", ts, describeAnomaly(*ev.Anomaly))

	case ingest.EventPauseChanged:
		state := "resumed"
		if ev.Paused {
			state = "paused"
		}
		fmt.Fprintf(r.w, "%s uploads %s\n", ts, state)
	}
}
