package ingest

import (
	"github.com/raphaelgruber/ingestor/internal/models"
)

// Progress is the derived view of a registry snapshot.
type Progress struct {
	Percent  int                     // 0..100, 100 only when every job is terminal
	Accepted int                     // Jobs registered
	Terminal int                     // Jobs done or unknown
	Pending  int                     // Jobs still polled
	Slow     int                     // Pending jobs past the slow threshold
	PerState map[models.JobState]int // Always holds all four states
	PerStage map[string]int          // Processing jobs by raw stage label, other jobs by state name
}

// Aggregate derives progress from a snapshot. It is a pure function.
//
// Percent is round(100 * terminal / accepted), except that it is held at 99 until the last
// job is terminal, so 100 always means complete.
func Aggregate(s *Snapshot) Progress {
	p := Progress{
		PerState: make(map[models.JobState]int, len(models.JobStates)),
		PerStage: make(map[string]int),
	}
	for _, state := range models.JobStates {
		p.PerState[state] = 0
	}
	if s == nil {
		return p
	}

	for _, job := range s.Jobs {
		p.Accepted++
		p.PerState[job.State]++

		stage := string(job.State)
		if job.State == models.JobStateProcessing && job.Stage != "" {
			stage = job.Stage
		}
		p.PerStage[stage]++

		if job.State.IsTerminal() {
			p.Terminal++
			continue
		}
		p.Pending++
		if job.Slow {
			p.Slow++
		}
	}

	p.Percent = percent(p.Terminal, p.Accepted)
	return p
}

func percent(terminal, accepted int) int {
	if accepted <= 0 {
		return 0
	}
	pct := (200*terminal + accepted) / (2 * accepted) // round half up
	if pct >= 100 && terminal < accepted {
		return 99
	}
	return min(pct, 100)
}
