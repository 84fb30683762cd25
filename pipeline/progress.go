package pipeline

import (
	"log/slog"
	"sync"
	"time"
)

type progress struct {
	mu        sync.Mutex
	total     int
	succeeded int
	failed    int
	abandoned int
}

// Progress is a point-in-time view of a run.
type Progress struct {
	Total     int
	Succeeded int
	Failed    int
	Abandoned int
}

// Done is the number of items that reached a terminal outcome.
func (p Progress) Done() int {
	return p.Succeeded + p.Failed + p.Abandoned
}

func (p *progress) reset(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = total
	p.succeeded, p.failed, p.abandoned = 0, 0, 0
}

func (p *progress) record(res taskResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case res.abandoned:
		p.abandoned++
	case res.failure != nil:
		p.failed++
	default:
		p.succeeded++
	}
}

func (p *progress) snapshot() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Progress{
		Total:     p.total,
		Succeeded: p.succeeded,
		Failed:    p.failed,
		Abandoned: p.abandoned,
	}
}

// Progress returns the counters of the current or last run.
func (o *Orchestrator) Progress() Progress {
	return o.progress.snapshot()
}

// StartProgressReporting logs the run counters every interval until the
// returned stop function is called. A non-positive interval disables it.
func (o *Orchestrator) StartProgressReporting(interval time.Duration) (stop func()) {
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				snap := o.Progress()
				slog.Info("progress",
					slog.Int("done", snap.Done()),
					slog.Int("total", snap.Total),
					slog.Int("succeeded", snap.Succeeded),
					slog.Int("failed", snap.Failed),
				)
			case <-done:
				return
			}
		}
	}()
	return func() {
		once.Do(func() { close(done) })
	}
}
