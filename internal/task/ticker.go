package task

import (
	"log"
	"sync"
	"time"

	"github.com/hooksbot/client/internal/model"
)

// diagTicker periodically logs a snapshot of the tracked job. Informational
// only, no state effect. Scoped to one job: the coordinator stops it on
// every transition away from that job so tickers never leak across jobs.
type diagTicker struct {
	stop chan struct{}
	once sync.Once
}

func startDiagTicker(interval time.Duration, snapshot func() model.Job) *diagTicker {
	t := &diagTicker{stop: make(chan struct{})}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				job := snapshot()
				log.Printf("[task] %s state=%s progress=%.2f results=%d bundle=%q",
					job.ID, job.State, job.Progress, len(job.Results), job.BundleRef)
			case <-t.stop:
				return
			}
		}
	}()

	return t
}

// Stop tears the ticker down. Safe to call more than once.
func (t *diagTicker) Stop() {
	t.once.Do(func() { close(t.stop) })
}
