// Package periodic drives the engine's fixed-interval background loops
// (scheduler, webhook pipeline, reaper) on top of robfig/cron's scheduler,
// the same cron engine the reference orchestrator wraps for its own
// recurring work — here repurposed for internal "@every" ticks rather than
// user-facing cron-expression scheduling.
package periodic

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Loop runs fn on a fixed interval until Stop is called.
type Loop struct {
	cron *cron.Cron
}

// NewLoop schedules fn to run every interval; the first run happens one
// interval after NewLoop returns. A run
// that is still in flight when the next tick fires is skipped rather than
// overlapped, so a slow tick (e.g. a webhook delivery sweep blocked on a
// down endpoint) can't fire fn twice concurrently for the same backlog.
func NewLoop(interval time.Duration, fn func()) (*Loop, error) {
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	spec := fmt.Sprintf("@every %s", interval)
	if _, err := c.AddFunc(spec, fn); err != nil {
		return nil, fmt.Errorf("schedule periodic loop: %w", err)
	}
	c.Start()
	return &Loop{cron: c}, nil
}

// Stop halts further scheduling and waits, without a time limit, for any
// run of fn already in flight to finish.
func (l *Loop) Stop() {
	<-l.cron.Stop().Done()
}
