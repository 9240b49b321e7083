// services/scheduler.go
package services

import (
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartTimeoutScheduler runs the timeout sweep on a recurring cadence.
// The sweep itself is a single pass; the schedule lives out here so the
// lifecycle code stays free of timing concerns.
func (s *MatchService) StartTimeoutScheduler() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	// Every hour: force-cancel matches stuck past the deadline
	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Hour),
		gocron.NewTask(func() {
			cancelled, err := s.SweepTimedOutMatches(MatchTimeoutDeadline)
			if err != nil {
				log.Printf("[Scheduler] timeout sweep failed: %v", err)
				return
			}
			if cancelled > 0 {
				log.Printf("[Scheduler] timeout sweep cancelled %d stalled matches", cancelled)
			}
		}),
	)
}
