// Package scheduler wraps gocron into the single periodic-job runner shared
// by the load monitor and the attention tracker's stale sweep, matching
// the teacher's internal/taskManager convention of one scheduler per
// process. Sensor workers do not use it; each runs its idle check on its
// own time.Ticker.
package scheduler

import (
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/adiibanez/sensocto/pkg/log"
)

var s gocron.Scheduler

// Start creates and starts the shared scheduler. Must be called once
// before RegisterEvery.
func Start() error {
	var err error
	s, err = gocron.NewScheduler()
	if err != nil {
		return err
	}
	s.Start()
	return nil
}

// Shutdown stops the scheduler and waits for in-flight jobs to finish.
func Shutdown() {
	if s == nil {
		return
	}
	if err := s.Shutdown(); err != nil {
		log.Warnf("scheduler: shutdown: %v", err)
	}
}

// RegisterEvery schedules fn to run every d, starting after the first
// interval elapses. The job is not handed back to the caller, so it
// cannot be unregistered; the scheduler stops every job on Shutdown.
func RegisterEvery(name string, d time.Duration, fn func()) error {
	_, err := s.NewJob(
		gocron.DurationJob(d),
		gocron.NewTask(fn),
		gocron.WithName(name),
	)
	if err != nil {
		log.Errorf("scheduler: register %s: %v", name, err)
		return err
	}
	return nil
}
