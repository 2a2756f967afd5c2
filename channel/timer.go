package channel

import "time"

// TimerHandle is a cancelable pending callback.
type TimerHandle interface {
	// Cancel stops the callback from firing. It reports whether the cancel
	// happened before the timer fired.
	Cancel() bool
}

// Scheduler schedules delayed callbacks. The channel state machine drives all
// of its forced transitions (idle transport close, no-transports disconnect)
// through this interface.
type Scheduler interface {
	ScheduleAfter(d time.Duration, fn func()) TimerHandle
}

type realScheduler struct{}

type realTimerHandle struct {
	t *time.Timer
}

func (h realTimerHandle) Cancel() bool {
	return h.t.Stop()
}

func (realScheduler) ScheduleAfter(d time.Duration, fn func()) TimerHandle {
	return realTimerHandle{time.AfterFunc(d, fn)}
}

// NewScheduler returns the default wall-clock Scheduler.
func NewScheduler() Scheduler {
	return realScheduler{}
}
