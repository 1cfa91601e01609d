package connection

import (
	"sync"
	"time"
)

// CancelFunc cancels a scheduled callback. Safe to call more than once;
// cancelling does not interrupt a callback that is already running.
type CancelFunc func()

// Scheduler provides cancellable delayed and periodic callbacks. The
// Supervisor takes all of its timers from here so tests can drive the
// state machine on simulated time.
type Scheduler interface {
	// After runs fn once after d.
	After(d time.Duration, fn func()) CancelFunc

	// Every runs fn repeatedly with period d until cancelled.
	Every(d time.Duration, fn func()) CancelFunc
}

// SystemScheduler returns a Scheduler backed by the runtime clock.
func SystemScheduler() Scheduler {
	return systemScheduler{}
}

type systemScheduler struct{}

func (systemScheduler) After(d time.Duration, fn func()) CancelFunc {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

func (systemScheduler) Every(d time.Duration, fn func()) CancelFunc {
	ticker := time.NewTicker(d)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}
