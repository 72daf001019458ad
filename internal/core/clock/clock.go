// Package clock provides cancellable timers behind an interface so that
// heartbeat, reconnect and scripted delivery can run on virtual time in tests.
package clock

import (
	"sync"
	"time"
)

// Task is a scheduled callback. Stop reports whether the call prevented a
// future run; it is safe to call repeatedly. Manual never runs a task after
// Stop. Wall does not wait: a run already past its stop check may still be
// executing when Stop returns, so callbacks re-check their own state.
type Task interface {
	Stop() bool
}

// Scheduler creates one-shot and repeating tasks.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Task
	Every(d time.Duration, fn func()) Task
}

// Wall schedules on the runtime timer heap.
type Wall struct{}

var _ Scheduler = Wall{}

func (Wall) Now() time.Time { return time.Now() }

func (Wall) AfterFunc(d time.Duration, fn func()) Task {
	return &wallTask{timer: time.AfterFunc(d, fn)}
}

func (Wall) Every(d time.Duration, fn func()) Task {
	t := &tickerTask{done: make(chan struct{})}
	ticker := time.NewTicker(d)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				select {
				case <-t.done:
					return
				default:
				}
				fn()
			case <-t.done:
				return
			}
		}
	}()
	return t
}

type wallTask struct {
	timer *time.Timer
}

func (t *wallTask) Stop() bool { return t.timer.Stop() }

type tickerTask struct {
	once sync.Once
	done chan struct{}
}

func (t *tickerTask) Stop() bool {
	stopped := false
	t.once.Do(func() {
		close(t.done)
		stopped = true
	})
	return stopped
}
