package clock

import (
	"sort"
	"sync"
	"time"
)

// Manual is a virtual clock. Tasks only run from Advance, on the caller's
// goroutine, in deadline order (ties in scheduling order).
type Manual struct {
	mu    sync.Mutex
	now   time.Time
	seq   uint64
	tasks []*manualTask
}

var _ Scheduler = (*Manual)(nil)

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

type manualTask struct {
	clock    *Manual
	id       uint64
	at       time.Time
	interval time.Duration
	fn       func()
	stopped  bool
}

func (t *manualTask) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	t.clock.remove(t)
	return true
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) AfterFunc(d time.Duration, fn func()) Task {
	return m.schedule(d, 0, fn)
}

func (m *Manual) Every(d time.Duration, fn func()) Task {
	if d <= 0 {
		d = time.Nanosecond
	}
	return m.schedule(d, d, fn)
}

func (m *Manual) schedule(d, interval time.Duration, fn func()) *manualTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTask{clock: m, id: m.seq, at: m.now.Add(d), interval: interval, fn: fn}
	m.tasks = append(m.tasks, t)
	return t
}

// Pending is the number of tasks that have not run or been stopped.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Advance moves virtual time forward by d, running every task that becomes
// due. Tasks scheduled by running tasks are honoured if they fall inside the
// window.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		next := m.nextDue(target)
		if next == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		m.now = next.at
		if next.interval > 0 {
			next.at = next.at.Add(next.interval)
		} else {
			next.stopped = true
			m.remove(next)
		}
		fn := next.fn
		m.mu.Unlock()

		fn()
	}
}

func (m *Manual) nextDue(target time.Time) *manualTask {
	if len(m.tasks) == 0 {
		return nil
	}
	sort.SliceStable(m.tasks, func(i, j int) bool {
		if m.tasks[i].at.Equal(m.tasks[j].at) {
			return m.tasks[i].id < m.tasks[j].id
		}
		return m.tasks[i].at.Before(m.tasks[j].at)
	})
	if m.tasks[0].at.After(target) {
		return nil
	}
	return m.tasks[0]
}

func (m *Manual) remove(t *manualTask) {
	for i, candidate := range m.tasks {
		if candidate == t {
			m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
			return
		}
	}
}
