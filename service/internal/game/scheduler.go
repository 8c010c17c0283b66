package game

import (
	"sync"
	"time"
)

// Scheduler runs delayed callbacks for a controller. Callbacks run with the
// controller's lock held and only while the scheduler's epoch is unchanged,
// so Invalidate turns every pending callback into a no-op even when its
// timer has already fired and is waiting for the lock.
//
// After, Every and Invalidate must be called with the controller's lock held.
type Scheduler struct {
	lock    sync.Locker
	release func() // unlocks the controller; may flush queued work first

	epoch  uint64
	nextID uint64
	timers map[uint64]*time.Timer
}

// NewScheduler returns a scheduler bound to lock. release is called instead
// of lock.Unlock after a callback runs; nil means lock.Unlock.
func NewScheduler(lock sync.Locker, release func()) *Scheduler {
	if release == nil {
		release = lock.Unlock
	}
	return &Scheduler{lock: lock, release: release, timers: make(map[uint64]*time.Timer)}
}

// After runs fn once after d.
func (s *Scheduler) After(d time.Duration, fn func()) {
	s.arm(d, s.epoch, func() bool { fn(); return false })
}

// Every runs fn every d until it returns false or the scheduler is
// invalidated.
func (s *Scheduler) Every(d time.Duration, fn func() bool) {
	s.arm(d, s.epoch, fn)
}

func (s *Scheduler) arm(d time.Duration, epoch uint64, fn func() bool) {
	s.nextID++
	id := s.nextID
	s.timers[id] = time.AfterFunc(d, func() {
		s.lock.Lock()
		defer s.release()
		if s.epoch != epoch {
			return
		}
		delete(s.timers, id)
		if fn() && s.epoch == epoch {
			s.arm(d, epoch, fn)
		}
	})
}

// Invalidate stops every pending callback.
func (s *Scheduler) Invalidate() {
	s.epoch++
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// Pending returns the number of armed callbacks.
func (s *Scheduler) Pending() int { return len(s.timers) }
