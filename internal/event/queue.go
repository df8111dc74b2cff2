package event

import "sync"

// task is a deferred dispatch thunk closing over an already-resolved
// event and its matched-handler snapshot.
type task func()

// scheduler buffers deferred work in four FIFO lists, one per tier,
// and drains them on a dedicated per-bus goroutine. Work enqueued
// while a flush is running is not executed in that flush; it seeds the
// next one, which bounds recursion when a handler itself emits.
type scheduler struct {
	mu     sync.Mutex
	work   *sync.Cond
	idle   *sync.Cond
	tiers  [numTiers][]task
	busy   bool
	closed bool

	// onPanic is invoked with the recovered value when a task panics.
	onPanic func(recovered any)

	done chan struct{}
}

func newScheduler(onPanic func(any)) *scheduler {
	s := &scheduler{
		onPanic: onPanic,
		done:    make(chan struct{}),
	}
	s.work = sync.NewCond(&s.mu)
	s.idle = sync.NewCond(&s.mu)
	go s.run()
	return s
}

// schedule appends a thunk to the tier's FIFO list and wakes the drain
// goroutine if it is waiting.
func (s *scheduler) schedule(tier Priority, t task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.tiers[tier] = append(s.tiers[tier], t)
	s.work.Signal()
}

// run is the single-consumer drain loop: one flush per wakeup, all
// four lists tier-by-tier to completion.
func (s *scheduler) run() {
	defer close(s.done)

	for {
		s.mu.Lock()
		for s.empty() && !s.closed {
			s.idle.Broadcast()
			s.work.Wait()
		}
		if s.closed && s.empty() {
			s.idle.Broadcast()
			s.mu.Unlock()
			return
		}

		var batch [numTiers][]task
		for tier := range s.tiers {
			batch[tier] = s.tiers[tier]
			s.tiers[tier] = nil
		}
		s.busy = true
		s.mu.Unlock()

		for tier := 0; tier < numTiers; tier++ {
			for _, t := range batch[tier] {
				s.runTask(t)
			}
		}

		s.mu.Lock()
		s.busy = false
		if s.empty() {
			s.idle.Broadcast()
		}
		s.mu.Unlock()
	}
}

// runTask executes one thunk, containing panics.
func (s *scheduler) runTask(t task) {
	defer func() {
		if r := recover(); r != nil && s.onPanic != nil {
			s.onPanic(r)
		}
	}()
	t()
}

// empty reports whether all tier lists are drained. Caller holds mu.
func (s *scheduler) empty() bool {
	for _, list := range s.tiers {
		if len(list) > 0 {
			return false
		}
	}
	return true
}

// depth returns the number of queued thunks.
func (s *scheduler) depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, list := range s.tiers {
		n += len(list)
	}
	return n
}

// drain blocks until the queue is empty and no flush is running.
func (s *scheduler) drain() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for !(s.empty() && !s.busy) {
		if s.closed {
			break
		}
		s.idle.Wait()
	}
}

// clear drops all pending thunks without executing them.
func (s *scheduler) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for tier := range s.tiers {
		s.tiers[tier] = nil
	}
	if !s.busy {
		s.idle.Broadcast()
	}
}

// close stops the drain goroutine after the current flush and any
// already-queued work completes.
func (s *scheduler) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.work.Broadcast()
	s.mu.Unlock()

	<-s.done
}
