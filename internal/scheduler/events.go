package scheduler

import "inferd/internal/supervisor"

// eventLoop consumes the supervisor's ordered transition stream. The
// scheduler never polls process state directly: crashes arrive here, release
// the corresponding reservation and mark the instance so in-flight requests
// fail with a crash error.
func (s *Scheduler) eventLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case ev := <-s.sup.Events():
			s.handleEvent(ev)
		}
	}
}

func (s *Scheduler) handleEvent(ev supervisor.Event) {
	if ev.To != supervisor.StateFailed {
		return
	}
	s.mu.Lock()
	li := s.byInstanceID[ev.InstanceID]
	if li == nil || li.evicting {
		// Unknown (launch-path failure handled inline) or an eviction already
		// in progress; the evicting goroutine owns the cleanup.
		s.mu.Unlock()
		return
	}
	li.crashed = true
	s.removeInstanceLocked(li, "crash")
	s.kickHeadsLocked()
	s.mu.Unlock()

	crashesTotal.WithLabelValues(ev.Backend).Inc()
	s.log.Warn().
		Str("backend", ev.Backend).
		Str("instance", ev.InstanceID).
		Str("cause", ev.Cause).
		Msg("instance crashed, reservation released")
}
