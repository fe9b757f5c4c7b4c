package scheduler

import "time"

// sweepLoop periodically terminates idle healthy instances whose idle
// duration exceeds the descriptor's idle-timeout policy, reclaiming VRAM
// ahead of contention. Descriptors with a zero idle timeout are never swept.
func (s *Scheduler) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepIdle()
		}
	}
}

func (s *Scheduler) sweepIdle() {
	now := time.Now()
	s.mu.Lock()
	var victims []*localInstance
	for _, li := range s.instances {
		if li.loading || li.evicting || li.inflight > 0 || li.inst == nil {
			continue
		}
		if li.desc.IdleTimeout <= 0 {
			continue
		}
		if now.Sub(li.lastUsed) >= li.desc.IdleTimeout {
			li.evicting = true
			victims = append(victims, li)
		}
	}
	s.mu.Unlock()

	for _, li := range victims {
		s.evict(li, "idle timeout")
	}
}
