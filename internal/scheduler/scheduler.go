// Package scheduler is the control loop of the resource manager. It resolves
// each request to a backend, runs VRAM admission and LRU eviction for local
// ones, queues requests when nothing is evictable, and reacts to supervisor
// lifecycle events. All ledger mutations and instance bookkeeping happen under
// one mutex; request bodies stream fully in parallel outside it.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/ledger"
	"inferd/internal/registry"
	"inferd/internal/router"
	"inferd/internal/supervisor"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxQueueDepth = 32
	defaultTimeout       = 30 * time.Second
	defaultSweepInterval = 15 * time.Second
	defaultDrainTimeout  = 10 * time.Second
)

// Config encapsulates scheduler tunables.
type Config struct {
	// MaxQueueDepth bounds the admission wait queue per backend.
	MaxQueueDepth int
	// DefaultTimeout applies when a request carries no timeout. It bounds the
	// admission wait and the dispatched call independently.
	DefaultTimeout time.Duration
	// SweepInterval between idle-eviction passes.
	SweepInterval time.Duration
	// DrainTimeout bounds the in-flight drain during shutdown.
	DrainTimeout time.Duration
}

// localInstance is the scheduler's bookkeeping for one loaded (or loading)
// local backend. One instance per descriptor.
type localInstance struct {
	backend  string
	desc     registry.Descriptor
	inst     *supervisor.Instance
	resID    ledger.ReservationID
	vram     int64
	lastUsed time.Time
	inflight int
	evicting bool
	crashed  bool

	// loading is true from reservation until the launch settles. loadErr is
	// written before loadDone is closed and surfaces the failure to followers.
	loading  bool
	loadDone chan struct{}
	loadErr  error
}

// waiter is one queued admission request. Strict FIFO per backend: only the
// queue head is woken, and it re-attempts admission under the lock. err is
// written under the scheduler mutex before the kick and delivers a terminal
// failure (launch failure) to queued followers.
type waiter struct {
	enqueued time.Time
	ready    chan struct{}
	err      error
}

type Scheduler struct {
	cfg    Config
	log    zerolog.Logger
	reg    *registry.Registry
	ledger *ledger.Ledger
	sup    *supervisor.Supervisor
	router *router.Router

	mu           sync.Mutex
	instances    map[string]*localInstance // by backend name
	byInstanceID map[string]*localInstance
	queues       map[string][]*waiter
	closed       bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(cfg Config, reg *registry.Registry, led *ledger.Ledger, sup *supervisor.Supervisor, rtr *router.Router, log zerolog.Logger) *Scheduler {
	if cfg.MaxQueueDepth <= 0 {
		cfg.MaxQueueDepth = defaultMaxQueueDepth
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	s := &Scheduler{
		cfg:          cfg,
		log:          log,
		reg:          reg,
		ledger:       led,
		sup:          sup,
		router:       rtr,
		instances:    make(map[string]*localInstance),
		byInstanceID: make(map[string]*localInstance),
		queues:       make(map[string][]*waiter),
		stopCh:       make(chan struct{}),
	}
	s.wg.Add(2)
	go s.eventLoop()
	go s.sweepLoop()
	return s
}

// acquire grants the caller a dispatch slot on a healthy instance of desc,
// loading or evicting as needed. ctx carries the admission deadline.
func (s *Scheduler) acquire(ctx context.Context, desc registry.Descriptor) (*Grant, error) {
	var w *waiter
	enqueued := false
	defer func() {
		if enqueued {
			s.mu.Lock()
			s.dequeueLocked(desc.Name, w)
			s.mu.Unlock()
		}
	}()

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, shuttingDownError{}
		}

		li := s.instances[desc.Name]
		if li != nil && !li.evicting {
			if li.loading {
				ch := li.loadDone
				s.mu.Unlock()
				select {
				case <-ch:
				case <-ctx.Done():
					return nil, s.admissionErr(ctx, desc.Name, "waiting for launch")
				}
				if err := li.loadErr; err != nil {
					return nil, err
				}
				continue
			}
			switch li.inst.State() {
			case supervisor.StateHealthy:
				li.inflight++
				li.lastUsed = time.Now()
				if enqueued {
					s.dequeueLocked(desc.Name, w)
					enqueued = false
				}
				s.mu.Unlock()
				return s.localGrant(li), nil
			case supervisor.StateFailed, supervisor.StateTerminated:
				// Crash observed before the event loop caught up; clean here.
				s.removeInstanceLocked(li, "stale instance")
			default:
				// Draining; treat as absent so a fresh load can be attempted
				// once capacity frees up.
			}
		}

		// Strict FIFO: with waiters already queued, only the head may attempt
		// admission.
		q := s.queues[desc.Name]
		if len(q) > 0 && (!enqueued || q[0] != w) {
			if !enqueued {
				var err error
				if w, err = s.enqueueLocked(desc.Name); err != nil {
					s.mu.Unlock()
					return nil, err
				}
				enqueued = true
			}
			s.mu.Unlock()
			if err := s.await(ctx, w, desc.Name); err != nil {
				return nil, err
			}
			continue
		}

		if resID, ok := s.ledger.TryReserve(desc.Name, desc.VRAMBytes); ok {
			li = &localInstance{
				backend:  desc.Name,
				desc:     desc,
				resID:    resID,
				vram:     desc.VRAMBytes,
				lastUsed: time.Now(),
				loading:  true,
				loadDone: make(chan struct{}),
			}
			s.instances[desc.Name] = li
			if enqueued {
				s.dequeueLocked(desc.Name, w)
				enqueued = false
			}
			admissionGrantedTotal.WithLabelValues(desc.Name).Inc()
			vramReservedBytes.Set(float64(s.ledger.ReservedBytes()))
			s.mu.Unlock()
			if err := s.launch(li); err != nil {
				return nil, err
			}
			// The initiator's slot is taken inside launch, before followers
			// waiting on loadDone can ride along.
			return s.localGrant(li), nil
		}
		admissionDeniedTotal.WithLabelValues(desc.Name).Inc()

		if victim := s.pickVictimLocked(); victim != nil {
			victim.evicting = true
			s.mu.Unlock()
			s.evict(victim, "admission pressure")
			continue
		}

		// Nothing evictable: every loaded instance is busy. Queue and wait for
		// an in-flight count to hit zero or an eviction to complete.
		if !enqueued {
			var err error
			if w, err = s.enqueueLocked(desc.Name); err != nil {
				s.mu.Unlock()
				return nil, err
			}
			enqueued = true
		}
		s.mu.Unlock()
		if err := s.await(ctx, w, desc.Name); err != nil {
			return nil, err
		}
	}
}

// await blocks until the waiter is kicked or the admission deadline expires.
func (s *Scheduler) await(ctx context.Context, w *waiter, backend string) error {
	select {
	case <-w.ready:
		return w.err
	case <-ctx.Done():
		return s.admissionErr(ctx, backend, "queued")
	case <-s.stopCh:
		return shuttingDownError{}
	}
}

func (s *Scheduler) admissionErr(ctx context.Context, backend, phase string) error {
	if ctx.Err() == context.DeadlineExceeded {
		return admissionTimeoutError{backend: backend, phase: phase}
	}
	return ctx.Err()
}

// launch runs the supervisor launch for a freshly admitted instance. The
// reservation is already held; on failure it is released and the error is
// stored for queued followers before loadDone closes.
func (s *Scheduler) launch(li *localInstance) error {
	inst, err := s.sup.Launch(context.Background(), li.desc)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.ledger.Release(li.resID)
		vramReservedBytes.Set(float64(s.ledger.ReservedBytes()))
		li.loadErr = launchFailedError{backend: li.backend, err: err}
		li.loading = false
		if s.instances[li.backend] == li {
			delete(s.instances, li.backend)
		}
		close(li.loadDone)
		// Queued followers for this backend fail with the same error; waiters
		// on other backends may now fit in the freed capacity.
		for _, w := range s.queues[li.backend] {
			w.err = li.loadErr
			kick(w)
		}
		delete(s.queues, li.backend)
		queueDepth.WithLabelValues(li.backend).Set(0)
		s.kickHeadsLocked()
		return li.loadErr
	}
	li.inst = inst
	li.loading = false
	li.inflight++
	li.lastUsed = time.Now()
	s.byInstanceID[inst.ID] = li
	close(li.loadDone)
	return nil
}

// pickVictimLocked selects the least-recently-used idle healthy instance.
// Ties break by instance identity for determinism. Never interrupts in-flight
// work.
func (s *Scheduler) pickVictimLocked() *localInstance {
	var victim *localInstance
	for _, li := range s.instances {
		if li.loading || li.evicting || li.inflight > 0 || li.inst == nil {
			continue
		}
		if li.inst.State() != supervisor.StateHealthy {
			continue
		}
		if victim == nil ||
			li.lastUsed.Before(victim.lastUsed) ||
			(li.lastUsed.Equal(victim.lastUsed) && li.inst.ID < victim.inst.ID) {
			victim = li
		}
	}
	return victim
}

// evict runs the two-phase eviction protocol: drain/terminate first, release
// the reservation only after the supervisor confirms the process is gone.
func (s *Scheduler) evict(victim *localInstance, cause string) {
	s.log.Info().
		Str("backend", victim.backend).
		Str("cause", cause).
		Msg("evicting instance")
	_ = s.sup.Terminate(context.Background(), victim.inst, true)

	s.mu.Lock()
	s.removeInstanceLocked(victim, cause)
	s.kickHeadsLocked()
	s.mu.Unlock()
	evictionsTotal.WithLabelValues(cause).Inc()
}

// removeInstanceLocked releases the reservation and drops all bookkeeping.
func (s *Scheduler) removeInstanceLocked(li *localInstance, cause string) {
	s.ledger.Release(li.resID)
	vramReservedBytes.Set(float64(s.ledger.ReservedBytes()))
	if s.instances[li.backend] == li {
		delete(s.instances, li.backend)
	}
	if li.inst != nil {
		delete(s.byInstanceID, li.inst.ID)
	}
}

func (s *Scheduler) enqueueLocked(backend string) (*waiter, error) {
	q := s.queues[backend]
	if len(q) >= s.cfg.MaxQueueDepth {
		return nil, resourceExhaustedError{backend: backend, reason: "wait queue full"}
	}
	w := &waiter{enqueued: time.Now(), ready: make(chan struct{}, 1)}
	s.queues[backend] = append(q, w)
	queueDepth.WithLabelValues(backend).Set(float64(len(q) + 1))
	return w, nil
}

// dequeueLocked removes w from its queue. When the head leaves, the next
// waiter is kicked so FIFO progress continues.
func (s *Scheduler) dequeueLocked(backend string, w *waiter) {
	q := s.queues[backend]
	for i, cand := range q {
		if cand != w {
			continue
		}
		q = append(q[:i], q[i+1:]...)
		if len(q) == 0 {
			delete(s.queues, backend)
		} else {
			s.queues[backend] = q
			if i == 0 {
				kick(q[0])
			}
		}
		queueDepth.WithLabelValues(backend).Set(float64(len(q)))
		return
	}
}

// kickHeadsLocked wakes the head waiter of every queue. Capacity may have
// freed for any descriptor, and only heads attempt admission.
func (s *Scheduler) kickHeadsLocked() {
	for _, q := range s.queues {
		if len(q) > 0 {
			kick(q[0])
		}
	}
}

func kick(w *waiter) {
	select {
	case w.ready <- struct{}{}:
	default:
	}
}

// release returns a dispatch slot. A zero in-flight count is an admission
// opportunity for queued requests of other backends.
func (s *Scheduler) release(li *localInstance) {
	s.mu.Lock()
	li.inflight--
	if li.inflight < 0 {
		li.inflight = 0
	}
	li.lastUsed = time.Now()
	if li.inflight == 0 {
		s.kickHeadsLocked()
	}
	s.mu.Unlock()
}

// Close stops accepting work, drains in-flight requests up to the configured
// grace, terminates every instance and releases all reservations. No instance
// is left running after it returns.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	close(s.stopCh)

	// Drain: wait for in-flight counts to reach zero, bounded.
	deadline := time.Now().Add(s.cfg.DrainTimeout)
	for time.Now().Before(deadline) && ctx.Err() == nil {
		s.mu.Lock()
		busy := 0
		for _, li := range s.instances {
			busy += li.inflight
		}
		s.mu.Unlock()
		if busy == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	_ = s.sup.Close(ctx)

	s.mu.Lock()
	for _, li := range s.instances {
		s.ledger.Release(li.resID)
	}
	s.instances = make(map[string]*localInstance)
	s.byInstanceID = make(map[string]*localInstance)
	vramReservedBytes.Set(float64(s.ledger.ReservedBytes()))
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}
