// Package supervisor owns the OS processes behind local backends. It launches
// them from a descriptor's command template, polls the health probe until the
// instance is healthy, watches for unexpected exits, and guarantees that a
// requested termination always completes.
package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"inferd/internal/registry"
)

const (
	defaultLaunchTimeout = 30 * time.Second
	defaultGracePeriod   = 5 * time.Second
	defaultProbeInterval = 100 * time.Millisecond
	maxProbeInterval     = 2 * time.Second
	stderrTailBytes      = 4096
)

// ProbeFunc checks whether a launched server answers on its health URL.
type ProbeFunc func(ctx context.Context, url string) error

// Config carries supervisor tunables. Zero values use package defaults.
type Config struct {
	// LaunchTimeout bounds spawn-to-healthy unless the descriptor overrides it.
	LaunchTimeout time.Duration
	// GracePeriod between SIGTERM and SIGKILL on termination.
	GracePeriod time.Duration
	// ProbeInterval is the initial health poll interval; it backs off
	// exponentially up to a cap.
	ProbeInterval time.Duration
	// Probe overrides the HTTP health probe. Used by stub runtimes in tests.
	Probe ProbeFunc
}

// Supervisor launches, health-checks and terminates local server processes.
type Supervisor struct {
	cfg        Config
	log        zerolog.Logger
	httpClient *http.Client
	probe      ProbeFunc

	events chan Event

	mu        sync.Mutex
	instances map[string]*Instance
}

func New(cfg Config, log zerolog.Logger) *Supervisor {
	if cfg.LaunchTimeout <= 0 {
		cfg.LaunchTimeout = defaultLaunchTimeout
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = defaultProbeInterval
	}
	s := &Supervisor{
		cfg: cfg,
		log: log,
		// Timeout=0: probes carry their own context deadlines.
		httpClient: &http.Client{Timeout: 0},
		events:     make(chan Event, 1024),
		instances:  make(map[string]*Instance),
	}
	if cfg.Probe != nil {
		s.probe = cfg.Probe
	} else {
		s.probe = s.httpProbe
	}
	return s
}

// Events is the ordered transition stream consumed by the scheduler.
func (s *Supervisor) Events() <-chan Event { return s.events }

// transitionLocked moves inst to a new state and emits the event.
// Caller holds inst.mu.
func (s *Supervisor) transitionLocked(inst *Instance, to State, cause string) {
	from := inst.state
	inst.state = to
	ev := Event{Time: time.Now(), InstanceID: inst.ID, Backend: inst.Backend, From: from, To: to, Cause: cause}
	s.log.Info().
		Str("instance", inst.ID).
		Str("backend", inst.Backend).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("cause", cause).
		Int("pid", inst.pid).
		Msg("instance transition")
	select {
	case s.events <- ev:
	default:
		s.log.Warn().Str("instance", inst.ID).Msg("event channel full, dropping transition event")
	}
}

// Launch spawns the process for desc and blocks until it is healthy or the
// launch timeout elapses. ctx is the supervisor-side lifetime, not a caller
// deadline: a caller that gives up leaves the launch running for followers.
func (s *Supervisor) Launch(ctx context.Context, desc registry.Descriptor) (*Instance, error) {
	if desc.Kind != registry.KindLocal {
		return nil, fmt.Errorf("launch %q: not a local backend", desc.Name)
	}
	host := desc.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port, err := pickFreePort(host)
	if err != nil {
		return nil, fmt.Errorf("launch %q: %w", desc.Name, err)
	}

	inst := &Instance{
		ID:      uuid.NewString(),
		Backend: desc.Name,
		BaseURL: fmt.Sprintf("http://%s:%d", host, port),
		Port:    port,
		state:   StatePendingLaunch,
		done:    make(chan struct{}),
	}

	args := expandCommand(desc.Command, host, port)
	cmd := exec.Command(args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	inst.mu.Lock()
	if err := cmd.Start(); err != nil {
		s.transitionLocked(inst, StateFailed, "spawn: "+err.Error())
		s.transitionLocked(inst, StateTerminated, "")
		inst.mu.Unlock()
		return nil, fmt.Errorf("launch %q: start: %w", desc.Name, err)
	}
	inst.cmd = cmd
	inst.pid = cmd.Process.Pid
	s.transitionLocked(inst, StateStarting, "")
	inst.mu.Unlock()

	s.mu.Lock()
	s.instances[inst.ID] = inst
	s.mu.Unlock()

	go s.watch(inst, &stderr)

	if err := s.awaitHealthy(ctx, inst, desc, &stderr); err != nil {
		return nil, err
	}
	return inst, nil
}

// awaitHealthy polls the health probe with capped exponential backoff until
// success, early process exit, or the launch deadline.
func (s *Supervisor) awaitHealthy(ctx context.Context, inst *Instance, desc registry.Descriptor, stderr *bytes.Buffer) error {
	launchTimeout := desc.LaunchTimeout
	if launchTimeout <= 0 {
		launchTimeout = s.cfg.LaunchTimeout
	}
	deadline := time.NewTimer(launchTimeout)
	defer deadline.Stop()

	interval := s.cfg.ProbeInterval
	healthURL := inst.BaseURL + desc.HealthPath
	for {
		probeCtx, cancel := context.WithTimeout(ctx, time.Second)
		err := s.probe(probeCtx, healthURL)
		cancel()
		if err == nil {
			inst.mu.Lock()
			if inst.state != StateStarting {
				// Crashed between probe and transition.
				inst.mu.Unlock()
				return s.launchFailure(inst, desc, stderr, "exited during startup")
			}
			s.transitionLocked(inst, StateHealthy, "")
			inst.mu.Unlock()
			return nil
		}

		timer := time.NewTimer(interval)
		select {
		case <-inst.done:
			timer.Stop()
			return s.launchFailure(inst, desc, stderr, "exited before healthy")
		case <-deadline.C:
			timer.Stop()
			s.failLaunch(inst, "launch timeout")
			return s.launchFailure(inst, desc, stderr, "health check never succeeded within launch timeout")
		case <-ctx.Done():
			timer.Stop()
			s.failLaunch(inst, "supervisor stopping")
			return ctx.Err()
		case <-timer.C:
		}
		interval *= 2
		if interval > maxProbeInterval {
			interval = maxProbeInterval
		}
	}
}

// failLaunch marks a still-starting instance failed and force-kills it. The
// wait watcher performs the final Terminated transition once the process is
// confirmed gone.
func (s *Supervisor) failLaunch(inst *Instance, cause string) {
	inst.mu.Lock()
	if inst.state == StateStarting {
		s.transitionLocked(inst, StateFailed, cause)
	}
	cmd := inst.cmd
	inst.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	<-inst.done
}

func (s *Supervisor) launchFailure(inst *Instance, desc registry.Descriptor, stderr *bytes.Buffer, cause string) error {
	if tail := stderrTail(stderr); tail != "" {
		return fmt.Errorf("launch %q: %s; stderr tail: %s", desc.Name, cause, tail)
	}
	return fmt.Errorf("launch %q: %s", desc.Name, cause)
}

func stderrTail(stderr *bytes.Buffer) string {
	tail := stderr.String()
	if len(tail) > stderrTailBytes {
		tail = tail[len(tail)-stderrTailBytes:]
	}
	return strings.TrimSpace(tail)
}

// watch observes process exit. Expected exits (Draining, Failed) get their
// final Terminated transition here; unexpected exits from Starting or Healthy
// are crashes and go through Failed first.
func (s *Supervisor) watch(inst *Instance, stderr *bytes.Buffer) {
	err := inst.cmd.Wait()

	inst.mu.Lock()
	inst.waitErr = err
	close(inst.done)
	switch inst.state {
	case StateTerminated:
		// Nothing to do; defensive, should not happen while we own the handle.
	case StateDraining, StateFailed:
		s.transitionLocked(inst, StateTerminated, "")
	default:
		cause := "process exited unexpectedly"
		if err != nil {
			cause = "process exited unexpectedly: " + err.Error()
		}
		if tail := stderrTail(stderr); tail != "" {
			cause += "; stderr tail: " + tail
		}
		s.transitionLocked(inst, StateFailed, cause)
		s.transitionLocked(inst, StateTerminated, "")
	}
	inst.mu.Unlock()

	s.mu.Lock()
	delete(s.instances, inst.ID)
	s.mu.Unlock()
}

// Terminate stops an instance. Graceful termination transitions through
// Draining, sends SIGTERM and escalates to SIGKILL after the grace period.
// It returns only once the OS process is confirmed gone; terminating an
// already-terminated instance is a no-op.
func (s *Supervisor) Terminate(ctx context.Context, inst *Instance, graceful bool) error {
	inst.mu.Lock()
	switch inst.state {
	case StateTerminated:
		inst.mu.Unlock()
		return nil
	case StateFailed, StateDraining:
		// Termination already in progress; just await confirmation below.
	default:
		if graceful {
			s.transitionLocked(inst, StateDraining, "")
		} else {
			s.transitionLocked(inst, StateDraining, "forced")
		}
	}
	cmd := inst.cmd
	inst.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		// Never spawned; nothing to wait for.
		inst.mu.Lock()
		if inst.state != StateTerminated {
			s.transitionLocked(inst, StateTerminated, "")
		}
		inst.mu.Unlock()
		return nil
	}

	if graceful {
		_ = cmd.Process.Signal(syscall.SIGTERM)
		grace := time.NewTimer(s.cfg.GracePeriod)
		defer grace.Stop()
		select {
		case <-inst.done:
			return nil
		case <-ctx.Done():
		case <-grace.C:
		}
	}
	// Force kill: after SIGKILL the exit is guaranteed, so the final wait is
	// unbounded on purpose.
	_ = cmd.Process.Kill()
	<-inst.done
	return nil
}

// Close terminates every instance still registered, gracefully, in parallel.
func (s *Supervisor) Close(ctx context.Context) error {
	s.mu.Lock()
	all := make([]*Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		all = append(all, inst)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, inst := range all {
		wg.Add(1)
		go func(inst *Instance) {
			defer wg.Done()
			_ = s.Terminate(ctx, inst, true)
		}(inst)
	}
	wg.Wait()
	return nil
}

func (s *Supervisor) httpProbe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("health probe: %s", resp.Status)
	}
	return nil
}

// expandCommand substitutes {host} and {port} tokens in the launch template.
func expandCommand(tmpl []string, host string, port int) []string {
	out := make([]string, len(tmpl))
	p := strconv.Itoa(port)
	for i, a := range tmpl {
		a = strings.ReplaceAll(a, "{host}", host)
		a = strings.ReplaceAll(a, "{port}", p)
		out[i] = a
	}
	return out
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", host+":0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	addr := l.Addr().String()
	lastColon := strings.LastIndex(addr, ":")
	if lastColon < 0 {
		return 0, fmt.Errorf("unexpected addr: %s", addr)
	}
	return strconv.Atoi(addr[lastColon+1:])
}
