package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/registry"
)

func testDesc(name string, command ...string) registry.Descriptor {
	return registry.Descriptor{
		Name:       name,
		Kind:       registry.KindLocal,
		VRAMBytes:  1 << 30,
		Command:    command,
		Host:       "127.0.0.1",
		HealthPath: "/health",
	}
}

func okProbe(context.Context, string) error    { return nil }
func neverProbe(context.Context, string) error { return errors.New("not up") }

// awaitEvent drains the event stream until a transition into want is seen.
func awaitEvent(t *testing.T, s *Supervisor, want State, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-s.Events():
			if ev.To == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("no transition into %s within %s", want, timeout)
		}
	}
}

func TestLaunch_HealthyThenTerminate(t *testing.T) {
	s := New(Config{Probe: okProbe, GracePeriod: time.Second}, zerolog.Nop())
	inst, err := s.Launch(context.Background(), testDesc("m", "sleep", "60"))
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if got := inst.State(); got != StateHealthy {
		t.Fatalf("state = %s, want healthy", got)
	}
	if inst.PID() == 0 {
		t.Fatalf("expected a spawned pid")
	}

	if err := s.Terminate(context.Background(), inst, true); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if got := inst.State(); got != StateTerminated {
		t.Fatalf("state after terminate = %s, want terminated", got)
	}
	// Idempotence: terminating a terminated instance is a no-op.
	if err := s.Terminate(context.Background(), inst, true); err != nil {
		t.Fatalf("second terminate: %v", err)
	}
}

func TestLaunch_EmitsOrderedTransitions(t *testing.T) {
	s := New(Config{Probe: okProbe, GracePeriod: time.Second}, zerolog.Nop())
	inst, err := s.Launch(context.Background(), testDesc("m", "sleep", "60"))
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	ev := awaitEvent(t, s, StateStarting, time.Second)
	if ev.From != StatePendingLaunch || ev.InstanceID != inst.ID || ev.Backend != "m" {
		t.Fatalf("starting event = %+v", ev)
	}
	ev = awaitEvent(t, s, StateHealthy, time.Second)
	if ev.From != StateStarting {
		t.Fatalf("healthy event from = %s, want starting", ev.From)
	}
	_ = s.Terminate(context.Background(), inst, true)
	awaitEvent(t, s, StateTerminated, 2*time.Second)
}

func TestLaunch_TimeoutFails(t *testing.T) {
	s := New(Config{Probe: neverProbe, ProbeInterval: 10 * time.Millisecond}, zerolog.Nop())
	desc := testDesc("m", "sleep", "60")
	desc.LaunchTimeout = 150 * time.Millisecond
	_, err := s.Launch(context.Background(), desc)
	if err == nil {
		t.Fatalf("expected launch timeout error")
	}
	ev := awaitEvent(t, s, StateFailed, time.Second)
	if ev.Cause == "" {
		t.Fatalf("failed event should carry a cause")
	}
	awaitEvent(t, s, StateTerminated, time.Second)
}

func TestLaunch_EarlyExitFails(t *testing.T) {
	s := New(Config{Probe: neverProbe, ProbeInterval: 10 * time.Millisecond}, zerolog.Nop())
	_, err := s.Launch(context.Background(), testDesc("m", "sh", "-c", "echo boom >&2; exit 3"))
	if err == nil {
		t.Fatalf("expected early-exit error")
	}
	awaitEvent(t, s, StateFailed, time.Second)
	awaitEvent(t, s, StateTerminated, time.Second)
}

func TestWatch_CrashEmitsFailed(t *testing.T) {
	s := New(Config{Probe: okProbe}, zerolog.Nop())
	inst, err := s.Launch(context.Background(), testDesc("m", "sh", "-c", "sleep 0.2"))
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if got := inst.State(); got != StateHealthy {
		t.Fatalf("state = %s, want healthy", got)
	}
	// The process exits on its own; the watcher must report a crash.
	ev := awaitEvent(t, s, StateFailed, 2*time.Second)
	if ev.InstanceID != inst.ID {
		t.Fatalf("crash event for %s, want %s", ev.InstanceID, inst.ID)
	}
	awaitEvent(t, s, StateTerminated, time.Second)
	if got := inst.State(); got != StateTerminated {
		t.Fatalf("state = %s, want terminated", got)
	}
}

func TestClose_TerminatesEverything(t *testing.T) {
	s := New(Config{Probe: okProbe, GracePeriod: time.Second}, zerolog.Nop())
	a, err := s.Launch(context.Background(), testDesc("a", "sleep", "60"))
	if err != nil {
		t.Fatalf("launch a: %v", err)
	}
	b, err := s.Launch(context.Background(), testDesc("b", "sleep", "60"))
	if err != nil {
		t.Fatalf("launch b: %v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if a.State() != StateTerminated || b.State() != StateTerminated {
		t.Fatalf("states after close: %s %s", a.State(), b.State())
	}
}

func TestExpandCommand(t *testing.T) {
	got := expandCommand([]string{"llama-server", "--host", "{host}", "--port", "{port}"}, "127.0.0.1", 30001)
	want := []string{"llama-server", "--host", "127.0.0.1", "--port", "30001"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expand[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
