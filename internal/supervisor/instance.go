package supervisor

import (
	"os/exec"
	"sync"
	"time"
)

// State is the lifecycle state of a local backend instance.
type State string

const (
	StatePendingLaunch State = "pending_launch"
	StateStarting      State = "starting"
	StateHealthy       State = "healthy"
	StateDraining      State = "draining"
	StateFailed        State = "failed"
	StateTerminated    State = "terminated"
)

// Event records one state transition. Transitions are the only signal leaving
// the supervisor besides the instance handle itself; the scheduler consumes
// them from an ordered channel and observability sinks get them via the log.
type Event struct {
	Time       time.Time
	InstanceID string
	Backend    string
	From       State
	To         State
	// Cause is set on error-path transitions (crash, launch timeout).
	Cause string
}

// Instance is the handle for one supervised OS process. The supervisor owns
// the process exclusively; other components only read identity and state.
type Instance struct {
	ID      string
	Backend string
	BaseURL string
	Port    int

	mu    sync.Mutex
	state State
	cmd   *exec.Cmd
	pid   int
	// done is closed by the wait watcher once the OS process is confirmed gone.
	done    chan struct{}
	waitErr error
}

// State returns the current lifecycle state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// PID returns the OS process id, zero before spawn.
func (i *Instance) PID() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.pid
}
