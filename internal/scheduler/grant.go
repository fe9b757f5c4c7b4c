package scheduler

import (
	"sync"

	"inferd/internal/registry"
	"inferd/internal/router"
	"inferd/internal/supervisor"
)

// Grant is the handle returned by admission. The caller dispatches against
// Target() and must call Release() exactly once when the request body is done;
// Release is idempotent. Remote grants carry no resource semantics.
type Grant struct {
	s    *Scheduler
	desc registry.Descriptor
	li   *localInstance
	once sync.Once
}

func (s *Scheduler) localGrant(li *localInstance) *Grant {
	return &Grant{s: s, desc: li.desc, li: li}
}

func (s *Scheduler) remoteGrant(desc registry.Descriptor) *Grant {
	return &Grant{s: s, desc: desc}
}

// Target resolves the transport destination for the router.
func (g *Grant) Target() router.Target {
	t := router.Target{
		Backend:        g.desc.Name,
		CompletionPath: g.desc.CompletionPath,
		Model:          g.desc.Model,
	}
	if g.li != nil {
		t.BaseURL = g.li.inst.BaseURL
	} else {
		t.BaseURL = g.desc.BaseURL
		t.APIKey = g.desc.APIKey
	}
	return t
}

// Release returns the dispatch slot. For local grants this decrements the
// in-flight count and refreshes the last-used timestamp.
func (g *Grant) Release() {
	g.once.Do(func() {
		if g.li != nil {
			g.s.release(g.li)
		}
	})
}

// Crashed reports whether the granted instance died underneath the request.
func (g *Grant) Crashed() bool {
	if g.li == nil {
		return false
	}
	g.s.mu.Lock()
	crashed := g.li.crashed
	evicting := g.li.evicting
	g.s.mu.Unlock()
	if crashed {
		return true
	}
	switch g.li.inst.State() {
	case supervisor.StateFailed, supervisor.StateTerminated:
		return !evicting
	}
	return false
}
