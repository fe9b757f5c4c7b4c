package scheduler

import (
	"sort"

	"inferd/internal/registry"
	"inferd/pkg/types"
)

const mb = 1 << 20

// ListBackends returns the registry contents for the API layer.
func (s *Scheduler) ListBackends() []types.Backend {
	descs := s.reg.List()
	out := make([]types.Backend, 0, len(descs))
	for _, d := range descs {
		b := types.Backend{Name: d.Name, Kind: string(d.Kind)}
		if d.Kind == registry.KindLocal {
			b.VRAMMB = d.VRAMBytes / mb
		}
		out = append(out, b)
	}
	return out
}

// Status is a read-only projection of the scheduler state.
func (s *Scheduler) Status() types.StatusResponse {
	s.mu.Lock()
	instances := make([]types.InstanceStatus, 0, len(s.instances))
	for _, li := range s.instances {
		st := types.InstanceStatus{
			Backend:  li.backend,
			VRAMMB:   li.vram / mb,
			LastUsed: li.lastUsed.Unix(),
			Inflight: li.inflight,
		}
		if li.loading {
			st.State = "loading"
		} else if li.inst != nil {
			st.ID = li.inst.ID
			st.State = string(li.inst.State())
		}
		instances = append(instances, st)
	}
	depth := make(map[string]int, len(s.queues))
	for name, q := range s.queues {
		depth[name] = len(q)
	}
	closed := s.closed
	s.mu.Unlock()

	sort.Slice(instances, func(i, j int) bool { return instances[i].Backend < instances[j].Backend })
	if len(depth) == 0 {
		depth = nil
	}
	var byBackend map[string]int64
	if snap := s.ledger.Snapshot(); len(snap) > 0 {
		byBackend = make(map[string]int64, len(snap))
		for owner, bytes := range snap {
			byBackend[owner] = bytes / mb
		}
	}
	return types.StatusResponse{
		Ready: !closed,
		VRAM: types.VRAMStatus{
			TotalMB:     s.ledger.TotalBytes() / mb,
			ReservedMB:  s.ledger.ReservedBytes() / mb,
			AvailableMB: s.ledger.AvailableBytes() / mb,
			ByBackendMB: byBackend,
		},
		Instances:  instances,
		QueueDepth: depth,
	}
}

// Ready reports whether the scheduler accepts work.
func (s *Scheduler) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}
