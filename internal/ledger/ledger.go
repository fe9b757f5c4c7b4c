// Package ledger is the single source of truth for VRAM capacity.
// All reservations and releases go through one mutex so no two concurrent
// admission decisions can overbook the budget.
package ledger

import (
	"sync"

	"github.com/google/uuid"
)

// ReservationID identifies one granted reservation.
type ReservationID string

type reservation struct {
	owner string
	bytes int64
}

// Ledger tracks the total VRAM budget and current reservations.
// Invariant: sum of reservations never exceeds total.
type Ledger struct {
	mu           sync.Mutex
	total        int64
	reserved     int64
	reservations map[ReservationID]reservation
}

// New constructs a Ledger with the given capacity in bytes.
// A non-positive capacity means no local backend can ever be admitted.
func New(totalBytes int64) *Ledger {
	if totalBytes < 0 {
		totalBytes = 0
	}
	return &Ledger{
		total:        totalBytes,
		reservations: make(map[ReservationID]reservation),
	}
}

// TryReserve atomically reserves n bytes for owner. It never blocks: when n
// exceeds the available capacity it returns ok=false and the caller must free
// capacity (eviction) and retry.
func (l *Ledger) TryReserve(owner string, n int64) (ReservationID, bool) {
	if n <= 0 {
		return "", false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reserved+n > l.total {
		return "", false
	}
	id := ReservationID(uuid.NewString())
	l.reservations[id] = reservation{owner: owner, bytes: n}
	l.reserved += n
	return id, true
}

// Release returns a reservation to the pool. Releasing an unknown or already
// released id is a no-op, so release paths never need to coordinate.
func (l *Ledger) Release(id ReservationID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.reservations[id]
	if !ok {
		return
	}
	delete(l.reservations, id)
	l.reserved -= r.bytes
	if l.reserved < 0 {
		l.reserved = 0
	}
}

// AvailableBytes reports the capacity currently free for reservation.
func (l *Ledger) AvailableBytes() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total - l.reserved
}

// ReservedBytes reports the capacity currently held by reservations.
func (l *Ledger) ReservedBytes() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reserved
}

// TotalBytes reports the configured capacity.
func (l *Ledger) TotalBytes() int64 {
	return l.total
}

// Snapshot returns owner -> reserved bytes for status reporting.
func (l *Ledger) Snapshot() map[string]int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int64, len(l.reservations))
	for _, r := range l.reservations {
		out[r.owner] += r.bytes
	}
	return out
}
