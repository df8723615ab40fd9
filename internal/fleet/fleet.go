// Package fleet holds the mothership-side table of rover mirror records,
// shared by the TS server, the ML dispatcher, and the telemetry pusher.
package fleet

import (
	"sync"

	"github.com/PedroArgainha/rovermesh/internal/roverstate"
)

// Table is the mothership's shared, concurrently-accessed rover mirror
// list. Each rover record is its own lock domain (roverstate.Rover);
// Table only guards the set of known rover IDs.
type Table struct {
	mu     sync.RWMutex
	rovers map[uint8]*roverstate.Rover
}

// NewTable creates an empty rover table.
func NewTable() *Table {
	return &Table{rovers: make(map[uint8]*roverstate.Rover)}
}

// GetOrCreate returns the rover record for id, creating a fresh one
// (positioned at the origin) on first reference.
func (t *Table) GetOrCreate(id uint8) *roverstate.Rover {
	t.mu.RLock()
	r, ok := t.rovers[id]
	t.mu.RUnlock()
	if ok {
		return r
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.rovers[id]; ok {
		return r
	}
	r = roverstate.New(id, roverstate.Vec3{}, 0, 1)
	t.rovers[id] = r
	return r
}

// Get returns the rover record for id, if known.
func (t *Table) Get(id uint8) (*roverstate.Rover, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.rovers[id]
	return r, ok
}

// All returns a snapshot slice of all known rover records.
func (t *Table) All() []*roverstate.Rover {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*roverstate.Rover, 0, len(t.rovers))
	for _, r := range t.rovers {
		out = append(out, r)
	}
	return out
}
