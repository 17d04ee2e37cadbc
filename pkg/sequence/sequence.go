package sequence

import "sync/atomic"

// Allocator hands out globally unique, strictly increasing uint64 event ids.
// The zero value is ready to use and starts at 0.
type Allocator struct {
	next atomic.Uint64
}

// NewAllocator creates an Allocator whose first Next returns 0.
func NewAllocator() *Allocator { return &Allocator{} }

// NewAllocatorAt creates an Allocator whose first Next returns start.
// Use this to resume a journal set: start should be one past the highest id
// already on disk.
func NewAllocatorAt(start uint64) *Allocator {
	a := &Allocator{}
	a.next.Store(start)
	return a
}

// Next atomically claims and returns the next id. Safe for concurrent use.
func (a *Allocator) Next() uint64 {
	return a.next.Add(1) - 1
}

// Peek returns the id the next call to Next would claim, without claiming
// it. Intended for diagnostics; the value may be stale by the time it is
// observed.
func (a *Allocator) Peek() uint64 { return a.next.Load() }

// Advance raises the allocator to at least start. Ids already handed out are
// never reissued; calls with a lower start are no-ops. Used when late
// discovery of an existing journal file reveals higher ids than the restore
// scan found.
func (a *Allocator) Advance(start uint64) {
	for {
		cur := a.next.Load()
		if cur >= start {
			return
		}
		if a.next.CompareAndSwap(cur, start) {
			return
		}
	}
}
