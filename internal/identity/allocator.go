// Package identity issues person identity IDs. A single allocator is shared
// by every camera's tracker so that IDs are unique across the whole process,
// and it is seeded from persisted state so that IDs are never reused across
// restarts.
package identity

import (
	"sync/atomic"
)

// Allocator hands out monotonically increasing identity IDs.
type Allocator struct {
	next atomic.Int64
}

// NewAllocator returns an allocator whose first issued ID is maxPersisted+1.
// Pass 0 when no state was persisted; the first ID is then 1.
func NewAllocator(maxPersisted int64) *Allocator {
	a := &Allocator{}
	a.next.Store(maxPersisted)
	return a
}

// Next issues a fresh identity ID, strictly greater than every ID issued
// before it.
func (a *Allocator) Next() int64 {
	return a.next.Add(1)
}

// Peek returns the highest ID issued so far without allocating.
func (a *Allocator) Peek() int64 {
	return a.next.Load()
}
