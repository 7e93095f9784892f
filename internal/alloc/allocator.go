// Package alloc hands out file space to the writer. Space is only ever
// appended at the end of the file: objects that are rewritten leave their
// previous copy in place, so readers holding old addresses stay valid.
package alloc

import "sync"

// Stats summarizes the allocations made since the allocator was created.
type Stats struct {
	Allocations uint64
	Bytes       uint64
	Largest     uint64
}

// Allocator is safe for concurrent use.
type Allocator struct {
	mu    sync.Mutex
	eof   uint64
	stats Stats
}

// New returns an allocator whose first block starts at eof.
func New(eof uint64) *Allocator {
	return &Allocator{eof: eof}
}

// Alloc reserves size bytes at the end of the file and returns their
// address. A zero size returns the current end without reserving anything.
func (a *Allocator) Alloc(size uint64) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	addr := a.eof
	if size == 0 {
		return addr
	}
	a.eof += size
	a.stats.Allocations++
	a.stats.Bytes += size
	a.stats.Largest = max(a.stats.Largest, size)
	return addr
}

// EOFAddr returns the address the next allocation will receive.
func (a *Allocator) EOFAddr() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.eof
}

func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}
