package alloc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllocAppends(t *testing.T) {
	a := New(96)
	assert.Equal(t, uint64(96), a.Alloc(10))
	assert.Equal(t, uint64(106), a.Alloc(0))
	assert.Equal(t, uint64(106), a.Alloc(30))
	assert.Equal(t, uint64(136), a.EOFAddr())
	assert.Equal(t, Stats{Allocations: 2, Bytes: 40, Largest: 30}, a.Stats())
}

func TestAllocConcurrent(t *testing.T) {
	a := New(0)
	var wg sync.WaitGroup
	seen := make([]uint64, 64)
	for i := range seen {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seen[i] = a.Alloc(8)
		}(i)
	}
	wg.Wait()

	uniq := make(map[uint64]bool)
	for _, addr := range seen {
		assert.Zero(t, addr%8)
		uniq[addr] = true
	}
	assert.Len(t, uniq, 64)
	assert.Equal(t, uint64(512), a.EOFAddr())
}
