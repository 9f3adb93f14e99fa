// Package sequence provides named monotonic counters that survive restarts.
// Allocation is strictly serial per name; a configurable block cache keeps
// contention off the hot path.
package sequence

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Well-known sequence names.
const (
	Patient   = "patient"
	AdminFile = "admin_file"
	Visit     = "visit"
	Movement  = "movement"
)

// Allocator hands out the next value of a named counter.
type Allocator interface {
	Next(ctx context.Context, name string) (int64, error)
}

type block struct {
	next int64 // next value to hand out
	end  int64 // last value owned by this block (inclusive)
}

// PGAllocator reserves blocks of values from the sequence table so most calls
// are served from memory. Reserved-but-unused values are lost on restart,
// which keeps monotonicity without coordination.
type PGAllocator struct {
	pool      *pgxpool.Pool
	blockSize int64

	mu     sync.Mutex
	blocks map[string]*block
}

// NewPGAllocator creates an allocator with the given preallocation block size
// (config SEQUENCE_CACHE_SIZE).
func NewPGAllocator(pool *pgxpool.Pool, blockSize int) *PGAllocator {
	if blockSize < 1 {
		blockSize = 1
	}
	return &PGAllocator{
		pool:      pool,
		blockSize: int64(blockSize),
		blocks:    make(map[string]*block),
	}
}

func (a *PGAllocator) Next(ctx context.Context, name string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b := a.blocks[name]
	if b == nil || b.next > b.end {
		end, err := a.reserve(ctx, name, a.blockSize)
		if err != nil {
			return 0, err
		}
		b = &block{next: end - a.blockSize + 1, end: end}
		a.blocks[name] = b
	}

	n := b.next
	b.next++
	return n, nil
}

// reserve atomically advances the persisted counter by count and returns the
// new top value. It always runs on the pool, outside any caller transaction:
// a rolled-back message must not revert the counter under a block already
// handed out from memory.
func (a *PGAllocator) reserve(ctx context.Context, name string, count int64) (int64, error) {
	var end int64
	err := a.pool.QueryRow(ctx, `
		INSERT INTO sequence (name, value) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET value = sequence.value + $2
		RETURNING value`,
		name, count,
	).Scan(&end)
	return end, err
}

// InMemory is a process-local Allocator for tests.
type InMemory struct {
	mu     sync.Mutex
	values map[string]int64
}

func NewInMemory() *InMemory {
	return &InMemory{values: make(map[string]int64)}
}

func (a *InMemory) Next(_ context.Context, name string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values[name]++
	return a.values[name], nil
}
