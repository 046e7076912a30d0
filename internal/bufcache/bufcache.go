// Package bufcache implements the poll group's shared data-buffer cache: a
// fixed pool of fixed-size buffers the pipeline draws from to stage read/
// write data before handing it to the LLD. Exhaustion is never blocking —
// the pipeline's contract on a miss is "enter state pending" (spec.md §7),
// never wait — so acquisition is a non-blocking TryAcquire over a weighted
// semaphore sized to the pool's buffer count.
package bufcache

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

// Cache is a poll group's shared buffer cache. One Cache is owned by
// exactly one poll group, matching the single-threaded-per-executor
// ownership rule (spec.md §5).
type Cache struct {
	sem      *semaphore.Weighted
	bufSize  uint32
	mu       sync.Mutex
	free     [][]byte
}

// New creates a Cache of count buffers, each bufSize bytes.
func New(count int, bufSize uint32) *Cache {
	c := &Cache{
		sem:     semaphore.NewWeighted(int64(count)),
		bufSize: bufSize,
		free:    make([][]byte, 0, count),
	}
	for i := 0; i < count; i++ {
		c.free = append(c.free, make([]byte, bufSize))
	}
	return c
}

// BufSize returns the fixed per-buffer size.
func (c *Cache) BufSize() uint32 { return c.bufSize }

// TryAcquire attempts to take one buffer without blocking. ok is false when
// the cache is exhausted; callers must treat this as "try again later," not
// an error.
func (c *Cache) TryAcquire() (buf []byte, ok bool) {
	if !c.sem.TryAcquire(1) {
		return nil, false
	}
	c.mu.Lock()
	n := len(c.free)
	buf = c.free[n-1]
	c.free = c.free[:n-1]
	c.mu.Unlock()
	return buf, true
}

// Release returns buf to the cache. buf must have come from TryAcquire on
// this Cache.
func (c *Cache) Release(buf []byte) {
	c.mu.Lock()
	c.free = append(c.free, buf[:cap(buf)][:c.bufSize])
	c.mu.Unlock()
	c.sem.Release(1)
}
