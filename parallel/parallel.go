// Package parallel provides the data-parallel execution substrate used by the
// simulation kernels: a chunked parallel-for and scatter accumulation into
// shared float buffers.
package parallel

import (
	"runtime"
	"sync"
)

// defaultMinChunk is the smallest domain worth splitting across goroutines.
// Below this, single-threaded is faster due to goroutine overhead.
const defaultMinChunk = 64

// Pool splits index domains into contiguous chunks and runs them on up to
// workers goroutines. The chunking depends only on the domain size and the
// pool settings. With a fixed chunk count (WithChunks) it is also independent
// of the worker count, so partitioned scatters give the same bits on any
// machine.
type Pool struct {
	workers  int
	minChunk int
	chunks   int // 0 = one chunk per worker
}

// New creates a pool. workers <= 0 uses GOMAXPROCS, minChunk <= 0 uses a default.
func New(workers, minChunk int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if minChunk <= 0 {
		minChunk = defaultMinChunk
	}
	return &Pool{workers: workers, minChunk: minChunk}
}

// Serial returns a pool that runs everything on the calling goroutine.
func Serial() *Pool {
	return &Pool{workers: 1, minChunk: defaultMinChunk}
}

// WithChunks returns a copy of the pool that splits every domain into at most
// chunks pieces regardless of the worker count. chunks <= 0 keeps one chunk
// per worker.
func (p *Pool) WithChunks(chunks int) *Pool {
	q := *p
	q.chunks = max(chunks, 0)
	return &q
}

// Workers returns the maximum number of concurrent chunks.
func (p *Pool) Workers() int { return p.workers }

// chunkSize returns the chunk length used for a domain of n items.
func (p *Pool) chunkSize(n int) int {
	if n < p.minChunk {
		return max(n, 1)
	}
	parts := p.chunks
	if parts == 0 {
		if p.workers == 1 {
			return max(n, 1)
		}
		parts = p.workers
	}
	return max((n+parts-1)/parts, p.minChunk)
}

// Chunks returns how many chunks a domain of n items is split into.
func (p *Pool) Chunks(n int) int {
	if n <= 0 {
		return 0
	}
	size := p.chunkSize(n)
	return (n + size - 1) / size
}

// For executes f(i) for i in [0, n). It returns once every call has returned.
func (p *Pool) For(n int, f func(i int)) {
	p.ForChunk(n, func(_, start, end int) {
		for i := start; i < end; i++ {
			f(i)
		}
	})
}

// ForChunk executes f once per chunk of [0, n) with the chunk's ordinal and
// half-open range. Chunks run concurrently; ForChunk waits for all of them.
func (p *Pool) ForChunk(n int, f func(chunk, start, end int)) {
	if n <= 0 {
		return
	}
	size := p.chunkSize(n)
	if size >= n {
		f(0, 0, n)
		return
	}

	chunks := (n + size - 1) / size
	run := func(c int) {
		start := c * size
		f(c, start, min(start+size, n))
	}
	if p.workers == 1 {
		for c := 0; c < chunks; c++ {
			run(c)
		}
		return
	}

	// Worker w takes chunks w, w+g, w+2g, ...
	g := min(p.workers, chunks)
	var wg sync.WaitGroup
	wg.Add(g)
	for w := 0; w < g; w++ {
		go func(w int) {
			defer wg.Done()
			for c := w; c < chunks; c += g {
				run(c)
			}
		}(w)
	}
	wg.Wait()
}
