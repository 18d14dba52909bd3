package parallel

import (
	"fmt"
	"math"
	"sync/atomic"
	"unsafe"
)

// Mode selects how concurrent contributions to one element are combined.
type Mode uint8

const (
	// Partitioned gives every chunk a private copy of the target and sums the
	// copies in chunk order. Results are bit-identical run to run.
	Partitioned Mode = iota
	// Atomic adds straight into the target with compare-and-swap. Results
	// agree with Partitioned up to floating point reassociation.
	Atomic
)

// ParseMode converts a config string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "partitioned":
		return Partitioned, nil
	case "atomic":
		return Atomic, nil
	}
	return Partitioned, fmt.Errorf("parallel: unknown scatter mode %q", s)
}

func (m Mode) String() string {
	if m == Atomic {
		return "atomic"
	}
	return "partitioned"
}

// Adder accumulates into one scatter target.
type Adder struct {
	buf    []float64
	atomic bool
}

// Add adds v to element k.
func (a Adder) Add(k int, v float64) {
	if a.atomic {
		AddFloat64(&a.buf[k], v)
		return
	}
	a.buf[k] += v
}

// AddFloat64 atomically adds delta to *addr and returns the new value.
func AddFloat64(addr *float64, delta float64) float64 {
	p := (*uint64)(unsafe.Pointer(addr))
	for {
		old := atomic.LoadUint64(p)
		next := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(p, old, math.Float64bits(next)) {
			return next
		}
	}
}

// Scatter runs sweeps whose iterations add into a shared buffer.
// A Scatter owns its partition buffers and is not safe for concurrent sweeps.
type Scatter struct {
	pool     *Pool
	mode     Mode
	partials [][]float64
}

// NewScatter creates a scatter helper over pool.
func NewScatter(pool *Pool, mode Mode) *Scatter {
	return &Scatter{pool: pool, mode: mode}
}

// Mode returns the accumulation mode.
func (s *Scatter) Mode() Mode { return s.mode }

// Run calls f(i, acc) for i in [0, n); every acc.Add lands in dst once the
// sweep returns. dst is added to, not overwritten.
func (s *Scatter) Run(n int, dst []float64, f func(i int, acc Adder)) {
	chunks := s.pool.Chunks(n)
	if chunks == 0 {
		return
	}

	if chunks == 1 || s.mode == Atomic {
		acc := Adder{buf: dst, atomic: chunks > 1}
		s.pool.ForChunk(n, func(_, start, end int) {
			for i := start; i < end; i++ {
				f(i, acc)
			}
		})
		return
	}

	s.ensure(chunks, len(dst))
	s.pool.ForChunk(n, func(c, start, end int) {
		part := s.partials[c]
		clear(part)
		acc := Adder{buf: part}
		for i := start; i < end; i++ {
			f(i, acc)
		}
	})

	// Reduce in fixed chunk order
	parts := s.partials[:chunks]
	s.pool.For(len(dst), func(k int) {
		var sum float64
		for _, part := range parts {
			sum += part[k]
		}
		dst[k] += sum
	})
}

// ensure sizes the partition buffers for chunks copies of a width-long target.
// Buffers keep the largest width seen and are resliced, so sweeps that
// alternate between targets of different widths reuse the same memory.
func (s *Scatter) ensure(chunks, width int) {
	for len(s.partials) < chunks {
		s.partials = append(s.partials, nil)
	}
	for c := 0; c < chunks; c++ {
		if cap(s.partials[c]) < width {
			s.partials[c] = make([]float64, width)
		}
		s.partials[c] = s.partials[c][:width]
	}
}
