package chunk_allocator

import (
	"slices"

	"github.com/Carmen-Shannon/oxy-cull/common"
)

// Span is a contiguous range of element indices.
type Span struct {
	Start int
	Size  int
}

// End returns one past the last index of the span.
func (s Span) End() int {
	return s.Start + s.Size
}

// SpanAllocator hands out contiguous index ranges from a growable linear space.
// Free ranges are kept sorted by start and merged with their neighbours, and
// allocations are first-fit. The space only grows when no free span is large
// enough.
type SpanAllocator struct {
	free         []Span
	maxSize      int
	numAllocated int
}

// NewSpanAllocator creates an empty SpanAllocator.
//
// Returns:
//   - *SpanAllocator: the allocator
func NewSpanAllocator() *SpanAllocator {
	return &SpanAllocator{}
}

// Allocate reserves n contiguous indices.
//
// Parameters:
//   - n: the number of indices, must be positive
//
// Returns:
//   - int: the first index of the reserved range
func (a *SpanAllocator) Allocate(n int) int {
	common.Assert(n > 0, "span allocation of %d elements", n)

	for i, s := range a.free {
		if s.Size < n {
			continue
		}
		if s.Size == n {
			a.free = slices.Delete(a.free, i, i+1)
		} else {
			a.free[i] = Span{Start: s.Start + n, Size: s.Size - n}
		}
		a.numAllocated += n
		return s.Start
	}

	start := a.maxSize
	if k := len(a.free); k > 0 && a.free[k-1].End() == a.maxSize {
		start = a.free[k-1].Start
		a.free = a.free[:k-1]
	}
	a.maxSize = start + n
	a.numAllocated += n
	return start
}

// Free releases a range previously returned by Allocate.
//
// Parameters:
//   - start: the first index of the range
//   - n: the number of indices
func (a *SpanAllocator) Free(start, n int) {
	if n <= 0 {
		return
	}
	common.Assert(start >= 0 && start+n <= a.maxSize, "span [%d, %d) outside allocator of size %d", start, start+n, a.maxSize)

	i, _ := slices.BinarySearchFunc(a.free, start, func(s Span, target int) int {
		return s.Start - target
	})
	common.Assert(i == 0 || a.free[i-1].End() <= start, "span [%d, %d) freed twice", start, start+n)
	common.Assert(i == len(a.free) || start+n <= a.free[i].Start, "span [%d, %d) freed twice", start, start+n)

	mergePrev := i > 0 && a.free[i-1].End() == start
	mergeNext := i < len(a.free) && a.free[i].Start == start+n
	switch {
	case mergePrev && mergeNext:
		a.free[i-1].Size += n + a.free[i].Size
		a.free = slices.Delete(a.free, i, i+1)
	case mergePrev:
		a.free[i-1].Size += n
	case mergeNext:
		a.free[i].Start = start
		a.free[i].Size += n
	default:
		a.free = slices.Insert(a.free, i, Span{Start: start, Size: n})
	}
	a.numAllocated -= n
}

// Consolidate shrinks the space by dropping a free span that touches its end.
func (a *SpanAllocator) Consolidate() {
	if k := len(a.free); k > 0 && a.free[k-1].End() == a.maxSize {
		a.maxSize = a.free[k-1].Start
		a.free = a.free[:k-1]
	}
}

// IsAllocated reports whether the index is inside an allocated range.
func (a *SpanAllocator) IsAllocated(index int) bool {
	if index < 0 || index >= a.maxSize {
		return false
	}
	i, found := slices.BinarySearchFunc(a.free, index, func(s Span, target int) int {
		return s.Start - target
	})
	if found {
		return false
	}
	return i == 0 || a.free[i-1].End() <= index
}

// MaxSize returns one past the highest index ever needed by live ranges.
func (a *SpanAllocator) MaxSize() int {
	return a.maxSize
}

// NumAllocated returns the number of indices currently reserved.
func (a *SpanAllocator) NumAllocated() int {
	return a.numAllocated
}

// NumFreeSpans returns the number of disjoint free ranges below MaxSize.
func (a *SpanAllocator) NumFreeSpans() int {
	return len(a.free)
}
