package chunk_allocator

import "math/bits"

// BitArray is a growable bitmask stored in 32 bit words, matching the layout
// of an array<u32> on the GPU. Words touched since the last ClearDirty are
// tracked so they can be uploaded individually.
type BitArray struct {
	words []uint32
	dirty []uint64
	count int
}

// NewBitArray creates a BitArray able to hold n bits without growing.
//
// Parameters:
//   - n: initial bit capacity
//
// Returns:
//   - *BitArray: the bit array
func NewBitArray(n int) *BitArray {
	b := &BitArray{}
	b.Grow(n)
	return b
}

// Grow makes room for at least n bits. New bits are clear.
func (b *BitArray) Grow(n int) {
	words := (n + 31) / 32
	if words <= len(b.words) {
		return
	}
	b.words = append(b.words, make([]uint32, words-len(b.words))...)
	dirtyWords := (len(b.words) + 63) / 64
	if dirtyWords > len(b.dirty) {
		b.dirty = append(b.dirty, make([]uint64, dirtyWords-len(b.dirty))...)
	}
}

// Set sets bit i, growing the array if needed.
func (b *BitArray) Set(i int) {
	b.Grow(i + 1)
	w, mask := i>>5, uint32(1)<<(i&31)
	if b.words[w]&mask == 0 {
		b.words[w] |= mask
		b.count++
		b.markDirty(w)
	}
}

// Clear clears bit i.
func (b *BitArray) Clear(i int) {
	w := i >> 5
	if w >= len(b.words) {
		return
	}
	mask := uint32(1) << (i & 31)
	if b.words[w]&mask != 0 {
		b.words[w] &^= mask
		b.count--
		b.markDirty(w)
	}
}

// Test reports whether bit i is set.
func (b *BitArray) Test(i int) bool {
	w := i >> 5
	if i < 0 || w >= len(b.words) {
		return false
	}
	return b.words[w]&(1<<(i&31)) != 0
}

// Count returns the number of set bits.
func (b *BitArray) Count() int {
	return b.count
}

// Len returns the bit capacity.
func (b *BitArray) Len() int {
	return len(b.words) * 32
}

// Words returns the backing words. The slice is owned by the BitArray.
func (b *BitArray) Words() []uint32 {
	return b.words
}

// DirtyWords returns the indices of words changed since the last ClearDirty, ascending.
func (b *BitArray) DirtyWords() []int {
	var out []int
	for i, word := range b.dirty {
		for word != 0 {
			out = append(out, i<<6|bits.TrailingZeros64(word))
			word &= word - 1
		}
	}
	return out
}

// ClearDirty forgets all dirty words.
func (b *BitArray) ClearDirty() {
	clear(b.dirty)
}

func (b *BitArray) markDirty(word int) {
	b.dirty[word>>6] |= 1 << (word & 63)
}
