package spatial_hash

const (
	slotEmpty uint8 = iota
	slotFull
	slotDeleted
)

// blockMap is an open-addressing map from BlockLocation to block index with
// linear probing. Deleted slots leave tombstones that are dropped on rehash.
type blockMap struct {
	keys       []BlockLocation
	values     []int32
	states     []uint8
	count      int
	tombstones int
}

func newBlockMap(capacity int) blockMap {
	size := 16
	for size < capacity*2 {
		size *= 2
	}
	return blockMap{
		keys:   make([]BlockLocation, size),
		values: make([]int32, size),
		states: make([]uint8, size),
	}
}

func (m *blockMap) len() int {
	return m.count
}

func (m *blockMap) get(loc BlockLocation) (int32, bool) {
	mask := uint64(len(m.keys) - 1)
	for i := loc.Hash() & mask; ; i = (i + 1) & mask {
		switch m.states[i] {
		case slotEmpty:
			return -1, false
		case slotFull:
			if m.keys[i] == loc {
				return m.values[i], true
			}
		}
	}
}

func (m *blockMap) put(loc BlockLocation, value int32) {
	if (m.count+m.tombstones+1)*4 >= len(m.keys)*3 {
		m.rehash()
	}
	mask := uint64(len(m.keys) - 1)
	insertAt := -1
	for i := loc.Hash() & mask; ; i = (i + 1) & mask {
		switch m.states[i] {
		case slotEmpty:
			if insertAt < 0 {
				insertAt = int(i)
			} else {
				m.tombstones--
			}
			m.keys[insertAt] = loc
			m.values[insertAt] = value
			m.states[insertAt] = slotFull
			m.count++
			return
		case slotDeleted:
			if insertAt < 0 {
				insertAt = int(i)
			}
		case slotFull:
			if m.keys[i] == loc {
				m.values[i] = value
				return
			}
		}
	}
}

func (m *blockMap) remove(loc BlockLocation) bool {
	mask := uint64(len(m.keys) - 1)
	for i := loc.Hash() & mask; ; i = (i + 1) & mask {
		switch m.states[i] {
		case slotEmpty:
			return false
		case slotFull:
			if m.keys[i] == loc {
				m.states[i] = slotDeleted
				m.count--
				m.tombstones++
				return true
			}
		}
	}
}

func (m *blockMap) rehash() {
	old := *m
	*m = newBlockMap(max(old.count+1, 8) * 2)
	for i, st := range old.states {
		if st == slotFull {
			m.put(old.keys[i], old.values[i])
		}
	}
}
