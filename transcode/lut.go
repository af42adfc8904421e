package transcode

// Modality and VOI lookup tables. Computing a table is cheap but happens
// per frame, so tables are memoized by their parameters in a bounded LRU.

import (
	"container/list"
	"sync"
)

// LutParameters keys one lookup table.
type LutParameters struct {
	Slope        float64
	Intercept    float64
	PaddingValue int
	HasPadding   bool
	BitsStored   int
	Signed       bool
	OutputSigned bool
	OutputBits   int
	Inverse      bool
}

// Lut is a precomputed sample mapping. Index with the raw stored value
// (offset by the signed minimum for signed inputs).
type Lut struct {
	Params LutParameters
	Table  []uint16
}

const lutCacheCapacity = 64

type lutCache struct {
	mu      sync.Mutex
	entries map[LutParameters]*list.Element
	order   *list.List // front = most recently used
}

type lutCacheEntry struct {
	key LutParameters
	lut *Lut
}

var modalityLutCache = &lutCache{
	entries: make(map[LutParameters]*list.Element),
	order:   list.New(),
}

// GetModalityLut returns the memoized table for the parameters, computing
// it on first use. Equal parameters yield the same handle until the entry
// is evicted.
func GetModalityLut(p LutParameters) *Lut {
	return modalityLutCache.get(p)
}

func (c *lutCache) get(p LutParameters) *Lut {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[p]; ok {
		c.order.MoveToFront(elem)
		return elem.Value.(*lutCacheEntry).lut
	}
	lut := computeModalityLut(p)
	elem := c.order.PushFront(&lutCacheEntry{key: p, lut: lut})
	c.entries[p] = elem
	for c.order.Len() > lutCacheCapacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*lutCacheEntry).key)
	}
	return lut
}

func computeModalityLut(p LutParameters) *Lut {
	size := 1 << p.BitsStored
	table := make([]uint16, size)
	outMax := (1 << p.OutputBits) - 1
	inOffset := 0
	if p.Signed {
		inOffset = -(1 << (p.BitsStored - 1))
	}
	for i := 0; i < size; i++ {
		stored := i + inOffset
		if p.HasPadding && stored == p.PaddingValue {
			table[i] = 0
			continue
		}
		v := float64(stored)*p.Slope + p.Intercept
		scaled := int(v)
		if scaled < 0 {
			scaled = 0
		}
		if scaled > outMax {
			scaled = outMax
		}
		if p.Inverse {
			scaled = outMax - scaled
		}
		table[i] = uint16(scaled)
	}
	return &Lut{Params: p, Table: table}
}
