package routing

import (
	"bytes"

	"github.com/google/btree"
)

const chunkTreeDegree = 32

// chunkTable is the ordered range-partition map: chunks keyed by their
// encoded max key. When fully populated it covers the whole key space with
// no gaps or overlaps.
type chunkTable struct {
	tree *btree.BTree
}

func newChunkTable() *chunkTable {
	return &chunkTable{tree: btree.New(chunkTreeDegree)}
}

// clone returns a lazily copied table; surgery on the clone never touches
// the original.
func (t *chunkTable) clone() *chunkTable {
	return &chunkTable{tree: t.tree.Clone()}
}

func (t *chunkTable) len() int {
	return t.tree.Len()
}

func (t *chunkTable) first() *Chunk {
	if it, ok := t.tree.Min().(*chunkItem); ok {
		return it.chunk
	}
	return nil
}

func (t *chunkTable) last() *Chunk {
	if it, ok := t.tree.Max().(*chunkItem); ok {
		return it.chunk
	}
	return nil
}

// upperBound returns the first chunk whose encoded max key strictly exceeds
// enc, which is the unique chunk that can contain enc.
func (t *chunkTable) upperBound(enc []byte) *Chunk {
	var found *Chunk
	t.tree.AscendGreaterOrEqual(&chunkItem{maxEnc: enc}, func(i btree.Item) bool {
		it := i.(*chunkItem)
		if bytes.Equal(it.maxEnc, enc) {
			return true
		}
		found = it.chunk
		return false
	})
	return found
}

// overlapping walks, in key order, every chunk whose range intersects
// [minEnc, maxEnc] or [minEnc, maxEnc) depending on maxInclusive. The walk
// stops early when fn returns false.
func (t *chunkTable) overlapping(minEnc, maxEnc []byte, maxInclusive bool, fn func(*Chunk) bool) {
	t.tree.AscendGreaterOrEqual(&chunkItem{maxEnc: minEnc}, func(i btree.Item) bool {
		it := i.(*chunkItem)
		// A chunk whose max equals minEnc ends before the range starts.
		if bytes.Equal(it.maxEnc, minEnc) {
			return true
		}
		cmp := bytes.Compare(it.chunk.minEnc, maxEnc)
		if cmp > 0 || (cmp == 0 && !maxInclusive) {
			return false
		}
		return fn(it.chunk)
	})
}

// replaceRange erases every chunk whose range overlaps [c.min, c.max] and
// inserts c keyed by its encoded max key.
func (t *chunkTable) replaceRange(c *Chunk) {
	var doomed []btree.Item
	t.tree.AscendGreaterOrEqual(&chunkItem{maxEnc: c.minEnc}, func(i btree.Item) bool {
		it := i.(*chunkItem)
		if bytes.Equal(it.maxEnc, c.minEnc) {
			return true
		}
		if bytes.Compare(it.maxEnc, c.maxEnc) > 0 {
			return false
		}
		doomed = append(doomed, i)
		return true
	})
	for _, i := range doomed {
		t.tree.Delete(i)
	}
	t.tree.ReplaceOrInsert(&chunkItem{maxEnc: c.maxEnc, chunk: c})
}

// ascend walks all chunks in key order until fn returns false.
func (t *chunkTable) ascend(fn func(*Chunk) bool) {
	t.tree.Ascend(func(i btree.Item) bool {
		return fn(i.(*chunkItem).chunk)
	})
}
