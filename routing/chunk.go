package routing

import (
	"bytes"
	"fmt"

	"github.com/google/btree"

	"github.com/routedb/routedb/proto"
)

// Chunk is an immutable value: a [Min, Max) slice of the collection's key
// space, the node owning it and its version. A routing update replaces the
// chunk object, never mutates it.
type Chunk struct {
	min, max       proto.ShardKey
	minEnc, maxEnc []byte
	node           proto.NodeID
	version        proto.ChunkVersion
}

func (c *Chunk) Min() proto.ShardKey { return c.min }

func (c *Chunk) Max() proto.ShardKey { return c.max }

func (c *Chunk) Node() proto.NodeID { return c.node }

func (c *Chunk) Version() proto.ChunkVersion { return c.version }

func (c *Chunk) Info() proto.ChunkInfo {
	return proto.ChunkInfo{Min: c.min, Max: c.max, Node: c.node, Version: c.version}
}

// containsEnc reports whether the encoded key falls in [min, max).
func (c *Chunk) containsEnc(keyEnc []byte) bool {
	return bytes.Compare(c.minEnc, keyEnc) <= 0 && bytes.Compare(keyEnc, c.maxEnc) < 0
}

func (c *Chunk) String() string {
	return fmt.Sprintf("chunk[%s, %s) @node %d v%s", c.min, c.max, c.node, c.version)
}

// chunkItem keys the chunk table by the encoded max key of each chunk.
type chunkItem struct {
	maxEnc []byte
	chunk  *Chunk
}

func (i *chunkItem) Less(than btree.Item) bool {
	return bytes.Compare(i.maxEnc, than.(*chunkItem).maxEnc) < 0
}
