package routing

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	apierrors "github.com/routedb/routedb/errors"
	"github.com/routedb/routedb/keystring"
	"github.com/routedb/routedb/proto"
	"github.com/routedb/routedb/util"
)

const encodeBufSize = 64

// Table is the routing snapshot of one sharded collection: the chunk table,
// the per-node maximum versions derived from it, the collection version and
// a sequence number that advances only when the set of owned ranges
// actually changes.
//
// A Table published through the copy-on-write path (NewTable, WithUpdates)
// is never mutated again and may be read by any number of goroutines. The
// in-place path (ApplyUpdates) mutates a single long-lived Table; every
// read then synchronizes through the table's RWMutex, which guards the
// chunk table, node versions, collection version and sequence number as one
// unit.
type Table struct {
	seqSource *atomic.Uint64

	mu           sync.RWMutex
	seq          uint64
	meta         proto.CollectionMeta
	chunks       *chunkTable
	nodeVersions map[proto.NodeID]proto.ChunkVersion
	version      proto.ChunkVersion
}

// NewTable builds a table from a chunk listing, ordered by version. The
// sequence source assigns identity to this table and every snapshot derived
// from it; pass nil to start a fresh one.
func NewTable(ctx context.Context, meta proto.CollectionMeta, chunks []proto.ChunkInfo, seqSource *atomic.Uint64) (*Table, error) {
	if seqSource == nil {
		seqSource = new(atomic.Uint64)
	}
	tbl := newChunkTable()
	version, err := applyChangedChunks(ctx, tbl, meta.KeyPattern, proto.NewChunkVersion(0, 0, meta.Epoch), chunks, nil)
	if err != nil {
		return nil, err
	}
	nodeVersions, err := buildNodeVersions(tbl, meta.KeyPattern)
	if err != nil {
		return nil, err
	}
	return &Table{
		seqSource:    seqSource,
		seq:          seqSource.Add(1),
		meta:         meta,
		chunks:       tbl,
		nodeVersions: nodeVersions,
		version:      version,
	}, nil
}

// WithUpdates applies changed chunks to a private copy of the chunk table
// and returns a new snapshot. If no chunk actually advanced the collection
// version, the receiver itself is returned: callers rely on reference
// identity, not content comparison, to detect "nothing changed".
func (t *Table) WithUpdates(ctx context.Context, changed []proto.ChunkInfo) (*Table, error) {
	t.mu.RLock()
	tbl := t.chunks.clone()
	start := t.version
	t.mu.RUnlock()

	version, err := applyChangedChunks(ctx, tbl, t.meta.KeyPattern, start, changed, nil)
	if err != nil {
		return nil, err
	}
	if version.Equal(start) {
		return t, nil
	}
	nodeVersions, err := buildNodeVersions(tbl, t.meta.KeyPattern)
	if err != nil {
		return nil, err
	}
	return &Table{
		seqSource:    t.seqSource,
		seq:          t.seqSource.Add(1),
		meta:         t.meta,
		chunks:       tbl,
		nodeVersions: nodeVersions,
		version:      version,
	}, nil
}

// ApplyUpdates performs the same surgery on the live table under the
// exclusive lock, raising each affected node's entry in the node-version
// index and bumping the sequence number only if the collection version
// advanced. This path keeps the Table a single long-lived object for
// callers that track it by identity.
func (t *Table) ApplyUpdates(ctx context.Context, changed []proto.ChunkInfo) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := t.version
	version, err := applyChangedChunks(ctx, t.chunks, t.meta.KeyPattern, start, changed, func(c *Chunk) {
		if v, ok := t.nodeVersions[c.node]; !ok || v.Less(c.version) {
			t.nodeVersions[c.node] = c.version
		}
	})
	if err != nil {
		return err
	}
	if version.Equal(start) {
		return nil
	}
	t.version = version
	t.seq = t.seqSource.Add(1)
	return nil
}

// applyChangedChunks validates and applies a version-ordered chunk stream:
// every chunk must carry the table's epoch, and versions must never regress
// behind the collection version already reached. A regression means the
// update feed is corrupt; it is fatal rather than retried here.
func applyChangedChunks(ctx context.Context, tbl *chunkTable, pattern proto.ShardKeyPattern,
	current proto.ChunkVersion, changed []proto.ChunkInfo, applied func(*Chunk),
) (proto.ChunkVersion, error) {
	span := trace.SpanFromContextSafe(ctx)

	for i := range changed {
		if changed[i].Version.Epoch != current.Epoch {
			return current, apierrors.ErrEpochMismatch
		}
	}

	// Build every chunk before touching the table: a bad descriptor
	// anywhere in the batch must leave the table and the node-version
	// index untouched.
	built := make([]*Chunk, 0, len(changed))
	for i := range changed {
		info := &changed[i]
		if info.Version.Less(current) {
			span.Panicf("chunk %s version %s regresses behind collection version %s",
				info.Min, info.Version, current)
		}
		current = info.Version

		c, err := newChunk(pattern, info)
		if err != nil {
			return current, err
		}
		built = append(built, c)
	}

	for _, c := range built {
		tbl.replaceRange(c)
		if applied != nil {
			applied(c)
		}
	}
	return current, nil
}

func newChunk(pattern proto.ShardKeyPattern, info *proto.ChunkInfo) (*Chunk, error) {
	minEnc, err := keystring.Encode(pattern, info.Min)
	if err != nil {
		return nil, err
	}
	maxEnc, err := keystring.Encode(pattern, info.Max)
	if err != nil {
		return nil, err
	}
	if string(minEnc) >= string(maxEnc) {
		return nil, apierrors.ErrRoutingTableCorrupt
	}
	return &Chunk{
		min:     info.Min,
		max:     info.Max,
		minEnc:  minEnc,
		maxEnc:  maxEnc,
		node:    info.Node,
		version: info.Version,
	}, nil
}

// buildNodeVersions derives the per-node maximum chunk version in one
// linear pass, aggregating consecutive same-node runs so that each run
// costs a single map update. It also enforces the coverage post-condition:
// a non-empty table must start at the global minimum sentinel and end at
// the global maximum sentinel.
func buildNodeVersions(tbl *chunkTable, pattern proto.ShardKeyPattern) (map[proto.NodeID]proto.ChunkVersion, error) {
	versions := make(map[proto.NodeID]proto.ChunkVersion)
	if tbl.len() == 0 {
		return versions, nil
	}

	var (
		runNode proto.NodeID
		runMax  proto.ChunkVersion
		started bool
	)
	flush := func() {
		if !started {
			return
		}
		if v, ok := versions[runNode]; !ok || v.Less(runMax) {
			versions[runNode] = runMax
		}
	}
	tbl.ascend(func(c *Chunk) bool {
		if !started || c.node != runNode {
			flush()
			runNode, runMax, started = c.node, c.version, true
		} else if runMax.Less(c.version) {
			runMax = c.version
		}
		return true
	})
	flush()

	minEnc, err := keystring.Encode(pattern, pattern.MinKey())
	if err != nil {
		return nil, err
	}
	maxEnc, err := keystring.Encode(pattern, pattern.MaxKey())
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(tbl.first().minEnc, minEnc) || !bytes.Equal(tbl.last().maxEnc, maxEnc) {
		return nil, apierrors.ErrRoutingTableCorrupt
	}
	return versions, nil
}

// FindIntersectingChunk returns the unique chunk whose range contains the
// key. Under a non-simple effective collation, keys with collation
// sensitive values cannot target a single chunk.
func (t *Table) FindIntersectingChunk(ctx context.Context, key proto.ShardKey, collation string) (*Chunk, error) {
	if !t.simpleCollation(collation) {
		for _, f := range key {
			if f.Value.Collatable() {
				return nil, apierrors.ErrKeyNotFound
			}
		}
	}

	buf := util.GetBuffer(encodeBufSize)
	enc, err := keystring.AppendEncode(buf, t.meta.KeyPattern, key)
	if err != nil {
		util.PutBuffer(enc)
		return nil, err
	}

	t.mu.RLock()
	c := t.chunks.upperBound(enc)
	t.mu.RUnlock()

	// The containment check guards against a key that encodes outside the
	// chunk actually found, e.g. one incompatible with the table's state.
	ok := c != nil && c.containsEnc(enc)
	util.PutBuffer(enc)
	if !ok {
		return nil, apierrors.ErrKeyNotFound
	}
	return c, nil
}

// OverlappingChunks returns, in key order, every chunk intersecting
// [min, max] or [min, max) depending on maxInclusive.
func (t *Table) OverlappingChunks(ctx context.Context, min, max proto.ShardKey, maxInclusive bool) ([]*Chunk, error) {
	minEnc, err := keystring.Encode(t.meta.KeyPattern, min)
	if err != nil {
		return nil, err
	}
	maxEnc, err := keystring.Encode(t.meta.KeyPattern, max)
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Chunk
	t.chunks.overlapping(minEnc, maxEnc, maxInclusive, func(c *Chunk) bool {
		out = append(out, c)
		return true
	})
	return out, nil
}

// NodesForRanges collects the owners of every chunk intersecting the given
// closed ranges, stopping early once every owning node has been seen. The
// result is never empty while any node is known: an empty table falls back
// to one arbitrary known node, since callers assume at least one target.
func (t *Table) NodesForRanges(ctx context.Context, ranges []Range) ([]proto.NodeID, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodesForRangesLocked(ranges)
}

func (t *Table) nodesForRangesLocked(ranges []Range) ([]proto.NodeID, error) {
	owners := len(t.nodeVersions)
	set := make(map[proto.NodeID]struct{}, owners)

	for _, r := range ranges {
		minEnc, err := keystring.Encode(t.meta.KeyPattern, r.Min)
		if err != nil {
			return nil, err
		}
		maxEnc, err := keystring.Encode(t.meta.KeyPattern, r.Max)
		if err != nil {
			return nil, err
		}
		t.chunks.overlapping(minEnc, maxEnc, true, func(c *Chunk) bool {
			set[c.node] = struct{}{}
			return len(set) < owners
		})
		// No further range can contribute a node we have not seen.
		if owners > 0 && len(set) == owners {
			break
		}
	}

	if len(set) == 0 {
		if id, ok := t.fallbackNodeLocked(); ok {
			set[id] = struct{}{}
		}
	}

	ids := make([]proto.NodeID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (t *Table) fallbackNodeLocked() (proto.NodeID, bool) {
	var best proto.NodeID
	ok := false
	for id := range t.nodeVersions {
		if !ok || id < best {
			best, ok = id, true
		}
	}
	if ok {
		return best, true
	}
	// An empty table owns nothing; fall back to cluster membership from the
	// catalog metadata.
	for _, id := range t.meta.Nodes {
		if !ok || id < best {
			best, ok = id, true
		}
	}
	return best, ok
}

// Version returns the sequence number and collection version as one
// consistent pair.
func (t *Table) Version() (proto.SequenceNum, proto.ChunkVersion) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.seq, t.version
}

// NodeVersion returns the maximum chunk version held by the node. Nodes
// owning no chunk hold version (0, 0, epoch).
func (t *Table) NodeVersion(id proto.NodeID) proto.ChunkVersion {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if v, ok := t.nodeVersions[id]; ok {
		return v
	}
	return proto.NewChunkVersion(0, 0, t.meta.Epoch)
}

// AllNodes returns the sorted ids of every node owning at least one chunk.
func (t *Table) AllNodes() []proto.NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]proto.NodeID, 0, len(t.nodeVersions))
	for id := range t.nodeVersions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (t *Table) NumChunks() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.chunks.len()
}

func (t *Table) Meta() proto.CollectionMeta {
	return t.meta
}

// ListChunks returns one page of the chunk table in key order plus the
// total chunk count, for external consistency-checking tools.
func (t *Table) ListChunks(offset, limit int) ([]proto.ChunkInfo, int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	total := t.chunks.len()
	// offset 0 is always addressable: an empty table lists as an empty page
	if offset < 0 || (offset > 0 && offset >= total) {
		return nil, total, apierrors.ErrOffsetOutOfRange
	}
	if limit <= 0 {
		return nil, total, nil
	}

	page := make([]proto.ChunkInfo, 0, limit)
	skipped := 0
	t.chunks.ascend(func(c *Chunk) bool {
		if skipped < offset {
			skipped++
			return true
		}
		page = append(page, c.Info())
		return len(page) < limit
	})
	return page, total, nil
}
