package routing

import (
	"context"
	"sort"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/routedb/routedb/proto"
)

// Range is a closed interval of shard-key space. Both endpoints are full
// shard keys over the collection's pattern.
type Range struct {
	Min proto.ShardKey
	Max proto.ShardKey
}

// NodesForQuery routes a query by its planner-supplied index-bound tree:
// the tree is collapsed to per-field bounds, flattened to closed ranges
// over the key pattern and targeted like NodesForRanges. Any shape the
// resolver does not understand fails open to every node.
func (t *Table) NodesForQuery(ctx context.Context, tree *proto.BoundsNode, collation string) ([]proto.NodeID, error) {
	var ranges []Range
	if !t.simpleCollation(collation) {
		// A non-simple collation compares strings differently than the key
		// encoding does, so string bounds cannot be trusted for targeting.
		ranges = []Range{fullRange(t.meta.KeyPattern)}
	} else {
		ranges = ResolveQueryBounds(ctx, t.meta.KeyPattern, tree)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodesForRangesLocked(ranges)
}

func (t *Table) simpleCollation(collation string) bool {
	if collation == "" {
		return t.meta.DefaultCollation == "" || t.meta.DefaultCollation == proto.CollationSimple
	}
	return collation == proto.CollationSimple
}

// ResolveQueryBounds turns an index-bound tree into the closed shard-key
// ranges the query can reach. A nil tree, a full-text search anywhere in
// the tree, or any unresolvable shape yields the full key range.
func ResolveQueryBounds(ctx context.Context, pattern proto.ShardKeyPattern, tree *proto.BoundsNode) []Range {
	if tree == nil || tree.HasFullText() {
		return []Range{fullRange(pattern)}
	}

	bounds := collapseBoundsTree(ctx, tree)
	if len(bounds) != len(pattern.Fields) {
		if bounds != nil {
			trace.SpanFromContextSafe(ctx).Errorf(
				"index bounds cover %d fields, key pattern has %d", len(bounds), len(pattern.Fields))
		}
		return []Range{fullRange(pattern)}
	}
	return flattenBounds(pattern, bounds)
}

// collapseBoundsTree walks the plan tree down to one set of per-field
// bounds: a scan leaf contributes its bounds verbatim, a single child is
// passed through, and a merge node unions its children field by field.
// nil means the bounds could not be determined.
func collapseBoundsTree(ctx context.Context, node *proto.BoundsNode) []proto.FieldBounds {
	span := trace.SpanFromContextSafe(ctx)

	if len(node.Children) == 0 {
		if node.Kind != proto.BoundsScan {
			span.Errorf("no index bounds on leaf plan node of kind %d", node.Kind)
			return nil
		}
		return node.Bounds
	}
	if len(node.Children) == 1 {
		return collapseBoundsTree(ctx, node.Children[0])
	}
	if node.Kind != proto.BoundsMerge {
		span.Errorf("cannot collapse plan node of kind %d with %d children", node.Kind, len(node.Children))
		return nil
	}

	var merged []proto.FieldBounds
	for i, child := range node.Children {
		cb := collapseBoundsTree(ctx, child)
		if cb == nil {
			return nil
		}
		if i == 0 {
			merged = make([]proto.FieldBounds, len(cb))
			for j := range cb {
				merged[j] = proto.FieldBounds{
					Field:     cb[j].Field,
					Intervals: append([]proto.Interval(nil), cb[j].Intervals...),
				}
			}
			continue
		}
		if len(cb) != len(merged) {
			span.Errorf("disjunction branches disagree on bound fields: %d != %d", len(cb), len(merged))
			return nil
		}
		for j := range merged {
			merged[j].Intervals = append(merged[j].Intervals, cb[j].Intervals...)
		}
	}
	for j := range merged {
		merged[j].Intervals = unionIntervals(merged[j].Intervals)
	}
	return merged
}

// unionIntervals sorts intervals by start and merges every overlapping or
// touching pair, leaving a minimal ordered set.
func unionIntervals(ivs []proto.Interval) []proto.Interval {
	if len(ivs) <= 1 {
		return ivs
	}
	sorted := append([]proto.Interval(nil), ivs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		c := proto.CompareValues(sorted[i].Start, sorted[j].Start)
		if c != 0 {
			return c < 0
		}
		return sorted[i].StartInclusive && !sorted[j].StartInclusive
	})

	out := sorted[:1]
	for _, iv := range sorted[1:] {
		last := &out[len(out)-1]
		c := proto.CompareValues(iv.Start, last.End)
		if c > 0 || (c == 0 && !iv.StartInclusive && !last.EndInclusive) {
			out = append(out, iv)
			continue
		}
		e := proto.CompareValues(iv.End, last.End)
		if e > 0 || (e == 0 && iv.EndInclusive) {
			last.End, last.EndInclusive = iv.End, iv.EndInclusive
		}
	}
	return out
}

// flattenBounds builds the cartesian product of the per-field intervals as
// closed ranges. Once a field is constrained by a non-point interval, every
// following field is widened to its full range: the key encoding orders by
// earlier fields first, so tighter bounds past that point would cut off
// keys the query can still match.
func flattenBounds(pattern proto.ShardKeyPattern, bounds []proto.FieldBounds) []Range {
	mins := []proto.ShardKey{make(proto.ShardKey, 0, len(pattern.Fields))}
	maxs := []proto.ShardKey{make(proto.ShardKey, 0, len(pattern.Fields))}

	widen := false
	for i := range bounds {
		name := pattern.Fields[i].Name
		ivs := bounds[i].Intervals
		if widen || len(ivs) == 0 {
			for j := range mins {
				mins[j] = append(mins[j], proto.Field{Name: name, Value: proto.MinKeyValue()})
				maxs[j] = append(maxs[j], proto.Field{Name: name, Value: proto.MaxKeyValue()})
			}
			widen = true
			continue
		}
		if len(ivs) == 1 {
			for j := range mins {
				mins[j] = append(mins[j], proto.Field{Name: name, Value: ivs[0].Start})
				maxs[j] = append(maxs[j], proto.Field{Name: name, Value: ivs[0].End})
			}
			if !ivs[0].IsPoint() {
				widen = true
			}
			continue
		}

		nmins := make([]proto.ShardKey, 0, len(mins)*len(ivs))
		nmaxs := make([]proto.ShardKey, 0, len(maxs)*len(ivs))
		for _, iv := range ivs {
			for j := range mins {
				nmins = append(nmins, append(cloneKey(mins[j]), proto.Field{Name: name, Value: iv.Start}))
				nmaxs = append(nmaxs, append(cloneKey(maxs[j]), proto.Field{Name: name, Value: iv.End}))
			}
			if !iv.IsPoint() {
				widen = true
			}
		}
		mins, maxs = nmins, nmaxs
	}

	ranges := make([]Range, len(mins))
	for i := range mins {
		ranges[i] = Range{Min: mins[i], Max: maxs[i]}
	}
	return ranges
}

func cloneKey(k proto.ShardKey) proto.ShardKey {
	out := make(proto.ShardKey, len(k), cap(k))
	copy(out, k)
	return out
}

func fullRange(pattern proto.ShardKeyPattern) Range {
	return Range{Min: pattern.MinKey(), Max: pattern.MaxKey()}
}
