package routing

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	apierrors "github.com/routedb/routedb/errors"
	"github.com/routedb/routedb/proto"
)

func interval(start, end proto.FieldValue, startIncl, endIncl bool) proto.Interval {
	return proto.Interval{Start: start, End: end, StartInclusive: startIncl, EndInclusive: endIncl}
}

func point(v float64) proto.Interval {
	return interval(proto.NumberValue(v), proto.NumberValue(v), true, true)
}

func scanNode(field string, ivs ...proto.Interval) *proto.BoundsNode {
	return &proto.BoundsNode{
		Kind:   proto.BoundsScan,
		Bounds: []proto.FieldBounds{{Field: field, Intervals: ivs}},
	}
}

func fullScanNode(field string) *proto.BoundsNode {
	return scanNode(field, interval(proto.MinKeyValue(), proto.MaxKeyValue(), true, true))
}

func TestResolveQueryBoundsFailOpen(t *testing.T) {
	pattern := testPattern()
	full := []Range{fullRange(pattern)}

	require.Equal(t, full, ResolveQueryBounds(testCtx, pattern, nil))

	require.Equal(t, full, ResolveQueryBounds(testCtx, pattern, &proto.BoundsNode{
		Kind:     proto.BoundsScan,
		FullText: true,
	}))

	// a full-text child poisons the whole tree
	require.Equal(t, full, ResolveQueryBounds(testCtx, pattern, &proto.BoundsNode{
		Kind: proto.BoundsMerge,
		Children: []*proto.BoundsNode{
			scanNode("uid", point(1)),
			{Kind: proto.BoundsScan, FullText: true},
		},
	}))

	// leaf of a kind that carries no bounds
	require.Equal(t, full, ResolveQueryBounds(testCtx, pattern, &proto.BoundsNode{
		Kind: proto.BoundsFilter,
	}))

	// disjunction branches disagreeing on bound fields
	require.Equal(t, full, ResolveQueryBounds(testCtx, pattern, &proto.BoundsNode{
		Kind: proto.BoundsMerge,
		Children: []*proto.BoundsNode{
			scanNode("uid", point(1)),
			{
				Kind: proto.BoundsScan,
				Bounds: []proto.FieldBounds{
					{Field: "uid", Intervals: []proto.Interval{point(2)}},
					{Field: "ts", Intervals: []proto.Interval{point(3)}},
				},
			},
		},
	}))
}

func TestResolveQueryBoundsShapes(t *testing.T) {
	pattern := testPattern()

	ranges := ResolveQueryBounds(testCtx, pattern, scanNode("uid", point(5)))
	require.Len(t, ranges, 1)
	require.Equal(t, numKey(5), ranges[0].Min)
	require.Equal(t, numKey(5), ranges[0].Max)

	// a filter stage over a scan passes through
	wrapped := &proto.BoundsNode{
		Kind:     proto.BoundsFilter,
		Children: []*proto.BoundsNode{scanNode("uid", point(5))},
	}
	require.Equal(t, ranges, ResolveQueryBounds(testCtx, pattern, wrapped))

	// disjunction of two disjoint intervals keeps two ranges
	or := &proto.BoundsNode{
		Kind: proto.BoundsMerge,
		Children: []*proto.BoundsNode{
			scanNode("uid", interval(proto.NumberValue(1), proto.NumberValue(2), true, false)),
			scanNode("uid", interval(proto.NumberValue(5), proto.NumberValue(6), true, false)),
		},
	}
	ranges = ResolveQueryBounds(testCtx, pattern, or)
	require.Len(t, ranges, 2)
	require.Equal(t, numKey(1), ranges[0].Min)
	require.Equal(t, numKey(2), ranges[0].Max)
	require.Equal(t, numKey(5), ranges[1].Min)
	require.Equal(t, numKey(6), ranges[1].Max)
}

func TestUnionIntervals(t *testing.T) {
	merged := unionIntervals([]proto.Interval{
		interval(proto.NumberValue(3), proto.NumberValue(7), true, true),
		interval(proto.NumberValue(1), proto.NumberValue(5), true, true),
	})
	require.Len(t, merged, 1)
	require.Equal(t, proto.NumberValue(1), merged[0].Start)
	require.Equal(t, proto.NumberValue(7), merged[0].End)

	// touching half-open intervals coalesce
	merged = unionIntervals([]proto.Interval{
		interval(proto.NumberValue(1), proto.NumberValue(2), true, false),
		interval(proto.NumberValue(2), proto.NumberValue(3), true, false),
	})
	require.Len(t, merged, 1)
	require.Equal(t, proto.NumberValue(3), merged[0].End)

	// both ends open at the same value leave a gap
	merged = unionIntervals([]proto.Interval{
		interval(proto.NumberValue(1), proto.NumberValue(2), true, false),
		interval(proto.NumberValue(2), proto.NumberValue(3), false, true),
	})
	require.Len(t, merged, 2)
}

func TestFlattenBoundsCompoundKey(t *testing.T) {
	pattern := proto.ShardKeyPattern{Fields: []proto.KeyField{
		{Name: "a", Asc: true},
		{Name: "b", Asc: true},
	}}
	numVal := proto.NumberValue

	// point on a, range on b: b's bounds survive
	ranges := flattenBounds(pattern, []proto.FieldBounds{
		{Field: "a", Intervals: []proto.Interval{point(1)}},
		{Field: "b", Intervals: []proto.Interval{interval(numVal(3), numVal(5), true, true)}},
	})
	require.Len(t, ranges, 1)
	require.Equal(t, numVal(3), ranges[0].Min[1].Value)
	require.Equal(t, numVal(5), ranges[0].Max[1].Value)

	// range on a: b is widened to the full field range
	ranges = flattenBounds(pattern, []proto.FieldBounds{
		{Field: "a", Intervals: []proto.Interval{interval(numVal(1), numVal(2), true, true)}},
		{Field: "b", Intervals: []proto.Interval{point(3)}},
	})
	require.Len(t, ranges, 1)
	require.Equal(t, proto.MinKeyValue(), ranges[0].Min[1].Value)
	require.Equal(t, proto.MaxKeyValue(), ranges[0].Max[1].Value)

	// two intervals on a fan out into a cartesian product
	ranges = flattenBounds(pattern, []proto.FieldBounds{
		{Field: "a", Intervals: []proto.Interval{point(1), point(2)}},
		{Field: "b", Intervals: []proto.Interval{point(3), point(4)}},
	})
	require.Len(t, ranges, 4)
}

func TestNodesForQuery(t *testing.T) {
	epoch := uuid.New()
	tbl := baseTable(t, epoch)

	nodes, err := tbl.NodesForQuery(testCtx, scanNode("uid", point(12)), "")
	require.NoError(t, err)
	require.Equal(t, []proto.NodeID{2}, nodes)

	// a full scan reaches every node owning at least one chunk
	nodes, err = tbl.NodesForQuery(testCtx, fullScanNode("uid"), "")
	require.NoError(t, err)
	require.Equal(t, tbl.AllNodes(), nodes)

	// unresolvable trees route everywhere
	nodes, err = tbl.NodesForQuery(testCtx, nil, "")
	require.NoError(t, err)
	require.Equal(t, []proto.NodeID{1, 2, 3}, nodes)

	// non-simple collation distrusts all bounds
	nodes, err = tbl.NodesForQuery(testCtx, scanNode("uid", point(12)), "en")
	require.NoError(t, err)
	require.Equal(t, []proto.NodeID{1, 2, 3}, nodes)

	or := &proto.BoundsNode{
		Kind: proto.BoundsMerge,
		Children: []*proto.BoundsNode{
			scanNode("uid", interval(proto.NumberValue(1), proto.NumberValue(2), true, false)),
			scanNode("uid", interval(proto.NumberValue(25), proto.NumberValue(26), true, false)),
		},
	}
	nodes, err = tbl.NodesForQuery(testCtx, or, "")
	require.NoError(t, err)
	require.Equal(t, []proto.NodeID{1, 3}, nodes)
}

func TestNodesForRangesEarlyExit(t *testing.T) {
	epoch := uuid.New()
	tbl := baseTable(t, epoch)

	badRange := Range{
		Min: proto.ShardKey{{Name: "other", Value: proto.NumberValue(1)}},
		Max: proto.ShardKey{{Name: "other", Value: proto.NumberValue(2)}},
	}
	_, err := tbl.NodesForRanges(testCtx, []Range{badRange})
	require.ErrorIs(t, err, apierrors.ErrInvalidShardKey)

	// the first two ranges already collect every owning node, so the scan
	// stops before it ever reaches the unencodable trailing range
	nodes, err := tbl.NodesForRanges(testCtx, []Range{
		{Min: numKey(5), Max: numKey(12)},
		{Min: numKey(25), Max: numKey(26)},
		badRange,
	})
	require.NoError(t, err)
	require.Equal(t, []proto.NodeID{1, 2, 3}, nodes)
}

func TestNodesForRangesEmptyTable(t *testing.T) {
	epoch := uuid.New()
	tbl, err := NewTable(testCtx, testMeta(epoch), nil, nil)
	require.NoError(t, err)

	nodes, err := tbl.NodesForRanges(testCtx, []Range{fullRange(testPattern())})
	require.NoError(t, err)
	require.Equal(t, []proto.NodeID{1}, nodes)
}
