package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/zhangyunhao116/skipmap"

	apierrors "github.com/routedb/routedb/errors"
	"github.com/routedb/routedb/proto"
)

var testCtx = context.Background()

type fakeFeed struct {
	mu    sync.Mutex
	calls int
	queue []*proto.GetCatalogChangesResponse
	err   error

	lastReq proto.GetCatalogChangesRequest
}

func (f *fakeFeed) ListChangedChunks(ctx context.Context, args *proto.GetCatalogChangesRequest) (*proto.GetCatalogChangesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastReq = *args
	if f.err != nil {
		return nil, f.err
	}
	resp := f.queue[0]
	if len(f.queue) > 1 {
		f.queue = f.queue[1:]
	}
	return resp, nil
}

func (f *fakeFeed) Close() {}

func newTestCatalog(feed Feed, inPlace bool) *Catalog {
	return &Catalog{
		cfg:         Config{InPlaceUpdates: inPlace},
		feed:        feed,
		collections: skipmap.NewString[*collection](),
		done:        make(chan struct{}),
	}
}

func testPattern() proto.ShardKeyPattern {
	return proto.ShardKeyPattern{Fields: []proto.KeyField{{Name: "uid", Asc: true}}}
}

func numKey(v float64) proto.ShardKey {
	return proto.ShardKey{{Name: "uid", Value: proto.NumberValue(v)}}
}

func fullListing(epoch uuid.UUID) *proto.GetCatalogChangesResponse {
	p := testPattern()
	return &proto.GetCatalogChangesResponse{
		Meta: proto.CollectionMeta{
			Name:       "users",
			KeyPattern: p,
			Epoch:      epoch,
			Nodes:      []proto.NodeID{1, 2},
		},
		Chunks: []proto.ChunkInfo{
			{Min: p.MinKey(), Max: numKey(10), Node: 1, Version: proto.NewChunkVersion(1, 0, epoch)},
			{Min: numKey(10), Max: p.MaxKey(), Node: 2, Version: proto.NewChunkVersion(1, 1, epoch)},
		},
	}
}

func TestGetTableLoadsOnce(t *testing.T) {
	epoch := uuid.New()
	feed := &fakeFeed{queue: []*proto.GetCatalogChangesResponse{fullListing(epoch)}}
	c := newTestCatalog(feed, false)
	defer c.Close()

	tbl, err := c.GetTable(testCtx, "users")
	require.NoError(t, err)
	require.Equal(t, 2, tbl.NumChunks())
	require.False(t, feed.lastReq.Since.IsSet())

	// the cached table is served without another feed round trip
	again, err := c.GetTable(testCtx, "users")
	require.NoError(t, err)
	require.Same(t, tbl, again)
	require.Equal(t, 1, feed.calls)
}

func TestGetTableFeedFailure(t *testing.T) {
	feed := &fakeFeed{err: errors.New("feed unavailable")}
	c := newTestCatalog(feed, false)
	defer c.Close()

	_, err := c.GetTable(testCtx, "missing")
	require.ErrorIs(t, err, apierrors.ErrCollectionNotFound)
}

func TestRefreshCopyOnWrite(t *testing.T) {
	epoch := uuid.New()
	split := &proto.GetCatalogChangesResponse{
		Meta: fullListing(epoch).Meta,
		Chunks: []proto.ChunkInfo{
			{Min: numKey(10), Max: numKey(20), Node: 3, Version: proto.NewChunkVersion(2, 0, epoch)},
			{Min: numKey(20), Max: testPattern().MaxKey(), Node: 2, Version: proto.NewChunkVersion(2, 1, epoch)},
		},
	}
	feed := &fakeFeed{queue: []*proto.GetCatalogChangesResponse{fullListing(epoch), split}}
	c := newTestCatalog(feed, false)
	defer c.Close()

	before, err := c.GetTable(testCtx, "users")
	require.NoError(t, err)

	require.NoError(t, c.Refresh(testCtx, "users"))
	require.True(t, feed.lastReq.Since.Equal(proto.NewChunkVersion(1, 1, epoch)))

	after, err := c.GetTable(testCtx, "users")
	require.NoError(t, err)
	require.NotSame(t, before, after)
	require.Equal(t, 3, after.NumChunks())

	// outstanding readers of the old snapshot still see a consistent table
	require.Equal(t, 2, before.NumChunks())

	seqBefore, _ := before.Version()
	seqAfter, _ := after.Version()
	require.Equal(t, seqBefore+1, seqAfter)
}

func TestRefreshInPlace(t *testing.T) {
	epoch := uuid.New()
	move := &proto.GetCatalogChangesResponse{
		Meta: fullListing(epoch).Meta,
		Chunks: []proto.ChunkInfo{
			{Min: numKey(10), Max: testPattern().MaxKey(), Node: 3, Version: proto.NewChunkVersion(2, 0, epoch)},
		},
	}
	feed := &fakeFeed{queue: []*proto.GetCatalogChangesResponse{fullListing(epoch), move}}
	c := newTestCatalog(feed, true)
	defer c.Close()

	before, err := c.GetTable(testCtx, "users")
	require.NoError(t, err)

	require.NoError(t, c.Refresh(testCtx, "users"))

	after, err := c.GetTable(testCtx, "users")
	require.NoError(t, err)
	require.Same(t, before, after)

	chunk, err := after.FindIntersectingChunk(testCtx, numKey(15), "")
	require.NoError(t, err)
	require.Equal(t, proto.NodeID(3), chunk.Node())
}

func TestRefreshStaleFeed(t *testing.T) {
	epoch := uuid.New()
	// the feed answers from behind the version the catalog already holds
	stale := &proto.GetCatalogChangesResponse{
		Meta: fullListing(epoch).Meta,
		Chunks: []proto.ChunkInfo{
			{Min: numKey(10), Max: testPattern().MaxKey(), Node: 3, Version: proto.NewChunkVersion(1, 0, epoch)},
		},
	}
	feed := &fakeFeed{queue: []*proto.GetCatalogChangesResponse{fullListing(epoch), stale}}
	c := newTestCatalog(feed, false)
	defer c.Close()

	before, err := c.GetTable(testCtx, "users")
	require.NoError(t, err)

	err = c.Refresh(testCtx, "users")
	require.ErrorIs(t, err, apierrors.ErrStaleRouteVersion)

	// the current table keeps serving untouched
	after, err := c.GetTable(testCtx, "users")
	require.NoError(t, err)
	require.Same(t, before, after)
	chunk, err := after.FindIntersectingChunk(testCtx, numKey(15), "")
	require.NoError(t, err)
	require.Equal(t, proto.NodeID(2), chunk.Node())
}

func TestRefreshEpochChangeRebuilds(t *testing.T) {
	oldEpoch, newEpoch := uuid.New(), uuid.New()
	feed := &fakeFeed{queue: []*proto.GetCatalogChangesResponse{fullListing(oldEpoch), fullListing(newEpoch)}}
	c := newTestCatalog(feed, false)
	defer c.Close()

	before, err := c.GetTable(testCtx, "users")
	require.NoError(t, err)

	require.NoError(t, c.Refresh(testCtx, "users"))

	after, err := c.GetTable(testCtx, "users")
	require.NoError(t, err)
	require.NotSame(t, before, after)
	require.Equal(t, newEpoch, after.Meta().Epoch)

	// sequence numbers stay monotonic across the rebuild
	seqBefore, _ := before.Version()
	seqAfter, _ := after.Version()
	require.Greater(t, seqAfter, seqBefore)
}
