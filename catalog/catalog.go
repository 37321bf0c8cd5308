package catalog

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/zhangyunhao116/skipmap"
	"golang.org/x/sync/singleflight"

	apierrors "github.com/routedb/routedb/errors"
	"github.com/routedb/routedb/metrics"
	"github.com/routedb/routedb/proto"
	"github.com/routedb/routedb/routing"
)

const defaultRefreshIntervalS = 30

type Config struct {
	Feed             FeedConfig `json:"feed"`
	RefreshIntervalS int        `json:"refresh_interval_s"`
	// InPlaceUpdates switches refresh from copy-on-write snapshots to
	// in-place surgery on one long-lived table per collection.
	InPlaceUpdates bool `json:"in_place_updates"`
}

// collection pairs the published table with the sequence counter every
// snapshot of this collection draws from. The counter outlives epoch
// changes, so sequence numbers stay monotonic across full rebuilds.
type collection struct {
	name  string
	seq   *atomic.Uint64
	table atomic.Pointer[routing.Table]
}

// Catalog owns one routing table per collection, loading and refreshing
// them from the catalog feed. Concurrent refreshes of the same collection
// at the same version are deduplicated; readers always see a fully built
// table through an atomic pointer.
type Catalog struct {
	cfg  Config
	feed Feed

	collections *skipmap.StringMap[*collection]
	singleRun   singleflight.Group

	closeOnce sync.Once
	done      chan struct{}
}

func NewCatalog(ctx context.Context, cfg *Config) *Catalog {
	if cfg.RefreshIntervalS <= 0 {
		cfg.RefreshIntervalS = defaultRefreshIntervalS
	}
	c := &Catalog{
		cfg:         *cfg,
		feed:        NewFeed(&cfg.Feed),
		collections: skipmap.NewString[*collection](),
		done:        make(chan struct{}),
	}
	go c.refreshLoop()
	return c
}

// GetTable returns the routing table of the collection, fetching it from
// the catalog on first use.
func (c *Catalog) GetTable(ctx context.Context, name string) (*routing.Table, error) {
	span := trace.SpanFromContextSafe(ctx)

	if ent, ok := c.collections.Load(name); ok {
		if t := ent.table.Load(); t != nil {
			return t, nil
		}
	}
	if err := c.Refresh(ctx, name); err != nil {
		span.Errorf("refresh collection %s from catalog failed: %s", name, err)
		return nil, apierrors.ErrCollectionNotFound
	}
	if ent, ok := c.collections.Load(name); ok {
		if t := ent.table.Load(); t != nil {
			return t, nil
		}
	}
	return nil, apierrors.ErrCollectionNotFound
}

// Refresh pulls the chunks changed since the collection's current version
// and publishes the updated table. Concurrent callers seeing the same
// version share one feed round trip.
func (c *Catalog) Refresh(ctx context.Context, name string) error {
	span := trace.SpanFromContextSafe(ctx)

	var since proto.ChunkVersion
	var cur *routing.Table
	ent, ok := c.collections.Load(name)
	if ok {
		if cur = ent.table.Load(); cur != nil {
			_, since = cur.Version()
		}
	}

	_, err, _ := c.singleRun.Do(name+"@"+since.String(), func() (interface{}, error) {
		begin := time.Now()
		resp, err := c.feed.ListChangedChunks(ctx, &proto.GetCatalogChangesRequest{
			Collection: name,
			Since:      since,
		})
		if err != nil {
			span.Errorf("list changed chunks of %s since %s failed: %s", name, since, err)
			return nil, err
		}
		defer metrics.CatalogRefreshDuration.WithLabelValues(name).Observe(time.Since(begin).Seconds())

		if ent == nil {
			ent, _ = c.collections.LoadOrStoreLazy(name, func() *collection {
				return &collection{name: name, seq: new(atomic.Uint64)}
			})
		}

		// First load, or the collection was dropped and recreated under a
		// new epoch: patching is meaningless, rebuild from scratch.
		if cur == nil || resp.Meta.Epoch != cur.Meta().Epoch {
			tbl, err := routing.NewTable(ctx, resp.Meta, resp.Chunks, ent.seq)
			if err != nil {
				span.Errorf("rebuild routing table of %s failed: %s", name, err)
				return nil, err
			}
			ent.table.Store(tbl)
			return nil, nil
		}

		// A lagging feed replica can answer from behind the version we
		// already hold. That is retryable staleness, not a corrupt stream;
		// keep serving the current table and let the next refresh catch up.
		for i := range resp.Chunks {
			if v := resp.Chunks[i].Version; v.SameEpoch(since) && v.Less(since) {
				span.Warnf("catalog feed answered %s for %s behind local version %s", v, name, since)
				return nil, apierrors.ErrStaleRouteVersion
			}
		}

		if c.cfg.InPlaceUpdates {
			return nil, cur.ApplyUpdates(ctx, resp.Chunks)
		}
		next, err := cur.WithUpdates(ctx, resp.Chunks)
		if err != nil {
			return nil, err
		}
		if next != cur {
			ent.table.Store(next)
		}
		return nil, nil
	})
	return err
}

// RefreshAll refreshes every known collection; errors are logged per
// collection, not propagated, so one bad feed does not stall the rest.
func (c *Catalog) RefreshAll(ctx context.Context) {
	span := trace.SpanFromContextSafe(ctx)
	c.collections.Range(func(name string, _ *collection) bool {
		if err := c.Refresh(ctx, name); err != nil {
			span.Warnf("auto refresh of %s failed: %s", name, err)
		}
		return true
	})
}

func (c *Catalog) refreshLoop() {
	ticker := time.NewTicker(time.Duration(c.cfg.RefreshIntervalS) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			span, ctx := trace.StartSpanFromContext(context.Background(), "")
			c.RefreshAll(ctx)
			span.Finish()
		case <-c.done:
			return
		}
	}
}

func (c *Catalog) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.feed.Close()
	})
}
