package catalog

import (
	"context"

	"github.com/cubefs/cubefs/blobstore/common/rpc"

	"github.com/routedb/routedb/proto"
)

// Feed is the catalog change source: an ordered, epoch-tagged stream of
// chunk descriptors changed since a given version, plus the collection
// metadata they belong to.
type Feed interface {
	ListChangedChunks(ctx context.Context, args *proto.GetCatalogChangesRequest) (*proto.GetCatalogChangesResponse, error)
	Close()
}

type FeedConfig struct {
	LbConfig rpc.LbConfig `json:"rpc"`
}

// httpFeed consumes the catalog service's HTTP endpoint, load balancing
// across the configured hosts.
type httpFeed struct {
	client rpc.Client
}

func NewFeed(cfg *FeedConfig) Feed {
	return &httpFeed{client: rpc.NewLbClient(&cfg.LbConfig, nil)}
}

func (f *httpFeed) ListChangedChunks(ctx context.Context, args *proto.GetCatalogChangesRequest) (*proto.GetCatalogChangesResponse, error) {
	ret := &proto.GetCatalogChangesResponse{}
	if err := f.client.PostWith(ctx, "/catalog/changes", ret, args); err != nil {
		return nil, err
	}
	return ret, nil
}

func (f *httpFeed) Close() {
	f.client.Close()
}
