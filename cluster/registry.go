package cluster

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/balancer/roundrobin"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"

	apierrors "github.com/routedb/routedb/errors"
	"github.com/routedb/routedb/metrics"
	"github.com/routedb/routedb/proto"
)

type TransportConfig struct {
	ConnectTimeoutMs   uint32 `json:"connect_timeout_ms"`
	KeepaliveTimeoutS  uint32 `json:"keepalive_timeout_s"`
	BackoffBaseDelayMs uint32 `json:"backoff_base_delay_ms"`
	BackoffMaxDelayMs  uint32 `json:"backoff_max_delay_ms"`
}

type Config struct {
	// Nodes seeds the address table; a configured ZK watcher keeps it
	// current afterwards.
	Nodes     []proto.Node    `json:"nodes"`
	Transport TransportConfig `json:"transport"`
	ZK        *ZKConfig       `json:"zk,omitempty"`
}

// Registry resolves node ids to live grpc connections. Connections are
// dialed lazily on first use and cached until the node disappears from the
// membership or the registry closes.
type Registry struct {
	transport TransportConfig

	mu      sync.RWMutex
	nodes   map[proto.NodeID]proto.Node
	conns   map[proto.NodeID]*grpc.ClientConn
	watcher *zkWatcher
}

func NewRegistry(ctx context.Context, cfg *Config) (*Registry, error) {
	r := &Registry{
		transport: cfg.Transport,
		nodes:     make(map[proto.NodeID]proto.Node, len(cfg.Nodes)),
		conns:     make(map[proto.NodeID]*grpc.ClientConn),
	}
	for _, n := range cfg.Nodes {
		r.nodes[n.ID] = n
	}
	if cfg.ZK != nil {
		watcher, err := newZKWatcher(ctx, cfg.ZK, r)
		if err != nil {
			return nil, err
		}
		r.watcher = watcher
	}
	return r, nil
}

func (r *Registry) GetNode(id proto.NodeID) (proto.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	if !ok {
		return proto.Node{}, apierrors.ErrNodeNotFound
	}
	return n, nil
}

// GetConn returns the cached connection to the node, dialing it on first
// use.
func (r *Registry) GetConn(ctx context.Context, id proto.NodeID) (*grpc.ClientConn, error) {
	r.mu.RLock()
	conn, ok := r.conns[id]
	r.mu.RUnlock()
	if ok {
		return conn, nil
	}

	node, err := r.GetNode(id)
	if err != nil {
		return nil, err
	}
	addr := node.Addr + ":" + strconv.Itoa(int(node.GrpcPort))
	conn, err = grpc.DialContext(ctx, addr, r.dialOpts()...)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.conns[id]; ok {
		conn.Close()
		return cached, nil
	}
	r.conns[id] = conn
	return conn, nil
}

// updateNodes replaces the membership. Connections to nodes that left, or
// whose address changed, are closed and redialed on next use.
func (r *Registry) updateNodes(ctx context.Context, nodes []proto.Node) {
	span := trace.SpanFromContextSafe(ctx)

	next := make(map[proto.NodeID]proto.Node, len(nodes))
	for _, n := range nodes {
		next[n.ID] = n
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, conn := range r.conns {
		n, ok := next[id]
		if ok && n.Addr == r.nodes[id].Addr && n.GrpcPort == r.nodes[id].GrpcPort {
			continue
		}
		span.Infof("node %d left or moved, dropping connection", id)
		conn.Close()
		delete(r.conns, id)
	}
	r.nodes = next
}

func (r *Registry) Close() {
	if r.watcher != nil {
		r.watcher.close()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, conn := range r.conns {
		conn.Close()
		delete(r.conns, id)
	}
}

func unaryInterceptorWithTracer(ctx context.Context, method string, req, reply interface{},
	cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption,
) error {
	span := trace.SpanFromContextSafe(ctx)
	ctx = metadata.NewOutgoingContext(ctx, metadata.Pairs(
		"req-id", span.TraceID(),
	))

	return invoker(ctx, method, req, reply, cc, opts...)
}

func (r *Registry) dialOpts() []grpc.DialOption {
	cfg := r.transport
	return []grpc.DialOption{
		grpc.WithDefaultCallOptions(
			grpc.MaxCallSendMsgSize(math.MaxInt64),
			grpc.MaxCallRecvMsgSize(math.MaxInt64),
		),
		grpc.WithKeepaliveParams(
			keepalive.ClientParameters{
				Timeout:             time.Duration(cfg.KeepaliveTimeoutS) * time.Second,
				PermitWithoutStream: true,
			},
		),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff: backoff.Config{
				BaseDelay: time.Duration(cfg.BackoffBaseDelayMs) * time.Millisecond,
				MaxDelay:  time.Duration(cfg.BackoffMaxDelayMs) * time.Millisecond,
			},
			MinConnectTimeout: time.Millisecond * time.Duration(cfg.ConnectTimeoutMs),
		}),
		grpc.WithChainUnaryInterceptor(
			unaryInterceptorWithTracer,
			metrics.GRPCClientMetrics.UnaryClientInterceptor(),
		),
		grpc.WithDefaultServiceConfig(fmt.Sprintf(`{"LoadBalancingPolicy": "%s"}`, roundrobin.Name)),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
}
