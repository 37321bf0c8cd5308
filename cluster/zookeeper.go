package cluster

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/go-zookeeper/zk"

	"github.com/routedb/routedb/proto"
)

const (
	defaultZKSessionTimeoutS = 5
	zkRetryIntervalS         = 2
)

type ZKConfig struct {
	Servers         []string `json:"servers"`
	RootPath        string   `json:"root_path"`
	SessionTimeoutS int      `json:"session_timeout_s"`
}

// zkWatcher keeps the registry's membership in sync with the ephemeral
// node entries under <root>/nodes. Each child is named by node id and
// carries the node descriptor as json.
type zkWatcher struct {
	conn     *zk.Conn
	rootPath string
	registry *Registry
	done     chan struct{}
}

func newZKWatcher(ctx context.Context, cfg *ZKConfig, r *Registry) (*zkWatcher, error) {
	if cfg.SessionTimeoutS <= 0 {
		cfg.SessionTimeoutS = defaultZKSessionTimeoutS
	}
	conn, _, err := zk.Connect(cfg.Servers, time.Duration(cfg.SessionTimeoutS)*time.Second)
	if err != nil {
		return nil, err
	}
	w := &zkWatcher{
		conn:     conn,
		rootPath: cfg.RootPath,
		registry: r,
		done:     make(chan struct{}),
	}
	go w.watchLoop()
	return w, nil
}

func (w *zkWatcher) watchLoop() {
	span, ctx := trace.StartSpanFromContext(context.Background(), "")
	defer span.Finish()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		children, _, events, err := w.conn.ChildrenW(w.rootPath + "/nodes")
		if err != nil {
			span.Warnf("watch membership under %s failed: %s", w.rootPath, err)
			select {
			case <-time.After(zkRetryIntervalS * time.Second):
				continue
			case <-w.done:
				return
			}
		}

		nodes := make([]proto.Node, 0, len(children))
		for _, child := range children {
			node, err := w.readNode(child)
			if err != nil {
				span.Warnf("read membership entry %s failed: %s", child, err)
				continue
			}
			nodes = append(nodes, node)
		}
		w.registry.updateNodes(ctx, nodes)

		select {
		case <-events:
		case <-w.done:
			return
		}
	}
}

func (w *zkWatcher) readNode(child string) (proto.Node, error) {
	id, err := strconv.ParseUint(child, 10, 32)
	if err != nil {
		return proto.Node{}, err
	}
	data, _, err := w.conn.Get(w.rootPath + "/nodes/" + child)
	if err != nil {
		return proto.Node{}, err
	}
	node := proto.Node{}
	if err = json.Unmarshal(data, &node); err != nil {
		return proto.Node{}, err
	}
	node.ID = proto.NodeID(id)
	return node, nil
}

func (w *zkWatcher) close() {
	close(w.done)
	w.conn.Close()
}
