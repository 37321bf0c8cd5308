package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/profile"
	"github.com/cubefs/cubefs/blobstore/common/rpc"
	"github.com/cubefs/cubefs/blobstore/common/rpc/auditlog"
	"github.com/cubefs/cubefs/blobstore/util/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apierrors "github.com/routedb/routedb/errors"
	"github.com/routedb/routedb/metrics"
	"github.com/routedb/routedb/proto"
)

const (
	defaultShutdownTimeoutS      = 10
	defaultReadRequestTimeoutS   = 30
	defaultWriteResponseTimeoutS = 30

	maxListNum = 1000
)

type HttpServer struct {
	httpServer *http.Server

	*Server
}

func NewHttpServer(server *Server) *HttpServer {
	return &HttpServer{Server: server}
}

func (h *HttpServer) Serve(addr string) {
	ph := profile.NewProfileHandler(addr)
	logHandler, recorder, err := auditlog.Open("ROUTEDB", &h.Server.auditConfig)
	if err != nil {
		log.Fatal("open audit log failed:", err)
	}
	h.Server.auditRecorder = recorder

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      rpc.MiddlewareHandlerWith(h.newHandler(), logHandler, ph),
		ReadTimeout:  defaultReadRequestTimeoutS * time.Second,
		WriteTimeout: defaultWriteResponseTimeoutS * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server exits:", err)
		}
	}()
	h.httpServer = httpServer

	log.Info("http server is running at:", addr)
}

func (h *HttpServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeoutS*time.Second)
	defer cancel()

	h.httpServer.Shutdown(ctx)
}

func (h *HttpServer) newHandler() *rpc.Router {
	rpc.GET("/stats", h.Stats, rpc.OptArgsQuery())
	rpc.GET("/metrics", h.Metrics)
	rpc.GET("/routing/chunks", h.RoutingChunks, rpc.OptArgsQuery())
	rpc.GET("/routing/version", h.RoutingVersion, rpc.OptArgsQuery())
	rpc.GET("/routing/nodes", h.RoutingNodes, rpc.OptArgsQuery())

	return rpc.DefaultRouter
}

func (h *HttpServer) Stats(c *rpc.Context) {
	c.RespondStatus(http.StatusOK)
}

func (h *HttpServer) Metrics(c *rpc.Context) {
	promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}).ServeHTTP(c.Writer, c.Request)
}

type listChunksArgs struct {
	Collection string `json:"collection"`
	Offset     int    `json:"offset"`
	Limit      int    `json:"limit"`
}

type listChunksRet struct {
	Chunks []proto.ChunkInfo `json:"chunks"`
	Total  int               `json:"total"`
}

func (h *HttpServer) RoutingChunks(c *rpc.Context) {
	args := new(listChunksArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	if args.Limit <= 0 || args.Limit > maxListNum {
		args.Limit = maxListNum
	}

	ctx := c.Request.Context()
	table, err := h.catalog.GetTable(ctx, args.Collection)
	if err != nil {
		c.RespondError(httpError(err))
		return
	}
	chunks, total, err := table.ListChunks(args.Offset, args.Limit)
	if err != nil {
		c.RespondError(httpError(err))
		return
	}
	c.RespondJSON(&listChunksRet{Chunks: chunks, Total: total})
}

type versionArgs struct {
	Collection string `json:"collection"`
}

type versionRet struct {
	Sequence proto.SequenceNum  `json:"sequence"`
	Version  proto.ChunkVersion `json:"version"`
}

func (h *HttpServer) RoutingVersion(c *rpc.Context) {
	args := new(versionArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}

	table, err := h.catalog.GetTable(c.Request.Context(), args.Collection)
	if err != nil {
		c.RespondError(httpError(err))
		return
	}
	seq, version := table.Version()
	c.RespondJSON(&versionRet{Sequence: seq, Version: version})
}

type routingNodesArgs struct {
	Collection string `json:"collection"`
	// Key is a json-encoded shard key value.
	Key       string `json:"key"`
	Collation string `json:"collation"`
}

type routingNodesRet struct {
	Node  proto.NodeID    `json:"node"`
	Chunk proto.ChunkInfo `json:"chunk"`
}

func (h *HttpServer) RoutingNodes(c *rpc.Context) {
	args := new(routingNodesArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	key := proto.ShardKey{}
	if err := json.Unmarshal([]byte(args.Key), &key); err != nil {
		c.RespondError(rpc.NewError(http.StatusBadRequest, "BadRequest", err))
		return
	}

	ctx := c.Request.Context()
	table, err := h.catalog.GetTable(ctx, args.Collection)
	if err != nil {
		c.RespondError(httpError(err))
		return
	}
	chunk, err := table.FindIntersectingChunk(ctx, key, args.Collation)
	if err != nil {
		metrics.RoutingLookups.WithLabelValues(args.Collection, "miss").Inc()
		c.RespondError(httpError(err))
		return
	}
	metrics.RoutingLookups.WithLabelValues(args.Collection, "hit").Inc()
	c.RespondJSON(&routingNodesRet{Node: chunk.Node(), Chunk: chunk.Info()})
}

func httpError(err error) error {
	switch {
	case errors.Is(err, apierrors.ErrInvalidShardKey),
		errors.Is(err, apierrors.ErrOffsetOutOfRange):
		return rpc.NewError(http.StatusBadRequest, "BadRequest", err)
	case errors.Is(err, apierrors.ErrCollectionNotFound),
		errors.Is(err, apierrors.ErrKeyNotFound),
		errors.Is(err, apierrors.ErrNodeNotFound):
		return rpc.NewError(http.StatusNotFound, "NotFound", err)
	case errors.Is(err, apierrors.ErrEpochMismatch),
		errors.Is(err, apierrors.ErrStaleRouteVersion):
		return rpc.NewError(http.StatusConflict, "Conflict", err)
	default:
		return rpc.NewError(http.StatusInternalServerError, "InternalError", err)
	}
}
