// Copyright 2023 The RouteDB Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package server

import (
	"context"

	"github.com/cubefs/cubefs/blobstore/common/rpc/auditlog"
	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/routedb/routedb/catalog"
	"github.com/routedb/routedb/cluster"
)

type Config struct {
	CatalogConfig catalog.Config  `json:"catalog"`
	ClusterConfig cluster.Config  `json:"cluster"`
	AuditLog      auditlog.Config `json:"audit_log"`
}

// Server ties the routing tier together: the catalog keeping per-collection
// routing tables fresh, and the registry holding connections to the nodes
// lookups resolve to.
type Server struct {
	catalog  *catalog.Catalog
	registry *cluster.Registry

	auditConfig   auditlog.Config
	auditRecorder auditlog.LogCloser
}

func NewServer(ctx context.Context, cfg *Config) *Server {
	span := trace.SpanFromContextSafe(ctx)

	registry, err := cluster.NewRegistry(ctx, &cfg.ClusterConfig)
	if err != nil {
		span.Fatalf("new node registry failed: %s", err)
	}

	return &Server{
		catalog:     catalog.NewCatalog(ctx, &cfg.CatalogConfig),
		registry:    registry,
		auditConfig: cfg.AuditLog,
	}
}

func (s *Server) Catalog() *catalog.Catalog {
	return s.catalog
}

func (s *Server) Registry() *cluster.Registry {
	return s.registry
}

func (s *Server) Stop() {
	s.catalog.Close()
	s.registry.Close()
	if s.auditRecorder != nil {
		s.auditRecorder.Close()
	}
}
