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

package errors

import "errors"

var (
	// ErrInvalidShardKey marks a malformed shard-key value: wrong field
	// count or wrong field names for the collection's key pattern.
	ErrInvalidShardKey = errors.New("invalid shard key value")

	// ErrKeyNotFound means the key cannot be targeted to a single chunk:
	// no chunk covers it, or a collation-sensitive value is looked up under
	// a non-simple collation. With an intact routing table the first case
	// cannot happen; callers treat it as a stale-routing signal and refresh
	// from the catalog.
	ErrKeyNotFound = errors.New("no chunk contains the shard key")

	// ErrEpochMismatch means incoming chunks belong to a different
	// incarnation of the collection and the table must be rebuilt, not
	// patched.
	ErrEpochMismatch = errors.New("chunk epoch differs from collection epoch")

	// ErrRoutingTableCorrupt means the chunk set does not cover the whole
	// key space. The table refuses to route until reloaded.
	ErrRoutingTableCorrupt = errors.New("routing table does not cover the key space")

	ErrOffsetOutOfRange = errors.New("chunk listing offset is beyond the table size")

	ErrCollectionNotFound = errors.New("collection does not exist")

	ErrNodeNotFound = errors.New("node not found")

	// ErrStaleRouteVersion means the catalog feed answered from behind the
	// version already applied, e.g. through a lagging replica. The refresh
	// is dropped; the current table keeps serving.
	ErrStaleRouteVersion = errors.New("catalog change feed is behind the routing table")
)
