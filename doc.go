/*
 *
 * Copyright 2023 RouteDB authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

/*

# RouteDB: the routing tier for range-sharded collections

RouteDB answers one question under heavy concurrent read traffic: which
cluster node owns this shard key, or this query?

## Data Model

* Collection, a key space partitioned by a shard-key pattern.

* Chunk, a contiguous [min, max) slice of a collection's key space, owned
  by exactly one node and stamped with a version.

* Epoch, the incarnation of a collection. Versions only compare within one
  epoch; a new epoch means the collection was dropped and recreated.

* Routing table, the full chunk set of one collection, ordered by the
  encoded max key, covering the key space with no gaps or overlaps.

## Architecture

* keystring - order-preserving shard-key encoding

* routing - the routing table: point/range/query lookups, copy-on-write
  and in-place update strategies, per-node version index

* catalog - keeps one routing table per collection fresh from the catalog
  change feed

* cluster - node registry, resolving node ids to live gRPC connections

* server - diagnostic HTTP endpoints over the routing state

## Building Blocks

* gRPC
* ZooKeeper
* Prometheus

*/

package routedb
