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

package proto

import (
	"fmt"

	"github.com/google/uuid"
)

// ChunkVersion is the monotonically comparable version of a chunk. Versions
// are only comparable within one epoch; an epoch change means the collection
// was dropped and recreated.
type ChunkVersion struct {
	Major uint64    `json:"major"`
	Minor uint64    `json:"minor"`
	Epoch uuid.UUID `json:"epoch"`
}

func NewChunkVersion(major, minor uint64, epoch uuid.UUID) ChunkVersion {
	return ChunkVersion{Major: major, Minor: minor, Epoch: epoch}
}

func (v ChunkVersion) SameEpoch(o ChunkVersion) bool {
	return v.Epoch == o.Epoch
}

// Less orders versions of the same epoch by (major, minor).
func (v ChunkVersion) Less(o ChunkVersion) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	return v.Minor < o.Minor
}

func (v ChunkVersion) Equal(o ChunkVersion) bool {
	return v.Major == o.Major && v.Minor == o.Minor && v.Epoch == o.Epoch
}

// IsSet reports whether the version carries any applied change.
func (v ChunkVersion) IsSet() bool {
	return v.Major != 0 || v.Minor != 0
}

func (v ChunkVersion) String() string {
	return fmt.Sprintf("%d|%d||%s", v.Major, v.Minor, v.Epoch)
}

// ChunkInfo is the raw chunk descriptor as delivered by the catalog feed:
// a [Min, Max) slice of the key space, its owning node and its version.
type ChunkInfo struct {
	Min     ShardKey     `json:"min"`
	Max     ShardKey     `json:"max"`
	Node    NodeID       `json:"node"`
	Version ChunkVersion `json:"version"`
}

// CollectionMeta is the collection-level routing metadata delivered
// alongside chunk descriptors.
type CollectionMeta struct {
	Name             string          `json:"name"`
	KeyPattern       ShardKeyPattern `json:"key_pattern"`
	DefaultCollation string          `json:"default_collation,omitempty"`
	Unique           bool            `json:"unique"`
	Epoch            uuid.UUID       `json:"epoch"`
	// Nodes is the cluster membership known to the catalog. Routing keeps it
	// so that an empty table can still name a safe default target.
	Nodes []NodeID `json:"nodes,omitempty"`
}

// GetCatalogChangesRequest asks the catalog for every chunk that changed
// since the given version. A zero Since requests the full chunk list.
type GetCatalogChangesRequest struct {
	Collection string       `json:"collection"`
	Since      ChunkVersion `json:"since"`
}

// GetCatalogChangesResponse carries the changed chunk descriptors, strictly
// ordered by version and tagged with the collection epoch.
type GetCatalogChangesResponse struct {
	Meta   CollectionMeta `json:"meta"`
	Chunks []ChunkInfo    `json:"chunks"`
}
