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

// BoundsNodeKind tags the shapes of the index-bound tree the upstream
// predicate compiler produces.
type BoundsNodeKind uint8

const (
	// BoundsScan is a leaf carrying per-field interval bounds.
	BoundsScan BoundsNodeKind = iota + 1
	// BoundsFilter is a single-child wrapper stage; its bounds are its
	// child's bounds.
	BoundsFilter
	// BoundsMerge is a disjunction: the union of its children's bounds.
	BoundsMerge
)

// Interval is one [Start, End] interval over a single shard-key field, with
// inclusive or exclusive endpoints.
type Interval struct {
	Start          FieldValue `json:"start"`
	End            FieldValue `json:"end"`
	StartInclusive bool       `json:"start_inclusive"`
	EndInclusive   bool       `json:"end_inclusive"`
}

// IsPoint reports whether the interval matches exactly one value.
func (iv Interval) IsPoint() bool {
	return iv.StartInclusive && iv.EndInclusive && CompareValues(iv.Start, iv.End) == 0
}

// FieldBounds is the ordered interval list for one shard-key field.
type FieldBounds struct {
	Field     string     `json:"field"`
	Intervals []Interval `json:"intervals"`
}

// BoundsNode is one node of the index-bound tree. The predicate compiler
// guarantees leaf bounds cover the shard-key fields in pattern order.
// FullText marks a predicate containing a full-text operator, which cannot
// be expressed as shard-key intervals at all.
type BoundsNode struct {
	Kind     BoundsNodeKind `json:"kind"`
	FullText bool           `json:"full_text,omitempty"`
	Bounds   []FieldBounds  `json:"bounds,omitempty"`
	Children []*BoundsNode  `json:"children,omitempty"`
}

// HasFullText reports whether any node of the tree is marked full-text.
func (n *BoundsNode) HasFullText() bool {
	if n == nil {
		return false
	}
	if n.FullText {
		return true
	}
	for _, c := range n.Children {
		if c.HasFullText() {
			return true
		}
	}
	return false
}
