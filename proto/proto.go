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

type (
	NodeID = uint32
	// SequenceNum identifies one published routing table: it advances
	// whenever the set of owned ranges changes.
	SequenceNum = uint64
)

const (
	// CollationSimple is the byte-wise collation. Shard keys are only
	// point-targetable under the simple collation.
	CollationSimple = "simple"
)
