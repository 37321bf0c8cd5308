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

// Package keystring encodes shard-key values into order-preserving byte
// strings: for any two keys a and b under the same pattern,
// bytes.Compare(Encode(a), Encode(b)) agrees with the shard-key ordering.
// Field names are stripped; only field order and values matter.
package keystring

import (
	"encoding/binary"
	"math"

	apierrors "github.com/routedb/routedb/errors"
	"github.com/routedb/routedb/proto"
	"github.com/routedb/routedb/util"
)

// Field payload escaping for string and bytes values: 0x00 inside the
// payload becomes 0x00 0x01, and 0x00 0x00 terminates the payload. This
// keeps prefixes ordered before their extensions.
const (
	escape     byte = 0x00
	escaped00  byte = 0x01
	terminator byte = 0x00
)

const boolFalse, boolTrue byte = 0x00, 0x01

// AppendEncode appends the encoding of key to dst and returns the extended
// buffer. The key must carry exactly the pattern's fields in order;
// otherwise ErrInvalidShardKey.
func AppendEncode(dst []byte, pattern proto.ShardKeyPattern, key proto.ShardKey) ([]byte, error) {
	if !pattern.Matches(key) {
		return dst, apierrors.ErrInvalidShardKey
	}
	for i, f := range key {
		if pattern.Fields[i].Asc {
			dst = appendField(dst, f.Value)
			continue
		}
		// Descending fields invert every encoded byte, which inverts the
		// byte-wise order of the field.
		mark := len(dst)
		dst = appendField(dst, f.Value)
		for j := mark; j < len(dst); j++ {
			dst[j] = ^dst[j]
		}
	}
	return dst, nil
}

// Encode is AppendEncode into a fresh buffer.
func Encode(pattern proto.ShardKeyPattern, key proto.ShardKey) ([]byte, error) {
	return AppendEncode(make([]byte, 0, 16*len(key)), pattern, key)
}

func appendField(dst []byte, v proto.FieldValue) []byte {
	dst = append(dst, byte(v.Type))
	switch v.Type {
	case proto.TypeNumber:
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], orderedFloatBits(v.Num))
		dst = append(dst, buf[:]...)
	case proto.TypeString:
		dst = appendEscaped(dst, util.StringsToBytes(v.Str))
	case proto.TypeBytes:
		dst = appendEscaped(dst, v.Raw)
	case proto.TypeBool:
		if v.Bool {
			dst = append(dst, boolTrue)
		} else {
			dst = append(dst, boolFalse)
		}
	}
	// MinKey, MaxKey and Null carry no payload; the type tag orders them.
	return dst
}

func appendEscaped(dst, payload []byte) []byte {
	for _, b := range payload {
		if b == escape {
			dst = append(dst, escape, escaped00)
			continue
		}
		dst = append(dst, b)
	}
	return append(dst, escape, terminator)
}

// orderedFloatBits maps a float64 onto a uint64 whose unsigned order equals
// the float order: non-negative values get the sign bit set, negative values
// get every bit flipped. NaN is forced onto a single canonical encoding that
// sorts below every number.
func orderedFloatBits(f float64) uint64 {
	if math.IsNaN(f) {
		return 0
	}
	u := math.Float64bits(f)
	if u&(1<<63) != 0 {
		return ^u
	}
	return u | (1 << 63)
}
