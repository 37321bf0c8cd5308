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
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ValueType orders the supported shard-key type classes. The numeric values
// participate directly in key ordering: a value of a lower type class sorts
// before every value of a higher one.
type ValueType uint8

const (
	TypeMinKey ValueType = iota + 1
	TypeNull
	TypeNumber
	TypeString
	TypeBytes
	TypeBool
	TypeMaxKey
)

func (t ValueType) String() string {
	switch t {
	case TypeMinKey:
		return "minKey"
	case TypeNull:
		return "null"
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	case TypeBytes:
		return "bytes"
	case TypeBool:
		return "bool"
	case TypeMaxKey:
		return "maxKey"
	default:
		return fmt.Sprintf("valueType(%d)", uint8(t))
	}
}

func valueTypeFromString(s string) (ValueType, error) {
	for t := TypeMinKey; t <= TypeMaxKey; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown value type %q", s)
}

// FieldValue is one shard-key field value, a tagged union over the supported
// type classes. Int64 and float64 documents share the Number class so that
// mixed numeric shard keys stay totally ordered.
type FieldValue struct {
	Type ValueType
	Num  float64
	Str  string
	Raw  []byte
	Bool bool
}

func MinKeyValue() FieldValue { return FieldValue{Type: TypeMinKey} }

func MaxKeyValue() FieldValue { return FieldValue{Type: TypeMaxKey} }

func NullValue() FieldValue { return FieldValue{Type: TypeNull} }

func NumberValue(f float64) FieldValue {
	return FieldValue{Type: TypeNumber, Num: f}
}

func Int64Value(i int64) FieldValue {
	return FieldValue{Type: TypeNumber, Num: float64(i)}
}

func StringValue(s string) FieldValue {
	return FieldValue{Type: TypeString, Str: s}
}

func BytesValue(b []byte) FieldValue {
	return FieldValue{Type: TypeBytes, Raw: b}
}

func BoolValue(b bool) FieldValue {
	return FieldValue{Type: TypeBool, Bool: b}
}

// Collatable reports whether the value's ordering depends on a collation.
// Only string comparisons are collation sensitive.
func (v FieldValue) Collatable() bool {
	return v.Type == TypeString
}

func (v FieldValue) String() string {
	switch v.Type {
	case TypeNumber:
		return fmt.Sprintf("%v", v.Num)
	case TypeString:
		return fmt.Sprintf("%q", v.Str)
	case TypeBytes:
		return fmt.Sprintf("0x%x", v.Raw)
	case TypeBool:
		return fmt.Sprintf("%v", v.Bool)
	default:
		return v.Type.String()
	}
}

type fieldValueJSON struct {
	Type string   `json:"type"`
	Num  *float64 `json:"num,omitempty"`
	Str  *string  `json:"str,omitempty"`
	Raw  []byte   `json:"raw,omitempty"`
	Bool *bool    `json:"bool,omitempty"`
}

func (v FieldValue) MarshalJSON() ([]byte, error) {
	j := fieldValueJSON{Type: v.Type.String()}
	switch v.Type {
	case TypeNumber:
		j.Num = &v.Num
	case TypeString:
		j.Str = &v.Str
	case TypeBytes:
		j.Raw = v.Raw
	case TypeBool:
		j.Bool = &v.Bool
	}
	return json.Marshal(j)
}

func (v *FieldValue) UnmarshalJSON(data []byte) error {
	var j fieldValueJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	t, err := valueTypeFromString(j.Type)
	if err != nil {
		return err
	}
	*v = FieldValue{Type: t}
	switch t {
	case TypeNumber:
		if j.Num != nil {
			v.Num = *j.Num
		}
	case TypeString:
		if j.Str != nil {
			v.Str = *j.Str
		}
	case TypeBytes:
		v.Raw = j.Raw
	case TypeBool:
		if j.Bool != nil {
			v.Bool = *j.Bool
		}
	}
	return nil
}

// CompareValues orders two field values: first by type class, then by the
// per-type total order. Collation is not applied here; string values compare
// byte-wise (the simple collation).
func CompareValues(a, b FieldValue) int {
	if a.Type != b.Type {
		if a.Type < b.Type {
			return -1
		}
		return 1
	}
	switch a.Type {
	case TypeNumber:
		switch {
		case a.Num < b.Num:
			return -1
		case a.Num > b.Num:
			return 1
		}
	case TypeString:
		return strings.Compare(a.Str, b.Str)
	case TypeBytes:
		return bytes.Compare(a.Raw, b.Raw)
	case TypeBool:
		switch {
		case !a.Bool && b.Bool:
			return -1
		case a.Bool && !b.Bool:
			return 1
		}
	}
	return 0
}

// Field is one named shard-key field value.
type Field struct {
	Name  string     `json:"name"`
	Value FieldValue `json:"value"`
}

// ShardKey is a full shard-key value: one field per pattern field, in
// pattern order.
type ShardKey []Field

func (k ShardKey) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, f := range k {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s: %s", f.Name, f.Value)
	}
	sb.WriteByte('}')
	return sb.String()
}

// KeyField is one field of the shard-key pattern with its sort direction.
type KeyField struct {
	Name string `json:"name"`
	Asc  bool   `json:"asc"`
}

// ShardKeyPattern describes the fields a collection is partitioned by and
// the per-field sort direction.
type ShardKeyPattern struct {
	Fields []KeyField `json:"fields"`
}

// Matches reports whether key has exactly the pattern's fields, in order.
func (p ShardKeyPattern) Matches(key ShardKey) bool {
	if len(key) != len(p.Fields) {
		return false
	}
	for i := range key {
		if key[i].Name != p.Fields[i].Name {
			return false
		}
	}
	return true
}

// MinKey returns the sentinel key below every real key in the pattern's
// encoded order. Descending fields flip which sentinel sorts first.
func (p ShardKeyPattern) MinKey() ShardKey {
	key := make(ShardKey, len(p.Fields))
	for i, f := range p.Fields {
		if f.Asc {
			key[i] = Field{Name: f.Name, Value: MinKeyValue()}
		} else {
			key[i] = Field{Name: f.Name, Value: MaxKeyValue()}
		}
	}
	return key
}

// MaxKey returns the sentinel key above every real key in the pattern's
// encoded order.
func (p ShardKeyPattern) MaxKey() ShardKey {
	key := make(ShardKey, len(p.Fields))
	for i, f := range p.Fields {
		if f.Asc {
			key[i] = Field{Name: f.Name, Value: MaxKeyValue()}
		} else {
			key[i] = Field{Name: f.Name, Value: MinKeyValue()}
		}
	}
	return key
}
