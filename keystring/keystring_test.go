package keystring

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	apierrors "github.com/routedb/routedb/errors"
	"github.com/routedb/routedb/proto"
)

func ascPattern(names ...string) proto.ShardKeyPattern {
	p := proto.ShardKeyPattern{}
	for _, n := range names {
		p.Fields = append(p.Fields, proto.KeyField{Name: n, Asc: true})
	}
	return p
}

func key(values ...proto.FieldValue) proto.ShardKey {
	names := []string{"a", "b", "c"}
	k := make(proto.ShardKey, len(values))
	for i, v := range values {
		k[i] = proto.Field{Name: names[i], Value: v}
	}
	return k
}

func TestEncodeOrderPreservingSingleField(t *testing.T) {
	pattern := ascPattern("a")

	// Ordered strictly ascending under the shard-key total order.
	ordered := []proto.FieldValue{
		proto.MinKeyValue(),
		proto.NullValue(),
		proto.NumberValue(-1e18),
		proto.NumberValue(-2.5),
		proto.NumberValue(0),
		proto.Int64Value(3),
		proto.NumberValue(3.5),
		proto.NumberValue(1e18),
		proto.StringValue(""),
		proto.StringValue("a"),
		proto.StringValue("a\x00"),
		proto.StringValue("a\x00b"),
		proto.StringValue("ab"),
		proto.StringValue("b"),
		proto.BytesValue(nil),
		proto.BytesValue([]byte{0x00}),
		proto.BytesValue([]byte{0x01}),
		proto.BoolValue(false),
		proto.BoolValue(true),
		proto.MaxKeyValue(),
	}

	var prev []byte
	for i, v := range ordered {
		enc, err := Encode(pattern, key(v))
		require.NoError(t, err)
		if i > 0 {
			require.Negative(t, bytes.Compare(prev, enc),
				"expected %s < %s", ordered[i-1], v)
		}
		prev = enc
	}
}

func TestEncodeDescendingField(t *testing.T) {
	pattern := proto.ShardKeyPattern{Fields: []proto.KeyField{{Name: "a", Asc: false}}}

	low, err := Encode(pattern, key(proto.NumberValue(10)))
	require.NoError(t, err)
	high, err := Encode(pattern, key(proto.NumberValue(2)))
	require.NoError(t, err)
	require.Negative(t, bytes.Compare(low, high))

	// Sentinels still bracket everything under a descending field.
	min, err := Encode(pattern, key(proto.MaxKeyValue()))
	require.NoError(t, err)
	max, err := Encode(pattern, key(proto.MinKeyValue()))
	require.NoError(t, err)
	require.Negative(t, bytes.Compare(min, low))
	require.Negative(t, bytes.Compare(high, max))
}

func TestEncodeCompoundKey(t *testing.T) {
	pattern := ascPattern("a", "b")

	pairs := [][2]proto.FieldValue{
		{proto.MinKeyValue(), proto.MinKeyValue()},
		{proto.NumberValue(1), proto.NumberValue(1)},
		{proto.NumberValue(1), proto.NumberValue(2)},
		{proto.NumberValue(1), proto.StringValue("x")},
		{proto.NumberValue(2), proto.MinKeyValue()},
		{proto.StringValue("a"), proto.NumberValue(-5)},
		{proto.MaxKeyValue(), proto.MaxKeyValue()},
	}

	var prev []byte
	for i, p := range pairs {
		enc, err := Encode(pattern, key(p[0], p[1]))
		require.NoError(t, err)
		if i > 0 {
			require.Negative(t, bytes.Compare(prev, enc))
		}
		prev = enc
	}
}

func TestEncodePrefixNotAmbiguous(t *testing.T) {
	pattern := ascPattern("a", "b")

	// {"a", 1} must sort before {"a\x00...", <anything>}: the terminator
	// keeps a string prefix apart from its extensions.
	first, err := Encode(pattern, key(proto.StringValue("a"), proto.MaxKeyValue()))
	require.NoError(t, err)
	second, err := Encode(pattern, key(proto.StringValue("a\x00"), proto.MinKeyValue()))
	require.NoError(t, err)
	require.Negative(t, bytes.Compare(first, second))
}

func TestEncodeInvalidShardKey(t *testing.T) {
	pattern := ascPattern("a", "b")

	_, err := Encode(pattern, key(proto.NumberValue(1)))
	require.ErrorIs(t, err, apierrors.ErrInvalidShardKey)

	wrongName := proto.ShardKey{
		{Name: "a", Value: proto.NumberValue(1)},
		{Name: "z", Value: proto.NumberValue(2)},
	}
	_, err = Encode(pattern, wrongName)
	require.ErrorIs(t, err, apierrors.ErrInvalidShardKey)
}

func TestAppendEncodeReusesBuffer(t *testing.T) {
	pattern := ascPattern("a")
	buf := make([]byte, 0, 64)

	enc, err := AppendEncode(buf, pattern, key(proto.NumberValue(7)))
	require.NoError(t, err)
	require.Equal(t, cap(buf), cap(enc))

	direct, err := Encode(pattern, key(proto.NumberValue(7)))
	require.NoError(t, err)
	require.Equal(t, direct, enc)
}
