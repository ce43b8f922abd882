package fragment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJoinToOneEncodeDecodeRoundTrip(t *testing.T) {
	b := NewJoinToOneBuilder(7)
	b.InsertOne(3, 30)
	b.InsertOne(1, 10)
	j, err := b.Build()
	require.NoError(t, err)

	v, ok := j.GetOne(1)
	require.True(t, ok)
	require.Equal(t, uint32(10), v)
	v, ok = j.GetOne(3)
	require.True(t, ok)
	require.Equal(t, uint32(30), v)
	_, ok = j.GetOne(2)
	require.False(t, ok)

	enc, err := j.Encode()
	require.NoError(t, err)
	decoded, err := DecodeJoin(enc)
	require.NoError(t, err)
	require.Equal(t, JoinToOne, decoded.Kind)
	require.Equal(t, FragmentID(7), decoded.TargetID)
	v, ok = decoded.GetOne(3)
	require.True(t, ok)
	require.Equal(t, uint32(30), v)
}

func TestJoinToManyEncodeDecodeRoundTrip(t *testing.T) {
	b := NewJoinToManyBuilder(9)
	b.InsertMany(1, 11)
	b.InsertMany(1, 12)
	b.InsertMany(4, 40)
	j, err := b.Build()
	require.NoError(t, err)

	bm, ok := j.GetMany(1)
	require.True(t, ok)
	require.True(t, bm.Contains(11))
	require.True(t, bm.Contains(12))

	enc, err := j.Encode()
	require.NoError(t, err)
	decoded, err := DecodeJoin(enc)
	require.NoError(t, err)
	bm2, ok := decoded.GetMany(4)
	require.True(t, ok)
	require.True(t, bm2.Contains(40))
}
